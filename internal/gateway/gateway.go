// Package gateway is the facade the channel adapters (HTTP API, Slack bot,
// MCP server, CLI) call. It owns the public payload shapes; adapters only map
// them onto their transport.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/meridianhq/meridian/internal/pipeline"
)

// PublicResult is the outward shape of a full analysis run.
type PublicResult struct {
	Success         bool                     `json:"success"`
	Response        string                   `json:"response"`
	Confidence      float64                  `json:"confidence"`
	ExecutionTimeMS int64                    `json:"execution_time_ms"`
	DatasetsUsed    []string                 `json:"datasets_used"`
	RowCount        int                      `json:"row_count"`
	Warnings        []string                 `json:"warnings,omitempty"`
	Error           string                   `json:"error,omitempty"`
	Thinking        pipeline.ThinkingSummary `json:"thinking_summary"`

	// Set only by RunBusinessInsights.
	AnalysisType    string           `json:"analysis_type,omitempty"`
	BusinessContext *BusinessContext `json:"business_context,omitempty"`
}

// BusinessContext tags insight-focused analyses for downstream consumers.
type BusinessContext struct {
	Domain          string `json:"domain"`
	Focus           string `json:"focus"`
	DecisionSupport bool   `json:"decision_support"`
}

// ContextUsed summarizes what context fed a query generation.
type ContextUsed struct {
	Datasets   []string `json:"datasets"`
	Intent     string   `json:"intent"`
	Complexity string   `json:"complexity"`
}

// QueryGenResult is the outward shape of a smart query generation.
type QueryGenResult struct {
	Success      bool        `json:"success"`
	Query        string      `json:"query"`
	Alternatives []string    `json:"alternatives,omitempty"`
	Explanation  string      `json:"explanation,omitempty"`
	Confidence   float64     `json:"confidence"`
	ContextUsed  ContextUsed `json:"context_used"`
	Error        string      `json:"error,omitempty"`
}

// Status reports component readiness and running statistics.
type Status struct {
	AIEnabled        bool            `json:"ai_enabled"`
	CatalogConnected bool            `json:"catalog_connected"`
	ComponentsReady  map[string]bool `json:"components_ready"`
	Statistics       pipeline.Stats  `json:"statistics"`
}

// ErrLLMNotConfigured mirrors the pipeline sentinel for adapters that match
// on it.
var ErrLLMNotConfigured = pipeline.ErrLLMNotConfigured

type Config struct {
	Logger    *slog.Logger
	Engine    *pipeline.Engine
	Assembler *pipeline.Assembler
	Reasoner  *pipeline.Reasoner
	Catalog   pipeline.CatalogBrowser

	// AIEnabled is false when the reasoner runs on the disabled client.
	AIEnabled bool
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Engine == nil {
		return errors.New("engine is required")
	}
	if c.Assembler == nil {
		return errors.New("assembler is required")
	}
	if c.Reasoner == nil {
		return errors.New("reasoner is required")
	}
	return nil
}

// Service exposes the analysis operations to every channel adapter.
type Service struct {
	cfg Config
	log *slog.Logger
}

func NewService(cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Service{
		cfg: cfg,
		log: cfg.Logger.With("component", "gateway"),
	}, nil
}

// RunIntelligentAnalysis drives the full pipeline and projects the result
// into the public shape.
func (s *Service) RunIntelligentAnalysis(ctx context.Context, question, depth string) PublicResult {
	result := s.cfg.Engine.Analyze(ctx, question, pipeline.ParseDepth(depth))

	return PublicResult{
		Success:         result.Success,
		Response:        result.Response,
		Confidence:      result.Confidence,
		ExecutionTimeMS: result.Elapsed.Milliseconds(),
		DatasetsUsed:    result.DatasetsUsed,
		RowCount:        len(result.Data),
		Warnings:        result.Warnings,
		Error:           result.ErrorMessage,
		Thinking:        result.Summary(),
	}
}

// RunSmartQueryGeneration builds analysis context for the request and asks
// the reasoner for an optimized statement. An explicit dataset name steers
// the relevance scoring; "auto" (or empty) leaves detection alone.
func (s *Service) RunSmartQueryGeneration(ctx context.Context, request, datasetContext string) QueryGenResult {
	if !s.cfg.AIEnabled {
		return QueryGenResult{Success: false, Error: ErrLLMNotConfigured.Error()}
	}

	contextQuestion := request
	if dc := strings.TrimSpace(datasetContext); dc != "" && dc != "auto" {
		contextQuestion = request + " using " + dc
	}
	actx := s.cfg.Assembler.BuildContext(ctx, contextQuestion)

	used := ContextUsed{
		Datasets:   make([]string, 0, len(actx.Datasets)),
		Intent:     actx.Intent,
		Complexity: actx.Complexity,
	}
	for _, ds := range actx.Datasets {
		used.Datasets = append(used.Datasets, ds.Name)
	}

	gen := s.cfg.Reasoner.GenerateQuery(ctx, request, actx)
	if gen.Err != "" {
		return QueryGenResult{Success: false, Error: gen.Err, ContextUsed: used}
	}
	if gen.PrimaryQuery == "" {
		return QueryGenResult{Success: false, Error: "no query produced", ContextUsed: used}
	}

	return QueryGenResult{
		Success:      true,
		Query:        gen.PrimaryQuery,
		Alternatives: gen.Alternatives,
		Explanation:  gen.Explanation,
		Confidence:   gen.Confidence,
		ContextUsed:  used,
	}
}

// RunBusinessInsights is the insight-focused analysis: the same pipeline run
// tagged for decision support.
func (s *Service) RunBusinessInsights(ctx context.Context, question, depth string) PublicResult {
	result := s.RunIntelligentAnalysis(ctx, question, depth)
	if result.Success {
		result.AnalysisType = "business_insights"
		result.BusinessContext = &BusinessContext{
			Domain:          "Business Intelligence",
			Focus:           "Insights and Recommendations",
			DecisionSupport: true,
		}
	}
	return result
}

// Status reports which components are wired and the engine's counters.
func (s *Service) Status() Status {
	return Status{
		AIEnabled:        s.cfg.AIEnabled,
		CatalogConnected: s.cfg.Catalog != nil,
		ComponentsReady: map[string]bool{
			"catalog_client":   s.cfg.Catalog != nil,
			"context_assembly": s.cfg.Assembler != nil,
			"reasoning_engine": s.cfg.Engine != nil,
		},
		Statistics: s.cfg.Engine.Stats(),
	}
}
