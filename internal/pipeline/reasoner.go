package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	defaultPlanTimeout    = 60 * time.Second
	defaultQueryTimeout   = 30 * time.Second
	defaultInsightTimeout = 45 * time.Second
	defaultFormatTimeout  = 30 * time.Second

	maxSampleRows = 10
)

type ReasonerConfig struct {
	Logger  *slog.Logger
	Clock   clockwork.Clock
	LLM     LLMClient
	Prompts *Prompts

	// Optional with defaults.
	PlanTimeout    time.Duration
	QueryTimeout   time.Duration
	InsightTimeout time.Duration
	FormatTimeout  time.Duration
}

func (c *ReasonerConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.LLM == nil {
		return errors.New("LLM client is required")
	}
	if c.Prompts == nil {
		p, err := LoadPrompts()
		if err != nil {
			return fmt.Errorf("load prompts: %w", err)
		}
		c.Prompts = p
	}
	if c.PlanTimeout == 0 {
		c.PlanTimeout = defaultPlanTimeout
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = defaultQueryTimeout
	}
	if c.InsightTimeout == 0 {
		c.InsightTimeout = defaultInsightTimeout
	}
	if c.FormatTimeout == 0 {
		c.FormatTimeout = defaultFormatTimeout
	}
	return nil
}

// Reasoner sends the four role-scoped request shapes to the language model.
// Every method is total: any failure (transport, timeout, malformed JSON,
// cancellation) yields a deterministic fallback of the same shape.
type Reasoner struct {
	cfg ReasonerConfig
	log *slog.Logger
}

func NewReasoner(cfg ReasonerConfig) (*Reasoner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Reasoner{
		cfg: cfg,
		log: cfg.Logger.With("component", "reasoner"),
	}, nil
}

// GeneratePlan asks for the structured thinking process. The fallback plan
// carries generic steps and confidence 0.3.
func (r *Reasoner) GeneratePlan(ctx context.Context, question string, actx AnalysisContext, depth Depth) Plan {
	cctx, cancel := context.WithTimeout(ctx, r.cfg.PlanTimeout)
	defer cancel()

	userPrompt := r.buildPlanPrompt(question, actx, depth)
	reply, err := r.cfg.LLM.Complete(cctx, r.cfg.Prompts.Plan, userPrompt, WithTemperature(0.3))
	if err != nil {
		r.log.Warn("Plan generation failed, using fallback", "error", err)
		ReasonerFallbacksTotal.WithLabelValues("plan").Inc()
		return r.fallbackPlan(question)
	}

	var plan Plan
	if jsonStr := extractJSON(reply); jsonStr != "" {
		if err := json.Unmarshal([]byte(jsonStr), &plan); err == nil && plan.Intent != "" {
			plan.Confidence = clamp01(plan.Confidence)
			plan.CreatedAt = r.cfg.Clock.Now()
			return plan
		}
	}

	r.log.Warn("Plan reply was not valid JSON, using fallback")
	ReasonerFallbacksTotal.WithLabelValues("plan").Inc()
	return r.fallbackPlan(question)
}

func (r *Reasoner) fallbackPlan(question string) Plan {
	return Plan{
		Intent:         "Analyze: " + question,
		AnalysisPlan:   []string{"Retrieve data", "Analyze results", "Generate insights"},
		ContextSummary: "Limited context available",
		ReasoningSteps: []string{"Process user request", "Execute queries", "Format response"},
		Queries:        []string{},
		Confidence:     0.3,
		CreatedAt:      r.cfg.Clock.Now(),
	}
}

// GenerateQuery asks for an optimized query statement. On failure the result
// carries only Err; a missing PrimaryQuery means "no query produced".
func (r *Reasoner) GenerateQuery(ctx context.Context, request string, actx AnalysisContext) QueryGeneration {
	cctx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	defer cancel()

	userPrompt := r.buildQueryPrompt(request, actx)
	reply, err := r.cfg.LLM.Complete(cctx, r.cfg.Prompts.Query, userPrompt, WithMaxTokens(2000), WithTemperature(0.1))
	if err != nil {
		r.log.Warn("Query generation failed", "error", err)
		ReasonerFallbacksTotal.WithLabelValues("query").Inc()
		return QueryGeneration{Err: fmt.Sprintf("query generation failed: %v", err)}
	}

	var gen QueryGeneration
	jsonStr := extractJSON(reply)
	if jsonStr == "" {
		return QueryGeneration{Err: "query generation returned no JSON"}
	}
	if err := json.Unmarshal([]byte(jsonStr), &gen); err != nil {
		return QueryGeneration{Err: fmt.Sprintf("query generation returned malformed JSON: %v", err)}
	}
	gen.Confidence = clamp01(gen.Confidence)
	return gen
}

// ExtractInsights analyzes result rows. Empty input short-circuits locally
// with the canned "no data" set; no remote call is made.
func (r *Reasoner) ExtractInsights(ctx context.Context, rows []map[string]any, actx AnalysisContext, plan Plan) InsightSet {
	if len(rows) == 0 {
		return NoDataInsights()
	}

	cctx, cancel := context.WithTimeout(ctx, r.cfg.InsightTimeout)
	defer cancel()

	userPrompt := r.buildInsightPrompt(rows, actx, plan)
	reply, err := r.cfg.LLM.Complete(cctx, r.cfg.Prompts.Insights, userPrompt, WithMaxTokens(3000), WithTemperature(0.4))
	if err != nil {
		r.log.Warn("Insight extraction failed", "error", err)
		ReasonerFallbacksTotal.WithLabelValues("insights").Inc()
		return InsightSet{Err: fmt.Sprintf("insight extraction failed: %v", err)}
	}

	var set InsightSet
	jsonStr := extractJSON(reply)
	if jsonStr == "" {
		return InsightSet{Err: "insight extraction returned no JSON"}
	}
	if err := json.Unmarshal([]byte(jsonStr), &set); err != nil {
		return InsightSet{Err: fmt.Sprintf("insight extraction returned malformed JSON: %v", err)}
	}
	return set
}

// NoDataInsights is the canned set for runs that produced no rows.
func NoDataInsights() InsightSet {
	return InsightSet{
		Insights:         []string{"No data available for analysis"},
		Recommendations:  []string{"Check data availability and query validity"},
		ConfidenceLevel:  "Low",
		ExecutiveSummary: "Analysis could not be completed due to lack of data",
	}
}

// FormatResponse asks for channel-ready prose. The fallback is a
// deterministic template built only from local fields, never empty.
func (r *Reasoner) FormatResponse(ctx context.Context, insights InsightSet, plan Plan) string {
	cctx, cancel := context.WithTimeout(ctx, r.cfg.FormatTimeout)
	defer cancel()

	userPrompt := r.buildFormatPrompt(insights, plan)
	reply, err := r.cfg.LLM.Complete(cctx, r.cfg.Prompts.Respond, userPrompt, WithMaxTokens(2000), WithTemperature(0.2))
	if err != nil || strings.TrimSpace(reply) == "" {
		if err != nil {
			r.log.Warn("Response formatting failed, using template", "error", err)
			ReasonerFallbacksTotal.WithLabelValues("format").Inc()
		}
		return FallbackResponse(insights, plan)
	}
	return strings.TrimSpace(reply)
}

// FallbackResponse renders the local template used whenever the formatting
// call degrades.
func FallbackResponse(insights InsightSet, plan Plan) string {
	var b strings.Builder
	b.WriteString("📊 **Analysis Results**\n\n")
	fmt.Fprintf(&b, "**Intent**: %s\n", plan.Intent)
	fmt.Fprintf(&b, "**Confidence**: %.0f%%\n", plan.Confidence*100)

	if len(insights.Insights) > 0 {
		b.WriteString("\n**💡 Key Insights:**\n")
		for _, in := range firstN(insights.Insights, 3) {
			fmt.Fprintf(&b, "• %s\n", in)
		}
	}
	if len(insights.Recommendations) > 0 {
		b.WriteString("\n**📈 Recommendations:**\n")
		for _, rec := range firstN(insights.Recommendations, 2) {
			fmt.Fprintf(&b, "• %s\n", rec)
		}
	}
	if insights.ExecutiveSummary != "" {
		fmt.Fprintf(&b, "\n**Summary**: %s\n", insights.ExecutiveSummary)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Reasoner) buildPlanPrompt(question string, actx AnalysisContext, depth Depth) string {
	var datasets, collections []string
	for _, ds := range actx.Datasets {
		datasets = append(datasets, ds.Name)
	}
	for _, col := range actx.Collections {
		collections = append(collections, col.Name)
	}

	return fmt.Sprintf(`Analyze this business question and create a structured thinking process:

USER QUESTION: %q

ANALYSIS DEPTH: %s

AVAILABLE CONTEXT:
- Collections: %s
- Datasets: %s
- Time context: %s
- Business domain: %s
- Complexity estimate: %s

Create a comprehensive analysis plan with reasoning steps and potential query statements.`,
		question, depth,
		strings.Join(collections, ", "), strings.Join(datasets, ", "),
		actx.Time.CurrentQuarter, actx.Domain, actx.Complexity)
}

func (r *Reasoner) buildQueryPrompt(request string, actx AnalysisContext) string {
	var tables []string
	for _, te := range actx.Schema {
		tables = append(tables, fmt.Sprintf("%s (collection %s, ~%d tables)", te.Dataset, te.Collection, te.EstimatedTables))
	}
	return fmt.Sprintf(`Generate an optimized query statement for this business requirement:

REQUEST: %s

SCHEMA CONTEXT:
Tables: %s
Intent: %s
Business domain: %s

Create an efficient query that follows best practices and optimizes performance.`,
		request, strings.Join(tables, "; "), actx.Intent, actx.Domain)
}

func (r *Reasoner) buildInsightPrompt(rows []map[string]any, actx AnalysisContext, plan Plan) string {
	sample := rows
	if len(sample) > maxSampleRows {
		sample = sample[:maxSampleRows]
	}
	sampleJSON, err := json.MarshalIndent(sample, "", "  ")
	if err != nil {
		sampleJSON = []byte("[]")
	}
	return fmt.Sprintf(`Analyze these query results and extract business insights:

QUERY RESULTS (sample):
%s

TOTAL ROWS: %d

BUSINESS CONTEXT:
Question intent: %s
Domain: %s
Time period: %s

Provide actionable business insights and recommendations.`,
		sampleJSON, len(rows), plan.Intent, actx.Domain, actx.Time.CurrentQuarter)
}

func (r *Reasoner) buildFormatPrompt(insights InsightSet, plan Plan) string {
	insightsJSON, err := json.MarshalIndent(insights, "", "  ")
	if err != nil {
		insightsJSON = []byte("{}")
	}
	return fmt.Sprintf(`Format this analysis into a professional chat response:

ANALYSIS RESULTS:
%s

USER INTENT: %s
CONFIDENCE: %.2f

Create an engaging, professional response suitable for business stakeholders.`,
		insightsJSON, plan.Intent, plan.Confidence)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func firstN[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}
