package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/meridianhq/meridian/internal/catalog"
)

// QueryExecutor is the execution surface the engine needs from the catalog
// client. Failures come back inside the QueryResult.
type QueryExecutor interface {
	ExecuteQuery(ctx context.Context, datasetID, statement string) (catalog.QueryResult, error)
}

type EngineConfig struct {
	Logger    *slog.Logger
	Clock     clockwork.Clock
	Assembler *Assembler
	Reasoner  *Reasoner
	Executor  QueryExecutor

	// Heuristics falls back to DefaultHeuristics when zero-valued.
	Heuristics Heuristics
}

func (c *EngineConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Assembler == nil {
		return errors.New("assembler is required")
	}
	if c.Reasoner == nil {
		return errors.New("reasoner is required")
	}
	if c.Executor == nil {
		return errors.New("query executor is required")
	}
	if len(c.Heuristics.IntentBuckets) == 0 {
		c.Heuristics = DefaultHeuristics()
	}
	return nil
}

// Engine drives the five-stage pipeline: context, plan, execution, insights,
// response. It is the single catch boundary; Analyze returns a terminal
// AnalysisResult on every path and never panics past it.
type Engine struct {
	cfg EngineConfig
	log *slog.Logger

	statsMu      sync.Mutex
	analyses     int
	successes    int
	totalElapsed time.Duration
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Engine{
		cfg: cfg,
		log: cfg.Logger.With("component", "engine"),
	}, nil
}

// Analyze runs the full pipeline for one question.
func (e *Engine) Analyze(ctx context.Context, question string, depth Depth) (result AnalysisResult) {
	start := e.cfg.Clock.Now()

	defer func() {
		if rec := recover(); rec != nil {
			e.log.Error("Analysis panicked", "panic", rec)
			result = e.errorResult(question, fmt.Sprintf("internal error: %v", rec), e.cfg.Clock.Since(start))
		}
		e.recordRun(result.Success, result.Elapsed)
	}()

	e.log.Info("Starting analysis", "question", truncate(question, 50), "depth", depth)

	// Stage 1: context.
	actx := e.cfg.Assembler.BuildContext(ctx, question)

	// Stage 2: plan, then local enhancement.
	plan := e.cfg.Reasoner.GeneratePlan(ctx, question, actx, depth)
	plan = e.enhancePlan(plan, actx)

	// Stage 3: execution.
	queryResults, data, warnings := e.executePlan(ctx, plan, actx)

	// Stage 4: insights.
	insights := e.cfg.Reasoner.ExtractInsights(ctx, data, actx, plan)
	if insights.Err != "" {
		insights = basicInsights(len(data), len(actx.Datasets))
	}

	// Stage 5: response.
	response := e.cfg.Reasoner.FormatResponse(ctx, insights, plan)

	elapsed := e.cfg.Clock.Since(start)
	datasetsUsed := make([]string, 0, len(actx.Datasets))
	for _, ds := range actx.Datasets {
		datasetsUsed = append(datasetsUsed, ds.Name)
	}

	e.log.Info("Analysis completed", "elapsed", elapsed, "rows", len(data), "confidence", plan.Confidence)

	return AnalysisResult{
		Plan:         plan,
		Response:     response,
		QueryResults: queryResults,
		Data:         data,
		Insights:     insights,
		Confidence:   plan.Confidence,
		Elapsed:      elapsed,
		DatasetsUsed: datasetsUsed,
		Success:      true,
		Warnings:     warnings,
	}
}

// enhancePlan applies the local improvements: fallback-query synthesis when
// the plan came back empty-handed, confidence rescaling by context quality,
// and the high-complexity advisory.
func (e *Engine) enhancePlan(plan Plan, actx AnalysisContext) Plan {
	if len(plan.Queries) == 0 && len(actx.Datasets) > 0 {
		plan.Queries = e.synthesizeFallbackQueries(actx)
	}

	quality := contextQuality(actx)
	plan.Confidence = min(plan.Confidence*quality, 1.0)

	if actx.Complexity == "High" {
		plan.ReasoningSteps = append(plan.ReasoningSteps, "Consider query optimization due to high complexity")
	}
	return plan
}

// contextQuality builds the multiplier from additive bonuses over the 0.5
// base, capped at 1.0.
func contextQuality(actx AnalysisContext) float64 {
	quality := 0.5
	if len(actx.Datasets) > 0 {
		quality += 0.2
	}
	if len(actx.Datasets) > 1 {
		quality += 0.1
	}
	if len(actx.Schema) > 0 {
		quality += 0.1
	}
	if len(actx.BusinessRules) > 0 {
		quality += 0.1
	}
	return min(quality, 1.0)
}

// synthesizeFallbackQueries produces one exploratory statement from the
// per-intent templates. Column names come from the heuristics so schema
// assumptions stay overridable.
func (e *Engine) synthesizeFallbackQueries(actx AnalysisContext) []string {
	cols := e.cfg.Heuristics.FallbackColumns
	dataset := actx.Datasets[0].Name

	switch actx.Intent {
	case "sales_analysis":
		return []string{fmt.Sprintf(
			"EVALUATE TOPN(10, SUMMARIZE(%s, [%s], \"Total Sales\", SUM([%s])), [Total Sales], DESC)",
			dataset, cols.Product, cols.SalesAmount,
		)}
	case "trend_analysis":
		return []string{fmt.Sprintf(
			"EVALUATE SUMMARIZE(%s, [%s], \"Value\", SUM([%s]))",
			dataset, cols.Date, cols.Amount,
		)}
	default:
		return []string{fmt.Sprintf(
			"EVALUATE SUMMARIZE(%s, \"Row Count\", COUNTROWS(%s))",
			dataset, dataset,
		)}
	}
}

// executePlan runs every planned query against the top-relevance dataset in
// plan order. When nothing executed at all, one probe query describes the
// dataset so downstream stages still see a result.
func (e *Engine) executePlan(ctx context.Context, plan Plan, actx AnalysisContext) (results []catalog.QueryResult, data []map[string]any, warnings []string) {
	if len(actx.Datasets) == 0 {
		return nil, nil, nil
	}
	dataset := actx.Datasets[0]

	for i, statement := range plan.Queries {
		e.log.Debug("Executing planned query", "index", i+1, "total", len(plan.Queries))

		qr, err := e.cfg.Executor.ExecuteQuery(ctx, dataset.ID, statement)
		if err != nil {
			// The executor contract keeps failures inside the result; an
			// error here means no result could be built at all.
			qr = catalog.QueryResult{Success: false, Error: err.Error(), DatasetID: dataset.ID}
		}
		results = append(results, qr)

		if qr.Success {
			QueriesExecutedTotal.WithLabelValues("success").Inc()
			data = append(data, qr.Rows...)
		} else {
			QueriesExecutedTotal.WithLabelValues("failure").Inc()
			warnings = append(warnings, fmt.Sprintf("Query %d failed: %s", i+1, qr.Error))
		}
	}

	if len(results) == 0 {
		probe := fmt.Sprintf("EVALUATE ROW(\"Dataset\", %q, \"Collection\", %q)", dataset.Name, dataset.CollectionName)
		qr, err := e.cfg.Executor.ExecuteQuery(ctx, dataset.ID, probe)
		if err != nil {
			qr = catalog.QueryResult{Success: false, Error: err.Error(), DatasetID: dataset.ID}
		}
		results = append(results, qr)
		if qr.Success {
			QueriesExecutedTotal.WithLabelValues("success").Inc()
			data = append(data, qr.Rows...)
		} else {
			QueriesExecutedTotal.WithLabelValues("failure").Inc()
			warnings = append(warnings, "Fallback probe query failed: "+qr.Error)
		}
	}

	return results, data, warnings
}

// basicInsights reports row and dataset counts when insight extraction
// degraded.
func basicInsights(rows, datasets int) InsightSet {
	return InsightSet{
		Insights: []string{
			fmt.Sprintf("Retrieved %d records from the catalog service", rows),
			fmt.Sprintf("Data sourced from %d dataset(s)", datasets),
		},
		Recommendations: []string{
			"Review the data for patterns and trends",
			"Consider additional filters or time periods",
		},
		ConfidenceLevel:  "Medium",
		ExecutiveSummary: fmt.Sprintf("Basic analysis completed with %d data points", rows),
	}
}

// errorResult is the terminal shape for the catch boundary: degenerate plan,
// zero confidence, locally built explanation.
func (e *Engine) errorResult(question, errMsg string, elapsed time.Duration) AnalysisResult {
	return AnalysisResult{
		Plan: Plan{
			Intent:         question,
			AnalysisPlan:   []string{"Error occurred during analysis"},
			ContextSummary: "Analysis failed",
			ReasoningSteps: []string{"Error: " + errMsg},
			Queries:        []string{},
			Confidence:     0.0,
			CreatedAt:      e.cfg.Clock.Now(),
		},
		Response:     errorResponse(errMsg),
		Success:      false,
		ErrorMessage: errMsg,
		Elapsed:      elapsed,
	}
}

func errorResponse(errMsg string) string {
	return strings.Join([]string{
		"⚠️ **Analysis Error**",
		"",
		"I encountered an issue while analyzing your data:",
		"",
		"**Error**: " + errMsg,
		"",
		"**💡 Suggestions**:",
		"• Check your data connections",
		"• Verify dataset permissions",
		"• Try rephrasing your question",
		"• Contact your administrator if the issue persists",
		"",
		"I'm ready to help once the issue is resolved!",
	}, "\n")
}

func (e *Engine) recordRun(success bool, elapsed time.Duration) {
	status := "failure"
	if success {
		status = "success"
	}
	AnalysesTotal.WithLabelValues(status).Inc()
	AnalysisDuration.Observe(elapsed.Seconds())

	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.analyses++
	if success {
		e.successes++
	}
	e.totalElapsed += elapsed
}

// Stats returns the running counters since start or the last reset.
func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	s := Stats{
		TotalAnalyses:      e.analyses,
		SuccessfulAnalyses: e.successes,
		TotalElapsed:       e.totalElapsed,
	}
	if e.analyses > 0 {
		s.SuccessRate = float64(e.successes) / float64(e.analyses)
		s.AverageElapsed = e.totalElapsed / time.Duration(e.analyses)
	}
	return s
}

// ResetStats zeroes the running counters.
func (e *Engine) ResetStats() {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.analyses = 0
	e.successes = 0
	e.totalElapsed = 0
	e.log.Info("Engine statistics reset")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
