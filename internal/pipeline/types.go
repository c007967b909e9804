package pipeline

import (
	"time"

	"github.com/meridianhq/meridian/internal/catalog"
)

// Depth selects how thorough the reasoning pass should be. Unknown values
// parse to DepthStandard.
type Depth string

const (
	DepthStandard  Depth = "standard"
	DepthDeep      Depth = "deep"
	DepthExtensive Depth = "extensive"
)

// ParseDepth maps free-form input onto a known depth, defaulting to standard.
func ParseDepth(s string) Depth {
	switch Depth(s) {
	case DepthDeep:
		return DepthDeep
	case DepthExtensive:
		return DepthExtensive
	default:
		return DepthStandard
	}
}

// Plan is the model's internal breakdown of how to answer a question. It is
// produced whole by one reasoning call (or its fallback); after creation only
// the engine touches it, rescaling Confidence and appending reasoning notes.
type Plan struct {
	Intent         string    `json:"user_intent"`
	AnalysisPlan   []string  `json:"analysis_plan"`
	ContextSummary string    `json:"context_summary"`
	ReasoningSteps []string  `json:"reasoning_steps"`
	Queries        []string  `json:"queries"`
	Confidence     float64   `json:"confidence_score"`
	CreatedAt      time.Time `json:"created_at"`
}

// TimeContext carries the calendar labels the reasoning prompts and fallback
// queries refer to.
type TimeContext struct {
	CurrentDate      string   `json:"current_date"`
	CurrentQuarter   string   `json:"current_quarter"`
	CurrentMonth     string   `json:"current_month"`
	CurrentYear      string   `json:"current_year"`
	PreviousQuarter  string   `json:"previous_quarter"`
	PreviousMonth    string   `json:"previous_month"`
	YTDStart         string   `json:"ytd_start"`
	SuggestedPeriods []string `json:"suggested_periods"`
}

// TableEstimate is a heuristic table-count guess for one dataset. No live
// schema introspection happens at this layer.
type TableEstimate struct {
	Dataset         string `json:"dataset"`
	Collection      string `json:"collection"`
	EstimatedTables int    `json:"estimated_tables"`
}

// AnalysisContext is the business-context bundle assembled fresh for each
// question.
type AnalysisContext struct {
	Question string `json:"question"`
	Intent   string `json:"intent"`

	Collections []catalog.Collection `json:"-"`
	Datasets    []catalog.Dataset    `json:"datasets"`
	Schema      []TableEstimate      `json:"schema_summary"`

	RecentQuestions []string       `json:"recent_questions"`
	IntentCounts    map[string]int `json:"intent_counts"`

	Time             TimeContext `json:"time_context"`
	Domain           string      `json:"business_domain"`
	BusinessRules    []string    `json:"business_rules"`
	Complexity       string      `json:"complexity"`
	PerformanceHints []string    `json:"performance_hints"`
}

// QueryGeneration is the structured reply of the query-generation call. A
// missing PrimaryQuery means no query was produced; Err carries the failure
// reason when the call degraded.
type QueryGeneration struct {
	PrimaryQuery         string   `json:"primary_query"`
	Alternatives         []string `json:"alternative_queries"`
	Explanation          string   `json:"explanation"`
	EstimatedPerformance string   `json:"estimated_performance"`
	RequiredTables       []string `json:"required_tables"`
	Confidence           float64  `json:"confidence"`
	Err                  string   `json:"error,omitempty"`
}

// InsightSet is the structured reply of the insight-extraction call, or its
// deterministic fallback.
type InsightSet struct {
	Insights         []string `json:"key_insights"`
	Trends           []string `json:"trends_identified"`
	Recommendations  []string `json:"recommendations"`
	DataQualityNotes []string `json:"data_quality_notes"`
	ConfidenceLevel  string   `json:"confidence_level"`
	ExecutiveSummary string   `json:"executive_summary"`
	Err              string   `json:"error,omitempty"`
}

// AnalysisResult is the terminal outcome of one pipeline run. It is built in
// a local accumulator inside Analyze and frozen here on every path, the error
// path included.
type AnalysisResult struct {
	Plan     Plan   `json:"-"`
	Response string `json:"response"`

	QueryResults []catalog.QueryResult `json:"query_results,omitempty"`
	Data         []map[string]any      `json:"data,omitempty"`
	Insights     InsightSet            `json:"-"`

	Confidence   float64       `json:"confidence"`
	Elapsed      time.Duration `json:"-"`
	DatasetsUsed []string      `json:"datasets_used"`

	Success      bool     `json:"success"`
	ErrorMessage string   `json:"error,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

// ThinkingSummary is the public projection of a plan: channel adapters expose
// this instead of the full internal breakdown.
type ThinkingSummary struct {
	Intent         string  `json:"intent"`
	Confidence     float64 `json:"confidence"`
	StepsCompleted int     `json:"steps_completed"`
}

// Summary strips the plan internals down to the shape shared with callers.
func (r AnalysisResult) Summary() ThinkingSummary {
	return ThinkingSummary{
		Intent:         r.Plan.Intent,
		Confidence:     r.Plan.Confidence,
		StepsCompleted: len(r.Plan.ReasoningSteps),
	}
}

// Stats are the engine's process-local running counters.
type Stats struct {
	TotalAnalyses      int           `json:"total_analyses"`
	SuccessfulAnalyses int           `json:"successful_analyses"`
	SuccessRate        float64       `json:"success_rate"`
	AverageElapsed     time.Duration `json:"average_execution_time_ms"`
	TotalElapsed       time.Duration `json:"total_execution_time_ms"`
}
