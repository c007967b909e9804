// Package format renders pipeline results into channel-ready markdown. It is
// shared by the HTTP API, the Slack bot, and the CLI; Slack-specific block
// conversion happens in the adapter, not here.
package format

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/jonboulle/clockwork"

	"github.com/meridianhq/meridian/internal/pipeline"
)

const (
	DefaultMaxInsights  = 5
	DefaultMaxTableRows = 10

	maxTableColumns = 4
	maxCellRunes    = 15
	truncatedRunes  = 12
)

// intentTitles overrides the plain snake_case expansion for the intents with
// a product name.
var intentTitles = map[string]string{
	"Sales Analysis":     "Sales Performance Analysis",
	"Customer Analysis":  "Customer Insights Analysis",
	"Product Analysis":   "Product Performance Analysis",
	"Financial Analysis": "Financial Performance Analysis",
	"Trend Analysis":     "Trend & Growth Analysis",
	"General Analysis":   "Business Intelligence Analysis",
}

type Options struct {
	UseEmojis               bool
	IncludeExecutiveSummary bool
	IncludeRecommendations  bool
	IncludeDataSummary      bool
	IncludeConfidence       bool
	MaxInsights             int
	MaxTableRows            int
}

// DefaultOptions mirrors the product defaults: everything on except the
// confidence line.
func DefaultOptions() Options {
	return Options{
		UseEmojis:               true,
		IncludeExecutiveSummary: true,
		IncludeRecommendations:  true,
		IncludeDataSummary:      true,
		IncludeConfidence:       false,
		MaxInsights:             DefaultMaxInsights,
		MaxTableRows:            DefaultMaxTableRows,
	}
}

type Config struct {
	Logger  *slog.Logger
	Clock   clockwork.Clock
	Options Options
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Options.MaxInsights == 0 {
		c.Options.MaxInsights = DefaultMaxInsights
	}
	if c.Options.MaxTableRows == 0 {
		c.Options.MaxTableRows = DefaultMaxTableRows
	}
	return nil
}

// Formatter builds the final user-facing message from an AnalysisResult.
// Formatting never fails outward: a panic inside section assembly degrades to
// the plain fallback summary.
type Formatter struct {
	cfg Config
	log *slog.Logger
}

func NewFormatter(cfg Config) (*Formatter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Formatter{
		cfg: cfg,
		log: cfg.Logger.With("component", "formatter"),
	}, nil
}

// FormatAnalysis renders the full sectioned response. Sections are
// independently omittable; non-empty sections are joined with blank lines.
func (f *Formatter) FormatAnalysis(result pipeline.AnalysisResult) (out string) {
	if !result.Success {
		return f.formatError(result)
	}

	defer func() {
		if rec := recover(); rec != nil {
			f.log.Warn("Response formatting panicked, using fallback", "panic", rec)
			out = f.fallbackSummary(result)
		}
	}()

	var sections []string
	appendSection := func(s string) {
		if s != "" {
			sections = append(sections, s)
		}
	}

	if f.cfg.Options.UseEmojis {
		appendSection(f.headerSection(result))
	}
	if f.cfg.Options.IncludeExecutiveSummary {
		appendSection(f.executiveSummarySection(result))
	}
	appendSection(f.insightsSection(result))
	if f.cfg.Options.IncludeRecommendations {
		appendSection(f.recommendationsSection(result))
	}
	if f.cfg.Options.IncludeDataSummary {
		appendSection(f.dataSummarySection(result))
	}
	appendSection(f.footerSection(result))

	if len(sections) == 0 {
		return f.fallbackSummary(result)
	}
	return strings.Join(sections, "\n\n")
}

// FormatQuick wraps a short message with the emoji for its kind.
func (f *Formatter) FormatQuick(message, kind string) string {
	emoji := map[string]string{
		"info":     "ℹ️",
		"success":  "✅",
		"warning":  "⚠️",
		"error":    "❌",
		"thinking": "🧠",
	}[kind]
	if emoji == "" {
		emoji = "ℹ️"
	}
	return emoji + " " + message
}

func (f *Formatter) headerSection(result pipeline.AnalysisResult) string {
	parts := []string{"📊 **" + IntentTitle(result.Plan.Intent) + "**"}
	if f.cfg.Options.IncludeConfidence && result.Confidence > 0 {
		parts = append(parts, fmt.Sprintf("*%s Confidence: %.0f%%*", confidenceEmoji(result.Confidence), result.Confidence*100))
	}
	return strings.Join(parts, "\n")
}

func (f *Formatter) executiveSummarySection(result pipeline.AnalysisResult) string {
	if len(result.Data) == 0 {
		return ""
	}
	return fmt.Sprintf(
		"**💡 Executive Summary**\nAnalyzed **%d records** from **%d dataset(s)** in %dms.",
		len(result.Data), len(result.DatasetsUsed), result.Elapsed.Milliseconds(),
	)
}

func (f *Formatter) insightsSection(result pipeline.AnalysisResult) string {
	response := strings.TrimSpace(result.Response)
	if response == "" {
		return ""
	}
	// Already-emphasized responses are kept verbatim.
	if strings.Contains(response, "**") || strings.Contains(response, "*") {
		return response
	}
	return "**💡 Key Insights**\n\n" + response
}

func (f *Formatter) recommendationsSection(result pipeline.AnalysisResult) string {
	recs := ExtractRecommendations(result.Response, result.Plan.Intent)
	if len(recs) == 0 {
		return ""
	}
	parts := []string{"**📈 Recommendations**"}
	for i, rec := range recs {
		parts = append(parts, fmt.Sprintf("%d. %s", i+1, rec))
	}
	return strings.Join(parts, "\n")
}

func (f *Formatter) dataSummarySection(result pipeline.AnalysisResult) string {
	if len(result.DatasetsUsed) == 0 {
		return ""
	}
	parts := []string{
		"**📋 Data Summary**",
		"**Sources**: " + strings.Join(result.DatasetsUsed, ", "),
	}
	if len(result.Data) > 0 {
		parts = append(parts, fmt.Sprintf("**Records**: %d", len(result.Data)))
	}
	if result.Elapsed > 0 {
		parts = append(parts, fmt.Sprintf("**Response Time**: %dms", result.Elapsed.Milliseconds()))
	}
	return strings.Join(parts, "\n")
}

func (f *Formatter) footerSection(result pipeline.AnalysisResult) string {
	var parts []string
	if len(result.Warnings) > 0 {
		parts = append(parts, "⚠️ *"+strings.Join(result.Warnings, "; ")+"*")
	}
	parts = append(parts, "*Analysis completed at "+f.cfg.Clock.Now().Format("2006-01-02 15:04")+"*")
	return strings.Join(parts, "\n")
}

func (f *Formatter) formatError(result pipeline.AnalysisResult) string {
	parts := []string{
		"❌ **Analysis Error**",
		"",
		"I encountered an issue while analyzing your data.",
		"",
	}
	if result.ErrorMessage != "" {
		parts = append(parts, "**Error Details**: "+result.ErrorMessage, "")
	}
	parts = append(parts,
		"💡 **Suggestions**:",
		"• Check your data connections",
		"• Verify dataset permissions",
		"• Try rephrasing your question",
		"• Contact your administrator if the issue persists",
		"",
		"I'm ready to help once the issue is resolved!",
	)
	return strings.Join(parts, "\n")
}

// fallbackSummary is the plain last-resort rendering.
func (f *Formatter) fallbackSummary(result pipeline.AnalysisResult) string {
	parts := []string{"📊 **Analysis Results**", "", "Analysis completed successfully."}
	if len(result.Data) > 0 {
		parts = append(parts, fmt.Sprintf("Retrieved %d records.", len(result.Data)))
	}
	if len(result.DatasetsUsed) > 0 {
		parts = append(parts, "Data sources: "+strings.Join(result.DatasetsUsed, ", "))
	}
	return strings.Join(parts, "\n")
}

// IntentTitle expands a snake_case intent label into its display title.
func IntentTitle(intent string) string {
	title := titleCase(strings.ReplaceAll(intent, "_", " "))
	if override, ok := intentTitles[title]; ok {
		return override
	}
	return title
}

// ExtractRecommendations pulls recommendation sentences out of a response,
// falling back to the per-intent defaults. At most three are returned.
func ExtractRecommendations(response, intent string) []string {
	var recs []string
	if strings.Contains(strings.ToLower(response), "recommend") {
		for _, sentence := range strings.Split(response, ".") {
			lower := strings.ToLower(sentence)
			if !strings.Contains(lower, "recommend") && !strings.Contains(lower, "suggest") {
				continue
			}
			if clean := strings.TrimSpace(sentence); len(clean) > 10 {
				recs = append(recs, clean)
			}
		}
	}
	if len(recs) == 0 {
		recs = defaultRecommendations(intent)
	}
	if len(recs) > 3 {
		recs = recs[:3]
	}
	return recs
}

func defaultRecommendations(intent string) []string {
	switch {
	case strings.Contains(strings.ToLower(intent), "sales"):
		return []string{
			"Focus on top-performing products and regions",
			"Investigate declining trends for improvement opportunities",
		}
	case strings.Contains(strings.ToLower(intent), "customer"):
		return []string{
			"Enhance engagement with high-value customer segments",
			"Develop retention strategies for at-risk customers",
		}
	default:
		return []string{
			"Continue monitoring key performance indicators",
			"Schedule regular analysis updates",
		}
	}
}

func confidenceEmoji(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return "🟢"
	case confidence >= 0.6:
		return "🟡"
	default:
		return "🟠"
	}
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		if len(runes) > 0 {
			runes[0] = unicode.ToUpper(runes[0])
		}
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
