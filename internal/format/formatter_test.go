package format

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/pipeline"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestFormatter(t *testing.T, opts Options) *Formatter {
	t.Helper()
	f, err := NewFormatter(Config{
		Logger:  newTestLogger(),
		Clock:   clockwork.NewFakeClockAt(time.Date(2024, 5, 15, 14, 30, 0, 0, time.UTC)),
		Options: opts,
	})
	require.NoError(t, err)
	return f
}

func successResult() pipeline.AnalysisResult {
	return pipeline.AnalysisResult{
		Plan:         pipeline.Plan{Intent: "sales_analysis", Confidence: 0.85},
		Response:     "Revenue is up. We recommend expanding the northern region campaign.",
		Data:         []map[string]any{{"Product": "Widget", "Revenue": 1200}},
		DatasetsUsed: []string{"Sales_2024"},
		Confidence:   0.85,
		Elapsed:      1500 * time.Millisecond,
		Success:      true,
	}
}

func TestFormat_IntentTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		intent string
		want   string
	}{
		{"sales_analysis", "Sales Performance Analysis"},
		{"customer_analysis", "Customer Insights Analysis"},
		{"product_analysis", "Product Performance Analysis"},
		{"financial_analysis", "Financial Performance Analysis"},
		{"trend_analysis", "Trend & Growth Analysis"},
		{"general_analysis", "Business Intelligence Analysis"},
		{"ranking_analysis", "Ranking Analysis"},
		{"geographic_analysis", "Geographic Analysis"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.intent, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, IntentTitle(tt.intent))
		})
	}
}

func TestFormat_FormatAnalysis_Sections(t *testing.T) {
	t.Parallel()

	f := newTestFormatter(t, DefaultOptions())
	out := f.FormatAnalysis(successResult())

	require.Contains(t, out, "📊 **Sales Performance Analysis**")
	require.Contains(t, out, "**💡 Executive Summary**")
	require.Contains(t, out, "Analyzed **1 records** from **1 dataset(s)** in 1500ms.")
	require.Contains(t, out, "**📈 Recommendations**")
	require.Contains(t, out, "1. We recommend expanding the northern region campaign")
	require.Contains(t, out, "**📋 Data Summary**")
	require.Contains(t, out, "**Sources**: Sales_2024")
	require.Contains(t, out, "*Analysis completed at 2024-05-15 14:30*")
	require.NotContains(t, out, "Confidence:") // off by default
}

func TestFormat_FormatAnalysis_Idempotent(t *testing.T) {
	t.Parallel()

	f := newTestFormatter(t, DefaultOptions())
	result := successResult()
	require.Equal(t, f.FormatAnalysis(result), f.FormatAnalysis(result))
}

func TestFormat_FormatAnalysis_ConfidenceLine(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.IncludeConfidence = true
	f := newTestFormatter(t, opts)

	out := f.FormatAnalysis(successResult())
	require.Contains(t, out, "*🟢 Confidence: 85%*")
}

func TestFormat_FormatAnalysis_EmphasizedResponseKeptVerbatim(t *testing.T) {
	t.Parallel()

	f := newTestFormatter(t, DefaultOptions())
	result := successResult()
	result.Response = "**Bold finding** with detail"

	out := f.FormatAnalysis(result)
	require.Contains(t, out, "**Bold finding** with detail")
	require.NotContains(t, out, "**💡 Key Insights**")
}

func TestFormat_FormatAnalysis_PlainResponseWrapped(t *testing.T) {
	t.Parallel()

	f := newTestFormatter(t, DefaultOptions())
	result := successResult()
	result.Response = "Plain prose without emphasis"

	out := f.FormatAnalysis(result)
	require.Contains(t, out, "**💡 Key Insights**\n\nPlain prose without emphasis")
}

func TestFormat_FormatAnalysis_WarningsInFooter(t *testing.T) {
	t.Parallel()

	f := newTestFormatter(t, DefaultOptions())
	result := successResult()
	result.Warnings = []string{"Query 1 failed: timeout", "partial data"}

	out := f.FormatAnalysis(result)
	require.Contains(t, out, "⚠️ *Query 1 failed: timeout; partial data*")
}

func TestFormat_FormatAnalysis_ErrorPath(t *testing.T) {
	t.Parallel()

	f := newTestFormatter(t, DefaultOptions())
	out := f.FormatAnalysis(pipeline.AnalysisResult{
		Success:      false,
		ErrorMessage: "catalog unreachable",
	})

	require.Contains(t, out, "❌ **Analysis Error**")
	require.Contains(t, out, "**Error Details**: catalog unreachable")
	require.Contains(t, out, "• Try rephrasing your question")
}

func TestFormat_FormatAnalysis_NeverEmpty(t *testing.T) {
	t.Parallel()

	f := newTestFormatter(t, Options{
		UseEmojis:               false,
		IncludeExecutiveSummary: false,
		IncludeRecommendations:  false,
		IncludeDataSummary:      false,
	})
	out := f.FormatAnalysis(pipeline.AnalysisResult{Success: true})
	require.NotEmpty(t, out)
}

func TestFormat_ExtractRecommendations(t *testing.T) {
	t.Parallel()

	t.Run("sentences from response", func(t *testing.T) {
		t.Parallel()
		response := "Sales rose. We recommend raising the budget. I also suggest reviewing churn weekly. Short rec. Done."
		recs := ExtractRecommendations(response, "sales_analysis")
		require.Equal(t, []string{
			"We recommend raising the budget",
			"I also suggest reviewing churn weekly",
		}, recs)
	})

	t.Run("capped at three", func(t *testing.T) {
		t.Parallel()
		response := "I recommend option one here. I recommend option two here. I recommend option three here. I recommend option four here."
		recs := ExtractRecommendations(response, "sales_analysis")
		require.Len(t, recs, 3)
	})

	t.Run("sales defaults", func(t *testing.T) {
		t.Parallel()
		recs := ExtractRecommendations("no guidance at all", "sales_analysis")
		require.Equal(t, []string{
			"Focus on top-performing products and regions",
			"Investigate declining trends for improvement opportunities",
		}, recs)
	})

	t.Run("customer defaults", func(t *testing.T) {
		t.Parallel()
		recs := ExtractRecommendations("", "customer_analysis")
		require.Contains(t, recs[0], "high-value customer segments")
	})

	t.Run("generic defaults", func(t *testing.T) {
		t.Parallel()
		recs := ExtractRecommendations("", "geographic_analysis")
		require.Equal(t, []string{
			"Continue monitoring key performance indicators",
			"Schedule regular analysis updates",
		}, recs)
	})
}

func TestFormat_FormatQuick(t *testing.T) {
	t.Parallel()

	f := newTestFormatter(t, DefaultOptions())
	require.Equal(t, "✅ done", f.FormatQuick("done", "success"))
	require.Equal(t, "❌ bad", f.FormatQuick("bad", "error"))
	require.Equal(t, "🧠 thinking", f.FormatQuick("thinking", "thinking"))
	require.Equal(t, "ℹ️ hm", f.FormatQuick("hm", "unknown"))
}

func TestFormat_RenderTable(t *testing.T) {
	t.Parallel()

	f := newTestFormatter(t, DefaultOptions())

	t.Run("empty rows", func(t *testing.T) {
		t.Parallel()
		require.Equal(t, "No data available.", f.RenderTable(nil, nil))
	})

	t.Run("fenced with headers", func(t *testing.T) {
		t.Parallel()
		rows := []map[string]any{{"Product": "Widget", "Revenue": 1200}}
		out := f.RenderTable(rows, []string{"Product", "Revenue"})
		require.True(t, strings.HasPrefix(out, "```\n"))
		require.True(t, strings.HasSuffix(out, "```"))
		require.Contains(t, out, "Product")
		require.Contains(t, out, "Widget")
		require.Contains(t, out, "1200")
	})

	t.Run("row cap and count note", func(t *testing.T) {
		t.Parallel()
		var rows []map[string]any
		for i := 0; i < 25; i++ {
			rows = append(rows, map[string]any{"N": i})
		}
		out := f.RenderTable(rows, []string{"N"})
		require.Contains(t, out, "*Showing 10 of 25 total records*")
		require.NotContains(t, out, "| 10 ") // row index 10 is beyond the cap
	})

	t.Run("column cap and lexicographic order", func(t *testing.T) {
		t.Parallel()
		rows := []map[string]any{{"e": 5, "d": 4, "c": 3, "b": 2, "a": 1}}
		out := f.RenderTable(rows, nil)
		require.Contains(t, out, "a")
		require.Contains(t, out, "d")
		require.NotContains(t, out, "e") // fifth column dropped
	})

	t.Run("long cells truncated", func(t *testing.T) {
		t.Parallel()
		rows := []map[string]any{{"Name": "An unreasonably long product name"}}
		out := f.RenderTable(rows, []string{"Name"})
		require.Contains(t, out, "An unreasona...")
		require.NotContains(t, out, "unreasonably long")
	})
}
