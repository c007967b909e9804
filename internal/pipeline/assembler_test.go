package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/meridian/internal/catalog"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeCatalog serves canned collections and datasets keyed by collection ID.
type fakeCatalog struct {
	collections []catalog.Collection
	datasets    map[string][]catalog.Dataset
}

func (f *fakeCatalog) ListCollections(ctx context.Context, force bool) []catalog.Collection {
	return f.collections
}

func (f *fakeCatalog) ListDatasets(ctx context.Context, collectionID string, force bool) []catalog.Dataset {
	return f.datasets[collectionID]
}

func salesCatalog() *fakeCatalog {
	return &fakeCatalog{
		collections: []catalog.Collection{
			{ID: "c1", Name: "Finance"},
		},
		datasets: map[string][]catalog.Dataset{
			"c1": {
				{ID: "d1", Name: "Sales_2024", CollectionID: "c1", CollectionName: "Finance"},
				{ID: "d2", Name: "HR_Records", CollectionID: "c1", CollectionName: "Finance"},
			},
		},
	}
}

func newTestAssembler(t *testing.T, cat CatalogBrowser, clock clockwork.Clock) *Assembler {
	t.Helper()
	if clock == nil {
		clock = clockwork.NewFakeClockAt(time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC))
	}
	a, err := NewAssembler(AssemblerConfig{
		Logger:  newTestLogger(),
		Clock:   clock,
		Catalog: cat,
	})
	require.NoError(t, err)
	return a
}

func TestAssembler_ClassifyIntent(t *testing.T) {
	t.Parallel()

	a := newTestAssembler(t, salesCatalog(), nil)
	tests := []struct {
		question string
		want     string
	}{
		{"What were our sales last quarter?", "sales_analysis"},
		{"Show revenue by region", "sales_analysis"},
		{"How are we tracking against KPI targets?", "performance_analysis"},
		{"What is the growth trend?", "trend_analysis"},
		{"Compare this year vs last year", "comparison_analysis"},
		{"Who are our top customers?", "ranking_analysis"},
		{"Customer churn by segment", "customer_analysis"},
		{"Inventory levels by category", "product_analysis"},
		{"Breakdown by country and city", "geographic_analysis"},
		{"What is our budget and expense margin?", "financial_analysis"},
		{"Tell me something interesting", "general_analysis"},
		{"", "general_analysis"},

		// Bucket order is the priority rule: sales wins over trend,
		// trend wins over comparison.
		{"sales trend this year", "sales_analysis"},
		{"quarterly comparison", "trend_analysis"},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, a.ClassifyIntent(tt.question))
		})
	}
}

func TestAssembler_ScoreDataset(t *testing.T) {
	t.Parallel()

	a := newTestAssembler(t, salesCatalog(), nil)

	t.Run("keyword and intent weights add up", func(t *testing.T) {
		t.Parallel()
		ds := catalog.Dataset{Name: "Sales_Warehouse_2024", CollectionName: "Operations"}
		// "sales" term match 0.3 + sales_analysis weight 0.5.
		score := a.scoreDataset(ds, []string{"sales", "revenue"}, "sales_analysis")
		require.InDelta(t, 0.8, score, 1e-9)
	})

	t.Run("collection match adds bonus once", func(t *testing.T) {
		t.Parallel()
		ds := catalog.Dataset{Name: "Orders", CollectionName: "Sales Division"}
		// "order" term 0.3 + "order" intent weight 0.4 + collection 0.2.
		score := a.scoreDataset(ds, []string{"sales", "order"}, "sales_analysis")
		require.InDelta(t, 0.9, score, 1e-9)
	})

	t.Run("score is capped at 1.0", func(t *testing.T) {
		t.Parallel()
		ds := catalog.Dataset{Name: "sales revenue order transactions", CollectionName: "sales"}
		score := a.scoreDataset(ds, []string{"sales", "revenue", "order", "transaction"}, "sales_analysis")
		require.InDelta(t, 1.0, score, 1e-9)
	})

	t.Run("no match scores zero", func(t *testing.T) {
		t.Parallel()
		ds := catalog.Dataset{Name: "HR_Records", CollectionName: "People"}
		score := a.scoreDataset(ds, []string{"sales", "revenue"}, "sales_analysis")
		require.Zero(t, score)
	})
}

func TestAssembler_FindRelevantDatasets_TopFiveSortedByScore(t *testing.T) {
	t.Parallel()

	cat := &fakeCatalog{
		collections: []catalog.Collection{{ID: "c1", Name: "BI"}},
	}
	var all []catalog.Dataset
	for i := 0; i < 8; i++ {
		all = append(all, catalog.Dataset{
			ID:             fmt.Sprintf("d%d", i),
			Name:           fmt.Sprintf("Order_Book_%d", i),
			CollectionID:   "c1",
			CollectionName: "BI",
		})
	}
	// One stronger match that must sort first.
	all = append(all, catalog.Dataset{ID: "top", Name: "Sales_Revenue_Orders", CollectionID: "c1", CollectionName: "BI"})
	cat.datasets = map[string][]catalog.Dataset{"c1": all}

	a := newTestAssembler(t, cat, nil)
	actx := a.BuildContext(context.Background(), "show me sales figures")

	require.Len(t, actx.Datasets, 5)
	require.Equal(t, "Sales_Revenue_Orders", actx.Datasets[0].Name)
	for i := 1; i < len(actx.Datasets); i++ {
		require.GreaterOrEqual(t, actx.Datasets[i-1].Relevance, actx.Datasets[i].Relevance)
	}
	for _, ds := range actx.Datasets {
		require.LessOrEqual(t, ds.Relevance, 1.0)
		require.Greater(t, ds.Relevance, 0.3)
	}
}

func TestAssembler_BuildContext_DegradedCatalog(t *testing.T) {
	t.Parallel()

	a := newTestAssembler(t, &fakeCatalog{}, nil)
	actx := a.BuildContext(context.Background(), "how are sales doing?")

	require.Empty(t, actx.Datasets)
	require.Contains(t, actx.PerformanceHints, degradedCatalogHint)
	require.Equal(t, "sales_analysis", actx.Intent)
	require.Equal(t, "Sales & Marketing", actx.Domain)
	require.NotEmpty(t, actx.BusinessRules)
}

func TestAssembler_BuildContext_SchemaEstimates(t *testing.T) {
	t.Parallel()

	cat := &fakeCatalog{
		collections: []catalog.Collection{{ID: "c1", Name: "BI"}},
		datasets: map[string][]catalog.Dataset{
			"c1": {{ID: "d1", Name: "Sales_Warehouse", CollectionID: "c1", CollectionName: "BI"}},
		},
	}
	a := newTestAssembler(t, cat, nil)
	actx := a.BuildContext(context.Background(), "sales by region")

	require.Len(t, actx.Schema, 1)
	require.Equal(t, "Sales_Warehouse", actx.Schema[0].Dataset)
	require.Equal(t, 15, actx.Schema[0].EstimatedTables)
}

func TestAssembler_History_BoundedAndClearable(t *testing.T) {
	t.Parallel()

	a := newTestAssembler(t, &fakeCatalog{}, nil)

	var actx AnalysisContext
	for i := 0; i < 15; i++ {
		actx = a.BuildContext(context.Background(), fmt.Sprintf("question %d", i))
	}

	require.Equal(t, 10, a.HistoryLen())
	require.Len(t, actx.RecentQuestions, 5)
	require.Equal(t, "question 14", actx.RecentQuestions[4])
	require.Equal(t, "question 10", actx.RecentQuestions[0])

	total := 0
	for _, n := range actx.IntentCounts {
		total += n
	}
	require.Equal(t, 10, total)

	a.ClearHistory()
	require.Zero(t, a.HistoryLen())
}

func TestAssembler_BuildTimeContext(t *testing.T) {
	t.Parallel()

	t.Run("mid year", func(t *testing.T) {
		t.Parallel()
		clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC))
		a := newTestAssembler(t, &fakeCatalog{}, clock)
		tc := a.buildTimeContext("sales_analysis")

		want := TimeContext{
			CurrentDate:      "2024-05-15",
			CurrentQuarter:   "Q2 2024",
			CurrentMonth:     "May 2024",
			CurrentYear:      "2024",
			PreviousQuarter:  "Q1 2024",
			PreviousMonth:    "April 2024",
			YTDStart:         "2024-01-01",
			SuggestedPeriods: []string{"Monthly trends", "Quarterly performance", "YTD vs last year"},
		}
		require.Empty(t, cmp.Diff(want, tc))
	})

	t.Run("january wraps to previous year", func(t *testing.T) {
		t.Parallel()
		clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC))
		a := newTestAssembler(t, &fakeCatalog{}, clock)
		tc := a.buildTimeContext("general_analysis")

		require.Equal(t, "Q1 2024", tc.CurrentQuarter)
		require.Equal(t, "Q4 2023", tc.PreviousQuarter)
		require.Equal(t, "December 2023", tc.PreviousMonth)
		require.Equal(t, []string{"Current period", "Historical trend", "Comparative analysis"}, tc.SuggestedPeriods)
	})
}

func TestAssembler_EstimateComplexity(t *testing.T) {
	t.Parallel()

	a := newTestAssembler(t, &fakeCatalog{}, nil)

	t.Run("no datasets general intent is low", func(t *testing.T) {
		t.Parallel()
		actx := AnalysisContext{Intent: "general_analysis"}
		a.estimateComplexity(&actx)
		require.Equal(t, "Low", actx.Complexity)
		require.Contains(t, actx.PerformanceHints, "Simple query expected")
	})

	t.Run("one warehouse dataset with trend intent is high", func(t *testing.T) {
		t.Parallel()
		actx := AnalysisContext{
			Intent:   "trend_analysis",
			Datasets: []catalog.Dataset{{Name: "Sales_Warehouse"}},
			Schema:   []TableEstimate{{Dataset: "Sales_Warehouse", EstimatedTables: 15}},
		}
		// 1×0.2 + min(15×0.1, 2.0) + 0.7 = 2.4.
		a.estimateComplexity(&actx)
		require.Equal(t, "High", actx.Complexity)
		require.Contains(t, actx.PerformanceHints, "Complex analysis detected")
	})

	t.Run("one report dataset with sales intent is medium", func(t *testing.T) {
		t.Parallel()
		actx := AnalysisContext{
			Intent:   "sales_analysis",
			Datasets: []catalog.Dataset{{Name: "Monthly_Report"}},
			Schema:   []TableEstimate{{Dataset: "Monthly_Report", EstimatedTables: 5}},
		}
		// 1×0.2 + 0.5 + 0.5 = 1.2.
		a.estimateComplexity(&actx)
		require.Equal(t, "Medium", actx.Complexity)
	})
}
