package pipeline

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// IntentBucket is one ordered keyword bucket for intent classification. The
// first bucket whose keywords match wins, so slice order encodes priority.
type IntentBucket struct {
	Intent   string   `yaml:"intent"`
	Keywords []string `yaml:"keywords"`
}

// TableCountRule maps dataset-name substrings to an estimated table count.
type TableCountRule struct {
	Substrings []string `yaml:"substrings"`
	Count      int      `yaml:"count"`
}

// FallbackColumns names the columns the synthesized fallback queries assume.
// These are dataset-schema assumptions; deployments whose models use other
// names override them here.
type FallbackColumns struct {
	SalesAmount string `yaml:"sales_amount"`
	Product     string `yaml:"product"`
	Date        string `yaml:"date"`
	Amount      string `yaml:"amount"`
}

// Heuristics holds every scoring table and threshold the assembler and engine
// use. The values are product-tuned constants; they are exposed as
// configuration rather than retuned in code.
type Heuristics struct {
	IntentBuckets []IntentBucket      `yaml:"intent_buckets"`
	DefaultIntent string              `yaml:"default_intent"`
	IntentSearch  map[string][]string `yaml:"intent_search_keywords"`

	KeywordMatchWeight    float64                       `yaml:"keyword_match_weight"`
	IntentWeights         map[string]map[string]float64 `yaml:"intent_weights"`
	CollectionMatchWeight float64                       `yaml:"collection_match_weight"`
	RelevanceThreshold    float64                       `yaml:"relevance_threshold"`
	MaxRelevantDatasets   int                           `yaml:"max_relevant_datasets"`

	TableCountRules   []TableCountRule `yaml:"table_count_rules"`
	DefaultTableCount int              `yaml:"default_table_count"`

	IntentDomains map[string]string   `yaml:"intent_domains"`
	DefaultDomain string              `yaml:"default_domain"`
	BusinessRules map[string][]string `yaml:"business_rules"`

	SuggestedPeriods map[string][]string `yaml:"suggested_periods"`
	DefaultPeriods   []string            `yaml:"default_periods"`

	DatasetCountWeight      float64            `yaml:"dataset_count_weight"`
	TableCountWeight        float64            `yaml:"table_count_weight"`
	TableScoreCap           float64            `yaml:"table_score_cap"`
	IntentComplexity        map[string]float64 `yaml:"intent_complexity"`
	DefaultIntentComplexity float64            `yaml:"default_intent_complexity"`
	MediumThreshold         float64            `yaml:"medium_threshold"`
	HighThreshold           float64            `yaml:"high_threshold"`

	HistoryLimit        int `yaml:"history_limit"`
	RecentQuestionLimit int `yaml:"recent_question_limit"`

	FallbackColumns FallbackColumns `yaml:"fallback_columns"`
}

// DefaultHeuristics returns the canonical scoring tables. Bucket order is a
// contract: it is the classification tie-break.
func DefaultHeuristics() Heuristics {
	return Heuristics{
		IntentBuckets: []IntentBucket{
			{Intent: "sales_analysis", Keywords: []string{"sales", "revenue", "profit", "income"}},
			{Intent: "performance_analysis", Keywords: []string{"performance", "kpi", "metric", "target"}},
			{Intent: "trend_analysis", Keywords: []string{"trend", "growth", "change", "over time", "quarterly", "monthly"}},
			{Intent: "comparison_analysis", Keywords: []string{"compare", "vs", "versus", "difference", "better", "worse"}},
			{Intent: "ranking_analysis", Keywords: []string{"top", "bottom", "best", "worst", "highest", "lowest"}},
			{Intent: "customer_analysis", Keywords: []string{"customer", "client", "account", "segment"}},
			{Intent: "product_analysis", Keywords: []string{"product", "item", "category", "inventory"}},
			{Intent: "geographic_analysis", Keywords: []string{"region", "country", "state", "city", "location", "geographic"}},
			{Intent: "financial_analysis", Keywords: []string{"budget", "cost", "expense", "margin", "roi", "financial"}},
		},
		DefaultIntent: "general_analysis",
		IntentSearch: map[string][]string{
			"sales_analysis":       {"sales", "revenue", "order", "transaction"},
			"customer_analysis":    {"customer", "client", "account", "crm"},
			"product_analysis":     {"product", "inventory", "item", "catalog"},
			"financial_analysis":   {"finance", "budget", "accounting", "expense"},
			"performance_analysis": {"performance", "kpi", "metric", "dashboard"},
		},

		KeywordMatchWeight: 0.3,
		IntentWeights: map[string]map[string]float64{
			"sales_analysis":     {"sales": 0.5, "revenue": 0.5, "order": 0.4},
			"customer_analysis":  {"customer": 0.5, "client": 0.4, "crm": 0.6},
			"financial_analysis": {"finance": 0.5, "budget": 0.4, "accounting": 0.5},
		},
		CollectionMatchWeight: 0.2,
		RelevanceThreshold:    0.3,
		MaxRelevantDatasets:   5,

		TableCountRules: []TableCountRule{
			{Substrings: []string{"warehouse", "dwh"}, Count: 15},
			{Substrings: []string{"cube", "olap"}, Count: 8},
			{Substrings: []string{"report"}, Count: 5},
		},
		DefaultTableCount: 10,

		IntentDomains: map[string]string{
			"sales_analysis":       "Sales & Marketing",
			"customer_analysis":    "Customer Relations",
			"financial_analysis":   "Finance & Accounting",
			"product_analysis":     "Product Management",
			"performance_analysis": "Business Intelligence",
		},
		DefaultDomain: "General Business",
		BusinessRules: map[string][]string{
			"sales_analysis": {
				"Focus on revenue trends and growth",
				"Consider seasonality in retail data",
				"Analyze by product, region, and time period",
			},
			"customer_analysis": {
				"Prioritize customer lifetime value",
				"Consider customer segmentation",
				"Analyze retention and churn patterns",
			},
			"financial_analysis": {
				"Ensure data accuracy for financial reporting",
				"Consider fiscal year vs calendar year",
				"Include budget vs actual comparisons",
			},
		},

		SuggestedPeriods: map[string][]string{
			"trend_analysis":       {"Last 12 months", "Quarter over quarter", "Year over year"},
			"sales_analysis":       {"Monthly trends", "Quarterly performance", "YTD vs last year"},
			"performance_analysis": {"Current vs target", "Monthly variance", "Quarterly trends"},
			"comparison_analysis":  {"Period over period", "Same period last year", "Benchmark comparison"},
		},
		DefaultPeriods: []string{"Current period", "Historical trend", "Comparative analysis"},

		DatasetCountWeight: 0.2,
		TableCountWeight:   0.1,
		TableScoreCap:      2.0,
		IntentComplexity: map[string]float64{
			"general_analysis":     0.3,
			"sales_analysis":       0.5,
			"trend_analysis":       0.7,
			"comparison_analysis":  0.8,
			"performance_analysis": 0.6,
		},
		DefaultIntentComplexity: 0.5,
		MediumThreshold:         1.0,
		HighThreshold:           2.0,

		HistoryLimit:        10,
		RecentQuestionLimit: 5,

		FallbackColumns: FallbackColumns{
			SalesAmount: "Sales Amount",
			Product:     "Product",
			Date:        "Date",
			Amount:      "Amount",
		},
	}
}

// LoadHeuristics overlays a YAML file on top of the defaults. An empty path
// returns the defaults unchanged.
func LoadHeuristics(path string) (Heuristics, error) {
	h := DefaultHeuristics()
	if path == "" {
		return h, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return h, fmt.Errorf("read heuristics file: %w", err)
	}
	if err := yaml.Unmarshal(data, &h); err != nil {
		return h, fmt.Errorf("parse heuristics file: %w", err)
	}
	if err := h.validate(); err != nil {
		return h, fmt.Errorf("invalid heuristics file %s: %w", path, err)
	}
	return h, nil
}

func (h Heuristics) validate() error {
	if len(h.IntentBuckets) == 0 {
		return errors.New("intent buckets must not be empty")
	}
	if h.RelevanceThreshold < 0 || h.RelevanceThreshold >= 1 {
		return errors.New("relevance threshold must be in [0, 1)")
	}
	if h.MaxRelevantDatasets <= 0 {
		return errors.New("max relevant datasets must be > 0")
	}
	if h.HistoryLimit <= 0 {
		return errors.New("history limit must be > 0")
	}
	if h.HighThreshold <= h.MediumThreshold {
		return errors.New("high threshold must exceed medium threshold")
	}
	return nil
}

// estimateTableCount applies the name-pattern rules to one dataset name
// (already lowercased by the caller).
func (h Heuristics) estimateTableCount(nameLower string) int {
	for _, rule := range h.TableCountRules {
		for _, sub := range rule.Substrings {
			if sub != "" && strings.Contains(nameLower, strings.ToLower(sub)) {
				return rule.Count
			}
		}
	}
	return h.DefaultTableCount
}
