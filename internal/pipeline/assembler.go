package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/meridianhq/meridian/internal/catalog"
)

// CatalogBrowser is the listing surface the assembler needs from the catalog
// client. Both methods degrade to empty slices on failure.
type CatalogBrowser interface {
	ListCollections(ctx context.Context, force bool) []catalog.Collection
	ListDatasets(ctx context.Context, collectionID string, force bool) []catalog.Dataset
}

const degradedCatalogHint = "Limited catalog context due to connection issues"

type AssemblerConfig struct {
	Logger  *slog.Logger
	Clock   clockwork.Clock
	Catalog CatalogBrowser

	// Heuristics falls back to DefaultHeuristics when zero-valued.
	Heuristics Heuristics
}

func (c *AssemblerConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Catalog == nil {
		return errors.New("catalog browser is required")
	}
	if len(c.Heuristics.IntentBuckets) == 0 {
		c.Heuristics = DefaultHeuristics()
	}
	return nil
}

type questionRecord struct {
	question string
	intent   string
	at       time.Time
}

// Assembler builds a fresh AnalysisContext per question. The rolling question
// history is the only state carried across calls; it is bounded and guarded
// by a mutex so concurrent questions cannot interleave the truncation.
type Assembler struct {
	cfg AssemblerConfig
	log *slog.Logger

	historyMu sync.Mutex
	history   []questionRecord
}

func NewAssembler(cfg AssemblerConfig) (*Assembler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Assembler{
		cfg: cfg,
		log: cfg.Logger.With("component", "assembler"),
	}, nil
}

// BuildContext never fails: catalog trouble degrades to a context with empty
// dataset lists and an added performance hint.
func (a *Assembler) BuildContext(ctx context.Context, question string) AnalysisContext {
	h := a.cfg.Heuristics
	intent := a.ClassifyIntent(question)

	actx := AnalysisContext{
		Question: question,
		Intent:   intent,
	}

	actx.Collections = a.cfg.Catalog.ListCollections(ctx, false)
	actx.Datasets = a.findRelevantDatasets(ctx, question, intent, actx.Collections)
	if len(actx.Collections) == 0 {
		actx.PerformanceHints = append(actx.PerformanceHints, degradedCatalogHint)
	}

	for _, ds := range actx.Datasets {
		actx.Schema = append(actx.Schema, TableEstimate{
			Dataset:         ds.Name,
			Collection:      ds.CollectionName,
			EstimatedTables: h.estimateTableCount(strings.ToLower(ds.Name)),
		})
	}

	actx.Domain = h.DefaultDomain
	if d, ok := h.IntentDomains[intent]; ok {
		actx.Domain = d
	}
	actx.BusinessRules = h.BusinessRules[intent]

	actx.Time = a.buildTimeContext(intent)
	actx.RecentQuestions, actx.IntentCounts = a.recordQuestion(question, intent)
	a.estimateComplexity(&actx)

	a.log.Info("Context assembled",
		"intent", intent,
		"collections", len(actx.Collections),
		"datasets", len(actx.Datasets),
		"complexity", actx.Complexity,
	)
	return actx
}

// ClassifyIntent runs the ordered keyword buckets over the question; the
// first matching bucket wins, so bucket order is the priority rule.
func (a *Assembler) ClassifyIntent(question string) string {
	q := strings.ToLower(question)
	for _, bucket := range a.cfg.Heuristics.IntentBuckets {
		for _, kw := range bucket.Keywords {
			if strings.Contains(q, kw) {
				return bucket.Intent
			}
		}
	}
	return a.cfg.Heuristics.DefaultIntent
}

// findRelevantDatasets scores every dataset of every visible collection and
// keeps the top scorers above the relevance threshold.
func (a *Assembler) findRelevantDatasets(ctx context.Context, question, intent string, cols []catalog.Collection) []catalog.Dataset {
	h := a.cfg.Heuristics
	searchTerms := append([]string{}, h.IntentSearch[intent]...)
	searchTerms = append(searchTerms, strings.Fields(strings.ToLower(question))...)

	var relevant []catalog.Dataset
	for _, col := range cols {
		for _, ds := range a.cfg.Catalog.ListDatasets(ctx, col.ID, false) {
			score := a.scoreDataset(ds, searchTerms, intent)
			if score > h.RelevanceThreshold {
				ds.Relevance = score
				relevant = append(relevant, ds)
			}
		}
	}

	sort.SliceStable(relevant, func(i, j int) bool {
		return relevant[i].Relevance > relevant[j].Relevance
	})
	if len(relevant) > h.MaxRelevantDatasets {
		relevant = relevant[:h.MaxRelevantDatasets]
	}
	return relevant
}

// scoreDataset applies the additive relevance weights: every search-term
// substring match in the dataset name counts, specific per-intent terms add
// their fixed weight, and a collection-name match adds a bonus. Capped at 1.0.
func (a *Assembler) scoreDataset(ds catalog.Dataset, searchTerms []string, intent string) float64 {
	h := a.cfg.Heuristics
	name := strings.ToLower(ds.Name)
	colName := strings.ToLower(ds.CollectionName)

	score := 0.0
	for _, term := range searchTerms {
		if term != "" && strings.Contains(name, term) {
			score += h.KeywordMatchWeight
		}
	}
	for keyword, weight := range h.IntentWeights[intent] {
		if strings.Contains(name, keyword) {
			score += weight
		}
	}
	for _, term := range searchTerms {
		if term != "" && strings.Contains(colName, term) {
			score += h.CollectionMatchWeight
			break
		}
	}
	return math.Min(score, 1.0)
}

func (a *Assembler) buildTimeContext(intent string) TimeContext {
	h := a.cfg.Heuristics
	now := a.cfg.Clock.Now()
	quarter := (int(now.Month())-1)/3 + 1

	prevQuarter := fmt.Sprintf("Q%d %d", quarter-1, now.Year())
	if quarter == 1 {
		prevQuarter = fmt.Sprintf("Q4 %d", now.Year()-1)
	}
	prevMonth := now.AddDate(0, 0, -now.Day()) // last day of the previous month

	periods := h.DefaultPeriods
	if p, ok := h.SuggestedPeriods[intent]; ok {
		periods = p
	}

	return TimeContext{
		CurrentDate:      now.Format("2006-01-02"),
		CurrentQuarter:   fmt.Sprintf("Q%d %d", quarter, now.Year()),
		CurrentMonth:     now.Format("January 2006"),
		CurrentYear:      fmt.Sprintf("%d", now.Year()),
		PreviousQuarter:  prevQuarter,
		PreviousMonth:    prevMonth.Format("January 2006"),
		YTDStart:         fmt.Sprintf("%d-01-01", now.Year()),
		SuggestedPeriods: periods,
	}
}

// recordQuestion appends to the rolling history, truncates to the configured
// bound (drop-oldest) and recomputes intent frequencies over the window.
func (a *Assembler) recordQuestion(question, intent string) (recent []string, counts map[string]int) {
	h := a.cfg.Heuristics

	a.historyMu.Lock()
	defer a.historyMu.Unlock()

	a.history = append(a.history, questionRecord{
		question: question,
		intent:   intent,
		at:       a.cfg.Clock.Now(),
	})
	if len(a.history) > h.HistoryLimit {
		a.history = a.history[len(a.history)-h.HistoryLimit:]
	}

	start := len(a.history) - h.RecentQuestionLimit
	if start < 0 {
		start = 0
	}
	for _, rec := range a.history[start:] {
		recent = append(recent, rec.question)
	}

	counts = make(map[string]int, len(a.history))
	for _, rec := range a.history {
		counts[rec.intent]++
	}
	return recent, counts
}

// HistoryLen reports the current rolling-history size.
func (a *Assembler) HistoryLen() int {
	a.historyMu.Lock()
	defer a.historyMu.Unlock()
	return len(a.history)
}

// ClearHistory drops the rolling question history.
func (a *Assembler) ClearHistory() {
	a.historyMu.Lock()
	a.history = nil
	a.historyMu.Unlock()
	a.log.Info("Question history cleared")
}

// estimateComplexity computes the weighted score and attaches the bucket's
// canned hints.
func (a *Assembler) estimateComplexity(actx *AnalysisContext) {
	h := a.cfg.Heuristics

	score := float64(len(actx.Datasets)) * h.DatasetCountWeight

	totalTables := 0
	for _, te := range actx.Schema {
		totalTables += te.EstimatedTables
	}
	score += math.Min(float64(totalTables)*h.TableCountWeight, h.TableScoreCap)

	base, ok := h.IntentComplexity[actx.Intent]
	if !ok {
		base = h.DefaultIntentComplexity
	}
	score += base

	switch {
	case score < h.MediumThreshold:
		actx.Complexity = "Low"
		actx.PerformanceHints = append(actx.PerformanceHints, "Simple query expected", "Fast execution likely")
	case score < h.HighThreshold:
		actx.Complexity = "Medium"
		actx.PerformanceHints = append(actx.PerformanceHints, "Moderate complexity", "Consider data volume")
	default:
		actx.Complexity = "High"
		actx.PerformanceHints = append(actx.PerformanceHints,
			"Complex analysis detected",
			"May require multiple queries",
			"Consider breaking into smaller parts",
		)
	}
}
