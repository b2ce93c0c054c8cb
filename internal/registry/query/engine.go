// Package query implements the rule-based conversational query engine:
// keyword routing over the persisted companies and change log, no
// generative model involved.
package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gartstein/mca-insights/internal/registry/db"
	"github.com/gartstein/mca-insights/internal/registry/models"
	"go.uber.org/zap"
)

// Store is the slice of the repository the engine queries.
type Store interface {
	ChangeCountsByState(ctx context.Context, changeType models.ChangeType) ([]db.KV, error)
	SectorCounts(ctx context.Context, limit int) ([]db.KV, error)
	CapitalStats(ctx context.Context) (avg, max float64, err error)
	CompanyCountsByState(ctx context.Context) ([]db.KV, error)
	SummarizeChanges(ctx context.Context) (models.ChangeSummary, error)
}

// Engine answers natural-language questions about registry data by routing
// on keywords to aggregate queries.
type Engine struct {
	store  Store
	logger *zap.Logger
}

// NewEngine constructs an Engine over a store.
func NewEngine(store Store, logger *zap.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logger.Named("query_engine"),
	}
}

// Answer routes a question to the matching handler. Unmatched questions get
// the overall change summary rather than an error.
func (e *Engine) Answer(ctx context.Context, question string) (string, error) {
	q := strings.ToLower(question)

	switch {
	case strings.Contains(q, "new incorporation") || strings.Contains(q, "newly incorporated"):
		return e.answerChangeCounts(ctx, models.NewIncorporation, "newly incorporated companies")
	case strings.Contains(q, "struck off") || strings.Contains(q, "strike off") || strings.Contains(q, "deregistered"):
		return e.answerChangeCounts(ctx, models.Deregistration, "deregistered companies")
	case strings.Contains(q, "sector") || strings.Contains(q, "industry") || strings.Contains(q, "manufacturing"):
		return e.answerSectors(ctx)
	case strings.Contains(q, "capital"):
		return e.answerCapital(ctx)
	case strings.Contains(q, "state") || containsKnownState(q):
		return e.answerStates(ctx, q)
	default:
		return e.answerGeneral(ctx)
	}
}

func (e *Engine) answerChangeCounts(ctx context.Context, changeType models.ChangeType, noun string) (string, error) {
	counts, err := e.store.ChangeCountsByState(ctx, changeType)
	if err != nil {
		return "", err
	}
	if len(counts) == 0 {
		return fmt.Sprintf("No %s found in the change log.", noun), nil
	}

	total := 0
	var parts []string
	for _, kv := range counts {
		total += kv.Count
		parts = append(parts, fmt.Sprintf("%s: %d", kv.Key, kv.Count))
	}
	return fmt.Sprintf("Found %d %s. By state: %s.", total, noun, strings.Join(parts, ", ")), nil
}

func (e *Engine) answerSectors(ctx context.Context) (string, error) {
	counts, err := e.store.SectorCounts(ctx, 5)
	if err != nil {
		return "", err
	}
	if len(counts) == 0 {
		return "No industry classification data is available.", nil
	}

	var parts []string
	for _, kv := range counts {
		parts = append(parts, fmt.Sprintf("%s (%d)", kv.Key, kv.Count))
	}
	return fmt.Sprintf("Top sectors by company count: %s.", strings.Join(parts, ", ")), nil
}

func (e *Engine) answerCapital(ctx context.Context) (string, error) {
	avg, max, err := e.store.CapitalStats(ctx)
	if err != nil {
		return "", err
	}
	if avg == 0 && max == 0 {
		return "No capital data is available.", nil
	}
	return fmt.Sprintf("Average authorized capital is ₹%.2f; the largest is ₹%.2f.", avg, max), nil
}

func (e *Engine) answerStates(ctx context.Context, q string) (string, error) {
	counts, err := e.store.CompanyCountsByState(ctx)
	if err != nil {
		return "", err
	}
	if len(counts) == 0 {
		return "No company data is available.", nil
	}

	// Asking about one specific state narrows the answer to it.
	for _, kv := range counts {
		if kv.Key != "" && strings.Contains(q, strings.ToLower(kv.Key)) {
			return fmt.Sprintf("%s has %d registered companies.", kv.Key, kv.Count), nil
		}
	}

	var parts []string
	for _, kv := range counts {
		parts = append(parts, fmt.Sprintf("%s: %d", kv.Key, kv.Count))
	}
	return fmt.Sprintf("Companies by state: %s.", strings.Join(parts, ", ")), nil
}

func (e *Engine) answerGeneral(ctx context.Context) (string, error) {
	summary, err := e.store.SummarizeChanges(ctx)
	if err != nil {
		return "", err
	}
	if summary.TotalChanges == 0 {
		return "No changes have been detected yet. Try asking about states, sectors, or capital.", nil
	}

	var parts []string
	for changeType, count := range summary.ChangeTypes {
		parts = append(parts, fmt.Sprintf("%s: %d", changeType, count))
	}
	sort.Strings(parts)
	return fmt.Sprintf("The change log holds %d events (%s) between %s and %s.",
		summary.TotalChanges,
		strings.Join(parts, ", "),
		summary.DateRange.Earliest.Format("2006-01-02"),
		summary.DateRange.Latest.Format("2006-01-02"),
	), nil
}

// knownStates are the registry sources this deployment consolidates.
var knownStates = []string{"maharashtra", "gujarat", "delhi", "tamil nadu", "karnataka"}

func containsKnownState(q string) bool {
	for _, s := range knownStates {
		if strings.Contains(q, s) {
			return true
		}
	}
	return false
}
