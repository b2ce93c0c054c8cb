package db

import (
	"context"
	"testing"
	"time"

	"github.com/gartstein/mca-insights/internal/pkg/utils"
	e "github.com/gartstein/mca-insights/internal/registry/errors"
	"github.com/gartstein/mca-insights/internal/registry/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestRepository(t *testing.T) *Repository {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	repo, err := newRepository(gdb)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = repo.Close()
	})
	return repo
}

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func seedCompanies(t *testing.T, repo *Repository) {
	t.Helper()
	err := repo.ReplaceCompanies(context.Background(), []models.CompanyRecord{
		{CIN: "U100", Name: "ALPHA STEEL", State: "Maharashtra", Status: "ACTIVE",
			AuthorizedCapital: utils.Ptr(1000000.0), IndustryClassification: "Manufacturing"},
		{CIN: "U200", Name: "BETA FOODS", State: "Gujarat", Status: "ACTIVE",
			AuthorizedCapital: utils.Ptr(500000.0), IndustryClassification: "Food Processing"},
		{CIN: "U300", Name: "GAMMA MOTORS", State: "Maharashtra", Status: "STRIKE OFF",
			IndustryClassification: "Manufacturing"},
	})
	require.NoError(t, err)
}

func TestReplaceCompanies(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()
	seedCompanies(t, repo)

	// Replacing again must swap the table, not accumulate.
	err := repo.ReplaceCompanies(ctx, []models.CompanyRecord{
		{CIN: "U900", Name: "DELTA TEXTILES", State: "Punjab", Status: "ACTIVE"},
	})
	require.NoError(t, err)

	_, total, err := repo.ListCompanies(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	_, err = repo.GetCompany(ctx, "U100")
	assert.ErrorIs(t, err, e.ErrNotFound)
}

func TestGetCompany(t *testing.T) {
	repo := setupTestRepository(t)
	seedCompanies(t, repo)

	rec, err := repo.GetCompany(context.Background(), "U100")
	require.NoError(t, err)
	assert.Equal(t, "ALPHA STEEL", rec.Name)
	require.NotNil(t, rec.AuthorizedCapital)
	assert.Equal(t, 1000000.0, *rec.AuthorizedCapital)

	_, err = repo.GetCompany(context.Background(), "UNKNOWN")
	assert.ErrorIs(t, err, e.ErrNotFound)
}

func TestSearchCompanies(t *testing.T) {
	repo := setupTestRepository(t)
	seedCompanies(t, repo)
	ctx := context.Background()

	byName, err := repo.SearchCompanies(ctx, "ALPHA", "name")
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, "U100", byName[0].CIN)

	byCIN, err := repo.SearchCompanies(ctx, "U2", "cin")
	require.NoError(t, err)
	require.Len(t, byCIN, 1)
	assert.Equal(t, "BETA FOODS", byCIN[0].Name)

	none, err := repo.SearchCompanies(ctx, "NOPE", "name")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListCompanies(t *testing.T) {
	repo := setupTestRepository(t)
	seedCompanies(t, repo)
	ctx := context.Background()

	all, total, err := repo.ListCompanies(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, all, 3)

	filtered, total, err := repo.ListCompanies(ctx, ListFilter{State: "Maharashtra", Status: "ACTIVE"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, filtered, 1)
	assert.Equal(t, "U100", filtered[0].CIN)

	// Pagination: one record per page, count covers the full filter.
	page2, total, err := repo.ListCompanies(ctx, ListFilter{Page: 2, PerPage: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, page2, 1)
	assert.Equal(t, "BETA FOODS", page2[0].Name, "pages are ordered by name")
}

// TestAppendChangesNoDedup pins the append-only contract: re-appending the
// same events grows the log.
func TestAppendChangesNoDedup(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	events := []models.ChangeEvent{{
		CIN: "U100", Type: models.FieldUpdate, FieldChanged: models.FieldStatus,
		OldValue: "ACTIVE", NewValue: "DORMANT", Date: day(2),
		CompanyName: "ALPHA STEEL", State: "Maharashtra", Status: "DORMANT",
	}}
	require.NoError(t, repo.AppendChanges(ctx, events))
	require.NoError(t, repo.AppendChanges(ctx, events))

	history, err := repo.ListChanges(ctx, "U100")
	require.NoError(t, err)
	assert.Len(t, history, 2, "append must not deduplicate")
}

func TestAppendChangesEmpty(t *testing.T) {
	repo := setupTestRepository(t)
	assert.NoError(t, repo.AppendChanges(context.Background(), nil))
}

func TestListChangesNewestFirst(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.AppendChanges(ctx, []models.ChangeEvent{
		{CIN: "U100", Type: models.NewIncorporation, FieldChanged: models.FieldAll, Date: day(1)},
		{CIN: "U100", Type: models.FieldUpdate, FieldChanged: models.FieldStatus, Date: day(3)},
		{CIN: "U100", Type: models.FieldUpdate, FieldChanged: models.FieldAddress, Date: day(2)},
		{CIN: "U999", Type: models.NewIncorporation, FieldChanged: models.FieldAll, Date: day(2)},
	}))

	history, err := repo.ListChanges(ctx, "U100")
	require.NoError(t, err)
	require.Len(t, history, 3, "only the requested company's history")
	assert.Equal(t, day(3), history[0].Date.UTC())
	assert.Equal(t, day(2), history[1].Date.UTC())
	assert.Equal(t, day(1), history[2].Date.UTC())
}

func TestSummarizeChanges(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.AppendChanges(ctx, []models.ChangeEvent{
		{CIN: "U100", Type: models.NewIncorporation, FieldChanged: models.FieldAll, State: "Maharashtra", Date: day(1)},
		{CIN: "U200", Type: models.FieldUpdate, FieldChanged: models.FieldStatus, State: "Gujarat", Date: day(2)},
		{CIN: "U300", Type: models.FieldUpdate, FieldChanged: models.FieldStatus, State: "Maharashtra", Date: day(3)},
	}))

	summary, err := repo.SummarizeChanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalChanges)
	assert.Equal(t, 1, summary.ChangeTypes[string(models.NewIncorporation)])
	assert.Equal(t, 2, summary.ChangeTypes[string(models.FieldUpdate)])
	assert.Equal(t, 2, summary.FieldsChanged[models.FieldStatus])
	assert.Equal(t, 2, summary.StatesAffected["Maharashtra"])
	assert.Equal(t, day(1), summary.DateRange.Earliest.UTC())
	assert.Equal(t, day(3), summary.DateRange.Latest.UTC())
}

// TestSummarizeChangesEmpty verifies the defined empty summary on a fresh
// log.
func TestSummarizeChangesEmpty(t *testing.T) {
	repo := setupTestRepository(t)

	summary, err := repo.SummarizeChanges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.TotalChanges)
	assert.Empty(t, summary.ChangeTypes)
	assert.True(t, summary.DateRange.Earliest.IsZero())
}

func TestDashboardStats(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()
	seedCompanies(t, repo)
	require.NoError(t, repo.AppendChanges(ctx, []models.ChangeEvent{
		{CIN: "U100", Type: models.FieldUpdate, FieldChanged: models.FieldStatus, Date: day(2)},
	}))

	stats, err := repo.DashboardStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalCompanies)
	assert.Equal(t, int64(2), stats.ActiveCompanies)
	assert.Equal(t, 750000.0, stats.AvgAuthorizedCapital, "average ignores NULL capitals")
	assert.Equal(t, 1000000.0, stats.MaxAuthorizedCapital)
	require.NotEmpty(t, stats.StateDistribution)
	assert.Equal(t, KV{Key: "Maharashtra", Count: 2}, stats.StateDistribution[0])
	require.Len(t, stats.RecentChanges, 1)
	assert.Equal(t, "U100", stats.RecentChanges[0].CIN)
}

func TestChangesAnalysis(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.AppendChanges(ctx, []models.ChangeEvent{
		{CIN: "U100", Type: models.NewIncorporation, State: "Maharashtra", Date: day(1)},
		{CIN: "U200", Type: models.FieldUpdate, State: "Gujarat", Date: day(2)},
		{CIN: "U300", Type: models.FieldUpdate, State: "Gujarat", Date: day(2)},
		{CIN: "U400", Type: models.Deregistration, State: "Delhi", Date: day(3)},
	}))

	analysis, err := repo.ChangesAnalysis(ctx, 2)
	require.NoError(t, err)

	byType := make(map[string]int)
	for _, kv := range analysis.ByType {
		byType[kv.Key] = kv.Count
	}
	assert.Equal(t, 2, byType[string(models.FieldUpdate)])
	assert.Equal(t, 1, byType[string(models.Deregistration)])

	// Two buckets requested: only the two newest days appear.
	require.Len(t, analysis.DailyTrend, 2)
	assert.Equal(t, DayCount{Day: "2024-03-03", Count: 1}, analysis.DailyTrend[0])
	assert.Equal(t, DayCount{Day: "2024-03-02", Count: 2}, analysis.DailyTrend[1])
}

func TestChangeCountsByState(t *testing.T) {
	repo := setupTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.AppendChanges(ctx, []models.ChangeEvent{
		{CIN: "U100", Type: models.NewIncorporation, State: "Maharashtra", Date: day(1)},
		{CIN: "U200", Type: models.NewIncorporation, State: "Maharashtra", Date: day(1)},
		{CIN: "U300", Type: models.NewIncorporation, State: "Gujarat", Date: day(1)},
		{CIN: "U400", Type: models.Deregistration, State: "Gujarat", Date: day(1)},
	}))

	counts, err := repo.ChangeCountsByState(ctx, models.NewIncorporation)
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, KV{Key: "Maharashtra", Count: 2}, counts[0])
	assert.Equal(t, KV{Key: "Gujarat", Count: 1}, counts[1])
}

func TestSectorCounts(t *testing.T) {
	repo := setupTestRepository(t)
	seedCompanies(t, repo)

	counts, err := repo.SectorCounts(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, KV{Key: "Manufacturing", Count: 2}, counts[0])
}

func TestCapitalStats(t *testing.T) {
	repo := setupTestRepository(t)
	seedCompanies(t, repo)

	avg, max, err := repo.CapitalStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 750000.0, avg)
	assert.Equal(t, 1000000.0, max)
}

func TestCapitalStatsEmptyTable(t *testing.T) {
	repo := setupTestRepository(t)

	avg, max, err := repo.CapitalStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, avg)
	assert.Zero(t, max)
}
