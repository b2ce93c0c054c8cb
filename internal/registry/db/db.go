// Package db implements the durable store: the consolidated companies table
// and the append-only company_changes log, plus the aggregate queries the
// reporting layer reads.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	dbm "github.com/gartstein/mca-insights/internal/registry/db/models"
	e "github.com/gartstein/mca-insights/internal/registry/errors"
	"github.com/gartstein/mca-insights/internal/registry/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const appendBatchSize = 500

type Repository struct {
	db *gorm.DB
}

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// NewRepository connects to Postgres, retrying with exponential backoff so a
// pipeline started alongside the database does not fail on a cold boot, and
// creates the schema if it is missing.
func NewRepository(cfg *Config) (*Repository, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var db *gorm.DB
	err := backoff.Retry(func() error {
		var openErr error
		db, openErr = gorm.Open(postgres.Open(dsn), &gorm.Config{})
		return openErr
	}, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return newRepository(db)
}

// newRepository migrates the schema on an open connection. Tests reach it
// with an in-memory SQLite handle.
func newRepository(db *gorm.DB) (*Repository, error) {
	if err := db.AutoMigrate(&dbm.Company{}, &dbm.CompanyChange{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Repository{db: db}, nil
}

// ReplaceCompanies swaps the master table for the consolidated record set.
// The delete and insert run in one transaction so readers never observe a
// half-replaced table.
func (r *Repository) ReplaceCompanies(ctx context.Context, records []models.CompanyRecord) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&dbm.Company{}).Error; err != nil {
			return err
		}
		rows := make([]dbm.Company, 0, len(records))
		for _, rec := range records {
			rows = append(rows, toCompanyRow(rec))
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, appendBatchSize).Error
	})
	if err != nil {
		return fmt.Errorf("%w: replacing companies: %v", e.ErrPersistence, err)
	}
	return nil
}

// AppendChanges appends events to the durable change log. Events are never
// deduplicated or validated against the companies table; re-running the same
// inputs appends the same events again.
func (r *Repository) AppendChanges(ctx context.Context, events []models.ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]dbm.CompanyChange, 0, len(events))
	for _, ev := range events {
		rows = append(rows, toChangeRow(ev))
	}
	if err := r.db.WithContext(ctx).CreateInBatches(rows, appendBatchSize).Error; err != nil {
		return fmt.Errorf("%w: appending changes: %v", e.ErrPersistence, err)
	}
	return nil
}

// GetCompany fetches one company from the master table.
func (r *Repository) GetCompany(ctx context.Context, cin string) (*models.CompanyRecord, error) {
	var row dbm.Company
	result := r.db.WithContext(ctx).First(&row, "cin = ?", cin)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, e.ErrNotFound
		}
		return nil, result.Error
	}
	rec := toCompanyRecord(row)
	return &rec, nil
}

// SearchCompanies finds companies whose CIN or name contains the term.
func (r *Repository) SearchCompanies(ctx context.Context, term, by string) ([]models.CompanyRecord, error) {
	pattern := "%" + term + "%"
	query := r.db.WithContext(ctx).Model(&dbm.Company{}).Order("name")
	if by == "cin" {
		query = query.Where("cin LIKE ?", pattern)
	} else {
		query = query.Where("name LIKE ?", pattern)
	}

	var rows []dbm.Company
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toCompanyRecords(rows), nil
}

// ListFilter narrows and pages a company listing.
type ListFilter struct {
	State   string
	Status  string
	Page    int
	PerPage int
}

// ListCompanies returns one page of the master table plus the total count
// for the filter.
func (r *Repository) ListCompanies(ctx context.Context, f ListFilter) ([]models.CompanyRecord, int64, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = 50
	}

	query := r.db.WithContext(ctx).Model(&dbm.Company{})
	if f.State != "" {
		query = query.Where("state = ?", f.State)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []dbm.Company
	err := query.Order("name").
		Limit(f.PerPage).
		Offset((f.Page - 1) * f.PerPage).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return toCompanyRecords(rows), total, nil
}

// ListChanges returns the change history of one company, newest first.
func (r *Repository) ListChanges(ctx context.Context, cin string) ([]models.ChangeEvent, error) {
	var rows []dbm.CompanyChange
	err := r.db.WithContext(ctx).
		Where("cin = ?", cin).
		Order("date DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toChangeEvents(rows), nil
}

// RecentChanges returns the latest appended events, newest first.
func (r *Repository) RecentChanges(ctx context.Context, limit int) ([]models.ChangeEvent, error) {
	var rows []dbm.CompanyChange
	err := r.db.WithContext(ctx).
		Order("date DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toChangeEvents(rows), nil
}

// SummarizeChanges aggregates the persisted change log. An empty log yields
// the defined empty summary, not an error.
func (r *Repository) SummarizeChanges(ctx context.Context) (models.ChangeSummary, error) {
	summary := models.ChangeSummary{
		ChangeTypes:    make(map[string]int),
		FieldsChanged:  make(map[string]int),
		StatesAffected: make(map[string]int),
	}

	byType, err := r.groupChanges(ctx, "change_type")
	if err != nil {
		return summary, err
	}
	for _, kv := range byType {
		summary.ChangeTypes[kv.Key] = kv.Count
		summary.TotalChanges += kv.Count
	}

	byField, err := r.groupChanges(ctx, "field_changed")
	if err != nil {
		return summary, err
	}
	for _, kv := range byField {
		summary.FieldsChanged[kv.Key] = kv.Count
	}

	byState, err := r.groupChanges(ctx, "state")
	if err != nil {
		return summary, err
	}
	for _, kv := range byState {
		summary.StatesAffected[kv.Key] = kv.Count
	}

	if summary.TotalChanges > 0 {
		var bounds struct {
			Earliest time.Time
			Latest   time.Time
		}
		err = r.db.WithContext(ctx).Model(&dbm.CompanyChange{}).
			Select("MIN(date) AS earliest, MAX(date) AS latest").
			Scan(&bounds).Error
		if err != nil {
			return summary, err
		}
		summary.DateRange = models.DateRange{Earliest: bounds.Earliest, Latest: bounds.Latest}
	}
	return summary, nil
}

// KV is one bucket of a grouped count.
type KV struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// DayCount is one day of the change trend.
type DayCount struct {
	Day   string `json:"date"`
	Count int    `json:"count"`
}

// DashboardStats is the aggregate block behind the dashboard endpoint.
type DashboardStats struct {
	TotalCompanies       int64                `json:"total_companies"`
	ActiveCompanies      int64                `json:"active_companies"`
	AvgAuthorizedCapital float64              `json:"avg_authorized_capital"`
	MaxAuthorizedCapital float64              `json:"max_authorized_capital"`
	StateDistribution    []KV                 `json:"state_distribution"`
	StatusDistribution   []KV                 `json:"status_distribution"`
	RecentChanges        []models.ChangeEvent `json:"recent_changes"`
}

// DashboardStats aggregates the master table and the latest changes.
func (r *Repository) DashboardStats(ctx context.Context) (DashboardStats, error) {
	var stats DashboardStats

	tx := r.db.WithContext(ctx)
	if err := tx.Model(&dbm.Company{}).Count(&stats.TotalCompanies).Error; err != nil {
		return stats, err
	}
	err := tx.Model(&dbm.Company{}).
		Where("UPPER(status) = ?", "ACTIVE").
		Count(&stats.ActiveCompanies).Error
	if err != nil {
		return stats, err
	}

	var capitals struct {
		Avg *float64
		Max *float64
	}
	err = tx.Model(&dbm.Company{}).
		Select("AVG(authorized_capital) AS avg, MAX(authorized_capital) AS max").
		Scan(&capitals).Error
	if err != nil {
		return stats, err
	}
	if capitals.Avg != nil {
		stats.AvgAuthorizedCapital = *capitals.Avg
	}
	if capitals.Max != nil {
		stats.MaxAuthorizedCapital = *capitals.Max
	}

	if stats.StateDistribution, err = r.groupCompanies(ctx, "state"); err != nil {
		return stats, err
	}
	if stats.StatusDistribution, err = r.groupCompanies(ctx, "status"); err != nil {
		return stats, err
	}
	if stats.RecentChanges, err = r.RecentChanges(ctx, 10); err != nil {
		return stats, err
	}
	return stats, nil
}

// ChangesAnalysis is the aggregate block behind the changes-analysis
// endpoint.
type ChangesAnalysis struct {
	ByType     []KV       `json:"changes_by_type"`
	ByState    []KV       `json:"changes_by_state"`
	DailyTrend []DayCount `json:"daily_trend"`
}

// ChangesAnalysis aggregates the change log by type, state, and day. The
// daily trend covers at most days buckets, newest first. Day bucketing is
// done in Go because SQLite and Postgres disagree on date truncation.
func (r *Repository) ChangesAnalysis(ctx context.Context, days int) (ChangesAnalysis, error) {
	var analysis ChangesAnalysis

	var err error
	if analysis.ByType, err = r.groupChanges(ctx, "change_type"); err != nil {
		return analysis, err
	}
	if analysis.ByState, err = r.groupChanges(ctx, "state"); err != nil {
		return analysis, err
	}

	var dates []time.Time
	err = r.db.WithContext(ctx).Model(&dbm.CompanyChange{}).
		Order("date DESC").
		Pluck("date", &dates).Error
	if err != nil {
		return analysis, err
	}

	counts := make(map[string]int)
	var order []string
	for _, d := range dates {
		day := d.Format("2006-01-02")
		if _, ok := counts[day]; !ok {
			if len(order) == days {
				break
			}
			order = append(order, day)
		}
		counts[day]++
	}
	for _, day := range order {
		analysis.DailyTrend = append(analysis.DailyTrend, DayCount{Day: day, Count: counts[day]})
	}
	return analysis, nil
}

// ChangeCountsByState counts events of one type per state, largest first.
func (r *Repository) ChangeCountsByState(ctx context.Context, changeType models.ChangeType) ([]KV, error) {
	var rows []KV
	err := r.db.WithContext(ctx).Model(&dbm.CompanyChange{}).
		Select("state AS key, COUNT(*) AS count").
		Where("change_type = ?", string(changeType)).
		Group("state").
		Order("count DESC").
		Scan(&rows).Error
	return rows, err
}

// SectorCounts counts companies per industry classification, largest first.
func (r *Repository) SectorCounts(ctx context.Context, limit int) ([]KV, error) {
	var rows []KV
	err := r.db.WithContext(ctx).Model(&dbm.Company{}).
		Select("industry_classification AS key, COUNT(*) AS count").
		Where("industry_classification <> ''").
		Group("industry_classification").
		Order("count DESC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

// CapitalStats returns the average and maximum authorized capital of the
// master table.
func (r *Repository) CapitalStats(ctx context.Context) (avg, max float64, err error) {
	var capitals struct {
		Avg *float64
		Max *float64
	}
	err = r.db.WithContext(ctx).Model(&dbm.Company{}).
		Select("AVG(authorized_capital) AS avg, MAX(authorized_capital) AS max").
		Scan(&capitals).Error
	if err != nil {
		return 0, 0, err
	}
	if capitals.Avg != nil {
		avg = *capitals.Avg
	}
	if capitals.Max != nil {
		max = *capitals.Max
	}
	return avg, max, nil
}

// CompanyCountsByState counts master-table companies per state.
func (r *Repository) CompanyCountsByState(ctx context.Context) ([]KV, error) {
	return r.groupCompanies(ctx, "state")
}

func (r *Repository) groupChanges(ctx context.Context, column string) ([]KV, error) {
	var rows []KV
	err := r.db.WithContext(ctx).Model(&dbm.CompanyChange{}).
		Select(column + " AS key, COUNT(*) AS count").
		Group(column).
		Order("count DESC").
		Scan(&rows).Error
	return rows, err
}

func (r *Repository) groupCompanies(ctx context.Context, column string) ([]KV, error) {
	var rows []KV
	err := r.db.WithContext(ctx).Model(&dbm.Company{}).
		Select(column + " AS key, COUNT(*) AS count").
		Group(column).
		Order("count DESC").
		Scan(&rows).Error
	return rows, err
}

func (r *Repository) Close() error {
	db, err := r.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

func toCompanyRow(rec models.CompanyRecord) dbm.Company {
	return dbm.Company{
		CIN:                    rec.CIN,
		Name:                   rec.Name,
		State:                  rec.State,
		StateCode:              rec.StateCode,
		Status:                 rec.Status,
		AuthorizedCapital:      rec.AuthorizedCapital,
		PaidupCapital:          rec.PaidupCapital,
		Address:                rec.Address,
		IndustryClassification: rec.IndustryClassification,
		RegistrationDate:       rec.RegistrationDate,
		SnapshotDate:           rec.SnapshotDate,
	}
}

func toCompanyRecord(row dbm.Company) models.CompanyRecord {
	return models.CompanyRecord{
		CIN:                    row.CIN,
		Name:                   row.Name,
		State:                  row.State,
		StateCode:              row.StateCode,
		Status:                 row.Status,
		AuthorizedCapital:      row.AuthorizedCapital,
		PaidupCapital:          row.PaidupCapital,
		Address:                row.Address,
		IndustryClassification: row.IndustryClassification,
		RegistrationDate:       row.RegistrationDate,
		SnapshotDate:           row.SnapshotDate,
	}
}

func toCompanyRecords(rows []dbm.Company) []models.CompanyRecord {
	records := make([]models.CompanyRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, toCompanyRecord(row))
	}
	return records
}

func toChangeRow(ev models.ChangeEvent) dbm.CompanyChange {
	return dbm.CompanyChange{
		CIN:          ev.CIN,
		ChangeType:   string(ev.Type),
		FieldChanged: ev.FieldChanged,
		OldValue:     ev.OldValue,
		NewValue:     ev.NewValue,
		Date:         ev.Date,
		CompanyName:  ev.CompanyName,
		State:        ev.State,
		Status:       ev.Status,
	}
}

func toChangeEvents(rows []dbm.CompanyChange) []models.ChangeEvent {
	events := make([]models.ChangeEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, models.ChangeEvent{
			CIN:          row.CIN,
			Type:         models.ChangeType(row.ChangeType),
			FieldChanged: row.FieldChanged,
			OldValue:     row.OldValue,
			NewValue:     row.NewValue,
			Date:         row.Date,
			CompanyName:  row.CompanyName,
			State:        row.State,
			Status:       row.Status,
		})
	}
	return events
}
