// Package loader reads one registry snapshot file into memory. Registry
// portals publish both CSV and XLSX exports with slightly varying column
// headers, so the loader normalizes headers and field types before the
// records reach the detector.
package loader

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	e "github.com/gartstein/mca-insights/internal/registry/errors"
	"github.com/gartstein/mca-insights/internal/registry/models"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// FileLoader loads snapshots from local CSV or XLSX files.
type FileLoader struct {
	logger *zap.Logger
}

// NewFileLoader constructs a FileLoader.
func NewFileLoader(logger *zap.Logger) *FileLoader {
	return &FileLoader{logger: logger.Named("loader")}
}

// Load reads one snapshot file. All failures, including duplicate or missing
// CINs, are wrapped as ErrSnapshotLoad so the processor can apply its
// skip-unreadable policy uniformly.
func (l *FileLoader) Load(ctx context.Context, source string) (*models.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := readRows(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", e.ErrSnapshotLoad, source, err)
	}

	snap, err := buildSnapshot(rows)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", e.ErrSnapshotLoad, source, err)
	}

	l.logger.Info("Loaded snapshot",
		zap.String("source", source),
		zap.Int("records", len(snap.Records)),
		zap.Time("snapshot_date", snap.Date),
	)
	return snap, nil
}

// readRows returns the raw table of a CSV or XLSX file, header row included.
func readRows(source string) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(source)) {
	case ".xlsx":
		return readXLSX(source)
	default:
		return readCSV(source)
	}
}

func readCSV(source string) ([][]string, error) {
	f, err := os.Open(source)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	return reader.ReadAll()
}

func readXLSX(source string) ([][]string, error) {
	f, err := excelize.OpenFile(source)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	return f.GetRows(sheets[0])
}

// buildSnapshot maps a raw table to domain records. The snapshot date is
// taken from the first record, matching the one-date-per-snapshot contract.
func buildSnapshot(rows [][]string) (*models.Snapshot, error) {
	if len(rows) < 1 {
		return nil, fmt.Errorf("empty file")
	}

	cols := mapHeaders(rows[0])
	if _, ok := cols["cin"]; !ok {
		return nil, fmt.Errorf("missing CIN column")
	}

	snap := &models.Snapshot{}
	seen := make(map[string]struct{}, len(rows)-1)
	for i, row := range rows[1:] {
		rec, err := buildRecord(cols, row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %v", i+2, err)
		}
		if rec.CIN == "" {
			return nil, fmt.Errorf("row %d: missing CIN", i+2)
		}
		// Duplicate CINs within one snapshot would corrupt the diff, so the
		// whole snapshot is rejected rather than picking a winner.
		if _, dup := seen[rec.CIN]; dup {
			return nil, fmt.Errorf("duplicate CIN %q", rec.CIN)
		}
		seen[rec.CIN] = struct{}{}

		if snap.Date.IsZero() && !rec.SnapshotDate.IsZero() {
			snap.Date = rec.SnapshotDate
		}
		snap.Records = append(snap.Records, rec)
	}
	return snap, nil
}

// mapHeaders maps normalized header names to column positions. Later
// duplicates of a header are ignored.
func mapHeaders(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		key := normalizeHeader(h)
		if _, ok := cols[key]; !ok {
			cols[key] = i
		}
	}
	return cols
}

// normalizeHeader folds the header spellings seen across state exports:
// "Company_Name", "CompanyName" and " company name " all map to
// "companyname".
func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, "_", "")
	h = strings.ReplaceAll(h, " ", "")
	return h
}

func buildRecord(cols map[string]int, row []string) (models.CompanyRecord, error) {
	cell := func(names ...string) string {
		for _, name := range names {
			if i, ok := cols[name]; ok && i < len(row) {
				return strings.TrimSpace(row[i])
			}
		}
		return ""
	}

	rec := models.CompanyRecord{
		CIN:                    cell("cin"),
		Name:                   cell("companyname"),
		State:                  cell("state"),
		StateCode:              cell("statecode"),
		Status:                 cell("status", "companystatus"),
		Address:                cell("address", "registeredofficeaddress"),
		IndustryClassification: cell("industryclassification", "industrialclassification"),
		AuthorizedCapital:      parseCapital(cell("authorizedcapital")),
		PaidupCapital:          parseCapital(cell("paidupcapital")),
	}

	if raw := cell("snapshotdate"); raw != "" {
		ts, err := ParseDate(raw)
		if err != nil {
			return rec, fmt.Errorf("bad snapshot_date %q", raw)
		}
		rec.SnapshotDate = ts
	}
	if raw := cell("registrationdate", "companyregistrationdatedate"); raw != "" {
		// Registration dates arrive in assorted formats; an unparseable one
		// degrades to nil instead of failing the snapshot.
		if ts, err := ParseDate(raw); err == nil {
			rec.RegistrationDate = &ts
		}
	}
	return rec, nil
}

// dateLayouts are tried in order when normalizing timestamp columns.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"02-01-2006",
	"02/01/2006",
}

// ParseDate normalizes a source timestamp string.
func ParseDate(raw string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

// parseCapital coerces a numeric cell, tolerating thousands separators.
// Blank or unparseable values become nil; their canonical string form is
// then empty and field updates against them are suppressed by policy.
func parseCapital(raw string) *float64 {
	if raw == "" {
		return nil
	}
	raw = strings.ReplaceAll(raw, ",", "")
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &v
}
