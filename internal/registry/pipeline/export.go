package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	e "github.com/gartstein/mca-insights/internal/registry/errors"
	"github.com/gartstein/mca-insights/internal/registry/models"
)

// exportChangeLog writes the full detected event list for offline consumers.
// The format follows the file extension: .json gets an indented JSON array,
// anything else the change-log CSV schema.
func exportChangeLog(events []models.ChangeEvent, path string) error {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return exportChangeLogJSON(events, path)
	}
	return exportChangeLogCSV(events, path)
}

func exportChangeLogCSV(events []models.ChangeEvent, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", e.ErrPersistence, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"CIN", "Change_Type", "Field_Changed", "Old_Value", "New_Value",
		"Date", "Company_Name", "State", "Status",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("%w: %v", e.ErrPersistence, err)
	}
	for _, ev := range events {
		row := []string{
			ev.CIN,
			string(ev.Type),
			ev.FieldChanged,
			ev.OldValue,
			ev.NewValue,
			ev.Date.Format("2006-01-02"),
			ev.CompanyName,
			ev.State,
			ev.Status,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("%w: %v", e.ErrPersistence, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("%w: %v", e.ErrPersistence, err)
	}
	return nil
}

func exportChangeLogJSON(events []models.ChangeEvent, path string) error {
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", e.ErrPersistence, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", e.ErrPersistence, err)
	}
	return nil
}
