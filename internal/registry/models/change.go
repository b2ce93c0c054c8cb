package models

import "time"

// ChangeType classifies a detected change.
type ChangeType string

const (
	// NewIncorporation marks a CIN present only in the newer snapshot.
	NewIncorporation ChangeType = "New Incorporation"
	// Deregistration marks a CIN that disappeared from the newer snapshot.
	Deregistration ChangeType = "Deregistration"
	// FieldUpdate marks a tracked field differing between snapshots.
	FieldUpdate ChangeType = "Field Update"
)

// StatusDeregistered is the status stamped on deregistration events,
// regardless of the status the company last carried.
const StatusDeregistered = "Deregistered"

// ChangeEvent is one detected delta between two snapshots for one company.
type ChangeEvent struct {
	CIN          string     `json:"cin"`
	Type         ChangeType `json:"change_type"`
	FieldChanged string     `json:"field_changed"`
	OldValue     string     `json:"old_value"`
	NewValue     string     `json:"new_value"`
	// Date is the change timestamp supplied by the caller, not derived
	// from the records.
	Date time.Time `json:"date"`
	// CompanyName, State and Status are denormalized at event time so
	// reporting never has to re-join against the companies table.
	CompanyName string `json:"company_name"`
	State       string `json:"state"`
	Status      string `json:"status"`
}

// DateRange is the closed interval covered by a set of change events.
type DateRange struct {
	Earliest time.Time `json:"earliest" yaml:"earliest"`
	Latest   time.Time `json:"latest" yaml:"latest"`
}

// ChangeSummary aggregates a change log for reporting.
type ChangeSummary struct {
	TotalChanges   int            `json:"total_changes" yaml:"total_changes"`
	ChangeTypes    map[string]int `json:"change_types" yaml:"change_types"`
	FieldsChanged  map[string]int `json:"fields_changed" yaml:"fields_changed"`
	StatesAffected map[string]int `json:"states_affected" yaml:"states_affected"`
	DateRange      DateRange      `json:"date_range" yaml:"date_range"`
}

// Summarize aggregates an in-memory change log. A zero-event log yields the
// defined empty summary, not an error: a run with no changes is a valid
// outcome and callers report it distinctly from a failed run.
func Summarize(events []ChangeEvent) ChangeSummary {
	summary := ChangeSummary{
		ChangeTypes:    make(map[string]int),
		FieldsChanged:  make(map[string]int),
		StatesAffected: make(map[string]int),
	}
	for _, ev := range events {
		summary.TotalChanges++
		summary.ChangeTypes[string(ev.Type)]++
		summary.FieldsChanged[ev.FieldChanged]++
		summary.StatesAffected[ev.State]++
		if summary.DateRange.Earliest.IsZero() || ev.Date.Before(summary.DateRange.Earliest) {
			summary.DateRange.Earliest = ev.Date
		}
		if ev.Date.After(summary.DateRange.Latest) {
			summary.DateRange.Latest = ev.Date
		}
	}
	return summary
}
