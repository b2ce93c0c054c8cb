// Package detector implements the snapshot diff at the heart of the engine:
// comparing two daily registry snapshots and classifying every company into
// new incorporation, deregistration, or field-level update.
package detector

import (
	"time"

	"github.com/gartstein/mca-insights/internal/registry/models"
)

// Detect compares two consecutive snapshots and returns the change events
// between them, in category order: new incorporations, then deregistrations,
// then field updates. Within a category the input record order is followed,
// so repeated runs over the same snapshots produce identical output.
//
// oldSnap may be nil for the very first snapshot in a sequence; every record
// of newSnap is then a new incorporation. changeDate is stamped on every
// event as supplied, it is not derived from the records.
func Detect(oldSnap, newSnap *models.Snapshot, changeDate time.Time) []models.ChangeEvent {
	var changes []models.ChangeEvent

	var oldIdx map[string]models.CompanyRecord
	if oldSnap != nil {
		oldIdx = oldSnap.Index()
	}
	newIdx := newSnap.Index()

	// New incorporations: CINs present only in the new snapshot.
	for _, rec := range newSnap.Records {
		if _, ok := oldIdx[rec.CIN]; ok {
			continue
		}
		changes = append(changes, models.ChangeEvent{
			CIN:          rec.CIN,
			Type:         models.NewIncorporation,
			FieldChanged: models.FieldAll,
			OldValue:     "",
			NewValue:     rec.Name,
			Date:         changeDate,
			CompanyName:  rec.Name,
			State:        rec.State,
			Status:       rec.Status,
		})
	}

	if oldSnap == nil {
		return changes
	}

	// Deregistrations: CINs that disappeared. The event status is forced to
	// Deregistered so reporting never shows the stale pre-removal status.
	for _, rec := range oldSnap.Records {
		if _, ok := newIdx[rec.CIN]; ok {
			continue
		}
		changes = append(changes, models.ChangeEvent{
			CIN:          rec.CIN,
			Type:         models.Deregistration,
			FieldChanged: models.FieldStatus,
			OldValue:     rec.Status,
			NewValue:     models.StatusDeregistered,
			Date:         changeDate,
			CompanyName:  rec.Name,
			State:        rec.State,
			Status:       models.StatusDeregistered,
		})
	}

	// Field updates on companies present in both snapshots. Each changed
	// tracked field yields its own event; identity columns come from the
	// new record.
	for _, newRec := range newSnap.Records {
		oldRec, ok := oldIdx[newRec.CIN]
		if !ok {
			continue
		}
		for _, field := range models.TrackedFields {
			oldVal := oldRec.TrackedValue(field)
			newVal := newRec.TrackedValue(field)
			if !fieldUpdateReportable(oldVal, newVal) {
				continue
			}
			changes = append(changes, models.ChangeEvent{
				CIN:          newRec.CIN,
				Type:         models.FieldUpdate,
				FieldChanged: field,
				OldValue:     oldVal,
				NewValue:     newVal,
				Date:         changeDate,
				CompanyName:  newRec.Name,
				State:        newRec.State,
				Status:       newRec.Status,
			})
		}
	}

	return changes
}

// fieldUpdateReportable applies the field-update policy: both canonical
// values must be non-empty and differ. Empty-to-populated transitions (and
// the reverse) are suppressed so missing-data backfills do not surface as
// edits. Flip this predicate to change the policy engine-wide.
func fieldUpdateReportable(oldVal, newVal string) bool {
	return oldVal != "" && newVal != "" && oldVal != newVal
}
