// Package models defines the core domain models for the registry insights
// engine: company records, dated snapshots, and the change events detected
// between consecutive snapshots.
package models

import (
	"strconv"
	"time"
)

// CompanyRecord is one row of a registry snapshot.
type CompanyRecord struct {
	// CIN is the corporate identification number, unique within a snapshot
	// and the join key across snapshots.
	CIN string `json:"cin"`
	// Name is the registered company name.
	Name string `json:"company_name"`
	// State is the registering state, title-cased.
	State string `json:"state"`
	// StateCode is the lower-cased short code of the registering state.
	StateCode string `json:"state_code"`
	// Status is the registry status, e.g. "ACTIVE" or "STRIKE OFF".
	Status string `json:"status"`
	// AuthorizedCapital is the authorized capital in rupees, nil when the
	// source left it blank or unparseable.
	AuthorizedCapital *float64 `json:"authorized_capital"`
	// PaidupCapital is the paid-up capital in rupees, nil when absent.
	PaidupCapital *float64 `json:"paidup_capital"`
	// Address is the registered office address.
	Address string `json:"address"`
	// IndustryClassification is the registry's industry bucket.
	IndustryClassification string `json:"industry_classification"`
	// RegistrationDate is the incorporation date, nil when absent.
	RegistrationDate *time.Time `json:"registration_date"`
	// SnapshotDate is the date this record was observed.
	SnapshotDate time.Time `json:"snapshot_date"`
}

// Tracked field names, as persisted in the change log. The values match the
// column headers of the upstream registry exports.
const (
	FieldAll                    = "All"
	FieldStatus                 = "Status"
	FieldAuthorizedCapital      = "Authorized_Capital"
	FieldPaidupCapital          = "Paidup_Capital"
	FieldCompanyName            = "Company_Name"
	FieldAddress                = "Address"
	FieldIndustryClassification = "Industry_Classification"
)

// TrackedFields is the fixed, ordered set of fields eligible for
// field-update detection.
var TrackedFields = []string{
	FieldStatus,
	FieldAuthorizedCapital,
	FieldPaidupCapital,
	FieldCompanyName,
	FieldAddress,
	FieldIndustryClassification,
}

// TrackedValue returns the canonical string form of one tracked field.
// Comparisons between snapshots happen on these strings, so the
// stringification is defined here once and nowhere else.
func (r *CompanyRecord) TrackedValue(field string) string {
	switch field {
	case FieldStatus:
		return r.Status
	case FieldAuthorizedCapital:
		return FormatCapital(r.AuthorizedCapital)
	case FieldPaidupCapital:
		return FormatCapital(r.PaidupCapital)
	case FieldCompanyName:
		return r.Name
	case FieldAddress:
		return r.Address
	case FieldIndustryClassification:
		return r.IndustryClassification
	}
	return ""
}

// FormatCapital renders a nullable capital amount in canonical form: the
// shortest decimal that round-trips, or the empty string when absent.
// 500000 and 500000.0 therefore compare equal across snapshots.
func FormatCapital(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// Snapshot is a point-in-time record set of companies sharing one nominal
// observation date. It is immutable once loaded.
type Snapshot struct {
	// Date is the representative snapshot date for all records.
	Date time.Time
	// Records holds the companies in source order.
	Records []CompanyRecord
}

// Index maps CIN to record. When the unique-CIN invariant has been violated
// upstream the first row wins; the loader rejects such snapshots before
// they reach the detector.
func (s *Snapshot) Index() map[string]CompanyRecord {
	idx := make(map[string]CompanyRecord, len(s.Records))
	for _, rec := range s.Records {
		if _, ok := idx[rec.CIN]; !ok {
			idx[rec.CIN] = rec
		}
	}
	return idx
}
