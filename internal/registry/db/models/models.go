// Package models contains the persistence models for the master companies
// table and the append-only change log, configured for GORM.
package models

import (
	"time"
)

// Company is one row of the consolidated master table, keyed by CIN.
type Company struct {
	CIN                    string `gorm:"primaryKey;size:21"`
	Name                   string `gorm:"index"`
	State                  string `gorm:"index"`
	StateCode              string
	Status                 string `gorm:"index"`
	AuthorizedCapital      *float64
	PaidupCapital          *float64
	Address                string
	IndustryClassification string
	RegistrationDate       *time.Time `gorm:"index"`
	SnapshotDate           time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// TableName pins the table name used by the reporting layer.
func (Company) TableName() string { return "companies" }

// CompanyChange is one appended change event. The surrogate ID and
// CreatedAt are store-assigned; there is no uniqueness beyond the surrogate
// key and no foreign key to companies.
type CompanyChange struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	CIN          string `gorm:"index"`
	ChangeType   string `gorm:"index"`
	FieldChanged string
	OldValue     string
	NewValue     string
	Date         time.Time `gorm:"index"`
	CompanyName  string
	State        string `gorm:"index"`
	Status       string
	CreatedAt    time.Time
}

// TableName pins the table name used by the reporting layer.
func (CompanyChange) TableName() string { return "company_changes" }
