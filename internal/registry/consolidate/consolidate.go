// Package consolidate merges per-state registry exports into one master
// company table, deduplicated by CIN. The consolidated output can itself be
// treated as a snapshot for bootstrap comparisons.
package consolidate

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	e "github.com/gartstein/mca-insights/internal/registry/errors"
	"github.com/gartstein/mca-insights/internal/registry/models"
	"go.uber.org/zap"
)

// Loader reads one state export file.
type Loader interface {
	Load(ctx context.Context, source string) (*models.Snapshot, error)
}

// Consolidator merges state exports into a master record set.
type Consolidator struct {
	loader Loader
	logger *zap.Logger
}

// New constructs a Consolidator.
func New(loader Loader, logger *zap.Logger) *Consolidator {
	return &Consolidator{
		loader: loader,
		logger: logger.Named("consolidator"),
	}
}

// Consolidate loads every state export and merges them into one snapshot.
// sources maps a state name ("maharashtra") to its file path. States are
// processed in sorted name order so the merge is deterministic; when a CIN
// appears in more than one state export the first seen wins. Missing or
// unreadable state files are logged and skipped; only an empty result is an
// error.
func (c *Consolidator) Consolidate(ctx context.Context, sources map[string]string) (*models.Snapshot, error) {
	states := make([]string, 0, len(sources))
	for state := range sources {
		states = append(states, state)
	}
	sort.Strings(states)

	master := &models.Snapshot{Date: time.Now().UTC()}
	seen := make(map[string]struct{})
	initial := 0

	for _, state := range states {
		snap, err := c.loader.Load(ctx, sources[state])
		if err != nil {
			c.logger.Warn("Skipping state export",
				zap.String("state", state),
				zap.Error(err),
			)
			continue
		}
		c.logger.Info("Loaded state export",
			zap.String("state", state),
			zap.Int("records", len(snap.Records)),
		)

		for _, rec := range snap.Records {
			initial++
			cleaned := cleanRecord(rec, state)
			if _, dup := seen[cleaned.CIN]; dup {
				continue
			}
			seen[cleaned.CIN] = struct{}{}
			master.Records = append(master.Records, cleaned)
		}
	}

	if len(master.Records) == 0 {
		return nil, fmt.Errorf("%w: no state data could be loaded", e.ErrSnapshotLoad)
	}

	c.logger.Info("Consolidated state data",
		zap.Int("before_dedup", initial),
		zap.Int("after_dedup", len(master.Records)),
	)
	return master, nil
}

// cleanRecord standardizes one state row: text fields are trimmed and
// upper-cased, and the state identity is stamped from the source name since
// most exports do not carry it.
func cleanRecord(rec models.CompanyRecord, state string) models.CompanyRecord {
	rec.Name = strings.ToUpper(strings.TrimSpace(rec.Name))
	rec.Status = strings.ToUpper(strings.TrimSpace(rec.Status))
	rec.State = titleState(state)
	rec.StateCode = strings.ToLower(state)
	return rec
}

// titleState renders "tamil_nadu" as "Tamil Nadu".
func titleState(state string) string {
	words := strings.FieldsFunc(strings.ToLower(state), func(r rune) bool {
		return r == '_' || r == ' ' || r == '-'
	})
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// ExportCSV writes the consolidated snapshot for downstream consumers.
func ExportCSV(snap *models.Snapshot, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", e.ErrPersistence, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"CIN", "Company_Name", "State", "State_Code", "Status",
		"Authorized_Capital", "Paidup_Capital", "Address",
		"Industry_Classification", "Registration_Date",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("%w: %v", e.ErrPersistence, err)
	}
	for _, rec := range snap.Records {
		regDate := ""
		if rec.RegistrationDate != nil {
			regDate = rec.RegistrationDate.Format("2006-01-02")
		}
		row := []string{
			rec.CIN,
			rec.Name,
			rec.State,
			rec.StateCode,
			rec.Status,
			models.FormatCapital(rec.AuthorizedCapital),
			models.FormatCapital(rec.PaidupCapital),
			rec.Address,
			rec.IndustryClassification,
			regDate,
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
