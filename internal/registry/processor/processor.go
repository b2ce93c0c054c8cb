// Package processor folds the change detector over an ordered sequence of
// snapshot sources, maintaining the previous-snapshot pointer between
// detection rounds.
package processor

import (
	"context"
	"fmt"

	"github.com/gartstein/mca-insights/internal/registry/detector"
	"github.com/gartstein/mca-insights/internal/registry/models"
	"go.uber.org/zap"
)

// Loader reads one snapshot source. Implementations wrap failures with
// errors.ErrSnapshotLoad.
type Loader interface {
	Load(ctx context.Context, source string) (*models.Snapshot, error)
}

// Options control the processor's failure policy.
type Options struct {
	// FailFast aborts the run on the first unreadable snapshot. The default
	// (false) skips the snapshot, logs it, and keeps going without
	// advancing the previous-snapshot pointer, so the next readable
	// snapshot is compared against the last readable one.
	FailFast bool
}

// Processor drives sequential detection rounds. Rounds are strictly ordered
// because each depends on the previous pointer from the prior round; there
// is no parallelism here, only a left-to-right fold.
type Processor struct {
	loader Loader
	logger *zap.Logger
	opts   Options
}

// New constructs a Processor with a snapshot loader and failure options.
func New(loader Loader, logger *zap.Logger, opts Options) *Processor {
	return &Processor{
		loader: loader,
		logger: logger.Named("processor"),
		opts:   opts,
	}
}

// Process loads the sources in order and accumulates the change events of
// every consecutive pair. N readable snapshots yield N-1 detection rounds;
// zero or one sources yield zero events and no error. The change date of
// each round is the newer snapshot's date.
func (p *Processor) Process(ctx context.Context, sources []string) ([]models.ChangeEvent, error) {
	var (
		previous *models.Snapshot
		events   []models.ChangeEvent
	)

	for i, source := range sources {
		current, err := p.loader.Load(ctx, source)
		if err != nil {
			if p.opts.FailFast {
				return nil, fmt.Errorf("loading snapshot %q: %w", source, err)
			}
			p.logger.Warn("Skipping unreadable snapshot",
				zap.String("source", source),
				zap.Error(err),
			)
			continue
		}

		if previous != nil {
			detected := detector.Detect(previous, current, current.Date)
			events = append(events, detected...)
			p.logger.Info("Detected changes",
				zap.Int("snapshot", i+1),
				zap.String("source", source),
				zap.Int("changes", len(detected)),
			)
		}
		previous = current
	}

	p.logger.Info("Change detection finished", zap.Int("total_changes", len(events)))
	return events, nil
}

// Fold runs the detector over snapshots that are already in memory. It is
// the pure core of Process: the accumulated event log equals the
// concatenation of Detect over each consecutive pair, in order. Nil entries
// are treated as absent snapshots.
func Fold(snapshots []*models.Snapshot) []models.ChangeEvent {
	var (
		previous *models.Snapshot
		events   []models.ChangeEvent
	)
	for _, snap := range snapshots {
		if snap == nil {
			continue
		}
		if previous != nil {
			events = append(events, detector.Detect(previous, snap, snap.Date)...)
		}
		previous = snap
	}
	return events
}
