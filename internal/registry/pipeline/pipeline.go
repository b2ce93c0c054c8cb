// Package pipeline orchestrates a full run: consolidate state exports,
// detect changes across daily snapshots, append them to the durable store,
// and publish them to the changefeed.
package pipeline

import (
	"context"
	"fmt"

	"github.com/gartstein/mca-insights/internal/registry/consolidate"
	"github.com/gartstein/mca-insights/internal/registry/models"
	"github.com/gartstein/mca-insights/internal/registry/processor"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the slice of the repository the pipeline writes.
type Store interface {
	ReplaceCompanies(ctx context.Context, records []models.CompanyRecord) error
	AppendChanges(ctx context.Context, events []models.ChangeEvent) error
}

// EventProducer publishes appended change events. May be nil-free via
// NopProducer when no broker is configured.
type EventProducer interface {
	Produce(event models.ChangeEvent)
}

// NopProducer drops events; used when the changefeed is disabled.
type NopProducer struct{}

func (NopProducer) Produce(models.ChangeEvent) {}

// Options name the inputs of one run.
type Options struct {
	// StateFiles maps state names to their export paths (consolidation).
	StateFiles map[string]string
	// Snapshots lists the daily snapshot sources in increasing date order.
	Snapshots []string
	// ConsolidatedExport, when set, receives the merged master table CSV.
	ConsolidatedExport string
	// ChangeLogExport, when set, receives the full detected event list,
	// as CSV or JSON depending on the file extension.
	ChangeLogExport string
}

// Pipeline wires the consolidator, processor, store and changefeed into the
// batch run the CLI and the API trigger expose.
type Pipeline struct {
	consolidator *consolidate.Consolidator
	processor    *processor.Processor
	store        Store
	producer     EventProducer
	logger       *zap.Logger
	opts         Options
}

// New constructs a Pipeline.
func New(
	consolidator *consolidate.Consolidator,
	proc *processor.Processor,
	store Store,
	producer EventProducer,
	logger *zap.Logger,
	opts Options,
) *Pipeline {
	if producer == nil {
		producer = NopProducer{}
	}
	return &Pipeline{
		consolidator: consolidator,
		processor:    proc,
		store:        store,
		producer:     producer,
		logger:       logger.Named("pipeline"),
		opts:         opts,
	}
}

// RunConsolidation merges the state exports into the master companies table
// and returns the consolidated record count.
func (p *Pipeline) RunConsolidation(ctx context.Context) (int, error) {
	master, err := p.consolidator.Consolidate(ctx, p.opts.StateFiles)
	if err != nil {
		return 0, err
	}

	if err := p.store.ReplaceCompanies(ctx, master.Records); err != nil {
		return 0, err
	}
	if p.opts.ConsolidatedExport != "" {
		if err := consolidate.ExportCSV(master, p.opts.ConsolidatedExport); err != nil {
			return 0, err
		}
	}
	return len(master.Records), nil
}

// RunChangeDetection processes the snapshot sequence, appends the detected
// events, publishes them, and returns the run summary. A zero-change run
// returns the empty summary and nil error; only execution failures are
// errors.
func (p *Pipeline) RunChangeDetection(ctx context.Context) (models.ChangeSummary, error) {
	runID := uuid.New()
	log := p.logger.With(zap.String("run_id", runID.String()))

	events, err := p.processor.Process(ctx, p.opts.Snapshots)
	if err != nil {
		return models.ChangeSummary{}, err
	}

	summary := models.Summarize(events)
	if summary.TotalChanges == 0 {
		log.Info("No changes detected")
		return summary, nil
	}

	if err := p.store.AppendChanges(ctx, events); err != nil {
		return models.ChangeSummary{}, err
	}

	if p.opts.ChangeLogExport != "" {
		if err := exportChangeLog(events, p.opts.ChangeLogExport); err != nil {
			return models.ChangeSummary{}, err
		}
		log.Info("Change log exported", zap.String("path", p.opts.ChangeLogExport))
	}

	// Publish only after the durable append succeeded.
	for _, ev := range events {
		p.producer.Produce(ev)
	}

	log.Info("Change detection run complete",
		zap.Int("total_changes", summary.TotalChanges),
	)
	return summary, nil
}

// Run executes consolidation followed by change detection.
func (p *Pipeline) Run(ctx context.Context) (models.ChangeSummary, error) {
	count, err := p.RunConsolidation(ctx)
	if err != nil {
		return models.ChangeSummary{}, fmt.Errorf("consolidation: %w", err)
	}
	p.logger.Info("Consolidation complete", zap.Int("companies", count))

	summary, err := p.RunChangeDetection(ctx)
	if err != nil {
		return models.ChangeSummary{}, fmt.Errorf("change detection: %w", err)
	}
	return summary, nil
}
