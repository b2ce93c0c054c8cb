package processor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gartstein/mca-insights/internal/registry/detector"
	e "github.com/gartstein/mca-insights/internal/registry/errors"
	"github.com/gartstein/mca-insights/internal/registry/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// MockLoader implements the Loader interface for testing.
type MockLoader struct {
	load func(context.Context, string) (*models.Snapshot, error)
}

func (m *MockLoader) Load(ctx context.Context, source string) (*models.Snapshot, error) {
	return m.load(ctx, source)
}

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func snapFor(d int, cins ...string) *models.Snapshot {
	snap := &models.Snapshot{Date: day(d)}
	for _, cin := range cins {
		snap.Records = append(snap.Records, models.CompanyRecord{
			CIN: cin, Name: "CO " + cin, Status: "Active", SnapshotDate: day(d),
		})
	}
	return snap
}

func loaderFor(snapshots map[string]*models.Snapshot) *MockLoader {
	return &MockLoader{load: func(_ context.Context, source string) (*models.Snapshot, error) {
		snap, ok := snapshots[source]
		if !ok {
			return nil, fmt.Errorf("%w: %s", e.ErrSnapshotLoad, source)
		}
		return snap, nil
	}}
}

// TestProcessSequence verifies N snapshots yield N-1 detection rounds with
// the newer snapshot's date as the change date.
func TestProcessSequence(t *testing.T) {
	snapshots := map[string]*models.Snapshot{
		"day1.csv": snapFor(1, "C1"),
		"day2.csv": snapFor(2, "C1", "C2"),
		"day3.csv": snapFor(3, "C2"),
	}
	p := New(loaderFor(snapshots), zaptest.NewLogger(t), Options{})

	events, err := p.Process(context.Background(), []string{"day1.csv", "day2.csv", "day3.csv"})
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, models.NewIncorporation, events[0].Type)
	assert.Equal(t, "C2", events[0].CIN)
	assert.Equal(t, day(2), events[0].Date)

	assert.Equal(t, models.Deregistration, events[1].Type)
	assert.Equal(t, "C1", events[1].CIN)
	assert.Equal(t, day(3), events[1].Date)
}

// TestProcessShortSequences verifies zero and one snapshots are valid,
// zero-event runs.
func TestProcessShortSequences(t *testing.T) {
	p := New(loaderFor(map[string]*models.Snapshot{"only.csv": snapFor(1, "C1")}), zaptest.NewLogger(t), Options{})

	events, err := p.Process(context.Background(), nil)
	assert.NoError(t, err)
	assert.Empty(t, events)

	events, err = p.Process(context.Background(), []string{"only.csv"})
	assert.NoError(t, err)
	assert.Empty(t, events, "a single snapshot has nothing to compare against")
}

// TestProcessSkipsUnreadableSnapshot covers the skip-and-continue policy: a
// failed middle load bridges day 1 directly to day 3, using day 3's date.
func TestProcessSkipsUnreadableSnapshot(t *testing.T) {
	snapshots := map[string]*models.Snapshot{
		"day1.csv": snapFor(1, "C1"),
		"day3.csv": snapFor(3, "C1", "C2"),
	}
	p := New(loaderFor(snapshots), zaptest.NewLogger(t), Options{})

	events, err := p.Process(context.Background(), []string{"day1.csv", "day2.csv", "day3.csv"})
	require.NoError(t, err, "an unreadable snapshot must not fail the run")
	require.Len(t, events, 1)
	assert.Equal(t, models.NewIncorporation, events[0].Type)
	assert.Equal(t, "C2", events[0].CIN)
	assert.Equal(t, day(3), events[0].Date, "change date comes from the snapshot actually compared")
}

// TestProcessFailFast verifies the strict policy surfaces the load error.
func TestProcessFailFast(t *testing.T) {
	snapshots := map[string]*models.Snapshot{
		"day1.csv": snapFor(1, "C1"),
	}
	p := New(loaderFor(snapshots), zaptest.NewLogger(t), Options{FailFast: true})

	_, err := p.Process(context.Background(), []string{"day1.csv", "day2.csv"})
	assert.ErrorIs(t, err, e.ErrSnapshotLoad)
}

// TestProcessAllUnreadable verifies a run where nothing loads is still a
// clean zero-event run under the default policy.
func TestProcessAllUnreadable(t *testing.T) {
	p := New(loaderFor(nil), zaptest.NewLogger(t), Options{})

	events, err := p.Process(context.Background(), []string{"a.csv", "b.csv"})
	assert.NoError(t, err)
	assert.Empty(t, events)
}

// TestFoldMatchesPairwiseDetect verifies the sequence law: folding over N
// snapshots equals concatenating Detect over each consecutive pair.
func TestFoldMatchesPairwiseDetect(t *testing.T) {
	s1 := snapFor(1, "C1", "C2")
	s2 := snapFor(2, "C2", "C3")
	s3 := snapFor(3, "C3")

	var expected []models.ChangeEvent
	expected = append(expected, detector.Detect(s1, s2, s2.Date)...)
	expected = append(expected, detector.Detect(s2, s3, s3.Date)...)

	assert.Equal(t, expected, Fold([]*models.Snapshot{s1, s2, s3}))
}

// TestFoldSkipsNil verifies nil entries are treated as absent snapshots.
func TestFoldSkipsNil(t *testing.T) {
	s1 := snapFor(1, "C1")
	s3 := snapFor(3, "C1", "C2")

	events := Fold([]*models.Snapshot{s1, nil, s3})
	require.Len(t, events, 1)
	assert.Equal(t, "C2", events[0].CIN)
}
