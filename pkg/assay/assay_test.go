package assay_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epistemic-labs/biovm/pkg/assay"
	"github.com/epistemic-labs/biovm/pkg/catalog"
	"github.com/epistemic-labs/biovm/pkg/rng"
	"github.com/epistemic-labs/biovm/pkg/runcontext"
)

func snapshot() assay.Snapshot {
	return assay.Snapshot{
		VesselID:         "A01",
		PlateID:          "P1",
		WellPosition:     "A01",
		Viability:        0.9,
		Confluence:       0.5,
		DebrisLevel:      0.1,
		AttachedFraction: 0.95,
		CellCount:        1000,
	}
}

func TestCellPainting_Deterministic(t *testing.T) {
	rc := runcontext.New(7, runcontext.DefaultConfig(), []string{"P1"})
	run := func(seed int64) assay.MorphologyReading {
		fabric := rng.New(seed)
		streams := rng.AssayStreams(fabric)
		reading, err := assay.CellPainting(snapshot(), rc, streams, 3, "alice")
		require.NoError(t, err)
		return reading
	}

	a := run(1)
	b := run(1)
	assert.Equal(t, a, b)
}

func TestScalarViability_Bounded(t *testing.T) {
	rc := runcontext.New(7, runcontext.DefaultConfig(), []string{"P1"})
	fabric := rng.New(1)
	streams := rng.AssayStreams(fabric)
	v, err := assay.ScalarViability(snapshot(), rc, streams)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, v, 0.0)
	assert.LessOrEqual(t, v, 1.0)
}

func TestCountCells_ScalesWithAttachedFraction(t *testing.T) {
	fabric := rng.New(1)
	streams := rng.AssayStreams(fabric)
	snap := snapshot()
	snap.AttachedFraction = 0
	n, err := assay.CountCells(snap, streams)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAssayStreams_RejectsPhysicsRoot(t *testing.T) {
	fabric := rng.New(1)
	streams := rng.AssayStreams(fabric)
	assert.Panics(t, func() {
		streams.Named(rng.RootGrowth, "should_panic")
	})
}
