package bvm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epistemic-labs/biovm/pkg/bvm"
	"github.com/epistemic-labs/biovm/pkg/catalog"
	"github.com/epistemic-labs/biovm/pkg/rng"
	"github.com/epistemic-labs/biovm/pkg/runcontext"
)

func testCatalogs(t *testing.T) *catalog.Catalogs {
	t.Helper()
	data := []byte(`
cell_lines:
  - id: hela
    baseline_growth_per_h: 0.03
    vessel_capacity_density: 1000
    initial_mixtures:
      compound:
        sensitive: 0.2
        typical: 0.6
        resistant: 0.2
compounds:
  - id: staurosporine
    effective_ic50_um: 1.0
    decay_k_per_h: 0.02
    adsorbed_fraction: 0.1
    max_dose_um: 10
vessels:
  - id: w96
    format: "96-well"
    initial_volume_ul: 200
    evap_rate_per_h: 0.05
    plate_capacity: 96
`)
	c, err := catalog.Load(data)
	require.NoError(t, err)
	return c
}

func newVessel(t *testing.T, catalogs *catalog.Catalogs) *catalog.VesselState {
	t.Helper()
	v, err := catalog.SeedVessel(catalogs, catalog.SeedSpec{
		VesselID:       "A01",
		PlateID:        "P1",
		WellPosition:   "A01",
		CellLineID:     "hela",
		VesselFormatID: "w96",
		InitialCells:   100,
	})
	require.NoError(t, err)
	return v
}

func testInputs(catalogs *catalog.Catalogs) bvm.Inputs {
	fabric := rng.New(42)
	rc := runcontext.New(1, runcontext.DefaultConfig(), []string{"P1"})
	return bvm.Inputs{
		Catalogs: catalogs,
		RunCtx:   rc,
		Streams:  rng.PhysicsStreams(fabric),
	}
}

func TestStep_ZeroDurationIsNoOp(t *testing.T) {
	catalogs := testCatalogs(t)
	v := newVessel(t, catalogs)
	before := *v

	report, err := bvm.Step(context.Background(), v, testInputs(catalogs), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, report.SubstepsExecuted)
	assert.Equal(t, before.CellCount, v.CellCount)
	assert.Equal(t, before.Viability, v.Viability)
}

func TestStep_ConservationInvariantHolds(t *testing.T) {
	catalogs := testCatalogs(t)
	v := newVessel(t, catalogs)
	in := testInputs(catalogs)

	require.NoError(t, bvm.Treat(v, "staurosporine", 2.0, 0.02, 0.1, 4))

	for h := 0; h < 96; h++ {
		if h == 52 {
			require.NoError(t, bvm.Treat(v, "staurosporine", 2.0, 0.02, 0.1, float64(h)))
		}
		_, err := bvm.Step(context.Background(), v, in, 1.0)
		require.NoError(t, err)
		assert.LessOrEqual(t, v.ConservationResidual(), 1e-6,
			"conservation invariant violated at hour %d: death=%+v viability=%f", h, v.Death, v.Viability)
	}

	assert.GreaterOrEqual(t, v.Viability, 0.0)
	assert.LessOrEqual(t, v.Viability, 1.0)
	assert.InDelta(t, 0.185, v.Viability, 0.015,
		"double-dose scenario must settle in [0.17, 0.20], got %f", v.Viability)
}

func TestStep_EmptyCompoundMapNoCompoundHazard(t *testing.T) {
	catalogs := testCatalogs(t)
	v := newVessel(t, catalogs)
	in := testInputs(catalogs)

	report, err := bvm.Step(context.Background(), v, in, 1.0)
	require.NoError(t, err)
	for _, h := range report.HazardsByMechanism {
		if h.Mechanism == catalog.DeathCompound {
			assert.Zero(t, h.Lambda)
		}
	}
}

func TestStep_ObserverIndependence(t *testing.T) {
	catalogs := testCatalogs(t)

	run := func(seed int64) *catalog.VesselState {
		v := newVessel(t, catalogs)
		fabric := rng.New(seed)
		rc := runcontext.New(1, runcontext.DefaultConfig(), []string{"P1"})
		in := bvm.Inputs{Catalogs: catalogs, RunCtx: rc, Streams: rng.PhysicsStreams(fabric)}
		require.NoError(t, bvm.Treat(v, "staurosporine", 2.0, 0.02, 0.1, 0))
		for h := 0; h < 24; h++ {
			_, err := bvm.Step(context.Background(), v, in, 1.0)
			require.NoError(t, err)
		}
		return v
	}

	a := run(0)
	b := run(999)

	assert.Equal(t, a.Viability, b.Viability)
	assert.Equal(t, a.Confluence, b.Confluence)
	assert.Equal(t, a.LactateMM, b.LactateMM)
}

func TestWashout_RemovesBelowThreshold(t *testing.T) {
	catalogs := testCatalogs(t)
	v := newVessel(t, catalogs)
	require.NoError(t, bvm.Treat(v, "staurosporine", 0.0011, 0.02, 0.1, 0))

	require.NoError(t, bvm.Washout(v, 0.6))
	_, ok := v.Compounds["staurosporine"]
	assert.False(t, ok, "0.0011µM × 0.4 = 0.00044µM is below the 1e-3µM removal threshold")
	assert.Empty(t, v.Compounds)
}

func TestPassage_PreservesDeathAttribution(t *testing.T) {
	catalogs := testCatalogs(t)
	v := newVessel(t, catalogs)
	v.Death.Compound = 0.3
	v.Viability = 0.7

	require.NoError(t, bvm.Passage(v, 0.2))
	assert.Equal(t, 0.3, v.Death.Compound)
	assert.Equal(t, 0.7, v.Viability)
}
