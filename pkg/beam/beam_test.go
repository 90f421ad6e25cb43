package beam_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epistemic-labs/biovm/pkg/beam"
	"github.com/epistemic-labs/biovm/pkg/catalog"
	"github.com/epistemic-labs/biovm/pkg/posterior"
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

func testDeps(t *testing.T) (beam.Deps, *catalog.VesselState) {
	t.Helper()
	catalogs := testCatalogs(t)
	vessel, err := catalog.SeedVessel(catalogs, catalog.SeedSpec{
		VesselID: "A01", PlateID: "P1", WellPosition: "A01",
		CellLineID: "hela", VesselFormatID: "w96", InitialCells: 100,
	})
	require.NoError(t, err)

	rc := runcontext.New(7, runcontext.DefaultConfig(), []string{"P1"})
	fabric := rng.New(7)

	deps := beam.Deps{
		Catalogs:   catalogs,
		RunCtx:     rc,
		Fabric:     fabric,
		Signatures: posterior.DefaultSignatures(),
		Nuisance:   posterior.NuisanceModel{SignalVar: 1.0},
	}
	return deps, vessel
}

func TestPlanner_NewRootNode(t *testing.T) {
	deps, vessel := testDeps(t)
	p := beam.New(deps, beam.DefaultConfig(), 0)

	root, err := p.NewRootNode(context.Background(), vessel)
	require.NoError(t, err)
	assert.Equal(t, 0, root.TStep)
	assert.Equal(t, 0.0, root.ElapsedH)
	assert.NotNil(t, root.VesselSnapshot)
}

func TestPlanner_ExpandProducesBoundedContinueSuccessors(t *testing.T) {
	deps, vessel := testDeps(t)
	cfg := beam.DefaultConfig()
	cfg.CompoundID = "staurosporine"
	cfg.BaseDoseUM = 1.0
	cfg.MaxInterventions = 3
	p := beam.New(deps, cfg, 0)

	root, err := p.NewRootNode(context.Background(), vessel)
	require.NoError(t, err)

	children, err := p.Expand(context.Background(), []*beam.BeamNode{root})
	require.NoError(t, err)
	require.NotEmpty(t, children)

	for _, c := range children {
		assert.Equal(t, 1, c.TStep)
		if !c.IsTerminal {
			assert.NotNil(t, c.VesselSnapshot)
		}
	}
}

func TestPlanner_CommitOnlyEmittedAboveThreshold(t *testing.T) {
	deps, vessel := testDeps(t)
	cfg := beam.DefaultConfig()
	cfg.CommitConfThreshold = 2.0 // unreachable, guarantees no commit
	p := beam.New(deps, cfg, 0)

	root, err := p.NewRootNode(context.Background(), vessel)
	require.NoError(t, err)

	children, err := p.Expand(context.Background(), []*beam.BeamNode{root})
	require.NoError(t, err)

	for _, c := range children {
		assert.False(t, c.IsTerminal, "no COMMIT successor should be emitted below threshold")
	}
}

func TestPrune_KeepsBestTerminalsAndNonTerminals(t *testing.T) {
	mkTerminal := func(u float64) *beam.BeamNode {
		util := u
		return &beam.BeamNode{IsTerminal: true, CommitUtility: &util, TStep: 1}
	}
	mkNonTerminal := func(score float64) *beam.BeamNode {
		return &beam.BeamNode{IsTerminal: false, HeuristicScore: score, TStep: 1}
	}

	nodes := []*beam.BeamNode{
		mkTerminal(0.9), mkTerminal(0.5), mkTerminal(0.1),
		mkNonTerminal(0.8), mkNonTerminal(0.3),
	}

	kept := beam.Prune(nodes, 4)
	assert.LessOrEqual(t, len(kept), 4)

	best := beam.BestTerminal(kept)
	require.NotNil(t, best)
	assert.Equal(t, 0.9, *best.CommitUtility)
}

func TestDominatedNodesDiscardedFirst(t *testing.T) {
	strong := &beam.BeamNode{TStep: 2, Margin: 0.8, Viability: 0.9, IsTerminal: false, HeuristicScore: 0.8}
	weak := &beam.BeamNode{TStep: 2, Margin: 0.1, Viability: 0.2, IsTerminal: false, HeuristicScore: 0.1}

	kept := beam.Prune([]*beam.BeamNode{strong, weak}, 1)
	require.Len(t, kept, 1)
	assert.Equal(t, strong, kept[0])
}
