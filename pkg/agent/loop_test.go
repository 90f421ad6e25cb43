package agent_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epistemic-labs/biovm/internal/obsmetrics"
	"github.com/epistemic-labs/biovm/pkg/agent"
	"github.com/epistemic-labs/biovm/pkg/beam"
	"github.com/epistemic-labs/biovm/pkg/catalog"
	"github.com/epistemic-labs/biovm/pkg/epistemic"
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

func testLoop(t *testing.T, runRoot string) *agent.Loop {
	t.Helper()
	catalogs := testCatalogs(t)
	rc := runcontext.New(11, runcontext.DefaultConfig(), []string{"run-plate0"})
	fabric := rng.New(11)

	deps := agent.Deps{
		Catalogs:   catalogs,
		RunCtx:     rc,
		Fabric:     fabric,
		Signatures: posterior.DefaultSignatures(),
		Nuisance:   posterior.NuisanceModel{SignalVar: 1.0},
		Calibrator: nil,
		Epistemic:  epistemic.New(epistemic.DefaultConfig()),
	}

	beamCfg := beam.DefaultConfig()
	beamCfg.CompoundID = "staurosporine"
	beamCfg.BaseDoseUM = 1.0
	beamCfg.MaxInterventions = 3
	beamCfg.Workers = 2

	cfg := agent.Config{
		RunID:          "run-test",
		RunRoot:        runRoot,
		GitSHA:         "deadbeef",
		CellLineID:     "hela",
		VesselFormatID: "w96",
		CompoundID:     "staurosporine",
		BaseDoseUM:     1.0,
		BeamWidth:      4,
		WellPositions:  []string{"A01", "A02", "A03", "A04", "A05", "A06"},
		Beam:           beamCfg,
	}

	loop, err := agent.NewLoop(deps, cfg)
	require.NoError(t, err)
	return loop
}

func TestNewLoop_SeedsVessel(t *testing.T) {
	loop := testLoop(t, t.TempDir())
	require.NotNil(t, loop.Vessel)
	assert.Equal(t, "hela", loop.Vessel.CellLine)
}

func TestRunCycle_ProducesValidatedReceiptAndPersistsDesign(t *testing.T) {
	dir := t.TempDir()
	loop := testLoop(t, dir)

	receipt, err := loop.RunCycle(context.Background(), 0)
	require.NoError(t, err)
	require.NotNil(t, receipt)

	assert.NoError(t, receipt.Validate())
	assert.Equal(t, 0, receipt.Cycle)
	assert.NotEmpty(t, receipt.Template)
	assert.NotEmpty(t, receipt.GateState)

	decisionsPath := filepath.Join(dir, "decisions.jsonl")
	require.FileExists(t, decisionsPath)
	raw, err := os.ReadFile(decisionsPath)
	require.NoError(t, err)

	var decoded agent.DecisionReceipt
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, receipt.Template, decoded.Template)
}

func TestRunCycle_RecordsBeamExpansionMetrics(t *testing.T) {
	dir := t.TempDir()
	loop := testLoop(t, dir)

	metrics := obsmetrics.New()
	loop.SetMetrics(metrics)

	_, err := loop.RunCycle(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.BeamExpansionsTotal))
}

func TestRunCycle_MultipleCyclesEachEmitOneReceipt(t *testing.T) {
	dir := t.TempDir()
	loop := testLoop(t, dir)

	for cycle := 0; cycle < 3; cycle++ {
		receipt, err := loop.RunCycle(context.Background(), cycle)
		require.NoError(t, err)
		require.NotNil(t, receipt)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "decisions.jsonl"))
	require.NoError(t, err)
	lines := 0
	for _, b := range raw {
		if b == '\n' {
			lines++
		}
	}
	assert.Equal(t, 3, lines)
}
