package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCatalogYAML = `
cell_lines:
  - id: HeLa
    baseline_growth_per_h: 0.03
    vessel_capacity_density: 2.0
    initial_mixtures:
      compound:
        sensitive: 0.2
        typical: 0.6
        resistant: 0.2
compounds:
  - id: CompoundX
    effective_ic50_um: 5.0
    decay_k_per_h: 0.05
    adsorbed_fraction: 0.1
    max_dose_um: 50
    rules:
      - expression: "dose_uM <= 50"
        message: "dose exceeds catalog ceiling"
vessels:
  - id: "96-well"
    format: "96-well"
    initial_volume_ul: 200
    evap_rate_per_h: 0.5
    plate_capacity: 96
pricing:
  - id: CompoundX
    cost_usd: 12.5
`

func TestLoadCatalogParsesAllSections(t *testing.T) {
	c, err := Load([]byte(sampleCatalogYAML))
	require.NoError(t, err)

	cl, ok := c.CellLine("HeLa")
	require.True(t, ok)
	assert.Equal(t, 2.0, cl.VesselCapacityDensity)

	cp, ok := c.Compound("CompoundX")
	require.True(t, ok)
	assert.Equal(t, 5.0, cp.EffectiveIC50UM)

	v, ok := c.Vessel("96-well")
	require.True(t, ok)
	assert.Equal(t, 200.0, v.InitialVolumeUL)

	p, ok := c.Pricing("CompoundX")
	require.True(t, ok)
	assert.Equal(t, 12.5, p.CostUSD)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	bad := sampleCatalogYAML + "\nbogus_field: true\n"
	_, err := Load([]byte(bad))
	assert.Error(t, err)
}

func TestCompoundRuleEvaluates(t *testing.T) {
	c, err := Load([]byte(sampleCatalogYAML))
	require.NoError(t, err)

	cp, _ := c.Compound("CompoundX")
	ok, err := cp.Rules[0].Evaluate(RuleEnv{DoseUM: 10, TimepointH: 24})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cp.Rules[0].Evaluate(RuleEnv{DoseUM: 999, TimepointH: 24})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSeedVesselInitializesConservation(t *testing.T) {
	c, err := Load([]byte(sampleCatalogYAML))
	require.NoError(t, err)

	v, err := SeedVessel(c, SeedSpec{
		VesselID: "v1", PlateID: "p1", WellPosition: "A01",
		CellLineID: "HeLa", VesselFormatID: "96-well", InitialCells: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, v.Viability)
	assert.InDelta(t, 0.0, v.ConservationResidual(), 1e-9)
	assert.InDelta(t, 1.0, v.Subpopulations["compound"].Sum(), 1e-9)
}

func TestSeedVesselUnknownCellLine(t *testing.T) {
	c, err := Load([]byte(sampleCatalogYAML))
	require.NoError(t, err)

	_, err = SeedVessel(c, SeedSpec{CellLineID: "Nonexistent", VesselFormatID: "96-well"})
	assert.Error(t, err)
}
