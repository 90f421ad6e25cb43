package epistemic_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epistemic-labs/biovm/pkg/epistemic"
)

func TestClaim_DuplicateIDRejected(t *testing.T) {
	c := epistemic.New(epistemic.DefaultConfig())
	require.NoError(t, c.Claim("a1", "assay", 1.0, 0, 0, false))
	err := c.Claim("a1", "assay", 1.0, 1, 1, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate_claim")
}

func TestResolve_UnknownClaimErrors(t *testing.T) {
	c := epistemic.New(epistemic.DefaultConfig())
	_, err := c.Resolve("missing", 1.0, 10, 0)
	require.Error(t, err)
}

func TestResolve_OverclaimAccruesDebt(t *testing.T) {
	c := epistemic.New(epistemic.DefaultConfig())
	require.NoError(t, c.Claim("a1", "assay", 2.0, 0, 0, false))

	_, err := c.Resolve("a1", 0.5, 1, 1)
	require.NoError(t, err)

	stats := c.Stats()
	assert.Greater(t, stats.TotalDebtBits, 0.0)
	assert.Greater(t, stats.CostMultiplier, 1.0)
}

func TestResolve_CannotResolveTwice(t *testing.T) {
	c := epistemic.New(epistemic.DefaultConfig())
	require.NoError(t, c.Claim("a1", "assay", 1.0, 0, 0, false))
	_, err := c.Resolve("a1", 1.0, 1, 1)
	require.NoError(t, err)

	_, err = c.Resolve("a1", 1.0, 2, 2)
	require.Error(t, err)
}

func TestResolve_ProvisionalPenaltySettlesAfterElapsedHours(t *testing.T) {
	c := epistemic.New(epistemic.DefaultConfig())
	require.NoError(t, c.Claim("exp1", "assay", 1.0, 0, 0, true))
	_, err := c.Resolve("exp1", 1.0, 1.0, 1)
	require.NoError(t, err)

	stats := c.Stats()
	require.Len(t, stats.ProvisionalPenalties, 1)
	assert.False(t, stats.ProvisionalPenalties[0].Settled)

	require.NoError(t, c.Claim("exp2", "assay", 1.0, 1, 20.0, true))
	_, err = c.Resolve("exp2", 1.0, 20.0, 2)
	require.NoError(t, err)

	stats = c.Stats()
	found := false
	for _, p := range stats.ProvisionalPenalties {
		if p.ClaimID == "exp1" {
			found = true
			assert.True(t, p.Settled)
		}
	}
	assert.True(t, found)
}

func TestResolve_SandbaggingDiscountsCredit(t *testing.T) {
	c := epistemic.New(epistemic.DefaultConfig())

	var lastCredited float64
	for i := 0; i < 12; i++ {
		id := "claim" + string(rune('a'+i))
		require.NoError(t, c.Claim(id, "assay", 1.0, i, float64(i), false))
		credited, err := c.Resolve(id, 3.0, float64(i)+0.5, i)
		require.NoError(t, err)
		lastCredited = credited
	}

	assert.Less(t, lastCredited, 3.0)
}

func TestResolve_HorizonShrinksWithDebt(t *testing.T) {
	c := epistemic.New(epistemic.DefaultConfig())
	base := c.Stats().EffectiveHorizon
	require.Equal(t, epistemic.DefaultConfig().BaseHorizon, base)

	for i := 0; i < 5; i++ {
		id := "overclaim" + string(rune('a'+i))
		require.NoError(t, c.Claim(id, "assay", 3.0, i, float64(i), false))
		_, err := c.Resolve(id, 0.1, float64(i)+1, i)
		require.NoError(t, err)
	}

	shrunk := c.EffectiveHorizon()
	assert.Less(t, shrunk, base)
	assert.GreaterOrEqual(t, shrunk, epistemic.DefaultConfig().MinHorizon)
}

func TestMeasure_ComputesEntropyDelta(t *testing.T) {
	c := epistemic.New(epistemic.DefaultConfig())
	prior := epistemic.EntropyBits(map[string]float64{"a": 0.5, "b": 0.5})
	posterior := epistemic.EntropyBits(map[string]float64{"a": 0.9, "b": 0.1})

	gain := c.Measure(prior, posterior)
	assert.Greater(t, gain, 0.0)
}

func TestEvidenceEvents_RecordsClaimAndResolution(t *testing.T) {
	c := epistemic.New(epistemic.DefaultConfig())
	require.NoError(t, c.Claim("a1", "assay", 1.0, 0, 0, false))
	_, err := c.Resolve("a1", 1.0, 1, 1)
	require.NoError(t, err)

	events := c.EvidenceEvents()
	require.Len(t, events, 2)
	assert.Equal(t, epistemic.EvidenceClaim, events[0].Kind)
	assert.Equal(t, epistemic.EvidenceResolution, events[1].Kind)
}

func TestStats_ReturnsIndependentCopies(t *testing.T) {
	c := epistemic.New(epistemic.DefaultConfig())
	require.NoError(t, c.Claim("a1", "assay", 1.0, 0, 0, true))
	_, err := c.Resolve("a1", 1.0, 1, 1)
	require.NoError(t, err)

	stats := c.Stats()
	stats.ProvisionalPenalties[0].Settled = true

	fresh := c.Stats()
	assert.False(t, fresh.ProvisionalPenalties[0].Settled)
}
