package posterior_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/epistemic-labs/biovm/pkg/posterior"
)

func TestCompute_RecoversClearSignature(t *testing.T) {
	sig := posterior.DefaultSignatures()
	observed := posterior.Vec3{0.8, 0.1, 0.1} // ER_STRESS signature, no shift

	belief := posterior.Compute(observed, posterior.NuisanceModel{SignalVar: 1}, sig)

	assert.Equal(t, posterior.MechanismERStress, belief.TopMechanism)
	assert.Greater(t, belief.TopProbability, 0.5)
	assert.Greater(t, belief.Margin, 0.0)
}

func TestCompute_ProbabilitiesSumToOne(t *testing.T) {
	sig := posterior.DefaultSignatures()
	belief := posterior.Compute(posterior.Vec3{0.3, 0.3, 0.3}, posterior.NuisanceModel{SignalVar: 1}, sig)

	sum := 0.0
	for _, p := range belief.Probabilities {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestNuisanceFraction(t *testing.T) {
	n := posterior.NuisanceModel{ArtifactVar: 0.1, HeterogeneityVar: 0.1, ContextVar: 0.1, PipelineVar: 0.1, SignalVar: 0.4}
	assert.InDelta(t, 0.5, n.NuisanceFraction(), 1e-9)
}
