package calibrator_test

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epistemic-labs/biovm/pkg/belief"
	"github.com/epistemic-labs/biovm/pkg/calibrator"
	"github.com/epistemic-labs/biovm/pkg/rng"
)

func syntheticEvents(n int) []calibrator.TrainingEvent {
	r := rand.New(rand.NewPCG(1, 2))
	events := make([]calibrator.TrainingEvent, 0, n)
	for i := 0; i < n; i++ {
		nuisance := r.Float64()
		top := 0.5 + 0.5*r.Float64()
		correct := r.Float64() < top*(1-0.6*nuisance)
		events = append(events, calibrator.TrainingEvent{
			Belief: belief.State{
				TopProbability:   top,
				NuisanceFraction: nuisance,
				TimepointH:       float64(4 + i%20),
				Entropy:          r.Float64(),
			},
			Correct: correct,
		})
	}
	return events
}

func TestFit_PredictionsStayWithinUnitInterval(t *testing.T) {
	fabric := rng.New(3)
	trainer := &calibrator.Trainer{Fabric: fabric}
	events := syntheticEvents(300)

	cal, err := trainer.Fit("v1", events)
	require.NoError(t, err)
	require.NoError(t, cal.Validate())

	low := cal.Predict(belief.State{TopProbability: 0.95, NuisanceFraction: 0.1, TimepointH: 10})
	high := cal.Predict(belief.State{TopProbability: 0.80, NuisanceFraction: 0.53, TimepointH: 18})

	assert.GreaterOrEqual(t, low, 0.0)
	assert.LessOrEqual(t, low, 1.0)
	assert.GreaterOrEqual(t, high, 0.0)
	assert.LessOrEqual(t, high, 1.0)
}

func TestCalibrator_RoundTripsBinary(t *testing.T) {
	fabric := rng.New(3)
	trainer := &calibrator.Trainer{Fabric: fabric}
	cal, err := trainer.Fit("v1", syntheticEvents(100))
	require.NoError(t, err)

	data, err := cal.MarshalBinary()
	require.NoError(t, err)

	var reloaded calibrator.Calibrator
	require.NoError(t, reloaded.UnmarshalBinary(data))
	assert.Equal(t, cal.Version, reloaded.Version)

	b := belief.State{TopProbability: 0.9, NuisanceFraction: 0.2, TimepointH: 12}
	assert.Equal(t, cal.Predict(b), reloaded.Predict(b))
}

func TestECETracker_UnstableBelow30(t *testing.T) {
	tracker := calibrator.NewECETracker()
	for i := 0; i < 10; i++ {
		tracker.Record(calibrator.ECEEvent{MaxPosterior: 0.8, Correct: true})
	}
	assert.False(t, tracker.IsStable())
	for i := 0; i < 25; i++ {
		tracker.Record(calibrator.ECEEvent{MaxPosterior: 0.8, Correct: true})
	}
	assert.True(t, tracker.IsStable())
}

func TestECETracker_PerfectCalibrationHasZeroECE(t *testing.T) {
	tracker := calibrator.NewECETracker()
	for i := 0; i < 100; i++ {
		tracker.Record(calibrator.ECEEvent{MaxPosterior: 0.7, Correct: i%10 < 7})
	}
	assert.InDelta(t, 0.0, tracker.ECE(), 0.05)
}
