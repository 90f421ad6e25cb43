package bvm

import (
	"math"

	"github.com/epistemic-labs/biovm/pkg/catalog"
)

// aggregateSurvival implements spec §4.2 phase 5: competing risks
// aggregate multiplicatively, S = exp(-Σλ_i·Δt), giving
// new_viability = viability · S.
func aggregateSurvival(v *catalog.VesselState, totalHazard, dt float64) (float64, error) {
	survival := math.Exp(-totalHazard * dt)
	return v.Viability * survival, nil
}
