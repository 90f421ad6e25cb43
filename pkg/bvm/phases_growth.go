package bvm

import (
	"github.com/epistemic-labs/biovm/pkg/catalog"
	"github.com/epistemic-labs/biovm/pkg/runcontext"
)

// updateVolumeAndWaste implements spec §4.2 phase 1.
func updateVolumeAndWaste(v *catalog.VesselState, dt float64) {
	v.MediaVolumeUL -= v.EvapRatePerH * dt
	if v.MediaVolumeUL < 0 {
		v.MediaVolumeUL = 0
	}
	v.MediaAgeH += dt

	viableCells := v.CellCount * v.Viability
	v.LactateMM += viableCells / 1e7 * 0.5 * dt

	bufferCapacity := v.BufferCapacity()
	phProxy := 7.4 - v.LactateMM/(10*maxFloat(bufferCapacity, 1e-9))
	v.PHProxy = clip(phProxy, 6.0, 7.8)
}

// decayCompounds implements spec §4.2 phase 2.
func decayCompounds(v *catalog.VesselState, dt float64) {
	for id, dose := range v.Compounds {
		dose.ConcentrationUM *= expDecay(dose.DecayKPerH, dt)
		if dose.ConcentrationUM < 1e-3 {
			delete(v.Compounds, id)
			continue
		}
		v.Compounds[id] = dose
	}
}

// applyGrowth implements spec §4.2 phase 3.
func applyGrowth(v *catalog.VesselState, in Inputs, dt float64) {
	cellLine, ok := in.Catalogs.CellLine(v.CellLine)
	baseline := 0.03
	if ok {
		baseline = cellLine.BaselineGrowthPerH
	}

	nutrientPenalty := nutrientPenalty(v)
	phPenalty := phPenalty(v.PHProxy)
	densityPenalty := densityPenalty(v.Confluence)
	tempMultiplier := 1.0
	if in.RunCtx != nil {
		tempMultiplier = 1.0 + in.RunCtx.PlateField(v.PlateID, runcontext.FieldTemperatureGradient)
	}

	effectiveRate := baseline * nutrientPenalty * phPenalty * densityPenalty * tempMultiplier
	v.CellCount *= expDecay(-effectiveRate, dt) // growth is decay with a negative rate
	if v.VesselCapacity > 0 {
		v.Confluence = v.CellCount / v.VesselCapacity
	}
}

func nutrientPenalty(v *catalog.VesselState) float64 {
	// Media age erodes nutrient availability; fully depleted media
	// (age of 96h or more) halts growth rather than reversing it.
	age := v.MediaAgeH
	if age <= 0 {
		return 1.0
	}
	penalty := 1.0 - age/96.0
	return clip(penalty, 0.0, 1.0)
}

func phPenalty(phProxy float64) float64 {
	// Growth is maximal near neutral pH and falls off linearly as the
	// proxy drifts toward the 6.0/7.8 clamp bounds.
	distance := absFloat(phProxy - 7.4)
	penalty := 1.0 - distance/1.4
	return clip(penalty, 0.0, 1.0)
}

func densityPenalty(confluence float64) float64 {
	if confluence <= 0 {
		return 1.0
	}
	penalty := 1.0 - confluence
	return clip(penalty, 0.0, 1.0)
}

