package bvm

import "github.com/epistemic-labs/biovm/pkg/catalog"

// allocateDeath implements spec §4.2 phase 6: the population that died
// this substep (viability - newViability) is split across mechanisms in
// proportion to their share of total hazard. If no hazard was active,
// every delta is zero.
func allocateDeath(hazards []HazardDetail, totalHazard, viability, newViability float64) map[catalog.DeathMode]float64 {
	deltas := make(map[catalog.DeathMode]float64, len(hazards))
	died := viability - newViability
	if died <= 0 || totalHazard <= 0 {
		return deltas
	}
	for _, h := range hazards {
		if h.Lambda <= 0 {
			continue
		}
		deltas[h.Mechanism] = (h.Lambda / totalHazard) * died
	}
	return deltas
}

// shiftSubpopulations implements spec §4.2 phase 7: within each stress
// axis, sensitive buckets die first because their per-bucket hazard is
// higher at the same external stress; surviving weights renormalize.
func shiftSubpopulations(v *catalog.VesselState, hazards []HazardDetail, dt float64) {
	for _, h := range hazards {
		if h.perBucket == nil {
			continue
		}
		axis := string(h.Mechanism)
		mix, ok := v.Subpopulations[axis]
		if !ok {
			// No explicit heterogeneity tracked for this axis; nothing to
			// shift (the vessel behaves as a single typical population).
			continue
		}

		survived := catalog.SubpopulationMixture{
			Sensitive: mix.Sensitive * survivalFraction(h.perBucket[catalog.BucketSensitive], dt),
			Typical:   mix.Typical * survivalFraction(h.perBucket[catalog.BucketTypical], dt),
			Resistant: mix.Resistant * survivalFraction(h.perBucket[catalog.BucketResistant], dt),
		}
		v.Subpopulations[axis] = survived.Renormalize()
	}
}

func survivalFraction(lambda, dt float64) float64 {
	if lambda <= 0 {
		return 1.0
	}
	return expDecay(lambda, dt)
}
