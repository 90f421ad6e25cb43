package bvm

import (
	"github.com/epistemic-labs/biovm/pkg/bioerrors"
	"github.com/epistemic-labs/biovm/pkg/catalog"
)

// enforceConservation implements spec §4.2 phase 8 verbatim: apply the
// proposed death deltas, detect any untracked mass beyond
// ε_detect=1e-3, attribute it to the dominant active mechanism when
// compounds are present (otherwise, or when no mechanism is active, to
// death_unattributed), then clamp every
// tracked mode so the sum equals total_dead within ±1e-6. A clamp that
// still can't converge is a hard conservation failure — fatal under
// spec §4.2's failure semantics.
func enforceConservation(v *catalog.VesselState, deltas map[catalog.DeathMode]float64, newViability float64) (*UntrackedMassWarning, error) {
	for mode, delta := range deltas {
		v.Death.Add(mode, delta)
	}

	totalDead := 1.0 - newViability
	if totalDead < 0 {
		totalDead = 0
	}

	tracked := v.Death.Sum()
	untracked := totalDead - tracked

	var warning *UntrackedMassWarning
	if absFloat(untracked) > conservationEpsilonDetect {
		attributed := dominantMechanism(deltas, len(v.Compounds) > 0)
		v.Death.Add(attributed, untracked)
		warning = &UntrackedMassWarning{
			VesselID:   v.VesselID,
			Untracked:  untracked,
			Attributed: attributed,
		}
	}

	sum := v.Death.Sum()
	switch {
	case sum > 1e-12:
		v.Death.Scale(totalDead / sum)
	case totalDead > 1e-9:
		// Nothing tracked at all (e.g. instant kill with no active
		// mechanism recorded) — the whole loss is unattributed.
		v.Death.Unattributed = totalDead
	}

	if residual := absFloat(v.Death.Sum() - totalDead); residual > conservationEpsilonTight {
		return warning, bioerrors.NewInvariantError("conservation_violation", bioerrors.ErrConservationViolation, map[string]any{
			"vessel_id": v.VesselID,
			"residual":  residual,
			"total_dead": totalDead,
		})
	}

	return warning, nil
}

// dominantMechanism returns the death mode with the largest delta this
// substep, used to attribute untracked mass. Per spec §4.2 phase 8: if
// compounds are present on the vessel, attribute to the dominant active
// mechanism; otherwise (and whenever nothing was active) attribute to
// DeathUnattributed.
func dominantMechanism(deltas map[catalog.DeathMode]float64, compoundsPresent bool) catalog.DeathMode {
	if !compoundsPresent {
		return catalog.DeathUnattributed
	}
	var best catalog.DeathMode
	bestVal := 0.0
	for mode, delta := range deltas {
		if delta > bestVal {
			bestVal = delta
			best = mode
		}
	}
	if best == "" {
		return catalog.DeathUnattributed
	}
	return best
}
