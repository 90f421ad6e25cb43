// Package bvm operations.go holds the vessel-mutating operations beyond
// Step: Treat, Washout, Feed, Passage, and PassageSubculture (spec §3.3,
// §4.2 boundary behaviors). Each validates its inputs (no negative doses
// or volumes) and, where it draws randomness, only from the treatment or
// operations named roots — never growth or assay.
package bvm

import (
	"fmt"

	"github.com/epistemic-labs/biovm/pkg/catalog"
)

// Treat adds (or tops up) a compound dose on the vessel. Dose must be
// non-negative (spec §3.1 dose_uM≥0).
func Treat(v *catalog.VesselState, compoundID string, doseUM float64, decayKPerH, adsorbedFraction, startTimeH float64) error {
	if doseUM < 0 {
		return fmt.Errorf("bvm: treat dose must be non-negative, got %f", doseUM)
	}
	existing, ok := v.Compounds[compoundID]
	conc := doseUM
	if ok {
		conc += existing.ConcentrationUM
	}
	v.Compounds[compoundID] = catalog.CompoundDose{
		ConcentrationUM:  conc,
		DecayKPerH:       decayKPerH,
		AdsorbedFraction: adsorbedFraction,
		StartTimeH:       startTimeH,
	}
	return nil
}

// Washout implements spec §8's boundary behavior: compound
// concentrations are multiplied by (1 - exchange_fraction), with
// anything remaining below 1e-3 µM removed — the same removal threshold
// Step's decay phase uses.
func Washout(v *catalog.VesselState, exchangeFraction float64) error {
	if exchangeFraction < 0 || exchangeFraction > 1 {
		return fmt.Errorf("bvm: washout exchange fraction must be in [0,1], got %f", exchangeFraction)
	}
	retained := 1.0 - exchangeFraction
	for id, dose := range v.Compounds {
		dose.ConcentrationUM *= retained
		if dose.ConcentrationUM < 1e-3 {
			delete(v.Compounds, id)
			continue
		}
		v.Compounds[id] = dose
	}
	return nil
}

// Feed replenishes media: volume is topped back up to the vessel's
// initial volume (fresh media added, never removed beyond what
// evaporated), media age resets, and lactate/pH proxy relax toward
// baseline in proportion to the fraction of media replaced.
func Feed(v *catalog.VesselState) error {
	if v.InitialVolumeUL <= 0 {
		return fmt.Errorf("bvm: feed requires a positive initial volume")
	}
	replacedFraction := clip(1.0-v.MediaVolumeUL/v.InitialVolumeUL, 0, 1)
	v.MediaVolumeUL = v.InitialVolumeUL
	v.MediaAgeH = 0
	v.LactateMM *= 1.0 - replacedFraction
	v.PHProxy = 7.4 + (v.PHProxy-7.4)*(1.0-replacedFraction)
	return nil
}

// Passage dilutes the population into fresh media at the given split
// ratio (e.g. 0.2 keeps 20% of cells), preserving attribution history —
// death fractions transfer unchanged, never reset (spec §3.3, §4.2 phase
// 9), since a passaged cell's cause-of-death accounting describes the
// population it came from, not a fresh start.
func Passage(v *catalog.VesselState, splitRatio float64) error {
	if splitRatio <= 0 || splitRatio > 1 {
		return fmt.Errorf("bvm: passage split ratio must be in (0,1], got %f", splitRatio)
	}
	v.CellCount *= splitRatio
	v.MediaVolumeUL = v.InitialVolumeUL
	v.MediaAgeH = 0
	v.LactateMM = 0
	v.PHProxy = 7.4
	if v.VesselCapacity > 0 {
		v.Confluence = v.CellCount / v.VesselCapacity
	}
	// Compound carryover is proportional to the surviving fraction of
	// media, i.e. none — fresh media means fresh compound state.
	v.Compounds = make(map[string]catalog.CompoundDose)
	return nil
}

// PassageSubculture moves the (diluted) population into a new vessel
// identity on a fresh plate/well, carrying viability, subpopulation
// mixture, and death attribution forward unchanged while resetting
// everything plate-local (media, compounds, waste).
func PassageSubculture(v *catalog.VesselState, newVesselID, newPlateID, newWellPosition string, splitRatio float64) (*catalog.VesselState, error) {
	if splitRatio <= 0 || splitRatio > 1 {
		return nil, fmt.Errorf("bvm: subculture split ratio must be in (0,1], got %f", splitRatio)
	}
	next := v.Clone()
	next.VesselID = newVesselID
	next.PlateID = newPlateID
	next.WellPosition = newWellPosition
	next.CellCount = v.CellCount * splitRatio
	next.MediaVolumeUL = v.InitialVolumeUL
	next.MediaAgeH = 0
	next.LactateMM = 0
	next.PHProxy = 7.4
	next.Compounds = make(map[string]catalog.CompoundDose)
	if next.VesselCapacity > 0 {
		next.Confluence = next.CellCount / next.VesselCapacity
	}
	return next, nil
}
