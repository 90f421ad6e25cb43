package bvm

import (
	"github.com/epistemic-labs/biovm/pkg/catalog"
)

// Hazard rate constants. These are the only free parameters of the
// competing-risk model; spec §4.2 names the four mechanisms but leaves
// their exact functional form to the implementer, so each is written as
// a small pure function taking (vessel, bucket), plus the catalogs for
// the compound hazard, per the teacher's one-function-per-concern style
// (pkg/engine/helpers.go).
const (
	// compoundHazardRatePerH is calibrated against spec §8 scenario 1
	// (100 cells, 2µM dose at t=4h and again at t=52h, stepped to t=96h):
	// the decaying concentration stays within about 0.7-2.7µM, close to
	// effective_ic50_uM, so the Hill-1 ratio stays between roughly 0.4
	// and 0.75 for the whole run and the rate largely sets the
	// cumulative hazard. 1.4/h collapsed viability within the first few
	// hours; 0.0275/h lands the 96h trajectory in the scenario's
	// [0.17, 0.20] target band.
	compoundHazardRatePerH   = 0.0275
	confluenceHazardRatePerH = 0.18
	confluenceThreshold      = 1.0
	starvationHazardRatePerH = 0.003
	phHazardRatePerH         = 0.6
	phTolerance              = 0.3
)

var buckets = []catalog.BucketLabel{
	catalog.BucketSensitive,
	catalog.BucketTypical,
	catalog.BucketResistant,
}

// mixtureFor returns the subpopulation mixture for the given stress axis,
// defaulting to an all-typical mixture when the vessel carries no
// explicit weights for that axis (a vessel seeded without heterogeneity
// data behaves as a homogeneous "typical" population).
func mixtureFor(v *catalog.VesselState, axis string) catalog.SubpopulationMixture {
	if m, ok := v.Subpopulations[axis]; ok {
		return m
	}
	return catalog.SubpopulationMixture{Typical: 1.0}
}

// compoundHazardPerBucket returns the instantaneous hazard rate a single
// compound dose contributes at the given bucket, using a saturating
// (Hill n=1) dose-response in the effective concentration — the
// concentration scaled by initial_volume/current_volume, since
// evaporation concentrates whatever compound remains (spec §4.2 phase 4).
func compoundHazardPerBucket(v *catalog.VesselState, catalogs *catalog.Catalogs, bucket catalog.BucketLabel) float64 {
	if v.MediaVolumeUL <= 0 {
		return 0
	}
	concentrationFactor := v.InitialVolumeUL / v.MediaVolumeUL
	shift := catalog.BucketThresholdShift[bucket]

	total := 0.0
	for compoundID, dose := range v.Compounds {
		spec, ok := catalogs.Compound(compoundID)
		ic50 := spec.EffectiveIC50UM
		if !ok || ic50 <= 0 {
			ic50 = 1.0
		}
		concEff := dose.ConcentrationUM * concentrationFactor
		threshold := ic50 * shift
		total += compoundHazardRatePerH * concEff / (concEff + threshold)
	}
	return total
}

// confluenceHazardPerBucket hazards cells once confluence crosses the
// overcrowding threshold; sensitive buckets tip over at a lower
// effective threshold.
func confluenceHazardPerBucket(v *catalog.VesselState, bucket catalog.BucketLabel) float64 {
	shift := catalog.BucketThresholdShift[bucket]
	effectiveThreshold := confluenceThreshold * shift
	excess := v.Confluence - effectiveThreshold
	if excess <= 0 {
		return 0
	}
	return confluenceHazardRatePerH * excess
}

// starvationHazardPerBucket hazards cells as media nutrients deplete
// with age, reusing the same depletion curve applyGrowth reads for its
// nutrient penalty so the two stay consistent.
func starvationHazardPerBucket(v *catalog.VesselState, bucket catalog.BucketLabel) float64 {
	shift := catalog.BucketThresholdShift[bucket]
	depletion := 1.0 - nutrientPenalty(v)
	depletion = depletion / shift
	if depletion <= 0 {
		return 0
	}
	return starvationHazardRatePerH * depletion
}

// phHazardPerBucket hazards cells once pH_proxy drifts beyond tolerance
// of neutral.
func phHazardPerBucket(v *catalog.VesselState, bucket catalog.BucketLabel) float64 {
	shift := catalog.BucketThresholdShift[bucket]
	distance := absFloat(v.PHProxy-7.4) - phTolerance*shift
	if distance <= 0 {
		return 0
	}
	return phHazardRatePerH * distance
}

// proposeHazards implements spec §4.2 phase 4: each mechanism proposes a
// non-negative hazard rate per bucket, weighted by that bucket's fraction
// of the mechanism's stress axis, and the per-bucket rates are kept
// alongside the aggregate so shiftSubpopulations can apply them without
// recomputing.
func proposeHazards(v *catalog.VesselState, in Inputs, dt float64) ([]HazardDetail, float64, error) {
	mechanisms := []struct {
		mode catalog.DeathMode
		axis string
		fn   func(catalog.BucketLabel) float64
	}{
		{catalog.DeathCompound, "compound", func(b catalog.BucketLabel) float64 { return compoundHazardPerBucket(v, in.Catalogs, b) }},
		{catalog.DeathConfluence, "confluence", func(b catalog.BucketLabel) float64 { return confluenceHazardPerBucket(v, b) }},
		{catalog.DeathStarvation, "starvation", func(b catalog.BucketLabel) float64 { return starvationHazardPerBucket(v, b) }},
		{catalog.DeathPH, "pH", func(b catalog.BucketLabel) float64 { return phHazardPerBucket(v, b) }},
	}

	details := make([]HazardDetail, 0, len(mechanisms))
	totalHazard := 0.0

	for _, m := range mechanisms {
		mix := mixtureFor(v, m.axis)
		perBucket := make(map[catalog.BucketLabel]float64, len(buckets))
		weighted := 0.0
		for _, b := range buckets {
			lambda := m.fn(b)
			if lambda < 0 {
				lambda = 0
			}
			perBucket[b] = lambda
			weighted += mix.Weight(b) * lambda
		}
		details = append(details, HazardDetail{
			Mechanism: m.mode,
			Lambda:    weighted,
			perBucket: perBucket,
		})
		totalHazard += weighted
	}

	return details, totalHazard, nil
}
