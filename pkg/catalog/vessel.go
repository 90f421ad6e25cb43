// Package catalog defines per-well vessel state and the immutable
// catalogs (vessels, cell lines, compounds, pricing) that seed it.
// Catalogs are loaded once at run start and never mutated afterward
// (spec §9: "global singletons" are redesigned into explicit, run-scoped
// immutable values); vessel state is mutated only through pkg/bvm
// operations.
package catalog

import "math"

// BucketLabel names one of the three fixed subpopulation buckets.
type BucketLabel string

const (
	BucketSensitive BucketLabel = "sensitive"
	BucketTypical   BucketLabel = "typical"
	BucketResistant BucketLabel = "resistant"
)

// BucketThresholdShift is the multiplicative shift applied to a
// mechanism's baseline hazard threshold for cells in that bucket.
var BucketThresholdShift = map[BucketLabel]float64{
	BucketSensitive: 0.8,
	BucketTypical:   1.0,
	BucketResistant: 1.2,
}

// SubpopulationMixture is a weighted distribution over the three buckets
// for one stress axis. Weights must sum to 1 (±epsilon).
type SubpopulationMixture struct {
	Sensitive float64
	Typical   float64
	Resistant float64
}

// Weight returns the weight for the given bucket.
func (m SubpopulationMixture) Weight(b BucketLabel) float64 {
	switch b {
	case BucketSensitive:
		return m.Sensitive
	case BucketResistant:
		return m.Resistant
	default:
		return m.Typical
	}
}

// Sum returns the total weight, which should be 1 ± epsilon for a valid
// mixture.
func (m SubpopulationMixture) Sum() float64 {
	return m.Sensitive + m.Typical + m.Resistant
}

// Renormalize returns a copy of m scaled so its weights sum to 1. If the
// sum is zero the uniform mixture is returned instead of dividing by
// zero.
func (m SubpopulationMixture) Renormalize() SubpopulationMixture {
	sum := m.Sum()
	if sum <= 0 {
		return SubpopulationMixture{Sensitive: 1.0 / 3, Typical: 1.0 / 3, Resistant: 1.0 / 3}
	}
	return SubpopulationMixture{
		Sensitive: m.Sensitive / sum,
		Typical:   m.Typical / sum,
		Resistant: m.Resistant / sum,
	}
}

// DeathMode names one of the four tracked causes of death, or the
// unattributed overflow bucket. Their fractions must always sum to
// 1 - viability (spec conservation invariant).
type DeathMode string

const (
	DeathCompound    DeathMode = "compound"
	DeathConfluence  DeathMode = "confluence"
	DeathStarvation  DeathMode = "starvation"
	DeathPH          DeathMode = "pH"
	DeathUnattributed DeathMode = "unattributed"
)

// DeathAccounting tracks the cumulative fraction of the original
// population that died by each tracked mode, plus an unattributed
// overflow bucket used only when conservation enforcement cannot
// attribute untracked mass to an active mechanism.
type DeathAccounting struct {
	Compound     float64
	Confluence   float64
	Starvation   float64
	PH           float64
	Unattributed float64
}

// Get returns the accumulated fraction for the given mode.
func (d DeathAccounting) Get(mode DeathMode) float64 {
	switch mode {
	case DeathCompound:
		return d.Compound
	case DeathConfluence:
		return d.Confluence
	case DeathStarvation:
		return d.Starvation
	case DeathPH:
		return d.PH
	default:
		return d.Unattributed
	}
}

// Add accumulates delta onto the given mode's fraction, in place.
func (d *DeathAccounting) Add(mode DeathMode, delta float64) {
	switch mode {
	case DeathCompound:
		d.Compound += delta
	case DeathConfluence:
		d.Confluence += delta
	case DeathStarvation:
		d.Starvation += delta
	case DeathPH:
		d.PH += delta
	default:
		d.Unattributed += delta
	}
}

// Sum returns the total tracked dead fraction across all modes.
func (d DeathAccounting) Sum() float64 {
	return d.Compound + d.Confluence + d.Starvation + d.PH + d.Unattributed
}

// Scale multiplies every mode's fraction by factor, used when clamping
// the total onto total_dead during conservation enforcement.
func (d *DeathAccounting) Scale(factor float64) {
	d.Compound *= factor
	d.Confluence *= factor
	d.Starvation *= factor
	d.PH *= factor
	d.Unattributed *= factor
}

// CompoundDose is the per-compound state tracked on a vessel.
type CompoundDose struct {
	ConcentrationUM  float64
	DecayKPerH       float64
	AdsorbedFraction float64
	StartTimeH       float64
}

// VesselState is the full per-well state described in spec §3.1.
// Mutated only by pkg/bvm operations; never constructed directly except
// via SeedVessel.
type VesselState struct {
	VesselID      string
	PlateID       string
	WellPosition  string
	CellLine      string

	CellCount       float64
	Viability       float64
	Confluence      float64
	MediaVolumeUL   float64
	InitialVolumeUL float64
	MediaAgeH       float64

	Subpopulations map[string]SubpopulationMixture // stress axis -> mixture

	Death DeathAccounting

	Compounds map[string]CompoundDose

	LactateMM float64
	PHProxy   float64

	// TotalHazardThisStep is ephemeral bookkeeping consumed by the
	// substep-chunking decision at the top of the next Step call.
	TotalHazardThisStep float64

	// VesselCapacity is the cell count corresponding to confluence == 1.
	VesselCapacity float64

	// EvapRatePerH is the vessel format's evaporation rate, copied in at
	// seed time so steps never need to re-resolve the catalog.
	EvapRatePerH float64

	// DebrisLevel in [0,1] feeds the assay layer's viability scaling.
	DebrisLevel float64

	// AttachedFraction in (0,1] feeds count_cells.
	AttachedFraction float64
}

// ConservationResidual returns |Σ death modes - (1 - viability)|, the
// quantity the hard conservation invariant bounds by 1e-6.
func (v *VesselState) ConservationResidual() float64 {
	return math.Abs(v.Death.Sum() - (1.0 - v.Viability))
}

// Clone returns a deep copy of the vessel, used by the beam planner to
// take immutable snapshots before rollouts (spec §5) and by
// bvm.PassageSubculture.
func (v *VesselState) Clone() *VesselState {
	cp := *v
	cp.Subpopulations = make(map[string]SubpopulationMixture, len(v.Subpopulations))
	for k, val := range v.Subpopulations {
		cp.Subpopulations[k] = val
	}
	cp.Compounds = make(map[string]CompoundDose, len(v.Compounds))
	for k, val := range v.Compounds {
		cp.Compounds[k] = val
	}
	return &cp
}

// BufferCapacity returns media_volume / initial_volume, used by the pH
// drift model. Returns 0 if initial volume is zero to avoid a division
// by zero in pathological setups.
func (v *VesselState) BufferCapacity() float64 {
	if v.InitialVolumeUL <= 0 {
		return 0
	}
	return v.MediaVolumeUL / v.InitialVolumeUL
}
