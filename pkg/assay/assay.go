// Package assay implements the read-only measurement layer: Cell
// Painting morphology, scalar viability, and cell counting (spec §4.3).
// Every function here draws randomness only through a rng.Streams view;
// an rng.AssayStreams view panics on any growth/treatment/operations
// root, guarding spec §4.1's observer-independence invariant. The check
// happens at run time: physics and assay views share the Streams type.
package assay

import (
	"strconv"

	"github.com/epistemic-labs/biovm/pkg/catalog"
	"github.com/epistemic-labs/biovm/pkg/rng"
	"github.com/epistemic-labs/biovm/pkg/runcontext"
)

// Snapshot is an immutable, read-only view of a vessel for assay
// purposes. Built once via NewSnapshot so assay code can never hold the
// live mutable *catalog.VesselState BVM uses.
type Snapshot struct {
	VesselID     string
	PlateID      string
	WellPosition string
	Viability    float64
	Confluence   float64
	DebrisLevel  float64
	AttachedFraction float64
	CellCount    float64
}

// NewSnapshot copies the fields assay code is allowed to read.
func NewSnapshot(v *catalog.VesselState) Snapshot {
	return Snapshot{
		VesselID:         v.VesselID,
		PlateID:          v.PlateID,
		WellPosition:     v.WellPosition,
		Viability:        v.Viability,
		Confluence:       v.Confluence,
		DebrisLevel:      v.DebrisLevel,
		AttachedFraction: v.AttachedFraction,
		CellCount:        v.CellCount,
	}
}

// MorphologyReading is the 5-channel Cell Painting output (spec §4.3).
type MorphologyReading struct {
	ActinFold   float64
	MitoFold    float64
	ERFold      float64
	NucleusFold float64
	RNAFold     float64
}

// edgeFactor models the well-position edge effect common to
// micro-well-plate imaging: wells on the plate perimeter read slightly
// brighter due to meniscus and illumination fall-off.
func edgeFactor(wellPosition string) float64 {
	if len(wellPosition) == 0 {
		return 1.0
	}
	// A-row/H-row and column 1/12 are edge wells on a 96-well plate;
	// approximate via the row letter and a parsed column number.
	row := wellPosition[0]
	if row == 'A' || row == 'H' {
		return 1.08
	}
	if col, err := strconv.Atoi(wellPosition[1:]); err == nil && (col == 1 || col == 12) {
		return 1.08
	}
	return 1.0
}

// CellPainting implements spec §4.3: reads latent morphology state,
// multiplies by nuisance factors drawn only from the assay stream, and
// scales by viability and debris. Does not mutate the vessel (it never
// even receives the mutable pointer).
func CellPainting(snap Snapshot, rc *runcontext.RunContext, streams rng.Streams, day int, operator string) (MorphologyReading, error) {
	stream := streams.Named(rng.RootAssay, "cell_painting|vessel="+snap.VesselID+"|day="+itoa(day))

	plateFactor := 1.0
	illumination := 1.0
	if rc != nil {
		plateFactor = 1.0 + rc.PlateField(snap.PlateID, runcontext.FieldIlluminationGradient)
		_, illuminationBias := rc.ReaderGainAndIlluminationBias(snap.PlateID, stream.NormFloat64(), stream.NormFloat64())
		illumination = illuminationBias
	}
	dayFactor := 1.0 + 0.01*float64(day%7)
	operatorFactor := operatorFactor(operator)
	edge := edgeFactor(snap.WellPosition)

	nuisance := plateFactor * dayFactor * operatorFactor * edge * illumination
	viabilityFactor := snap.Viability * (1 + 0.5*snap.DebrisLevel)

	baseline := func(mean float64) float64 {
		noise := 1.0 + 0.05*stream.NormFloat64()
		return mean * nuisance * viabilityFactor * noise
	}

	return MorphologyReading{
		ActinFold:   baseline(1.0),
		MitoFold:    baseline(1.0),
		ERFold:      baseline(1.0),
		NucleusFold: baseline(1.0),
		RNAFold:     baseline(1.0),
	}, nil
}

func operatorFactor(operator string) float64 {
	// A small, deterministic per-operator bias, keyed by name so the
	// same operator always contributes the same systematic shift.
	h := 0
	for _, r := range operator {
		h = h*31 + int(r)
	}
	if h < 0 {
		h = -h
	}
	return 0.98 + float64(h%5)*0.01
}

// ScalarViability implements spec §4.3: reader_gain (correlated with
// illumination at the configured ρ) times true viability times noise.
func ScalarViability(snap Snapshot, rc *runcontext.RunContext, streams rng.Streams) (float64, error) {
	stream := streams.Named(rng.RootAssay, "scalar_viability|vessel="+snap.VesselID)
	readerGain := 1.0
	if rc != nil {
		readerGain, _ = rc.ReaderGainAndIlluminationBias(snap.PlateID, stream.NormFloat64(), stream.NormFloat64())
	}
	noise := 1.0 + 0.03*stream.NormFloat64()
	return clip01(readerGain * snap.Viability * noise), nil
}

// CountCells implements spec §4.3: Poisson around the expected count
// scaled by attached_fraction, drawn from the assay stream only.
func CountCells(snap Snapshot, streams rng.Streams) (int, error) {
	stream := streams.Named(rng.RootAssay, "count_cells|vessel="+snap.VesselID)
	expected := snap.CellCount * snap.AttachedFraction
	if expected <= 0 {
		return 0, nil
	}
	return stream.Poisson(expected), nil
}

func clip01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
