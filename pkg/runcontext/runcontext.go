// Package runcontext holds plate-level correlated nuisance fields that
// are immutable once a run starts (spec §3.1 RunContext, §4.3). Reads
// are safe from any number of goroutines because nothing in this package
// mutates after New returns.
package runcontext

import (
	"fmt"
	"math"

	"github.com/epistemic-labs/biovm/pkg/rng"
)

// FieldType names one of the four enumerated nuisance fields a plate can
// carry. Spec §9 replaces "dynamic config dicts" with this closed,
// enumerated set — an unrecognized key is a load-time error, not a
// silently-ignored one.
type FieldType string

const (
	FieldTemperatureGradient FieldType = "temperature_gradient"
	FieldIlluminationGradient FieldType = "illumination_gradient"
	FieldEvaporationField    FieldType = "evaporation_field"
	FieldPipettingBias       FieldType = "pipetting_bias"
)

// Config is the explicit, enumerated configuration record for run-level
// nuisance structure. InstrumentCorrelation is the ρ between illumination
// and reader_gain; default 1.0 per spec §9's open question. Do not change
// the default without an explicit version bump — a future relaxation to
// ρ≈0.6–0.8 is anticipated but not yet adopted.
type Config struct {
	TemperatureGradientAmplitude float64
	IlluminationGradientAmplitude float64
	EvaporationFieldAmplitude    float64
	PipettingBiasAmplitude       float64
	InstrumentCorrelation        float64
}

// DefaultConfig returns the documented defaults, including ρ=1.0.
func DefaultConfig() Config {
	return Config{
		TemperatureGradientAmplitude:  0.02,
		IlluminationGradientAmplitude: 0.05,
		EvaporationFieldAmplitude:     0.1,
		PipettingBiasAmplitude:        0.03,
		InstrumentCorrelation:         1.0,
	}
}

// plateFieldKey identifies one latent draw.
type plateFieldKey struct {
	plateID string
	field   FieldType
}

// RunContext is immutable after New returns. It holds plate-field latent
// samples and the global instrument-shift latent that correlates
// illumination_bias and reader_gain.
type RunContext struct {
	rootSeed int64
	config   Config

	plateFields map[plateFieldKey]float64
	// instrumentShift is the single shared latent z driving the
	// correlated illumination/reader-gain pair for each plate.
	instrumentShift map[string]float64
	contextBiases   map[string][3]float64 // channel biases keyed by plate ID
}

// New draws every plate-level latent once, up front, from the
// plate_fields named root. plateIDs must be known in full before the run
// starts (plates are not discovered dynamically).
func New(seed int64, config Config, plateIDs []string) *RunContext {
	fabric := rng.New(seed)
	rc := &RunContext{
		rootSeed:        seed,
		config:          config,
		plateFields:     make(map[plateFieldKey]float64),
		instrumentShift: make(map[string]float64),
		contextBiases:   make(map[string][3]float64),
	}

	fields := []FieldType{
		FieldTemperatureGradient,
		FieldIlluminationGradient,
		FieldEvaporationField,
		FieldPipettingBias,
	}

	// One instrument-shift latent for the whole run, shared by every plate.
	instrumentShift := fabric.Named(rng.RootPlateFields, "instrument_shift").NormFloat64()

	for _, plateID := range plateIDs {
		for _, field := range fields {
			s := fabric.Named(rng.RootPlateFields, fmt.Sprintf("plate=%s|field=%s", plateID, field))
			rc.plateFields[plateFieldKey{plateID, field}] = s.NormFloat64()
		}

		rc.instrumentShift[plateID] = instrumentShift

		biasStream := fabric.Named(rng.RootPlateFields, "context_bias|plate="+plateID)
		rc.contextBiases[plateID] = [3]float64{
			biasStream.NormFloat64() * 0.1,
			biasStream.NormFloat64() * 0.1,
			biasStream.NormFloat64() * 0.1,
		}
	}

	return rc
}

// PlateField returns the latent draw for one plate/field combination,
// scaled by the corresponding configured amplitude. Returns 0 if the
// plate was never registered via New.
func (rc *RunContext) PlateField(plateID string, field FieldType) float64 {
	latent := rc.plateFields[plateFieldKey{plateID, field}]
	return latent * rc.amplitude(field)
}

func (rc *RunContext) amplitude(field FieldType) float64 {
	switch field {
	case FieldTemperatureGradient:
		return rc.config.TemperatureGradientAmplitude
	case FieldIlluminationGradient:
		return rc.config.IlluminationGradientAmplitude
	case FieldEvaporationField:
		return rc.config.EvaporationFieldAmplitude
	case FieldPipettingBias:
		return rc.config.PipettingBiasAmplitude
	default:
		return 0
	}
}

// ReaderGainAndIlluminationBias returns the correlated pair for a plate,
// combining the shared instrument-shift latent z with an independent
// residual per channel at correlation ρ = InstrumentCorrelation:
//
//	x = 1 + 0.1·(ρ·z + sqrt(1-ρ²)·independent)
//
// At the documented default ρ=1.0 the independent terms vanish and the
// two quantities move in lockstep.
func (rc *RunContext) ReaderGainAndIlluminationBias(plateID string, independentGain, independentIllum float64) (readerGain, illuminationBias float64) {
	z := rc.instrumentShift[plateID]
	rho := rc.config.InstrumentCorrelation
	residualWeight := 0.0
	if rho < 1.0 {
		residualWeight = sqrtClamp(1 - rho*rho)
	}
	readerGain = 1.0 + rho*z*0.1 + residualWeight*independentGain*0.1
	illuminationBias = 1.0 + rho*z*0.1 + residualWeight*independentIllum*0.1
	return
}

func sqrtClamp(x float64) float64 {
	if x < 0 {
		return 0
	}
	return math.Sqrt(x)
}

// ContextBias returns the 3-channel context bias vector drawn for a
// plate. No code in this module reads it.
func (rc *RunContext) ContextBias(plateID string) [3]float64 {
	return rc.contextBiases[plateID]
}

// Config returns the run's configuration record.
func (rc *RunContext) Config() Config { return rc.config }
