package beam

import (
	"context"
	"math"

	"github.com/epistemic-labs/biovm/pkg/assay"
	"github.com/epistemic-labs/biovm/pkg/belief"
	"github.com/epistemic-labs/biovm/pkg/bvm"
	"github.com/epistemic-labs/biovm/pkg/calibrator"
	"github.com/epistemic-labs/biovm/pkg/catalog"
	"github.com/epistemic-labs/biovm/pkg/posterior"
	"github.com/epistemic-labs/biovm/pkg/rng"
	"github.com/epistemic-labs/biovm/pkg/runcontext"
)

// Logger is the narrow logging surface the planner needs, matching
// pkg/bvm's Logger shape so both can be satisfied by the same
// *internal/obslog.Logger without either package importing internal/.
type Logger interface {
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
}

// Deps bundles the rollout's read-only dependencies.
type Deps struct {
	Catalogs   *catalog.Catalogs
	RunCtx     *runcontext.RunContext
	Fabric     *rng.Fabric
	Signatures posterior.Signatures
	Nuisance   posterior.NuisanceModel
	Calibrator *calibrator.Calibrator
	Logger     Logger
}

// rolloutPrefix clones vessel (so the caller's snapshot is never
// mutated — spec §5's immutable-snapshot-per-worker rule), advances the
// clone by dt hours, then measures it. Used for the planner's very
// first rollout from a live seed vessel.
func rolloutPrefix(ctx context.Context, d Deps, vessel *catalog.VesselState, dt float64, day int, operator string) (*PrefixRolloutResult, error) {
	return advanceAndMeasure(ctx, d, vessel.Clone(), dt, day, operator)
}

// advanceAndMeasure advances an already-owned clone by dt hours
// (interventions, if any, must already be applied by the caller), then
// measures it through the assay/posterior/calibrator chain. day/operator
// feed cell_painting's nuisance factors (spec §4.3).
func advanceAndMeasure(ctx context.Context, d Deps, clone *catalog.VesselState, dt float64, day int, operator string) (*PrefixRolloutResult, error) {
	physics := rng.PhysicsStreams(d.Fabric)
	stepIn := bvm.Inputs{Catalogs: d.Catalogs, RunCtx: d.RunCtx, Streams: physics, Logger: d.Logger}
	if _, err := bvm.Step(ctx, clone, stepIn, dt); err != nil {
		return nil, err
	}

	return measure(d, clone, dt, day, operator)
}

// measure runs the read-only assay/posterior/calibrator chain against a
// vessel snapshot without advancing its physics, used both after a
// physics rollout and for a COMMIT successor that reuses its parent's
// already-measured snapshot at the same t_step.
func measure(d Deps, vessel *catalog.VesselState, elapsedH float64, day int, operator string) (*PrefixRolloutResult, error) {
	snap := assay.NewSnapshot(vessel)
	assayStreams := rng.AssayStreams(d.Fabric)

	morphology, err := assay.CellPainting(snap, d.RunCtx, assayStreams, day, operator)
	if err != nil {
		return nil, err
	}
	scalarViability, err := assay.ScalarViability(snap, d.RunCtx, assayStreams)
	if err != nil {
		return nil, err
	}

	observed := posterior.Vec3{
		math.Log(math.Max(morphology.ActinFold, 1e-6)),
		math.Log(math.Max(morphology.MitoFold, 1e-6)),
		math.Log(math.Max(morphology.ERFold, 1e-6)),
	}
	post := posterior.Compute(observed, d.Nuisance, d.Signatures)

	b := belief.State{
		TopProbability:   post.TopProbability,
		Margin:           post.Margin,
		Entropy:          post.Entropy,
		NuisanceFraction: d.Nuisance.NuisanceFraction(),
		TimepointH:       elapsedH,
		DoseRelative:     dominantDoseRelative(vessel, d.Catalogs),
		Viability:        scalarViability,
	}

	confidence := post.TopProbability
	if d.Calibrator != nil {
		if err := d.Calibrator.Validate(); err == nil {
			confidence = d.Calibrator.Predict(b)
		}
	}

	return &PrefixRolloutResult{
		Vessel:               vessel,
		Belief:               b,
		TopMechanism:         post.TopMechanism,
		CalibratedConfidence: clamp01(confidence),
		ElapsedH:             elapsedH,
	}, nil
}

// dominantDoseRelative reports the largest active compound's dose
// relative to its catalog max_dose_uM, or 0 with no compounds present.
func dominantDoseRelative(vessel *catalog.VesselState, catalogs *catalog.Catalogs) float64 {
	if catalogs == nil {
		return 0
	}
	best := 0.0
	for id, dose := range vessel.Compounds {
		spec, ok := catalogs.Compound(id)
		if !ok || spec.MaxDoseUM <= 0 {
			continue
		}
		rel := dose.ConcentrationUM / spec.MaxDoseUM
		if rel > best {
			best = rel
		}
	}
	return best
}
