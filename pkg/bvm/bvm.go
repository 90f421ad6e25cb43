// Package bvm implements the Biological Virtual Machine core: the step
// function that advances one vessel's state under growth, compound
// decay, and competing-risk hazards, plus the treat/washout/feed/passage
// operations (spec §4.2). Every phase in a step runs in the fixed order
// listed in §4.2 and §5 — volume → decay → growth → hazards → survival →
// allocation → subpopulation shift → conservation — and that order is
// never permuted at runtime.
package bvm

import (
	"context"
	"fmt"
	"math"

	"github.com/epistemic-labs/biovm/pkg/bioerrors"
	"github.com/epistemic-labs/biovm/pkg/catalog"
	"github.com/epistemic-labs/biovm/pkg/rng"
	"github.com/epistemic-labs/biovm/pkg/runcontext"
)

// Tunable thresholds from spec §4.2.
const (
	maxSubstepHours    = 0.5
	substepTriggerHours = 1.0
	substepTriggerHazard = 0.5
	conservationEpsilonDetect = 1e-3
	conservationEpsilonTight  = 1e-6
)

// HazardDetail reports one mechanism's contribution within a substep, for
// diagnostics (collected in StepReport.HazardsByMechanism).
type HazardDetail struct {
	Mechanism catalog.DeathMode
	Lambda    float64

	// perBucket carries the per-bucket hazard rate this mechanism proposed,
	// consumed only by shiftSubpopulations within the same substep — never
	// exported, since outside callers only need the aggregate.
	perBucket map[catalog.BucketLabel]float64
}

// StepReport summarizes everything that happened across every substep of
// one Step call.
type StepReport struct {
	SubstepsExecuted int
	HazardsByMechanism []HazardDetail
	UntrackedMassWarnings int
}

// UntrackedMassWarning is emitted (via the caller's logger) whenever
// conservation enforcement had to attribute untracked mass (spec §4.2
// phase 8). Kept as a typed value rather than a formatted string so
// cmd/biovm can route it into diagnostics.jsonl as structured fields.
type UntrackedMassWarning struct {
	VesselID  string
	Untracked float64
	Attributed catalog.DeathMode
}

// Logger is the narrow logging surface bvm needs, satisfied by
// *internal/obslog.Logger without importing it (avoids pkg/bvm depending
// on internal/).
type Logger interface {
	Warn(msg string, kv ...any)
}

// Inputs bundles the read-only dependencies a step needs beyond the
// vessel itself.
type Inputs struct {
	Catalogs *catalog.Catalogs
	RunCtx   *runcontext.RunContext
	Streams  rng.Streams // must be rng.PhysicsStreams(fabric)
	Logger   Logger      // optional; nil discards diagnostics
}

// Step advances vessel by the given number of hours, in substeps of at
// most 0.5h whenever hours>1.0 or the prior step's aggregate hazard
// exceeded 0.5 (spec §4.2). Zero-duration steps are a no-op (spec §8
// boundary behavior).
func Step(ctx context.Context, vessel *catalog.VesselState, in Inputs, hours float64) (*StepReport, error) {
	if hours < 0 {
		return nil, fmt.Errorf("bvm: hours must be non-negative, got %f", hours)
	}
	if hours == 0 {
		return &StepReport{}, nil
	}

	report := &StepReport{}

	remaining := hours
	for remaining > 1e-12 {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		dt := remaining
		if hours > substepTriggerHours || vessel.TotalHazardThisStep > substepTriggerHazard {
			if dt > maxSubstepHours {
				dt = maxSubstepHours
			}
		}

		hazards, warning, err := substep(vessel, in, dt)
		if err != nil {
			return report, err
		}

		report.SubstepsExecuted++
		report.HazardsByMechanism = append(report.HazardsByMechanism, hazards...)
		if warning != nil {
			report.UntrackedMassWarnings++
			if in.Logger != nil {
				in.Logger.Warn("conservation: untracked mass attributed",
					"vessel_id", warning.VesselID,
					"untracked", warning.Untracked,
					"attributed_to", warning.Attributed,
				)
			}
		}

		remaining -= dt
	}

	return report, nil
}

// substep runs the fixed 9-phase sequence once, for one chunk of at most
// 0.5h.
func substep(vessel *catalog.VesselState, in Inputs, dt float64) ([]HazardDetail, *UntrackedMassWarning, error) {
	updateVolumeAndWaste(vessel, dt)
	decayCompounds(vessel, dt)
	applyGrowth(vessel, in, dt)

	hazards, totalHazard, err := proposeHazards(vessel, in, dt)
	if err != nil {
		return nil, nil, err
	}

	newViability, err := aggregateSurvival(vessel, totalHazard, dt)
	if err != nil {
		return nil, nil, err
	}

	deaths := allocateDeath(hazards, totalHazard, vessel.Viability, newViability)
	shiftSubpopulations(vessel, hazards, dt)

	warning, err := enforceConservation(vessel, deaths, newViability)
	if err != nil {
		return nil, nil, err
	}

	vessel.Viability = newViability
	vessel.TotalHazardThisStep = totalHazard

	if math.IsNaN(vessel.Viability) || vessel.Viability < 0 {
		return nil, nil, bioerrors.NewInvariantError("non_finite_viability", bioerrors.ErrNonFiniteViability, map[string]any{
			"vessel_id": vessel.VesselID,
			"viability": vessel.Viability,
		})
	}

	return hazards, warning, nil
}

