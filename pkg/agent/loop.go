// Package agent implements the per-cycle decision loop: observe the
// current vessel, update belief, plan the next action via the beam
// planner, propose it through the design bridge, execute or quarantine
// it, and emit a decision receipt. Every cycle's belief update flows
// through a fresh posterior/calibrator measurement rather than a direct
// mutation, and every epistemic-ledger change flows through
// pkg/epistemic's evidence-event API (spec §4.9).
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/epistemic-labs/biovm/internal/obsmetrics"
	"github.com/epistemic-labs/biovm/pkg/beam"
	"github.com/epistemic-labs/biovm/pkg/bioerrors"
	"github.com/epistemic-labs/biovm/pkg/bvm"
	"github.com/epistemic-labs/biovm/pkg/calibrator"
	"github.com/epistemic-labs/biovm/pkg/catalog"
	"github.com/epistemic-labs/biovm/pkg/designbridge"
	"github.com/epistemic-labs/biovm/pkg/epistemic"
	"github.com/epistemic-labs/biovm/pkg/posterior"
	"github.com/epistemic-labs/biovm/pkg/rng"
	"github.com/epistemic-labs/biovm/pkg/runcontext"
)

// designNamespace roots the deterministic design-id derivation; fixed so
// (run_id, cycle) always maps to the same uuid across replays.
var designNamespace = uuid.MustParse("6f8e1f9a-4b0e-4b8a-9d8a-5e9c2b6f10aa")

// Deps bundles the loop's read-only collaborators.
type Deps struct {
	Catalogs   *catalog.Catalogs
	RunCtx     *runcontext.RunContext
	Fabric     *rng.Fabric
	Signatures posterior.Signatures
	Nuisance   posterior.NuisanceModel
	Calibrator *calibrator.Calibrator
	Epistemic  *epistemic.Controller
	Metrics    *obsmetrics.Metrics
	Logger     beam.Logger
}

// Config bundles one campaign's fixed parameters.
type Config struct {
	RunID          string
	RunRoot        string
	GitSHA         string
	CellLineID     string
	VesselFormatID string
	CompoundID     string
	BaseDoseUM     float64
	BeamWidth      int
	WellPositions  []string
	Beam           beam.Config
}

// Loop drives one campaign's vessel through repeated decision cycles.
type Loop struct {
	deps   Deps
	cfg    Config
	Vessel *catalog.VesselState
}

// NewLoop seeds the campaign's vessel and returns a ready Loop.
func NewLoop(deps Deps, cfg Config) (*Loop, error) {
	v, err := catalog.SeedVessel(deps.Catalogs, catalog.SeedSpec{
		VesselID:       fmt.Sprintf("%s-vessel", cfg.RunID),
		PlateID:        fmt.Sprintf("%s-plate0", cfg.RunID),
		WellPosition:   "A01",
		CellLineID:     cfg.CellLineID,
		VesselFormatID: cfg.VesselFormatID,
		InitialCells:   100,
	})
	if err != nil {
		return nil, fmt.Errorf("agent: seeding campaign vessel: %w", err)
	}
	return &Loop{deps: deps, cfg: cfg, Vessel: v}, nil
}

// SetMetrics attaches a metrics collector after construction, as an
// alternative to passing one in Deps.Metrics.
func (l *Loop) SetMetrics(m *obsmetrics.Metrics) {
	l.deps.Metrics = m
}

// RunCycle implements spec §4.9's seven-step cycle and returns the
// receipt it emitted. A nil return is never valid; RunCycle always
// either returns a validated receipt or a non-nil error.
func (l *Loop) RunCycle(ctx context.Context, cycle int) (*DecisionReceipt, error) {
	started := time.Now()
	defer func() {
		if l.deps.Metrics != nil {
			l.deps.Metrics.CycleDurationSeconds.Observe(time.Since(started).Seconds())
		}
	}()

	beamDeps := l.beamDeps()
	beamCfg := l.cfg.Beam
	if l.deps.Epistemic != nil {
		if horizon := l.deps.Epistemic.EffectiveHorizon(); horizon < beamCfg.MaxInterventions {
			beamCfg.MaxInterventions = horizon
		}
	}
	planner := beam.New(beamDeps, beamCfg, cycle)

	// 1. Observe: measure the live vessel with no time advance.
	prior, err := planner.NewRootNode(ctx, l.Vessel)
	if err != nil {
		return nil, fmt.Errorf("agent: observing cycle %d: %w", cycle, err)
	}

	// 2. Update belief: prior is already the freshly recomputed belief;
	// nothing else mutates it (the evidence-event-only ledger contract
	// is honored because only epistemic.Controller's Claim/Resolve touch
	// mutable ledger state, and both append to the evidence log).

	// 3. Plan next action.
	children, err := planner.Expand(ctx, []*beam.BeamNode{prior})
	if err != nil {
		return nil, fmt.Errorf("agent: planning cycle %d: %w", cycle, err)
	}
	if l.deps.Metrics != nil {
		l.deps.Metrics.BeamExpansionsTotal.Inc()
		l.deps.Metrics.BeamNodesEvaluated.Add(float64(len(children)))
	}
	kept := beam.Prune(children, l.cfg.BeamWidth)

	chosen := beam.BestTerminal(kept)
	forced := false
	if chosen == nil {
		chosen = beam.BestNonTerminal(kept)
	}
	if chosen == nil {
		forced = true
		chosen, err = l.forcedContinue(ctx, beamDeps, prior)
		if err != nil {
			return nil, fmt.Errorf("agent: forced fallback cycle %d: %w", cycle, err)
		}
	}

	action := lastAction(chosen)
	regime := nuisanceRegimeLabel(l.deps.Nuisance.NuisanceFraction())

	// 4. Propose via the design bridge.
	proposal := l.proposalFor(cycle, action)
	design, err := designbridge.ToDesignJSON(proposal, cycle, l.cfg.RunID, l.cfg.WellPositions)
	if err != nil {
		return nil, fmt.Errorf("agent: expanding design cycle %d: %w", cycle, err)
	}
	design.DesignID = deterministicDesignID(l.cfg.RunID, cycle)
	design.Metadata.GitSHA = l.cfg.GitSHA

	mode := designbridge.ValidatorPlaceholder
	if l.deps.Catalogs != nil {
		mode = designbridge.ValidatorFull
	}
	validateErr := designbridge.Validate(design, l.deps.Catalogs, mode, nil)

	receipt := &DecisionReceipt{
		Cycle:     cycle,
		Template:  string(action.Kind),
		Forced:    forced,
		Trigger:   "cycle_boundary",
		Regime:    regime,
		GateState: "accepted",
	}
	if forced {
		receipt.Trigger = "no_alternative"
	}

	if validateErr != nil {
		// 6. Handle rejection.
		receipt.GateState = "rejected"
		receipt.AttemptedTemplate = string(action.Kind)
		if l.deps.Metrics != nil {
			code := "unknown"
			var ide *bioerrors.InvalidDesignError
			if errors.As(validateErr, &ide) {
				code = ide.ViolationCode
			}
			l.deps.Metrics.RejectionsTotal.WithLabelValues(code).Inc()
		}
		if err := l.persistRejected(design, cycle, validateErr); err != nil {
			return nil, err
		}
		if err := l.emitReceipt(receipt); err != nil {
			return nil, err
		}
		return receipt, nil
	}

	// 5. Execute the accepted action.
	if err := l.executeAccepted(ctx, cycle, action, prior, chosen); err != nil {
		return nil, fmt.Errorf("agent: executing cycle %d: %w", cycle, err)
	}
	if _, err := designbridge.Persist(design, l.cfg.RunRoot, l.cfg.RunID, cycle); err != nil {
		return nil, fmt.Errorf("agent: persisting accepted design cycle %d: %w", cycle, err)
	}
	if action.Kind == beam.ActionCommit {
		receipt.GateState = "committed"
		if l.deps.Metrics != nil {
			l.deps.Metrics.CommitsTotal.Inc()
		}
	}
	if action.Kind == beam.ActionRescue && action.Rescue != nil {
		receipt.CalibrationPlan = string(action.Rescue.Target)
	}
	if l.deps.Epistemic != nil {
		s := l.deps.Epistemic.Stats()
		if s.TotalDebtBits > 0 {
			receipt.EnforcementLayer = fmt.Sprintf("cost_mult=%.3f", s.CostMultiplier)
		}
		if l.deps.Metrics != nil {
			l.deps.Metrics.EpistemicDebtBits.Set(s.TotalDebtBits)
			l.deps.Metrics.CostMultiplier.Set(s.CostMultiplier)
		}
	}

	// 7. Emit decision receipt.
	if err := l.emitReceipt(receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

func (l *Loop) beamDeps() beam.Deps {
	return beam.Deps{
		Catalogs:   l.deps.Catalogs,
		RunCtx:     l.deps.RunCtx,
		Fabric:     l.deps.Fabric,
		Signatures: l.deps.Signatures,
		Nuisance:   l.deps.Nuisance,
		Calibrator: l.deps.Calibrator,
		Logger:     l.deps.Logger,
	}
}

// forcedContinue re-runs the planner's Expand with a single zero-dose
// level and a one-intervention budget, returning its first successor,
// for the case where the normal Expand produced nothing to choose from
// (e.g. the intervention budget is already exhausted).
func (l *Loop) forcedContinue(ctx context.Context, deps beam.Deps, prior *beam.BeamNode) (*beam.BeamNode, error) {
	cfg := l.cfg.Beam
	cfg.DoseLevels = []float64{0}
	cfg.MaxInterventions = 1
	p := beam.New(deps, cfg, 0)
	children, err := p.Expand(ctx, []*beam.BeamNode{prior})
	if err != nil {
		return nil, err
	}
	if len(children) == 0 {
		return nil, fmt.Errorf("agent: planner produced no successors even in forced mode")
	}
	return children[0], nil
}

func lastAction(node *beam.BeamNode) beam.Action {
	if len(node.Schedule) == 0 {
		return beam.Action{Kind: beam.ActionContinue, Continue: &beam.ContinueParams{}}
	}
	return node.Schedule[len(node.Schedule)-1]
}

func (l *Loop) proposalFor(cycle int, action beam.Action) designbridge.Proposal {
	doseUM := l.cfg.BaseDoseUM
	if action.Kind == beam.ActionContinue && action.Continue != nil {
		doseUM = l.cfg.BaseDoseUM * action.Continue.DoseFraction
	}
	return designbridge.Proposal{
		DesignID:   deterministicDesignID(l.cfg.RunID, cycle),
		Hypothesis: fmt.Sprintf("cycle %d action %s", cycle, action.Kind),
		Wells: []designbridge.WellSpec{
			{CellLine: l.cfg.CellLineID, Compound: l.cfg.CompoundID, DoseUM: doseUM, TimepointH: float64(cycle + 1)},
		},
	}
}

func (l *Loop) executeAccepted(ctx context.Context, cycle int, action beam.Action, prior, chosen *beam.BeamNode) error {
	if action.Kind == beam.ActionCommit {
		return l.resolveClaim(cycle, prior, chosen, false)
	}

	if action.Kind == beam.ActionContinue && action.Continue != nil {
		if action.Continue.Washout {
			if err := bvm.Washout(l.Vessel, 0.5); err != nil {
				return err
			}
		}
		if l.cfg.CompoundID != "" && action.Continue.DoseFraction > 0 {
			dose := l.cfg.BaseDoseUM * action.Continue.DoseFraction
			if err := bvm.Treat(l.Vessel, l.cfg.CompoundID, dose, l.cfg.Beam.DecayKPerH, l.cfg.Beam.AdsorbedFraction, float64(cycle)); err != nil {
				return err
			}
		}
		if action.Continue.Feed {
			if err := bvm.Feed(l.Vessel); err != nil {
				return err
			}
		}
	}

	dt := l.cfg.Beam.RoundDurationH
	if action.Kind == beam.ActionRescue && action.Rescue != nil {
		switch action.Rescue.Target {
		case beam.RescueTimepoint:
			dt *= 2
		case beam.RescueDoseContrast:
			if l.cfg.CompoundID != "" {
				if err := bvm.Treat(l.Vessel, l.cfg.CompoundID, l.cfg.BaseDoseUM*2, l.cfg.Beam.DecayKPerH, l.cfg.Beam.AdsorbedFraction, float64(cycle)); err != nil {
					return err
				}
			}
		case beam.RescueCalibrationWells:
			// Adds a calibration-only observation; the vessel itself is
			// unperturbed.
		}
	}

	physics := rng.PhysicsStreams(l.deps.Fabric)
	stepIn := bvm.Inputs{Catalogs: l.deps.Catalogs, RunCtx: l.deps.RunCtx, Streams: physics, Logger: l.deps.Logger}
	if _, err := bvm.Step(ctx, l.Vessel, stepIn, dt); err != nil {
		return err
	}

	return l.resolveClaim(cycle, prior, chosen, true)
}

// resolveClaim opens and immediately resolves an information-gain claim
// for this cycle's action, using the entropy drop between the prior
// measurement and the chosen successor's measurement as both the
// expected and realized gain signal (spec §4.6).
func (l *Loop) resolveClaim(cycle int, prior, chosen *beam.BeamNode, exploration bool) error {
	if l.deps.Epistemic == nil {
		return nil
	}
	claimID := fmt.Sprintf("%s-cycle-%03d", l.cfg.RunID, cycle)
	expectedGain := prior.Belief.Entropy - chosen.Belief.Entropy
	if expectedGain < 0 {
		expectedGain = 0
	}
	if err := l.deps.Epistemic.Claim(claimID, string(lastAction(chosen).Kind), expectedGain, cycle, float64(cycle), exploration); err != nil {
		return err
	}
	realized := l.deps.Epistemic.Measure(prior.Belief.Entropy, chosen.Belief.Entropy)
	_, err := l.deps.Epistemic.Resolve(claimID, realized, float64(cycle)+1, cycle)
	return err
}

func (l *Loop) persistRejected(design *designbridge.Design, cycle int, validateErr error) error {
	code, message, mode := "unknown", validateErr.Error(), "full"
	var ide *bioerrors.InvalidDesignError
	if errors.As(validateErr, &ide) {
		code = ide.ViolationCode
		message = ide.ViolationMessage
		mode = ide.ValidatorMode
	}
	return designbridge.PersistRejected(design, l.cfg.RunRoot, l.cfg.RunID, cycle, code, message, mode, l.cfg.GitSHA)
}

func (l *Loop) emitReceipt(r *DecisionReceipt) error {
	if err := r.Validate(); err != nil {
		return err
	}
	dir := l.cfg.RunRoot
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("agent: creating run root: %w", err)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("agent: marshaling decision receipt: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(filepath.Join(dir, "decisions.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("agent: opening decisions.jsonl: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("agent: writing decisions.jsonl: %w", err)
	}
	return nil
}

func deterministicDesignID(runID string, cycle int) string {
	return uuid.NewSHA1(designNamespace, []byte(fmt.Sprintf("%s|%d", runID, cycle))).String()
}

func nuisanceRegimeLabel(nuisanceFraction float64) string {
	switch {
	case nuisanceFraction < 1.0/3:
		return "low"
	case nuisanceFraction < 2.0/3:
		return "medium"
	default:
		return "high"
	}
}
