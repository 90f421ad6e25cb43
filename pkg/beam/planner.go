package beam

import (
	"context"
	"fmt"
	"sync"

	"github.com/epistemic-labs/biovm/pkg/bvm"
	"github.com/epistemic-labs/biovm/pkg/catalog"
)

// Config bundles the planner's tunable thresholds (spec §4.8 defaults).
type Config struct {
	RoundDurationH      float64
	MaxInterventions    int
	CommitConfThreshold float64
	DoseLevels          []float64
	CompoundID          string
	BaseDoseUM          float64
	DecayKPerH          float64
	AdsorbedFraction    float64
	Weights             Weights
	Workers             int
	Day                 int
	Operator            string
}

// DefaultConfig returns spec-documented defaults.
func DefaultConfig() Config {
	return Config{
		RoundDurationH:      1.0,
		MaxInterventions:    4,
		CommitConfThreshold: 0.75,
		DoseLevels:          []float64{0.5, 1.0, 1.5},
		DecayKPerH:          0.1,
		AdsorbedFraction:    0.1,
		Weights:             DefaultWeights(),
		Workers:             4,
		Operator:            "op_alpha",
	}
}

// CommitRecord is the forensic log record emitted for every COMMIT
// successor (spec §4.8).
type CommitRecord struct {
	Cycle              int
	TStep              int
	PosteriorTopProb   float64
	PosteriorMargin    float64
	NuisanceFraction   float64
	CalibratedConf     float64
	CommitUtility      float64
	Threshold          float64
}

// Planner expands a beam frontier one round at a time.
type Planner struct {
	Deps   Deps
	Config Config
	Cycle  int
}

// New constructs a Planner.
func New(deps Deps, cfg Config, cycle int) *Planner {
	return &Planner{Deps: deps, Config: cfg, Cycle: cycle}
}

// NewRootNode measures a seed vessel with no time advance (dt=0) to
// produce the beam's initial frontier node, before any CONTINUE/RESCUE
// action has been scheduled.
func (p *Planner) NewRootNode(ctx context.Context, vessel *catalog.VesselState) (*BeamNode, error) {
	result, err := rolloutPrefix(ctx, p.Deps, vessel, 0, p.Config.Day, p.Config.Operator)
	if err != nil {
		return nil, err
	}
	node := &BeamNode{
		TStep:                0,
		Viability:            result.Belief.Viability,
		Margin:               result.Belief.Margin,
		Belief:               result.Belief,
		TopMechanism:         result.TopMechanism,
		CalibratedConfidence: result.CalibratedConfidence,
		VesselSnapshot:       result.Vessel,
		ElapsedH:             0,
	}
	node.HeuristicScore = heuristicScore(node, nil)
	return node, nil
}

// Expand runs rollout_prefix concurrently across the input nodes using
// a bounded worker pool, grounded on the teacher's executeWave
// semaphore-bounded goroutine pattern (pkg/engine/dag_executor.go): each
// worker operates on its own immutable vessel snapshot (spec §5), never
// sharing a *catalog.VesselState across goroutines.
func (p *Planner) Expand(ctx context.Context, nodes []*BeamNode) ([]*BeamNode, error) {
	workers := p.Config.Workers
	if workers <= 0 {
		workers = len(nodes)
	}
	if workers <= 0 {
		workers = 1
	}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, workers)
	results := make([][]*BeamNode, len(nodes))
	errs := make([]error, len(nodes))

	for i, node := range nodes {
		wg.Add(1)
		go func(idx int, n *BeamNode) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				errs[idx] = ctx.Err()
				return
			default:
			}

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			children, err := p.expandOne(ctx, n)
			if err != nil {
				errs[idx] = err
				return
			}
			results[idx] = children
		}(i, node)
	}
	wg.Wait()

	var all []*BeamNode
	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("beam: expanding node %d: %w", i, err)
		}
		all = append(all, results[i]...)
	}
	return all, nil
}

// expandOne generates every successor of one node: the CONTINUE
// cartesian product bounded by max_interventions, the COMMIT successor
// gated on calibrated confidence, and the RESCUE successors if
// intervention budget remains.
func (p *Planner) expandOne(ctx context.Context, parent *BeamNode) ([]*BeamNode, error) {
	if parent.IsTerminal {
		return nil, nil
	}

	var successors []*BeamNode
	spent := opsPenalty(parent)
	budgetRemaining := float64(p.Config.MaxInterventions) - spent

	if commit := p.commitSuccessor(parent); commit != nil {
		successors = append(successors, commit)
	}

	if budgetRemaining > 0 {
		continues, err := p.continueSuccessors(ctx, parent, int(budgetRemaining))
		if err != nil {
			return nil, err
		}
		successors = append(successors, continues...)

		rescues, err := p.rescueSuccessors(ctx, parent)
		if err != nil {
			return nil, err
		}
		successors = append(successors, rescues...)
	}

	return successors, nil
}

// commitSuccessor reuses the parent's own measurement (no time advance,
// no new rollout) and is emitted only if calibrated confidence already
// clears the threshold.
func (p *Planner) commitSuccessor(parent *BeamNode) *BeamNode {
	if parent.CalibratedConfidence < p.Config.CommitConfThreshold {
		return nil
	}
	u := commitUtility(p.Config.Weights, parent.CalibratedConfidence, parent.ElapsedH, opsPenalty(parent), parent.Viability)

	if p.Deps.Logger != nil {
		rec := CommitRecord{
			Cycle:            p.Cycle,
			TStep:            parent.TStep,
			PosteriorTopProb: parent.Belief.TopProbability,
			PosteriorMargin:  parent.Belief.Margin,
			NuisanceFraction: parent.Belief.NuisanceFraction,
			CalibratedConf:   parent.CalibratedConfidence,
			CommitUtility:    u,
			Threshold:        p.Config.CommitConfThreshold,
		}
		p.Deps.Logger.Info("beam: commit",
			"cycle", rec.Cycle, "t_step", rec.TStep,
			"posterior_top_prob", rec.PosteriorTopProb, "posterior_margin", rec.PosteriorMargin,
			"nuisance_fraction", rec.NuisanceFraction, "calibrated_conf", rec.CalibratedConf,
			"commit_utility", rec.CommitUtility, "threshold", rec.Threshold,
		)
	}

	schedule := append(append([]Action(nil), parent.Schedule...), Action{
		Kind:   ActionCommit,
		Commit: &CommitParams{Mechanism: parent.TopMechanism},
	})

	return &BeamNode{
		TStep:                parent.TStep,
		Schedule:             schedule,
		WashoutCount:         parent.WashoutCount,
		FeedCount:            parent.FeedCount,
		Viability:            parent.Viability,
		Margin:               parent.Margin,
		Belief:               parent.Belief,
		TopMechanism:         parent.TopMechanism,
		CalibratedConfidence: parent.CalibratedConfidence,
		CommitUtility:        &u,
		IsTerminal:           true,
		VesselSnapshot:       parent.VesselSnapshot,
		ElapsedH:             parent.ElapsedH,
	}
}

// continueSuccessors generates the CONTINUE cartesian product of dose
// level x {washout,no-washout} x {feed,no-feed}, bounded by
// maxCombos (the remaining intervention budget).
func (p *Planner) continueSuccessors(ctx context.Context, parent *BeamNode, maxCombos int) ([]*BeamNode, error) {
	var out []*BeamNode
	for _, dose := range p.Config.DoseLevels {
		for _, washout := range []bool{false, true} {
			for _, feed := range []bool{false, true} {
				if len(out) >= maxCombos {
					return out, nil
				}
				child, err := p.simulateContinue(ctx, parent, dose, washout, feed)
				if err != nil {
					return nil, err
				}
				out = append(out, child)
			}
		}
	}
	return out, nil
}

func (p *Planner) simulateContinue(ctx context.Context, parent *BeamNode, doseFraction float64, washout, feed bool) (*BeamNode, error) {
	clone := parent.VesselSnapshot.Clone()

	if washout {
		if err := bvm.Washout(clone, 0.5); err != nil {
			return nil, err
		}
	}
	if p.Config.CompoundID != "" && doseFraction > 0 {
		dose := p.Config.BaseDoseUM * doseFraction
		if err := bvm.Treat(clone, p.Config.CompoundID, dose, p.Config.DecayKPerH, p.Config.AdsorbedFraction, parent.ElapsedH); err != nil {
			return nil, err
		}
	}
	if feed {
		if err := bvm.Feed(clone); err != nil {
			return nil, err
		}
	}

	result, err := rolloutFrom(ctx, p.Deps, clone, p.Config.RoundDurationH, p.Config.Day, p.Config.Operator)
	if err != nil {
		return nil, err
	}

	washoutCount := parent.WashoutCount
	feedCount := parent.FeedCount
	if washout {
		washoutCount++
	}
	if feed {
		feedCount++
	}

	schedule := append(append([]Action(nil), parent.Schedule...), Action{
		Kind:     ActionContinue,
		Continue: &ContinueParams{DoseFraction: doseFraction, Washout: washout, Feed: feed},
	})

	return nodeFromResult(parent.TStep+1, schedule, washoutCount, feedCount, result, parent), nil
}

// rescueSuccessors generates the three RESCUE variants, each consuming
// one unit of intervention budget.
func (p *Planner) rescueSuccessors(ctx context.Context, parent *BeamNode) ([]*BeamNode, error) {
	targets := []RescueTarget{RescueTimepoint, RescueCalibrationWells, RescueDoseContrast}
	out := make([]*BeamNode, 0, len(targets))
	for _, target := range targets {
		child, err := p.simulateRescue(ctx, parent, target)
		if err != nil {
			return nil, err
		}
		out = append(out, child)
	}
	return out, nil
}

func (p *Planner) simulateRescue(ctx context.Context, parent *BeamNode, target RescueTarget) (*BeamNode, error) {
	clone := parent.VesselSnapshot.Clone()
	dt := p.Config.RoundDurationH

	switch target {
	case RescueTimepoint:
		dt *= 2
	case RescueDoseContrast:
		if p.Config.CompoundID != "" {
			if err := bvm.Treat(clone, p.Config.CompoundID, p.Config.BaseDoseUM*2, p.Config.DecayKPerH, p.Config.AdsorbedFraction, parent.ElapsedH); err != nil {
				return nil, err
			}
		}
	case RescueCalibrationWells:
		// Adds a calibration-only observation; the vessel itself is
		// unperturbed.
	}

	result, err := rolloutFrom(ctx, p.Deps, clone, dt, p.Config.Day, p.Config.Operator)
	if err != nil {
		return nil, err
	}

	schedule := append(append([]Action(nil), parent.Schedule...), Action{
		Kind:   ActionRescue,
		Rescue: &RescueParams{Target: target},
	})

	return nodeFromResult(parent.TStep+1, schedule, parent.WashoutCount, parent.FeedCount, result, parent), nil
}

// rolloutFrom advances an already-prepared clone (interventions already
// applied by the caller) by dt hours and measures it, without an extra
// defensive clone since the caller owns this clone exclusively.
func rolloutFrom(ctx context.Context, d Deps, clone *catalog.VesselState, dt float64, day int, operator string) (*PrefixRolloutResult, error) {
	return advanceAndMeasure(ctx, d, clone, dt, day, operator)
}

func nodeFromResult(tStep int, schedule []Action, washoutCount, feedCount int, result *PrefixRolloutResult, parent *BeamNode) *BeamNode {
	node := &BeamNode{
		TStep:                tStep,
		Schedule:             schedule,
		WashoutCount:         washoutCount,
		FeedCount:            feedCount,
		Viability:            result.Belief.Viability,
		Margin:               result.Belief.Margin,
		Belief:               result.Belief,
		TopMechanism:         result.TopMechanism,
		CalibratedConfidence: result.CalibratedConfidence,
		VesselSnapshot:       result.Vessel,
		ElapsedH:             parent.ElapsedH + result.ElapsedH,
	}
	node.HeuristicScore = heuristicScore(node, parent)
	return node
}
