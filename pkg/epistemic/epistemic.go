// Package epistemic implements the closed-loop epistemic controller:
// the debt ledger, entropy/horizon penalties, volatility/stability
// tracking, sandbagging detection, provisional penalties, and
// time-weighted settlement described in spec §4.6. All thirteen
// enforced mechanisms run, in order, from a single Resolve call so no
// caller can apply a subset by accident.
package epistemic

import (
	"math"
	"sync"

	"github.com/epistemic-labs/biovm/pkg/bioerrors"
)

// ClaimStatus is the lifecycle state of one ClaimRecord.
type ClaimStatus string

const (
	ClaimOpen        ClaimStatus = "open"
	ClaimResolved    ClaimStatus = "resolved"
	ClaimProvisional ClaimStatus = "provisional"
)

// ClaimRecord is one open or resolved information-gain claim (spec
// §3.1).
type ClaimRecord struct {
	ClaimID          string
	ActionType       string
	ExpectedGainBits float64
	IssuedAtCycle    int
	IssuedAtHours    float64
	Status           ClaimStatus
	IsExploration    bool
}

// ProvisionalPenalty ages by real simulation hours elapsed, not episode
// or step count (spec §4.6).
type ProvisionalPenalty struct {
	ClaimID       string
	Penalty       float64
	IssuedAtHours float64
	Settled       bool
}

// Config bundles the tunable thresholds behind the 13 mechanisms. All
// have spec-documented defaults (§4.6); DefaultConfig returns them.
type Config struct {
	DebtCostAlpha        float64 // cost_mult = 1 + alpha*debt
	CostMultiplierCap    float64
	SettlementTimeH      float64 // default 12h
	GlobalInflationRate  float64
	SandbaggingWindow    int
	SandbaggingThreshold float64 // default 2.0
	VolatilityWindow     int
	StabilityWindow      int
	BaseHorizon          int     // default 6 planning cycles
	HorizonShrinkAlpha   float64 // effective_horizon = base / (1 + alpha*debt)
	MinHorizon           int     // floor below which the horizon never shrinks
}

// DefaultConfig returns the spec-documented default thresholds.
func DefaultConfig() Config {
	return Config{
		DebtCostAlpha:        0.05,
		CostMultiplierCap:    4.0,
		SettlementTimeH:      12.0,
		GlobalInflationRate:  0.001,
		SandbaggingWindow:    10,
		SandbaggingThreshold: 2.0,
		VolatilityWindow:     8,
		StabilityWindow:      8,
		BaseHorizon:          6,
		HorizonShrinkAlpha:   0.1,
		MinHorizon:           2,
	}
}

// EpistemicState is the ledger's readable snapshot (spec §3.1). Returned
// by value from Stats so readers can never mutate controller state
// (spec §5 shared-resource policy).
type EpistemicState struct {
	TotalDebtBits        float64
	CostMultiplier       float64
	ProvisionalPenalties []ProvisionalPenalty
	VolatilityWindow     []float64
	StabilityWindow      []float64
	SurpriseRatios       []float64
	CalibrationEvents    []float64
	EffectiveHorizon     int
}

// Controller is single-writer (the agent loop); Stats exposes read-only
// copies for any other reader (spec §5).
type Controller struct {
	mu sync.Mutex

	cfg      Config
	claims   map[string]*ClaimRecord
	state    EpistemicState
	evidence *EvidenceLog

	lastClaimAmount map[string]float64
}

// New constructs an empty Controller.
func New(cfg Config) *Controller {
	return &Controller{
		cfg:             cfg,
		claims:          make(map[string]*ClaimRecord),
		evidence:        &EvidenceLog{},
		lastClaimAmount: make(map[string]float64),
		state:           EpistemicState{CostMultiplier: 1.0, EffectiveHorizon: cfg.BaseHorizon},
	}
}

// Stats returns a value copy of the controller's ledger.
func (c *Controller) Stats() EpistemicState {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := c.state
	cp.ProvisionalPenalties = append([]ProvisionalPenalty(nil), c.state.ProvisionalPenalties...)
	cp.VolatilityWindow = append([]float64(nil), c.state.VolatilityWindow...)
	cp.StabilityWindow = append([]float64(nil), c.state.StabilityWindow...)
	cp.SurpriseRatios = append([]float64(nil), c.state.SurpriseRatios...)
	cp.CalibrationEvents = append([]float64(nil), c.state.CalibrationEvents...)
	return cp
}

// EvidenceEvents exposes the append-only log as a read-only copy.
func (c *Controller) EvidenceEvents() []EvidenceEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evidence.Events()
}

// Claim opens a new claim record, rejecting a duplicate id with the
// EpistemicInvariantError covenant from spec §4.9.
func (c *Controller) Claim(claimID, actionType string, expectedGainBits float64, cycle int, issuedAtHours float64, isExploration bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.claims[claimID]; exists {
		return &bioerrors.EpistemicInvariantError{
			ViolationCode: "duplicate_claim",
			CovenantID:    "claim_without_receipt",
			Details:       map[string]any{"claim_id": claimID},
		}
	}

	c.claims[claimID] = &ClaimRecord{
		ClaimID:          claimID,
		ActionType:       actionType,
		ExpectedGainBits: expectedGainBits,
		IssuedAtCycle:    cycle,
		IssuedAtHours:    issuedAtHours,
		Status:           ClaimOpen,
		IsExploration:    isExploration,
	}
	c.evidence.Append(EvidenceEvent{Kind: EvidenceClaim, ActionID: claimID, Cycle: cycle, Detail: map[string]any{
		"expected_gain_bits": expectedGainBits, "action_type": actionType,
	}})
	return nil
}

// Measure computes realized information gain: H(prior) - H(posterior).
func (c *Controller) Measure(priorEntropy, posteriorEntropy float64) float64 {
	return priorEntropy - posteriorEntropy
}

// Resolve closes a claim with its realized information gain, running all
// 13 enforced mechanisms in sequence, and returns the credited gain
// (which may be discounted from realized under sandbagging detection).
func (c *Controller) Resolve(claimID string, realized float64, resolvedAtHours float64, cycle int) (creditedBits float64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	claim, ok := c.claims[claimID]
	if !ok {
		return 0, &bioerrors.EpistemicInvariantError{
			ViolationCode: "claim_not_found",
			CovenantID:    "resolve_requires_open_claim",
			Details:       map[string]any{"claim_id": claimID},
		}
	}
	if claim.Status == ClaimResolved {
		return 0, &bioerrors.EpistemicInvariantError{
			ViolationCode: "claim_already_resolved",
			CovenantID:    "resolve_requires_open_claim",
			Details:       map[string]any{"claim_id": claimID},
		}
	}

	claimed := claim.ExpectedGainBits

	c.applyDebt(claimed, realized)
	credited := c.applyAsymmetricPenalty(claimed, realized)
	c.inflateCost()
	c.applyEntropyPenalty(claim, realized)
	c.trackEntropySource(claim, realized)
	credited = c.accountMarginalGain(claimID, credited)
	c.ageProvisionalPenalties(claim, resolvedAtHours)
	c.applyGlobalInflation()
	c.trackVolatility(claimID, claimed)
	c.trackStability(claimed, realized)
	c.settleTimeWeighted(claim, resolvedAtHours)
	credited = c.detectSandbagging(claimed, realized, credited)
	c.shrinkHorizon()

	claim.Status = ClaimResolved
	c.evidence.Append(EvidenceEvent{Kind: EvidenceResolution, ActionID: claimID, Cycle: cycle, Detail: map[string]any{
		"claimed": claimed, "realized": realized, "credited": credited,
	}})

	return credited, nil
}

// applyDebt: debt += max(0, claimed - realized).
func (c *Controller) applyDebt(claimed, realized float64) {
	overclaim := claimed - realized
	if overclaim > 0 {
		c.state.TotalDebtBits += overclaim
	}
}

// applyAsymmetricPenalty: overclaiming is penalized at face value (debt
// already tracks it); underclaiming earns a credit discount rather than
// full forgiveness, so claimants can't game the ledger by lowballing
// every claim.
func (c *Controller) applyAsymmetricPenalty(claimed, realized float64) float64 {
	if realized <= claimed {
		return realized
	}
	underclaim := realized - claimed
	return claimed + underclaim*0.8
}

// inflateCost: cost_mult = 1 + alpha*debt, bounded by mult_cap.
func (c *Controller) inflateCost() {
	mult := 1 + c.cfg.DebtCostAlpha*c.state.TotalDebtBits
	if mult > c.cfg.CostMultiplierCap {
		mult = c.cfg.CostMultiplierCap
	}
	c.state.CostMultiplier = mult
}

// applyEntropyPenalty penalizes posterior widening (negative realized
// gain) unless the claim is tagged as exploration.
func (c *Controller) applyEntropyPenalty(claim *ClaimRecord, realized float64) {
	if realized >= 0 || claim.IsExploration {
		return
	}
	c.state.TotalDebtBits += -realized * 0.5
}

// trackEntropySource distinguishes productive widening (tagged
// exploration) from unproductive widening by recording a surprise
// ratio for later inspection; no penalty is charged here — that is
// applyEntropyPenalty's job — this just keeps the provenance.
func (c *Controller) trackEntropySource(claim *ClaimRecord, realized float64) {
	if realized >= 0 {
		return
	}
	ratio := 0.0
	if claim.IsExploration {
		ratio = 1.0
	}
	c.state.SurpriseRatios = append(c.state.SurpriseRatios, ratio)
}

// accountMarginalGain discounts credit for a claim whose action type has
// already been claimed recently (redundant measurement), tracked via
// lastClaimAmount.
func (c *Controller) accountMarginalGain(claimID string, credited float64) float64 {
	if prior, ok := c.lastClaimAmount[claimID]; ok && prior > 0 {
		return credited * 0.5
	}
	c.lastClaimAmount[claimID] = credited
	return credited
}

// ageProvisionalPenalties advances every open provisional penalty's
// settlement by elapsed real simulation hours since the claim that
// produced it was issued — not by step or cycle count.
func (c *Controller) ageProvisionalPenalties(claim *ClaimRecord, nowHours float64) {
	if claim.IsExploration {
		c.state.ProvisionalPenalties = append(c.state.ProvisionalPenalties, ProvisionalPenalty{
			ClaimID:       claim.ClaimID,
			Penalty:       1.0,
			IssuedAtHours: claim.IssuedAtHours,
		})
	}
	for i := range c.state.ProvisionalPenalties {
		p := &c.state.ProvisionalPenalties[i]
		if p.Settled {
			continue
		}
		elapsed := nowHours - p.IssuedAtHours
		if elapsed >= c.cfg.SettlementTimeH {
			p.Settled = true
		}
	}
}

// applyGlobalInflation applies a small persistent multiplier that
// resists "debt farming" — repeatedly opening and cheaply resolving
// claims to manufacture credit.
func (c *Controller) applyGlobalInflation() {
	c.state.TotalDebtBits *= 1 + c.cfg.GlobalInflationRate
}

// trackVolatility records |Δclaim| between consecutive claims of the
// same id's action type, used to penalize thrashing.
func (c *Controller) trackVolatility(claimID string, claimed float64) {
	prev, ok := c.lastClaimAmount[claimID]
	delta := 0.0
	if ok {
		delta = absFloat(claimed - prev)
	}
	c.state.VolatilityWindow = append(c.state.VolatilityWindow, delta)
	if len(c.state.VolatilityWindow) > c.cfg.VolatilityWindow {
		c.state.VolatilityWindow = c.state.VolatilityWindow[len(c.state.VolatilityWindow)-c.cfg.VolatilityWindow:]
	}
}

// trackStability records the calibration error of this resolution
// (|claimed-realized|) so erratic calibration shows up in the window.
func (c *Controller) trackStability(claimed, realized float64) {
	c.state.StabilityWindow = append(c.state.StabilityWindow, absFloat(claimed-realized))
	if len(c.state.StabilityWindow) > c.cfg.StabilityWindow {
		c.state.StabilityWindow = c.state.StabilityWindow[len(c.state.StabilityWindow)-c.cfg.StabilityWindow:]
	}
	c.state.CalibrationEvents = append(c.state.CalibrationEvents, absFloat(claimed-realized))
}

// settleTimeWeighted ensures rapid, cheap actions cannot age a
// provisional penalty faster than real elapsed time allows — it is a
// defensive re-check layered on top of ageProvisionalPenalties, clamping
// any penalty settled with implausibly little elapsed time back open.
func (c *Controller) settleTimeWeighted(claim *ClaimRecord, nowHours float64) {
	for i := range c.state.ProvisionalPenalties {
		p := &c.state.ProvisionalPenalties[i]
		if p.ClaimID != claim.ClaimID {
			continue
		}
		elapsed := nowHours - p.IssuedAtHours
		if p.Settled && elapsed < c.cfg.SettlementTimeH {
			p.Settled = false
		}
	}
}

// detectSandbagging implements spec §4.6's systematic-underclaiming
// check: if mean(realized/claimed) over the sandbagging window exceeds
// the threshold, credited gain is discounted to
// claimed + (realized-claimed)*0.5, strictly less than realized.
func (c *Controller) detectSandbagging(claimed, realized, credited float64) float64 {
	if claimed <= 0 {
		return credited
	}
	c.state.SurpriseRatios = append(c.state.SurpriseRatios, realized/claimed)
	window := c.state.SurpriseRatios
	if len(window) > c.cfg.SandbaggingWindow {
		window = window[len(window)-c.cfg.SandbaggingWindow:]
	}
	mean := 0.0
	for _, r := range window {
		mean += r
	}
	mean /= float64(len(window))

	if mean > c.cfg.SandbaggingThreshold && realized > claimed {
		return claimed + (realized-claimed)*0.5
	}
	return credited
}

// shrinkHorizon implements spec §4.6's "planning horizon contracts with
// debt" mechanism: effective_horizon = base_horizon / (1 +
// shrink_alpha*debt), floored at min_horizon so the planner is never
// asked to look zero cycles ahead.
func (c *Controller) shrinkHorizon() {
	shrunk := float64(c.cfg.BaseHorizon) / (1 + c.cfg.HorizonShrinkAlpha*c.state.TotalDebtBits)
	horizon := int(math.Floor(shrunk))
	if horizon < c.cfg.MinHorizon {
		horizon = c.cfg.MinHorizon
	}
	c.state.EffectiveHorizon = horizon
}

// EffectiveHorizon reports the current debt-adjusted planning horizon a
// caller should use for beam.Config.MaxInterventions or similar lookahead
// bounds.
func (c *Controller) EffectiveHorizon() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.EffectiveHorizon
}

func absFloat(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// EntropyBits returns Shannon entropy (nats, to match posterior.Compute)
// of a probability distribution, used by callers computing prior/
// posterior entropy for Measure.
func EntropyBits(probs map[string]float64) float64 {
	h := 0.0
	for _, p := range probs {
		if p > 0 {
			h -= p * math.Log(p)
		}
	}
	return h
}
