package beam

// Weights bundles the commit-utility linear combination's coefficients
// (spec §4.8).
type Weights struct {
	Confidence float64
	Time       float64
	Ops        float64
	Viability  float64
}

// DefaultWeights returns the spec-documented default commit_utility
// weights.
func DefaultWeights() Weights {
	return Weights{Confidence: 1.0, Time: 0.01, Ops: 0.05, Viability: 0.5}
}

// heuristicScore scores a non-terminal node on exploration quality
// alone: trajectory cleanliness (margin) and its gradient versus the
// parent, deliberately excluding calibrated_confidence and any nuisance
// penalty so the exploration heuristic stays clean (spec §4.8).
func heuristicScore(node, parent *BeamNode) float64 {
	cleanliness := node.Margin
	gradient := 0.0
	if parent != nil {
		gradient = node.Margin - parent.Margin
	}
	return cleanliness + 0.5*gradient
}

// commitUtility implements the terminal scoring formula from spec §4.8.
func commitUtility(w Weights, calibratedConf, elapsedH float64, opsPenalty, viability float64) float64 {
	return w.Confidence*calibratedConf - w.Time*elapsedH - w.Ops*opsPenalty - w.Viability*(1-viability)
}

// opsPenalty counts the interventions spent on a schedule (washouts +
// feeds + rescue actions), the raw input to w_ops in commitUtility.
func opsPenalty(node *BeamNode) float64 {
	penalty := float64(node.WashoutCount + node.FeedCount)
	for _, a := range node.Schedule {
		if a.Kind == ActionRescue {
			penalty++
		}
	}
	return penalty
}
