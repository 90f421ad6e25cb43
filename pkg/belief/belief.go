// Package belief defines BeliefState (spec §3.1), the compact summary
// of one cycle's posterior and context that flows from pkg/posterior
// through pkg/calibrator, pkg/beam, and pkg/agent. It is its own small
// package so those four don't form an import cycle around a single
// struct.
package belief

// State is the belief summary passed between the posterior, calibrator,
// and planning layers.
type State struct {
	TopProbability   float64
	Margin           float64
	Entropy          float64
	NuisanceFraction float64
	TimepointH       float64
	DoseRelative     float64
	Viability        float64
}
