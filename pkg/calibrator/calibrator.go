// Package calibrator maps (posterior, nuisance, context) to a calibrated
// P(correct), distinct from the posterior's raw top_probability (spec
// §4.5). Training is stratified across low/medium/high nuisance regimes;
// once trained, a Calibrator is frozen and versioned — retraining
// requires constructing a new version.
package calibrator

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"sort"

	"github.com/epistemic-labs/biovm/pkg/belief"
	"github.com/epistemic-labs/biovm/pkg/bioerrors"
	"github.com/epistemic-labs/biovm/pkg/rng"
)

// TrainingEvent is one labeled observation used to fit a Calibrator.
type TrainingEvent struct {
	Belief  belief.State
	Correct bool
}

// nuisanceRegime buckets a nuisance fraction into low/medium/high thirds
// for the balanced stratified sampling spec §4.5 requires.
func nuisanceRegime(nuisanceFraction float64) int {
	switch {
	case nuisanceFraction < 1.0/3:
		return 0
	case nuisanceFraction < 2.0/3:
		return 1
	default:
		return 2
	}
}

func logit(p float64) float64 {
	p = clip01Eps(p)
	return math.Log(p / (1 - p))
}

func clip01Eps(p float64) float64 {
	const eps = 1e-6
	if p < eps {
		return eps
	}
	if p > 1-eps {
		return 1 - eps
	}
	return p
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// AffineCorrection holds the coefficients of the affine correction in
// (nuisance_fraction, timepoint_h, entropy) applied on top of the
// isotonic fit over logit(top_probability), per spec §4.5.
type AffineCorrection struct {
	NuisanceCoef  float64
	TimepointCoef float64
	EntropyCoef   float64
	Intercept     float64
}

func (a AffineCorrection) apply(b belief.State) float64 {
	return a.Intercept + a.NuisanceCoef*b.NuisanceFraction + a.TimepointCoef*b.TimepointH + a.EntropyCoef*b.Entropy
}

// Calibrator is an immutable, versioned, frozen predictor. Retraining
// produces a new Calibrator value with a new Version; nothing mutates an
// existing one in place.
type Calibrator struct {
	Version    string
	Isotonic   []paivPoint
	Correction AffineCorrection
}

// Validate reports bioerrors.ErrCalibratorNotTrained if c has no fitted
// isotonic curve; the beam rollout checks it before using the
// calibrator's predictions.
func (c *Calibrator) Validate() error {
	if c == nil || len(c.Isotonic) == 0 {
		return bioerrors.ErrCalibratorNotTrained
	}
	return nil
}

// Predict implements the Calibrator contract: p ∈ [0,1]. It maps
// logit(top_probability) through the frozen isotonic fit, then applies
// the frozen affine correction as a logit-space shift before squashing
// back to a probability.
func (c *Calibrator) Predict(b belief.State) float64 {
	base := isotonicPredict(c.Isotonic, logit(b.TopProbability))
	corrected := logit(clip01Eps(base)) + c.Correction.apply(b)
	return clip01Eps(sigmoid(corrected))
}

// gobCalibrator mirrors Calibrator for binary (de)serialization without
// exporting gob-specific tags on the public type.
type gobCalibrator struct {
	Version    string
	Isotonic   []paivPoint
	Correction AffineCorrection
}

// MarshalBinary gob-encodes the calibrator for the calibrator.bin
// artifact (spec §6).
func (c *Calibrator) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(gobCalibrator{Version: c.Version, Isotonic: c.Isotonic, Correction: c.Correction}); err != nil {
		return nil, fmt.Errorf("calibrator: marshal: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a calibrator.bin artifact into c.
func (c *Calibrator) UnmarshalBinary(data []byte) error {
	var g gobCalibrator
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&g); err != nil {
		return fmt.Errorf("calibrator: unmarshal: %w", err)
	}
	c.Version = g.Version
	c.Isotonic = g.Isotonic
	c.Correction = g.Correction
	return nil
}

// Trainer fits a new, frozen Calibrator from labeled events.
type Trainer struct {
	Fabric *rng.Fabric
}

// Fit implements spec §4.5 training: stratified balanced-thirds
// resampling over nuisance regimes, shuffled via the calibrator_split
// named root, then an isotonic fit of logit(top_probability) against
// correctness, plus a least-squares affine correction in
// (nuisance_fraction, timepoint_h, entropy) over the isotonic residuals.
func (tr *Trainer) Fit(version string, events []TrainingEvent) (*Calibrator, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("calibrator: cannot fit with zero training events")
	}

	balanced := tr.stratifiedBalance(events)

	sort.Slice(balanced, func(i, j int) bool {
		return logit(balanced[i].Belief.TopProbability) < logit(balanced[j].Belief.TopProbability)
	})

	points := make([]paivPoint, len(balanced))
	for i, e := range balanced {
		y := 0.0
		if e.Correct {
			y = 1.0
		}
		points[i] = paivPoint{X: logit(e.Belief.TopProbability), Y: y, Weight: 1}
	}
	fit := isotonicFit(points)

	correction := fitAffineCorrection(balanced, fit)

	return &Calibrator{Version: version, Isotonic: fit, Correction: correction}, nil
}

// stratifiedBalance resamples events into balanced thirds across
// low/medium/high nuisance regimes, shuffling within each stratum using
// the calibrator_split named root so resampling is reproducible.
func (tr *Trainer) stratifiedBalance(events []TrainingEvent) []TrainingEvent {
	var strata [3][]TrainingEvent
	for _, e := range events {
		r := nuisanceRegime(e.Belief.NuisanceFraction)
		strata[r] = append(strata[r], e)
	}

	minLen := -1
	for _, s := range strata {
		if len(s) == 0 {
			continue
		}
		if minLen == -1 || len(s) < minLen {
			minLen = len(s)
		}
	}
	if minLen <= 0 {
		return events
	}

	var stream *rng.Stream
	if tr.Fabric != nil {
		stream = tr.Fabric.Named(rng.RootCalibratorSplit, "stratified_balance")
	}

	balanced := make([]TrainingEvent, 0, minLen*3)
	for _, s := range strata {
		if len(s) == 0 {
			continue
		}
		shuffled := append([]TrainingEvent(nil), s...)
		if stream != nil {
			for i := len(shuffled) - 1; i > 0; i-- {
				j := stream.IntN(i + 1)
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			}
		}
		balanced = append(balanced, shuffled[:minLen]...)
	}
	return balanced
}

// fitAffineCorrection performs an ordinary least-squares fit of the
// logit-space residual (true label logit minus isotonic prediction)
// against the three nuisance/timepoint/entropy covariates, via the
// normal equations — small, fixed-dimension (4x4), hand-rolled for the
// same reason as the isotonic fit.
func fitAffineCorrection(events []TrainingEvent, fit []paivPoint) AffineCorrection {
	n := len(events)
	if n == 0 {
		return AffineCorrection{}
	}

	// Design matrix columns: [nuisance, timepoint, entropy, 1].
	var ata [4][4]float64
	var atb [4]float64

	for _, e := range events {
		residualTarget := 0.0
		if e.Correct {
			residualTarget = 1.0
		}
		predicted := isotonicPredict(fit, logit(e.Belief.TopProbability))
		residual := logit(clip01Eps(residualTarget*0.999+0.0005)) - logit(clip01Eps(predicted))

		row := [4]float64{e.Belief.NuisanceFraction, e.Belief.TimepointH, e.Belief.Entropy, 1}
		for i := 0; i < 4; i++ {
			atb[i] += row[i] * residual
			for j := 0; j < 4; j++ {
				ata[i][j] += row[i] * row[j]
			}
		}
	}

	coef := solve4(ata, atb)
	return AffineCorrection{
		NuisanceCoef:  coef[0],
		TimepointCoef: coef[1],
		EntropyCoef:   coef[2],
		Intercept:     coef[3],
	}
}

// solve4 solves a 4x4 linear system via Gaussian elimination with
// partial pivoting; returns the zero vector if the system is singular
// (degenerate training data with no covariate spread).
func solve4(a [4][4]float64, b [4]float64) [4]float64 {
	const n = 4
	var m [n][n + 1]float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			m[i][j] = a[i][j]
		}
		m[i][n] = b[i]
	}

	for col := 0; col < n; col++ {
		pivot := col
		for row := col + 1; row < n; row++ {
			if absFloat(m[row][col]) > absFloat(m[pivot][col]) {
				pivot = row
			}
		}
		m[col], m[pivot] = m[pivot], m[col]
		if absFloat(m[col][col]) < 1e-9 {
			continue
		}
		for row := 0; row < n; row++ {
			if row == col {
				continue
			}
			factor := m[row][col] / m[col][col]
			for k := col; k <= n; k++ {
				m[row][k] -= factor * m[col][k]
			}
		}
	}

	var x [4]float64
	for i := 0; i < n; i++ {
		if absFloat(m[i][i]) < 1e-9 {
			x[i] = 0
			continue
		}
		x[i] = m[i][n] / m[i][i]
	}
	return x
}
