package calibrator

// ECEEvent is one (max_posterior, correct) observation fed to ECETracker
// (spec §4.5).
type ECEEvent struct {
	MaxPosterior float64
	Correct      bool
}

// ECETracker is a pure accumulator over calibration events: it emits
// diagnostic ECE figures and never alters posteriors or the calibrator
// itself.
type ECETracker struct {
	events []ECEEvent
}

// NewECETracker returns an empty tracker.
func NewECETracker() *ECETracker {
	return &ECETracker{}
}

// Record appends one calibration event.
func (t *ECETracker) Record(e ECEEvent) {
	t.events = append(t.events, e)
}

// IsStable reports whether enough samples have accumulated (≥30, spec
// §4.5) for the ECE figure to be meaningful.
func (t *ECETracker) IsStable() bool {
	return len(t.events) >= 30
}

// numBins is fixed at 10 per spec §4.5.
const numBins = 10

// ECE computes the 10-bin expected calibration error over all recorded
// events.
func (t *ECETracker) ECE() float64 {
	if len(t.events) == 0 {
		return 0
	}
	type bin struct {
		sumConf float64
		sumAcc  float64
		n       int
	}
	bins := make([]bin, numBins)
	for _, e := range t.events {
		idx := int(e.MaxPosterior * numBins)
		if idx >= numBins {
			idx = numBins - 1
		}
		if idx < 0 {
			idx = 0
		}
		b := &bins[idx]
		b.sumConf += e.MaxPosterior
		if e.Correct {
			b.sumAcc++
		}
		b.n++
	}
	total := float64(len(t.events))
	ece := 0.0
	for _, b := range bins {
		if b.n == 0 {
			continue
		}
		avgConf := b.sumConf / float64(b.n)
		avgAcc := b.sumAcc / float64(b.n)
		ece += (float64(b.n) / total) * absFloat(avgConf-avgAcc)
	}
	return ece
}

// BinStats exposes per-bin (confidence, accuracy) and counts for callers
// that need the high/low-nuisance comparisons from spec §4.5. The
// tracker computes no per-stratum ECE itself; a caller gets one by
// recording only that stratum's events into a separate tracker.
func (t *ECETracker) BinStats() (avgConf, avgAcc []float64, counts []int) {
	type bin struct {
		sumConf float64
		sumAcc  float64
		n       int
	}
	bins := make([]bin, numBins)
	for _, e := range t.events {
		idx := int(e.MaxPosterior * numBins)
		if idx >= numBins {
			idx = numBins - 1
		}
		if idx < 0 {
			idx = 0
		}
		b := &bins[idx]
		b.sumConf += e.MaxPosterior
		if e.Correct {
			b.sumAcc++
		}
		b.n++
	}
	avgConf = make([]float64, numBins)
	avgAcc = make([]float64, numBins)
	counts = make([]int, numBins)
	for i, b := range bins {
		counts[i] = b.n
		if b.n == 0 {
			continue
		}
		avgConf[i] = b.sumConf / float64(b.n)
		avgAcc[i] = b.sumAcc / float64(b.n)
	}
	return
}

func absFloat(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
