package bvm

import "math"

func clip(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func absFloat(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// expDecay returns exp(-k*dt). Used both for literal decay (k>0) and,
// with a negated rate, for exponential growth.
func expDecay(k, dt float64) float64 {
	return math.Exp(-k * dt)
}
