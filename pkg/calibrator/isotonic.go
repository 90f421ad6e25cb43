package calibrator

// paivPoint is one input point to the pool-adjacent-violators algorithm.
// Fields are exported (despite the type being package-private) because
// Calibrator.Isotonic is gob-encoded for calibrator.bin, and gob only
// serializes exported fields.
type paivPoint struct {
	X, Y, Weight float64
}

// isotonicFit runs pool-adjacent-violators on points already sorted by x,
// returning a non-decreasing step function as the pooled points (X is
// each block's right endpoint, Y its fitted level).
// Hand-rolled rather than pulled from a library: no repo in the
// retrieved pack carries an isotonic-regression dependency, and PAVA is
// short and exact enough that a hand implementation is the honest
// choice here (see DESIGN.md).
func isotonicFit(points []paivPoint) []paivPoint {
	if len(points) == 0 {
		return nil
	}
	stack := make([]paivPoint, 0, len(points))
	for _, p := range points {
		stack = append(stack, p)
		for len(stack) > 1 && stack[len(stack)-2].Y > stack[len(stack)-1].Y {
			b := stack[len(stack)-1]
			a := stack[len(stack)-2]
			stack = stack[:len(stack)-2]
			merged := paivPoint{
				X:      b.X,
				Weight: a.Weight + b.Weight,
				Y:      (a.Y*a.Weight + b.Y*b.Weight) / (a.Weight + b.Weight),
			}
			stack = append(stack, merged)
		}
	}
	return stack
}

// isotonicPredict looks up the fitted step function at x, clamping to the
// nearest endpoint outside the fitted range.
func isotonicPredict(fit []paivPoint, x float64) float64 {
	if len(fit) == 0 {
		return 0.5
	}
	if x <= fit[0].X {
		return fit[0].Y
	}
	for i := 1; i < len(fit); i++ {
		if x <= fit[i].X {
			// Linear-interpolate between the two step levels for a
			// smoother predict surface than a pure step function.
			lo, hi := fit[i-1], fit[i]
			if hi.X == lo.X {
				return hi.Y
			}
			t := (x - lo.X) / (hi.X - lo.X)
			return lo.Y + t*(hi.Y-lo.Y)
		}
	}
	return fit[len(fit)-1].Y
}
