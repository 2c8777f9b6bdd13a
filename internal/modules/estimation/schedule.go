package estimation

import "math"

// At depth k the measured probability is sin²((2k+1)θ) = (1 - cos φ)/2 with
// phase φ = K·θ and scaling K = 4k+2. It is monotone on every half-cycle
// [mπ, (m+1)π] of φ: increasing when m is even, decreasing when m is odd.
// A depth is only usable when the whole current θ interval maps into one
// half-cycle, otherwise two angles alias to the same measured probability.

// maxScaling caps K when the θ interval is (numerically) a point
const maxScaling = 1 << 30

func scalingOf(k int) int {
	return 4*k + 2
}

// halfCycle returns the half-cycle index of phase K·θ
func halfCycle(scaling int, theta float64) int {
	return int(math.Floor(float64(scaling) * theta / math.Pi))
}

// withinHalfCycle reports whether K·[low, high] stays inside a single
// half-cycle and returns its index.
func withinHalfCycle(scaling int, low, high float64) (int, bool) {
	m := halfCycle(scaling, low)
	return m, float64(scaling)*high/math.Pi <= float64(m+1)
}

// nextDepth returns the largest depth k' with K' ≥ minRatio·K whose scaled
// θ interval stays in one half-cycle, together with that half-cycle. When no
// such depth exists it returns the current depth and ok = false.
func nextDepth(k int, theta Interval, minRatio float64) (int, int, bool) {
	oldScaling := scalingOf(k)

	limit := maxScaling
	if width := theta.Width(); width > 0 && math.Pi/width < maxScaling {
		limit = int(math.Pi / width)
	}
	// largest K ≤ limit of the form 4k+2
	scaling := limit - ((limit-2)%4+4)%4

	for float64(scaling) >= minRatio*float64(oldScaling) {
		if m, ok := withinHalfCycle(scaling, theta.Low, theta.High); ok {
			return (scaling - 2) / 4, m, true
		}
		scaling -= 4
	}
	return k, 0, false
}

// invertPhase maps an interval of measured probability at scaling K back to
// a θ interval, using the half-cycle m the previous interval was mapped
// into to pick the branch of arccos.
func invertPhase(measured Interval, scaling, m int) Interval {
	lo := math.Acos(1 - 2*measured.Low)
	hi := math.Acos(1 - 2*measured.High)
	base := float64(m) * math.Pi

	var phase Interval
	if m%2 == 0 {
		phase = Interval{Low: base + lo, High: base + hi}
	} else {
		phase = Interval{Low: base + math.Pi - hi, High: base + math.Pi - lo}
	}
	return Interval{Low: phase.Low / float64(scaling), High: phase.High / float64(scaling)}
}

// roundBudget is the number of rounds the failure probability is split over:
// ⌊log_r(r·π / (8ε))⌋ + 1 for min ratio r.
func roundBudget(epsilon, minRatio float64) int {
	t := int(math.Floor(math.Log(minRatio*math.Pi/(8*epsilon))/math.Log(minRatio))) + 1
	if t < 1 {
		return 1
	}
	return t
}

// probability maps θ in [0, π/2] to sin²(θ)
func probability(theta float64) float64 {
	s := math.Sin(theta)
	return s * s
}
