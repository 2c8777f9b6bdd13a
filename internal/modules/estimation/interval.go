package estimation

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Interval is a closed interval [Low, High]
type Interval struct {
	Low  float64
	High float64
}

// Width returns High - Low
func (i Interval) Width() float64 {
	return i.High - i.Low
}

// Mid returns the midpoint
func (i Interval) Mid() float64 {
	return (i.Low + i.High) / 2
}

// Contains reports whether x lies in the interval
func (i Interval) Contains(x float64) bool {
	return x >= i.Low && x <= i.High
}

// Method selects the per-round confidence interval for the measured
// probability
type Method string

const (
	// MethodChernoff uses the Chernoff-Hoeffding bound
	MethodChernoff Method = "chernoff"
	// MethodClopperPearson uses the exact binomial interval
	MethodClopperPearson Method = "clopper_pearson"
)

// chernoffInterval bounds the hit rate of shots draws with failure
// probability at most delta: P(|p̂ - p| ≥ ε) ≤ 2·exp(-2·shots·ε²).
func chernoffInterval(hits, shots int, delta float64) Interval {
	rate := float64(hits) / float64(shots)
	eps := math.Sqrt(math.Log(2/delta) / (2 * float64(shots)))
	return Interval{
		Low:  math.Max(0, rate-eps),
		High: math.Min(1, rate+eps),
	}
}

// clopperPearsonInterval is the exact two-sided binomial interval at
// confidence 1 - delta, from Beta quantiles.
func clopperPearsonInterval(hits, shots int, delta float64) Interval {
	k, n := float64(hits), float64(shots)

	out := Interval{Low: 0, High: 1}
	if hits > 0 {
		out.Low = distuv.Beta{Alpha: k, Beta: n - k + 1}.Quantile(delta / 2)
	}
	if hits < shots {
		out.High = distuv.Beta{Alpha: k + 1, Beta: n - k}.Quantile(1 - delta/2)
	}
	return out
}

func confidenceInterval(method Method, hits, shots int, delta float64) Interval {
	if method == MethodClopperPearson {
		return clopperPearsonInterval(hits, shots, delta)
	}
	return chernoffInterval(hits, shots, delta)
}
