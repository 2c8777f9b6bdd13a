package register

import (
	"fmt"
	"sort"

	"github.com/aristath/rainbow/internal/modules/fixedpoint"
)

// JointMaxState is the tensor product of two loaded registers together with
// the affine-max value computed on every joint basis state. Joint state
// (i, j) lives at index i*len(Second.Values) + j.
type JointMaxState struct {
	First      *State
	Second     *State
	Max        []fixedpoint.Value
	Amplitudes []float64
}

// CombineMax entangles a and b with a max register holding
// max(x1, br.CoeffA·x1 + br.CoeffB·x2 + br.Offset).
func CombineMax(a, b *State, br fixedpoint.Branch) (*JointMaxState, error) {
	n1, n2 := len(a.Values), len(b.Values)
	joint := &JointMaxState{
		First:      a,
		Second:     b,
		Max:        make([]fixedpoint.Value, n1*n2),
		Amplitudes: make([]float64, n1*n2),
	}

	for i := 0; i < n1; i++ {
		for j := 0; j < n2; j++ {
			v, err := fixedpoint.AffineMaxWith(a.Values[i], b.Values[j], br)
			if err != nil {
				return nil, fmt.Errorf("max register at (%d, %d): %w", i, j, err)
			}
			idx := i*n2 + j
			joint.Max[idx] = v
			joint.Amplitudes[idx] = a.Amplitudes[i] * b.Amplitudes[j]
		}
	}
	return joint, nil
}

// Len returns the number of joint basis states
func (s *JointMaxState) Len() int {
	return len(s.Max)
}

// Probability returns the probability of joint basis state idx
func (s *JointMaxState) Probability(idx int) float64 {
	return s.Amplitudes[idx] * s.Amplitudes[idx]
}

// Format returns the format of the max register
func (s *JointMaxState) Format() fixedpoint.Format {
	return s.Max[0].Format()
}

// Bounds returns the smallest and largest value the max register can hold
// for this pair of inputs.
func (s *JointMaxState) Bounds() (fixedpoint.Value, fixedpoint.Value) {
	lo, hi := s.Max[0], s.Max[0]
	for _, v := range s.Max[1:] {
		if fixedpoint.Compare(v, lo) < 0 {
			lo = v
		}
		if fixedpoint.Compare(v, hi) > 0 {
			hi = v
		}
	}
	return lo, hi
}

// MaxDistribution aggregates the joint state into the distribution of the
// max register, ordered by value.
func (s *JointMaxState) MaxDistribution() Distribution {
	byRaw := make(map[int64]*Point)
	for idx, v := range s.Max {
		pt, ok := byRaw[v.Raw()]
		if !ok {
			pt = &Point{Value: v}
			byRaw[v.Raw()] = pt
		}
		pt.Probability += s.Probability(idx)
	}

	dist := make(Distribution, 0, len(byRaw))
	for _, pt := range byRaw {
		dist = append(dist, *pt)
	}
	sort.Slice(dist, func(i, j int) bool {
		return fixedpoint.Compare(dist[i].Value, dist[j].Value) < 0
	})
	return dist
}
