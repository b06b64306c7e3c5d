package symbolic

import (
	"fmt"
	"math"
)

// #region constructors

// Zero reports a valid action.
func Zero() Signal {
	return Signal{Kind: SignalZero}
}

// Scalar reports an invalid action at the given distance. Non-positive costs
// collapse to Zero.
func Scalar(cost float64) Signal {
	if cost <= 0 {
		return Zero()
	}
	if math.IsInf(cost, 1) || math.IsNaN(cost) {
		return Infinity("non-finite cost")
	}
	return Signal{Kind: SignalScalar, Cost: cost}
}

// Infinity reports a critical failure.
func Infinity(reason string) Signal {
	return Signal{Kind: SignalInfinity, Reason: reason}
}

// Vector reports several independent constraint costs. All-zero vectors collapse
// to Zero.
func Vector(costs ...float64) Signal {
	nonzero := false
	for _, c := range costs {
		if math.IsNaN(c) || math.IsInf(c, 1) {
			return Infinity("non-finite cost")
		}
		if c > 0 {
			nonzero = true
		}
	}
	if !nonzero {
		return Zero()
	}
	out := make([]float64, len(costs))
	copy(out, costs)
	return Signal{Kind: SignalVector, Costs: out}
}

// #endregion constructors

// #region reduce

// IsZero reports whether the signal accepts the action.
func (s Signal) IsZero() bool {
	return s.Kind == SignalZero
}

// IsInfinite reports whether the signal is a critical failure.
func (s Signal) IsInfinite() bool {
	return s.Kind == SignalInfinity
}

// Scalarize reduces the signal to a comparable cost.
func (s Signal) Scalarize(n Norm) float64 {
	switch s.Kind {
	case SignalZero:
		return 0
	case SignalScalar:
		return s.Cost
	case SignalInfinity:
		return math.Inf(1)
	case SignalVector:
		return reduce(s.Costs, n)
	}
	return math.Inf(1)
}

// Less orders signals for acceptance.
func Less(a, b Signal, n Norm) bool {
	return a.Scalarize(n) < b.Scalarize(n)
}

func (s Signal) String() string {
	switch s.Kind {
	case SignalScalar:
		return fmt.Sprintf("scalar(%.4f)", s.Cost)
	case SignalVector:
		return fmt.Sprintf("vector(%v)", s.Costs)
	case SignalInfinity:
		if s.Reason != "" {
			return "infinity(" + s.Reason + ")"
		}
		return "infinity"
	}
	return string(s.Kind)
}

func reduce(costs []float64, n Norm) float64 {
	var acc float64
	switch n {
	case NormL1:
		for _, c := range costs {
			acc += math.Abs(c)
		}
	case NormLInf:
		for _, c := range costs {
			acc = math.Max(acc, math.Abs(c))
		}
	default:
		for _, c := range costs {
			acc += c * c
		}
		acc = math.Sqrt(acc)
	}
	return acc
}

// ValidNorm reports whether n names a supported reduction.
func ValidNorm(n Norm) bool {
	switch n {
	case NormL1, NormL2, NormLInf:
		return true
	}
	return false
}

// #endregion reduce
