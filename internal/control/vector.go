package control

import (
	"math"
	"strconv"
	"strings"
)

// #region vector

// Vector is a point on the discrete torus [0, L)^k. Coordinate 0 is the
// coarsest; higher indexes carry higher valuation (finer adjustments).
type Vector []int

// Zero returns the origin of a k-dimensional torus.
func Zero(k int) Vector {
	return make(Vector, k)
}

// Wrap reduces x into [0, L).
func Wrap(x, modulus int) int {
	r := x % modulus
	if r < 0 {
		r += modulus
	}
	return r
}

// Normalize returns a copy of v with every coordinate wrapped into [0, L).
func Normalize(v []int, modulus int) Vector {
	out := make(Vector, len(v))
	for i, x := range v {
		out[i] = Wrap(x, modulus)
	}
	return out
}

// Clone returns an independent copy.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// Step returns a copy of v with coordinate i moved by delta, modulo L.
func (v Vector) Step(i, delta, modulus int) Vector {
	out := v.Clone()
	out[i] = Wrap(out[i]+delta, modulus)
	return out
}

// Valid reports whether every coordinate lies in [0, L).
func (v Vector) Valid(modulus int) bool {
	for _, x := range v {
		if x < 0 || x >= modulus {
			return false
		}
	}
	return true
}

// Equal reports coordinate-wise equality.
func (v Vector) Equal(o Vector) bool {
	if len(v) != len(o) {
		return false
	}
	for i := range v {
		if v[i] != o[i] {
			return false
		}
	}
	return true
}

// Key is a stable string form used for visited sets.
func (v Vector) Key() string {
	var b strings.Builder
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(x))
	}
	return b.String()
}

// #endregion vector

// #region geometry

// Distance is the circular distance of x from zero on Z_L.
func Distance(x, modulus int) int {
	x = Wrap(x, modulus)
	if modulus-x < x {
		return modulus - x
	}
	return x
}

// Valuation is the fineness rank of coordinate i in a k-dimensional vector:
// 0 for the coarsest coordinate, k-1 for the finest.
func Valuation(i, k int) int {
	if i < 0 || i >= k {
		return 0
	}
	return i
}

// Magnitude is the valuation-weighted size of v, in [0, 1]. Moving coarse
// coordinates away from zero costs more than moving fine ones.
func Magnitude(v Vector, modulus int) float64 {
	k := len(v)
	if k == 0 {
		return 0
	}
	half := float64(modulus) / 2
	var sum, norm float64
	for i, x := range v {
		w := float64(k-Valuation(i, k)) / float64(k)
		sum += w * float64(Distance(x, modulus)) / half
		norm += w
	}
	return sum / norm
}

// Embed maps v onto the continuous torus embedding of dimension 2k, one
// (cos θ - 1, sin θ) pair per coordinate with θ = 2πx/L. Embed(Zero(k)) is
// the zero vector.
func Embed(v Vector, modulus int) []float64 {
	out := make([]float64, 2*len(v))
	for i, x := range v {
		theta := 2 * math.Pi * float64(Wrap(x, modulus)) / float64(modulus)
		out[2*i] = math.Cos(theta) - 1
		out[2*i+1] = math.Sin(theta)
	}
	return out
}

// Angle returns θ for coordinate value x.
func Angle(x, modulus int) float64 {
	return 2 * math.Pi * float64(Wrap(x, modulus)) / float64(modulus)
}

// #endregion geometry
