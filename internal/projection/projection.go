package projection

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/control"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
)

// #region matrix
// Matrix maps torus embeddings of control vectors into score space. It is
// immutable after construction and safe for concurrent use.
type Matrix struct {
	q       *mat.Dense // n x 2k, zero column sums, orthonormal columns
	n, k    int
	modulus int
	gain    float64
	seed    uint64
	report  Report
}

// New builds a projection from a seeded Gaussian matrix: column means are
// removed and the columns orthonormalized by QR. A matrix that fails either
// invariant is rejected with ErrInvalidProjection.
func New(cfg Config) (*Matrix, error) {
	m := 2 * cfg.Dim
	if cfg.Dim <= 0 || cfg.Modulus < 2 {
		return nil, fmt.Errorf("new projection: dim=%d modulus=%d: %w", cfg.Dim, cfg.Modulus, symbolic.ErrInvalidProjection)
	}
	// zero-sum columns live in an (n-1)-dimensional subspace
	if cfg.Vocab <= m {
		return nil, fmt.Errorf("new projection: vocab %d must exceed embedding dim %d: %w", cfg.Vocab, m, symbolic.ErrInvalidProjection)
	}
	tol := cfg.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}
	gain := cfg.Gain
	if gain <= 0 {
		gain = math.Sqrt(float64(cfg.Vocab))
	}

	a := gaussian(cfg.Vocab, m, cfg.Seed)
	center(a)

	q, err := orthonormalize(a)
	if err != nil {
		return nil, fmt.Errorf("new projection: %v: %w", err, symbolic.ErrInvalidProjection)
	}

	p := &Matrix{q: q, n: cfg.Vocab, k: cfg.Dim, modulus: cfg.Modulus, gain: gain, seed: cfg.Seed}
	p.report = p.measure()
	if p.report.MaxColumnSum > tol*math.Sqrt(float64(cfg.Vocab)) || p.report.MaxGramError > tol {
		return nil, fmt.Errorf("new projection: column sum %.3g gram error %.3g over tolerance %.3g: %w",
			p.report.MaxColumnSum, p.report.MaxGramError, tol, symbolic.ErrInvalidProjection)
	}
	return p, nil
}

// #endregion matrix

// #region accessors

func (p *Matrix) Vocab() int { return p.n }
func (p *Matrix) Dim() int { return p.k }
func (p *Matrix) Modulus() int { return p.modulus }
func (p *Matrix) Gain() float64 { return p.gain }
func (p *Matrix) Seed() uint64 { return p.seed }
func (p *Matrix) Report() Report { return p.report }

// At returns entry (i, j) of the orthonormal basis.
func (p *Matrix) At(i, j int) float64 { return p.q.At(i, j) }

// #endregion accessors

// #region project

// Project returns the perturbation for control vector v. Pure and total.
func (p *Matrix) Project(v control.Vector) []float64 {
	e := control.Embed(p.fit(v), p.modulus)
	var out mat.VecDense
	out.MulVec(p.q, mat.NewVecDense(len(e), e))
	res := make([]float64, p.n)
	for i := range res {
		res[i] = p.gain * out.AtVec(i)
	}
	return res
}

// Perturb returns base + Project(v) as a new slice; base is never modified.
func (p *Matrix) Perturb(base []float64, v control.Vector) []float64 {
	delta := p.Project(v)
	out := make([]float64, len(base))
	for i := range base {
		out[i] = base[i]
		if i < len(delta) {
			out[i] += delta[i]
		}
	}
	return out
}

// Pullback maps a score-space direction g into the embedding space (gain·Qᵀg).
func (p *Matrix) Pullback(g []float64) []float64 {
	if len(g) != p.n {
		padded := make([]float64, p.n)
		copy(padded, g)
		g = padded
	}
	var out mat.VecDense
	out.MulVec(p.q.T(), mat.NewVecDense(p.n, g))
	res := make([]float64, 2*p.k)
	for i := range res {
		res[i] = p.gain * out.AtVec(i)
	}
	return res
}

// fit coerces v to length k on the torus.
func (p *Matrix) fit(v control.Vector) control.Vector {
	out := control.Zero(p.k)
	copy(out, control.Normalize(v[:min(len(v), p.k)], p.modulus))
	return out
}

// #endregion project

// #region construction

func gaussian(rows, cols int, seed uint64) *mat.Dense {
	rng := rand.New(rand.NewPCG(seed, seed^seedSalt))
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return mat.NewDense(rows, cols, data)
}

func center(a *mat.Dense) {
	rows, cols := a.Dims()
	for j := 0; j < cols; j++ {
		var mean float64
		for i := 0; i < rows; i++ {
			mean += a.At(i, j)
		}
		mean /= float64(rows)
		for i := 0; i < rows; i++ {
			a.Set(i, j, a.At(i, j)-mean)
		}
	}
}

// orthonormalize returns the thin Q factor of a as a·R⁻¹. Q spans the column
// space of a, so it inherits the zero column sums.
func orthonormalize(a *mat.Dense) (*mat.Dense, error) {
	_, cols := a.Dims()
	var qr mat.QR
	qr.Factorize(a)

	var r mat.Dense
	qr.RTo(&r)
	top := mat.DenseCopyOf(r.Slice(0, cols, 0, cols))

	var rinv mat.Dense
	if err := rinv.Inverse(top); err != nil {
		return nil, fmt.Errorf("invert r: %w", err)
	}
	var q mat.Dense
	q.Mul(a, &rinv)
	return &q, nil
}

func (p *Matrix) measure() Report {
	rows, cols := p.q.Dims()
	rep := Report{Rows: rows, Columns: cols}
	for j := 0; j < cols; j++ {
		var sum float64
		for i := 0; i < rows; i++ {
			sum += p.q.At(i, j)
		}
		rep.MaxColumnSum = math.Max(rep.MaxColumnSum, math.Abs(sum))
	}
	var gram mat.Dense
	gram.Mul(p.q.T(), p.q)
	for i := 0; i < cols; i++ {
		for j := 0; j < cols; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			rep.MaxGramError = math.Max(rep.MaxGramError, math.Abs(gram.At(i, j)-want))
		}
	}
	return rep
}

// #endregion construction
