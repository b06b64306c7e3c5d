package projection

// #region config
// Config fixes the shape and seed of a projection matrix.
type Config struct {
	Vocab     int     // n: output dimension (vocabulary size)
	Dim       int     // k: control vector dimension; the embedding has 2k columns
	Modulus   int     // L: torus modulus
	Seed      uint64  // context seed
	Gain      float64 // perturbation scale; 0 means sqrt(Vocab)
	Tolerance float64 // invariant tolerance; 0 means DefaultTolerance
}

// DefaultTolerance bounds column sums and deviation from orthonormality.
const DefaultTolerance = 1e-8

// seedSalt separates the projection stream from other consumers of the same seed.
const seedSalt = 0xDEADBEEF

// #endregion config

// #region report
// Report summarizes how closely a realized matrix meets its invariants.
type Report struct {
	MaxColumnSum float64 `json:"max_column_sum"`
	MaxGramError float64 `json:"max_gram_error"`
	Columns      int     `json:"columns"`
	Rows         int     `json:"rows"`
}

// #endregion report
