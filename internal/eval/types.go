package eval

// #region eval-config
// EvalConfig holds the torus shape a trace is audited against.
type EvalConfig struct {
	Dim          int     // expected control vector length
	Modulus      int     // torus modulus
	MaxMagnitude float64 // warn if the winning control is larger than this
}

// DefaultEvalConfig matches the search defaults.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		Dim:          16,
		Modulus:      32,
		MaxMagnitude: 0.5,
	}
}

// #endregion eval-config

// #region eval-metric
// EvalMetric captures a single audit check result.
type EvalMetric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Pass  bool    `json:"pass"`
}

// #endregion eval-metric

// #region eval-result
// EvalResult is the output of a trace audit.
type EvalResult struct {
	Passed  bool         `json:"passed"`
	Metrics []EvalMetric `json:"metrics"`
	Reason  string       `json:"reason"`
}

// Metric returns the named metric.
func (r EvalResult) Metric(name string) (EvalMetric, bool) {
	for _, m := range r.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return EvalMetric{}, false
}

// #endregion eval-result
