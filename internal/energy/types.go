package energy

import (
	"time"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
)

// #region config
// Config holds aggregation and oracle settings.
type Config struct {
	Gamma         float64       // sequential discount, 0 < γ ≤ 1
	Norm          symbolic.Norm // reduction for vector signals
	OracleTimeout time.Duration // per-call deadline; 0 disables
}

// DefaultConfig returns the defaults used by the controller.
func DefaultConfig() Config {
	return Config{
		Gamma:         0.9,
		Norm:          symbolic.NormL2,
		OracleTimeout: 2 * time.Second,
	}
}

// #endregion config
