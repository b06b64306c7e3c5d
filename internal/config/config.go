package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/decoder"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/energy"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/eval"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/frame"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/gate"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/logging"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/orchestrator"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/projection"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/search"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
)

var validate = validator.New()

// #region defaults
// Default returns the configuration used when no file is given. Search,
// frame, gate and energy sections match their packages' defaults.
func Default() Config {
	s := search.DefaultConfig()
	f := frame.DefaultConfig()
	g := gate.DefaultGateConfig()
	e := energy.DefaultConfig()
	return Config{
		DBPath:    "vapo.db",
		CodecAddr: "",
		LogLevel:  "info",
		Catalog:   CatalogConfig{Vocab: 64, Seed: 1},
		Search: SearchConfig{
			Dim:            s.Dim,
			Modulus:        s.Modulus,
			Budget:         s.Budget,
			Lambda:         s.Lambda,
			StallThreshold: s.StallThreshold,
			HighCost:       s.HighCost,
			DescentStep:    s.DescentStep,
			CoarsePenalty:  s.CoarsePenalty,
			MaxResample:    s.MaxResample,
			Decode:         string(s.Decode.Kind),
		},
		Projection:   ProjectionConfig{Seed: 1},
		Energy:       EnergyConfig{Gamma: e.Gamma, Norm: string(e.Norm), OracleTimeout: e.OracleTimeout},
		Frame:        FrameConfig{Steps: f.Steps, Frames: f.Frames},
		Gate:         GateConfig{RequireZero: g.RequireZero, MaxScalar: g.MaxScalar, Norm: string(g.Norm)},
		Eval:         EvalConfig{MaxMagnitude: eval.DefaultEvalConfig().MaxMagnitude},
		Orchestrator: OrchestratorConfig{Enabled: true, MaxRetries: orchestrator.DefaultMaxRetries},
	}
}

// #endregion defaults

// #region load
// Load reads path over the defaults, applies VAPO_* environment overrides
// and validates the result. An empty path or a missing file yields the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides selected fields from the environment.
func (c *Config) applyEnv() error {
	c.DBPath = envOr("VAPO_DB", c.DBPath)
	c.CodecAddr = envOr("VAPO_CODEC_ADDR", c.CodecAddr)
	c.MetricsAddr = envOr("VAPO_METRICS_ADDR", c.MetricsAddr)
	c.LogLevel = envOr("VAPO_LOG_LEVEL", c.LogLevel)

	ints := []struct {
		key string
		dst *int
	}{
		{"VAPO_DIM", &c.Search.Dim},
		{"VAPO_MODULUS", &c.Search.Modulus},
		{"VAPO_BUDGET", &c.Search.Budget},
		{"VAPO_STEPS", &c.Frame.Steps},
		{"VAPO_FRAMES", &c.Frame.Frames},
		{"VAPO_VOCAB", &c.Catalog.Vocab},
	}
	for _, e := range ints {
		v := os.Getenv(e.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("env %s: %w", e.key, err)
		}
		*e.dst = n
	}

	// kill switch
	if v := os.Getenv("VAPO_ORCHESTRATOR_ENABLED"); v != "" {
		c.Orchestrator.Enabled = v != "false" && v != "0"
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion load

// #region validate
// Validate checks field ranges and the cross-field rules tags cannot express.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Search.Decode == string(decoder.ModeStochastic) && c.Search.Temperature <= 0 {
		return fmt.Errorf("invalid config: stochastic decoding needs a positive temperature, got %v", c.Search.Temperature)
	}
	return nil
}

// #endregion validate

// #region conversions
// SearchConfig returns the search engine configuration.
func (c Config) SearchConfig() search.Config {
	mode := decoder.Deterministic()
	if c.Search.Decode == string(decoder.ModeStochastic) {
		mode = decoder.Stochastic(c.Search.Temperature)
	}
	return search.Config{
		Dim:            c.Search.Dim,
		Modulus:        c.Search.Modulus,
		Budget:         c.Search.Budget,
		Lambda:         c.Search.Lambda,
		StallThreshold: c.Search.StallThreshold,
		HighCost:       c.Search.HighCost,
		DescentStep:    c.Search.DescentStep,
		CoarsePenalty:  c.Search.CoarsePenalty,
		MaxResample:    c.Search.MaxResample,
		Decode:         mode,
	}
}

// ProjectionConfig returns the projection shape for the catalog vocabulary.
// A non-zero seed replaces the configured one.
func (c Config) ProjectionConfig(seed uint64) projection.Config {
	if seed == 0 {
		seed = c.Projection.Seed
	}
	return projection.Config{
		Vocab:   c.Catalog.Vocab,
		Dim:     c.Search.Dim,
		Modulus: c.Search.Modulus,
		Seed:    seed,
		Gain:    c.Projection.Gain,
	}
}

// EnergyConfig returns the energy model configuration.
func (c Config) EnergyConfig() energy.Config {
	return energy.Config{
		Gamma:         c.Energy.Gamma,
		Norm:          symbolic.Norm(c.Energy.Norm),
		OracleTimeout: c.Energy.OracleTimeout,
	}
}

// FrameConfig returns the frame controller configuration.
func (c Config) FrameConfig() frame.Config {
	return frame.Config{Steps: c.Frame.Steps, Frames: c.Frame.Frames}
}

// GateConfig returns the commit gate configuration.
func (c Config) GateConfig() gate.GateConfig {
	return gate.GateConfig{
		RequireZero: c.Gate.RequireZero,
		MaxScalar:   c.Gate.MaxScalar,
		Norm:        symbolic.Norm(c.Gate.Norm),
	}
}

// EvalConfig returns the audit configuration for the search torus.
func (c Config) EvalConfig() eval.EvalConfig {
	return eval.EvalConfig{
		Dim:          c.Search.Dim,
		Modulus:      c.Search.Modulus,
		MaxMagnitude: c.Eval.MaxMagnitude,
	}
}

// Thresholds returns the settings recorded with every frame decision.
func (c Config) Thresholds() logging.FrameThresholds {
	return logging.FrameThresholds{
		RequireZero: c.Gate.RequireZero,
		MaxScalar:   c.Gate.MaxScalar,
		Dim:         c.Search.Dim,
		Modulus:     c.Search.Modulus,
		Lambda:      c.Search.Lambda,
		Steps:       c.Frame.Steps,
	}
}

// #endregion conversions
