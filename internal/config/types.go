package config

import "time"

// #region config
// Config is the controller configuration as read from YAML. Zero-valued
// sections are filled from Default before the file is applied.
type Config struct {
	DBPath       string             `yaml:"db_path" validate:"required"`
	CodecAddr    string             `yaml:"codec_addr"`
	MetricsAddr  string             `yaml:"metrics_addr"`
	LogLevel     string             `yaml:"log_level" validate:"oneof=debug info warn error"`
	Development  bool               `yaml:"development"`
	Catalog      CatalogConfig      `yaml:"catalog"`
	Search       SearchConfig       `yaml:"search"`
	Projection   ProjectionConfig   `yaml:"projection"`
	Energy       EnergyConfig       `yaml:"energy"`
	Frame        FrameConfig        `yaml:"frame"`
	Gate         GateConfig         `yaml:"gate"`
	Eval         EvalConfig         `yaml:"eval"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
}

// #endregion config

// #region sections
// CatalogConfig sizes the reference verifier's template catalog.
type CatalogConfig struct {
	Vocab int    `yaml:"vocab" validate:"gte=2"`
	Seed  uint64 `yaml:"seed"`
}

// SearchConfig mirrors search.Config.
type SearchConfig struct {
	Dim            int     `yaml:"dim" validate:"gte=1"`
	Modulus        int     `yaml:"modulus" validate:"gte=2"`
	Budget         int     `yaml:"budget" validate:"gte=0"`
	Lambda         float64 `yaml:"lambda" validate:"gte=0"`
	StallThreshold int     `yaml:"stall_threshold" validate:"gte=1"`
	HighCost       float64 `yaml:"high_cost" validate:"gt=0"`
	DescentStep    int     `yaml:"descent_step" validate:"gte=1"`
	CoarsePenalty  float64 `yaml:"coarse_penalty" validate:"gte=0"`
	MaxResample    int     `yaml:"max_resample" validate:"gte=0"`
	Decode         string  `yaml:"decode" validate:"oneof=deterministic stochastic"`
	Temperature    float64 `yaml:"temperature" validate:"gte=0"`
}

// ProjectionConfig seeds the projection basis.
type ProjectionConfig struct {
	Seed uint64  `yaml:"seed"`
	Gain float64 `yaml:"gain" validate:"gte=0"` // 0 means sqrt(vocab)
}

// EnergyConfig mirrors energy.Config.
type EnergyConfig struct {
	Gamma         float64       `yaml:"gamma" validate:"gt=0,lte=1"`
	Norm          string        `yaml:"norm" validate:"oneof=l1 l2 linf"`
	OracleTimeout time.Duration `yaml:"oracle_timeout" validate:"gte=0"`
}

// FrameConfig mirrors frame.Config.
type FrameConfig struct {
	Steps  int `yaml:"steps" validate:"gte=1"`
	Frames int `yaml:"frames" validate:"gte=1"`
}

// GateConfig mirrors gate.GateConfig.
type GateConfig struct {
	RequireZero bool    `yaml:"require_zero"`
	MaxScalar   float64 `yaml:"max_scalar" validate:"gte=0"`
	Norm        string  `yaml:"norm" validate:"oneof=l1 l2 linf"`
}

// EvalConfig holds audit thresholds; the torus shape comes from Search.
type EvalConfig struct {
	MaxMagnitude float64 `yaml:"max_magnitude" validate:"gte=0,lte=1"`
}

// OrchestratorConfig switches strategy retries on or off.
type OrchestratorConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxRetries int  `yaml:"max_retries" validate:"gte=0,lte=3"`
}

// #endregion sections
