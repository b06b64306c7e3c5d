package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/decoder"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/energy"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/frame"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/gate"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/orchestrator"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/search"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vapo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultMatchesPackages(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, search.DefaultConfig(), cfg.SearchConfig())
	assert.Equal(t, frame.DefaultConfig(), cfg.FrameConfig())
	assert.Equal(t, gate.DefaultGateConfig(), cfg.GateConfig())
	assert.Equal(t, energy.DefaultConfig(), cfg.EnergyConfig())
	assert.True(t, cfg.Orchestrator.Enabled)
	assert.Equal(t, orchestrator.DefaultMaxRetries, cfg.Orchestrator.MaxRetries)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
db_path: /tmp/runs.db
log_level: debug
search:
  dim: 8
  budget: 0
  decode: stochastic
  temperature: 0.7
energy:
  gamma: 0.5
  oracle_timeout: 250ms
gate:
  require_zero: false
  max_scalar: 0.5
orchestrator:
  enabled: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/runs.db", cfg.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.Orchestrator.Enabled)

	s := cfg.SearchConfig()
	assert.Equal(t, 8, s.Dim)
	assert.Equal(t, 32, s.Modulus, "unset fields keep defaults")
	assert.Equal(t, 0, s.Budget)
	assert.Equal(t, decoder.Stochastic(0.7), s.Decode)

	e := cfg.EnergyConfig()
	assert.Equal(t, 0.5, e.Gamma)
	assert.Equal(t, 250*time.Millisecond, e.OracleTimeout)

	g := cfg.GateConfig()
	assert.False(t, g.RequireZero)
	assert.Equal(t, 0.5, g.MaxScalar)
	assert.Equal(t, symbolic.NormL2, g.Norm)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("VAPO_DB", "env.db")
	t.Setenv("VAPO_BUDGET", "12")
	t.Setenv("VAPO_STEPS", "3")
	t.Setenv("VAPO_ORCHESTRATOR_ENABLED", "false")

	path := writeConfig(t, "db_path: file.db\nsearch:\n  budget: 99\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env.db", cfg.DBPath, "env wins over file")
	assert.Equal(t, 12, cfg.Search.Budget)
	assert.Equal(t, 3, cfg.Frame.Steps)
	assert.False(t, cfg.Orchestrator.Enabled)
}

func TestLoadBadEnvInt(t *testing.T) {
	t.Setenv("VAPO_DIM", "sixteen")
	_, err := Load("")
	assert.ErrorContains(t, err, "VAPO_DIM")
}

func TestLoadRejectsBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "search: [not, a, map]\n"))
	assert.ErrorContains(t, err, "parse config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty-db", func(c *Config) { c.DBPath = "" }},
		{"bad-level", func(c *Config) { c.LogLevel = "verbose" }},
		{"zero-dim", func(c *Config) { c.Search.Dim = 0 }},
		{"modulus-one", func(c *Config) { c.Search.Modulus = 1 }},
		{"negative-budget", func(c *Config) { c.Search.Budget = -1 }},
		{"bad-decode", func(c *Config) { c.Search.Decode = "greedy" }},
		{"stochastic-cold", func(c *Config) { c.Search.Decode = "stochastic" }},
		{"gamma-above-one", func(c *Config) { c.Energy.Gamma = 1.5 }},
		{"bad-norm", func(c *Config) { c.Gate.Norm = "l3" }},
		{"zero-steps", func(c *Config) { c.Frame.Steps = 0 }},
		{"tiny-vocab", func(c *Config) { c.Catalog.Vocab = 1 }},
		{"magnitude-above-one", func(c *Config) { c.Eval.MaxMagnitude = 2 }},
		{"too-many-retries", func(c *Config) { c.Orchestrator.MaxRetries = 4 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestProjectionConfigSeed(t *testing.T) {
	cfg := Default()
	cfg.Projection.Seed = 5

	p := cfg.ProjectionConfig(0)
	assert.Equal(t, uint64(5), p.Seed)
	assert.Equal(t, cfg.Catalog.Vocab, p.Vocab)
	assert.Equal(t, cfg.Search.Dim, p.Dim)

	assert.Equal(t, uint64(77), cfg.ProjectionConfig(77).Seed)
}

func TestThresholdsAndEval(t *testing.T) {
	cfg := Default()
	th := cfg.Thresholds()
	assert.True(t, th.RequireZero)
	assert.Equal(t, cfg.Search.Dim, th.Dim)
	assert.Equal(t, cfg.Frame.Steps, th.Steps)

	ev := cfg.EvalConfig()
	assert.Equal(t, cfg.Search.Modulus, ev.Modulus)
	assert.Equal(t, cfg.Eval.MaxMagnitude, ev.MaxMagnitude)
}
