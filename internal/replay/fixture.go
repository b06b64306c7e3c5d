package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/decoder"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/search"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/verifier"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture: one search
// over the parity verifier and the outcome it must reproduce.
type Fixture struct {
	Name        string                     `json:"name"`
	Description string                     `json:"description"`
	Context     string                     `json:"context"`
	Seed        uint64                     `json:"seed"`
	Budget      *int                       `json:"budget,omitempty"` // nil uses the config budget
	BaseScores  []float64                  `json:"base_scores,omitempty"`
	Bindings    map[string]verifier.Parity `json:"bindings,omitempty"`
	Catalog     FixtureCatalog             `json:"catalog"`
	Config      FixtureConfig              `json:"config"`
	Expected    FixtureExpected            `json:"expected"`
}

// FixtureCatalog describes the verifier's template catalog.
type FixtureCatalog struct {
	Vocab     int                       `json:"vocab"`
	Seed      uint64                    `json:"seed"`
	Templates []symbolic.ActionTemplate `json:"templates,omitempty"` // empty uses the default catalog
	Flat      []string                  `json:"flat,omitempty"`      // template IDs given the uniform prototype
}

// FixtureConfig mirrors search.Config with JSON tags.
type FixtureConfig struct {
	Dim            int     `json:"dim"`
	Modulus        int     `json:"modulus"`
	Budget         int     `json:"budget"`
	Lambda         float64 `json:"lambda"`
	StallThreshold int     `json:"stall_threshold"`
	HighCost       float64 `json:"high_cost"`
	ProjectionSeed uint64  `json:"projection_seed"`
	Mode           string  `json:"mode"`
	Temperature    float64 `json:"temperature"`
}

// FixtureExpected captures the outcome a replay must reproduce. Zero-valued
// fields are not checked.
type FixtureExpected struct {
	Phase          search.Phase `json:"phase"`
	Found          *bool        `json:"found,omitempty"`
	Template       string       `json:"template,omitempty"`
	Evaluations    *int         `json:"evaluations,omitempty"`
	MaxOracleCalls *int         `json:"max_oracle_calls,omitempty"`
	Cause          string       `json:"cause,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if f.Name == "" {
		f.Name = filepath.Base(path)
	}
	return &f, nil
}

// LoadDir loads every *.json fixture in dir, ordered by file name.
func LoadDir(dir string) ([]*Fixture, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("glob fixtures: %w", err)
	}
	sort.Strings(matches)
	out := make([]*Fixture, 0, len(matches))
	for _, m := range matches {
		f, err := LoadFixture(m)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// ToSearchConfig overlays the fixture config on the search defaults.
func (fc *FixtureConfig) ToSearchConfig() search.Config {
	cfg := search.DefaultConfig()
	if fc.Dim > 0 {
		cfg.Dim = fc.Dim
	}
	if fc.Modulus > 0 {
		cfg.Modulus = fc.Modulus
	}
	if fc.Budget > 0 {
		cfg.Budget = fc.Budget
	}
	if fc.Lambda > 0 {
		cfg.Lambda = fc.Lambda
	}
	if fc.StallThreshold > 0 {
		cfg.StallThreshold = fc.StallThreshold
	}
	if fc.HighCost > 0 {
		cfg.HighCost = fc.HighCost
	}
	if fc.Mode == string(decoder.ModeStochastic) {
		cfg.Decode = decoder.Stochastic(fc.Temperature)
	}
	return cfg
}

// ToRequest builds the search request the fixture describes.
func (f *Fixture) ToRequest(vocab int) search.Request {
	base := make([]float64, vocab)
	copy(base, f.BaseScores)
	budget := -1
	if f.Budget != nil {
		budget = *f.Budget
	}
	return search.Request{
		Context:    f.Context,
		BaseScores: base,
		State:      verifier.NewStateWith(f.Bindings),
		Budget:     budget,
		Seed:       f.Seed,
	}
}

// #endregion fixture-loader
