package waterfall

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/skiptrace/internal/cost"
	"github.com/sells-group/skiptrace/internal/model"
	"github.com/sells-group/skiptrace/internal/resilience"
	"github.com/sells-group/skiptrace/internal/waterfall/provider"
)

// Adapter kinds accepted in the chain file.
const (
	KindREST          = "rest"
	KindPublicRecords = "public_records"
)

// Config is the provider chain configuration.
type Config struct {
	Defaults DefaultConfig    `yaml:"defaults"`
	Chain    []ProviderConfig `yaml:"chain"`
}

// DefaultConfig holds values back-filled into chain entries.
type DefaultConfig struct {
	TimeoutMs   int     `yaml:"timeout_ms"`
	MaxAttempts int     `yaml:"max_attempts"`
	RatePerSec  float64 `yaml:"rate_per_sec"`
	EmptyIsMiss bool    `yaml:"empty_is_miss"`
}

// ProviderConfig is one entry of the chain, in priority order.
type ProviderConfig struct {
	Name        string             `yaml:"name"`
	Kind        string             `yaml:"kind"`
	Tier        model.ProviderTier `yaml:"tier"`
	BaseURL     string             `yaml:"base_url"`
	APIKey      string             `yaml:"api_key"`
	CostCents   int64              `yaml:"cost_cents"`
	TimeoutMs   int                `yaml:"timeout_ms"`
	MaxAttempts int                `yaml:"max_attempts"`
	RatePerSec  float64            `yaml:"rate_per_sec"`
	EmptyIsMiss *bool              `yaml:"empty_is_miss,omitempty"`
	Disabled    bool               `yaml:"disabled"`
}

// LoadConfig reads the chain from a YAML file. ${VAR} references are
// expanded from the environment so API keys stay out of the file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "waterfall: read config %s", path)
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates chain YAML.
func ParseConfig(data []byte) (*Config, error) {
	// The YAML has a top-level "waterfall" key
	var wrapper struct {
		Waterfall Config `yaml:"waterfall"`
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &wrapper); err != nil {
		return nil, eris.Wrap(err, "waterfall: parse config")
	}

	cfg := &wrapper.Waterfall
	if cfg.Defaults.TimeoutMs <= 0 {
		cfg.Defaults.TimeoutMs = 10_000
	}
	for i := range cfg.Chain {
		pc := &cfg.Chain[i]
		if pc.Kind == "" {
			pc.Kind = KindREST
		}
		if pc.TimeoutMs <= 0 {
			pc.TimeoutMs = cfg.Defaults.TimeoutMs
		}
		if pc.MaxAttempts <= 0 {
			pc.MaxAttempts = cfg.Defaults.MaxAttempts
		}
		if pc.RatePerSec <= 0 {
			pc.RatePerSec = cfg.Defaults.RatePerSec
		}
		if pc.EmptyIsMiss == nil {
			v := cfg.Defaults.EmptyIsMiss
			pc.EmptyIsMiss = &v
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the chain for mistakes that would otherwise surface as
// failed lookups or wrong billing.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Chain))
	for i, pc := range c.Chain {
		switch {
		case pc.Name == "":
			return eris.Errorf("waterfall: chain[%d]: name is required", i)
		case seen[pc.Name]:
			return eris.Errorf("waterfall: chain[%d]: duplicate provider %q", i, pc.Name)
		case !pc.Tier.Valid():
			return eris.Errorf("waterfall: %s: unknown tier %q", pc.Name, pc.Tier)
		case pc.Kind != KindREST && pc.Kind != KindPublicRecords:
			return eris.Errorf("waterfall: %s: unknown kind %q", pc.Name, pc.Kind)
		case pc.BaseURL == "":
			return eris.Errorf("waterfall: %s: base_url is required", pc.Name)
		case pc.CostCents < 0:
			return eris.Errorf("waterfall: %s: cost_cents must be >= 0", pc.Name)
		case pc.Tier == model.TierFree && pc.CostCents != 0:
			return eris.Errorf("waterfall: %s: free tier must cost 0, got %d", pc.Name, pc.CostCents)
		}
		seen[pc.Name] = true
	}
	return nil
}

// Enabled returns the chain entries that are not disabled.
func (c *Config) Enabled() []ProviderConfig {
	out := make([]ProviderConfig, 0, len(c.Chain))
	for _, pc := range c.Chain {
		if !pc.Disabled {
			out = append(out, pc)
		}
	}
	return out
}

// Rates returns the per-lookup price of every enabled provider.
func (c *Config) Rates() cost.Rates {
	rates := make(cost.Rates, len(c.Chain))
	for _, pc := range c.Enabled() {
		rates[pc.Name] = pc.CostCents
	}
	return rates
}

// BuildRegistry constructs adapters for the enabled chain. base supplies
// backoff settings; each entry's max_attempts overrides base.MaxAttempts.
func BuildRegistry(cfg *Config, base resilience.Policy, opts ...provider.Option) (*provider.Registry, error) {
	reg := provider.NewRegistry()
	for _, pc := range cfg.Enabled() {
		policy := base
		if pc.MaxAttempts > 0 {
			policy.MaxAttempts = pc.MaxAttempts
		}
		spec := provider.Spec{
			Name:        pc.Name,
			Tier:        pc.Tier,
			CostCents:   pc.CostCents,
			BaseURL:     pc.BaseURL,
			APIKey:      pc.APIKey,
			EmptyIsMiss: pc.EmptyIsMiss != nil && *pc.EmptyIsMiss,
		}
		o := append([]provider.Option{
			provider.WithTimeout(time.Duration(pc.TimeoutMs) * time.Millisecond),
			provider.WithRateLimit(pc.RatePerSec),
			provider.WithRetry(policy),
		}, opts...)

		var p provider.Provider
		switch pc.Kind {
		case KindPublicRecords:
			p = provider.NewPublicRecords(spec, o...)
		default:
			p = provider.NewREST(spec, o...)
		}
		if err := reg.Register(p); err != nil {
			return nil, eris.Wrap(err, "waterfall: build registry")
		}
	}
	return reg, nil
}
