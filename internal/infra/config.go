package infra

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent identifies the keeper to quote APIs that reject
	// anonymous clients.
	DefaultUserAgent = "percolator-keeper/1.0"
)

// Config holds every runtime setting of the keeper. Sensitive values can be
// overridden from the environment after the file is loaded.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Chain struct {
		RPCURL    string `yaml:"rpc_url"`
		ProgramID string `yaml:"program_id"`
		KeeperKey string `yaml:"keeper_key"` // payer account, env-overridable
	} `yaml:"chain"`

	Crank struct {
		IntervalMS          int  `yaml:"interval_ms"`
		PricePushCooldownMS int  `yaml:"price_push_cooldown_ms"`
		AllowPanic          bool `yaml:"allow_panic"`
	} `yaml:"crank"`

	Prices struct {
		PrimaryURL   string            `yaml:"primary_url"`
		SecondaryURL string            `yaml:"secondary_url"`
		TimeoutSec   int               `yaml:"timeout_sec"`
		Assets       map[string]string `yaml:"assets"` // collateral mint -> quote asset id
	} `yaml:"prices"`

	Feed struct {
		ListenAddr string `yaml:"listen_addr"` // empty disables the ws feed
	} `yaml:"feed"`

	Storage struct {
		Path string `yaml:"path"` // empty uses the per-user default
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the config file, applies environment
// overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Chain.RPCURL, "http://") && !strings.HasPrefix(c.Chain.RPCURL, "https://") {
		return fmt.Errorf("invalid chain RPC URL: %s", c.Chain.RPCURL)
	}
	if c.Chain.ProgramID == "" {
		return fmt.Errorf("chain program id is required")
	}
	if c.Chain.KeeperKey == "" {
		return fmt.Errorf("keeper key is required")
	}
	if c.Crank.IntervalMS < 0 {
		return fmt.Errorf("crank interval must not be negative")
	}
	if c.Prices.PrimaryURL == "" && c.Prices.SecondaryURL == "" {
		return fmt.Errorf("at least one price source is required")
	}
	return nil
}

// overrideWithEnv applies environment variables over file values.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("PERC_KEEPER_KEY"); key != "" {
		cfg.Chain.KeeperKey = key
	}
	if url := os.Getenv("PERC_RPC_URL"); url != "" {
		cfg.Chain.RPCURL = url
	}
	if prog := os.Getenv("PERC_PROGRAM_ID"); prog != "" {
		cfg.Chain.ProgramID = prog
	}
}
