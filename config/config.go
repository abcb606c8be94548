package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vatsimnerd/mcauth"
	"github.com/vatsimnerd/mcauth/providers/xboxlive"
)

const (
	defaultConfigDirName = "mcauth"
	defaultConfigFile    = "config.yaml"

	DefaultScope        = mcauth.DefaultScope
	DefaultRelyingParty = xboxlive.DefaultRelyingParty
	DefaultTimeout      = 30 * time.Second
)

type Config struct {
	ClientID     string        `yaml:"client-id"`
	Scope        string        `yaml:"scope,omitempty"`
	RelyingParty string        `yaml:"relying-party,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
	UserAgent    string        `yaml:"user-agent,omitempty"`
	Endpoints    Endpoints     `yaml:"endpoints,omitempty"`
}

// Endpoints override the public service URLs. Empty fields keep the
// defaults.
type Endpoints struct {
	DeviceCode       string `yaml:"device-code,omitempty"`
	Token            string `yaml:"token,omitempty"`
	UserAuthenticate string `yaml:"user-authenticate,omitempty"`
	XSTSAuthorize    string `yaml:"xsts-authorize,omitempty"`
	ServiceLogin     string `yaml:"service-login,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Scope:        DefaultScope,
		RelyingParty: DefaultRelyingParty,
		Timeout:      DefaultTimeout,
	}
}

func DefaultConfigPath() string {
	if env := os.Getenv("MCAUTH_CONFIG"); env != "" {
		return env
	}
	base, err := os.UserConfigDir()
	if err == nil {
		return filepath.Join(base, defaultConfigDirName, defaultConfigFile)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mcauth", defaultConfigFile)
}

// Load reads path over the defaults. A missing file is not an error when
// allowMissing is set, so the CLI can run from the environment alone.
func Load(path string, allowMissing bool) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return nil, errors.New("config path is required")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if allowMissing && errors.Is(err, os.ErrNotExist) {
			return &cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	content, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, content, 0o600)
}

// ApplyEnv overrides fields from MCAUTH_* variables. CLIENT_ID is honoured
// when MCAUTH_CLIENT_ID is unset.
func (c *Config) ApplyEnv() {
	if v := firstEnv("MCAUTH_CLIENT_ID", "CLIENT_ID"); v != "" {
		c.ClientID = v
	}
	if v := firstEnv("MCAUTH_SCOPE"); v != "" {
		c.Scope = v
	}
	if v := firstEnv("MCAUTH_RELYING_PARTY"); v != "" {
		c.RelyingParty = v
	}
	if v := firstEnv("MCAUTH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Timeout = d
		}
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.ClientID) == "" {
		return errors.New("client id is required")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative: %s", c.Timeout)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Scope == "" {
		c.Scope = DefaultScope
	}
	if c.RelyingParty == "" {
		c.RelyingParty = DefaultRelyingParty
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}
