package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"orbit-metrics/util"
)

const (
	DefaultPort            = 8000
	DefaultRefreshInterval = 60
	DefaultMaxConcurrency  = 4
	DefaultRequestTimeout  = 10
	DefaultMaxRetries      = 3
	DefaultRetryBackoff    = 1
	DefaultWalletType      = "unknown"
)

// Client lifecycles.
const (
	LifecycleLongLived = "long_lived"
	LifecyclePerCycle  = "per_cycle"
)

type Config struct {
	Nodes           []Node     `yaml:"nodes"`
	Prometheus      Prometheus `yaml:"prometheus"`
	RefreshInterval int        `yaml:"refresh_interval"`
	MaxConcurrency  int        `yaml:"max_concurrency"`
	RequestTimeout  int        `yaml:"request_timeout"`
	MaxRetries      int        `yaml:"max_retries"`
	RetryBackoff    int        `yaml:"retry_backoff"`
	ClientLifecycle string     `yaml:"client_lifecycle"`
	Logging         Logging    `yaml:"logging"`
}

type Node struct {
	Name         string      `yaml:"name"`
	APIURL       string      `yaml:"api_url"`
	MainDenom    string      `yaml:"main_denom"`
	FallbackURLs []string    `yaml:"fallback_urls"`
	Bech32Prefix string      `yaml:"bech32_prefix"`
	Wallets      []Wallet    `yaml:"wallets"`
	Validators   []Validator `yaml:"validators"`
}

// URLs returns api_url followed by the fallback URLs.
func (n Node) URLs() []string {
	return append([]string{n.APIURL}, n.FallbackURLs...)
}

type Wallet struct {
	Address string `yaml:"address"`
	Type    string `yaml:"type"`
}

type Validator struct {
	ValidatorID string `yaml:"validator_id"`
}

type Prometheus struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// ConfigurationError lists every problem found in a configuration file. It is
// the only error that stops the exporter.
type ConfigurationError struct {
	Problems []string
	Err      error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid configuration: %v", e.Err)
	}
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, &ConfigurationError{Err: fmt.Errorf("failed to read %s: %w", filename, err)}
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigurationError{Err: fmt.Errorf("failed to parse YAML: %w", err)}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Prometheus.Port == 0 {
		c.Prometheus.Port = DefaultPort
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.ClientLifecycle == "" {
		c.ClientLifecycle = LifecycleLongLived
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	for i := range c.Nodes {
		for j := range c.Nodes[i].Wallets {
			if c.Nodes[i].Wallets[j].Type == "" {
				c.Nodes[i].Wallets[j].Type = DefaultWalletType
			}
		}
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var problems []string
	addf := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if len(c.Nodes) == 0 {
		addf("at least one node is required")
	}

	names := make(map[string]bool, len(c.Nodes))
	for i, n := range c.Nodes {
		where := fmt.Sprintf("nodes[%d]", i)
		if n.Name == "" {
			addf("%s: name is required", where)
		} else {
			where = fmt.Sprintf("node %q", n.Name)
			if names[n.Name] {
				addf("%s: duplicate name", where)
			}
			names[n.Name] = true
		}

		if n.APIURL == "" {
			addf("%s: api_url is required", where)
		} else if err := checkURL(n.APIURL); err != nil {
			addf("%s: api_url: %v", where, err)
		}
		for _, u := range n.FallbackURLs {
			if err := checkURL(u); err != nil {
				addf("%s: fallback_urls: %v", where, err)
			}
		}
		if n.MainDenom == "" {
			addf("%s: main_denom is required", where)
		}

		for j, w := range n.Wallets {
			if w.Address == "" {
				addf("%s: wallets[%d]: address is required", where, j)
				continue
			}
			if n.Bech32Prefix != "" {
				if err := util.CheckAddress(w.Address, n.Bech32Prefix); err != nil {
					addf("%s: wallet %s: %v", where, w.Address, err)
				}
			}
		}
		for j, v := range n.Validators {
			if v.ValidatorID == "" {
				addf("%s: validators[%d]: validator_id is required", where, j)
				continue
			}
			if n.Bech32Prefix != "" {
				if err := util.CheckAddress(v.ValidatorID, util.ValidatorPrefix(n.Bech32Prefix)); err != nil {
					addf("%s: validator %s: %v", where, v.ValidatorID, err)
				}
			}
		}
	}

	if c.Prometheus.Port < 1 || c.Prometheus.Port > 65535 {
		addf("prometheus.port must be between 1 and 65535, got %d", c.Prometheus.Port)
	}
	if c.RefreshInterval < 1 {
		addf("refresh_interval must be positive, got %d", c.RefreshInterval)
	}
	if c.MaxConcurrency < 1 {
		addf("max_concurrency must be positive, got %d", c.MaxConcurrency)
	}
	if c.RequestTimeout < 1 {
		addf("request_timeout must be positive, got %d", c.RequestTimeout)
	}
	if c.MaxRetries < 1 {
		addf("max_retries must be positive, got %d", c.MaxRetries)
	}
	if c.RetryBackoff < 1 {
		addf("retry_backoff must be positive, got %d", c.RetryBackoff)
	}

	switch c.ClientLifecycle {
	case LifecycleLongLived, LifecyclePerCycle:
	default:
		addf("client_lifecycle must be %q or %q, got %q", LifecycleLongLived, LifecyclePerCycle, c.ClientLifecycle)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		addf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		addf("logging.format must be json or text, got %q", c.Logging.Format)
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}

func (c *Config) RefreshDuration() time.Duration {
	return time.Duration(c.RefreshInterval) * time.Second
}

func (c *Config) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

func (c *Config) RetryBackoffDuration() time.Duration {
	return time.Duration(c.RetryBackoff) * time.Second
}

// ListenAddress is the address of the /metrics endpoint.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf(":%d", c.Prometheus.Port)
}
