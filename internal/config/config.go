// Package config provides configuration management for the PrismFlow exporter.
package config

import (
	"fmt"
	"net/url"
	"sort"
	"time"
)

// Config represents the complete exporter configuration
type Config struct {
	Server  ServerConfig   `mapstructure:"server"`
	Prism   PrismConfig    `mapstructure:"prism"`
	Poll    PollConfig     `mapstructure:"poll"`
	Targets []TargetConfig `mapstructure:"targets"`
	Forward ForwardConfig  `mapstructure:"forward"`
	Logging LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig contains the scrape endpoint settings
type ServerConfig struct {
	// ListenAddress is the host:port the HTTP server binds to
	ListenAddress string `mapstructure:"listen_address"`

	// MetricsPath is the URL path serving the Prometheus exposition format
	MetricsPath string `mapstructure:"metrics_path"`

	// ReadTimeout bounds reading an inbound scrape request
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// ShutdownTimeout is the grace period for draining in-flight scrapes
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// PrismConfig contains Prism API client defaults shared by all targets
type PrismConfig struct {
	// Timeout is the per-request timeout against the Prism API
	Timeout time.Duration `mapstructure:"timeout"`

	// PageSize is the entity count requested per list page
	PageSize int `mapstructure:"page_size"`

	// MaxPages bounds pagination per entity listing; exceeding it with
	// entities still remaining fails the poll instead of truncating
	MaxPages int `mapstructure:"max_pages"`

	// TLSSkipVerify skips certificate verification; Prism ships with
	// self-signed certificates out of the box
	TLSSkipVerify bool `mapstructure:"tls_skip_verify"`

	// Username is the default Prism user (env: PRISM_USER)
	Username string `mapstructure:"username"`

	// Password is the default Prism password (env: PRISM_PASS)
	Password string `mapstructure:"password"`

	// Retry contains retry settings for transient failures
	Retry RetryConfig `mapstructure:"retry"`
}

// RetryConfig contains retry settings
type RetryConfig struct {
	// MaxAttempts is the total number of attempts per request
	MaxAttempts int `mapstructure:"max_attempts"`

	// InitialBackoff is the delay before the first retry; subsequent
	// retries back off exponentially with jitter
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`

	// MaxBackoff caps the computed retry delay
	MaxBackoff time.Duration `mapstructure:"max_backoff"`
}

// PollConfig contains background polling defaults
type PollConfig struct {
	// Interval is the default per-target poll interval
	Interval time.Duration `mapstructure:"interval"`

	// DegradedThreshold is the consecutive-failure count after which a
	// target is reported degraded; polling continues regardless
	DegradedThreshold int `mapstructure:"degraded_threshold"`
}

// TargetConfig describes one monitored Prism Central or Prism Element
// endpoint
type TargetConfig struct {
	// Name identifies the target in metric labels and logs
	Name string `mapstructure:"name"`

	// URL is the Prism base URL, e.g. https://10.0.0.10:9440
	URL string `mapstructure:"url"`

	// Username overrides prism.username for this target
	Username string `mapstructure:"username"`

	// Password overrides prism.password for this target
	Password string `mapstructure:"password"`

	// PollInterval overrides poll.interval for this target
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// Enabled toggles polling; omitted means enabled
	Enabled *bool `mapstructure:"enabled"`

	// Labels are extra labels merged into every sample of this target
	Labels map[string]string `mapstructure:"labels"`

	// Collect selects which entity kinds are fetched
	Collect CollectConfig `mapstructure:"collect"`
}

// CollectConfig selects the Prism entity kinds to poll. When every flag is
// false (nothing configured) all kinds are collected.
type CollectConfig struct {
	VMs               bool `mapstructure:"vms"`
	Hosts             bool `mapstructure:"hosts"`
	Clusters          bool `mapstructure:"clusters"`
	StorageContainers bool `mapstructure:"storage_containers"`
	Alerts            bool `mapstructure:"alerts"`
}

// ForwardConfig contains the optional OTLP metric forwarding settings
type ForwardConfig struct {
	// Enabled enables OTLP forwarding of polled snapshots
	Enabled bool `mapstructure:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	Endpoint string `mapstructure:"endpoint"`

	// Protocol is the OTLP transport protocol (grpc or http)
	Protocol string `mapstructure:"protocol"`

	// Interval is the export flush interval
	Interval time.Duration `mapstructure:"interval"`

	// Timeout bounds a single export
	Timeout time.Duration `mapstructure:"timeout"`

	// Compression enables gzip compression on exports
	Compression bool `mapstructure:"compression"`

	// TLS contains TLS/SSL settings
	TLS TLSConfig `mapstructure:"tls"`

	// Headers are additional headers sent with every export
	Headers map[string]string `mapstructure:"headers"`
}

// TLSConfig contains TLS settings
type TLSConfig struct {
	// Enabled enables TLS for the connection
	Enabled bool `mapstructure:"enabled"`

	// SkipVerify skips certificate verification (insecure)
	SkipVerify bool `mapstructure:"skip_verify"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Format is the log format (json, text)
	Format string `mapstructure:"format"`

	// File is the log file path (empty = stderr)
	File string `mapstructure:"file"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:   ":9408",
			MetricsPath:     "/metrics",
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Prism: PrismConfig{
			Timeout:       30 * time.Second,
			PageSize:      500,
			MaxPages:      20,
			TLSSkipVerify: true,
			Retry: RetryConfig{
				MaxAttempts:    3,
				InitialBackoff: 500 * time.Millisecond,
				MaxBackoff:     5 * time.Second,
			},
		},
		Poll: PollConfig{
			Interval:          30 * time.Second,
			DegradedThreshold: 5,
		},
		Forward: ForwardConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
			Compression: true,
			TLS: TLSConfig{
				Enabled:    false,
				SkipVerify: false,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate validates the process-level configuration. Per-target problems
// are reported by ValidateTarget instead, so one bad target can be excluded
// while the rest keep polling.
func (c *Config) Validate() error {
	if c.Server.ListenAddress == "" {
		return ErrMissingListenAddress
	}
	if c.Server.MetricsPath == "" {
		return ErrMissingMetricsPath
	}
	if c.Prism.PageSize < 1 {
		return ErrInvalidPageSize
	}
	if c.Prism.MaxPages < 1 {
		return ErrInvalidMaxPages
	}
	if c.Prism.Retry.MaxAttempts < 1 {
		return ErrInvalidRetryAttempts
	}
	if c.Poll.Interval < minPollInterval {
		return ErrPollIntervalTooShort
	}
	if c.Poll.DegradedThreshold < 1 {
		return ErrInvalidDegradedThreshold
	}
	if len(c.Targets) == 0 {
		return ErrNoTargets
	}
	if len(c.EnabledTargets()) == 0 {
		return ErrNoEnabledTargets
	}
	if c.Forward.Enabled {
		if c.Forward.Endpoint == "" {
			return ErrMissingForwardEndpoint
		}
		if c.Forward.Protocol != "grpc" && c.Forward.Protocol != "http" {
			return ErrInvalidForwardProtocol
		}
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return ErrInvalidLogFormat
	}
	return c.validateLabelKeys()
}

// validateLabelKeys requires every enabled target to declare the same extra
// label keys. Mixed key sets would give one metric family inconsistent
// label dimensions across targets and fail the scrape at gather time.
func (c *Config) validateLabelKeys() error {
	targets := c.EnabledTargets()
	if len(targets) < 2 {
		return nil
	}
	want := labelKeys(targets[0].Labels)
	for _, t := range targets[1:] {
		got := labelKeys(t.Labels)
		if len(got) != len(want) {
			return ErrMixedTargetLabels
		}
		for i := range want {
			if got[i] != want[i] {
				return ErrMixedTargetLabels
			}
		}
	}
	return nil
}

// ValidateTarget validates a single target. A failure means the target is
// misconfigured and must be excluded from polling, not that the process
// should exit.
func (c *Config) ValidateTarget(t TargetConfig) error {
	if t.Name == "" {
		return NewTargetError(t.URL, "name", "target name is required")
	}
	if t.URL == "" {
		return NewTargetError(t.Name, "url", "base URL is required")
	}
	u, err := url.Parse(t.URL)
	if err != nil {
		return NewTargetError(t.Name, "url", fmt.Sprintf("invalid base URL: %v", err))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return NewTargetError(t.Name, "url", "base URL scheme must be http or https")
	}
	if u.Host == "" {
		return NewTargetError(t.Name, "url", "base URL host is required")
	}
	if c.GetEffectiveUsername(t) == "" || c.GetEffectivePassword(t) == "" {
		return NewTargetError(t.Name, "credentials", "no credentials configured (set prism.username/prism.password or PRISM_USER/PRISM_PASS)")
	}
	if t.PollInterval != 0 && t.PollInterval < minPollInterval {
		return NewTargetError(t.Name, "poll_interval", fmt.Sprintf("poll interval must be at least %s", minPollInterval))
	}
	return nil
}

// IsEnabled returns whether the target should be polled; an omitted enabled
// flag counts as enabled.
func (t TargetConfig) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// EnabledTargets returns the targets that should be polled
func (c *Config) EnabledTargets() []TargetConfig {
	out := make([]TargetConfig, 0, len(c.Targets))
	for _, t := range c.Targets {
		if t.IsEnabled() {
			out = append(out, t)
		}
	}
	return out
}

// GetEffectiveUsername returns the target username, falling back to the
// shared Prism credentials
func (c *Config) GetEffectiveUsername(t TargetConfig) string {
	if t.Username != "" {
		return t.Username
	}
	return c.Prism.Username
}

// GetEffectivePassword returns the target password, falling back to the
// shared Prism credentials
func (c *Config) GetEffectivePassword(t TargetConfig) string {
	if t.Password != "" {
		return t.Password
	}
	return c.Prism.Password
}

// GetEffectivePollInterval returns the target poll interval, falling back
// to the shared default
func (c *Config) GetEffectivePollInterval(t TargetConfig) time.Duration {
	if t.PollInterval > 0 {
		return t.PollInterval
	}
	return c.Poll.Interval
}

// GetEffectiveCollect returns the entity kinds to fetch for the target.
// When nothing is selected explicitly every kind is collected.
func (t TargetConfig) GetEffectiveCollect() CollectConfig {
	cc := t.Collect
	if !cc.VMs && !cc.Hosts && !cc.Clusters && !cc.StorageContainers && !cc.Alerts {
		return CollectConfig{
			VMs:               true,
			Hosts:             true,
			Clusters:          true,
			StorageContainers: true,
			Alerts:            true,
		}
	}
	return cc
}

// IsForwardEnabled returns whether OTLP forwarding is enabled
func (c *Config) IsForwardEnabled() bool {
	return c.Forward.Enabled
}

// minPollInterval is the floor for poll intervals; anything faster hammers
// the Prism API for stats that only refresh every few seconds anyway.
const minPollInterval = 5 * time.Second

func labelKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Errors
var (
	ErrMissingListenAddress     = configError("server.listen_address is required")
	ErrMissingMetricsPath       = configError("server.metrics_path is required")
	ErrInvalidPageSize          = configError("prism.page_size must be at least 1")
	ErrInvalidMaxPages          = configError("prism.max_pages must be at least 1")
	ErrInvalidRetryAttempts     = configError("prism.retry.max_attempts must be at least 1")
	ErrPollIntervalTooShort     = configError("poll.interval must be at least 5s")
	ErrInvalidDegradedThreshold = configError("poll.degraded_threshold must be at least 1")
	ErrNoTargets                = configError("no targets configured (set targets in the config file or PRISM_IPS)")
	ErrNoEnabledTargets         = configError("all configured targets are disabled")
	ErrMissingForwardEndpoint   = configError("forward.endpoint is required when forwarding is enabled")
	ErrInvalidForwardProtocol   = configError("forward.protocol must be 'grpc' or 'http'")
	ErrInvalidLogFormat         = configError("logging.format must be 'json' or 'text'")
	ErrMixedTargetLabels        = configError("all enabled targets must declare the same label keys")
)

type configError string

func (e configError) Error() string {
	return string(e)
}

// TargetError describes why a single target is misconfigured
type TargetError struct {
	Target  string
	Field   string
	Message string
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("target %s: %s - %s", e.Target, e.Field, e.Message)
}

// NewTargetError creates a new target validation error
func NewTargetError(target, field, message string) *TargetError {
	return &TargetError{
		Target:  target,
		Field:   field,
		Message: message,
	}
}
