package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// envTargetList names the environment variable holding a comma-separated
// list of Prism endpoints. It is honored only when the config file defines
// no targets.
const envTargetList = "PRISM_IPS"

// Loader handles configuration loading from multiple sources
type Loader struct {
	configPaths    []string
	envPrefix      string
	configFileUsed string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		configPaths: []string{
			".",
			"./configs",
			"/etc/nutanix-exporter",
			"$HOME/.nutanix-exporter",
		},
		envPrefix: "PRISMFLOW",
	}
}

// WithConfigPaths adds additional config search paths
func (l *Loader) WithConfigPaths(paths ...string) *Loader {
	l.configPaths = append(l.configPaths, paths...)
	return l
}

// WithEnvPrefix sets the environment variable prefix
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load loads the configuration from file and environment
func (l *Loader) Load(configFile string) (*Config, error) {
	v := viper.New()

	// Set defaults
	l.setDefaults(v)

	// Configure file search
	v.SetConfigName("nutanix-exporter")
	v.SetConfigType("yaml")

	// Add config paths
	for _, path := range l.configPaths {
		expandedPath := os.ExpandEnv(path)
		v.AddConfigPath(expandedPath)
	}

	// If explicit config file provided, use it
	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults + env
	}
	l.configFileUsed = v.ConfigFileUsed()

	// Configure environment variables
	v.SetEnvPrefix(l.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Bind environment variables explicitly for nested configs
	l.bindEnvVars(v)

	// Unmarshal into config struct
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Synthesize targets from PRISM_IPS when the file defines none
	applyEnvTargets(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific file
func (l *Loader) LoadFromFile(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	return l.Load(absPath)
}

// ConfigFileUsed returns the path of the config file the last Load read,
// or an empty string when defaults and environment were used.
func (l *Loader) ConfigFileUsed() string {
	return l.configFileUsed
}

// setDefaults sets default values in viper
func (l *Loader) setDefaults(v *viper.Viper) {
	defaults := DefaultConfig()

	// Server
	v.SetDefault("server.listen_address", defaults.Server.ListenAddress)
	v.SetDefault("server.metrics_path", defaults.Server.MetricsPath)
	v.SetDefault("server.read_timeout", defaults.Server.ReadTimeout)
	v.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout)

	// Prism client
	v.SetDefault("prism.timeout", defaults.Prism.Timeout)
	v.SetDefault("prism.page_size", defaults.Prism.PageSize)
	v.SetDefault("prism.max_pages", defaults.Prism.MaxPages)
	v.SetDefault("prism.tls_skip_verify", defaults.Prism.TLSSkipVerify)
	v.SetDefault("prism.retry.max_attempts", defaults.Prism.Retry.MaxAttempts)
	v.SetDefault("prism.retry.initial_backoff", defaults.Prism.Retry.InitialBackoff)
	v.SetDefault("prism.retry.max_backoff", defaults.Prism.Retry.MaxBackoff)

	// Polling
	v.SetDefault("poll.interval", defaults.Poll.Interval)
	v.SetDefault("poll.degraded_threshold", defaults.Poll.DegradedThreshold)

	// Forwarding
	v.SetDefault("forward.enabled", defaults.Forward.Enabled)
	v.SetDefault("forward.endpoint", defaults.Forward.Endpoint)
	v.SetDefault("forward.protocol", defaults.Forward.Protocol)
	v.SetDefault("forward.interval", defaults.Forward.Interval)
	v.SetDefault("forward.timeout", defaults.Forward.Timeout)
	v.SetDefault("forward.compression", defaults.Forward.Compression)

	// Logging
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)
}

// bindEnvVars explicitly binds environment variables
func (l *Loader) bindEnvVars(v *viper.Viper) {
	// Critical env vars that need explicit binding. PRISM_USER and
	// PRISM_PASS keep credentials out of config files.
	envBindings := map[string]string{
		"prism.username":        "PRISM_USER",
		"prism.password":        "PRISM_PASS",
		"server.listen_address": "PRISMFLOW_LISTEN_ADDRESS",
		"poll.interval":         "PRISMFLOW_POLL_INTERVAL",
		"forward.endpoint":      "PRISMFLOW_OTLP_ENDPOINT",
		"logging.level":         "PRISMFLOW_LOG_LEVEL",
		"logging.format":        "PRISMFLOW_LOG_FORMAT",
	}

	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
}

// applyEnvTargets fills the target list from PRISM_IPS when the loaded
// configuration has none. Entries are bare hosts or IPs; each becomes an
// https target on the standard Prism port 9440. Entries carrying a scheme
// are taken as full base URLs.
func applyEnvTargets(cfg *Config) {
	if len(cfg.Targets) > 0 {
		return
	}
	raw := os.Getenv(envTargetList)
	if raw == "" {
		return
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		t := TargetConfig{Name: entry, URL: entry}
		if !strings.Contains(entry, "://") {
			t.URL = fmt.Sprintf("https://%s:9440", entry)
		}
		cfg.Targets = append(cfg.Targets, t)
	}
}
