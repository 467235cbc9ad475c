// Package config holds the probe's typed configuration. Values come from a
// YAML file, WFLATENCY_* environment variables and command-line flags,
// merged by viper in that order of precedence (flags win).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/psantana5/wflatency/internal/gateway"
	"github.com/psantana5/wflatency/internal/teardown"
	"github.com/psantana5/wflatency/internal/tlsutil"
	"github.com/psantana5/wflatency/internal/tracing"
	"github.com/psantana5/wflatency/pkg/models"
)

// EnvPrefix is prepended to every environment variable viper reads
const EnvPrefix = "WFLATENCY"

// Backends
const (
	BackendREST   = "rest"
	BackendMemory = "memory"
)

// Config is the effective configuration of one invocation
type Config struct {
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`
	// LogFile writes logs under the log directory in addition to stderr
	LogFile bool `mapstructure:"log_file" yaml:"log_file"`

	Backend  string `mapstructure:"backend" yaml:"backend"`
	Username string `mapstructure:"username" yaml:"username,omitempty"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	Token    string `mapstructure:"token" yaml:"token,omitempty"`

	HTTP     HTTPConfig     `mapstructure:"http" yaml:"http"`
	Teardown TeardownConfig `mapstructure:"teardown" yaml:"teardown"`

	// Subscriptions maps generation names to the subscription that marks
	// the generation active on the trigger container
	Subscriptions map[string]string `mapstructure:"subscriptions" yaml:"subscriptions"`

	Metrics   MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	ResultsDB string         `mapstructure:"results_db" yaml:"results_db,omitempty"`
	Tracing   tracing.Config `mapstructure:"tracing" yaml:"tracing"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// HTTPConfig tunes the REST gateway session
type HTTPConfig struct {
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
	PageSize          int           `mapstructure:"page_size" yaml:"page_size"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`

	CAFile             string `mapstructure:"ca_file" yaml:"ca_file,omitempty"`
	ClientCert         string `mapstructure:"client_cert" yaml:"client_cert,omitempty"`
	ClientKey          string `mapstructure:"client_key" yaml:"client_key,omitempty"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify,omitempty"`
}

// TeardownConfig tunes cleanup
type TeardownConfig struct {
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`
}

// MetricsConfig controls Prometheus exposure of round measurements
type MetricsConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr,omitempty"`
	Textfile string `mapstructure:"textfile" yaml:"textfile,omitempty"`
	TLSCert  string `mapstructure:"tls_cert" yaml:"tls_cert,omitempty"`
	TLSKey   string `mapstructure:"tls_key" yaml:"tls_key,omitempty"`
}

// Default returns the built-in configuration
func Default() Config {
	opts := gateway.DefaultOptions()
	return Config{
		LogLevel:  "info",
		LogFormat: "text",
		Backend:   BackendREST,
		HTTP: HTTPConfig{
			Timeout:           opts.Timeout,
			RequestsPerSecond: opts.RequestsPerSecond,
			Burst:             opts.Burst,
			PageSize:          opts.PageSize,
			UserAgent:         opts.UserAgent,
		},
		Teardown: TeardownConfig{BatchSize: teardown.DefaultBatchSize},
		Subscriptions: map[string]string{
			string(models.GenA): "WF2010",
			string(models.GenB): "WF2013",
		},
		Tracing: tracing.Config{
			ServiceName:  "wflatency",
			Environment:  "development",
			OTLPEndpoint: "localhost:4318",
		},
		ShutdownTimeout: 10 * time.Second,
	}
}

// SetDefaults registers Default() with viper so that every key is known to
// AutomaticEnv and Unmarshal
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("backend", d.Backend)
	v.SetDefault("username", "")
	v.SetDefault("password", "")
	v.SetDefault("token", "")
	v.SetDefault("http.timeout", d.HTTP.Timeout)
	v.SetDefault("http.requests_per_second", d.HTTP.RequestsPerSecond)
	v.SetDefault("http.burst", d.HTTP.Burst)
	v.SetDefault("http.page_size", d.HTTP.PageSize)
	v.SetDefault("http.user_agent", d.HTTP.UserAgent)
	v.SetDefault("http.ca_file", "")
	v.SetDefault("http.client_cert", "")
	v.SetDefault("http.client_key", "")
	v.SetDefault("http.insecure_skip_verify", false)
	v.SetDefault("teardown.batch_size", d.Teardown.BatchSize)
	v.SetDefault("subscriptions", d.Subscriptions)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("metrics.tls_cert", "")
	v.SetDefault("metrics.tls_key", "")
	v.SetDefault("results_db", "")
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.environment", d.Tracing.Environment)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
}

// Configure prepares v to read WFLATENCY_* variables, mapping nested keys
// such as http.timeout to WFLATENCY_HTTP_TIMEOUT
func Configure(v *viper.Viper) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes and validates the configuration held by v
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations
func (c Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error", "fatal":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log_format %q (want text or json)", c.LogFormat)
	}
	switch c.Backend {
	case BackendREST, BackendMemory:
	default:
		return fmt.Errorf("invalid backend %q (want %s or %s)", c.Backend, BackendREST, BackendMemory)
	}
	if c.Teardown.BatchSize <= 0 {
		return fmt.Errorf("teardown.batch_size must be positive, got %d", c.Teardown.BatchSize)
	}
	if c.HTTP.PageSize <= 0 {
		return fmt.Errorf("http.page_size must be positive, got %d", c.HTTP.PageSize)
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be positive, got %s", c.HTTP.Timeout)
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return fmt.Errorf("http.requests_per_second must not be negative")
	}
	if (c.Metrics.TLSCert == "") != (c.Metrics.TLSKey == "") {
		return fmt.Errorf("metrics.tls_cert and metrics.tls_key must be set together")
	}
	for name := range c.Subscriptions {
		if _, err := models.ParseGeneration(name); err != nil {
			return fmt.Errorf("invalid subscriptions key: %w", err)
		}
	}
	return nil
}

// SubscriptionNames returns the subscription name per generation, falling
// back to the defaults for generations not configured
func (c Config) SubscriptionNames() map[models.Generation]string {
	out := make(map[models.Generation]string, len(models.Generations))
	for k, v := range Default().Subscriptions {
		out[models.Generation(k)] = v
	}
	for k, v := range c.Subscriptions {
		if gen, err := models.ParseGeneration(k); err == nil && v != "" {
			out[gen] = v
		}
	}
	return out
}

// ClientTLS returns the TLS options for the site connection
func (c Config) ClientTLS() tlsutil.ClientOptions {
	return tlsutil.ClientOptions{
		CAFile:             c.HTTP.CAFile,
		CertFile:           c.HTTP.ClientCert,
		KeyFile:            c.HTTP.ClientKey,
		InsecureSkipVerify: c.HTTP.InsecureSkipVerify,
	}
}

// GatewayOptions converts the HTTP section for the REST gateway
func (c Config) GatewayOptions() gateway.Options {
	opts := gateway.DefaultOptions()
	opts.Timeout = c.HTTP.Timeout
	opts.RequestsPerSecond = c.HTTP.RequestsPerSecond
	opts.Burst = c.HTTP.Burst
	opts.PageSize = c.HTTP.PageSize
	if c.HTTP.UserAgent != "" {
		opts.UserAgent = c.HTTP.UserAgent
	}
	return opts
}

// Redacted returns a copy safe to print
func (c Config) Redacted() Config {
	if c.Password != "" {
		c.Password = "********"
	}
	if c.Token != "" {
		c.Token = "********"
	}
	return c
}

// ExampleConfig is printed by `config example`
const ExampleConfig = `# wflatency configuration
# Every key can also be set through the environment, e.g. WFLATENCY_LOG_LEVEL
# or WFLATENCY_HTTP_TIMEOUT. Credentials are best kept in the environment
# (WFLATENCY_USERNAME, WFLATENCY_PASSWORD or WFLATENCY_TOKEN) or a .env file.

log_level: info          # debug, info, warn, error
log_format: text         # text or json
log_file: false          # also write logs to /var/log/wflatency (or ./logs)

backend: rest            # rest, or memory for a dry run against a simulated site

http:
  timeout: 30s
  requests_per_second: 10
  burst: 5
  page_size: 500
  user_agent: wflatency
  # ca_file: /etc/ssl/certs/corp-root.pem     # extra CA for on-premises sites
  # client_cert: /etc/wflatency/client.pem
  # client_key: /etc/wflatency/client-key.pem
  # insecure_skip_verify: false

teardown:
  batch_size: 250

# Subscription names that mark each workflow generation active
subscriptions:
  wf2010: WF2010
  wf2013: WF2013

metrics:
  addr: ":9108"                                  # serve /metrics, /healthz and /anomalies
  textfile: /var/lib/node_exporter/wflatency.prom
  # tls_cert: /etc/wflatency/metrics.pem         # serve metrics over HTTPS
  # tls_key: /etc/wflatency/metrics-key.pem

# SQLite path or postgres:// DSN; every measured round is stored
results_db: wflatency.db

tracing:
  enabled: false
  service_name: wflatency
  environment: production
  otlp_endpoint: localhost:4318

shutdown_timeout: 10s
`
