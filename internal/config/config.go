// Package config handles loading and validation of service configuration.
// Supports both development (env vars or a config file) and production
// (Secret Manager) modes.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	json "github.com/goccy/go-json"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"cartsync/internal/model"
	"cartsync/internal/telemetry"
	"cartsync/internal/transport"
	"cartsync/internal/wordpress"
)

// Config holds all service configuration.
// Environment determines whether the store settings load from env vars
// (development) or Secret Manager (production).
type Config struct {
	// Server settings
	Port        string
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"

	// GCP settings (required in production)
	GCPProject string
	StoreID    string

	// Store binding (loaded from secrets in production)
	Store StoreConfig

	Engine EngineConfig

	// MinClientVersion rejects Cart-Client versions below it; empty disables the check.
	MinClientVersion string

	// Per remote address request rate; zero disables limiting.
	RateLimit float64
	RateBurst int

	Telemetry telemetry.Config
}

// StoreConfig describes the storefront a session binds to.
// In production, this is loaded from Secret Manager as JSON.
type StoreConfig struct {
	StoreURL  string            `json:"store_url" yaml:"store_url"`
	CartPath  string            `json:"cart_path,omitempty" yaml:"cart_path"`
	AjaxPath  string            `json:"ajax_path,omitempty" yaml:"ajax_path"`
	RestPath  string            `json:"rest_path,omitempty" yaml:"rest_path"`
	Actions   wordpress.Actions `json:"actions" yaml:"actions"`
	Currency  model.Currency    `json:"currency" yaml:"currency"`
	Transport string            `json:"transport,omitempty" yaml:"transport"` // "chrome" or "standard"
	Timeout   Duration          `json:"timeout,omitempty" yaml:"timeout"`

	// BasicAuth protects staging stores; "user:password".
	BasicAuth string `json:"basic_auth,omitempty" yaml:"basic_auth"`

	MinPluginVersion string `json:"min_plugin_version,omitempty" yaml:"min_plugin_version"`
}

// EngineConfig tunes the per-session state engine.
type EngineConfig struct {
	Cooldown        time.Duration
	MutationTimeout time.Duration
	SessionTTL      time.Duration
	MaxSessions     int
}

// Duration reads "300ms" style values from config files.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

const (
	defaultPort        = "8080"
	defaultCooldown    = 300 * time.Millisecond
	defaultTimeout     = 30 * time.Second
	defaultSessionTTL  = 30 * time.Minute
	defaultMaxSessions = 10000
	defaultRateBurst   = 20
)

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → ENV vars / Secret Manager.
// Validates all required fields and returns an error if any are missing.
func Load(ctx context.Context) (*Config, error) {
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	cfg := &Config{
		Port:             envOrDefault("PORT", defaultPort),
		Environment:      envOrDefault("ENVIRONMENT", "development"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		GCPProject:       os.Getenv("GCP_PROJECT"),
		StoreID:          os.Getenv("STORE_ID"),
		MinClientVersion: os.Getenv("MIN_CLIENT_VERSION"),
		Telemetry:        telemetry.DefaultConfig(),
	}

	var err error
	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		if cfg.StoreID == "" {
			return nil, fmt.Errorf("STORE_ID required in production environment")
		}
		err = cfg.loadFromSecretManager(ctx)
	} else {
		err = cfg.loadStoreFromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("loading store config: %w", err)
	}

	if err := cfg.loadTuningFromEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fileConfig matches the CONFIG_FILE layout.
type fileConfig struct {
	Port             string      `json:"port" yaml:"port"`
	Environment      string      `json:"environment" yaml:"environment"`
	LogLevel         string      `json:"log_level" yaml:"log_level"`
	StoreID          string      `json:"store_id" yaml:"store_id"`
	Store            StoreConfig `json:"store" yaml:"store"`
	Cooldown         Duration    `json:"cooldown" yaml:"cooldown"`
	MutationTimeout  Duration    `json:"mutation_timeout" yaml:"mutation_timeout"`
	SessionTTL       Duration    `json:"session_ttl" yaml:"session_ttl"`
	MaxSessions      int         `json:"max_sessions" yaml:"max_sessions"`
	MinClientVersion string      `json:"min_client_version" yaml:"min_client_version"`
	RateLimit        float64     `json:"rate_limit" yaml:"rate_limit"`
	RateBurst        int         `json:"rate_burst" yaml:"rate_burst"`
	Telemetry        struct {
		Enabled        bool     `json:"enabled" yaml:"enabled"`
		OTLPEndpoint   string   `json:"otlp_endpoint" yaml:"otlp_endpoint"`
		OTLPInsecure   bool     `json:"otlp_insecure" yaml:"otlp_insecure"`
		MetricInterval Duration `json:"metric_interval" yaml:"metric_interval"`
		ServiceName    string   `json:"service_name" yaml:"service_name"`
	} `json:"telemetry" yaml:"telemetry"`
}

// loadFromFile reads all configuration from a JSON or YAML file.
// Used for local development to avoid multiple ENV vars.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := &Config{
		Port:        withDefault(fc.Port, defaultPort),
		Environment: withDefault(fc.Environment, "development"),
		LogLevel:    withDefault(fc.LogLevel, "info"),
		StoreID:     fc.StoreID,
		Store:       fc.Store,
		Engine: EngineConfig{
			Cooldown:        time.Duration(fc.Cooldown),
			MutationTimeout: time.Duration(fc.MutationTimeout),
			SessionTTL:      time.Duration(fc.SessionTTL),
			MaxSessions:     fc.MaxSessions,
		},
		MinClientVersion: fc.MinClientVersion,
		RateLimit:        fc.RateLimit,
		RateBurst:        fc.RateBurst,
		Telemetry:        telemetry.DefaultConfig(),
	}
	cfg.Telemetry.Enabled = fc.Telemetry.Enabled
	cfg.Telemetry.OTLPInsecure = fc.Telemetry.OTLPInsecure
	cfg.Telemetry.OTLPEndpoint = withDefault(fc.Telemetry.OTLPEndpoint, cfg.Telemetry.OTLPEndpoint)
	cfg.Telemetry.ServiceName = withDefault(fc.Telemetry.ServiceName, cfg.Telemetry.ServiceName)
	if fc.Telemetry.MetricInterval > 0 {
		cfg.Telemetry.MetricInterval = time.Duration(fc.Telemetry.MetricInterval)
	}
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// loadFromSecretManager fetches the store config from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{store_id}/versions/latest
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, c.StoreID)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	if err := json.Unmarshal(result.Payload.Data, &c.Store); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}
	return nil
}

// loadStoreFromEnv reads the store binding from individual environment
// variables. Used in development mode for local testing.
func (c *Config) loadStoreFromEnv() error {
	c.Store = StoreConfig{
		StoreURL:         os.Getenv("STORE_URL"),
		CartPath:         os.Getenv("STORE_CART_PATH"),
		AjaxPath:         os.Getenv("STORE_AJAX_PATH"),
		RestPath:         os.Getenv("STORE_REST_PATH"),
		Transport:        os.Getenv("STORE_TRANSPORT"),
		BasicAuth:        os.Getenv("STORE_BASIC_AUTH"),
		MinPluginVersion: os.Getenv("MIN_PLUGIN_VERSION"),
	}

	if actionsJSON := os.Getenv("STORE_ACTIONS"); actionsJSON != "" {
		if err := json.Unmarshal([]byte(actionsJSON), &c.Store.Actions); err != nil {
			return fmt.Errorf("parsing STORE_ACTIONS JSON: %w", err)
		}
	}
	if currencyJSON := os.Getenv("STORE_CURRENCY"); currencyJSON != "" {
		if err := json.Unmarshal([]byte(currencyJSON), &c.Store.Currency); err != nil {
			return fmt.Errorf("parsing STORE_CURRENCY JSON: %w", err)
		}
	}
	timeout, err := envDuration("STORE_TIMEOUT", 0)
	if err != nil {
		return err
	}
	c.Store.Timeout = Duration(timeout)
	return nil
}

// loadTuningFromEnv reads the engine, rate limit and telemetry settings.
// These are not secret and load from env vars in every environment.
func (c *Config) loadTuningFromEnv() error {
	var err error
	if c.Engine.Cooldown, err = envDuration("CART_COOLDOWN", 0); err != nil {
		return err
	}
	if c.Engine.MutationTimeout, err = envDuration("MUTATION_TIMEOUT", 0); err != nil {
		return err
	}
	if c.Engine.SessionTTL, err = envDuration("SESSION_TTL", 0); err != nil {
		return err
	}
	if c.Engine.MaxSessions, err = envInt("MAX_SESSIONS", 0); err != nil {
		return err
	}
	if c.RateBurst, err = envInt("RATE_BURST", 0); err != nil {
		return err
	}
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		if c.RateLimit, err = strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("parsing RATE_LIMIT: %w", err)
		}
	}

	c.Telemetry.Enabled = os.Getenv("OTEL_ENABLED") == "true"
	c.Telemetry.OTLPEndpoint = envOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = envOrDefault("OTEL_SERVICE_NAME", c.Telemetry.ServiceName)
	return nil
}

func (c *Config) applyDefaults() {
	if c.Store.Transport == "" {
		c.Store.Transport = string(transport.ModeChrome)
	}
	if c.Store.Timeout <= 0 {
		c.Store.Timeout = Duration(defaultTimeout)
	}
	if c.Engine.Cooldown <= 0 {
		c.Engine.Cooldown = defaultCooldown
	}
	if c.Engine.MutationTimeout <= 0 {
		c.Engine.MutationTimeout = defaultTimeout
	}
	if c.Engine.SessionTTL <= 0 {
		c.Engine.SessionTTL = defaultSessionTTL
	}
	if c.Engine.MaxSessions <= 0 {
		c.Engine.MaxSessions = defaultMaxSessions
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		c.RateBurst = defaultRateBurst
	}
	c.Telemetry.Environment = c.Environment
}

// validate checks that all required configuration fields are present.
func (c *Config) validate() error {
	if c.Store.StoreURL == "" {
		return fmt.Errorf("store_url is required")
	}
	u, err := url.Parse(c.Store.StoreURL)
	if err != nil {
		return fmt.Errorf("invalid store_url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid store_url: %q is not an absolute http(s) URL", c.Store.StoreURL)
	}

	switch transport.Mode(c.Store.Transport) {
	case transport.ModeChrome, transport.ModeStandard:
	default:
		return fmt.Errorf("transport must be %q or %q, got %q", transport.ModeChrome, transport.ModeStandard, c.Store.Transport)
	}

	if c.Store.BasicAuth != "" && !strings.Contains(c.Store.BasicAuth, ":") {
		return fmt.Errorf("basic_auth must be user:password")
	}

	if !validVersion(c.Store.MinPluginVersion) {
		return fmt.Errorf("invalid min_plugin_version %q", c.Store.MinPluginVersion)
	}
	if !validVersion(c.MinClientVersion) {
		return fmt.Errorf("invalid min_client_version %q", c.MinClientVersion)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}

	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	return nil
}

// validVersion accepts an empty value or a semantic version with or without
// the leading v.
func validVersion(v string) bool {
	if v == "" {
		return true
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.IsValid(v)
}

// StoreClient builds the storefront client configuration for one session.
func (c *Config) StoreClient(logger *slog.Logger) wordpress.Config {
	timeout := time.Duration(c.Store.Timeout)
	return wordpress.Config{
		StoreURL:         strings.TrimSuffix(c.Store.StoreURL, "/"),
		CartPath:         c.Store.CartPath,
		AjaxPath:         c.Store.AjaxPath,
		RestPath:         c.Store.RestPath,
		Actions:          c.Store.Actions,
		Currency:         c.Store.Currency,
		Transport:        transport.New(transport.Mode(c.Store.Transport), timeout),
		Timeout:          timeout,
		BasicAuth:        c.Store.BasicAuth,
		MinPluginVersion: c.Store.MinPluginVersion,
		Logger:           logger,
	}
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return d, nil
}

func envInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return n, nil
}
