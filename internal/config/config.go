package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Cognito CognitoConfig `yaml:"cognito"`
	API     APIConfig     `yaml:"api"`
	Session SessionConfig `yaml:"session"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port            int            `yaml:"port"`
	Host            string         `yaml:"host"`
	BaseURL         string         `yaml:"base_url"` // Optional: public URL when behind a proxy
	ReadTimeout     time.Duration  `yaml:"read_timeout"`
	WriteTimeout    time.Duration  `yaml:"write_timeout"`
	IdleTimeout     time.Duration  `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration  `yaml:"shutdown_timeout"`
	Security        SecurityConfig `yaml:"security"`
}

// SecurityConfig contains security-related settings
type SecurityConfig struct {
	CSRFEnabled     bool                  `yaml:"csrf_enabled"`
	CSRFFieldName   string                `yaml:"csrf_field_name"`
	MaxRequestBytes int64                 `yaml:"max_request_bytes"`
	Headers         SecurityHeadersConfig `yaml:"headers"`
}

// SecurityHeadersConfig contains HTTP security header settings
type SecurityHeadersConfig struct {
	XFrameOptions           string `yaml:"x_frame_options"`
	XContentTypeOptions     string `yaml:"x_content_type_options"`
	ReferrerPolicy          string `yaml:"referrer_policy"`
	ContentSecurityPolicy   string `yaml:"content_security_policy"`
	StrictTransportSecurity string `yaml:"strict_transport_security"`
}

// CognitoConfig identifies the user pool and app client
type CognitoConfig struct {
	UserPoolID    string `yaml:"user_pool_id"`
	ClientID      string `yaml:"client_id"`
	ClientSecret  string `yaml:"client_secret"` // Only for app clients created with a secret
	Region        string `yaml:"region"`
	GlobalSignOut bool   `yaml:"global_sign_out"`
}

// APIConfig describes the backend serving the protected resource
type APIConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	ProtectedPath string        `yaml:"protected_path"`
	Timeout       time.Duration `yaml:"timeout"` // 0 keeps the HTTP client default
}

// SessionConfig contains browser session settings
type SessionConfig struct {
	Secret         string        `yaml:"secret"`
	MaxAge         int           `yaml:"max_age"`
	CookieSecure   string        `yaml:"cookie_secure"`   // "auto", "true", "false"
	CookieSameSite string        `yaml:"cookie_samesite"` // "strict", "lax", "none"
	ProbeWait      time.Duration `yaml:"probe_wait"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	CacheSize      int           `yaml:"cache_size"`
}

// StorageConfig selects where provider tokens are kept
type StorageConfig struct {
	Driver   string        `yaml:"driver"` // "sqlite", "redis", "memory"
	DBPath   string        `yaml:"db_path"`
	RedisURL string        `yaml:"redis_url"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// LoggingConfig controls the zap logger
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// MissingError is returned when required settings are absent.
// Vars holds the environment variable names that would satisfy them.
type MissingError struct {
	Vars []string
}

func (e *MissingError) Error() string {
	return "missing required environment variables: " + strings.Join(e.Vars, ", ")
}

// envBinding ties an environment variable to a string setting
type envBinding struct {
	name     string
	required bool
	target   func(*Config) *string
}

var envBindings = []envBinding{
	{"COGNITO_USER_POOL_ID", true, func(c *Config) *string { return &c.Cognito.UserPoolID }},
	{"COGNITO_CLIENT_ID", true, func(c *Config) *string { return &c.Cognito.ClientID }},
	{"API_ENDPOINT", true, func(c *Config) *string { return &c.API.Endpoint }},
	{"AWS_REGION", true, func(c *Config) *string { return &c.Cognito.Region }},
	{"SESSION_SECRET", true, func(c *Config) *string { return &c.Session.Secret }},
	{"COGNITO_CLIENT_SECRET", false, func(c *Config) *string { return &c.Cognito.ClientSecret }},
	{"BASE_URL", false, func(c *Config) *string { return &c.Server.BaseURL }},
	{"HOST", false, func(c *Config) *string { return &c.Server.Host }},
	{"STORAGE_DRIVER", false, func(c *Config) *string { return &c.Storage.Driver }},
	{"DB_PATH", false, func(c *Config) *string { return &c.Storage.DBPath }},
	{"REDIS_URL", false, func(c *Config) *string { return &c.Storage.RedisURL }},
	{"LOG_LEVEL", false, func(c *Config) *string { return &c.Logging.Level }},
	{"LOG_FORMAT", false, func(c *Config) *string { return &c.Logging.Format }},
}

// Default returns a configuration with every optional setting filled in
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Host:            "localhost",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Security: SecurityConfig{
				CSRFEnabled:     true,
				CSRFFieldName:   "csrf_token",
				MaxRequestBytes: 1 << 20,
				Headers: SecurityHeadersConfig{
					XFrameOptions:           "DENY",
					XContentTypeOptions:     "nosniff",
					ReferrerPolicy:          "strict-origin-when-cross-origin",
					ContentSecurityPolicy:   "default-src 'self'; style-src 'self' 'unsafe-inline'",
					StrictTransportSecurity: "max-age=31536000; includeSubDomains",
				},
			},
		},
		API: APIConfig{
			ProtectedPath: "/protected",
		},
		Session: SessionConfig{
			MaxAge:         7 * 24 * 60 * 60,
			CookieSecure:   "auto",
			CookieSameSite: "lax",
			ProbeWait:      2 * time.Second,
			ProbeTimeout:   10 * time.Second,
			CacheSize:      1024,
		},
		Storage: StorageConfig{
			Driver:   "sqlite",
			DBPath:   "./data/authweb.db",
			TokenTTL: 30 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration from an optional YAML file and the environment.
// An empty path skips the file. Environment variables win over file values.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Expand environment variables in the config
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	for _, b := range envBindings {
		if v := os.Getenv(b.name); v != "" {
			*b.target(c) = v
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("PORT must be a number: %w", err)
		}
		c.Server.Port = p
	}

	return nil
}

// Validate checks that all required configuration fields are set.
// Every missing required setting is reported at once.
func (c *Config) Validate() error {
	var missing []string
	for _, b := range envBindings {
		if !b.required {
			continue
		}
		v := *b.target(c)
		if v == "" || strings.Contains(v, "${") {
			missing = append(missing, b.name)
		}
	}
	if len(missing) > 0 {
		return &MissingError{Vars: missing}
	}

	if len(c.Session.Secret) < 32 {
		return errors.New("session secret must be at least 32 characters")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if !strings.HasPrefix(c.API.ProtectedPath, "/") {
		return errors.New("api.protected_path must start with /")
	}

	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.DBPath == "" {
			return errors.New("storage.db_path is required for the sqlite driver")
		}
	case "redis":
		if c.Storage.RedisURL == "" {
			return errors.New("storage.redis_url is required for the redis driver (set REDIS_URL)")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}

	if c.Session.CacheSize < 1 {
		return errors.New("session.cache_size must be at least 1")
	}

	return nil
}

// GetAddr returns the full server address (host:port)
func (c *Config) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetBaseURL returns the public base URL.
// Uses base_url if set, otherwise constructs from host:port
func (c *Config) GetBaseURL() string {
	if c.Server.BaseURL != "" {
		return c.Server.BaseURL
	}
	return fmt.Sprintf("http://%s", c.GetAddr())
}

// IsHTTPS returns true if the base URL uses HTTPS
func (c *Config) IsHTTPS() bool {
	return strings.HasPrefix(strings.ToLower(c.GetBaseURL()), "https://")
}

// CookieSecure resolves the cookie_secure setting, "auto" follows the base URL scheme
func (c *Config) CookieSecure() bool {
	switch strings.ToLower(c.Session.CookieSecure) {
	case "true":
		return true
	case "false":
		return false
	default:
		return c.IsHTTPS()
	}
}

// CookieSameSite maps the cookie_samesite setting to net/http
func (c *Config) CookieSameSite() http.SameSite {
	switch strings.ToLower(c.Session.CookieSameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
