// Package config loads the broker configuration from YAML, with
// environment overrides for secrets so they never have to live in the
// config file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Storage   StorageConfig   `yaml:"storage"`
	Canvas    CanvasConfig    `yaml:"canvas"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig describes how the broker presents itself and listens.
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	// Transport is "stdio" or "http".
	Transport string `yaml:"transport"`
	// Listen is the HTTP bind address, used when Transport is "http"
	// and for the OAuth endpoints.
	Listen string `yaml:"listen"`
	// LogoURL is shown on the approval dialog.
	LogoURL string `yaml:"logoUrl"`
	// Description is shown on the approval dialog.
	Description string `yaml:"description"`
}

// AuthConfig configures the approval flow.
type AuthConfig struct {
	// MasterSecret derives the credential encryption key. Override with
	// MCP_CANVAS_MASTER_SECRET.
	MasterSecret string `yaml:"masterSecret"`
	// CookieSecret signs CSRF and approval cookies. Override with
	// MCP_CANVAS_COOKIE_SECRET.
	CookieSecret string `yaml:"cookieSecret"`
	// RateLimit is authorize-endpoint requests per second per IP.
	// Zero disables limiting.
	RateLimit int `yaml:"rateLimit"`
	// CredentialTTL bounds how long stored credentials live.
	CredentialTTL time.Duration `yaml:"credentialTtl"`
	// Upstream enables the federated-identity path when set.
	Upstream *UpstreamConfig `yaml:"upstream"`
	// Clients are OAuth clients registered with the built-in provider
	// at startup.
	Clients []ClientConfig `yaml:"clients"`
}

// ClientConfig declares an OAuth client in the config file.
type ClientConfig struct {
	ClientID     string   `yaml:"clientId"`
	ClientName   string   `yaml:"clientName"`
	ClientURI    string   `yaml:"clientUri"`
	LogoURI      string   `yaml:"logoUri"`
	RedirectURIs []string `yaml:"redirectUris"`
}

// UpstreamConfig points at the federated identity provider.
type UpstreamConfig struct {
	ClientID string `yaml:"clientId"`
	// ClientSecret can be overridden with MCP_CANVAS_UPSTREAM_CLIENT_SECRET.
	ClientSecret string   `yaml:"clientSecret"`
	AuthorizeURL string   `yaml:"authorizeUrl"`
	TokenURL     string   `yaml:"tokenUrl"`
	UserInfoURL  string   `yaml:"userInfoUrl"`
	RedirectURI  string   `yaml:"redirectUri"`
	Scopes       []string `yaml:"scopes"`
}

// StorageConfig selects the KV backend.
type StorageConfig struct {
	// Backend is "memory" or "redis".
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr string `yaml:"addr"`
	// Password can be overridden with MCP_CANVAS_REDIS_PASSWORD.
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CanvasConfig tunes the outbound Canvas client.
type CanvasConfig struct {
	MaxRetries int           `yaml:"maxRetries"`
	RetryDelay time.Duration `yaml:"retryDelay"`
}

// LoggingConfig tunes the structured logger.
type LoggingConfig struct {
	// Level is "debug", "info", "warn", or "error".
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// TelemetryConfig toggles OpenTelemetry instrumentation.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns a configuration suitable for local stdio use.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:      "mcp-canvas",
			Version:   "dev",
			Transport: "stdio",
			Listen:    ":8080",
		},
		Auth: AuthConfig{
			RateLimit: 10,
		},
		Storage: StorageConfig{
			Backend: "memory",
			Redis:   RedisConfig{Addr: "localhost:6379"},
		},
		Canvas: CanvasConfig{
			MaxRetries: 3,
			RetryDelay: time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path (optional) over the defaults and applies environment
// overrides for secrets.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MCP_CANVAS_MASTER_SECRET"); v != "" {
		c.Auth.MasterSecret = v
	}
	if v := os.Getenv("MCP_CANVAS_COOKIE_SECRET"); v != "" {
		c.Auth.CookieSecret = v
	}
	if v := os.Getenv("MCP_CANVAS_REDIS_PASSWORD"); v != "" {
		c.Storage.Redis.Password = v
	}
	if c.Auth.Upstream != nil {
		if v := os.Getenv("MCP_CANVAS_UPSTREAM_CLIENT_SECRET"); v != "" {
			c.Auth.Upstream.ClientSecret = v
		}
	}
}

// Validate checks the fields every deployment needs.
func (c *Config) Validate() error {
	if c.Auth.MasterSecret == "" {
		return fmt.Errorf("config: auth.masterSecret (or MCP_CANVAS_MASTER_SECRET) is required")
	}
	if c.Auth.CookieSecret == "" {
		return fmt.Errorf("config: auth.cookieSecret (or MCP_CANVAS_COOKIE_SECRET) is required")
	}
	switch c.Server.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("config: unknown server.transport %q", c.Server.Transport)
	}
	switch c.Storage.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "redis" && c.Storage.Redis.Addr == "" {
		return fmt.Errorf("config: storage.redis.addr is required for the redis backend")
	}
	if up := c.Auth.Upstream; up != nil {
		if up.ClientID == "" || up.ClientSecret == "" {
			return fmt.Errorf("config: upstream clientId and clientSecret are required")
		}
		if up.AuthorizeURL == "" || up.TokenURL == "" || up.UserInfoURL == "" {
			return fmt.Errorf("config: upstream authorizeUrl, tokenUrl and userInfoUrl are required")
		}
	}
	return nil
}
