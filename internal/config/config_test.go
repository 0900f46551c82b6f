package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Transport != "stdio" {
		t.Errorf("Transport = %q, want stdio", cfg.Server.Transport)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("Backend = %q, want memory", cfg.Storage.Backend)
	}
	if cfg.Canvas.MaxRetries != 3 || cfg.Canvas.RetryDelay != time.Second {
		t.Errorf("Canvas defaults = %+v", cfg.Canvas)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging defaults = %+v", cfg.Logging)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  transport: http
  listen: ":9090"
auth:
  masterSecret: file-master
  cookieSecret: file-cookie
  clients:
    - clientId: client-a
      clientName: Test App
      redirectUris:
        - https://app.example/cb
storage:
  backend: redis
  redis:
    addr: redis.internal:6379
canvas:
  maxRetries: 5
  retryDelay: 250ms
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Transport != "http" || cfg.Server.Listen != ":9090" {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Auth.MasterSecret != "file-master" {
		t.Errorf("MasterSecret = %q", cfg.Auth.MasterSecret)
	}
	if len(cfg.Auth.Clients) != 1 || cfg.Auth.Clients[0].ClientID != "client-a" {
		t.Errorf("Clients = %+v", cfg.Auth.Clients)
	}
	if cfg.Storage.Backend != "redis" || cfg.Storage.Redis.Addr != "redis.internal:6379" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Canvas.MaxRetries != 5 || cfg.Canvas.RetryDelay != 250*time.Millisecond {
		t.Errorf("Canvas = %+v", cfg.Canvas)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	// File omitted the server name, the default survives.
	if cfg.Server.Name != "mcp-canvas" {
		t.Errorf("Name = %q, default was lost", cfg.Server.Name)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfigFile(t, `
auth:
  masterSecret: file-master
  cookieSecret: file-cookie
  upstream:
    clientId: broker
    clientSecret: file-upstream
    authorizeUrl: https://idp.example/authorize
    tokenUrl: https://idp.example/token
    userInfoUrl: https://idp.example/user
`)

	t.Setenv("MCP_CANVAS_MASTER_SECRET", "env-master")
	t.Setenv("MCP_CANVAS_COOKIE_SECRET", "env-cookie")
	t.Setenv("MCP_CANVAS_UPSTREAM_CLIENT_SECRET", "env-upstream")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.MasterSecret != "env-master" {
		t.Errorf("MasterSecret = %q, want env override", cfg.Auth.MasterSecret)
	}
	if cfg.Auth.CookieSecret != "env-cookie" {
		t.Errorf("CookieSecret = %q, want env override", cfg.Auth.CookieSecret)
	}
	if cfg.Auth.Upstream.ClientSecret != "env-upstream" {
		t.Errorf("Upstream.ClientSecret = %q, want env override", cfg.Auth.Upstream.ClientSecret)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("MCP_CANVAS_MASTER_SECRET", "env-master")
	t.Setenv("MCP_CANVAS_COOKIE_SECRET", "env-cookie")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Transport != "stdio" {
		t.Errorf("Transport = %q, want default stdio", cfg.Server.Transport)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load() succeeded for a missing file")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := Default()
		cfg.Auth.MasterSecret = "m"
		cfg.Auth.CookieSecret = "c"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing master secret", func(c *Config) { c.Auth.MasterSecret = "" }, "masterSecret"},
		{"missing cookie secret", func(c *Config) { c.Auth.CookieSecret = "" }, "cookieSecret"},
		{"bad transport", func(c *Config) { c.Server.Transport = "grpc" }, "transport"},
		{"bad backend", func(c *Config) { c.Storage.Backend = "dynamo" }, "backend"},
		{"redis without addr", func(c *Config) {
			c.Storage.Backend = "redis"
			c.Storage.Redis.Addr = ""
		}, "redis.addr"},
		{"incomplete upstream", func(c *Config) {
			c.Auth.Upstream = &UpstreamConfig{ClientID: "broker"}
		}, "clientSecret"},
		{"upstream without endpoints", func(c *Config) {
			c.Auth.Upstream = &UpstreamConfig{ClientID: "broker", ClientSecret: "s"}
		}, "authorizeUrl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
