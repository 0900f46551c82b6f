package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/edutools/mcp-canvas/auth"
	"github.com/edutools/mcp-canvas/canvas"
	"github.com/edutools/mcp-canvas/instrumentation"
	"github.com/edutools/mcp-canvas/internal/config"
	"github.com/edutools/mcp-canvas/internal/provider"
	"github.com/edutools/mcp-canvas/security"
	"github.com/edutools/mcp-canvas/storage"
	memorystore "github.com/edutools/mcp-canvas/storage/memory"
	redisstore "github.com/edutools/mcp-canvas/storage/redis"
	"github.com/edutools/mcp-canvas/tools"
	"github.com/edutools/mcp-canvas/vault"
)

// localUserID identifies the single user of a stdio deployment. Multi-user
// identity resolution belongs to the hosting layer and arrives through the
// federated flow.
const localUserID = "local"

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server and OAuth approval endpoints",
	Long: `Starts the Canvas MCP broker. The MCP tool surface is served over
stdio (default) or streamable HTTP, and the OAuth approval endpoints
(/authorize, /callback) are served over HTTP on the configured listen
address.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "path to the YAML config file")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return err
	}

	logger := buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:    cfg.Server.Name,
		ServiceVersion: version,
		Enabled:        cfg.Telemetry.Enabled,
	})
	if err != nil {
		return fmt.Errorf("init instrumentation: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := inst.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Instrumentation shutdown failed", "error", err)
		}
	}()

	kv, cleanup, err := buildStorage(cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	vaultOpts := []vault.Option{vault.WithLogger(logger), vault.WithInstrumentation(inst)}
	if cfg.Auth.CredentialTTL > 0 {
		vaultOpts = append(vaultOpts, vault.WithTTL(cfg.Auth.CredentialTTL))
	}
	credentialVault, err := vault.New(kv, cfg.Auth.MasterSecret, vaultOpts...)
	if err != nil {
		return fmt.Errorf("init vault: %w", err)
	}

	authorizer, err := provider.New(kv, logger)
	if err != nil {
		return fmt.Errorf("init provider: %w", err)
	}
	for _, client := range cfg.Auth.Clients {
		err := authorizer.RegisterClient(ctx, provider.Client{
			ClientID:     client.ClientID,
			ClientName:   client.ClientName,
			ClientURI:    client.ClientURI,
			LogoURI:      client.LogoURI,
			RedirectURIs: client.RedirectURIs,
		})
		if err != nil {
			return fmt.Errorf("register client %s: %w", client.ClientID, err)
		}
	}

	var upstream *auth.Upstream
	if up := cfg.Auth.Upstream; up != nil {
		upstream, err = auth.NewUpstream(auth.UpstreamConfig{
			ClientID:     up.ClientID,
			ClientSecret: up.ClientSecret,
			AuthURL:      up.AuthorizeURL,
			TokenURL:     up.TokenURL,
			UserInfoURL:  up.UserInfoURL,
			RedirectURL:  up.RedirectURI,
			Scopes:       up.Scopes,
		})
		if err != nil {
			return fmt.Errorf("init upstream: %w", err)
		}
	}

	auditor := security.NewAuditor(logger, true)

	flow, err := auth.NewFlow(auth.Config{
		Authorizer:      authorizer,
		Vault:           credentialVault,
		Store:           kv,
		CookieSecret:    cfg.Auth.CookieSecret,
		Upstream:        upstream,
		Server:          auth.ServerInfo{Name: cfg.Server.Name, LogoURL: cfg.Server.LogoURL, Description: cfg.Server.Description},
		RateLimit:       cfg.Auth.RateLimit,
		Logger:          logger,
		Auditor:         auditor,
		Instrumentation: inst,
	})
	if err != nil {
		return fmt.Errorf("init approval flow: %w", err)
	}
	defer flow.Close()

	toolbox, err := tools.New(tools.Config{
		Vault:    credentialVault,
		Identity: func(context.Context) string { return localUserID },
		Logger:   logger,
		Auditor:  auditor,
		ClientOptions: []canvas.Option{
			canvas.WithMaxRetries(cfg.Canvas.MaxRetries),
			canvas.WithRetryDelay(cfg.Canvas.RetryDelay),
			canvas.WithLogger(logger),
			canvas.WithInstrumentation(inst),
		},
	})
	if err != nil {
		return fmt.Errorf("init tools: %w", err)
	}

	mcpServer := server.NewMCPServer(cfg.Server.Name, version,
		server.WithToolCapabilities(false),
	)
	toolbox.Register(mcpServer)

	mux := http.NewServeMux()
	flow.Routes(mux)

	switch cfg.Server.Transport {
	case "stdio":
		return serveStdio(ctx, cfg.Server.Listen, mux, mcpServer, logger)
	case "http":
		mux.Handle("/mcp", server.NewStreamableHTTPServer(mcpServer))
		return serveHTTP(ctx, cfg.Server.Listen, mux, logger)
	default:
		return fmt.Errorf("unknown transport %q", cfg.Server.Transport)
	}
}

// serveStdio runs the MCP protocol over stdin/stdout while the OAuth
// endpoints listen on addr in the background.
func serveStdio(ctx context.Context, addr string, mux *http.ServeMux, mcpServer *server.MCPServer, logger *slog.Logger) error {
	httpServer := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Info("OAuth endpoints listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("OAuth endpoint server failed", "error", err)
		}
	}()
	defer shutdownHTTP(httpServer, logger)

	logger.Info("Serving MCP over stdio")
	errCh := make(chan error, 1)
	go func() { errCh <- server.ServeStdio(mcpServer) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// serveHTTP runs both the MCP streamable endpoint and the OAuth endpoints
// on one listener.
func serveHTTP(ctx context.Context, addr string, mux *http.ServeMux, logger *slog.Logger) error {
	httpServer := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving MCP and OAuth endpoints over HTTP", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownHTTP(httpServer, logger)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func shutdownHTTP(s *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		logger.Warn("HTTP server shutdown failed", "error", err)
	}
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	// Stdout is the MCP transport in stdio mode; logs go to stderr.
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// buildStorage selects the KV backend. The returned cleanup stops the
// memory store's sweeper or closes the redis connection.
func buildStorage(cfg config.StorageConfig, logger *slog.Logger) (storage.KV, func(), error) {
	switch cfg.Backend {
	case "memory":
		store := memorystore.New()
		store.SetLogger(logger)
		return store, store.Stop, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store := redisstore.New(client)
		return store, func() {
			if err := client.Close(); err != nil {
				logger.Warn("Redis close failed", "error", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
