package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/Stealinglight/StravaMCP/internal/auth"
	"github.com/Stealinglight/StravaMCP/internal/config"
	"github.com/Stealinglight/StravaMCP/internal/gateway"
	"github.com/Stealinglight/StravaMCP/internal/instrumentation"
	"github.com/Stealinglight/StravaMCP/internal/mcpserver"
	"github.com/Stealinglight/StravaMCP/internal/security"
	"github.com/Stealinglight/StravaMCP/internal/storage"
	"github.com/Stealinglight/StravaMCP/internal/storage/memory"
	"github.com/Stealinglight/StravaMCP/internal/storage/valkey"
	"github.com/Stealinglight/StravaMCP/internal/strava"
)

const readHeaderTimeout = 10 * time.Second

var (
	serveConfigPath string
	serveAddr       string
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Long: `Starts the HTTP gateway: the OAuth 2.1 authorization server, the
admission middleware, and the MCP SSE transport backed by the Strava API.

Configuration comes from an optional YAML file (--config) overlaid with
STRAVAMCP_* and STRAVA_* environment variables.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().StringVar(&serveConfigPath, "config", "", "path to the YAML config file")
	cmd.Flags().StringVar(&serveAddr, "addr", "", "listen address, overrides the config file")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:    "stravamcp",
		ServiceVersion: rootCmd.Version,
		Enabled:        true,
	})
	if err != nil {
		return fmt.Errorf("initialize instrumentation: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := inst.Shutdown(ctx); err != nil {
			logger.Warn("instrumentation shutdown failed", "error", err)
		}
	}()

	store, stopStore, err := newStore(cfg, inst, logger)
	if err != nil {
		return err
	}
	defer stopStore()

	authHandler, authServer, err := newAuthServer(cfg, store, inst, logger)
	if err != nil {
		return err
	}
	if authServer != nil {
		defer authServer.Stop()
	}

	api, err := newStravaClient(cmd.Context(), cfg, inst, logger)
	if err != nil {
		return err
	}

	mcpSrv := mcpserver.New(api, logger.With("component", "mcp"))

	registry := gateway.NewRegistry(logger.With("component", "sessions"))
	if err := inst.RegisterSessionGauge(func() int64 { return int64(registry.Count()) }); err != nil {
		logger.Warn("failed to register session gauge", "error", err)
	}

	sse := gateway.NewSSEHandler(registry, mcpSrv, cfg.Server.TrustProxyHeaders, logger.With("component", "sse"))

	mwConfig := gateway.MiddlewareConfig{
		GatewaySecret: cfg.Gateway.Secret,
		Registry:      registry,
	}
	if authServer != nil {
		mwConfig.Validator = authServer
	}
	mw := gateway.NewMiddleware(mwConfig, logger.With("component", "gateway"))
	mw.SetInstrumentation(inst)

	router := newRouter(mw, authHandler, sse, inst)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening",
			"addr", cfg.Server.Addr,
			"oauth_enabled", cfg.Gateway.OAuthEnabled,
			"storage", cfg.Storage.Backend,
			"strava_enabled", cfg.StravaEnabled())
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout_seconds", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newLogger builds the slog logger from the log config. Level and format
// were validated at load time.
func newLogger(cfg config.LogConfig) *slog.Logger {
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
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// newStore builds the configured storage backend. The returned stop
// function releases the backend's resources.
func newStore(cfg *config.Config, inst *instrumentation.Instrumentation, logger *slog.Logger) (storage.Store, func(), error) {
	storeLogger := logger.With("component", "storage")

	switch cfg.Storage.Backend {
	case "valkey":
		store, err := valkey.New(valkey.Config{
			Address:  cfg.Storage.ValkeyAddress,
			Username: cfg.Storage.ValkeyUsername,
			Password: cfg.Storage.ValkeyPassword,
			DB:       cfg.Storage.ValkeyDB,
			Logger:   storeLogger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect to valkey: %w", err)
		}
		if cfg.Storage.EncryptionKey != "" {
			key, err := security.KeyFromBase64(cfg.Storage.EncryptionKey)
			if err != nil {
				store.Close()
				return nil, nil, fmt.Errorf("decode encryption key: %w", err)
			}
			enc, err := security.NewEncryptor(key)
			if err != nil {
				store.Close()
				return nil, nil, fmt.Errorf("initialize encryption: %w", err)
			}
			store.SetEncryptor(enc)
			logger.Info("token encryption at rest enabled")
		}
		return store, store.Close, nil

	default:
		if cfg.Storage.EncryptionKey != "" {
			logger.Warn("encryption key is ignored with the memory backend")
		}
		store := memory.New()
		store.SetLogger(storeLogger)
		store.SetInstrumentation(inst)
		return store, store.Stop, nil
	}
}

// newAuthServer builds the embedded authorization server, or returns nils
// when OAuth is disabled.
func newAuthServer(cfg *config.Config, store storage.Store, inst *instrumentation.Instrumentation, logger *slog.Logger) (*auth.Handler, *auth.Server, error) {
	if !cfg.Gateway.OAuthEnabled {
		return nil, nil, nil
	}

	authCfg := &auth.Config{
		Issuer:                cfg.Auth.Issuer,
		GrantTTL:              cfg.Auth.GrantTTL,
		ConsentNonceTTL:       cfg.Auth.ConsentNonceTTL,
		AccessTokenTTL:        cfg.Auth.AccessTokenTTL,
		RefreshTokenTTL:       cfg.Auth.RefreshTokenTTL,
		AllowedRedirectURIs:   cfg.Auth.AllowedRedirectURIs,
		RegistrationToken:     cfg.Auth.RegistrationToken,
		RegistrationTokenHash: cfg.Auth.RegistrationTokenHash,
		MaxClientsPerIP:       cfg.Auth.MaxClientsPerIP,
		RateLimitRPS:          cfg.Auth.RateLimitRPS,
		RateLimitBurst:        cfg.Auth.RateLimitBurst,
		SupportedScopes:       cfg.Auth.SupportedScopes,
		TrustProxyHeaders:     cfg.Server.TrustProxyHeaders,
		TrustedProxyCount:     cfg.Server.TrustedProxyCount,
		Production:            cfg.Auth.Production,
		AuditEnabled:          cfg.Auth.AuditEnabled,
	}

	server, err := auth.New(store, authCfg, logger.With("component", "auth"))
	if err != nil {
		return nil, nil, fmt.Errorf("initialize authorization server: %w", err)
	}
	server.SetInstrumentation(inst)

	return auth.NewHandler(server), server, nil
}

// newStravaClient builds the upstream client when credentials are present.
// Without them the gateway still serves, and the tools report the missing
// configuration.
func newStravaClient(ctx context.Context, cfg *config.Config, inst *instrumentation.Instrumentation, logger *slog.Logger) (mcpserver.StravaAPI, error) {
	if !cfg.StravaEnabled() {
		logger.Warn("Strava credentials not configured; tool calls will fail until they are set")
		return nil, nil
	}

	client, err := strava.New(ctx, strava.Config{
		ClientID:     cfg.Strava.ClientID,
		ClientSecret: cfg.Strava.ClientSecret,
		RefreshToken: cfg.Strava.RefreshToken,
	}, logger.With("component", "strava"))
	if err != nil {
		return nil, fmt.Errorf("initialize strava client: %w", err)
	}
	client.SetInstrumentation(inst)
	return client, nil
}

// newRouter assembles the chi router. The admission middleware wraps every
// route; its public path list keeps the OAuth endpoints reachable.
func newRouter(mw *gateway.Middleware, authHandler *auth.Handler, sse *gateway.SSEHandler, inst *instrumentation.Instrumentation) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestMetrics(inst))
	r.Use(mw.Wrap)

	r.Get("/healthz", handleHealthz)

	if authHandler != nil {
		r.Get(auth.MetadataPath, authHandler.HandleMetadata)
		r.Post(auth.RegisterPath, authHandler.HandleRegister)
		r.Get(auth.AuthorizePath, authHandler.HandleAuthorize)
		r.Post(auth.AuthorizePath, authHandler.HandleAuthorize)
		r.Post(auth.TokenPath, authHandler.HandleToken)
	}

	r.Get(gateway.SSEPath, sse.HandleSSE)
	r.Post(gateway.MessagePath, sse.HandleMessage)

	return r
}

// requestMetrics records one counter/duration sample per request. SSE
// streams report their full connection lifetime as the duration.
func requestMetrics(inst *instrumentation.Instrumentation) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			inst.Metrics().RecordHTTPRequest(r.Context(), r.Method, r.URL.Path,
				ww.Status(), float64(time.Since(start).Milliseconds()))
		})
	}
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
