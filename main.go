// Command slack-scheduler is the entrypoint for the Slack message scheduler.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the configured store (memory, JSON files, SQLite or Postgres with
//     migrations).
//   - Starts the dispatcher that delivers queued messages once they fall due,
//     refreshing the Slack token when it has expired.
//   - Exposes the HTTP API for OAuth, sending, scheduling and cancelling,
//     plus /healthz, /readyz and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/onnwee/slack-scheduler/config"
	"github.com/onnwee/slack-scheduler/dispatch"
	"github.com/onnwee/slack-scheduler/oauth"
	"github.com/onnwee/slack-scheduler/schedule"
	"github.com/onnwee/slack-scheduler/server"
	"github.com/onnwee/slack-scheduler/slack"
	"github.com/onnwee/slack-scheduler/store"
	"github.com/onnwee/slack-scheduler/telemetry"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		// unknown level -> keep info but note once using temporary logger
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", slog.Any("err", err))
		os.Exit(1)
	}
	if !cfg.OAuthReady() {
		slog.Warn("slack oauth not configured (SLACK_CLIENT_ID, SLACK_CLIENT_SECRET, SLACK_REDIRECT_URI); /auth/slack and token refresh are unavailable")
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("slack-scheduler", version, cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store
	backend, err := store.Open(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", slog.Any("err", err), slog.String("backend", cfg.StoreBackend))
		os.Exit(1)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			slog.Error("failed to close store", slog.Any("err", err))
		}
	}()

	// Slack clients
	slackOAuth := &slack.OAuth{
		ClientID:     cfg.SlackClientID,
		ClientSecret: cfg.SlackClientSecret,
		RedirectURI:  cfg.SlackRedirectURI,
		Scopes:       cfg.SlackScopes,
		AuthorizeURL: cfg.SlackAuthorizeURL,
		APIURL:       cfg.SlackAPIURL,
		HTTPClient:   &http.Client{Timeout: cfg.SlackHTTPTimeout},
	}
	deliverer := &dispatch.Deliverer{
		Poster:      slack.NewClient(cfg.SlackAPIURL, cfg.SlackHTTPTimeout),
		Refresher:   oauth.New(oauth.SlackRefreshFunc(slackOAuth), cfg.SlackHTTPTimeout),
		Credentials: backend,
		Timeout:     cfg.SlackHTTPTimeout,
	}

	queue := schedule.NewQueue(backend)
	dispatcher := &dispatch.Dispatcher{
		Queue:       queue,
		Credentials: backend,
		Deliverer:   deliverer,
		Interval:    cfg.DispatchInterval,
	}
	if cfg.DispatchMaxQPS > 0 {
		dispatcher.Limiter = rate.NewLimiter(rate.Limit(cfg.DispatchMaxQPS), 1)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx)
	}()

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			// Use an http.Server with timeouts to satisfy G114 and avoid DoS risks
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server
	mux := server.NewMux(ctx, cfg, server.Deps{
		Store:    backend,
		Messages: schedule.NewService(queue),
		Sender:   deliverer,
		OAuth:    slackOAuth,
		OAuthOK:  cfg.OAuthReady(),
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(ctx, cfg.HTTPAddr, mux); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
	wg.Wait()
}
