// Command space-tender watches a set of accounts for live audio spaces and captures them.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres (or SQLite) and runs versioned migrations.
//   - Resolves watched handles and starts one watcher per account; every upstream call goes
//     through a single rate-limited gateway.
//   - Optionally downloads the caption history of newly captured live spaces.
//   - Exposes an HTTP server with /healthz, /status, /metrics and the spaces API.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/space-tender/captions"
	"github.com/onnwee/space-tender/config"
	"github.com/onnwee/space-tender/db"
	"github.com/onnwee/space-tender/gateway"
	"github.com/onnwee/space-tender/server"
	"github.com/onnwee/space-tender/store"
	"github.com/onnwee/space-tender/telemetry"
	"github.com/onnwee/space-tender/twitterapi"
	"github.com/onnwee/space-tender/watch"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	setupLogger(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("exiting", slog.Any("err", err))
		stop()
		os.Exit(1)
	}
	slog.Info("shut down cleanly")
}

// setupLogger configures the default logger. Defaults: level=info, format=text.
func setupLogger(level, format string) {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		slog.Warn("unknown LOG_LEVEL, using info", slog.String("value", level))
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

func run(ctx context.Context, cfg *config.Config) error {
	telemetry.Init()
	// Tracing is optional; it requires OTEL_EXPORTER_OTLP_ENDPOINT
	shutdown, err := telemetry.InitTracing("space-tender", "1.0.0")
	if err != nil {
		return err
	}
	defer shutdown()

	database, err := db.Connect(ctx, cfg.DBDriver, cfg.DBDsn)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()
	slog.Info("running database migrations", slog.String("driver", string(cfg.DBDriver)), slog.String("component", "db_migrate"))
	if err := db.Migrate(ctx, database, cfg.DBDriver); err != nil {
		return err
	}
	st := store.New(database, cfg.DBDriver)

	gw := gateway.New(gateway.Config{MinSpacing: cfg.APIMinSpacing, MaxConcurrent: cfg.APIMaxConcurrent})
	defer gw.Close()

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	client := &twitterapi.Client{
		Bearer:     cfg.BearerToken,
		Guest:      &twitterapi.GuestTokenSource{Bearer: cfg.BearerToken, HTTPClient: httpClient},
		HTTPClient: httpClient,
	}

	g, gctx := errgroup.WithContext(ctx)

	dir := &watch.UserDirectory{
		Lookup:    client,
		Gateway:   gw,
		Store:     st,
		Usernames: cfg.WatchUsernames,
		Interval:  cfg.DirectoryRefreshInterval,
	}
	mgr := captions.NewManager(gctx, &captions.Downloader{Source: client, Gateway: gw, DataDir: cfg.DataDir}, client, st)

	watchers := make([]*watch.Watcher, 0, len(cfg.WatchUsernames))
	for _, name := range cfg.WatchUsernames {
		opts := watch.Options{
			Username:  name,
			Directory: dir,
			Source:    client,
			Gateway:   gw,
			Store:     st,
			Interval:  cfg.PollInterval,
			Jitter:    cfg.PollJitter,
		}
		if cfg.CaptionsAuto {
			opts.Captions = mgr
		}
		w, err := watch.New(opts)
		if err != nil {
			return err
		}
		watchers = append(watchers, w)
	}
	slog.Info("starting watchers", slog.Int("count", len(watchers)), slog.Any("usernames", cfg.WatchUsernames), slog.Bool("captions_auto", cfg.CaptionsAuto))

	g.Go(func() error { return dir.Run(gctx) })
	for _, w := range watchers {
		g.Go(func() error { return w.Run(gctx) })
	}
	g.Go(func() error {
		return server.Start(gctx, cfg.HTTPAddr, server.Deps{
			DB:       database,
			Spaces:   st,
			Captions: mgr,
			Watchers: watchers,
			Gateway:  gw,
			DataDir:  cfg.DataDir,
		})
	})

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		startPprof()
	}

	err = g.Wait()
	mgr.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func startPprof() {
	addr := os.Getenv("PPROF_ADDR")
	if addr == "" {
		addr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", addr))
		srv := &http.Server{
			Addr:              addr,
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
