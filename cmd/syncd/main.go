// Command syncd runs the offline sync daemon: it owns the durable store, the
// mutation queue, the connectivity monitor, and the sync engine, and exposes
// them to the UI shell over a loopback HTTP API.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rosterly/shiftsync/internal/config"
	"github.com/rosterly/shiftsync/internal/connectivity"
	"github.com/rosterly/shiftsync/internal/engine"
	httpapi "github.com/rosterly/shiftsync/internal/http"
	"github.com/rosterly/shiftsync/internal/observability"
	"github.com/rosterly/shiftsync/internal/queue"
	"github.com/rosterly/shiftsync/internal/remote"
	"github.com/rosterly/shiftsync/internal/services"
	"github.com/rosterly/shiftsync/internal/status"
	"github.com/rosterly/shiftsync/internal/store"
	"github.com/rosterly/shiftsync/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

// fallbackProbeURL answers 204 with no body; used when neither a probe URL
// nor a remote base URL is configured.
const fallbackProbeURL = "https://www.gstatic.com/generate_204"

func main() {
	// .env is optional; real env always wins.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	// Logging
	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Info().Str("version", version).Msg("starting syncd")

	// Tracing
	shutdownOTel, err := observability.SetupOTel(context.Background(), cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(ctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	// Durable store and queue
	st, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open store failed")
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("store close")
		}
	}()

	q, err := queue.New(st, cfg.Sync.MaxAttempts)
	if err != nil {
		log.Fatal().Err(err).Msg("load queue failed")
	}
	dataset := store.NewDatasetStore(st)

	// Connectivity monitor
	probeURL := sysutil.FirstNonEmpty(cfg.Connectivity.ProbeURL, cfg.Remote.BaseURL, fallbackProbeURL)
	monitor := connectivity.NewMonitor(
		connectivity.HTTPProbe(probeURL, cfg.Connectivity.ProbeTimeout),
		connectivity.Options{
			Interval:        cfg.Connectivity.ProbeInterval,
			StabilityWindow: cfg.Connectivity.StabilityWindow,
		},
	)

	// Remote client and sync engine
	client := remote.NewHTTPClient(remote.HTTPClientOptions{
		BaseURL: cfg.Remote.BaseURL,
		Token:   cfg.Remote.Token,
		Timeout: cfg.Remote.Timeout,
		RPS:     cfg.Remote.RPS,
		Burst:   cfg.Remote.Burst,
		Logger:  log.With().Str("component", "remote").Logger(),
	})
	eng := engine.New(engine.Options{
		Queue:       q,
		Client:      client,
		Dataset:     dataset,
		Monitor:     monitor,
		Logger:      log.With().Str("component", "engine").Logger(),
		BackoffBase: cfg.Sync.BackoffBase,
		BackoffCap:  cfg.Sync.BackoffCap,
		CallTimeout: cfg.Sync.CallTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	monitor.Start(ctx)
	eng.Start(ctx)
	defer eng.Close()
	defer monitor.Close()

	// Application services and read model
	svc := &services.OfflineService{
		Queue:   q,
		Dataset: dataset,
		Client:  client,
		Notify:  eng,
		Log:     log.With().Str("component", "service").Logger(),
	}
	reporter := status.NewReporter(q, eng, monitor)

	// Loopback HTTP API
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, svc, reporter, q, cfg)

	srv := &http.Server{
		Addr:              "127.0.0.1:" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("loopback API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown: stop taking requests, then pause the engine so any
	// in-flight replay is reverted to pending before the store closes.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown")
	}
	log.Info().Msg("stopped")
}
