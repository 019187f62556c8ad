package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lumiere-trade/courier/internal/auth"
	"github.com/lumiere-trade/courier/internal/config"
	"github.com/lumiere-trade/courier/internal/httpapi"
	"github.com/lumiere-trade/courier/internal/hub"
	"github.com/lumiere-trade/courier/internal/message"
	"github.com/lumiere-trade/courier/internal/metrics"
	"github.com/lumiere-trade/courier/internal/ratelimit"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		zerolog.New(os.Stderr).With().Timestamp().Logger().Fatal().Err(err).Msg("failed to load configuration")
	}

	log := newLogger(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting courier")

	limiter := ratelimit.New(cfg.RateLimit.PublishRequestsPerWindow, time.Duration(cfg.RateLimit.WindowSeconds)*time.Second)
	limiter.SetTypeLimit("ws_connect", cfg.RateLimit.WebSocketConnectionsPerWindow)
	connGuard := ratelimit.NewConnGuard(
		cfg.RateLimit.ConnGuardGlobalRate, cfg.RateLimit.ConnGuardGlobalBurst,
		cfg.RateLimit.ConnGuardIPRate, cfg.RateLimit.ConnGuardIPBurst,
		time.Duration(cfg.RateLimit.ConnGuardIPTTLSeconds)*time.Second,
	)
	defer connGuard.Stop()
	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)
	promMetrics := metrics.NewMetrics()

	h := hub.New(hub.Config{
		Limiter:  limiter,
		Verifier: verifier,
		Metrics:  promMetrics,
		Logger:   log,
		MessageLimits: message.Limits{
			MaxMessageSize: cfg.Message.MaxMessageSize,
			MaxStringLen:   cfg.Message.MaxStringLength,
			MaxArraySize:   cfg.Message.MaxArraySize,
		},
		HeartbeatInterval: time.Duration(cfg.HeartbeatIntervalSeconds) * time.Second,
		ShutdownTimeout:   time.Duration(cfg.Shutdown.TimeoutSeconds) * time.Second,
		GracePeriod:       time.Duration(cfg.Shutdown.GracePeriodSeconds) * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.RunHeartbeat(ctx)

	if cfg.Metrics.Enabled && cfg.Metrics.UpdateIntervalSeconds > 0 {
		go runSystemMetricsLoop(ctx, promMetrics, time.Duration(cfg.Metrics.UpdateIntervalSeconds)*time.Second)
	}

	server := httpapi.NewServer(h, promMetrics, log, cfg.Auth.RequireAuth, httpapi.Limits{
		MaxClientsPerChannel: cfg.MaxClientsPerChannel,
	}, connGuard)

	var metricsHandler http.Handler
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsHandler = promhttp.Handler()
		metricsPath = cfg.Metrics.Path
	}

	httpServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		Handler: server.Router(metricsHandler, metricsPath),
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	hub.WaitForSignal(ctx, h)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)

	log.Info().Msg("courier stopped")
}

// runSystemMetricsLoop refreshes CPU/memory/goroutine gauges and the
// derived messages-per-second gauge on a fixed interval until ctx is
// cancelled.
func runSystemMetricsLoop(ctx context.Context, m *metrics.Metrics, interval time.Duration) {
	sampler := metrics.NewResourceSampler()
	rateTracker := metrics.NewMessageRateTracker()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sampler.Sample()
			m.UpdateCPUUsage(sampler.CPUPercent())
			m.UpdateMemoryUsage(uint64(sampler.HeapMB() * 1024 * 1024))
			m.UpdateGoroutinesCount(runtime.NumGoroutine())

			rateTracker.Update(float64(m.PublishedCount()))
			m.UpdateMessagesPerSecond(rateTracker.GetRate())
		}
	}
}

func newLogger(level, format string) zerolog.Logger {
	parsedLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		parsedLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsedLevel)

	if format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

