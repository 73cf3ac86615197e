// Command agroadvisor serves the crop advisory API: plot delineation, weather
// aggregation, crop recommendations and leaf disease classification.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/agro-advisor/internal/cache"
	"github.com/kjstillabower/agro-advisor/internal/circuitbreaker"
	"github.com/kjstillabower/agro-advisor/internal/client"
	"github.com/kjstillabower/agro-advisor/internal/config"
	httphandler "github.com/kjstillabower/agro-advisor/internal/http"
	"github.com/kjstillabower/agro-advisor/internal/models"
	"github.com/kjstillabower/agro-advisor/internal/observability"
	"github.com/kjstillabower/agro-advisor/internal/service"
	"github.com/kjstillabower/agro-advisor/internal/session"
	"github.com/kjstillabower/agro-advisor/internal/weather"
)

// Version is overridden at build time with -ldflags "-X main.Version=...".
var Version = "dev"

const appName = "agroadvisor"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var env string

	serve := func(cmd *cobra.Command, args []string) error {
		if env != "" {
			if err := os.Setenv("ENV_NAME", env); err != nil {
				return fmt.Errorf("set ENV_NAME: %w", err)
			}
		}
		return run(cmd.Context())
	}

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Crop advisory API server",
		Long:          "agroadvisor turns a drawn plot, soil nutrients and recent weather into ranked crop recommendations.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve,
	}
	cmd.PersistentFlags().StringVarP(&env, "env", "e", "", "Config environment; reads config/<env>.yaml (overrides ENV_NAME)")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		RunE:  serve,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
		},
	})
	return cmd
}

func run(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	logger, err := observability.NewLogger()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	archiveClient, err := client.NewArchiveClient(cfg.WeatherAPIURL, cfg.WeatherAPITimeout)
	if err != nil {
		return fmt.Errorf("weather archive client: %w", err)
	}
	predictionClient, err := client.NewPredictionClient(cfg.PredictionAPIURL, cfg.PredictionAPITimeout)
	if err != nil {
		return fmt.Errorf("prediction client: %w", err)
	}
	var disease httphandler.DiseaseClassifier
	if cfg.DiseaseAPIURL != "" {
		dc, err := client.NewDiseaseClient(cfg.DiseaseAPIURL, cfg.DiseaseAPITimeout)
		if err != nil {
			return fmt.Errorf("disease client: %w", err)
		}
		disease = dc
	} else {
		logger.Warn("disease_api.url not set; /disease disabled")
	}

	if cfg.CircuitBreakerEnabled {
		archiveClient.SetCircuitBreaker(newBreaker(cfg, client.UpstreamArchive, logger))
		predictionClient.SetCircuitBreaker(newBreaker(cfg, client.UpstreamPrediction, logger))
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	var cacheSvc cache.Cache
	var memcacheCloser *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return fmt.Errorf("memcached cache: %w", err)
		}
		memcacheCloser = mc
		cacheSvc = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		cacheSvc = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}
	weatherService := service.NewWeatherService(archiveClient, cacheSvc, cfg.CacheTTL, cfg.CoalesceEnabled)
	aggregator := weather.NewAggregator(weatherService, cfg.WeatherLocation, cfg.WeatherWindowDays)

	if cfg.WarmCache {
		points := append([]models.GeoPoint{cfg.DefaultPoint}, cfg.WarmPoints...)
		warmCtx, warmCancel := context.WithTimeout(parent, 30*time.Second)
		if err := cache.NewWarmer(aggregator, logger).Warm(warmCtx, points); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()
	}

	sessions := session.NewStore(func(id string) *session.Session {
		return session.New(id, aggregator, predictionClient, session.Options{
			DefaultPoint:      cfg.DefaultPoint,
			MaxPlotNameLength: cfg.MaxPlotNameLength,
			Logger:            logger,
		})
	}, logger)
	sweeper, err := sessions.StartSweeper(cfg.SessionSweepSchedule, cfg.SessionIdleTimeout)
	if err != nil {
		return err
	}

	healthConfig := &httphandler.HealthConfig{
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
		Version:              Version,
	}
	if memcacheCloser != nil {
		healthConfig.CachePing = memcacheCloser.Ping
	}
	handler := httphandler.NewHandler(sessions, disease, logger, httphandler.Options{
		Health:            healthConfig,
		MaxPlotNameLength: cfg.MaxPlotNameLength,
		MaxUploadBytes:    cfg.MaxUploadBytes,
	})
	observability.RegisterRateLimitGauges(cfg.OverloadWindow)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("version", Version))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("server", zap.Error(err))
		}
	}
	stop()

	logger.Info("graceful shutdown triggered")
	handler.SetDraining(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	observability.ShutdownInFlight.Set(float64(inFlight))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	<-sweeper.Stop().Done()
	sessions.CloseAll()

	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
	return nil
}

func newBreaker(cfg *config.Config, upstream string, logger *zap.Logger) *circuitbreaker.CircuitBreaker {
	cb := circuitbreaker.New(circuitbreaker.Config{
		Name:             upstream,
		FailureThreshold: cfg.CircuitBreakerFailureThreshold,
		SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
		Timeout:          cfg.CircuitBreakerTimeout,
		IsFailure:        client.IsBreakerFailure,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition(name, from.String(), to.String(), int(to))
			logger.Warn("circuit breaker state change",
				zap.String("upstream", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	observability.CircuitBreakerState.WithLabelValues(upstream).Set(0)
	return cb
}
