package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailtrack/internal/config"
	"github.com/ignite/mailtrack/internal/metrics"
	"github.com/ignite/mailtrack/internal/pkg/logger"
	"github.com/ignite/mailtrack/internal/repository/rediscache"
	"github.com/ignite/mailtrack/internal/repository/sqlite"
	trackingsvc "github.com/ignite/mailtrack/internal/service/tracking"
	"github.com/ignite/mailtrack/internal/snapshot"
	"github.com/ignite/mailtrack/internal/tracking"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	if _, err := os.Stat("config/config.yaml"); err == nil {
		return "config/config.yaml"
	}
	return ""
}

func main() {
	cfg, err := config.LoadFromEnv(configPath())
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(cfg.Logging.Redact())

	ctx := context.Background()

	store, err := sqlite.Open(ctx, sqlite.Options{
		Path:         cfg.Store.Path,
		WriteTimeout: cfg.Store.WriteTimeout(),
		BusyTimeout:  cfg.Store.BusyTimeout(),
		MaxReaders:   cfg.Store.MaxReaders,
	})
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	// Summary cache is optional; without Redis every dashboard read recomputes.
	var cache trackingsvc.SummaryCache = trackingsvc.NopCache{}
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		var redisClient *redis.Client
		if err != nil {
			redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.URL})
		} else {
			redisClient = redis.NewClient(opts)
		}
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Printf("Warning: Redis connection failed (%s): %v, summary cache disabled", cfg.Redis.URL, err)
			redisClient.Close()
		} else {
			defer redisClient.Close()
			cache = rediscache.New(redisClient, cfg.Redis.TTL())
			log.Printf("Redis connected: %s (summary cache ttl %s)", cfg.Redis.URL, cfg.Redis.TTL())
		}
		pingCancel()
	} else {
		log.Println("Redis not configured (REDIS_URL not set), summary cache disabled")
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	rec := trackingsvc.NewRecorder(store, cfg.Server.BaseURL,
		trackingsvc.WithCache(cache),
		trackingsvc.WithObserver(m),
	)
	agg := trackingsvc.NewAggregator(store, cache)
	handler := tracking.NewHandler(rec, agg, store,
		tracking.WithVersion(version),
		tracking.WithRetryAfter(cfg.Store.RetryAfter()),
		tracking.WithAllowedOrigins(cfg.CORS.AllowedOrigins),
		tracking.WithMiddleware(m.Middleware),
		tracking.WithMetricsHandler(promhttp.Handler()),
	)

	var snapshots *snapshot.Worker
	if cfg.Snapshot.Enabled && cfg.Snapshot.S3Bucket != "" {
		uploader, err := snapshot.NewS3Uploader(ctx, snapshot.S3Config{
			Bucket:  cfg.Snapshot.S3Bucket,
			Prefix:  cfg.Snapshot.Prefix,
			Region:  cfg.Snapshot.S3Region,
			Profile: cfg.Snapshot.GetAWSProfile(),
		})
		if err != nil {
			log.Printf("Warning: snapshot uploads disabled: %v", err)
		} else {
			snapshots = snapshot.NewWorker(store, uploader, cfg.Snapshot.Interval())
			snapshots.Start()
		}
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("tracking service listening on %s (base url %s)", srv.Addr, cfg.Server.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down tracking service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	if snapshots != nil {
		snapshots.Stop()
	}
}
