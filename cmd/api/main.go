package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Zubastic120993/polish-tutor-sub002/internal/api"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/cache"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/config"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/database"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/dedup"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/jobstore"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/lease"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/monitor"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/pipeline"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/queue"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/retention"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db, cfg.Database.MigrationsPath); err != nil {
		slog.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("redis unavailable", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	blobs, err := newBlobStore(cfg.Storage)
	if err != nil {
		slog.Error("blob store init failed", "error", err)
		os.Exit(1)
	}

	cacheStore := cache.NewStore(cache.NewPostgresIndex(db), blobs, cfg.Pipeline.CacheTTL)
	leases := lease.NewRedisStore(rdb)
	queues := queue.NewRedis(rdb)
	jobs := jobstore.NewPostgres(db)

	deduper := dedup.New(cacheStore, leases, jobs, queues, cfg.Pipeline.LeaseTTL, cfg.Pipeline.MaxAttempts)
	pipe := pipeline.New(deduper, jobs, queues, cacheStore)

	mon := monitor.New(queues, monitor.NewRedisHeartbeats(rdb), monitor.NewRedisStatsSource(rdb))

	retentionClient := retention.NewClient(cfg.Redis)
	defer retentionClient.Close()

	router := api.NewRouter(db, rdb, cfg, pipe, mon, retentionClient)
	handler := router.Setup()

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}

func newBlobStore(cfg config.StorageConfig) (cache.BlobStore, error) {
	if cfg.Backend == "supabase" {
		return cache.NewSupabaseBlobStore(cfg.SupabaseURL, cfg.SupabaseKey, cfg.Bucket), nil
	}
	return cache.NewLocalBlobStore(cfg.LocalDir)
}
