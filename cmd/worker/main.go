package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/Zubastic120993/polish-tutor-sub002/internal/cache"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/config"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/database"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/jobstore"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/lease"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/monitor"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/queue"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/retention"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/tts"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/worker"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	recorder := monitor.NewRecorder()
	chain, err := tts.FromConfig(cfg.TTS, recorder)
	if err != nil {
		slog.Error("tts chain init failed", "error", err)
		os.Exit(1)
	}
	slog.Info("synthesis chain configured", "providers", chain.Providers())

	heartbeats := monitor.NewRedisHeartbeats(rdb)
	publisher := monitor.NewRedisStatsPublisher(rdb, 3*cfg.Pipeline.HeartbeatEvery)

	pool := worker.NewPool(queues, jobs, leases, cacheStore, chain, recorder, heartbeats, publisher, cfg.Pipeline)
	pool.Start(ctx)
	slog.Info("worker pool started",
		"high", cfg.Pipeline.HighWorkers,
		"standard", cfg.Pipeline.StandardWorkers,
		"batch", cfg.Pipeline.BatchWorkers,
	)

	// Maintenance side-queue: periodic cache sweep and dead-letter report.
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{Concurrency: 2},
	)
	retentionH := retention.NewHandlers(cacheStore, jobs)
	go func() {
		if err := srv.Run(retentionH.Mux()); err != nil {
			slog.Error("retention server error", "error", err)
			os.Exit(1)
		}
	}()

	scheduler, err := retention.NewScheduler(cfg.Redis, cfg.Pipeline.RetentionEvery)
	if err != nil {
		slog.Error("retention scheduler init failed", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := scheduler.Run(); err != nil {
			slog.Error("retention scheduler error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down workers...")
	scheduler.Shutdown()
	srv.Shutdown()
	cancel()
	pool.Wait()
	slog.Info("workers stopped")
}

func newBlobStore(cfg config.StorageConfig) (cache.BlobStore, error) {
	if cfg.Backend == "supabase" {
		return cache.NewSupabaseBlobStore(cfg.SupabaseURL, cfg.SupabaseKey, cfg.Bucket), nil
	}
	return cache.NewLocalBlobStore(cfg.LocalDir)
}
