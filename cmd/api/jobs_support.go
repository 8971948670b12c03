package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/shape-forge/internal/config"
	"github.com/yourusername/shape-forge/internal/convert"
	"github.com/yourusername/shape-forge/internal/jobs"
)

// openStore は STORE_BACKEND に応じたジョブストアを開きます。
func openStore(ctx context.Context, cfg *config.Config) (jobs.Store, error) {
	return jobs.OpenStore(ctx, storeOptions(cfg))
}

func storeOptions(cfg *config.Config) jobs.StoreOptions {
	return jobs.StoreOptions{
		Backend:     cfg.StoreBackend,
		RedisURL:    cfg.StoreRedisURL,
		TTL:         time.Duration(cfg.JobExpireMinutes) * time.Minute,
		SQLitePath:  cfg.SQLitePath,
		PostgresDSN: cfg.PostgresDSN,
	}
}

// setupScheduler は QUEUE_BACKEND に応じたスケジューラを用意し、ワーカーを起動します。
func setupScheduler(cfg *config.Config, svc *convert.Service, logger *zap.Logger) (jobs.Scheduler, error) {
	switch cfg.QueueBackend {
	case config.QueueInline:
		return jobs.NewInlineScheduler(svc, logger.Named("inline")), nil
	case config.QueueAsynq:
		manager, err := jobs.NewManager(cfg.QueueRedisURL, cfg.QueueConcurrency, svc, logger)
		if err != nil {
			return nil, err
		}
		manager.StartWorkers()
		return manager, nil
	default:
		return nil, fmt.Errorf("unsupported queue backend: %s", cfg.QueueBackend)
	}
}
