package jobs

import (
	"context"
	"fmt"
	"time"
)

// ストアのバックエンド名です。
const (
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// StoreOptions は OpenStore の接続設定です。使われるのは Backend に対応する項目だけです。
type StoreOptions struct {
	Backend     string
	RedisURL    string
	TTL         time.Duration
	SQLitePath  string
	PostgresDSN string
}

// OpenStore は Backend に応じたストアを開きます。
func OpenStore(ctx context.Context, opts StoreOptions) (Store, error) {
	var (
		store Store
		err   error
	)
	switch opts.Backend {
	case BackendRedis:
		store, err = OpenRedisStore(ctx, opts.RedisURL, opts.TTL)
	case BackendSQLite:
		store, err = OpenSQLiteStore(ctx, opts.SQLitePath)
	case BackendPostgres:
		store, err = OpenPostgresStore(ctx, opts.PostgresDSN)
	default:
		return nil, fmt.Errorf("unsupported store backend: %q", opts.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", opts.Backend, err)
	}
	return store, nil
}
