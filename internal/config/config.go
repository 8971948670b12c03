// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ストアとキューのバックエンド種別です。
const (
	StoreRedis    = "redis"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"

	QueueAsynq  = "asynq"
	QueueInline = "inline"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port            string        // APIサーバーのポート番号
	GinMode         string        // Ginの実行モード (debug, release, test)
	SessionSecret   string        // セッション署名用の秘密鍵
	ShutdownTimeout time.Duration // グレースフルシャットダウンの待ち時間

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ログ設定
	LogLevel  string // debug, info, warn, error
	LogFormat string // json または console

	// アップロード制限
	MaxUploadBytes int64 // アップロードされるZIPの最大サイズ（バイト）

	// 作業ディレクトリ
	WorkDir string // uploads / work を配置するルート

	// ジョブストア設定
	StoreBackend     string // redis, sqlite, postgres
	StoreRedisURL    string // ジョブレコード保存用Redis接続URL
	SQLitePath       string // SQLiteデータベースファイル
	PostgresDSN      string // PostgreSQL接続文字列
	JobExpireMinutes int    // Redis上のジョブレコードの有効期限（分、0で無期限）

	// キュー設定
	QueueBackend     string // asynq または inline
	QueueRedisURL    string // Asynq用Redis接続URL
	QueueConcurrency int    // 同時に処理する変換ジョブ数

	// 変換プロセス設定
	ConverterPath             string        // 変換プロセスの実行ファイル
	ConverterScript           string        // 実行ファイルに渡すスクリプト（空なら省略）
	ConverterNameField        string        // 名前として使う属性列
	ConverterDescriptionField string        // 説明として使う属性列
	ConverterTimeout          time.Duration // 変換プロセスのタイムアウト（0で無制限）
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		Port:            getEnv("PORT", "8080"),
		GinMode:         getEnv("GIN_MODE", "debug"),
		SessionSecret:   getEnv("SESSION_SECRET", "shape-forge-dev-secret"),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		MaxUploadBytes: getEnvAsInt64("MAX_UPLOAD_BYTES", 50*1024*1024), // 50MB

		WorkDir: getEnv("WORK_DIR", filepath.Join(os.TempDir(), "shape-forge")),

		StoreBackend:     getEnv("STORE_BACKEND", StoreRedis),
		StoreRedisURL:    getEnv("STORE_REDIS_URL", "redis://127.0.0.1:6379/1"),
		SQLitePath:       getEnv("SQLITE_PATH", "shape-forge.db"),
		PostgresDSN:      getEnv("POSTGRES_DSN", ""),
		JobExpireMinutes: getEnvAsInt("JOB_EXPIRE_MINUTES", 0),

		QueueBackend:     getEnv("QUEUE_BACKEND", QueueAsynq),
		QueueRedisURL:    getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		QueueConcurrency: getEnvAsInt("QUEUE_CONCURRENCY", 4),

		ConverterPath:             getEnv("CONVERTER_PATH", "python3"),
		ConverterScript:           getEnv("CONVERTER_SCRIPT", "scripts/shapefile_to_kml.py"),
		ConverterNameField:        getEnv("CONVERTER_NAME_FIELD", "id"),
		ConverterDescriptionField: getEnv("CONVERTER_DESCRIPTION_FIELD", "JOORA"),
		ConverterTimeout:          getEnvAsDuration("CONVERTER_TIMEOUT", 10*time.Minute),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreRedis:
		if c.StoreRedisURL == "" {
			return fmt.Errorf("STORE_REDIS_URL is required for the redis store")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite store")
		}
	case StorePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the postgres store")
		}
	default:
		return fmt.Errorf("unsupported STORE_BACKEND: %q", c.StoreBackend)
	}

	switch c.QueueBackend {
	case QueueAsynq:
		if c.QueueRedisURL == "" {
			return fmt.Errorf("QUEUE_REDIS_URL is required for the asynq queue")
		}
	case QueueInline:
	default:
		return fmt.Errorf("unsupported QUEUE_BACKEND: %q", c.QueueBackend)
	}

	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if c.ConverterPath == "" {
		return fmt.Errorf("CONVERTER_PATH is required")
	}
	if c.WorkDir == "" {
		return fmt.Errorf("WORK_DIR is required")
	}

	// 本番環境では署名鍵の既定値を許さない
	if c.GinMode == "release" && (c.SessionSecret == "" || c.SessionSecret == "shape-forge-dev-secret") {
		return fmt.Errorf("SESSION_SECRET is required in release mode")
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は "90s" や "10m" 形式の環境変数を取得します。
// 単位なしの整数は秒として扱います。
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(seconds) * time.Second
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
