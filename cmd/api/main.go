// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/shape-forge/internal/config"
	"github.com/yourusername/shape-forge/internal/convert"
	"github.com/yourusername/shape-forge/internal/history"
	"github.com/yourusername/shape-forge/internal/jobs"
	"github.com/yourusername/shape-forge/internal/logging"
	"github.com/yourusername/shape-forge/internal/middleware"
	"github.com/yourusername/shape-forge/internal/storage"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close job store", zap.Error(err))
		}
	}()

	local, err := storage.NewLocal(cfg.WorkDir)
	if err != nil {
		return err
	}

	converter := &convert.ProcessConverter{
		Path:    cfg.ConverterPath,
		Script:  cfg.ConverterScript,
		Timeout: cfg.ConverterTimeout,
	}
	svc, err := convert.NewService(store, local, converter, convert.Options{
		NameField:        cfg.ConverterNameField,
		DescriptionField: cfg.ConverterDescriptionField,
		MaxUploadBytes:   cfg.MaxUploadBytes,
	}, logger.Named("convert"))
	if err != nil {
		return err
	}

	scheduler, err := setupScheduler(cfg, svc, logger)
	if err != nil {
		return err
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(middleware.TraceID(), middleware.Logging(logger.Named("http")), middleware.Recovery(logger))
	router.Use(history.Sessions(cfg.SessionSecret, cfg.GinMode == gin.ReleaseMode))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", middleware.TraceIDHeader}
	// ダウンロード時のファイル名をフロントエンドから読めるように公開
	corsConfig.ExposeHeaders = []string{"Content-Disposition", "X-Job-Id", middleware.TraceIDHeader}
	router.Use(cors.New(corsConfig))

	setupRoutes(router, svc, scheduler, cfg, logger)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting API server",
			zap.String("addr", server.Addr),
			zap.String("mode", cfg.GinMode),
			zap.String("store", cfg.StoreBackend),
			zap.String("queue", cfg.QueueBackend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			_ = scheduler.Shutdown(context.Background())
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}
	// 実行中の変換が記録を書き終えるまで待ってからストアを閉じる
	if err := scheduler.Shutdown(shutdownCtx); err != nil {
		logger.Warn("scheduler shutdown", zap.Error(err))
	}
	return nil
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "shape-forge-api",
		"version": "0.1.0",
	})
}

// setupRoutes は変換 API の配線を行います。
func setupRoutes(router *gin.Engine, svc *convert.Service, scheduler jobs.Scheduler, cfg *config.Config, logger *zap.Logger) {
	router.GET("/health", handleHealth)

	router.POST("/upload", convert.UploadHandler(svc, convert.HandlerOptions{
		Scheduler:      scheduler,
		MaxUploadBytes: cfg.MaxUploadBytes,
		AfterSubmit: func(c *gin.Context, jobID string) {
			if err := history.Remember(c, jobID); err != nil {
				logger.Warn("failed to save session history", zap.String("job_id", jobID), zap.Error(err))
			}
		},
	}))
	router.GET("/status/:id", convert.StatusHandler(svc))
	router.GET("/download/:id", convert.DownloadHandler(svc))
	router.GET("/download/:id/:name", convert.SourceDownloadHandler(svc))
	router.GET("/download-all/:id", convert.BundleHandler(svc))
	router.GET("/jobs", history.ListHandler(svc))
}
