package jobs

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrSchedulerClosed は停止後に Schedule が呼ばれたことを表します。
var ErrSchedulerClosed = errors.New("scheduler is shut down")

// InlineScheduler は Redis を使わずに同じプロセス内のゴルーチンでジョブを実行します。
// 開発環境とテストで使います。
type InlineScheduler struct {
	runner Runner
	logger *zap.Logger

	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
}

// NewInlineScheduler は InlineScheduler を作成します。
func NewInlineScheduler(runner Runner, logger *zap.Logger) *InlineScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InlineScheduler{runner: runner, logger: logger}
}

// Schedule はジョブを別ゴルーチンで開始してすぐに戻ります。
// 実行はリクエストのコンテキストから切り離されます。
func (s *InlineScheduler) Schedule(ctx context.Context, payload TaskPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return ErrSchedulerClosed
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runner.Run(context.WithoutCancel(ctx), payload)
	}()
	return nil
}

// Wait は実行中のジョブが全て終わるまで待ちます。
func (s *InlineScheduler) Wait() {
	s.wg.Wait()
}

// Shutdown は新規受付を止め、実行中のジョブの終了を ctx の期限まで待ちます。
func (s *InlineScheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("inline scheduler shutdown timed out with jobs still running")
		return ctx.Err()
	}
}
