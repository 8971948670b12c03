// Package jobs は変換ジョブの記録（Store）と非同期実行（Scheduler）を提供します。
//
// ジョブは PROCESSING で作成され、変換処理の終了時に一度だけ
// COMPLETED または FAILED へ遷移します。終了状態からの遷移はありません。
package jobs

import (
	"context"
	"time"
)

// Store はジョブIDからジョブ記録への永続的な対応表です。
// Complete と Fail は PROCESSING のジョブに対してのみ成功し、
// 終了済みのジョブには ErrAlreadyTerminal を返します。
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Complete(ctx context.Context, id string, c Completion, now time.Time) error
	Fail(ctx context.Context, id string, info ErrorInfo, now time.Time) error
	Close() error
}

// Runner は一件のジョブを最後まで処理します。結果は Store を通じてのみ伝わります。
type Runner interface {
	Run(ctx context.Context, payload TaskPayload)
}

// Scheduler はジョブを非同期に実行させます。
type Scheduler interface {
	Schedule(ctx context.Context, payload TaskPayload) error
	Shutdown(ctx context.Context) error
}
