package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"go.uber.org/zap/zaptest"
)

func newTestManager(t *testing.T, runner Runner) *Manager {
	t.Helper()
	// 接続は投入時まで行われないので Redis がなくても作成できる
	manager, err := NewManager("redis://127.0.0.1:6379/15", 0, runner, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	t.Cleanup(func() { _ = manager.client.Close() })
	return manager
}

func TestNewManagerValidatesArguments(t *testing.T) {
	if _, err := NewManager("redis://127.0.0.1:6379/0", 1, nil, nil); err == nil {
		t.Fatal("expected error for nil runner")
	}
	if _, err := NewManager("mysql://nope", 1, &recordingRunner{}, nil); err == nil {
		t.Fatal("expected error for unsupported url")
	}
}

func TestManagerScheduleRequiresJobID(t *testing.T) {
	manager := newTestManager(t, &recordingRunner{})
	if err := manager.Schedule(context.Background(), TaskPayload{}); err == nil {
		t.Fatal("expected error for empty job id")
	}
}

func TestHandleConvertTask(t *testing.T) {
	runner := &recordingRunner{}
	manager := newTestManager(t, runner)

	body, err := json.Marshal(TaskPayload{JobID: "job-1", ArchivePath: "/tmp/job-1.zip"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := manager.handleConvertTask(context.Background(), asynq.NewTask(taskTypeConvert, body)); err != nil {
		t.Fatalf("handleConvertTask returned error: %v", err)
	}
	if len(runner.seen) != 1 || runner.seen[0] != "job-1" {
		t.Fatalf("runner should receive the payload: %v", runner.seen)
	}

	for _, payload := range [][]byte{[]byte("not json"), []byte(`{"archivePath":"x"}`)} {
		err := manager.handleConvertTask(context.Background(), asynq.NewTask(taskTypeConvert, payload))
		if !errors.Is(err, asynq.SkipRetry) {
			t.Fatalf("invalid payload should skip retries, got %v", err)
		}
	}
	if len(runner.seen) != 1 {
		t.Fatalf("runner must not run for invalid payloads: %v", runner.seen)
	}
}

func TestOpenStore(t *testing.T) {
	if _, err := OpenStore(context.Background(), StoreOptions{Backend: "memcached"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if _, err := OpenStore(context.Background(), StoreOptions{Backend: BackendRedis, RedisURL: "not a url"}); err == nil {
		t.Fatal("expected error for invalid redis url")
	}

	store, err := OpenStore(context.Background(), StoreOptions{Backend: BackendSQLite, SQLitePath: t.TempDir() + "/jobs.db"})
	if err != nil {
		t.Fatalf("OpenStore returned error: %v", err)
	}
	_ = store.Close()
}
