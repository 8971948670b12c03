package jobs

import (
	"errors"
	"time"
)

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal は終了状態かどうかを返します。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	// ErrJobNotFound は指定IDのジョブが存在しないことを表します。
	ErrJobNotFound = errors.New("job not found")
	// ErrAlreadyTerminal は終了済みのジョブを再度更新しようとしたことを表します。
	ErrAlreadyTerminal = errors.New("job already reached a terminal state")
)

// Output はソース一つ分の変換結果です。
type Output struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// ErrorInfo はジョブ失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// Completion はジョブ完了時に保存する成果物です。
type Completion struct {
	OutputName      string
	CombinedContent string
	SourceOutputs   []Output
}

// Job は変換ジョブ一件の記録です。
type Job struct {
	ID              string     `json:"id"`
	OriginalName    string     `json:"originalName"`
	Status          Status     `json:"status"`
	OutputName      string     `json:"outputName,omitempty"`
	CombinedContent string     `json:"combinedContent,omitempty"`
	SourceOutputs   []Output   `json:"sourceOutputs,omitempty"`
	Error           *ErrorInfo `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

// SourceOutputNames はソース別出力の名前を順序どおりに返します。
func (j *Job) SourceOutputNames() []string {
	names := make([]string, len(j.SourceOutputs))
	for i, o := range j.SourceOutputs {
		names[i] = o.Name
	}
	return names
}

// SourceOutput は名前が完全一致するソース別出力を返します。
func (j *Job) SourceOutput(name string) (Output, bool) {
	for _, o := range j.SourceOutputs {
		if o.Name == name {
			return o, true
		}
	}
	return Output{}, false
}

// TaskPayload は変換ジョブのペイロードです。
type TaskPayload struct {
	JobID        string `json:"jobId"`
	ArchivePath  string `json:"archivePath"`
	OriginalName string `json:"originalName"`
}

// NewJob は PROCESSING 状態の新しいジョブを作成します。
func NewJob(id, originalName string, now time.Time) *Job {
	return &Job{
		ID:           id,
		OriginalName: originalName,
		Status:       StatusProcessing,
		CreatedAt:    now.UTC(),
	}
}

// complete と fail は各ストアが共通に使う状態遷移です。
func (j *Job) complete(c Completion, now time.Time) error {
	if j.Status.Terminal() {
		return ErrAlreadyTerminal
	}
	if len(c.SourceOutputs) == 0 {
		return errors.New("completion requires at least one source output")
	}
	at := now.UTC()
	j.Status = StatusCompleted
	j.OutputName = c.OutputName
	j.CombinedContent = c.CombinedContent
	j.SourceOutputs = append([]Output(nil), c.SourceOutputs...)
	j.Error = nil
	j.CompletedAt = &at
	return nil
}

func (j *Job) fail(info ErrorInfo, now time.Time) error {
	if j.Status.Terminal() {
		return ErrAlreadyTerminal
	}
	at := now.UTC()
	j.Status = StatusFailed
	j.OutputName = ""
	j.CombinedContent = ""
	j.SourceOutputs = nil
	j.Error = &info
	j.CompletedAt = &at
	return nil
}
