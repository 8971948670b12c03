package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourusername/shape-forge/internal/jobs"
	"github.com/yourusername/shape-forge/internal/shapefile"
)

const zipMIME = "application/zip"

// Submit はアップロードを保存してジョブを作成し、scheduler に投入します。
// 投入に失敗したジョブは SCHEDULE_FAILED で終了させ、アップロードを削除します。
func (s *Service) Submit(ctx context.Context, file *multipart.FileHeader, scheduler jobs.Scheduler) (*jobs.Job, error) {
	if scheduler == nil {
		return nil, errors.New("scheduler is required")
	}
	job, payload, err := s.PrepareJob(ctx, file)
	if err != nil {
		return nil, err
	}
	if err := scheduler.Schedule(ctx, *payload); err != nil {
		s.AbandonJob(ctx, *payload, err)
		return nil, newError(CodeScheduleFailed, "変換ジョブを開始できませんでした。", err)
	}
	return job, nil
}

// PrepareJob はアップロードを検査・保存し、PROCESSING のジョブを記録します。
// 戻り値の TaskPayload をスケジューラに渡すと変換が始まります。
func (s *Service) PrepareJob(ctx context.Context, file *multipart.FileHeader) (*jobs.Job, *jobs.TaskPayload, error) {
	if file == nil {
		return nil, nil, newError(CodeUploadRejected, "ZIP ファイルを選択してください。", nil)
	}
	if !strings.EqualFold(filepath.Ext(file.Filename), ".zip") {
		return nil, nil, newError(CodeUploadRejected, "ZIP ファイル（.zip）をアップロードしてください。", nil)
	}
	if s.opts.MaxUploadBytes > 0 && file.Size > s.opts.MaxUploadBytes {
		return nil, nil, errUploadTooLarge(s.opts.MaxUploadBytes)
	}

	jobID := uuid.NewString()
	uploadPath, err := s.local.UploadPath(jobID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.saveUpload(file, uploadPath); err != nil {
		_ = s.local.RemoveUpload(uploadPath)
		return nil, nil, err
	}

	// 中央ディレクトリだけを見て、欠けたシェープファイルはこの時点で断る
	if _, err := shapefile.ValidateZip(uploadPath); err != nil {
		_ = s.local.RemoveUpload(uploadPath)
		return nil, nil, fromValidation(err)
	}

	job := jobs.NewJob(jobID, filepath.Base(file.Filename), s.now())
	if err := s.store.Create(ctx, job); err != nil {
		_ = s.local.RemoveUpload(uploadPath)
		return nil, nil, fmt.Errorf("ジョブの記録に失敗しました: %w", err)
	}

	s.logger.Info("job accepted",
		zap.String("job_id", jobID),
		zap.String("original_name", job.OriginalName),
		zap.Int64("size", file.Size),
	)
	return job, &jobs.TaskPayload{
		JobID:        jobID,
		ArchivePath:  uploadPath,
		OriginalName: job.OriginalName,
	}, nil
}

// AbandonJob は投入できなかったジョブを失敗として記録し、アップロードを削除します。
func (s *Service) AbandonJob(ctx context.Context, payload jobs.TaskPayload, cause error) {
	logger := s.logger.With(zap.String("job_id", payload.JobID))
	logger.Error("failed to schedule job", zap.Error(cause))

	info := jobs.ErrorInfo{Code: CodeScheduleFailed, Message: "変換ジョブを開始できませんでした。"}
	if err := s.store.Fail(context.WithoutCancel(ctx), payload.JobID, info, s.now()); err != nil {
		logger.Error("failed to record failure", zap.Error(err))
	}
	if err := s.local.RemoveUpload(payload.ArchivePath); err != nil {
		logger.Warn("failed to remove upload", zap.Error(err))
	}
}

func (s *Service) saveUpload(file *multipart.FileHeader, dst string) error {
	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("アップロードファイルを開けませんでした: %w", err)
	}
	defer src.Close()

	mtype, err := mimetype.DetectReader(src)
	if err != nil {
		return fmt.Errorf("ファイル形式の判定に失敗しました: %w", err)
	}
	if !isZipMIME(mtype) {
		return newError(CodeUploadRejected, "ZIP 形式のファイルではありません。", fmt.Errorf("detected %s", mtype.String()))
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("アップロードファイルの読み直しに失敗しました: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640)
	if err != nil {
		return fmt.Errorf("アップロードファイルを保存できませんでした: %w", err)
	}
	limit := s.opts.MaxUploadBytes
	var reader io.Reader = src
	if limit > 0 {
		reader = io.LimitReader(src, limit+1)
	}
	n, copyErr := io.Copy(out, reader)
	closeErr := out.Close()
	if copyErr != nil {
		return fmt.Errorf("アップロードファイルを保存できませんでした: %w", copyErr)
	}
	if limit > 0 && n > limit {
		return errUploadTooLarge(limit)
	}
	return closeErr
}

// KMZ や JAR のような ZIP 派生形式も ZIP として受け付ける
func isZipMIME(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is(zipMIME) {
			return true
		}
	}
	return false
}
