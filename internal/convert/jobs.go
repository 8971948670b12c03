package convert

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"

	"github.com/yourusername/shape-forge/internal/jobs"
	"github.com/yourusername/shape-forge/internal/kml"
)

// Run はジョブ一件を最後まで処理し、結果をストアに記録します。
// 展開先・出力先・アップロードされた ZIP は成否に関わらず削除されます。
func (s *Service) Run(ctx context.Context, payload jobs.TaskPayload) {
	logger := s.logger.With(zap.String("job_id", payload.JobID))
	logger.Info("conversion started", zap.String("original_name", payload.OriginalName))

	completion, err := s.convert(ctx, logger, payload)

	// 記録はジョブ実行の取り消しと無関係に残す
	storeCtx := context.WithoutCancel(ctx)
	if err == nil {
		err = s.store.Complete(storeCtx, payload.JobID, *completion, s.now())
		if err == nil {
			logger.Info("conversion completed",
				zap.String("output_name", completion.OutputName),
				zap.Int("source_outputs", len(completion.SourceOutputs)),
			)
			return
		}
		if errors.Is(err, jobs.ErrAlreadyTerminal) {
			logger.Warn("job already finished; result discarded")
			return
		}
		logger.Error("failed to record completion", zap.Error(err))
		err = newError(CodeInternal, "変換結果の保存に失敗しました。", err)
	}

	info := errorInfo(err)
	logger.Warn("conversion failed", zap.String("code", info.Code), zap.Error(err))
	if failErr := s.store.Fail(storeCtx, payload.JobID, info, s.now()); failErr != nil {
		logger.Error("failed to record failure", zap.Error(failErr))
	}
}

func (s *Service) convert(ctx context.Context, logger *zap.Logger, payload jobs.TaskPayload) (c *jobs.Completion, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic during conversion", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			c = nil
			err = newError(CodeInternal, "変換処理中に予期しないエラーが発生しました。", fmt.Errorf("panic: %v", r))
		}
	}()
	defer func() {
		if rmErr := s.local.RemoveUpload(payload.ArchivePath); rmErr != nil {
			logger.Warn("failed to remove upload", zap.Error(rmErr))
		}
	}()

	ws, err := s.local.Allocate(payload.JobID)
	if err != nil {
		return nil, newError(CodeInternal, "作業ディレクトリを作成できませんでした。", err)
	}
	defer func() {
		if relErr := s.local.Release(ws); relErr != nil {
			logger.Warn("failed to release workspace", zap.Error(relErr))
		}
	}()

	if err := extractZip(payload.ArchivePath, ws.ExtractDir, s.opts.MaxExtractBytes); err != nil {
		if errors.Is(err, errExtractLimit) {
			return nil, newError(CodeUploadRejected, "展開後のサイズが上限を超えています。", err)
		}
		return nil, newError(CodeUploadRejected, "ZIP ファイルを展開できませんでした。", err)
	}

	inputDir, err := locateSourceDir(ws.ExtractDir)
	if err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) {
			return nil, err
		}
		return nil, newError(CodeInternal, "展開したファイルを読み込めませんでした。", err)
	}

	output, err := s.converter.Convert(ctx, ConvertRequest{
		InputDir:         inputDir,
		OutputDir:        ws.OutputDir,
		NameField:        s.opts.NameField,
		DescriptionField: s.opts.DescriptionField,
	})
	if convErr := conversionError(string(output), err); convErr != nil {
		return nil, convErr
	}

	names, contents, err := collectOutputs(ws.OutputDir)
	if err != nil {
		return nil, newError(CodeInternal, "変換結果を読み込めませんでした。", err)
	}
	if len(names) == 0 {
		return nil, newError(CodeNoOutput, "変換結果の KML が生成されませんでした。", nil)
	}

	outputs := make([]jobs.Output, len(names))
	for i, name := range names {
		outputs[i] = jobs.Output{Name: name, Content: string(contents[i])}
	}
	if len(outputs) == 1 {
		return &jobs.Completion{
			OutputName:      outputs[0].Name,
			CombinedContent: outputs[0].Content,
			SourceOutputs:   outputs,
		}, nil
	}

	base := archiveBase(payload.OriginalName)
	sources := make([]kml.Output, len(outputs))
	for i, o := range outputs {
		sources[i] = kml.Output{Name: o.Name, Content: o.Content}
	}
	combined := kml.Combine(sources, kml.WithTitle(base))
	for _, w := range combined.Warnings {
		logger.Warn("kml combine", zap.String("warning", w))
	}
	logger.Debug("kml combined", zap.Int("placemarks", combined.Placemarks), zap.Ints("counts", combined.Counts))

	return &jobs.Completion{
		OutputName:      base + "_combined.kml",
		CombinedContent: combined.Content,
		SourceOutputs:   outputs,
	}, nil
}

// conversionError は変換プロセスの出力と終了状態からジョブの失敗理由を決めます。
// 目印のある出力は終了コードに関わらず失敗とみなします。
func conversionError(output string, runErr error) error {
	if errors.Is(runErr, ErrConverterTimeout) {
		return newError(CodeConversionTimeout, "変換処理が制限時間内に終わりませんでした。", runErr)
	}
	if diag := ParseDiagnostics(output); diag != nil {
		return &Error{
			Code:    CodeConversionError,
			Message: diag.Message(output),
			Details: diag.Details,
			Err:     runErr,
		}
	}
	if runErr != nil {
		msg := strings.TrimSpace(output)
		if msg == "" {
			msg = runErr.Error()
		}
		return newError(CodeConversionError, msg, runErr)
	}
	return nil
}
