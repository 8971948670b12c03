// Package convert はシェープファイル ZIP を KML に変換するジョブの受付・実行・ダウンロードを扱います。
package convert

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/shape-forge/internal/jobs"
	"github.com/yourusername/shape-forge/internal/storage"
)

// Options は変換サービスの設定です。
type Options struct {
	NameField        string
	DescriptionField string
	MaxUploadBytes   int64
	MaxExtractBytes  int64
}

// Service は変換ジョブの受付・実行・成果物の取得を提供します。
type Service struct {
	store     jobs.Store
	local     *storage.Local
	converter Converter
	opts      Options
	logger    *zap.Logger
	now       func() time.Time
}

// NewService は Service を作成します。
func NewService(store jobs.Store, local *storage.Local, converter Converter, opts Options, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("job store is required")
	}
	if local == nil {
		return nil, errors.New("local storage is required")
	}
	if converter == nil {
		return nil, errors.New("converter is required")
	}
	if opts.MaxExtractBytes <= 0 {
		opts.MaxExtractBytes = DefaultMaxExtractBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		local:     local,
		converter: converter,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// archiveBase はアップロード時のファイル名から拡張子を除いた部分を返します。
func archiveBase(originalName string) string {
	name := filepath.Base(strings.ReplaceAll(originalName, `\`, "/"))
	if ext := filepath.Ext(name); strings.EqualFold(ext, ".zip") {
		name = strings.TrimSuffix(name, ext)
	}
	if name == "" || name == "." || name == "/" {
		return "shapefile"
	}
	return name
}
