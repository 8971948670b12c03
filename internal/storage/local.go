// Package storage はジョブごとの作業領域をローカルファイルシステム上に確保・削除します。
//
// レイアウト:
//
//	<root>/uploads/<jobID>.zip      アップロードされたアーカイブ
//	<root>/work/<jobID>/extract/    展開先
//	<root>/work/<jobID>/out/        変換出力
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	uploadsDir = "uploads"
	workDir    = "work"
)

// Local はジョブIDで名前空間を分けた作業ディレクトリを管理します。
type Local struct {
	root string
}

// Workspace は一件のジョブの展開先と出力先の組です。
type Workspace struct {
	JobID      string
	Dir        string
	ExtractDir string
	OutputDir  string
}

// NewLocal は root 配下に必要なディレクトリを作成して Local を返します。
func NewLocal(root string) (*Local, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	for _, dir := range []string{filepath.Join(abs, uploadsDir), filepath.Join(abs, workDir)} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Local{root: abs}, nil
}

// Root は作業領域のルートを返します。
func (l *Local) Root() string {
	return l.root
}

// UploadPath はジョブのアップロードファイルの保存先を返します。
func (l *Local) UploadPath(jobID string) (string, error) {
	if err := checkJobID(jobID); err != nil {
		return "", err
	}
	return filepath.Join(l.root, uploadsDir, jobID+".zip"), nil
}

// Allocate は展開先と出力先を作成します。既に存在する場合はエラーです。
func (l *Local) Allocate(jobID string) (*Workspace, error) {
	if err := checkJobID(jobID); err != nil {
		return nil, err
	}
	dir := filepath.Join(l.root, workDir, jobID)
	if err := os.Mkdir(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	ws := &Workspace{
		JobID:      jobID,
		Dir:        dir,
		ExtractDir: filepath.Join(dir, "extract"),
		OutputDir:  filepath.Join(dir, "out"),
	}
	for _, d := range []string{ws.ExtractDir, ws.OutputDir} {
		if err := os.Mkdir(d, 0o750); err != nil {
			_ = os.RemoveAll(dir)
			return nil, fmt.Errorf("create %s: %w", filepath.Base(d), err)
		}
	}
	return ws, nil
}

// Release は作業領域を削除します。展開先・出力先・親ディレクトリの順に消し、
// 失敗したものをまとめて返します。
func (l *Local) Release(ws *Workspace) error {
	if ws == nil {
		return nil
	}
	var errs []error
	for _, dir := range []string{ws.ExtractDir, ws.OutputDir, ws.Dir} {
		if err := removeDir(dir); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RemoveUpload はアップロードされたアーカイブを削除します。存在しなければ何もしません。
func (l *Local) RemoveUpload(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove upload %s: %w", filepath.Base(path), err)
	}
	return nil
}

func removeDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	return nil
}

// ジョブIDはパスの一部になるため区切り文字や ".." を許さない
func checkJobID(jobID string) error {
	if jobID == "" || jobID == "." || jobID == ".." || strings.ContainsAny(jobID, `/\`) {
		return fmt.Errorf("invalid job id %q", jobID)
	}
	return nil
}
