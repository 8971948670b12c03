package convert

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/yourusername/shape-forge/internal/jobs"
)

// Download はダウンロードされるファイル一つ分です。
type Download struct {
	Name    string
	Content string
}

// Status はジョブの現在の記録を返します。
func (s *Service) Status(ctx context.Context, id string) (*jobs.Job, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("ジョブ情報の取得に失敗しました: %w", err)
	}
	return job, nil
}

// Combined は結合済みの KML を返します。完了していないジョブでは ErrNotReady です。
func (s *Service) Combined(ctx context.Context, id string) (*Download, error) {
	job, err := s.completedJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Download{Name: job.OutputName, Content: job.CombinedContent}, nil
}

// SourceOutput は名前が完全一致するソース別の KML を返します。
func (s *Service) SourceOutput(ctx context.Context, id, name string) (*Download, error) {
	job, err := s.completedJob(ctx, id)
	if err != nil {
		return nil, err
	}
	out, ok := job.SourceOutput(name)
	if !ok {
		return nil, ErrFileNotFound
	}
	return &Download{Name: out.Name, Content: out.Content}, nil
}

// Bundle は結合結果とソース別の KML をまとめた ZIP の内容です。
type Bundle struct {
	Name    string
	Entries []Download
}

// Bundle は結合結果とソース別出力を一つにまとめます。
// 同じ名前のエントリは最初のものだけを残すので、ソースが一つのときは一件になります。
func (s *Service) Bundle(ctx context.Context, id string) (*Bundle, error) {
	job, err := s.completedJob(ctx, id)
	if err != nil {
		return nil, err
	}
	b := &Bundle{Name: archiveBase(job.OriginalName) + "_kml.zip"}
	seen := make(map[string]struct{}, len(job.SourceOutputs)+1)
	add := func(name, content string) {
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		b.Entries = append(b.Entries, Download{Name: name, Content: content})
	}
	add(job.OutputName, job.CombinedContent)
	for _, out := range job.SourceOutputs {
		add(out.Name, out.Content)
	}
	return b, nil
}

// WriteBundle はジョブの成果物を ZIP として w に書き出します。
// 準備ができていない場合は何も書かずにエラーを返します。
func (s *Service) WriteBundle(ctx context.Context, id string, w io.Writer) (*Bundle, error) {
	b, err := s.Bundle(ctx, id)
	if err != nil {
		return nil, err
	}
	return b, b.WriteZip(w, s.now())
}

// WriteZip はエントリを ZIP 形式で書き出します。
func (b *Bundle) WriteZip(w io.Writer, modified time.Time) error {
	zw := zip.NewWriter(w)
	for _, entry := range b.Entries {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     entry.Name,
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return fmt.Errorf("zip entry %s: %w", entry.Name, err)
		}
		if _, err := io.WriteString(fw, entry.Content); err != nil {
			return fmt.Errorf("zip entry %s: %w", entry.Name, err)
		}
	}
	return zw.Close()
}

func (s *Service) completedJob(ctx context.Context, id string) (*jobs.Job, error) {
	job, err := s.Status(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != jobs.StatusCompleted {
		return nil, ErrNotReady
	}
	return job, nil
}
