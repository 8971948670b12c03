package convert

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/yourusername/shape-forge/internal/jobs"
	"github.com/yourusername/shape-forge/internal/storage"
)

type zipEntry struct {
	name    string
	content string
}

func buildZip(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		if err != nil {
			t.Fatalf("failed to create zip entry %s: %v", e.name, err)
		}
		if _, err := w.Write([]byte(e.content)); err != nil {
			t.Fatalf("failed to write zip entry %s: %v", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}
	return buf.Bytes()
}

func shapefileSet(dir, base string) []zipEntry {
	prefix := ""
	if dir != "" {
		prefix = dir + "/"
	}
	return []zipEntry{
		{name: prefix + base + ".shp", content: "shp"},
		{name: prefix + base + ".shx", content: "shx"},
		{name: prefix + base + ".dbf", content: "dbf"},
	}
}

func placemarkKML(names ...string) string {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<kml xmlns="http://www.opengis.net/kml/2.2"><Document>`)
	for _, n := range names {
		b.WriteString("<Placemark><name>" + n + "</name></Placemark>")
	}
	b.WriteString("</Document></kml>\n")
	return b.String()
}

// kmlPerSource は入力ディレクトリの .shp ごとに一つの KML を書く偽の変換プロセスです。
func kmlPerSource() ConverterFunc {
	return func(ctx context.Context, req ConvertRequest) ([]byte, error) {
		entries, err := os.ReadDir(req.InputDir)
		if err != nil {
			return nil, err
		}
		var log bytes.Buffer
		for _, e := range entries {
			if filepath.Ext(e.Name()) != ".shp" {
				continue
			}
			base := e.Name()[:len(e.Name())-len(".shp")]
			if err := os.WriteFile(filepath.Join(req.OutputDir, base+".kml"), []byte(placemarkKML(base+"-1")), 0o640); err != nil {
				return nil, err
			}
			log.WriteString(e.Name() + " --> " + base + ".kml\n")
		}
		return log.Bytes(), nil
	}
}

type testEnv struct {
	svc   *Service
	store *jobs.SQLiteStore
	local *storage.Local
}

func newTestEnv(t *testing.T, conv Converter) *testEnv {
	t.Helper()
	store, err := jobs.OpenSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteStore returned error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	local, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal returned error: %v", err)
	}

	svc, err := NewService(store, local, conv, Options{
		NameField:        "id",
		DescriptionField: "JOORA",
		MaxUploadBytes:   1 << 20,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	return &testEnv{svc: svc, store: store, local: local}
}

// runArchive はアップロード済みの ZIP を置いてジョブを同期実行し、最終的な記録を返します。
func (e *testEnv) runArchive(t *testing.T, jobID, originalName string, archive []byte) *jobs.Job {
	t.Helper()
	ctx := context.Background()
	uploadPath, err := e.local.UploadPath(jobID)
	if err != nil {
		t.Fatalf("UploadPath returned error: %v", err)
	}
	if err := os.WriteFile(uploadPath, archive, 0o640); err != nil {
		t.Fatalf("failed to write upload: %v", err)
	}
	if err := e.store.Create(ctx, jobs.NewJob(jobID, originalName, e.svc.now())); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	e.svc.Run(ctx, jobs.TaskPayload{JobID: jobID, ArchivePath: uploadPath, OriginalName: originalName})

	job, err := e.store.Get(ctx, jobID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if _, err := os.Stat(uploadPath); !os.IsNotExist(err) {
		t.Fatalf("upload should be removed after the run, stat err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(e.local.Root(), "work", jobID)); !os.IsNotExist(err) {
		t.Fatalf("workspace should be removed after the run, stat err=%v", err)
	}
	return job
}
