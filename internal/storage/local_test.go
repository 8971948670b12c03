package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAllocateAndRelease(t *testing.T) {
	local, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal returned error: %v", err)
	}

	ws, err := local.Allocate("job-a")
	if err != nil {
		t.Fatalf("Allocate returned error: %v", err)
	}
	for _, dir := range []string{ws.ExtractDir, ws.OutputDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s, err=%v", dir, err)
		}
	}
	if err := os.WriteFile(filepath.Join(ws.OutputDir, "a.kml"), []byte("x"), 0o640); err != nil {
		t.Fatalf("failed to write output: %v", err)
	}

	if _, err := local.Allocate("job-a"); err == nil {
		t.Fatal("expected error when allocating the same job twice")
	}

	other, err := local.Allocate("job-b")
	if err != nil {
		t.Fatalf("Allocate returned error: %v", err)
	}
	if other.Dir == ws.Dir {
		t.Fatal("workspaces of different jobs must not collide")
	}

	if err := local.Release(ws); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	if _, err := os.Stat(ws.Dir); !os.IsNotExist(err) {
		t.Fatalf("expected workspace to be removed, stat err=%v", err)
	}
	if _, err := os.Stat(other.Dir); err != nil {
		t.Fatalf("releasing one job must not touch another: %v", err)
	}
}

func TestUploadPathRejectsTraversal(t *testing.T) {
	local, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal returned error: %v", err)
	}
	for _, id := range []string{"", "..", "a/b", `a\b`} {
		if _, err := local.UploadPath(id); err == nil {
			t.Fatalf("expected error for job id %q", id)
		}
	}

	path, err := local.UploadPath("job-c")
	if err != nil {
		t.Fatalf("UploadPath returned error: %v", err)
	}
	if err := os.WriteFile(path, []byte("zip"), 0o640); err != nil {
		t.Fatalf("failed to write upload: %v", err)
	}
	if err := local.RemoveUpload(path); err != nil {
		t.Fatalf("RemoveUpload returned error: %v", err)
	}
	if err := local.RemoveUpload(path); err != nil {
		t.Fatalf("RemoveUpload on missing file should be a no-op: %v", err)
	}
}
