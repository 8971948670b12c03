package convert

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yourusername/shape-forge/internal/shapefile"
)

// DefaultMaxExtractBytes は展開後の合計サイズの既定上限です。
const DefaultMaxExtractBytes int64 = 1 << 30

var errExtractLimit = errors.New("extracted size exceeds limit")

// extractZip は archivePath を destDir に展開します。
// destDir の外を指すエントリ、通常ファイル以外、__MACOSX 配下は展開しません。
func extractZip(archivePath, destDir string, limit int64) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		// ErrInsecurePath の場合は zr も返る
		if zr != nil {
			_ = zr.Close()
		}
		return fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	root, err := filepath.Abs(destDir)
	if err != nil {
		return err
	}

	var written int64
	for _, f := range zr.File {
		name := strings.ReplaceAll(f.Name, `\`, "/")
		if shapefile.Ignored(name) {
			continue
		}
		target := filepath.Join(root, filepath.FromSlash(name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes the extraction directory", f.Name)
		}

		mode := f.Mode()
		if mode.IsDir() || strings.HasSuffix(name, "/") {
			if err := os.MkdirAll(target, 0o750); err != nil {
				return err
			}
			continue
		}
		if !mode.IsRegular() {
			continue
		}

		n, err := extractFile(f, target, limit-written)
		written += n
		if err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractFile(f *zip.File, target string, remaining int64) (int64, error) {
	if remaining <= 0 {
		return 0, errExtractLimit
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return 0, err
	}
	src, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return 0, err
	}
	n, copyErr := io.Copy(dst, io.LimitReader(src, remaining+1))
	closeErr := dst.Close()
	if copyErr != nil {
		return n, copyErr
	}
	if n > remaining {
		return n, errExtractLimit
	}
	return n, closeErr
}

// locateSourceDir は変換プロセスに渡す入力ディレクトリを決めます。
// 展開先の直下に .shp があればそこを、無ければ .shp を含む最初のサブディレクトリ（名前順）を返します。
func locateSourceDir(root string) (string, error) {
	ok, err := containsPrimary(root)
	if err != nil {
		return "", err
	}
	if ok {
		return root, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return "", err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") || shapefile.Ignored(entry.Name()+"/") {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		ok, err := containsPrimary(dir)
		if err != nil {
			return "", err
		}
		if ok {
			return dir, nil
		}
	}
	return "", newError(CodeSourceNotFound, "展開したアーカイブに .shp ファイルが見つかりませんでした。", nil)
}

func containsPrimary(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	for _, entry := range entries {
		if entry.Type().IsRegular() && shapefile.HasPrimary(entry.Name()) {
			return true, nil
		}
	}
	return false, nil
}

// collectOutputs は dir 直下の .kml（大文字小文字を区別しない）を名前順に読み込みます。
func collectOutputs(dir string) ([]string, [][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.EqualFold(filepath.Ext(entry.Name()), ".kml") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	contents := make([][]byte, len(names))
	for i, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", name, err)
		}
		contents[i] = data
	}
	return names, contents, nil
}
