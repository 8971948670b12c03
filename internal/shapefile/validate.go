// Package shapefile はアップロードされたアーカイブのファイル一覧を検査し、
// シェープファイル一式（.shp / .shx / .dbf）が揃っているかを判定します。
// ファイルの中身は一切読みません。
package shapefile

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
)

// シェープファイルを構成する拡張子です。
const (
	ExtPrimary = ".shp"
	ExtIndex   = ".shx"
	ExtTable   = ".dbf"
)

var requiredExtensions = []string{ExtPrimary, ExtIndex, ExtTable}

// ErrNoSourceFiles は .shp が一つも含まれていないことを表します。
var ErrNoSourceFiles = errors.New("no .shp files found in archive")

// SourceSet は一つの .shp に対する検査結果です。
type SourceSet struct {
	Primary string   `json:"primary"`
	Found   []string `json:"found"`
	Missing []string `json:"missing"`
}

// Complete は必要な構成ファイルが全て揃っているかを返します。
func (s SourceSet) Complete() bool {
	return len(s.Missing) == 0
}

// String は利用者向けの一行説明を返します。
func (s SourceSet) String() string {
	found := "None"
	if len(s.Found) > 0 {
		found = strings.Join(s.Found, ", ")
	}
	return fmt.Sprintf("%s is incomplete (found: %s; missing: %s)", s.Primary, found, strings.Join(s.Missing, ", "))
}

// Report はアーカイブ全体の検査結果です。
type Report struct {
	Sets []SourceSet `json:"sets"`
}

// Incomplete は構成ファイルが欠けているセットだけを返します。
func (r *Report) Incomplete() []SourceSet {
	if r == nil {
		return nil
	}
	var out []SourceSet
	for _, s := range r.Sets {
		if !s.Complete() {
			out = append(out, s)
		}
	}
	return out
}

// IncompleteError は構成ファイルが欠けたシェープファイルがあることを表します。
type IncompleteError struct {
	Sets []SourceSet
}

func (e *IncompleteError) Error() string {
	parts := make([]string, len(e.Sets))
	for i, s := range e.Sets {
		parts[i] = s.String()
	}
	return "incomplete shapefile sets: " + strings.Join(parts, "; ")
}

// Validate はアーカイブ内のファイル名一覧を検査します。
// 拡張子とベース名の比較は大文字小文字を区別しません。
// 全ての .shp が揃っていれば Report と nil を返します。
func Validate(names []string) (*Report, error) {
	entries := make(map[string]string, len(names))
	var primaries []string
	for _, name := range names {
		name = normalizeEntry(name)
		if name == "" || Ignored(name) {
			continue
		}
		lower := strings.ToLower(name)
		if _, exists := entries[lower]; !exists {
			entries[lower] = name
		}
		if strings.HasSuffix(lower, ExtPrimary) {
			primaries = append(primaries, name)
		}
	}

	if len(primaries) == 0 {
		return &Report{}, ErrNoSourceFiles
	}
	sort.Strings(primaries)

	report := &Report{Sets: make([]SourceSet, 0, len(primaries))}
	seen := make(map[string]struct{}, len(primaries))
	for _, primary := range primaries {
		base := strings.TrimSuffix(strings.ToLower(primary), ExtPrimary)
		if _, dup := seen[base]; dup {
			continue
		}
		seen[base] = struct{}{}

		set := SourceSet{Primary: path.Base(primary)}
		displayBase := path.Base(primary[:len(primary)-len(ExtPrimary)])
		for _, ext := range requiredExtensions {
			if actual, ok := entries[base+ext]; ok {
				set.Found = append(set.Found, path.Base(actual))
			} else {
				set.Missing = append(set.Missing, displayBase+ext)
			}
		}
		report.Sets = append(report.Sets, set)
	}

	if incomplete := report.Incomplete(); len(incomplete) > 0 {
		return report, &IncompleteError{Sets: incomplete}
	}
	return report, nil
}

// ValidateZip はZIPファイルの中央ディレクトリだけを読み、Validate を適用します。
func ValidateZip(archivePath string) (*Report, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		if zr != nil {
			_ = zr.Close()
		}
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()
	return Validate(zipNames(&zr.Reader))
}

// ValidateZipReader は ReaderAt 上のZIPを検査します。
func ValidateZipReader(r io.ReaderAt, size int64) (*Report, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("read zip: %w", err)
	}
	return Validate(zipNames(zr))
}

// HasPrimary は名前が .shp で終わるかを返します。
func HasPrimary(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ExtPrimary)
}

func zipNames(zr *zip.Reader) []string {
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		names = append(names, f.Name)
	}
	return names
}

func normalizeEntry(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	if strings.HasSuffix(name, "/") {
		return ""
	}
	return name
}

// Ignored は macOS の Finder が付ける "__MACOSX/._foo.shp" のような
// シェープファイルではないエントリかを返します。
func Ignored(name string) bool {
	for _, part := range strings.Split(name, "/") {
		if part == "__MACOSX" || strings.HasPrefix(part, "._") {
			return true
		}
	}
	return false
}
