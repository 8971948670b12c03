package convert

import (
	"strings"
)

// 変換プロセスが失敗時に出力する目印です。
const (
	MarkerValidationErrors = "Shapefile validation errors:"
	MarkerNoValidSources   = "No valid shapefiles found"
)

var failureMarkers = []string{MarkerValidationErrors, MarkerNoValidSources}

const bulletPrefix = "- "

// Diagnostic は変換プロセスの出力から読み取った失敗情報です。
type Diagnostic struct {
	Marker  string   // 見つかった目印
	Line    string   // 目印を含む行（前後の空白を除く）
	Details []string // 箇条書きの各項目。継続行は半角空白で連結
}

// Message は利用者に見せるエラーメッセージを組み立てます。
// 詳細が取れなかった場合は raw をそのまま使います。
func (d *Diagnostic) Message(raw string) string {
	if len(d.Details) == 0 {
		return strings.TrimSpace(raw)
	}
	var b strings.Builder
	b.WriteString(d.Line)
	for _, item := range d.Details {
		b.WriteString("\n")
		b.WriteString(bulletPrefix)
		b.WriteString(item)
	}
	return b.String()
}

// ParseDiagnostics は出力から最初に現れる失敗の目印を探し、その後に続く箇条書きを取り出します。
// 箇条書きは "- " で始まる行で、インデントされた継続行を含み、箇条書き開始後の空行で終わります。
// 目印が無ければ nil を返します。
func ParseDiagnostics(output string) *Diagnostic {
	lines := strings.Split(strings.ReplaceAll(output, "\r\n", "\n"), "\n")

	markerAt := -1
	var marker string
	for i, line := range lines {
		for _, m := range failureMarkers {
			if strings.Contains(line, m) {
				markerAt, marker = i, m
				break
			}
		}
		if markerAt >= 0 {
			break
		}
	}
	if markerAt < 0 {
		return nil
	}

	diag := &Diagnostic{Marker: marker, Line: strings.TrimSpace(lines[markerAt])}
	inList := false
	for _, line := range lines[markerAt+1:] {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			if inList {
				return diag
			}
		case strings.HasPrefix(trimmed, bulletPrefix):
			inList = true
			diag.Details = append(diag.Details, strings.TrimSpace(strings.TrimPrefix(trimmed, bulletPrefix)))
		case inList && line != trimmed:
			last := len(diag.Details) - 1
			diag.Details[last] += " " + trimmed
		case inList:
			return diag
		}
	}
	return diag
}
