// Package kml は変換プロセスが出力したソース別の KML を一つの文書に結合します。
package kml

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

// DefaultTitle は結合文書の <name> に入る既定のタイトルです。
const DefaultTitle = "Combined KML"

const namespace = "http://www.opengis.net/kml/2.2"

// Output はソース一つ分の KML 文書です。
type Output struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Combined は結合結果です。Counts と Tiers は入力と同じ順序で並びます。
type Combined struct {
	Content    string
	Placemarks int
	Counts     []int
	Tiers      []Tier
	Warnings   []string
}

type options struct {
	title string
}

// Option は Combine の振る舞いを変更します。
type Option func(*options)

// WithTitle は結合文書のタイトルを指定します。
func WithTitle(title string) Option {
	return func(o *options) {
		if title != "" {
			o.title = title
		}
	}
}

// Combine は outputs の Placemark を入力順に一つの <Document> にまとめます。
// Placemark を一つも含まないソースは警告として記録され、エラーにはなりません。
func Combine(outputs []Output, opts ...Option) *Combined {
	o := options{title: DefaultTitle}
	for _, opt := range opts {
		opt(&o)
	}

	result := &Combined{
		Counts: make([]int, len(outputs)),
		Tiers:  make([]Tier, len(outputs)),
	}

	var body bytes.Buffer
	for i, out := range outputs {
		frags, tier := ExtractPlacemarks([]byte(out.Content))
		result.Counts[i] = len(frags)
		result.Tiers[i] = tier
		if len(frags) == 0 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: no placemarks found", out.Name))
			continue
		}
		for _, frag := range frags {
			body.Write(bytes.TrimSpace(frag))
			body.WriteByte('\n')
		}
		result.Placemarks += len(frags)
	}

	var doc bytes.Buffer
	doc.WriteString(xml.Header)
	fmt.Fprintf(&doc, "<kml xmlns=%q>\n<Document>\n<name>", namespace)
	_ = xml.EscapeText(&doc, []byte(o.title))
	doc.WriteString("</name>\n")
	doc.Write(body.Bytes())
	doc.WriteString("</Document>\n</kml>\n")

	result.Content = doc.String()
	return result
}
