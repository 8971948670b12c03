package kml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
)

const placemarkTag = "Placemark"

// Tier はどの段階で Placemark を抽出できたかを表します。
type Tier int

const (
	TierNone     Tier = iota // 抽出できなかった
	TierDirect               // 文書全体から直接
	TierDocument             // <Document> 区間から
	TierRoot                 // <kml> ルート区間から
)

func (t Tier) String() string {
	switch t {
	case TierDirect:
		return "direct"
	case TierDocument:
		return "document"
	case TierRoot:
		return "root"
	default:
		return "none"
	}
}

// ExtractPlacemarks は KML テキストから Placemark 要素を元のバイト列のまま取り出します。
// 文書全体、<Document> 区間、<kml> ルート区間の順に試し、最初に一つ以上見つかった段階の結果を返します。
// 構文エラーになった段階は空として扱い、次の段階へ進みます。
func ExtractPlacemarks(doc []byte) ([][]byte, Tier) {
	if frags := scanPlacemarks(doc); len(frags) > 0 {
		return frags, TierDirect
	}
	if section, ok := elementSection(doc, "Document"); ok {
		if frags := scanPlacemarks(section); len(frags) > 0 {
			return frags, TierDocument
		}
	}
	if inner, ok := rootContent(doc, "kml"); ok {
		if frags := scanPlacemarks(inner); len(frags) > 0 {
			return frags, TierRoot
		}
	}
	return nil, TierNone
}

// CountPlacemarks は ExtractPlacemarks で得られる Placemark の数を返します。
func CountPlacemarks(doc []byte) int {
	frags, _ := ExtractPlacemarks(doc)
	return len(frags)
}

// scanPlacemarks は最も外側の Placemark 要素を全て返します。途中で構文エラーがあれば nil です。
func scanPlacemarks(src []byte) [][]byte {
	dec := xml.NewDecoder(bytes.NewReader(src))
	dec.Strict = true

	var frags [][]byte
	for {
		start := dec.InputOffset()
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return frags
			}
			return nil
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != placemarkTag {
			continue
		}
		if err := dec.Skip(); err != nil {
			return nil
		}
		frags = append(frags, src[start:dec.InputOffset()])
	}
}

// elementSection は最初の <name ...> から最後の </name> までを切り出します。
func elementSection(doc []byte, name string) ([]byte, bool) {
	open := indexStartTag(doc, name)
	if open < 0 {
		return nil, false
	}
	closeTag := []byte("</" + name + ">")
	end := bytes.LastIndex(doc, closeTag)
	if end < open {
		return nil, false
	}
	return doc[open : end+len(closeTag)], true
}

// rootContent は <name ...> 開始タグの直後から最後の </name> 直前までを返します。
func rootContent(doc []byte, name string) ([]byte, bool) {
	open := indexStartTag(doc, name)
	if open < 0 {
		return nil, false
	}
	gt := bytes.IndexByte(doc[open:], '>')
	if gt < 0 {
		return nil, false
	}
	contentStart := open + gt + 1
	end := bytes.LastIndex(doc, []byte("</"+name+">"))
	if end < contentStart {
		return nil, false
	}
	return doc[contentStart:end], true
}

// indexStartTag は "<name" の後に空白・'>'・'/' が続く最初の位置を返します。
func indexStartTag(doc []byte, name string) int {
	needle := []byte("<" + name)
	offset := 0
	for {
		i := bytes.Index(doc[offset:], needle)
		if i < 0 {
			return -1
		}
		pos := offset + i
		next := pos + len(needle)
		if next < len(doc) {
			switch doc[next] {
			case '>', '/', ' ', '\t', '\r', '\n':
				return pos
			}
		}
		offset = next
	}
}
