// Package normalize turns feed markup into plain narration text.
package normalize

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// SummaryLimit is the default summary length in characters.
const SummaryLimit = 200

// blockTags render as a word break when markup is stripped.
var blockTags = map[string]bool{
	"br": true, "p": true, "div": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"tr": true, "td": true, "th": true, "table": true, "blockquote": true,
	"section": true, "article": true, "figure": true, "figcaption": true, "img": true,
}

// StripMarkup removes tags, decodes entities and trims the result.
func StripMarkup(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}

	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				skip++
			}
			if blockTags[tag] {
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style") && skip > 0 {
				skip--
			}
			if blockTags[tag] {
				b.WriteByte(' ')
			}
		}
	}
}

// DecodeAndClean strips markup and removes characters that speech engines
// read out badly: zero-width marks, BOM, replacement characters, symbols
// (emoji) and unassigned code points. Whitespace is collapsed.
func DecodeAndClean(s string) string {
	text := StripMarkup(s)
	text = strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\ufeff', utf8.RuneError:
			return -1
		case '\u00a0':
			return ' '
		}
		if unicode.Is(unicode.So, r) || unassigned(r) {
			return -1
		}
		return r
	}, text)
	return CollapseWhitespace(text)
}

// CollapseWhitespace replaces runs of whitespace with one space and trims.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Summarize truncates text to limit characters, appending "...".
func Summarize(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit]) + "..."
}

func unassigned(r rune) bool {
	return !unicode.In(r,
		unicode.L, unicode.M, unicode.N, unicode.P, unicode.S, unicode.Z,
		unicode.Cc, unicode.Cf, unicode.Co, unicode.Cs,
	)
}
