// Package htmlutils turns feed markup into plain text for embedding.
//
// The package handles:
//   - Tag stripping with entity decoding
//   - Whitespace normalization
//   - Rune-safe truncation
package htmlutils

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

var tagRegex = regexp.MustCompile(`<(/?)([a-zA-Z0-9-]+)([^>]*)>`)

// blockTags end a line of text when stripped.
var blockTags = map[string]bool{
	"p":          true,
	"br":         true,
	"div":        true,
	"li":         true,
	"tr":         true,
	"h1":         true,
	"h2":         true,
	"h3":         true,
	"h4":         true,
	"blockquote": true,
	"pre":        true,
}

var (
	scriptRegex = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	spaceRegex  = regexp.MustCompile(`[ \t\r\f\v]+`)
	breakRegex  = regexp.MustCompile(`\n\s*\n+`)
)

// StripHTMLTags removes all HTML tags from text, keeping only the content.
// Block-level tags become line breaks so paragraphs stay apart.
func StripHTMLTags(text string) string {
	text = scriptRegex.ReplaceAllString(text, "")

	result := tagRegex.ReplaceAllStringFunc(text, func(tag string) string {
		m := tagRegex.FindStringSubmatch(tag)
		if len(m) >= 3 && blockTags[strings.ToLower(m[2])] {
			return "\n"
		}

		return ""
	})

	result = html.UnescapeString(result)

	return NormalizeWhitespace(result)
}

// NormalizeWhitespace collapses runs of spaces and keeps at most one blank line.
func NormalizeWhitespace(text string) string {
	text = spaceRegex.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}

	text = strings.Join(lines, "\n")
	text = breakRegex.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

// Truncate cuts s to at most maxRunes runes, appending "..." when it cuts.
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}

	runes := []rune(s)

	return strings.TrimSpace(string(runes[:maxRunes])) + "..."
}
