package rag

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	reHorizontalSpace = regexp.MustCompile(`[ \t\p{Zs}]+`)
	reMultiNewlines   = regexp.MustCompile(`\n{3,}`)
)

// Normalize canonicalizes extracted text. It is pure and idempotent:
// Normalize(Normalize(x)) == Normalize(x).
//
// Order: CRLF/CR to LF, strip control and format characters except newline
// (tabs become spaces), NFKC, collapse horizontal whitespace, trim every
// line, collapse 3+ newlines into a paragraph break, trim. Stripping runs
// before NFKC so a removed joiner cannot expose an uncomposed sequence.
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = stripControl(text)
	text = norm.NFKC.String(text)
	text = reHorizontalSpace.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")

	text = reMultiNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// stripControl drops Cc and Cf runes, keeping '\n' and mapping tabs and
// other line separators to whitespace so words stay apart.
func stripControl(text string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n':
			return r
		case r == '\t' || r == '\v' || r == '\f':
			return ' '
		case r == '\u2028' || r == '\u2029' || r == '\u0085':
			return '\n'
		case unicode.Is(unicode.Cc, r), unicode.Is(unicode.Cf, r):
			return -1
		case r == unicode.ReplacementChar:
			return -1
		}
		return r
	}, text)
}
