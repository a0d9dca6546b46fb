package content

import (
	"encoding/hex"
	"html"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// MaxPasses bounds how many decode rounds Normalize attempts before giving up
// on reaching a fixed point.
const MaxPasses = 8

var (
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/|<!--.*?-->`)
	lineComment  = regexp.MustCompile(`(?m)--[^\n]*$`)
	tightOps     = regexp.MustCompile(`\s*([=|:])\s*`)
	tightParen   = regexp.MustCompile(`\s*\(\s*`)
	whitespace   = regexp.MustCompile(`\s+`)
	percentByte  = regexp.MustCompile(`%[0-9a-fA-F]{2}`)
)

// Normalize canonicalises text for pattern matching: lowercase, NFKC, HTML
// entity decode, percent decode, comment strip, whitespace collapse. It
// repeats until the text stops changing, so Normalize(Normalize(s)) ==
// Normalize(s). The boolean is false when no fixed point was reached within
// MaxPasses, which only happens for deliberately layered encodings.
func Normalize(s string) (string, bool) {
	return fixpoint(s, true)
}

// normalizeKeepComments is Normalize without comment removal. Payloads hidden
// inside what only looks like a comment are caught in this form.
func normalizeKeepComments(s string) (string, bool) {
	return fixpoint(s, false)
}

func fixpoint(s string, stripComments bool) (string, bool) {
	for i := 0; i < MaxPasses; i++ {
		next := pass(s, stripComments)
		if next == s {
			return s, true
		}
		s = next
	}
	return s, pass(s, stripComments) == s
}

func pass(s string, stripComments bool) string {
	s = strings.ToLower(s)
	s = norm.NFKC.String(s)
	s = html.UnescapeString(s)
	s = percentByte.ReplaceAllStringFunc(s, percentDecode)
	if stripComments {
		s = blockComment.ReplaceAllString(s, " ")
		s = lineComment.ReplaceAllString(s, "")
	}
	s = strings.Map(dropControl, s)
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// percentDecode decodes one %XX escape. Malformed escapes elsewhere in the
// text do not stop valid ones from being decoded.
func percentDecode(esc string) string {
	b, err := hex.DecodeString(esc[1:])
	if err != nil {
		return esc
	}
	return string(b)
}

// dropControl removes invisible characters used to split keywords, keeping
// ordinary whitespace for the collapse step.
func dropControl(r rune) rune {
	switch {
	case r == '\n' || r == '\t' || r == '\r':
		return r
	case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
		return -1
	}
	return r
}

// Tight removes whitespace around the operators payloads are split on
// ("onerror = x", "cmd | calc"). Whitespace before an opening parenthesis is
// only removed in text that reads as code, so prose like "an alert (see
// log)" keeps its shape.
func Tight(s string) string {
	s = tightOps.ReplaceAllString(s, "$1")
	if codeLike(s) {
		s = tightParen.ReplaceAllString(s, "(")
	}
	return s
}

// codeLike reports formula text and text carrying markup or statement
// punctuation.
func codeLike(s string) bool {
	if s != "" && strings.IndexByte("=+-@", s[0]) >= 0 {
		return true
	}
	return strings.ContainsAny(s, "<>;{}=`")
}

// Compact removes all whitespace from normalized text.
func Compact(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
