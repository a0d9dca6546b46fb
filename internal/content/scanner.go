// Package content normalizes untrusted text and matches it against the
// shared pattern catalogs.
package content

import (
	"strings"

	"github.com/dharsanguruparan/FileGate/internal/catalog"
	"github.com/dharsanguruparan/FileGate/internal/intake"
)

// nestedEncoding is reported when text keeps decoding past MaxPasses.
var nestedEncoding = catalog.Match{
	Set:      "normalizer",
	Category: catalog.CategoryEncoding,
	Pattern:  "nested encoding",
}

// Scan normalizes text and returns the first catalog hit across sets, in set
// order. The comment-stripped form is tested first, then the form with
// comments kept. Each form is matched as is, compacted for sets that allow
// it, and with operators tightened.
func Scan(text string, sets []*catalog.PatternSet) (catalog.Match, bool) {
	if text == "" {
		return catalog.Match{}, false
	}
	if isPlain(text) {
		lowered := strings.Join(strings.Fields(strings.ToLower(text)), " ")
		return findFirst(sets, lowered)
	}
	stripped, ok := Normalize(text)
	if !ok {
		return nestedEncoding, true
	}
	if m, hit := findFirst(sets, stripped); hit {
		return m, true
	}
	kept, ok := normalizeKeepComments(text)
	if !ok {
		return nestedEncoding, true
	}
	if kept == stripped {
		return catalog.Match{}, false
	}
	return findFirst(sets, kept)
}

func findFirst(sets []*catalog.PatternSet, text string) (catalog.Match, bool) {
	compact, tight := Compact(text), Tight(text)
	for _, set := range sets {
		if m, hit := set.Find(text, compact); hit {
			return m, true
		}
		if tight == text {
			continue
		}
		if m, hit := set.Find(tight, ""); hit {
			return m, true
		}
	}
	return catalog.Match{}, false
}

// isPlain reports text that Normalize would only lowercase and collapse. Most
// spreadsheet cells are plain, and skipping the decode passes keeps large
// sheets cheap.
func isPlain(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		case c == ' ', c == '.', c == '@', c == '_', c == ',', c == '\'':
		default:
			return false
		}
	}
	return true
}

// Check scans free text against the general catalogs. where names the
// location for the rejection message and may be empty.
func Check(text, where string) intake.Outcome {
	if m, hit := Scan(text, catalog.General); hit {
		return intake.Suspicious(m, where)
	}
	return intake.Pass()
}
