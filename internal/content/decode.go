package content

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DecodeText converts raw bytes to a UTF-8 string. UTF-8 and UTF-16 with a
// byte order mark are handled directly; anything else goes through charset
// detection.
func DecodeText(raw []byte) (string, string, error) {
	if bytes.HasPrefix(raw, []byte{0xFF, 0xFE}) || bytes.HasPrefix(raw, []byte{0xFE, 0xFF}) || bytes.HasPrefix(raw, []byte{0xEF, 0xBB, 0xBF}) {
		out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), raw)
		if err != nil {
			return "", "", fmt.Errorf("decode bom text: %w", err)
		}
		return string(out), "bom", nil
	}
	if utf8.Valid(raw) {
		return string(raw), "utf-8", nil
	}
	res, err := chardet.NewTextDetector().DetectBest(raw)
	if err != nil {
		return "", "", fmt.Errorf("detect charset: %w", err)
	}
	enc, err := htmlindex.Get(res.Charset)
	if err != nil {
		// Unknown label: scan the bytes as they are, invalid sequences
		// become U+FFFD.
		return string(bytes.ToValidUTF8(raw, []byte("\uFFFD"))), res.Charset, nil
	}
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", "", fmt.Errorf("decode %s: %w", res.Charset, err)
	}
	return string(out), res.Charset, nil
}
