package intake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/saintfish/chardet"

	"github.com/dharsanguruparan/FileGate/internal/catalog"
)

const (
	textSampleSize = 8 << 10
	// chardet reports 0-100; below this the sample is treated as binary.
	minCharsetConfidence = 10
)

// SignatureVerifier matches the leading bytes of the body against the
// signature registry entry for the declared media type.
type SignatureVerifier struct{}

func (SignatureVerifier) Name() string { return StageSignature }

func (SignatureVerifier) Advances() State { return SignatureChecked }

func (SignatureVerifier) Check(_ context.Context, c *Candidate) Outcome {
	media := c.MediaType()
	entry, ok := catalog.LookupSignature(media)
	if !ok {
		return Reject(SignatureMismatch, "declared content type %q is not supported", media)
	}
	if ext := c.Extension(); !entry.AllowsExtension(ext) {
		return Reject(SignatureMismatch, "extension %s does not match declared type %s", ext, media)
	}
	if entry.Textual {
		return verifyText(c, entry)
	}
	head, err := readPrefix(c.Open(), entry.PrefixLen())
	if err != nil {
		return Reject(SignatureMismatch, "read file header: %v", err)
	}
	if !entry.Matches(head) {
		return Reject(SignatureMismatch, "file content does not match declared type %s", media)
	}
	return Accept(Metadata{"media_type": media})
}

func verifyText(c *Candidate, entry catalog.SignatureEntry) Outcome {
	sample, err := readPrefix(c.Open(), textSampleSize)
	if err != nil {
		return Reject(SignatureMismatch, "read file header: %v", err)
	}
	if catalog.IsExecutableHeader(sample) {
		return Reject(SignatureMismatch, "file content is an executable, not %s", entry.MediaType)
	}
	if hasUTF16BOM(sample) {
		return Accept(Metadata{"media_type": entry.MediaType, "charset": "utf-16"})
	}
	if bytes.IndexByte(sample, 0) >= 0 {
		return Reject(SignatureMismatch, "file content is binary, not %s", entry.MediaType)
	}
	if utf8.Valid(trimPartialRune(sample)) {
		return Accept(Metadata{"media_type": entry.MediaType, "charset": "utf-8"})
	}
	res, err := chardet.NewTextDetector().DetectBest(sample)
	if err != nil || res.Confidence < minCharsetConfidence {
		return Reject(SignatureMismatch, "file content is not recognisable text")
	}
	return Accept(Metadata{"media_type": entry.MediaType, "charset": res.Charset})
}

// readPrefix reads up to n bytes. A file shorter than n yields what exists;
// the caller's match then fails naturally.
func readPrefix(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read prefix: %w", err)
	}
	return buf[:read], nil
}

func hasUTF16BOM(b []byte) bool {
	return bytes.HasPrefix(b, []byte{0xFF, 0xFE}) || bytes.HasPrefix(b, []byte{0xFE, 0xFF})
}

// trimPartialRune drops a multi-byte sequence cut by the sample boundary.
func trimPartialRune(b []byte) []byte {
	for i := 0; i < utf8.UTFMax && i < len(b); i++ {
		r, size := utf8.DecodeLastRune(b[:len(b)-i])
		if r != utf8.RuneError || size > 1 {
			return b[:len(b)-i]
		}
	}
	return b
}
