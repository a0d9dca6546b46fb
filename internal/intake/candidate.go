package intake

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/dharsanguruparan/FileGate/internal/catalog"
)

// Source is the read access a candidate lends to the pipeline. *os.File,
// multipart.File and *bytes.Reader all satisfy it.
type Source interface {
	io.Reader
	io.ReaderAt
	io.Seeker
}

// Candidate is one uploaded file under validation. The pipeline never
// modifies it and never moves the Body offset.
type Candidate struct {
	Name        string
	ContentType string
	Size        int64
	Body        Source
}

// Open returns an independent reader over the whole body.
func (c *Candidate) Open() *io.SectionReader {
	return io.NewSectionReader(c.Body, 0, c.Size)
}

// Extension returns the lowercased extension after the last dot, with the
// dot, or "" when the name has none.
func (c *Candidate) Extension() string {
	base := filepath.Base(strings.ReplaceAll(c.Name, "\\", "/"))
	i := strings.LastIndexByte(base, '.')
	if i < 0 || i == len(base)-1 {
		return ""
	}
	return strings.ToLower(base[i:])
}

// MediaType returns the declared content type in canonical form.
func (c *Candidate) MediaType() string {
	return catalog.NormalizeMediaType(c.ContentType)
}
