package intake

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// PropertyGate checks size bounds and the extension allow-list from metadata
// alone. It never reads the body.
type PropertyGate struct {
	MinSize    int64
	MaxSize    int64
	Extensions []string
}

// NewPropertyGate normalizes the allow-list to lowercase dotted form.
func NewPropertyGate(minSize, maxSize int64, extensions []string) *PropertyGate {
	exts := make([]string, 0, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	return &PropertyGate{MinSize: minSize, MaxSize: maxSize, Extensions: exts}
}

func (g *PropertyGate) Name() string { return StageProperties }

func (g *PropertyGate) Advances() State { return PropertyChecked }

func (g *PropertyGate) Check(_ context.Context, c *Candidate) Outcome {
	switch {
	case c.Size <= 0:
		return RejectWith(&Rejection{Kind: FileTooSmall, Message: "file is empty", Limit: g.MinSize})
	case c.Size < g.MinSize:
		return RejectWith(&Rejection{
			Kind:    FileTooSmall,
			Message: sizeMessage("below the minimum", c.Size, g.MinSize),
			Limit:   g.MinSize,
		})
	case g.MaxSize > 0 && c.Size > g.MaxSize:
		return RejectWith(&Rejection{
			Kind:    FileTooLarge,
			Message: sizeMessage("above the maximum", c.Size, g.MaxSize),
			Limit:   g.MaxSize,
		})
	}
	ext := c.Extension()
	if ext == "" {
		return Reject(InvalidExtension, "file name has no extension")
	}
	if !g.allows(ext) {
		return Reject(InvalidExtension, "extension %s is not allowed (allowed: %s)", ext, strings.Join(g.Extensions, ", "))
	}
	return Accept(Metadata{"extension": ext})
}

func (g *PropertyGate) allows(ext string) bool {
	for _, e := range g.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

func sizeMessage(what string, size, limit int64) string {
	return fmt.Sprintf("file size %s is %s of %s", humanize.IBytes(uint64(size)), what, humanize.IBytes(uint64(limit)))
}
