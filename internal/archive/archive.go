// Package archive lists the entries of zip and rar containers without
// extracting them and flags the ones that must not pass intake: encrypted
// members, path traversal, executables, macro parts and decompression bombs.
package archive

import (
	"errors"
	"fmt"
	"io"

	"github.com/nwaples/rardecode"
	"github.com/yeka/zip"

	"github.com/dharsanguruparan/FileGate/internal/catalog"
)

// Entry is one member of an archive as declared by its directory.
type Entry struct {
	Name         string
	Compressed   int64
	Uncompressed int64
	Encrypted    bool
	Dir          bool
}

// Limits bounds what an archive may declare.
type Limits struct {
	MaxEntries    int
	MaxRatio      float64
	MaxTotalBytes int64
}

// DefaultLimits mirror what office documents legitimately need.
func DefaultLimits() Limits {
	return Limits{
		MaxEntries:    2000,
		MaxRatio:      100,
		MaxTotalBytes: 512 << 20,
	}
}

// Finding is the first problem found in an archive.
type Finding struct {
	Category catalog.Category
	Entry    string
	Reason   string
}

func (f *Finding) String() string {
	if f.Entry == "" {
		return f.Reason
	}
	return fmt.Sprintf("%s: %s", f.Entry, f.Reason)
}

// ListZip reads the central directory of a zip container.
func ListZip(r io.ReaderAt, size int64) ([]Entry, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	entries := make([]Entry, 0, len(zr.File))
	for _, f := range zr.File {
		entries = append(entries, Entry{
			Name:         f.Name,
			Compressed:   int64(f.CompressedSize64),
			Uncompressed: int64(f.UncompressedSize64),
			Encrypted:    f.IsEncrypted(),
			Dir:          f.FileInfo().IsDir(),
		})
	}
	return entries, nil
}

// ListRar walks the headers of a rar container. Encrypted headers fail with
// an error since nothing can be listed without the password.
func ListRar(r io.Reader, maxEntries int) ([]Entry, error) {
	rr, err := rardecode.NewReader(r, "")
	if err != nil {
		return nil, fmt.Errorf("open rar: %w", err)
	}
	var entries []Entry
	for {
		hdr, err := rr.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read rar header: %w", err)
		}
		entries = append(entries, Entry{
			Name:         hdr.Name,
			Compressed:   hdr.PackedSize,
			Uncompressed: hdr.UnPackedSize,
			Dir:          hdr.IsDir,
		})
		if maxEntries > 0 && len(entries) > maxEntries {
			return entries, nil
		}
	}
}

// Inspect returns the first finding across entries, or nil. size is the
// container size on disk, used for the overall expansion ratio.
func Inspect(entries []Entry, size int64, lim Limits) *Finding {
	if lim.MaxEntries > 0 && len(entries) > lim.MaxEntries {
		return &Finding{Category: catalog.CategoryArchive, Reason: fmt.Sprintf("more than %d entries", lim.MaxEntries)}
	}
	var total int64
	for _, e := range entries {
		switch {
		case e.Encrypted:
			return &Finding{Category: catalog.CategoryArchive, Entry: e.Name, Reason: "encrypted entry cannot be inspected"}
		case catalog.IsUnsafePath(e.Name):
			return &Finding{Category: catalog.CategoryArchive, Entry: e.Name, Reason: "entry path escapes the archive root"}
		case catalog.IsMacroPart(e.Name):
			return &Finding{Category: catalog.CategoryActiveContent, Entry: e.Name, Reason: "embedded macro code"}
		case !e.Dir && catalog.IsExecutableName(e.Name):
			return &Finding{Category: catalog.CategoryArchive, Entry: e.Name, Reason: "executable or script entry"}
		}
		if lim.MaxRatio > 0 && e.Compressed > 0 && float64(e.Uncompressed)/float64(e.Compressed) > lim.MaxRatio {
			return &Finding{Category: catalog.CategoryArchive, Entry: e.Name, Reason: fmt.Sprintf("compression ratio above %.0f:1", lim.MaxRatio)}
		}
		total += e.Uncompressed
		if lim.MaxTotalBytes > 0 && total > lim.MaxTotalBytes {
			return &Finding{Category: catalog.CategoryArchive, Reason: fmt.Sprintf("expands beyond %d bytes", lim.MaxTotalBytes)}
		}
	}
	if lim.MaxRatio > 0 && size > 0 && float64(total)/float64(size) > lim.MaxRatio {
		return &Finding{Category: catalog.CategoryArchive, Reason: fmt.Sprintf("overall compression ratio above %.0f:1", lim.MaxRatio)}
	}
	return nil
}
