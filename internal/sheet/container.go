package sheet

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/yeka/zip"

	"github.com/dharsanguruparan/FileGate/internal/archive"
	"github.com/dharsanguruparan/FileGate/internal/catalog"
	"github.com/dharsanguruparan/FileGate/internal/content"
	"github.com/dharsanguruparan/FileGate/internal/intake"
)

// maxPartBytes caps how much of a single package part is parsed.
const maxPartBytes = 64 << 20

// finding locates a catalog hit inside a workbook.
type finding struct {
	match catalog.Match
	sheet string
	cell  string
	note  string
}

func (f *finding) outcome() intake.Outcome {
	where := f.note
	if where == "" {
		where = fmt.Sprintf("%s!%s", f.sheet, f.cell)
	}
	return intake.RejectWith(&intake.Rejection{
		Kind:     intake.SuspiciousContent,
		Category: f.match.Category,
		Pattern:  f.match.Pattern,
		Sheet:    f.sheet,
		Cell:     f.cell,
		Message:  fmt.Sprintf("suspicious content (%s) matched %q in %s", f.match.Category, f.match.Pattern, where),
	})
}

// errNotWorkbook marks a zip that lacks the parts every workbook has.
var errNotWorkbook = errors.New("zip is not a workbook package")

// sweepPackage inspects the OOXML package of an xlsx workbook: archive
// limits, macro and macro-sheet parts, DDE external links, data connections,
// and every formula of every worksheet.
func sweepPackage(r io.ReaderAt, size int64, lim archive.Limits) (*finding, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("open package: %w", err)
	}
	entries := make([]archive.Entry, 0, len(zr.File))
	parts := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		entries = append(entries, archive.Entry{
			Name:         f.Name,
			Compressed:   int64(f.CompressedSize64),
			Uncompressed: int64(f.UncompressedSize64),
			Encrypted:    f.IsEncrypted(),
			Dir:          f.FileInfo().IsDir(),
		})
		parts[strings.ToLower(f.Name)] = f
	}
	if af := archive.Inspect(entries, size, lim); af != nil {
		return &finding{
			match: catalog.Match{Set: "package", Category: af.Category, Pattern: af.Entry},
			note:  af.String(),
		}, nil
	}
	if parts["[content_types].xml"] == nil || parts["xl/workbook.xml"] == nil {
		return nil, errNotWorkbook
	}

	for _, f := range zr.File {
		name := strings.ToLower(f.Name)
		switch {
		case strings.HasPrefix(name, "xl/macrosheets/"), strings.HasPrefix(name, "xl/dialogsheets/"):
			return &finding{
				match: catalog.Match{Set: "package", Category: catalog.CategoryActiveContent, Pattern: "macrosheet"},
				note:  name,
			}, nil
		case name == "xl/connections.xml":
			return &finding{
				match: catalog.Match{Set: "package", Category: catalog.CategoryFormula, Pattern: "external data connection"},
				note:  name,
			}, nil
		}
	}

	for _, f := range zr.File {
		name := strings.ToLower(f.Name)
		if !strings.HasPrefix(name, "xl/externallinks/") || path.Ext(name) != ".xml" {
			continue
		}
		body, err := readPart(f)
		if err != nil {
			return nil, err
		}
		lower := bytes.ToLower(body)
		for _, marker := range []string{"<ddelink", "<olelink"} {
			if bytes.Contains(lower, []byte(marker)) {
				return &finding{
					match: catalog.Match{Set: "package", Category: catalog.CategoryFormula, Pattern: strings.TrimPrefix(marker, "<")},
					note:  name,
				}, nil
			}
		}
	}

	names, err := sheetNames(parts)
	if err != nil {
		return nil, err
	}
	for _, f := range zr.File {
		name := strings.ToLower(f.Name)
		if !strings.HasPrefix(name, "xl/worksheets/") || path.Ext(name) != ".xml" {
			continue
		}
		label := names[name]
		if label == "" {
			label = strings.TrimSuffix(path.Base(name), ".xml")
		}
		found, err := sweepFormulas(f, label)
		if err != nil {
			return nil, err
		}
		if found != nil {
			return found, nil
		}
	}
	return nil, nil
}

// sweepFormulas streams a worksheet part and scans the text of every formula.
// Cached values are scanned later from the decoded workbook.
func sweepFormulas(f *zip.File, sheet string) (*finding, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	dec := xml.NewDecoder(io.LimitReader(rc, maxPartBytes))
	var cell string
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", f.Name, err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "c":
			cell = attr(se, "r")
		case "f":
			var formula string
			if err := dec.DecodeElement(&formula, &se); err != nil {
				return nil, fmt.Errorf("parse formula in %s: %w", f.Name, err)
			}
			if formula == "" {
				continue
			}
			if m, hit := content.Scan("="+formula, catalog.Cell); hit {
				return &finding{match: m, sheet: sheet, cell: cell}, nil
			}
		}
	}
}

// sheetNames maps worksheet part names to the sheet names users see, using
// the workbook part and its relationships.
func sheetNames(parts map[string]*zip.File) (map[string]string, error) {
	out := map[string]string{}
	rels, ok := parts["xl/_rels/workbook.xml.rels"]
	if !ok {
		return out, nil
	}
	targets := map[string]string{}
	if err := eachElement(rels, "Relationship", func(se xml.StartElement) {
		target := attr(se, "Target")
		if strings.HasPrefix(target, "/") {
			target = strings.TrimPrefix(target, "/")
		} else {
			target = path.Join("xl", target)
		}
		targets[attr(se, "Id")] = strings.ToLower(path.Clean(target))
	}); err != nil {
		return nil, err
	}
	if err := eachElement(parts["xl/workbook.xml"], "sheet", func(se xml.StartElement) {
		if target, ok := targets[attr(se, "id")]; ok {
			out[target] = attr(se, "name")
		}
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func eachElement(f *zip.File, local string, fn func(xml.StartElement)) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	dec := xml.NewDecoder(io.LimitReader(rc, maxPartBytes))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("parse %s: %w", f.Name, err)
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == local {
			fn(se)
		}
	}
}

// attr returns the value of the attribute with the given local name in any
// namespace.
func attr(se xml.StartElement, local string) string {
	for _, a := range se.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func readPart(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	body, err := io.ReadAll(io.LimitReader(rc, maxPartBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return body, nil
}
