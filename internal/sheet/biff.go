package sheet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/extrame/ole2"

	"github.com/dharsanguruparan/FileGate/internal/catalog"
	"github.com/dharsanguruparan/FileGate/internal/content"
)

// The xls decoder renders every formula cell as a placeholder and skips
// external references, so the BIFF8 workbook stream is walked directly for
// those records.

const (
	recFormula    = 0x0006
	recEOF        = 0x000A
	recExternName = 0x0023
	recBoundSheet = 0x0085
	recBlank      = 0x0201
	recNumber     = 0x0203
	recLabel      = 0x0204
	recRow        = 0x0208
	recRK         = 0x027E
	recMulRK      = 0x00BD
	recMulBlank   = 0x00BE
	recLabelSST   = 0x00FD
	recSupBook    = 0x01AE
	recBOF        = 0x0809

	// maxStreamBytes caps how much of the workbook stream is read.
	maxStreamBytes = 64 << 20
)

// errFormulaCell is returned by Walk for cells whose formula the xls decoder
// cannot render.
var errFormulaCell = errors.New("formula cell cannot be decoded")

type cellRef struct {
	sheet    string
	row, col int
}

// biffIndex is what the raw workbook stream says beyond the decoded cells.
type biffIndex struct {
	// formulas lists formula cells in stream order.
	formulas  []cellRef
	formulaAt map[cellRef]bool
	// rows marks the 0-based rows that carry a record per sheet.
	rows map[string]map[int]bool
	// links are external workbook and DDE references rendered as formula
	// text, e.g. =cmd|'/c calc'!A1.
	links []externalLink
}

type externalLink struct {
	text string
	dde  bool
}

func (ix *biffIndex) isFormula(sheet string, row, col int) bool {
	return ix.formulaAt[cellRef{sheet: sheet, row: row, col: col}]
}

// sweep reports external links whose text matches the formula catalogs, any
// DDE link, and otherwise the first formula cell. Formulas in legacy
// workbooks cannot be rendered, so none is accepted.
func (ix *biffIndex) sweep() *finding {
	for _, l := range ix.links {
		note := "external link " + strconv.Quote(l.text)
		if m, hit := content.Scan(l.text, catalog.Cell); hit {
			return &finding{match: m, note: note}
		}
		if l.dde {
			return &finding{
				match: catalog.Match{Set: "package", Category: catalog.CategoryFormula, Pattern: "ddelink"},
				note:  note,
			}
		}
	}
	if len(ix.formulas) > 0 {
		f := ix.formulas[0]
		return &finding{
			match: catalog.Match{Set: "package", Category: catalog.CategoryFormula, Pattern: "formula"},
			sheet: f.sheet,
			cell:  CellName(f.col+1, f.row+1),
		}
	}
	return nil
}

// readWorkbookStream returns the Workbook (or BIFF5 Book) stream of a compound
// document.
func readWorkbookStream(r io.ReadSeeker) (stream []byte, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("malformed compound document: %v", rec)
		}
	}()
	doc, err := ole2.Open(r, "utf-8")
	if err != nil {
		return nil, fmt.Errorf("open compound document: %w", err)
	}
	dir, err := doc.ListDir()
	if err != nil {
		return nil, fmt.Errorf("list compound document: %w", err)
	}
	var book, root *ole2.File
	for _, f := range dir {
		switch f.Name() {
		case "Workbook", "Book":
			book = f
		case "Root Entry":
			root = f
		}
	}
	if book == nil || root == nil {
		return nil, errors.New("no workbook stream")
	}
	stream, err = io.ReadAll(io.LimitReader(doc.OpenFile(book, root), maxStreamBytes))
	if err != nil {
		return nil, fmt.Errorf("read workbook stream: %w", err)
	}
	// The reader runs to the end of the last sector.
	if int64(len(stream)) > int64(book.Size) {
		stream = stream[:book.Size]
	}
	return stream, nil
}

// indexBIFF walks the records of a workbook stream.
func indexBIFF(stream []byte) (*biffIndex, error) {
	ix := &biffIndex{
		formulaAt: map[cellRef]bool{},
		rows:      map[string]map[int]bool{},
	}
	sheetAt := map[int]string{}
	var (
		current string
		link    = -1
	)
	for pos := 0; pos+4 <= len(stream); {
		id := binary.LittleEndian.Uint16(stream[pos:])
		size := int(binary.LittleEndian.Uint16(stream[pos+2:]))
		if pos+4+size > len(stream) {
			return nil, fmt.Errorf("record 0x%04X at %d is truncated", id, pos)
		}
		data := stream[pos+4 : pos+4+size]

		switch id {
		case recBOF:
			current = sheetAt[pos]
		case recEOF:
			current = ""
		case recBoundSheet:
			if len(data) < 8 {
				return nil, errors.New("short BOUNDSHEET record")
			}
			name, _ := xlString(data[7:], int(data[6]))
			sheetAt[int(binary.LittleEndian.Uint32(data))] = name
		case recSupBook:
			l, ok := supBookLink(data)
			link = -1
			if ok {
				ix.links = append(ix.links, l)
				link = len(ix.links) - 1
			}
		case recExternName:
			if link >= 0 && len(data) > 7 {
				if name, ok := xlString(data[7:], int(data[6])); ok {
					ix.links[link].text += name
				}
			}
		case recFormula, recBlank, recNumber, recLabel, recRow, recRK, recMulRK, recMulBlank, recLabelSST:
			if current == "" || len(data) < 4 {
				break
			}
			row := int(binary.LittleEndian.Uint16(data))
			if ix.rows[current] == nil {
				ix.rows[current] = map[int]bool{}
			}
			ix.rows[current][row] = true
			if id == recFormula {
				col := int(binary.LittleEndian.Uint16(data[2:]))
				ref := cellRef{sheet: current, row: row, col: col}
				ix.formulas = append(ix.formulas, ref)
				ix.formulaAt[ref] = true
			}
		}
		pos += 4 + size
	}
	return ix, nil
}

// supBookLink renders an external SUPBOOK as formula text. Self references
// and add-in entries are not links.
func supBookLink(data []byte) (externalLink, bool) {
	if len(data) < 4 {
		return externalLink{}, false
	}
	cch := int(binary.LittleEndian.Uint16(data[2:]))
	if cch == 0x0401 || cch == 0x3A01 || cch == 0 {
		return externalLink{}, false
	}
	path, _ := xlString(data[4:], cch)
	if server, topic, ok := strings.Cut(path, "\x03"); ok {
		return externalLink{text: "=" + server + "|'" + topic + "'!", dde: true}, true
	}
	return externalLink{text: "=[" + strings.Map(pathMarks, path) + "]"}, true
}

// pathMarks turns the control characters virtual paths use as volume and
// directory markers into slashes.
func pathMarks(r rune) rune {
	if r < 0x20 {
		return '/'
	}
	return r
}

// xlString decodes a BIFF8 string body: one option byte followed by cch
// characters, 8-bit when the high-byte flag is clear.
func xlString(b []byte, cch int) (string, bool) {
	if len(b) < 1 {
		return "", false
	}
	wide := b[0]&0x01 != 0
	b = b[1:]
	if !wide {
		if cch > len(b) {
			cch = len(b)
		}
		runes := make([]rune, cch)
		for i := 0; i < cch; i++ {
			runes[i] = rune(b[i])
		}
		return string(runes), true
	}
	if 2*cch > len(b) {
		cch = len(b) / 2
	}
	units := make([]uint16, cch)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[2*i:])
	}
	return string(utf16.Decode(units)), true
}
