package sheet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"github.com/dharsanguruparan/FileGate/internal/catalog"
	"github.com/dharsanguruparan/FileGate/internal/intake"
)

// ErrUnsupported is returned by Open for media types that are not workbooks.
var ErrUnsupported = errors.New("not a spreadsheet")

// errStop ends a Walk early without reporting a failure.
var errStop = errors.New("stop walking")

// Workbook is the decoded view both scanners and the schema check use.
type Workbook interface {
	// Sheets lists sheet names in workbook order.
	Sheets() []string
	// Walk calls fn for every row of sheet in order. row is the 1-based
	// sheet row number; cells are the row's values from column A.
	Walk(sheet string, fn func(row int, cells []string) error) error
	// DefinedNames returns each defined name and what it refers to.
	DefinedNames() []string
	Close() error
}

// Limits bound decoder memory for hostile workbooks.
type Limits struct {
	UnzipSizeLimit    int64
	UnzipXMLSizeLimit int64
}

// DefaultLimits suit master-data files up to a few tens of megabytes.
func DefaultLimits() Limits {
	return Limits{
		UnzipSizeLimit:    256 << 20,
		UnzipXMLSizeLimit: 64 << 20,
	}
}

// Open decodes the candidate as xlsx or xls according to its declared type.
func Open(c *intake.Candidate, lim Limits) (Workbook, error) {
	switch c.MediaType() {
	case catalog.MediaXLSX:
		f, err := excelize.OpenReader(c.Open(), excelize.Options{
			UnzipSizeLimit:    lim.UnzipSizeLimit,
			UnzipXMLSizeLimit: lim.UnzipXMLSizeLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("open xlsx: %w", err)
		}
		return &xlsxBook{f: f}, nil
	case catalog.MediaXLS:
		return openXLS(c)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, c.MediaType())
	}
}

type xlsxBook struct {
	f *excelize.File
}

func (b *xlsxBook) Sheets() []string { return b.f.GetSheetList() }

func (b *xlsxBook) Walk(sheet string, fn func(int, []string) error) error {
	rows, err := b.f.Rows(sheet)
	if err != nil {
		return fmt.Errorf("rows of %s: %w", sheet, err)
	}
	defer rows.Close()
	row := 0
	for rows.Next() {
		row++
		cells, err := rows.Columns()
		if err != nil {
			return fmt.Errorf("row %d of %s: %w", row, sheet, err)
		}
		if err := fn(row, cells); err != nil {
			return err
		}
	}
	return rows.Error()
}

func (b *xlsxBook) DefinedNames() []string {
	var out []string
	for _, dn := range b.f.GetDefinedName() {
		out = append(out, dn.Name, dn.RefersTo)
	}
	return out
}

func (b *xlsxBook) Close() error { return b.f.Close() }

type xlsBook struct {
	wb     *xls.WorkBook
	sheets []*xls.WorkSheet
	index  *biffIndex
}

func openXLS(c *intake.Candidate) (wb Workbook, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("open xls: malformed workbook: %v", r)
		}
	}()
	stream, err := readWorkbookStream(c.Open())
	if err != nil {
		return nil, fmt.Errorf("open xls: %w", err)
	}
	index, err := indexBIFF(stream)
	if err != nil {
		return nil, fmt.Errorf("open xls: %w", err)
	}
	book, err := xls.OpenReader(c.Open(), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("open xls: %w", err)
	}
	if book == nil {
		return nil, errors.New("open xls: no workbook stream")
	}
	b := &xlsBook{wb: book, index: index}
	for i := 0; i < book.NumSheets(); i++ {
		if s := book.GetSheet(i); s != nil {
			b.sheets = append(b.sheets, s)
		}
	}
	return b, nil
}

func (b *xlsBook) Sheets() []string {
	names := make([]string, len(b.sheets))
	for i, s := range b.sheets {
		names[i] = s.Name
	}
	return names
}

func (b *xlsBook) Walk(sheet string, fn func(int, []string) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("walk xls sheet %s: %v", sheet, r)
		}
	}()
	var ws *xls.WorkSheet
	for _, s := range b.sheets {
		if s.Name == sheet {
			ws = s
			break
		}
	}
	if ws == nil {
		return fmt.Errorf("sheet %q not found", sheet)
	}
	// Row panics for rows the sheet has no record for.
	present := b.index.rows[sheet]
	for i := 0; i <= int(ws.MaxRow); i++ {
		if !present[i] {
			if err := fn(i+1, nil); err != nil {
				return err
			}
			continue
		}
		r := ws.Row(i)
		last := r.LastCol()
		cells := make([]string, 0, last)
		for col := 0; col < last; col++ {
			if b.index.isFormula(sheet, i, col) {
				return fmt.Errorf("%w: %s!%s", errFormulaCell, sheet, CellName(col+1, i+1))
			}
			cells = append(cells, r.Col(col))
		}
		if err := fn(i+1, cells); err != nil {
			return err
		}
	}
	return nil
}

// The xls decoder does not expose defined names.
func (b *xlsBook) DefinedNames() []string { return nil }

func (b *xlsBook) Close() error { return nil }

// CellName renders a 1-based column and row as an A1 reference.
func CellName(col, row int) string {
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Sprintf("R%dC%d", row, col)
	}
	return name
}

func isBlankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
