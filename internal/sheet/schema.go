package sheet

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/FileGate/internal/intake"
)

// Character classes a column may be restricted to.
var classes = map[string]*regexp.Regexp{
	"alphanumeric":           regexp.MustCompile(`^[A-Za-z0-9]*$`),
	"alphanumericWithSpaces": regexp.MustCompile(`^[A-Za-z0-9 ]*$`),
	"numeric":                regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`),
	"email":                  regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`),
	"personName":             regexp.MustCompile(`^[\p{L}\p{M}][\p{L}\p{M} .'\-]*$`),
	"code":                   regexp.MustCompile(`^[A-Za-z0-9_\-/.]*$`),
}

// Classes lists the character class names a Column may use.
func Classes() []string {
	return []string{"alphanumeric", "alphanumericWithSpaces", "numeric", "email", "personName", "code"}
}

// Column describes one expected header and the values under it.
type Column struct {
	Name      string
	Required  bool
	Class     string
	Pattern   string
	MaxLength int

	class   *regexp.Regexp
	pattern *regexp.Regexp
}

// Schema is the expected layout of a master-data sheet. The header is the
// first non-blank row of the sheet.
type Schema struct {
	// Sheet names the sheet to validate; empty means the first one.
	Sheet   string
	Columns []Column
	MinRows int
	MaxRows int
}

// Compile checks class names and compiles column patterns. It must be called
// before the schema is used.
func (s *Schema) Compile() error {
	if len(s.Columns) == 0 {
		return errors.New("schema has no columns")
	}
	seen := map[string]bool{}
	for i := range s.Columns {
		col := &s.Columns[i]
		key := strings.ToLower(strings.TrimSpace(col.Name))
		if key == "" {
			return fmt.Errorf("column %d has no name", i+1)
		}
		if seen[key] {
			return fmt.Errorf("column %q declared twice", col.Name)
		}
		seen[key] = true
		if col.Class != "" {
			re, ok := classes[col.Class]
			if !ok {
				return fmt.Errorf("column %q: unknown class %q", col.Name, col.Class)
			}
			col.class = re
		}
		if col.Pattern != "" {
			re, err := regexp.Compile(col.Pattern)
			if err != nil {
				return fmt.Errorf("column %q: %w", col.Name, err)
			}
			col.pattern = re
		}
	}
	if s.MaxRows > 0 && s.MinRows > s.MaxRows {
		return fmt.Errorf("minRows %d exceeds maxRows %d", s.MinRows, s.MaxRows)
	}
	return nil
}

// Validate checks the header and every data row of the workbook.
func (s *Schema) Validate(wb Workbook) intake.Outcome {
	sheets := wb.Sheets()
	if len(sheets) == 0 {
		return intake.Reject(intake.InvalidStructure, "workbook has no sheets")
	}
	name, ok := s.pick(sheets)
	if !ok {
		return intake.Reject(intake.InvalidStructure, "sheet %q not found", s.Sheet)
	}

	var (
		headerRow int
		index     map[int]int // schema column -> sheet column
		rows      int
		failure   *intake.Outcome
	)
	fail := func(o intake.Outcome) error {
		failure = &o
		return errStop
	}
	err := wb.Walk(name, func(row int, cells []string) error {
		if isBlankRow(cells) {
			return nil
		}
		if headerRow == 0 {
			headerRow = row
			var missing *Column
			index, missing = s.locate(cells)
			if missing != nil {
				return fail(intake.RejectWith(&intake.Rejection{
					Kind:    intake.MissingRequiredColumn,
					Sheet:   name,
					Column:  missing.Name,
					Message: fmt.Sprintf("required column %q is missing", missing.Name),
				}))
			}
			return nil
		}
		rows++
		if s.MaxRows > 0 && rows > s.MaxRows {
			return fail(intake.Reject(intake.InvalidStructure, "sheet has more than %d data rows", s.MaxRows))
		}
		if o, bad := s.checkRow(name, row, cells, index); bad {
			return fail(o)
		}
		return nil
	})
	if failure != nil {
		return *failure
	}
	if err != nil && !errors.Is(err, errStop) {
		return intake.Reject(intake.InvalidStructure, "sheet %q could not be read", name)
	}
	if headerRow == 0 {
		return intake.RejectWith(&intake.Rejection{
			Kind:    intake.MissingRequiredColumn,
			Sheet:   name,
			Column:  s.firstRequired(),
			Message: "sheet has no header row",
		})
	}
	if rows < s.MinRows {
		return intake.RejectWith(&intake.Rejection{
			Kind:    intake.InvalidRowField,
			Sheet:   name,
			Row:     headerRow + 1,
			Message: fmt.Sprintf("at least %d data rows required, found %d", s.MinRows, rows),
		})
	}
	return intake.Accept(intake.Metadata{
		"schema_sheet": name,
		"header_row":   strconv.Itoa(headerRow),
		"data_rows":    strconv.Itoa(rows),
	})
}

// Record is one data row keyed by schema column name.
type Record map[string]string

// Records returns every non-blank data row of a workbook that already passed
// Validate. Columns missing from the header are left out of the records.
func (s *Schema) Records(wb Workbook) ([]Record, error) {
	sheets := wb.Sheets()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	name, ok := s.pick(sheets)
	if !ok {
		return nil, fmt.Errorf("sheet %q not found", s.Sheet)
	}
	var (
		index   map[int]int
		records []Record
	)
	err := wb.Walk(name, func(_ int, cells []string) error {
		if isBlankRow(cells) {
			return nil
		}
		if index == nil {
			var missing *Column
			if index, missing = s.locate(cells); missing != nil {
				return fmt.Errorf("required column %q is missing", missing.Name)
			}
			return nil
		}
		rec := make(Record, len(index))
		for i, at := range index {
			var v string
			if at < len(cells) {
				v = strings.TrimSpace(cells[at])
			}
			rec[s.Columns[i].Name] = v
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return records, nil
}

// pick returns the sheet the schema applies to: the configured one, matched
// without regard to case, or the first.
func (s *Schema) pick(sheets []string) (string, bool) {
	if s.Sheet == "" {
		return sheets[0], true
	}
	for _, sh := range sheets {
		if strings.EqualFold(sh, s.Sheet) {
			return sh, true
		}
	}
	return "", false
}

// locate maps schema columns to header positions, matching names without
// regard to case or surrounding space. It returns the first required column
// that is absent.
func (s *Schema) locate(header []string) (map[int]int, *Column) {
	pos := map[string]int{}
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, dup := pos[key]; !dup && key != "" {
			pos[key] = i
		}
	}
	index := map[int]int{}
	for i := range s.Columns {
		col := &s.Columns[i]
		at, ok := pos[strings.ToLower(strings.TrimSpace(col.Name))]
		if !ok {
			if col.Required {
				return nil, col
			}
			continue
		}
		index[i] = at
	}
	return index, nil
}

func (s *Schema) checkRow(sheet string, row int, cells []string, index map[int]int) (intake.Outcome, bool) {
	for i := range s.Columns {
		col := &s.Columns[i]
		at, ok := index[i]
		if !ok {
			continue
		}
		var v string
		if at < len(cells) {
			v = strings.TrimSpace(cells[at])
		}
		reason := col.check(v)
		if reason == "" {
			continue
		}
		return intake.RejectWith(&intake.Rejection{
			Kind:    intake.InvalidRowField,
			Sheet:   sheet,
			Row:     row,
			Column:  col.Name,
			Cell:    CellName(at+1, row),
			Message: fmt.Sprintf("row %d, column %q: %s", row, col.Name, reason),
		}), true
	}
	return intake.Outcome{}, false
}

// check returns why v is not acceptable for the column, or "".
func (c *Column) check(v string) string {
	if v == "" {
		if c.Required {
			return "value is required"
		}
		return ""
	}
	if c.MaxLength > 0 && utf8.RuneCountInString(v) > c.MaxLength {
		return fmt.Sprintf("longer than %d characters", c.MaxLength)
	}
	if c.class != nil && !c.class.MatchString(v) {
		return fmt.Sprintf("not a valid %s value", c.Class)
	}
	if c.pattern != nil && !c.pattern.MatchString(v) {
		return "does not match the expected format"
	}
	return ""
}

func (s *Schema) firstRequired() string {
	for _, c := range s.Columns {
		if c.Required {
			return c.Name
		}
	}
	return ""
}

// SchemaStage validates the header and rows of a workbook against a schema.
type SchemaStage struct {
	schema *Schema
	limits Limits
	log    *logrus.Entry
}

// NewSchemaStage builds the schema stage. The schema must already be
// compiled.
func NewSchemaStage(schema *Schema, lim Limits, l logrus.FieldLogger) *SchemaStage {
	return &SchemaStage{schema: schema, limits: lim, log: l.WithField("stage", intake.StageSchema)}
}

func (s *SchemaStage) Name() string { return intake.StageSchema }

func (s *SchemaStage) Advances() intake.State { return intake.ContentChecked }

func (s *SchemaStage) Check(_ context.Context, c *intake.Candidate) intake.Outcome {
	wb, err := Open(c, s.limits)
	if err != nil {
		s.log.WithError(err).WithField("file", c.Name).Debug("workbook decode failed")
		return intake.Reject(intake.InvalidStructure, "workbook could not be decoded")
	}
	defer wb.Close()
	return s.schema.Validate(wb)
}
