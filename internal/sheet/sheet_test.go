package sheet

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"unicode/utf16"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"github.com/yeka/zip"

	"github.com/dharsanguruparan/FileGate/internal/archive"
	"github.com/dharsanguruparan/FileGate/internal/catalog"
	"github.com/dharsanguruparan/FileGate/internal/intake"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// workbook builds an xlsx in memory. edit receives a file whose first sheet
// is "Staff".
func workbook(t *testing.T, edit func(f *excelize.File)) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetName("Sheet1", "Staff"))
	edit(f)
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func staffRows(t *testing.T, f *excelize.File, rows ...[]any) {
	t.Helper()
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Staff", cell, &r))
	}
}

// withPart copies an xlsx package and appends an extra part.
func withPart(t *testing.T, xlsx []byte, name string, body []byte) []byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(xlsx), int64(len(xlsx)))
	require.NoError(t, err)
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range zr.File {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: f.Name, Method: zip.Deflate})
		require.NoError(t, err)
		rc, err := f.Open()
		require.NoError(t, err)
		_, err = io.Copy(w, rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
	}
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	require.NoError(t, err)
	_, err = w.Write(body)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func candidate(name, mediaType string, body []byte) *intake.Candidate {
	return &intake.Candidate{Name: name, ContentType: mediaType, Size: int64(len(body)), Body: bytes.NewReader(body)}
}

func scan(t *testing.T, body []byte) intake.Outcome {
	t.Helper()
	s := NewScanner(DefaultLimits(), archive.DefaultLimits(), quietLogger())
	return s.Check(context.Background(), candidate("staff.xlsx", catalog.MediaXLSX, body))
}

func cleanStaff(t *testing.T, f *excelize.File) {
	staffRows(t, f,
		[]any{"EmpNo", "Name", "Email"},
		[]any{"E1001", "Jane Doe", "jane.doe@example.com"},
		[]any{"E1002", "Raj Patel", "raj.patel@example.com"},
	)
}

func TestScannerAcceptsCleanWorkbook(t *testing.T) {
	body := workbook(t, func(f *excelize.File) {
		cleanStaff(t, f)
		require.NoError(t, f.SetCellFormula("Staff", "D2", "LEN(B2)"))
	})
	out := scan(t, body)
	require.True(t, out.Accepted(), out.String())
	assert.Equal(t, "1", out.Metadata()["sheets"])
	assert.NotEmpty(t, out.Metadata()["cells_scanned"])
}

func TestScannerFindsPayloadInLastCellOfLastSheet(t *testing.T) {
	body := workbook(t, func(f *excelize.File) {
		cleanStaff(t, f)
		_, err := f.NewSheet("Archive")
		require.NoError(t, err)
		require.NoError(t, f.SetCellValue("Archive", "A1", "notes"))
		require.NoError(t, f.SetCellValue("Archive", "Z500", "<img src=x onerror=alert(1)>"))
	})
	rej, ok := scan(t, body).Rejection()
	require.True(t, ok)
	assert.Equal(t, intake.SuspiciousContent, rej.Kind)
	assert.Equal(t, catalog.CategoryScript, rej.Category)
	assert.Equal(t, "Archive", rej.Sheet)
	assert.Equal(t, "Z500", rej.Cell)
}

func TestScannerFormulaInjection(t *testing.T) {
	tests := []struct {
		name string
		edit func(f *excelize.File)
		cell string
	}{
		{
			name: "dde text value",
			edit: func(f *excelize.File) {
				require.NoError(t, f.SetCellValue("Staff", "B3", "=cmd|' /C calc'!A0"))
			},
			cell: "B3",
		},
		{
			name: "hyperlink formula",
			edit: func(f *excelize.File) {
				require.NoError(t, f.SetCellFormula("Staff", "C4", `HYPERLINK("http://evil.example/x","open")`))
			},
			cell: "C4",
		},
		{
			name: "dde formula",
			edit: func(f *excelize.File) {
				require.NoError(t, f.SetCellFormula("Staff", "A5", "cmd|'/c calc'!A1"))
			},
			cell: "A5",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := workbook(t, func(f *excelize.File) {
				cleanStaff(t, f)
				tt.edit(f)
			})
			rej, ok := scan(t, body).Rejection()
			require.True(t, ok)
			assert.Equal(t, catalog.CategoryFormula, rej.Category)
			assert.Equal(t, "Staff", rej.Sheet)
			assert.Equal(t, tt.cell, rej.Cell)
			assert.Equal(t, "suspicious_content.spreadsheet-formula", rej.Code)
		})
	}
}

func TestScannerDefinedNames(t *testing.T) {
	body := workbook(t, func(f *excelize.File) {
		cleanStaff(t, f)
		require.NoError(t, f.SetDefinedName(&excelize.DefinedName{Name: "Auto_Open", RefersTo: "Staff!$A$1"}))
	})
	rej, ok := scan(t, body).Rejection()
	require.True(t, ok)
	assert.Equal(t, catalog.CategoryFormula, rej.Category)
	assert.Equal(t, "auto_open", rej.Pattern)
}

func TestScannerPackageParts(t *testing.T) {
	clean := workbook(t, func(f *excelize.File) { cleanStaff(t, f) })
	tests := []struct {
		part     string
		body     string
		category catalog.Category
	}{
		{"xl/vbaProject.bin", "vba", catalog.CategoryActiveContent},
		{"xl/macrosheets/sheet1.xml", "<xm:macrosheet/>", catalog.CategoryActiveContent},
		{"xl/externalLinks/externalLink1.xml", `<externalLink><ddeLink ddeService="cmd" ddeTopic="/c calc"/></externalLink>`, catalog.CategoryFormula},
		{"xl/connections.xml", "<connections/>", catalog.CategoryFormula},
		{"xl/embeddings/payload.exe", "MZ", catalog.CategoryArchive},
	}
	for _, tt := range tests {
		t.Run(tt.part, func(t *testing.T) {
			rej, ok := scan(t, withPart(t, clean, tt.part, []byte(tt.body))).Rejection()
			require.True(t, ok)
			assert.Equal(t, intake.SuspiciousContent, rej.Kind)
			assert.Equal(t, tt.category, rej.Category)
		})
	}
}

func TestScannerStructuralFailures(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"truncated zip", []byte("PK\x03\x04 not really a workbook")},
		{"zip without workbook part", func() []byte {
			var buf bytes.Buffer
			zw := zip.NewWriter(&buf)
			w, err := zw.Create("readme.txt")
			require.NoError(t, err)
			_, _ = w.Write([]byte("hello"))
			require.NoError(t, zw.Close())
			return buf.Bytes()
		}()},
		{"empty workbook", workbook(t, func(*excelize.File) {})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rej, ok := scan(t, tt.body).Rejection()
			require.True(t, ok)
			assert.Equal(t, intake.InvalidStructure, rej.Kind)
		})
	}
}

func TestScannerLegacyMacros(t *testing.T) {
	body := append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, make([]byte, 64)...)
	body = append(body, utf16le("_VBA_PROJECT_CUR")...)
	s := NewScanner(DefaultLimits(), archive.DefaultLimits(), quietLogger())
	rej, ok := s.Check(context.Background(), candidate("old.xls", catalog.MediaXLS, body)).Rejection()
	require.True(t, ok)
	assert.Equal(t, catalog.CategoryActiveContent, rej.Category)
}

func utf16le(s string) []byte {
	var out []byte
	for _, u := range utf16.Encode([]rune(s)) {
		out = append(out, byte(u), byte(u>>8))
	}
	return out
}

// legacy reads an xls fixture. Every fixture holds one sheet, "Table", with
// a Code, Name, Description header over eleven rows.
func legacy(t *testing.T, name string) *intake.Candidate {
	t.Helper()
	body, err := os.ReadFile("testdata/" + name)
	require.NoError(t, err)
	return candidate(name, catalog.MediaXLS, body)
}

func TestScannerLegacyWorkbook(t *testing.T) {
	s := NewScanner(DefaultLimits(), archive.DefaultLimits(), quietLogger())
	ctx := context.Background()

	t.Run("clean", func(t *testing.T) {
		out := s.Check(ctx, legacy(t, "table.xls"))
		require.True(t, out.Accepted(), out.String())
		assert.Equal(t, "1", out.Metadata()["sheets"])
		assert.Equal(t, "36", out.Metadata()["cells_scanned"])
	})

	t.Run("payload in last cell", func(t *testing.T) {
		rej, ok := s.Check(ctx, legacy(t, "table_payload.xls")).Rejection()
		require.True(t, ok)
		assert.Equal(t, intake.SuspiciousContent, rej.Kind)
		assert.Equal(t, catalog.CategoryScript, rej.Category)
		assert.Equal(t, "Table", rej.Sheet)
		assert.Equal(t, "C12", rej.Cell)
	})

	t.Run("formula cell", func(t *testing.T) {
		rej, ok := s.Check(ctx, legacy(t, "table_formula.xls")).Rejection()
		require.True(t, ok)
		assert.Equal(t, catalog.CategoryFormula, rej.Category)
		assert.Equal(t, "formula", rej.Pattern)
		assert.Equal(t, "Table", rej.Sheet)
		assert.Equal(t, "A12", rej.Cell)
	})

	t.Run("dde link", func(t *testing.T) {
		rej, ok := s.Check(ctx, legacy(t, "table_dde.xls")).Rejection()
		require.True(t, ok)
		assert.Equal(t, catalog.CategoryFormula, rej.Category)
		assert.Equal(t, "cmd|", rej.Pattern)
		assert.Contains(t, rej.Message, "external link")
	})
}

func TestLegacyWalkRefusesFormulaCells(t *testing.T) {
	wb, err := Open(legacy(t, "table_formula.xls"), DefaultLimits())
	require.NoError(t, err)
	defer wb.Close()

	var rows int
	err = wb.Walk("Table", func(int, []string) error {
		rows++
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errFormulaCell), err.Error())
	assert.Equal(t, 11, rows)
}

func TestSupBookLink(t *testing.T) {
	dde := append([]byte{0, 0, 10, 0, 0}, []byte("cmd\x03/c calc")...)
	l, ok := supBookLink(dde)
	require.True(t, ok)
	assert.True(t, l.dde)
	assert.Equal(t, "=cmd|'/c calc'!", l.text)

	file := append([]byte{1, 0, 10, 0, 0}, []byte("\x01\x02evil.xls")...)
	l, ok = supBookLink(file)
	require.True(t, ok)
	assert.False(t, l.dde)
	assert.Equal(t, "=[//evil.xls]", l.text)

	_, ok = supBookLink([]byte{1, 0, 0x01, 0x04})
	assert.False(t, ok)
}

func TestScannerIgnoresOtherTypes(t *testing.T) {
	s := NewScanner(DefaultLimits(), archive.DefaultLimits(), quietLogger())
	out := s.Check(context.Background(), candidate("a.pdf", catalog.MediaPDF, []byte("%PDF-1.4")))
	assert.True(t, out.Accepted())
}

func staffSchema(t *testing.T) *Schema {
	t.Helper()
	s := &Schema{
		MinRows: 1,
		Columns: []Column{
			{Name: "EmpNo", Required: true, Class: "alphanumeric", MaxLength: 10},
			{Name: "Name", Required: true, Class: "alphanumericWithSpaces"},
			{Name: "Email", Required: true, Class: "email"},
			{Name: "Department", Class: "alphanumericWithSpaces"},
		},
	}
	require.NoError(t, s.Compile())
	return s
}

func validate(t *testing.T, body []byte) intake.Outcome {
	t.Helper()
	st := NewSchemaStage(staffSchema(t), DefaultLimits(), quietLogger())
	return st.Check(context.Background(), candidate("staff.xlsx", catalog.MediaXLSX, body))
}

func TestSchemaAcceptsValidSheet(t *testing.T) {
	body := workbook(t, func(f *excelize.File) {
		staffRows(t, f,
			[]any{" empno ", "Name", "Email", "Notes"},
			[]any{"E1001", "Jane Doe", "jane.doe@example.com", "anything goes here"},
			[]any{},
			[]any{1002, "Raj Patel", "raj.patel@example.com"},
		)
	})
	out := validate(t, body)
	require.True(t, out.Accepted(), out.String())
	assert.Equal(t, "2", out.Metadata()["data_rows"])
	assert.Equal(t, "1", out.Metadata()["header_row"])
}

func TestSchemaMissingRequiredColumn(t *testing.T) {
	body := workbook(t, func(f *excelize.File) {
		staffRows(t, f,
			[]any{"EmpNo", "Name"},
			[]any{"E1001", "Jane Doe"},
		)
	})
	rej, ok := validate(t, body).Rejection()
	require.True(t, ok)
	assert.Equal(t, intake.MissingRequiredColumn, rej.Kind)
	assert.Equal(t, "Email", rej.Column)
}

func TestSchemaInvalidRowField(t *testing.T) {
	tests := []struct {
		name   string
		row    []any
		column string
		cell   string
	}{
		{"bad email", []any{"E1003", "Ann Lee", "not-an-email"}, "Email", "C3"},
		{"punctuation in id", []any{"E-1003", "Ann Lee", "ann@example.com"}, "EmpNo", "A3"},
		{"too long", []any{"E100300000000", "Ann Lee", "ann@example.com"}, "EmpNo", "A3"},
		{"required blank", []any{"E1003", "", "ann@example.com"}, "Name", "B3"},
		{"optional column checked", []any{"E1003", "Ann Lee", "ann@example.com", "R&D"}, "Department", "D3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := workbook(t, func(f *excelize.File) {
				staffRows(t, f,
					[]any{"EmpNo", "Name", "Email", "Department"},
					[]any{"E1001", "Jane Doe", "jane.doe@example.com", "Finance"},
					tt.row,
				)
			})
			rej, ok := validate(t, body).Rejection()
			require.True(t, ok)
			assert.Equal(t, intake.InvalidRowField, rej.Kind)
			assert.Equal(t, 3, rej.Row)
			assert.Equal(t, tt.column, rej.Column)
			assert.Equal(t, tt.cell, rej.Cell)
		})
	}
}

func TestSchemaHeaderOnly(t *testing.T) {
	body := workbook(t, func(f *excelize.File) {
		staffRows(t, f, []any{"EmpNo", "Name", "Email"})
	})
	rej, ok := validate(t, body).Rejection()
	require.True(t, ok)
	assert.Equal(t, intake.InvalidRowField, rej.Kind)
	assert.Equal(t, 2, rej.Row)
}

func TestSchemaMaxRows(t *testing.T) {
	s := staffSchema(t)
	s.MaxRows = 1
	body := workbook(t, func(f *excelize.File) { cleanStaff(t, f) })
	st := NewSchemaStage(s, DefaultLimits(), quietLogger())
	rej, ok := st.Check(context.Background(), candidate("staff.xlsx", catalog.MediaXLSX, body)).Rejection()
	require.True(t, ok)
	assert.Equal(t, intake.InvalidStructure, rej.Kind)
}

func TestSchemaCompileErrors(t *testing.T) {
	tests := []struct {
		name   string
		schema Schema
	}{
		{"no columns", Schema{}},
		{"unknown class", Schema{Columns: []Column{{Name: "A", Class: "hex"}}}},
		{"bad pattern", Schema{Columns: []Column{{Name: "A", Pattern: "("}}}},
		{"duplicate", Schema{Columns: []Column{{Name: "A"}, {Name: " a "}}}},
		{"min above max", Schema{Columns: []Column{{Name: "A"}}, MinRows: 5, MaxRows: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.schema.Compile())
		})
	}
}

func TestColumnPattern(t *testing.T) {
	s := &Schema{Columns: []Column{{Name: "Code", Required: true, Pattern: `^[A-Z]{3}-\d{2}$`}}}
	require.NoError(t, s.Compile())
	assert.Empty(t, s.Columns[0].check("ABC-12"))
	assert.NotEmpty(t, s.Columns[0].check("abc-12"))
}

func TestClassesAreAllDefined(t *testing.T) {
	for _, c := range Classes() {
		assert.Contains(t, classes, c)
	}
	assert.Len(t, classes, len(Classes()))
}

func TestSchemaRecords(t *testing.T) {
	body := workbook(t, func(f *excelize.File) {
		staffRows(t, f,
			[]any{"Email", "EmpNo", "Name"},
			[]any{"jane.doe@example.com", "E1001", " Jane Doe "},
			[]any{},
			[]any{"raj.patel@example.com", "E1002", "Raj Patel"},
		)
	})
	wb, err := Open(candidate("staff.xlsx", catalog.MediaXLSX, body), DefaultLimits())
	require.NoError(t, err)
	defer wb.Close()

	records, err := staffSchema(t).Records(wb)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, Record{"EmpNo": "E1001", "Name": "Jane Doe", "Email": "jane.doe@example.com"}, records[0])
	assert.Equal(t, "E1002", records[1]["EmpNo"])
}

func TestSchemaRecordsMissingSheet(t *testing.T) {
	body := workbook(t, func(f *excelize.File) { cleanStaff(t, f) })
	wb, err := Open(candidate("staff.xlsx", catalog.MediaXLSX, body), DefaultLimits())
	require.NoError(t, err)
	defer wb.Close()

	s := staffSchema(t)
	s.Sheet = "Payroll"
	_, err = s.Records(wb)
	require.EqualError(t, err, `sheet "Payroll" not found`)

	s.Sheet = "staff"
	records, err := s.Records(wb)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestSchemaLegacyWorkbook(t *testing.T) {
	s := &Schema{
		MinRows: 1,
		Columns: []Column{
			{Name: "Code", Required: true, Class: "alphanumeric"},
			{Name: "Name", Required: true, Class: "alphanumeric"},
			{Name: "Description", Class: "alphanumeric"},
		},
	}
	require.NoError(t, s.Compile())

	st := NewSchemaStage(s, DefaultLimits(), quietLogger())
	out := st.Check(context.Background(), legacy(t, "table.xls"))
	require.True(t, out.Accepted(), out.String())

	wb, err := Open(legacy(t, "table.xls"), DefaultLimits())
	require.NoError(t, err)
	defer wb.Close()
	records, err := s.Records(wb)
	require.NoError(t, err)
	require.Len(t, records, 11)
	assert.Equal(t, Record{"Code": "code1", "Name": "name1", "Description": "description1"}, records[0])
	assert.Equal(t, "description11", records[10]["Description"])
}
