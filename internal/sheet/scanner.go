// Package sheet validates spreadsheet uploads. Scanner looks for formula,
// script and macro payloads in every cell of every sheet; SchemaStage checks
// the header and rows of master-data imports.
package sheet

import (
	"context"
	"errors"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/FileGate/internal/archive"
	"github.com/dharsanguruparan/FileGate/internal/catalog"
	"github.com/dharsanguruparan/FileGate/internal/content"
	"github.com/dharsanguruparan/FileGate/internal/intake"
)

// Scanner is the structured spreadsheet stage.
type Scanner struct {
	limits  Limits
	archive archive.Limits
	log     *logrus.Entry
}

// NewScanner builds the spreadsheet stage. pkg bounds the xlsx package the
// same way attachments are bounded.
func NewScanner(lim Limits, pkg archive.Limits, l logrus.FieldLogger) *Scanner {
	return &Scanner{limits: lim, archive: pkg, log: l.WithField("stage", intake.StageSpreadsheet)}
}

func (s *Scanner) Name() string { return intake.StageSpreadsheet }

func (s *Scanner) Advances() intake.State { return intake.ContentChecked }

func (s *Scanner) Check(_ context.Context, c *intake.Candidate) intake.Outcome {
	switch c.MediaType() {
	case catalog.MediaXLSX:
		found, err := sweepPackage(c.Body, c.Size, s.archive)
		if err != nil {
			s.log.WithError(err).WithField("file", c.Name).Debug("package sweep failed")
			return intake.Reject(intake.InvalidStructure, "workbook package could not be read")
		}
		if found != nil {
			return found.outcome()
		}
	case catalog.MediaXLS:
		macros, err := archive.HasVBAProject(c.Open())
		if err != nil {
			return intake.Reject(intake.InvalidStructure, "workbook could not be read")
		}
		if macros {
			return (&finding{
				match: catalog.Match{Set: "package", Category: catalog.CategoryActiveContent, Pattern: "_VBA_PROJECT"},
				note:  "workbook macros",
			}).outcome()
		}
	default:
		return intake.Pass()
	}

	wb, err := Open(c, s.limits)
	if err != nil {
		s.log.WithError(err).WithField("file", c.Name).Debug("workbook decode failed")
		return intake.Reject(intake.InvalidStructure, "workbook could not be decoded")
	}
	defer wb.Close()

	sheets := wb.Sheets()
	if len(sheets) == 0 {
		return intake.Reject(intake.InvalidStructure, "workbook has no sheets")
	}
	if legacy, ok := wb.(*xlsBook); ok {
		if found := legacy.index.sweep(); found != nil {
			return found.outcome()
		}
	}

	var (
		cells int
		found *finding
	)
	for _, name := range sheets {
		err := wb.Walk(name, func(row int, values []string) error {
			for i, v := range values {
				if v == "" {
					continue
				}
				cells++
				if m, hit := content.Scan(v, catalog.Cell); hit {
					found = &finding{match: m, sheet: name, cell: CellName(i+1, row)}
					return errStop
				}
			}
			return nil
		})
		if found != nil {
			return found.outcome()
		}
		if err != nil && !errors.Is(err, errStop) {
			s.log.WithError(err).WithField("file", c.Name).Debug("sheet walk failed")
			return intake.Reject(intake.InvalidStructure, "sheet %q could not be read", name)
		}
	}

	for _, dn := range wb.DefinedNames() {
		if m, hit := content.Scan(dn, catalog.Cell); hit {
			return (&finding{match: m, note: "defined name " + strconv.Quote(dn)}).outcome()
		}
	}

	if cells == 0 {
		return intake.Reject(intake.InvalidStructure, "workbook contains no data")
	}
	return intake.Accept(intake.Metadata{
		"sheets":        strconv.Itoa(len(sheets)),
		"cells_scanned": strconv.Itoa(cells),
	})
}
