package content

import (
	"bytes"
	"context"
	"io"
	"regexp"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/FileGate/internal/catalog"
	"github.com/dharsanguruparan/FileGate/internal/intake"
	pdfutil "github.com/dharsanguruparan/FileGate/internal/pdf"
)

// PDF names may spell characters as #xx, e.g. /J#61vaScript.
var pdfNameEscape = regexp.MustCompile(`#[0-9a-f]{2}`)

// Stage scans whole-file text. Plain text and CSV are charset-decoded and
// scanned; PDFs are checked for active content and their extracted text is
// scanned. Other media types pass untouched.
type Stage struct {
	log *logrus.Entry
}

// NewStage returns a content stage logging through l.
func NewStage(l logrus.FieldLogger) *Stage {
	return &Stage{log: l.WithField("stage", intake.StageContent)}
}

func (s *Stage) Name() string { return intake.StageContent }

func (s *Stage) Advances() intake.State { return intake.ContentChecked }

func (s *Stage) Check(_ context.Context, c *intake.Candidate) intake.Outcome {
	switch c.MediaType() {
	case catalog.MediaText:
		return s.checkText(c, catalog.General)
	case catalog.MediaCSV:
		return s.checkText(c, catalog.Cell)
	case catalog.MediaPDF:
		return s.checkPDF(c)
	default:
		return intake.Pass()
	}
}

func (s *Stage) checkText(c *intake.Candidate, sets []*catalog.PatternSet) intake.Outcome {
	raw, err := io.ReadAll(c.Open())
	if err != nil {
		return intake.Reject(intake.InvalidStructure, "read text: %v", err)
	}
	text, charset, err := DecodeText(raw)
	if err != nil {
		return intake.Reject(intake.InvalidStructure, "text could not be decoded: %v", err)
	}
	if m, hit := Scan(text, sets); hit {
		return intake.Suspicious(m, "")
	}
	return intake.Accept(intake.Metadata{"charset": charset, "content_scan": "clean"})
}

func (s *Stage) checkPDF(c *intake.Candidate) intake.Outcome {
	raw, err := io.ReadAll(c.Open())
	if err != nil {
		return intake.Reject(intake.InvalidStructure, "read pdf: %v", err)
	}
	lower := bytes.ToLower(raw)
	lower = pdfNameEscape.ReplaceAllFunc(lower, func(esc []byte) []byte {
		v, err := strconv.ParseUint(string(esc[1:]), 16, 8)
		if err != nil {
			return esc
		}
		return []byte{byte(v)}
	})
	if m, hit := catalog.PDFActive.Find(string(lower), ""); hit {
		return intake.Suspicious(m, "pdf structure")
	}
	text, err := pdfutil.ExtractText(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		s.log.WithError(err).WithField("file", c.Name).Debug("pdf text extraction failed")
		return intake.Reject(intake.InvalidStructure, "pdf could not be parsed")
	}
	if m, hit := Scan(text, catalog.General); hit {
		return intake.Suspicious(m, "pdf text")
	}
	return intake.Accept(intake.Metadata{"pdf_text_bytes": strconv.Itoa(len(text)), "content_scan": "clean"})
}
