package archive

import (
	"context"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/FileGate/internal/catalog"
	"github.com/dharsanguruparan/FileGate/internal/intake"
)

// Stage inspects zip, rar and zip-based office attachments, and checks legacy
// .doc files for macros. Other media types pass untouched.
type Stage struct {
	limits Limits
	skip   map[string]bool
	log    *logrus.Entry
}

// NewStage builds an archive stage.
func NewStage(limits Limits, l logrus.FieldLogger) *Stage {
	return &Stage{limits: limits, log: l.WithField("stage", intake.StageArchive)}
}

// Without returns a copy of the stage that passes the given media types
// untouched, for use-cases where another stage already inspects their
// container.
func (s *Stage) Without(mediaTypes ...string) *Stage {
	out := *s
	out.skip = make(map[string]bool, len(s.skip)+len(mediaTypes))
	for t := range s.skip {
		out.skip[t] = true
	}
	for _, t := range mediaTypes {
		out.skip[catalog.NormalizeMediaType(t)] = true
	}
	return &out
}

func (s *Stage) Name() string { return intake.StageArchive }

func (s *Stage) Advances() intake.State { return intake.ContentChecked }

func (s *Stage) Check(_ context.Context, c *intake.Candidate) intake.Outcome {
	var (
		entries []Entry
		err     error
	)
	if s.skip[c.MediaType()] {
		return intake.Pass()
	}
	switch c.MediaType() {
	case catalog.MediaDOC:
		return s.checkLegacy(c)
	case catalog.MediaZIP, catalog.MediaDOCX, catalog.MediaXLSX:
		entries, err = ListZip(c.Body, c.Size)
	case catalog.MediaRAR:
		entries, err = ListRar(c.Open(), s.limits.MaxEntries)
	default:
		return intake.Pass()
	}
	if err != nil {
		s.log.WithError(err).WithField("file", c.Name).Debug("archive listing failed")
		return intake.Reject(intake.InvalidStructure, "archive could not be read")
	}
	if len(entries) == 0 {
		return intake.Reject(intake.InvalidStructure, "archive is empty")
	}
	if f := Inspect(entries, c.Size, s.limits); f != nil {
		return intake.RejectWith(&intake.Rejection{
			Kind:     intake.SuspiciousContent,
			Category: f.Category,
			Pattern:  f.Entry,
			Message:  "archive rejected: " + f.String(),
		})
	}
	return intake.Accept(intake.Metadata{"archive_entries": strconv.Itoa(len(entries))})
}

func (s *Stage) checkLegacy(c *intake.Candidate) intake.Outcome {
	macros, err := HasVBAProject(c.Open())
	if err != nil {
		s.log.WithError(err).WithField("file", c.Name).Debug("document read failed")
		return intake.Reject(intake.InvalidStructure, "document could not be read")
	}
	if macros {
		return intake.RejectWith(&intake.Rejection{
			Kind:     intake.SuspiciousContent,
			Category: catalog.CategoryActiveContent,
			Pattern:  "_VBA_PROJECT",
			Message:  "document rejected: embedded macro code",
		})
	}
	return intake.Pass()
}
