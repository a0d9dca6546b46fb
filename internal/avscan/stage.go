package avscan

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/FileGate/internal/intake"
)

// Reporter receives the result of every scan attempt: clean, infected,
// error or skipped.
type Reporter interface {
	ObserveScan(result string)
}

// Stage is the malware stage of a pipeline.
type Stage struct {
	adapter  *Adapter
	failOpen bool
	reporter Reporter
	log      *logrus.Entry
}

// NewStage builds the malware stage. With failOpen a scanner failure lets
// the file through with malware_scan=skipped; otherwise it is rejected as
// ScanUnavailable. reporter may be nil.
func NewStage(adapter *Adapter, failOpen bool, reporter Reporter, l logrus.FieldLogger) *Stage {
	return &Stage{
		adapter:  adapter,
		failOpen: failOpen,
		reporter: reporter,
		log:      l.WithField("stage", intake.StageMalware),
	}
}

func (s *Stage) Name() string { return intake.StageMalware }

func (s *Stage) Advances() intake.State { return intake.ScanComplete }

func (s *Stage) Check(ctx context.Context, c *intake.Candidate) intake.Outcome {
	v, err := s.adapter.Scan(ctx, c.Name, c.Open())
	if err != nil {
		log := s.log.WithError(err).WithField("file", c.Name)
		if s.failOpen {
			s.report("skipped")
			log.Warn("malware scan failed, accepting without scan")
			return intake.Accept(intake.Metadata{"malware_scan": "skipped"})
		}
		s.report("error")
		log.Error("malware scan failed")
		msg := "malware scanner unavailable"
		if errors.Is(err, ErrTimeout) {
			msg = "malware scan timed out"
		}
		return intake.Reject(intake.ScanUnavailable, "%s", msg)
	}
	if v.Infected {
		s.report("infected")
		s.log.WithFields(logrus.Fields{"file": c.Name, "threat": v.Threat}).Warn("malware detected")
		return intake.RejectWith(&intake.Rejection{
			Kind:    intake.MaliciousContentDetected,
			Threat:  v.Threat,
			Message: "malware detected: " + v.Threat,
		})
	}
	s.report("clean")
	return intake.Accept(intake.Metadata{
		"malware_scan": "clean",
		"scanner":      s.adapter.Engine().Name(),
	})
}

func (s *Stage) report(result string) {
	if s.reporter != nil {
		s.reporter.ObserveScan(result)
	}
}
