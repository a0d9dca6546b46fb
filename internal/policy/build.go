package policy

import (
	"errors"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/FileGate/internal/archive"
	"github.com/dharsanguruparan/FileGate/internal/avscan"
	"github.com/dharsanguruparan/FileGate/internal/catalog"
	"github.com/dharsanguruparan/FileGate/internal/content"
	"github.com/dharsanguruparan/FileGate/internal/intake"
	"github.com/dharsanguruparan/FileGate/internal/sheet"
)

// Deps are the collaborators stages are built with.
type Deps struct {
	Logger   logrus.FieldLogger
	Observer intake.Observer
	// Scanner is required when any use-case lists the malware stage.
	Scanner  *avscan.Adapter
	Reporter avscan.Reporter
}

// Build constructs one pipeline per use-case.
func (p *Policy) Build(d Deps) (*intake.Registry, error) {
	if d.Logger == nil {
		d.Logger = logrus.StandardLogger()
	}
	pipelines := make([]*intake.Pipeline, 0, len(p.UseCases))
	for _, name := range p.Names() {
		stages, err := p.stages(name, d)
		if err != nil {
			return nil, fmt.Errorf("build %s: %w", name, err)
		}
		opts := []intake.Option{intake.WithLogger(d.Logger)}
		if d.Observer != nil {
			opts = append(opts, intake.WithObserver(d.Observer))
		}
		pipelines = append(pipelines, intake.NewPipeline(name, stages, opts...))
	}
	return intake.NewRegistry(pipelines...)
}

func (p *Policy) stages(name string, d Deps) ([]intake.Stage, error) {
	uc := p.UseCases[name]
	out := make([]intake.Stage, 0, len(uc.Stages))
	for _, s := range uc.Stages {
		switch s {
		case intake.StageProperties:
			out = append(out, intake.NewPropertyGate(int64(uc.MinSize), int64(uc.MaxSize), uc.Extensions))
		case intake.StageSignature:
			out = append(out, intake.SignatureVerifier{})
		case intake.StageContent:
			out = append(out, content.NewStage(d.Logger))
		case intake.StageSpreadsheet:
			out = append(out, sheet.NewScanner(p.SheetLimits(), p.packageLimits(), d.Logger))
		case intake.StageSchema:
			schema, err := uc.Schema.compile()
			if err != nil {
				return nil, err
			}
			out = append(out, sheet.NewSchemaStage(schema, p.SheetLimits(), d.Logger))
		case intake.StageArchive:
			st := archive.NewStage(p.ArchiveLimits(), d.Logger)
			if slices.Contains(uc.Stages, intake.StageSpreadsheet) {
				// The spreadsheet stage bounds xlsx packages with its own ratio.
				st = st.Without(catalog.MediaXLSX)
			}
			out = append(out, st)
		case intake.StageMalware:
			if d.Scanner == nil {
				return nil, errors.New("malware stage listed but no scanner configured")
			}
			out = append(out, avscan.NewStage(d.Scanner, uc.ScanFailure == FailOpen, d.Reporter, d.Logger))
		default:
			return nil, fmt.Errorf("unknown stage %q", s)
		}
	}
	return out, nil
}
