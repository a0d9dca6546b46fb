package intake

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// State is the furthest point a candidate reached in a pipeline.
type State int

const (
	Start State = iota
	PropertyChecked
	SignatureChecked
	ContentChecked
	ScanComplete
	Accepted
	Rejected
)

func (s State) String() string {
	switch s {
	case Start:
		return "Start"
	case PropertyChecked:
		return "PropertyChecked"
	case SignatureChecked:
		return "SignatureChecked"
	case ContentChecked:
		return "ContentChecked"
	case ScanComplete:
		return "ScanComplete"
	case Accepted:
		return "Accepted"
	case Rejected:
		return "Rejected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Stage names used in policy files.
const (
	StageProperties  = "properties"
	StageSignature   = "signature"
	StageContent     = "content"
	StageSpreadsheet = "spreadsheet"
	StageSchema      = "schema"
	StageArchive     = "archive"
	StageMalware     = "malware"
)

// Stage is one check in a pipeline. Check must not retain c after returning
// and must leave c.Body readable by later stages.
type Stage interface {
	Name() string
	Advances() State
	Check(ctx context.Context, c *Candidate) Outcome
}

// Observer receives one call per executed stage and one per finished
// validation.
type Observer interface {
	ObserveStage(useCase, stage string, outcome Outcome, elapsed time.Duration)
	ObserveOutcome(useCase string, outcome Outcome)
}

// Result is the terminal outcome plus the state the candidate reached.
type Result struct {
	Outcome
	State State
}

// Pipeline runs an ordered stage list for one use-case and stops at the first
// rejection. It holds no per-request state and is safe for concurrent use.
type Pipeline struct {
	useCase  string
	stages   []Stage
	log      *logrus.Entry
	observer Observer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used for stage transitions.
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Pipeline) {
		p.log = l.WithField("use_case", p.useCase)
	}
}

// WithObserver registers an observer, typically the metrics collector.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// NewPipeline builds a pipeline from stages in execution order.
func NewPipeline(useCase string, stages []Stage, opts ...Option) *Pipeline {
	p := &Pipeline{
		useCase: useCase,
		stages:  append([]Stage(nil), stages...),
	}
	p.log = logrus.StandardLogger().WithField("use_case", useCase)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// UseCase returns the use-case name.
func (p *Pipeline) UseCase() string { return p.useCase }

// StageNames returns the configured stage names in order.
func (p *Pipeline) StageNames() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Validate runs every stage in order against c.
func (p *Pipeline) Validate(ctx context.Context, c *Candidate) Result {
	meta := Metadata{"use_case": p.useCase}
	state := Start
	log := p.log.WithFields(logrus.Fields{"file": c.Name, "size": c.Size})
	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return p.finish(log, stage.Name(), state, Reject(ScanUnavailable, "validation cancelled: %v", err))
		}
		started := time.Now()
		out := p.run(ctx, stage, c)
		if p.observer != nil {
			p.observer.ObserveStage(p.useCase, stage.Name(), out, time.Since(started))
		}
		if !out.Accepted() {
			return p.finish(log, stage.Name(), state, out)
		}
		for k, v := range out.Metadata() {
			meta[k] = v
		}
		if next := stage.Advances(); next > state {
			state = next
		}
		log.WithFields(logrus.Fields{"stage": stage.Name(), "state": state}).Debug("stage passed")
	}
	return p.finish(log, "", state, Accept(meta))
}

func (p *Pipeline) run(ctx context.Context, stage Stage, c *Candidate) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithFields(logrus.Fields{"stage": stage.Name(), "panic": r}).Error("stage panicked")
			out = Reject(InvalidStructure, "%s check could not process the file", stage.Name())
		}
	}()
	return stage.Check(ctx, c)
}

func (p *Pipeline) finish(log *logrus.Entry, stage string, state State, out Outcome) Result {
	if p.observer != nil {
		p.observer.ObserveOutcome(p.useCase, out)
	}
	if rej, ok := out.Rejection(); ok {
		rej.Stage = stage
		log.WithFields(logrus.Fields{
			"stage":    stage,
			"kind":     rej.Kind,
			"code":     rej.Code,
			"reached":  state,
			"category": rej.Category,
		}).Warn("upload rejected")
		return Result{Outcome: out, State: Rejected}
	}
	log.WithField("reached", state).Info("upload accepted")
	return Result{Outcome: out, State: Accepted}
}
