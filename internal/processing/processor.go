// Package processing runs import jobs on an in-process goroutine pool. It
// stands in for the Redis queue when FileGate runs as a single binary.
package processing

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/FileGate/internal/model"
)

// ErrQueueFull is returned by Enqueue when the buffer has no room.
var ErrQueueFull = errors.New("processing queue full")

// Runner executes one import job.
type Runner interface {
	Import(ctx context.Context, job model.ImportJob) (int, error)
}

// Failer records a job that could not be queued.
type Failer interface {
	MarkFailed(ctx context.Context, id, msg string) error
}

// Pool consumes import jobs from a buffered channel.
type Pool struct {
	runner  Runner
	failer  Failer
	queue   chan model.ImportJob
	workers int
	log     *logrus.Entry
	wg      sync.WaitGroup
}

// New builds a Pool with queue capacity tied to worker count.
func New(runner Runner, failer Failer, workers int, l logrus.FieldLogger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		runner:  runner,
		failer:  failer,
		queue:   make(chan model.ImportJob, workers*4),
		workers: workers,
		log:     l.WithField("component", "pool"),
	}
}

// Start launches worker goroutines. They exit when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Wait blocks until every worker has returned.
func (p *Pool) Wait() { p.wg.Wait() }

// Enqueue hands a job to the pool without blocking. A full queue marks the
// upload failed so its status reflects reality.
func (p *Pool) Enqueue(ctx context.Context, job model.ImportJob) error {
	select {
	case p.queue <- job:
		return nil
	default:
		p.log.WithField("upload", job.UploadID).Warn("queue full, dropping import")
		if err := p.failer.MarkFailed(ctx, job.UploadID, ErrQueueFull.Error()); err != nil {
			p.log.WithError(err).Error("could not record dropped import")
		}
		return ErrQueueFull
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.queue:
			// Failures are recorded on the upload by the runner.
			_, _ = p.runner.Import(ctx, job)
		}
	}
}
