package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/FileGate/internal/queue"
)

// Processor is plugged into the asynq worker loop.
type Processor struct {
	importer *Importer
}

// NewProcessor constructs a worker processor.
func NewProcessor(importer *Importer) *Processor {
	return &Processor{importer: importer}
}

// Handler registers the import job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ImportTask, p.handleImport)
	return mux
}

func (p *Processor) handleImport(ctx context.Context, task *asynq.Task) error {
	job, err := queue.DecodeImport(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if _, err := p.importer.Import(ctx, job); err != nil {
		if errors.Is(err, ErrRejected) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	return nil
}
