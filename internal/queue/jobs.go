package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/FileGate/internal/model"
)

// ImportTask is scheduled each time a master-data workbook is accepted.
const ImportTask = "masterdata:import"

// NewImportTask serializes the job into an asynq task.
func NewImportTask(job model.ImportJob) (*asynq.Task, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(ImportTask, data), nil
}

// DecodeImport reads the job back out of a task payload.
func DecodeImport(task *asynq.Task) (model.ImportJob, error) {
	var job model.ImportJob
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return job, fmt.Errorf("decode payload: %w", err)
	}
	if job.UploadID == "" || job.ObjectKey == "" {
		return job, fmt.Errorf("import payload missing upload id or object key")
	}
	return job, nil
}

// Client enqueues import jobs on Redis through asynq.
type Client struct {
	client *asynq.Client
}

// NewClient wraps an asynq client.
func NewClient(c *asynq.Client) *Client { return &Client{client: c} }

// Enqueue schedules an import with up to five retries.
func (c *Client) Enqueue(ctx context.Context, job model.ImportJob) error {
	task, err := NewImportTask(job)
	if err != nil {
		return err
	}
	if _, err := c.client.EnqueueContext(ctx, task, asynq.MaxRetry(5), asynq.TaskID(job.UploadID)); err != nil {
		return fmt.Errorf("enqueue import task: %w", err)
	}
	return nil
}
