// Package model contains the upload record shared by the API, the audit
// stores and the import worker.
package model

import (
	"errors"
	"time"
)

// ErrNotFound is returned by every upload store for an unknown id, so callers
// can compare with errors.Is regardless of the backend.
var ErrNotFound = errors.New("upload not found")

// UploadStatus describes where an upload is in its lifecycle. A named string
// type keeps statuses from mixing with arbitrary strings.
type UploadStatus string

const (
	StatusAccepted  UploadStatus = "accepted"
	StatusRejected  UploadStatus = "rejected"
	StatusQueued    UploadStatus = "queued"
	StatusImporting UploadStatus = "importing"
	StatusImported  UploadStatus = "imported"
	StatusFailed    UploadStatus = "failed"
)

// Upload is the audit record of one validation. Rejected uploads keep the
// rejection code and stage only, never content. ObjectKey is where accepted
// bytes live in blob storage.
type Upload struct {
	ID          string       `json:"id"`
	UseCase     string       `json:"useCase"`
	Name        string       `json:"name"`
	ContentType string       `json:"contentType"`
	Size        int64        `json:"size"`
	SHA256      string       `json:"sha256,omitempty"`
	ObjectKey   string       `json:"-"`
	Status      UploadStatus `json:"status"`
	Code        string       `json:"code,omitempty"`
	Stage       string       `json:"stage,omitempty"`
	Message     string       `json:"message,omitempty"`
	Rows        int          `json:"rows,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// ImportJob asks a worker to import an accepted master-data upload.
type ImportJob struct {
	UploadID    string `json:"upload_id"`
	UseCase     string `json:"use_case"`
	ObjectKey   string `json:"object_key"`
	ContentType string `json:"content_type"`
}
