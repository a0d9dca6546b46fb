package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/FileGate/internal/intake"
	"github.com/dharsanguruparan/FileGate/internal/model"
	"github.com/dharsanguruparan/FileGate/internal/policy"
	"github.com/dharsanguruparan/FileGate/internal/sheet"
)

// ErrRejected marks import failures caused by the file itself. Retrying
// them cannot succeed.
var ErrRejected = errors.New("workbook rejected")

// Blobs is the object storage the importer reads uploads from and writes
// import output to.
type Blobs interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
}

// Tracker records import progress on the upload audit record.
type Tracker interface {
	MarkImporting(ctx context.Context, id string) error
	MarkImported(ctx context.Context, id string, rows int) error
	MarkFailed(ctx context.Context, id, msg string) error
}

// ImportObserver is told how each import ended.
type ImportObserver interface {
	ObserveImport(ok bool)
}

// Importer turns an accepted master-data workbook into JSON lines, one
// record per data row keyed by schema column.
type Importer struct {
	blobs    Blobs
	uploads  Tracker
	policy   *policy.Policy
	observer ImportObserver
	log      *logrus.Entry
}

// NewImporter builds an importer. observer may be nil.
func NewImporter(blobs Blobs, uploads Tracker, pol *policy.Policy, observer ImportObserver, l logrus.FieldLogger) *Importer {
	return &Importer{
		blobs:    blobs,
		uploads:  uploads,
		policy:   pol,
		observer: observer,
		log:      l.WithField("component", "importer"),
	}
}

// OutputKey is where the records of an upload are written.
func OutputKey(uploadID string) string {
	return path.Join("imports", uploadID+".jsonl")
}

// Import runs one job and records the result on the upload.
func (im *Importer) Import(ctx context.Context, job model.ImportJob) (int, error) {
	log := im.log.WithFields(logrus.Fields{"upload": job.UploadID, "use_case": job.UseCase})
	if err := im.uploads.MarkImporting(ctx, job.UploadID); err != nil {
		return 0, fmt.Errorf("mark importing: %w", err)
	}
	rows, err := im.run(ctx, job)
	if err != nil {
		log.WithError(err).Warn("import failed")
		if markErr := im.uploads.MarkFailed(ctx, job.UploadID, err.Error()); markErr != nil {
			log.WithError(markErr).Error("could not record import failure")
		}
		im.observe(false)
		return 0, err
	}
	if err := im.uploads.MarkImported(ctx, job.UploadID, rows); err != nil {
		im.observe(false)
		return 0, fmt.Errorf("mark imported: %w", err)
	}
	im.observe(true)
	log.WithField("rows", rows).Info("import finished")
	return rows, nil
}

func (im *Importer) run(ctx context.Context, job model.ImportJob) (int, error) {
	schema, err := im.policy.SheetSchema(job.UseCase)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if schema == nil {
		return 0, fmt.Errorf("%w: use-case %q has no sheet schema", ErrRejected, job.UseCase)
	}
	data, err := im.blobs.Get(ctx, job.ObjectKey)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", job.ObjectKey, err)
	}
	c := &intake.Candidate{
		Name:        path.Base(job.ObjectKey),
		ContentType: job.ContentType,
		Size:        int64(len(data)),
		Body:        bytes.NewReader(data),
	}
	wb, err := sheet.Open(c, im.policy.SheetLimits())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	defer wb.Close()
	// The stored object is re-checked; it may not be the bytes that were
	// validated at upload time.
	if out := schema.Validate(wb); !out.Accepted() {
		return 0, fmt.Errorf("%w: %v", ErrRejected, out.Err())
	}
	records, err := schema.Records(wb)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return 0, fmt.Errorf("encode record: %w", err)
		}
	}
	key := OutputKey(job.UploadID)
	if err := im.blobs.Put(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("upload %s: %w", key, err)
	}
	return len(records), nil
}

func (im *Importer) observe(ok bool) {
	if im.observer != nil {
		im.observer.ObserveImport(ok)
	}
}
