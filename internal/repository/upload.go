package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/FileGate/internal/model"
)

// ErrNotFound is model.ErrNotFound, re-exported for callers of this package.
var ErrNotFound = model.ErrNotFound

// UploadRepository wraps all SQL used by the API and the import worker.
type UploadRepository struct {
	pool *pgxpool.Pool
}

// NewUploadRepository constructs a repository.
func NewUploadRepository(pool *pgxpool.Pool) *UploadRepository {
	return &UploadRepository{pool: pool}
}

// Create records a validation result.
func (r *UploadRepository) Create(ctx context.Context, u *model.Upload) error {
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	_, err := r.pool.Exec(ctx, `
		INSERT INTO uploads (id, use_case, file_name, content_type, size_bytes, sha256, object_key, status, code, stage, message, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),NULLIF($7,''),$8,NULLIF($9,''),NULLIF($10,''),NULLIF($11,''),$12,$13)
	`, u.ID, u.UseCase, u.Name, u.ContentType, u.Size, u.SHA256, u.ObjectKey, u.Status, u.Code, u.Stage, u.Message, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}
	return nil
}

// Get returns an upload by id.
func (r *UploadRepository) Get(ctx context.Context, id string) (*model.Upload, error) {
	var (
		u                          model.Upload
		sum, key, code, stage, msg sql.NullString
	)
	row := r.pool.QueryRow(ctx, `
		SELECT id, use_case, file_name, content_type, size_bytes, sha256, object_key, status, code, stage, message, rows_imported, created_at, updated_at
		FROM uploads WHERE id=$1
	`, id)
	err := row.Scan(&u.ID, &u.UseCase, &u.Name, &u.ContentType, &u.Size, &sum, &key, &u.Status, &code, &stage, &msg, &u.Rows, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select upload: %w", err)
	}
	u.SHA256 = sum.String
	u.ObjectKey = key.String
	u.Code = code.String
	u.Stage = stage.String
	u.Message = msg.String
	return &u, nil
}

// MarkQueued records that an import job was enqueued.
func (r *UploadRepository) MarkQueued(ctx context.Context, id string) error {
	return r.updateStatus(ctx, id, model.StatusQueued, nil, nil)
}

// MarkImporting sets the status to importing.
func (r *UploadRepository) MarkImporting(ctx context.Context, id string) error {
	return r.updateStatus(ctx, id, model.StatusImporting, nil, nil)
}

// MarkImported stores the number of imported rows.
func (r *UploadRepository) MarkImported(ctx context.Context, id string, rows int) error {
	return r.updateStatus(ctx, id, model.StatusImported, &rows, nil)
}

// MarkFailed marks the import as failed and stores the message.
func (r *UploadRepository) MarkFailed(ctx context.Context, id, msg string) error {
	return r.updateStatus(ctx, id, model.StatusFailed, nil, &msg)
}

func (r *UploadRepository) updateStatus(ctx context.Context, id string, status model.UploadStatus, rows *int, msg *string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE uploads
		SET status=$1,
			rows_imported = COALESCE($2, rows_imported),
			message = $3,
			updated_at=$4
		WHERE id=$5
	`, status, rows, msg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update upload: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
