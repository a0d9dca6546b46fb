package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/FileGate/internal/catalog"
	"github.com/dharsanguruparan/FileGate/internal/intake"
	"github.com/dharsanguruparan/FileGate/internal/model"
	"github.com/dharsanguruparan/FileGate/internal/signing"
)

// StatusFor maps a rejection kind to the HTTP status returned to the client.
func StatusFor(k intake.Kind) int {
	switch k {
	case intake.FileTooSmall, intake.FileTooLarge, intake.InvalidExtension,
		intake.SignatureMismatch, intake.SuspiciousContent, intake.InvalidStructure,
		intake.MissingRequiredColumn, intake.InvalidRowField:
		return http.StatusBadRequest
	case intake.MaliciousContentDetected:
		return http.StatusUnprocessableEntity
	case intake.ScanUnavailable:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

type rejectionBody struct {
	Kind string `json:"kind"`
	*intake.Rejection
}

type uploadResponse struct {
	ID        string             `json:"id"`
	UseCase   string             `json:"useCase"`
	Name      string             `json:"name"`
	Status    model.UploadStatus `json:"status"`
	Metadata  intake.Metadata    `json:"metadata,omitempty"`
	Receipt   *signing.Receipt   `json:"receipt,omitempty"`
	Rejection *rejectionBody     `json:"rejection,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	useCase := chi.URLParam(r, "useCase")
	pipeline, err := s.registry.Get(useCase)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, http.StatusBadRequest, "expecting multipart form")
		return
	}
	part, err := nextFilePart(mr)
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing file part")
		return
	}
	defer part.Close()
	tmp, err := s.persistTemp(part)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.Is(err, errTooLarge) || errors.As(err, &tooBig) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer os.Remove(tmp.path)
	defer tmp.f.Close()

	id := uuid.NewString()
	log := s.log.WithFields(logrus.Fields{"upload_id": id, "use_case": useCase})
	rec := &model.Upload{
		ID:          id,
		UseCase:     useCase,
		Name:        s.names.Sanitize(path.Base(tmp.filename)),
		ContentType: tmp.contentType,
		Size:        tmp.size,
		SHA256:      tmp.digest,
	}
	res := pipeline.Validate(ctx, &intake.Candidate{
		Name:        tmp.filename,
		ContentType: tmp.contentType,
		Size:        tmp.size,
		Body:        tmp.f,
	})

	if rej, rejected := res.Rejection(); rejected {
		rec.Status = model.StatusRejected
		rec.Code = rej.Code
		rec.Stage = rej.Stage
		rec.Message = rej.Message
		if err := s.uploads.Create(ctx, rec); err != nil {
			log.WithError(err).Error("record rejection")
		}
		respondJSON(w, StatusFor(rej.Kind), uploadResponse{
			ID:        id,
			UseCase:   useCase,
			Name:      rec.Name,
			Status:    rec.Status,
			Rejection: &rejectionBody{Kind: rej.Kind.String(), Rejection: rej},
		})
		return
	}

	rec.Status = model.StatusAccepted
	rec.ObjectKey = path.Join("accepted", id+acceptedExt(tmp.filename))
	if err := s.store(ctx, rec.ObjectKey, tmp); err != nil {
		log.WithError(err).Error("store accepted upload")
		respondError(w, http.StatusInternalServerError, "failed to store file")
		return
	}
	if err := s.uploads.Create(ctx, rec); err != nil {
		log.WithError(err).Error("record upload")
		respondError(w, http.StatusInternalServerError, "failed to store metadata")
		return
	}
	status := http.StatusCreated
	if s.shouldImport(useCase) {
		if err := s.enqueueImport(ctx, rec); err != nil {
			log.WithError(err).Warn("import not queued")
			rec.Status = model.StatusFailed
		} else {
			rec.Status = model.StatusQueued
			status = http.StatusAccepted
		}
	}
	receipt := s.signer.Issue(id, tmp.digest, s.cfg.ReceiptTTL, s.now())
	respondJSON(w, status, uploadResponse{
		ID:       id,
		UseCase:  useCase,
		Name:     rec.Name,
		Status:   rec.Status,
		Metadata: res.Metadata(),
		Receipt:  &receipt,
	})
}

func (s *Server) shouldImport(useCase string) bool {
	if s.jobs == nil {
		return false
	}
	uc, err := s.policy.UseCase(useCase)
	return err == nil && uc.Import
}

func (s *Server) enqueueImport(ctx context.Context, rec *model.Upload) error {
	job := model.ImportJob{
		UploadID:    rec.ID,
		UseCase:     rec.UseCase,
		ObjectKey:   rec.ObjectKey,
		ContentType: rec.ContentType,
	}
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		_ = s.uploads.MarkFailed(ctx, rec.ID, "import could not be queued")
		return err
	}
	return s.uploads.MarkQueued(ctx, rec.ID)
}

// store uploads the original temp file, not any copy made for scanning.
func (s *Server) store(ctx context.Context, key string, tmp *tempUpload) error {
	if _, err := tmp.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind temp file: %w", err)
	}
	return s.blobs.Put(ctx, key, tmp.f, tmp.size, tmp.contentType)
}

var errTooLarge = errors.New("file exceeds request limit")

type tempUpload struct {
	f           *os.File
	path        string
	size        int64
	digest      string
	contentType string
	filename    string
}

func (s *Server) persistTemp(part *multipart.Part) (*tempUpload, error) {
	tmpFile, err := os.CreateTemp(s.cfg.TempDir, "filegate-upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	discard := func() {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
	}
	h := sha256.New()
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > s.cfg.MaxRequestBytes {
				discard()
				return nil, errTooLarge
			}
			h.Write(buf[:n])
			if _, err := tmpFile.Write(buf[:n]); err != nil {
				discard()
				return nil, fmt.Errorf("write temp file: %w", err)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			discard()
			return nil, fmt.Errorf("read file: %w", readErr)
		}
	}
	if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
		discard()
		return nil, fmt.Errorf("rewind temp file: %w", err)
	}
	filename := part.FileName()
	if filename == "" {
		filename = "upload"
	}
	return &tempUpload{
		f:           tmpFile,
		path:        tmpFile.Name(),
		size:        written,
		digest:      hex.EncodeToString(h.Sum(nil)),
		contentType: declaredType(part.Header.Get("Content-Type"), filename),
		filename:    filename,
	}, nil
}

// declaredType keeps the client's declared type unless it is missing or
// generic, in which case the type registered for the extension is used.
func declaredType(header, filename string) string {
	media := catalog.NormalizeMediaType(header)
	if media != "" && media != "application/octet-stream" {
		return header
	}
	c := intake.Candidate{Name: filename}
	if guess, ok := catalog.MediaTypeForExtension(c.Extension()); ok {
		return guess
	}
	return header
}

// acceptedExt is the lowercased extension of an accepted name, used in the
// object key only.
func acceptedExt(name string) string {
	c := intake.Candidate{Name: name}
	return c.Extension()
}

func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}
