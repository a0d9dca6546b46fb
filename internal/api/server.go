// Package api exposes the validation pipelines over HTTP and hands accepted
// files to blob storage, the audit store and the import queue.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/FileGate/internal/config"
	"github.com/dharsanguruparan/FileGate/internal/intake"
	"github.com/dharsanguruparan/FileGate/internal/model"
	"github.com/dharsanguruparan/FileGate/internal/policy"
	"github.com/dharsanguruparan/FileGate/internal/signing"
)

// Recorder is the upload audit store.
type Recorder interface {
	Create(ctx context.Context, u *model.Upload) error
	Get(ctx context.Context, id string) (*model.Upload, error)
	MarkQueued(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, msg string) error
}

// BlobStore receives the bytes of accepted uploads.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
}

// Presigner is implemented by blob stores that can hand out time-limited
// download links.
type Presigner interface {
	PresignURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Enqueuer schedules master-data imports.
type Enqueuer interface {
	Enqueue(ctx context.Context, job model.ImportJob) error
}

// Deps are the collaborators a Server is built from. Jobs may be nil, in
// which case nothing is imported.
type Deps struct {
	Config   *config.Config
	Policy   *policy.Policy
	Registry *intake.Registry
	Uploads  Recorder
	Blobs    BlobStore
	Jobs     Enqueuer
	Signer   *signing.Signer
	Logger   logrus.FieldLogger
}

// Server exposes HTTP endpoints for uploads and their receipts.
type Server struct {
	cfg      *config.Config
	policy   *policy.Policy
	registry *intake.Registry
	uploads  Recorder
	blobs    BlobStore
	jobs     Enqueuer
	signer   *signing.Signer
	names    *bluemonday.Policy
	log      *logrus.Entry
	now      func() time.Time

	server *http.Server
	once   sync.Once
}

// New constructs a Server.
func New(d Deps) *Server {
	return &Server{
		cfg:      d.Config,
		policy:   d.Policy,
		registry: d.Registry,
		uploads:  d.Uploads,
		blobs:    d.Blobs,
		jobs:     d.Jobs,
		signer:   d.Signer,
		names:    bluemonday.StrictPolicy(),
		log:      d.Logger.WithField("component", "api"),
		now:      time.Now,
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(corsMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/use-cases", s.handleUseCases)
	r.With(httprate.LimitByIP(s.cfg.RateLimit, time.Minute)).
		Post("/use-cases/{useCase}/uploads", s.handleUpload)
	r.Route("/uploads/{id}", func(r chi.Router) {
		r.Get("/", s.handleGet)
		r.Get("/receipt/verify", s.handleVerify)
		r.Get("/download-url", s.handleDownloadURL)
	})
	return r
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:              s.cfg.Address,
			Handler:           s.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.log.WithField("address", s.cfg.Address).Info("api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type useCaseInfo struct {
	Name       string   `json:"name"`
	Extensions []string `json:"extensions"`
	MinSize    int64    `json:"minSize"`
	MaxSize    int64    `json:"maxSize"`
	Stages     []string `json:"stages"`
	Import     bool     `json:"import"`
}

func (s *Server) handleUseCases(w http.ResponseWriter, _ *http.Request) {
	out := make([]useCaseInfo, 0, len(s.policy.UseCases))
	for _, name := range s.policy.Names() {
		uc := s.policy.UseCases[name]
		out = append(out, useCaseInfo{
			Name:       name,
			Extensions: uc.Extensions,
			MinSize:    int64(uc.MinSize),
			MaxSize:    int64(uc.MaxSize),
			Stages:     uc.Stages,
			Import:     uc.Import,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	u, err := s.uploads.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.notFoundOr500(w, err)
		return
	}
	respondJSON(w, http.StatusOK, u)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()
	digest, expires, signature := q.Get("sha256"), q.Get("expires"), q.Get("signature")
	if digest == "" || expires == "" || signature == "" {
		respondError(w, http.StatusBadRequest, "missing parameters")
		return
	}
	u, err := s.uploads.Get(r.Context(), id)
	if err != nil {
		s.notFoundOr500(w, err)
		return
	}
	if u.Status == model.StatusRejected || u.SHA256 != digest {
		respondError(w, http.StatusUnauthorized, signing.ErrInvalidReceipt.Error())
		return
	}
	if err := s.signer.Validate(id, digest, expires, signature, s.now()); err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"valid": true, "id": id, "status": u.Status})
}

func (s *Server) handleDownloadURL(w http.ResponseWriter, r *http.Request) {
	presigner, ok := s.blobs.(Presigner)
	if !ok {
		respondError(w, http.StatusNotImplemented, "download links are not available")
		return
	}
	u, err := s.uploads.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.notFoundOr500(w, err)
		return
	}
	if u.ObjectKey == "" {
		respondError(w, http.StatusNotFound, "upload has no stored file")
		return
	}
	link, err := presigner.PresignURL(r.Context(), u.ObjectKey, s.cfg.PresignTTL)
	if err != nil {
		s.log.WithError(err).WithField("upload_id", u.ID).Error("presign download")
		respondError(w, http.StatusInternalServerError, "failed to generate url")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": link})
}

func (s *Server) notFoundOr500(w http.ResponseWriter, err error) {
	if errors.Is(err, model.ErrNotFound) {
		respondError(w, http.StatusNotFound, "upload not found")
		return
	}
	s.log.WithError(err).Error("load upload")
	respondError(w, http.StatusInternalServerError, "failed to load upload")
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logrus.WithError(err).Warn("encode response")
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start),
		}).Debug("request")
	})
}
