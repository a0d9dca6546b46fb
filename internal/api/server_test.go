package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/dharsanguruparan/FileGate/internal/avscan"
	"github.com/dharsanguruparan/FileGate/internal/catalog"
	"github.com/dharsanguruparan/FileGate/internal/config"
	"github.com/dharsanguruparan/FileGate/internal/intake"
	"github.com/dharsanguruparan/FileGate/internal/logging"
	"github.com/dharsanguruparan/FileGate/internal/model"
	"github.com/dharsanguruparan/FileGate/internal/policy"
	"github.com/dharsanguruparan/FileGate/internal/signing"
	"github.com/dharsanguruparan/FileGate/internal/storage"
)

type cleanEngine struct{}

func (cleanEngine) Name() string { return "clean" }

func (cleanEngine) Scan(context.Context, string) (avscan.Verdict, error) {
	return avscan.Verdict{}, nil
}

type jobSink struct {
	mu   sync.Mutex
	jobs []model.ImportJob
	err  error
}

func (j *jobSink) Enqueue(_ context.Context, job model.ImportJob) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.jobs = append(j.jobs, job)
	return nil
}

type presigningBlobs struct {
	*storage.MemoryBlobs
}

func (presigningBlobs) PresignURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://blobs.example/%s?ttl=%s", key, ttl), nil
}

type harness struct {
	cfg     *config.Config
	uploads *storage.MemoryStore
	blobs   *storage.MemoryBlobs
	jobs    *jobSink
	handler http.Handler
}

func newHarness(t *testing.T, tweak func(*config.Config)) *harness {
	t.Helper()
	cfg := &config.Config{
		TempDir:         t.TempDir(),
		MaxRequestBytes: 32 << 20,
		RateLimit:       100,
		ReceiptTTL:      time.Hour,
	}
	if tweak != nil {
		tweak(cfg)
	}
	return buildHarness(t, cfg, nil)
}

func buildHarness(t *testing.T, cfg *config.Config, wrap func(*storage.MemoryBlobs) BlobStore) *harness {
	t.Helper()
	pol, err := policy.Default()
	require.NoError(t, err)
	log := logging.Discard()
	reg, err := pol.Build(policy.Deps{Logger: log, Scanner: avscan.NewAdapter(cleanEngine{}, t.TempDir(), log)})
	require.NoError(t, err)
	h := &harness{
		cfg:     cfg,
		uploads: storage.NewMemoryStore(),
		blobs:   storage.NewMemoryBlobs(),
		jobs:    &jobSink{},
	}
	var blobs BlobStore = h.blobs
	if wrap != nil {
		blobs = wrap(h.blobs)
	}
	h.handler = New(Deps{
		Config:   cfg,
		Policy:   pol,
		Registry: reg,
		Uploads:  h.uploads,
		Blobs:    blobs,
		Jobs:     h.jobs,
		Signer:   signing.NewSigner([]byte("test-secret")),
		Logger:   log,
	}).Handler()
	return h
}

func (h *harness) upload(t *testing.T, useCase, name, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "ignored"))
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, name))
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(body)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/use-cases/"+useCase+"/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) get(target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func staffWorkbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	rows := [][]any{
		{"EmpNo", "Name", "Email"},
		{"E1001", "Jane Doe", "jane.doe@example.com"},
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &r))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

type response struct {
	ID        string             `json:"id"`
	Status    model.UploadStatus `json:"status"`
	Metadata  map[string]string  `json:"metadata"`
	Receipt   *signing.Receipt   `json:"receipt"`
	Rejection map[string]any     `json:"rejection"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) response {
	t.Helper()
	var out response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestUploadAcceptedMasterData(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.upload(t, "masterData", "sample.xlsx", catalog.MediaXLSX, staffWorkbook(t))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	out := decode(t, rec)
	assert.Equal(t, model.StatusQueued, out.Status)
	assert.Equal(t, "1", out.Metadata["data_rows"])
	require.NotNil(t, out.Receipt)

	stored, err := h.uploads.Get(context.Background(), out.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, stored.Status)
	assert.Equal(t, "accepted/"+out.ID+".xlsx", stored.ObjectKey)
	assert.Equal(t, out.Receipt.SHA256, stored.SHA256)

	blob, err := h.blobs.Get(context.Background(), stored.ObjectKey)
	require.NoError(t, err)
	assert.Equal(t, staffWorkbook(t)[:4], blob[:4])

	require.Len(t, h.jobs.jobs, 1)
	assert.Equal(t, model.ImportJob{
		UploadID:    out.ID,
		UseCase:     "masterData",
		ObjectKey:   stored.ObjectKey,
		ContentType: catalog.MediaXLSX,
	}, h.jobs.jobs[0])

	t.Run("lookup hides object key", func(t *testing.T) {
		got := h.get("/uploads/" + out.ID)
		require.Equal(t, http.StatusOK, got.Code)
		assert.NotContains(t, got.Body.String(), "accepted/")
		assert.Contains(t, got.Body.String(), `"status":"queued"`)
	})

	t.Run("receipt verifies", func(t *testing.T) {
		q := url.Values{
			"sha256":    {out.Receipt.SHA256},
			"expires":   {fmt.Sprint(out.Receipt.Expires)},
			"signature": {out.Receipt.Signature},
		}
		got := h.get("/uploads/" + out.ID + "/receipt/verify?" + q.Encode())
		assert.Equal(t, http.StatusOK, got.Code, got.Body.String())

		q.Set("signature", strings.Repeat("0", 64))
		got = h.get("/uploads/" + out.ID + "/receipt/verify?" + q.Encode())
		assert.Equal(t, http.StatusUnauthorized, got.Code)

		got = h.get("/uploads/" + out.ID + "/receipt/verify")
		assert.Equal(t, http.StatusBadRequest, got.Code)
	})
}

func TestDownloadURL(t *testing.T) {
	plain := newHarness(t, nil)
	rec := plain.upload(t, "masterData", "sample.xlsx", catalog.MediaXLSX, staffWorkbook(t))
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := decode(t, rec).ID
	assert.Equal(t, http.StatusNotImplemented, plain.get("/uploads/"+id+"/download-url").Code)

	cfg := &config.Config{TempDir: t.TempDir(), MaxRequestBytes: 32 << 20, RateLimit: 100, ReceiptTTL: time.Hour, PresignTTL: 5 * time.Minute}
	h := buildHarness(t, cfg, func(m *storage.MemoryBlobs) BlobStore { return presigningBlobs{m} })
	rec = h.upload(t, "masterData", "sample.xlsx", catalog.MediaXLSX, staffWorkbook(t))
	require.Equal(t, http.StatusAccepted, rec.Code)
	id = decode(t, rec).ID

	got := h.get("/uploads/" + id + "/download-url")
	require.Equal(t, http.StatusOK, got.Code, got.Body.String())
	assert.Contains(t, got.Body.String(), "https://blobs.example/accepted/"+id+".xlsx?ttl=5m0s")

	rec = h.upload(t, "claimImage", "claim.gif", "image/gif", []byte("GIF89a"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rejected := decode(t, rec).ID
	assert.Equal(t, http.StatusNotFound, h.get("/uploads/"+rejected+"/download-url").Code)
	assert.Equal(t, http.StatusNotFound, h.get("/uploads/missing/download-url").Code)
}

func TestUploadEnqueueFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.jobs.err = fmt.Errorf("redis down")
	rec := h.upload(t, "masterData", "sample.xlsx", catalog.MediaXLSX, staffWorkbook(t))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decode(t, rec)
	assert.Equal(t, model.StatusFailed, out.Status)

	stored, err := h.uploads.Get(context.Background(), out.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, stored.Status)
}

func TestUploadRejected(t *testing.T) {
	h := newHarness(t, nil)
	body := []byte(strings.Repeat("EmpNo,Name,Email\n", 40))
	// No declared type: the extension decides what the client claims.
	rec := h.upload(t, "masterData", "sample.xlsx", "", body)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	out := decode(t, rec)
	assert.Equal(t, model.StatusRejected, out.Status)
	assert.Nil(t, out.Receipt)
	assert.Equal(t, "SignatureMismatch", out.Rejection["kind"])
	assert.Equal(t, "signature_mismatch", out.Rejection["code"])
	assert.Equal(t, intake.StageSignature, out.Rejection["stage"])

	stored, err := h.uploads.Get(context.Background(), out.ID)
	require.NoError(t, err)
	assert.Equal(t, "signature_mismatch", stored.Code)
	assert.Empty(t, stored.ObjectKey)
	assert.Empty(t, h.jobs.jobs)

	q := url.Values{"sha256": {stored.SHA256}, "expires": {"9999999999"}, "signature": {"00"}}
	got := h.get("/uploads/" + out.ID + "/receipt/verify?" + q.Encode())
	assert.Equal(t, http.StatusUnauthorized, got.Code)
}

func TestUploadNameIsSanitized(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.upload(t, "claimImage", "<b>x</b>.exe", "image/jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotContains(t, rec.Body.String(), "<b>")
}

func TestUploadRequestErrors(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.MaxRequestBytes = 1024 })

	rec := h.upload(t, "payroll", "a.pdf", catalog.MediaPDF, []byte("%PDF-1.7"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.upload(t, "claimImage", "big.jpg", catalog.MediaJPEG, bytes.Repeat([]byte{0xFF}, 4096))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/use-cases/claimImage/uploads", strings.NewReader("plain"))
	req.Header.Set("Content-Type", "text/plain")
	plain := httptest.NewRecorder()
	h.handler.ServeHTTP(plain, req)
	assert.Equal(t, http.StatusBadRequest, plain.Code)

	assert.Equal(t, http.StatusNotFound, h.get("/uploads/missing").Code)
}

func TestInfoEndpoints(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, http.StatusOK, h.get("/healthz").Code)
	assert.Equal(t, http.StatusOK, h.get("/metrics").Code)

	rec := h.get("/use-cases")
	require.Equal(t, http.StatusOK, rec.Code)
	var cases []useCaseInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cases))
	require.Len(t, cases, 3)
	assert.Equal(t, "claimImage", cases[0].Name)
	assert.Equal(t, int64(20<<20), cases[0].MaxSize)
	assert.True(t, cases[1].Import)
}

func TestStatusFor(t *testing.T) {
	want := map[intake.Kind]int{
		intake.MaliciousContentDetected: http.StatusUnprocessableEntity,
		intake.ScanUnavailable:          http.StatusInternalServerError,
	}
	for _, k := range intake.Kinds {
		expected, ok := want[k]
		if !ok {
			expected = http.StatusBadRequest
		}
		assert.Equal(t, expected, StatusFor(k), k.String())
	}
}
