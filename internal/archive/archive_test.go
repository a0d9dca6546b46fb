package archive

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeka/zip"

	"github.com/dharsanguruparan/FileGate/internal/catalog"
	"github.com/dharsanguruparan/FileGate/internal/intake"
)

type zipEntry struct {
	name      string
	body      []byte
	encrypted bool
}

func buildZip(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, e := range entries {
		var (
			fw  io.Writer
			err error
		)
		if e.encrypted {
			fw, err = w.Encrypt(e.name, "secret", zip.AES256Encryption)
		} else {
			fw, err = w.CreateHeader(&zip.FileHeader{Name: e.name, Method: zip.Deflate})
		}
		require.NoError(t, err)
		_, err = fw.Write(e.body)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func check(t *testing.T, mediaType, name string, body []byte) intake.Outcome {
	t.Helper()
	s := NewStage(DefaultLimits(), quietLogger())
	c := &intake.Candidate{Name: name, ContentType: mediaType, Size: int64(len(body)), Body: bytes.NewReader(body)}
	return s.Check(context.Background(), c)
}

func TestStageAcceptsOrdinaryZip(t *testing.T) {
	body := buildZip(t,
		zipEntry{name: "invoices/", body: nil},
		zipEntry{name: "invoices/march.pdf", body: []byte("%PDF-1.4 invoice")},
		zipEntry{name: "photos/front.jpg", body: []byte{0xFF, 0xD8, 0xFF, 0xE0}},
	)
	out := check(t, catalog.MediaZIP, "claim.zip", body)
	require.True(t, out.Accepted(), out.String())
	assert.Equal(t, "3", out.Metadata()["archive_entries"])
}

func TestStageRejectsDangerousEntries(t *testing.T) {
	tests := []struct {
		name     string
		entry    zipEntry
		category catalog.Category
	}{
		{"executable", zipEntry{name: "docs/readme.exe", body: []byte("MZ")}, catalog.CategoryArchive},
		{"script", zipEntry{name: "run.PS1", body: []byte("Get-Process")}, catalog.CategoryArchive},
		{"traversal", zipEntry{name: "../../etc/cron.d/job", body: []byte("x")}, catalog.CategoryArchive},
		{"windows absolute", zipEntry{name: `C:\Windows\evil.txt`, body: []byte("x")}, catalog.CategoryArchive},
		{"encrypted", zipEntry{name: "secret.txt", body: []byte("hidden"), encrypted: true}, catalog.CategoryArchive},
		{"macro", zipEntry{name: "word/vbaProject.bin", body: []byte("vba")}, catalog.CategoryActiveContent},
		{"bomb", zipEntry{name: "zeros.txt", body: make([]byte, 4<<20)}, catalog.CategoryArchive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := buildZip(t, zipEntry{name: "ok.txt", body: []byte("fine")}, tt.entry)
			rej, ok := check(t, catalog.MediaZIP, "claim.zip", body).Rejection()
			require.True(t, ok)
			assert.Equal(t, intake.SuspiciousContent, rej.Kind)
			assert.Equal(t, tt.category, rej.Category)
		})
	}
}

func TestStageCorruptArchives(t *testing.T) {
	rej, ok := check(t, catalog.MediaZIP, "claim.zip", []byte("PK\x03\x04 truncated")).Rejection()
	require.True(t, ok)
	assert.Equal(t, intake.InvalidStructure, rej.Kind)

	rej, ok = check(t, catalog.MediaRAR, "claim.rar", []byte("Rar!\x1a\x07\x00 garbage header")).Rejection()
	require.True(t, ok)
	assert.Equal(t, intake.InvalidStructure, rej.Kind)
}

func TestStageIgnoresOtherTypes(t *testing.T) {
	assert.True(t, check(t, catalog.MediaPNG, "a.png", []byte("whatever")).Accepted())
}

func TestInspectEntryLimit(t *testing.T) {
	entries := make([]Entry, 5)
	for i := range entries {
		entries[i] = Entry{Name: "f.txt", Compressed: 1, Uncompressed: 1}
	}
	f := Inspect(entries, 100, Limits{MaxEntries: 4})
	require.NotNil(t, f)
	assert.Contains(t, f.String(), "more than 4 entries")
	assert.Nil(t, Inspect(entries, 100, Limits{MaxEntries: 5}))
}

func TestInspectTotalExpansion(t *testing.T) {
	entries := []Entry{
		{Name: "a.txt", Compressed: 10, Uncompressed: 600},
		{Name: "b.txt", Compressed: 10, Uncompressed: 600},
	}
	f := Inspect(entries, 20, Limits{MaxTotalBytes: 1000})
	require.NotNil(t, f)
	assert.Equal(t, catalog.CategoryArchive, f.Category)

	// Overall ratio is measured against the container size.
	f = Inspect(entries, 10, Limits{MaxRatio: 100})
	require.NotNil(t, f)
	assert.Contains(t, f.Reason, "overall")
}

func TestStageLegacyDocumentMacros(t *testing.T) {
	ole := append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, make([]byte, 504)...)

	rej, ok := check(t, catalog.MediaDOC, "claim.doc", append(ole, vbaStorage...)).Rejection()
	require.True(t, ok)
	assert.Equal(t, intake.SuspiciousContent, rej.Kind)
	assert.Equal(t, catalog.CategoryActiveContent, rej.Category)
	assert.Equal(t, "_VBA_PROJECT", rej.Pattern)

	out := check(t, catalog.MediaDOC, "claim.doc", append(ole, utf16le("WordDocument")...))
	assert.True(t, out.Accepted(), out.String())
}

func TestHasVBAProject(t *testing.T) {
	found, err := HasVBAProject(bytes.NewReader(utf16le("x_VBA_PROJECT_CURy")))
	require.NoError(t, err)
	assert.True(t, found)

	found, err = HasVBAProject(bytes.NewReader([]byte("_VBA_PROJECT")))
	require.NoError(t, err)
	assert.False(t, found, "storage names are UTF-16")
}

func TestStageWithoutSkipsMediaTypes(t *testing.T) {
	s := NewStage(DefaultLimits(), quietLogger())
	body := []byte("PK\x03\x04 truncated")
	c := func() *intake.Candidate {
		return &intake.Candidate{Name: "staff.xlsx", ContentType: catalog.MediaXLSX, Size: int64(len(body)), Body: bytes.NewReader(body)}
	}

	_, rejected := s.Check(context.Background(), c()).Rejection()
	require.True(t, rejected)

	skipping := s.Without(catalog.MediaXLSX)
	assert.True(t, skipping.Check(context.Background(), c()).Accepted())

	zipped := &intake.Candidate{Name: "claim.zip", ContentType: catalog.MediaZIP, Size: int64(len(body)), Body: bytes.NewReader(body)}
	_, rejected = skipping.Check(context.Background(), zipped).Rejection()
	assert.True(t, rejected, "other types are still inspected")

	_, rejected = s.Check(context.Background(), c()).Rejection()
	assert.True(t, rejected, "Without leaves the original stage unchanged")
}
