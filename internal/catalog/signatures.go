package catalog

import (
	"bytes"
	"sort"
	"strings"
)

// SignatureEntry lists the magic-number prefixes accepted for one media type
// and the file extensions that type may legitimately carry.
type SignatureEntry struct {
	MediaType  string
	Extensions []string
	Magic      [][]byte
	// Textual entries have no magic number; the verifier samples the content
	// instead.
	Textual bool
}

// PrefixLen is the number of leading bytes needed to test every signature.
func (e SignatureEntry) PrefixLen() int {
	n := 0
	for _, m := range e.Magic {
		if len(m) > n {
			n = len(m)
		}
	}
	return n
}

// Matches reports whether any registered signature is a prefix of head.
func (e SignatureEntry) Matches(head []byte) bool {
	for _, m := range e.Magic {
		if bytes.HasPrefix(head, m) {
			return true
		}
	}
	return false
}

// AllowsExtension reports whether ext (with leading dot, any case) belongs to
// the media type.
func (e SignatureEntry) AllowsExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, allowed := range e.Extensions {
		if allowed == ext {
			return true
		}
	}
	return false
}

var (
	magicZIP   = []byte{0x50, 0x4B, 0x03, 0x04}
	magicZIP0  = []byte{0x50, 0x4B, 0x05, 0x06}
	magicZIPSp = []byte{0x50, 0x4B, 0x07, 0x08}
	magicOLE2  = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// Media types shared with the scanners.
const (
	MediaJPEG = "image/jpeg"
	MediaPNG  = "image/png"
	MediaPDF  = "application/pdf"
	MediaZIP  = "application/zip"
	MediaRAR  = "application/vnd.rar"
	MediaXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MediaXLS  = "application/vnd.ms-excel"
	MediaDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MediaDOC  = "application/msword"
	MediaText = "text/plain"
	MediaCSV  = "text/csv"
)

var signatures = map[string]SignatureEntry{
	MediaJPEG: {
		MediaType:  MediaJPEG,
		Extensions: []string{".jpg", ".jpeg"},
		Magic:      [][]byte{{0xFF, 0xD8, 0xFF}},
	},
	MediaPNG: {
		MediaType:  MediaPNG,
		Extensions: []string{".png"},
		Magic:      [][]byte{{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}},
	},
	MediaPDF: {
		MediaType:  MediaPDF,
		Extensions: []string{".pdf"},
		Magic:      [][]byte{[]byte("%PDF-")},
	},
	MediaZIP: {
		MediaType:  MediaZIP,
		Extensions: []string{".zip"},
		Magic:      [][]byte{magicZIP, magicZIP0, magicZIPSp},
	},
	MediaRAR: {
		MediaType:  MediaRAR,
		Extensions: []string{".rar"},
		Magic: [][]byte{
			{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x00},
			{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x01, 0x00},
		},
	},
	MediaXLSX: {
		MediaType:  MediaXLSX,
		Extensions: []string{".xlsx"},
		Magic:      [][]byte{magicZIP},
	},
	MediaXLS: {
		MediaType:  MediaXLS,
		Extensions: []string{".xls"},
		Magic:      [][]byte{magicOLE2},
	},
	MediaDOCX: {
		MediaType:  MediaDOCX,
		Extensions: []string{".docx"},
		Magic:      [][]byte{magicZIP},
	},
	MediaDOC: {
		MediaType:  MediaDOC,
		Extensions: []string{".doc"},
		Magic:      [][]byte{magicOLE2},
	},
	MediaText: {
		MediaType:  MediaText,
		Extensions: []string{".txt", ".log"},
		Textual:    true,
	},
	MediaCSV: {
		MediaType:  MediaCSV,
		Extensions: []string{".csv"},
		Textual:    true,
	},
}

// Browsers and operating systems disagree on a few names.
var mediaAliases = map[string]string{
	"image/jpg":                    MediaJPEG,
	"image/pjpeg":                  MediaJPEG,
	"image/x-png":                  MediaPNG,
	"application/x-pdf":            MediaPDF,
	"application/x-zip-compressed": MediaZIP,
	"application/x-zip":            MediaZIP,
	"application/x-rar-compressed": MediaRAR,
	"application/x-rar":            MediaRAR,
	"application/excel":            MediaXLS,
	"application/x-excel":          MediaXLS,
	"application/x-msexcel":        MediaXLS,
	"application/x-msword":         MediaDOC,
	"application/csv":              MediaCSV,
}

// executableHeaders are leading bytes of native executables. They are never
// acceptable as text.
var executableHeaders = [][]byte{
	[]byte("MZ"),
	{0x7F, 'E', 'L', 'F'},
	{0xCF, 0xFA, 0xED, 0xFE},
	{0xCE, 0xFA, 0xED, 0xFE},
	{0xCA, 0xFE, 0xBA, 0xBE},
}

// NormalizeMediaType lowercases t, drops parameters and folds aliases.
func NormalizeMediaType(t string) string {
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	t = strings.ToLower(strings.TrimSpace(t))
	if canonical, ok := mediaAliases[t]; ok {
		return canonical
	}
	return t
}

// LookupSignature returns the registry entry for a declared media type.
func LookupSignature(mediaType string) (SignatureEntry, bool) {
	e, ok := signatures[NormalizeMediaType(mediaType)]
	return e, ok
}

// Signatures returns every registered entry ordered by media type.
func Signatures() []SignatureEntry {
	out := make([]SignatureEntry, 0, len(signatures))
	for _, e := range signatures {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MediaType < out[j].MediaType })
	return out
}

// IsExecutableHeader reports whether head starts like a native executable.
func IsExecutableHeader(head []byte) bool {
	for _, h := range executableHeaders {
		if bytes.HasPrefix(head, h) {
			return true
		}
	}
	return false
}

// MediaTypeForExtension returns the registered media type whose extension
// list contains ext. Clients that declare no type, or a generic one, are
// treated as having declared this.
func MediaTypeForExtension(ext string) (string, bool) {
	for _, e := range Signatures() {
		if e.AllowsExtension(ext) {
			return e.MediaType, true
		}
	}
	return "", false
}
