package intake

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dharsanguruparan/FileGate/internal/catalog"
)

// Kind is the closed set of reasons an upload can be rejected.
type Kind int

const (
	FileTooSmall Kind = iota + 1
	FileTooLarge
	InvalidExtension
	SignatureMismatch
	SuspiciousContent
	InvalidStructure
	MaliciousContentDetected
	ScanUnavailable
	MissingRequiredColumn
	InvalidRowField
)

// Kinds lists every rejection kind in declaration order.
var Kinds = []Kind{
	FileTooSmall, FileTooLarge, InvalidExtension, SignatureMismatch,
	SuspiciousContent, InvalidStructure, MaliciousContentDetected,
	ScanUnavailable, MissingRequiredColumn, InvalidRowField,
}

func (k Kind) String() string {
	switch k {
	case FileTooSmall:
		return "FileTooSmall"
	case FileTooLarge:
		return "FileTooLarge"
	case InvalidExtension:
		return "InvalidExtension"
	case SignatureMismatch:
		return "SignatureMismatch"
	case SuspiciousContent:
		return "SuspiciousContent"
	case InvalidStructure:
		return "InvalidStructure"
	case MaliciousContentDetected:
		return "MaliciousContentDetected"
	case ScanUnavailable:
		return "ScanUnavailable"
	case MissingRequiredColumn:
		return "MissingRequiredColumn"
	case InvalidRowField:
		return "InvalidRowField"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Code is the stable machine-readable form of the kind.
func (k Kind) Code() string {
	switch k {
	case FileTooSmall:
		return "file_too_small"
	case FileTooLarge:
		return "file_too_large"
	case InvalidExtension:
		return "invalid_extension"
	case SignatureMismatch:
		return "signature_mismatch"
	case SuspiciousContent:
		return "suspicious_content"
	case InvalidStructure:
		return "invalid_structure"
	case MaliciousContentDetected:
		return "malicious_content_detected"
	case ScanUnavailable:
		return "scan_unavailable"
	case MissingRequiredColumn:
		return "missing_required_column"
	case InvalidRowField:
		return "invalid_row_field"
	default:
		return "unknown"
	}
}

// Rejection describes why a candidate was refused. Only the fields relevant to
// the kind are set.
type Rejection struct {
	Kind     Kind             `json:"-"`
	Code     string           `json:"code"`
	Message  string           `json:"message"`
	Category catalog.Category `json:"category,omitempty"`
	Pattern  string           `json:"pattern,omitempty"`
	Sheet    string           `json:"sheet,omitempty"`
	Cell     string           `json:"cell,omitempty"`
	Row      int              `json:"row,omitempty"`
	Column   string           `json:"column,omitempty"`
	Limit    int64            `json:"limit,omitempty"`
	Threat   string           `json:"threat,omitempty"`
	Stage    string           `json:"stage,omitempty"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Kind, r.Message)
}

// Metadata is descriptive information gathered by stages that passed.
type Metadata map[string]string

// Keys returns the metadata keys in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m Metadata) String() string {
	parts := make([]string, 0, len(m))
	for _, k := range m.Keys() {
		parts = append(parts, k+"="+m[k])
	}
	return strings.Join(parts, " ")
}

// Outcome is either accepted with metadata or rejected with a reason, never
// both. Build it with Accept or Reject.
type Outcome struct {
	meta      Metadata
	rejection *Rejection
}

// Accept returns an accepted outcome. meta may be nil.
func Accept(meta Metadata) Outcome {
	if meta == nil {
		meta = Metadata{}
	}
	return Outcome{meta: meta}
}

// Pass is an accepted outcome with no metadata, used by stages that do not
// apply to a candidate.
func Pass() Outcome { return Accept(nil) }

// Reject returns a rejected outcome of the given kind.
func Reject(kind Kind, format string, args ...any) Outcome {
	return RejectWith(&Rejection{Kind: kind, Message: fmt.Sprintf(format, args...)})
}

// RejectWith returns a rejected outcome carrying a fully populated rejection.
func RejectWith(r *Rejection) Outcome {
	if r.Code == "" {
		r.Code = r.Kind.Code()
		if r.Kind == SuspiciousContent && r.Category != "" {
			r.Code += "." + string(r.Category)
		}
	}
	return Outcome{rejection: r}
}

// Suspicious builds the rejection for a catalog hit.
func Suspicious(m catalog.Match, where string) Outcome {
	msg := fmt.Sprintf("suspicious content (%s) matched %q", m.Category, m.Pattern)
	if where != "" {
		msg += " in " + where
	}
	return RejectWith(&Rejection{
		Kind:     SuspiciousContent,
		Category: m.Category,
		Pattern:  m.Pattern,
		Message:  msg,
	})
}

// Accepted reports whether the outcome is an acceptance.
func (o Outcome) Accepted() bool { return o.rejection == nil }

// Rejection returns the rejection and true for rejected outcomes.
func (o Outcome) Rejection() (*Rejection, bool) {
	return o.rejection, o.rejection != nil
}

// Metadata returns the metadata of an accepted outcome and nil otherwise.
func (o Outcome) Metadata() Metadata {
	if o.rejection != nil {
		return nil
	}
	return o.meta
}

// Err returns the rejection as an error, or nil when accepted.
func (o Outcome) Err() error {
	if o.rejection == nil {
		return nil
	}
	return o.rejection
}

func (o Outcome) String() string {
	if o.rejection != nil {
		return "rejected: " + o.rejection.Error()
	}
	return "accepted " + o.meta.String()
}
