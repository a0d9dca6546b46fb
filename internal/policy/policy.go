// Package policy loads the per-use-case validation policy: which stages run,
// in which order, with which limits, allow-lists and sheet schema.
package policy

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/dharsanguruparan/FileGate/internal/archive"
	"github.com/dharsanguruparan/FileGate/internal/intake"
	"github.com/dharsanguruparan/FileGate/internal/sheet"
)

//go:embed default.yaml
var defaultPolicy []byte

// Scan failure modes.
const (
	FailClosed = "closed"
	FailOpen   = "open"
)

// Size is a byte count that reads "10MiB" as well as 10485760.
type Size int64

func (s *Size) UnmarshalYAML(n *yaml.Node) error {
	var raw string
	if err := n.Decode(&raw); err != nil {
		return err
	}
	v, err := humanize.ParseBytes(raw)
	if err != nil {
		return fmt.Errorf("line %d: size %q: %w", n.Line, raw, err)
	}
	*s = Size(v)
	return nil
}

func (s Size) String() string { return humanize.IBytes(uint64(s)) }

// Policy is the whole policy document.
type Policy struct {
	Version     int                `yaml:"version"`
	ScanFailure string             `yaml:"scanFailure"`
	Archive     ArchiveLimits      `yaml:"archive"`
	Spreadsheet SpreadsheetLimits  `yaml:"spreadsheet"`
	UseCases    map[string]UseCase `yaml:"useCases"`
}

// ArchiveLimits bound zip and rar attachments.
type ArchiveLimits struct {
	MaxEntries int     `yaml:"maxEntries"`
	MaxRatio   float64 `yaml:"maxRatio"`
	MaxTotal   Size    `yaml:"maxTotal"`
}

// SpreadsheetLimits bound workbook decoding.
type SpreadsheetLimits struct {
	UnzipLimit      Size    `yaml:"unzipLimit"`
	XMLLimit        Size    `yaml:"xmlLimit"`
	PackageMaxRatio float64 `yaml:"packageMaxRatio"`
}

// UseCase is the policy of one upload use-case.
type UseCase struct {
	Extensions  []string `yaml:"extensions"`
	MinSize     Size     `yaml:"minSize"`
	MaxSize     Size     `yaml:"maxSize"`
	Stages      []string `yaml:"stages"`
	ScanFailure string   `yaml:"scanFailure"`
	Import      bool     `yaml:"import"`
	Schema      *Schema  `yaml:"schema"`
}

// Schema is the YAML form of sheet.Schema.
type Schema struct {
	Sheet   string   `yaml:"sheet"`
	MinRows int      `yaml:"minRows"`
	MaxRows int      `yaml:"maxRows"`
	Columns []Column `yaml:"columns"`
}

// Column is the YAML form of sheet.Column.
type Column struct {
	Name      string `yaml:"name"`
	Required  bool   `yaml:"required"`
	Class     string `yaml:"class"`
	Pattern   string `yaml:"pattern"`
	MaxLength int    `yaml:"maxLength"`
}

var knownStages = map[string]bool{
	intake.StageProperties:  true,
	intake.StageSignature:   true,
	intake.StageContent:     true,
	intake.StageSpreadsheet: true,
	intake.StageSchema:      true,
	intake.StageArchive:     true,
	intake.StageMalware:     true,
}

// Default returns the embedded policy.
func Default() (*Policy, error) {
	return Parse(defaultPolicy)
}

// Load reads the policy at path, or the embedded default when path is empty.
func Load(path string) (*Policy, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates a policy document. Unknown keys are errors.
func Parse(data []byte) (*Policy, error) {
	var p Policy
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("policy is empty")
		}
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("policy contains multiple documents or trailing content")
	}
	p.applyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Policy) applyDefaults() {
	if p.ScanFailure == "" {
		p.ScanFailure = FailClosed
	}
	def := archive.DefaultLimits()
	if p.Archive.MaxEntries == 0 {
		p.Archive.MaxEntries = def.MaxEntries
	}
	if p.Archive.MaxRatio == 0 {
		p.Archive.MaxRatio = def.MaxRatio
	}
	if p.Archive.MaxTotal == 0 {
		p.Archive.MaxTotal = Size(def.MaxTotalBytes)
	}
	sdef := sheet.DefaultLimits()
	if p.Spreadsheet.UnzipLimit == 0 {
		p.Spreadsheet.UnzipLimit = Size(sdef.UnzipSizeLimit)
	}
	if p.Spreadsheet.XMLLimit == 0 {
		p.Spreadsheet.XMLLimit = Size(sdef.UnzipXMLSizeLimit)
	}
	if p.Spreadsheet.PackageMaxRatio == 0 {
		p.Spreadsheet.PackageMaxRatio = 2 * def.MaxRatio
	}
	for name, uc := range p.UseCases {
		if uc.ScanFailure == "" {
			uc.ScanFailure = p.ScanFailure
		}
		p.UseCases[name] = uc
	}
}

// Validate reports the first inconsistency in the policy.
func (p *Policy) Validate() error {
	if p.Version != 1 {
		return fmt.Errorf("unsupported policy version %d", p.Version)
	}
	if !validFailure(p.ScanFailure) {
		return fmt.Errorf("scanFailure must be %q or %q, got %q", FailOpen, FailClosed, p.ScanFailure)
	}
	if len(p.UseCases) == 0 {
		return errors.New("policy defines no use-cases")
	}
	for _, name := range p.Names() {
		if err := p.UseCases[name].validate(); err != nil {
			return fmt.Errorf("use-case %s: %w", name, err)
		}
	}
	return nil
}

func (uc UseCase) validate() error {
	if len(uc.Extensions) == 0 {
		return errors.New("no extensions allowed")
	}
	if uc.MaxSize <= 0 {
		return errors.New("maxSize must be set")
	}
	if uc.MinSize > uc.MaxSize {
		return fmt.Errorf("minSize %s exceeds maxSize %s", uc.MinSize, uc.MaxSize)
	}
	if !validFailure(uc.ScanFailure) {
		return fmt.Errorf("scanFailure must be %q or %q, got %q", FailOpen, FailClosed, uc.ScanFailure)
	}
	if len(uc.Stages) == 0 || uc.Stages[0] != intake.StageProperties {
		return fmt.Errorf("stages must start with %q", intake.StageProperties)
	}
	seen := map[string]bool{}
	for _, s := range uc.Stages {
		if !knownStages[s] {
			return fmt.Errorf("unknown stage %q", s)
		}
		if seen[s] {
			return fmt.Errorf("stage %q listed twice", s)
		}
		seen[s] = true
	}
	switch {
	case seen[intake.StageSchema] && uc.Schema == nil:
		return errors.New("schema stage needs a schema")
	case uc.Schema != nil && !seen[intake.StageSchema]:
		return errors.New("schema given but the schema stage is not listed")
	case uc.Import && uc.Schema == nil:
		return errors.New("import needs a schema")
	}
	if uc.Schema != nil {
		if _, err := uc.Schema.compile(); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}
	return nil
}

func validFailure(s string) bool { return s == FailOpen || s == FailClosed }

// Names returns use-case names in sorted order.
func (p *Policy) Names() []string {
	names := make([]string, 0, len(p.UseCases))
	for name := range p.UseCases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UseCase returns the named use-case.
func (p *Policy) UseCase(name string) (UseCase, error) {
	uc, ok := p.UseCases[name]
	if !ok {
		return UseCase{}, fmt.Errorf("%w: %s", intake.ErrUnknownUseCase, name)
	}
	return uc, nil
}

// SheetSchema returns the compiled schema of a use-case, or nil when it has
// none.
func (p *Policy) SheetSchema(name string) (*sheet.Schema, error) {
	uc, err := p.UseCase(name)
	if err != nil {
		return nil, err
	}
	if uc.Schema == nil {
		return nil, nil
	}
	return uc.Schema.compile()
}

// SheetLimits converts the spreadsheet section for the sheet package.
func (p *Policy) SheetLimits() sheet.Limits {
	return sheet.Limits{
		UnzipSizeLimit:    int64(p.Spreadsheet.UnzipLimit),
		UnzipXMLSizeLimit: int64(p.Spreadsheet.XMLLimit),
	}
}

// ArchiveLimits converts the archive section for the archive package.
func (p *Policy) ArchiveLimits() archive.Limits {
	return archive.Limits{
		MaxEntries:    p.Archive.MaxEntries,
		MaxRatio:      p.Archive.MaxRatio,
		MaxTotalBytes: int64(p.Archive.MaxTotal),
	}
}

// packageLimits bound the zip container of xlsx workbooks.
func (p *Policy) packageLimits() archive.Limits {
	lim := p.ArchiveLimits()
	lim.MaxRatio = p.Spreadsheet.PackageMaxRatio
	return lim
}

func (s *Schema) compile() (*sheet.Schema, error) {
	out := &sheet.Schema{
		Sheet:   s.Sheet,
		MinRows: s.MinRows,
		MaxRows: s.MaxRows,
	}
	for _, c := range s.Columns {
		out.Columns = append(out.Columns, sheet.Column{
			Name:      c.Name,
			Required:  c.Required,
			Class:     c.Class,
			Pattern:   c.Pattern,
			MaxLength: c.MaxLength,
		})
	}
	if err := out.Compile(); err != nil {
		return nil, err
	}
	return out, nil
}

// Describe renders one line per use-case for operators.
func (p *Policy) Describe() string {
	var b strings.Builder
	for _, name := range p.Names() {
		uc := p.UseCases[name]
		fmt.Fprintf(&b, "%s: %s (ext %s, %s-%s, scan failure %s",
			name, strings.Join(uc.Stages, " -> "), strings.Join(uc.Extensions, ","),
			uc.MinSize, uc.MaxSize, uc.ScanFailure)
		if uc.Import {
			b.WriteString(", import")
		}
		b.WriteString(")\n")
	}
	return b.String()
}
