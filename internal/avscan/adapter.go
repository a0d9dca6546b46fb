package avscan

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var safeExt = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

// Adapter writes a transient copy of an upload and asks the engine about it.
// The copy never outlives a Scan call.
type Adapter struct {
	engine Engine
	dir    string
	log    *logrus.Entry
}

// NewAdapter builds an adapter writing transient files under dir, or the
// system temp dir when dir is empty.
func NewAdapter(engine Engine, dir string, l logrus.FieldLogger) *Adapter {
	if dir == "" {
		dir = os.TempDir()
	}
	return &Adapter{engine: engine, dir: dir, log: l.WithField("component", "avscan")}
}

// Engine returns the configured engine.
func (a *Adapter) Engine() Engine { return a.engine }

// Scan copies r to a fresh file and scans it. The file is removed on every
// path, including an engine panic.
func (a *Adapter) Scan(ctx context.Context, name string, r io.Reader) (v Verdict, err error) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if !safeExt.MatchString(ext) {
		ext = ""
	}
	path := filepath.Join(a.dir, "scan-"+uuid.NewString()+ext)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return Verdict{}, fmt.Errorf("create scan file: %w", err)
	}
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			a.log.WithError(rmErr).Warn("transient scan file not removed")
		}
	}()

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return Verdict{}, fmt.Errorf("write scan file: %w", err)
	}
	if err := f.Close(); err != nil {
		return Verdict{}, fmt.Errorf("close scan file: %w", err)
	}

	defer func() {
		if rec := recover(); rec != nil {
			v, err = Verdict{}, fmt.Errorf("engine %s panicked: %v", a.engine.Name(), rec)
		}
	}()
	return a.engine.Scan(ctx, path)
}
