package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/FileGate/internal/avscan"
	"github.com/dharsanguruparan/FileGate/internal/config"
	"github.com/dharsanguruparan/FileGate/internal/logging"
)

type stubEngine struct{}

func (stubEngine) Name() string { return "stub" }

func (stubEngine) Scan(context.Context, string) (avscan.Verdict, error) {
	return avscan.Verdict{}, nil
}

func TestEngineFromConfig(t *testing.T) {
	e := Engine(&config.Config{
		ScannerCommand:   "clamdscan",
		ScannerArgs:      []string{"--fdpass", "{path}"},
		ScannerMode:      avscan.ModeText,
		ScannerIndicator: "FOUND",
		ScannerTimeout:   5 * time.Second,
	})
	assert.Equal(t, "clamdscan", e.Name())
	assert.Equal(t, []string{"--fdpass", "{path}"}, e.Args)
	assert.Equal(t, avscan.ModeText, e.Mode)
}

func TestNewValidation(t *testing.T) {
	cfg := &config.Config{TempDir: t.TempDir()}
	v, err := NewValidation(cfg, logging.Discard(), stubEngine{})
	require.NoError(t, err)
	assert.Equal(t, []string{"claimImage", "masterData", "policyAttachment"}, v.Registry.UseCases())
	assert.NotNil(t, v.Metrics)

	cfg.PolicyFile = filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(cfg.PolicyFile, []byte("version: 9\n"), 0o600))
	_, err = NewValidation(cfg, logging.Discard(), stubEngine{})
	assert.Error(t, err)
}

func TestLogger(t *testing.T) {
	l, err := Logger(&config.Config{LogLevel: "debug"})
	require.NoError(t, err)
	assert.Equal(t, "debug", l.GetLevel().String())

	_, err = Logger(&config.Config{LogLevel: "chatty"})
	assert.Error(t, err)
}
