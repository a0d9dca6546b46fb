// Package bootstrap assembles what every FileGate binary needs: the logger,
// the policy and the pipelines built from it.
package bootstrap

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/FileGate/internal/avscan"
	"github.com/dharsanguruparan/FileGate/internal/config"
	"github.com/dharsanguruparan/FileGate/internal/intake"
	"github.com/dharsanguruparan/FileGate/internal/logging"
	"github.com/dharsanguruparan/FileGate/internal/metrics"
	"github.com/dharsanguruparan/FileGate/internal/policy"
)

// Logger builds the process logger from configuration.
func Logger(cfg *config.Config) (*logrus.Logger, error) {
	return logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, JSON: cfg.LogJSON})
}

// Engine is the configured scanner command.
func Engine(cfg *config.Config) *avscan.CommandEngine {
	return &avscan.CommandEngine{
		Command:   cfg.ScannerCommand,
		Args:      cfg.ScannerArgs,
		Mode:      cfg.ScannerMode,
		Indicator: cfg.ScannerIndicator,
		Timeout:   cfg.ScannerTimeout,
	}
}

// Validation is the loaded policy and the pipelines built from it.
type Validation struct {
	Policy   *policy.Policy
	Registry *intake.Registry
	Metrics  *metrics.Collector
}

// NewValidation loads the policy named by cfg and builds one pipeline per
// use-case. A nil engine means the configured command.
func NewValidation(cfg *config.Config, log logrus.FieldLogger, engine avscan.Engine) (*Validation, error) {
	pol, err := policy.Load(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	if engine == nil {
		engine = Engine(cfg)
	}
	m := metrics.New()
	reg, err := pol.Build(policy.Deps{
		Logger:   log,
		Observer: m,
		Scanner:  avscan.NewAdapter(engine, cfg.TempDir, log),
		Reporter: m,
	})
	if err != nil {
		return nil, fmt.Errorf("build pipelines: %w", err)
	}
	return &Validation{Policy: pol, Registry: reg, Metrics: m}, nil
}
