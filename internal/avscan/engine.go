// Package avscan hands uploads to an external malware scanner. The scanner is
// a command run against a transient copy of the file; Adapter owns that copy
// and Stage turns verdicts into intake outcomes.
package avscan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrTimeout is returned when the engine does not answer in time.
var ErrTimeout = errors.New("malware scan timed out")

// Verdict is an engine's answer for one file.
type Verdict struct {
	Infected bool
	Threat   string
	Raw      string
}

// Engine scans a file on disk.
type Engine interface {
	Name() string
	Scan(ctx context.Context, path string) (Verdict, error)
}

// Modes a CommandEngine interprets results in.
const (
	ModeExitCode = "exitcode"
	ModeText     = "text"
)

// PathPlaceholder is replaced by the file path in CommandEngine arguments.
const PathPlaceholder = "{path}"

// CommandEngine runs a scanner binary such as clamscan or clamdscan.
type CommandEngine struct {
	Command string
	Args    []string
	Mode    string
	// Indicator marks an infected result in text mode.
	Indicator string
	Timeout   time.Duration
}

// DefaultCommand is a stand-alone clamscan invocation.
func DefaultCommand() *CommandEngine {
	return &CommandEngine{
		Command:   "clamscan",
		Args:      []string{"--no-summary", "--infected", PathPlaceholder},
		Mode:      ModeExitCode,
		Indicator: "FOUND",
		Timeout:   60 * time.Second,
	}
}

func (e *CommandEngine) Name() string { return e.Command }

func (e *CommandEngine) Scan(ctx context.Context, path string) (Verdict, error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	args := make([]string, 0, len(e.Args)+1)
	substituted := false
	for _, a := range e.Args {
		if strings.Contains(a, PathPlaceholder) {
			a = strings.ReplaceAll(a, PathPlaceholder, path)
			substituted = true
		}
		args = append(args, a)
	}
	if !substituted {
		args = append(args, path)
	}

	cmd := exec.CommandContext(ctx, e.Command, args...)
	cmd.WaitDelay = 2 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return Verdict{}, ErrTimeout
		}
		return Verdict{}, fmt.Errorf("run %s: %w", e.Command, ctxErr)
	}
	output := stdout.String()

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return Verdict{}, fmt.Errorf("run %s: %w", e.Command, err)
	}

	if e.Mode == ModeText {
		indicator := e.Indicator
		if indicator == "" {
			indicator = "FOUND"
		}
		if strings.Contains(output, indicator) {
			return Verdict{Infected: true, Threat: parseThreatName(output, indicator), Raw: output}, nil
		}
		if exitErr != nil {
			return Verdict{}, fmt.Errorf("%s exited %d: %s", e.Command, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return Verdict{Raw: output}, nil
	}

	switch {
	case exitErr == nil:
		return Verdict{Raw: output}, nil
	case exitErr.ExitCode() == 1:
		return Verdict{Infected: true, Threat: parseThreatName(output, e.Indicator), Raw: output}, nil
	default:
		return Verdict{}, fmt.Errorf("%s exited %d: %s", e.Command, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
	}
}

// parseThreatName extracts the name from "<path>: <name> FOUND" lines.
func parseThreatName(output, indicator string) string {
	if indicator == "" {
		indicator = "FOUND"
	}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasSuffix(line, indicator) {
			continue
		}
		line = strings.TrimSpace(strings.TrimSuffix(line, indicator))
		if i := strings.LastIndex(line, ": "); i >= 0 {
			line = line[i+2:]
		}
		if line != "" {
			return line
		}
	}
	return "unknown threat"
}
