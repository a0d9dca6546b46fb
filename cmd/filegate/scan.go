package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/cheggaaa/pb/v3"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/FileGate/internal/bootstrap"
	"github.com/dharsanguruparan/FileGate/internal/catalog"
	"github.com/dharsanguruparan/FileGate/internal/config"
	"github.com/dharsanguruparan/FileGate/internal/intake"
	"github.com/dharsanguruparan/FileGate/internal/logging"
)

func newScanCmd() *cobra.Command {
	var (
		useCase  string
		declared string
		quiet    bool
	)
	cmd := &cobra.Command{
		Use:   "scan <file|dir>...",
		Short: "Validate files with a use-case pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			v, err := bootstrap.NewValidation(cfg, logging.Discard(), nil)
			if err != nil {
				return err
			}
			pipeline, err := v.Registry.Get(useCase)
			if err != nil {
				return err
			}
			files, err := collect(args)
			if err != nil {
				return err
			}
			var bar *pb.ProgressBar
			if !quiet && len(files) > 1 {
				bar = pb.New(len(files)).SetWriter(cmd.ErrOrStderr()).Start()
			}
			results := make([]scanResult, 0, len(files))
			for _, path := range files {
				results = append(results, scanFile(cmd.Context(), pipeline, path, declared))
				if bar != nil {
					bar.Increment()
				}
			}
			if bar != nil {
				bar.Finish()
			}
			if rejected := report(cmd.OutOrStdout(), results); rejected > 0 {
				return fmt.Errorf("%d of %d files rejected", rejected, len(results))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&useCase, "use-case", "u", "policyAttachment", "Use-case whose pipeline is applied")
	cmd.Flags().StringVarP(&declared, "type", "t", "", "Declared media type (default: from the extension)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Hide the progress bar")
	return cmd
}

type scanResult struct {
	path string
	res  intake.Result
	err  error
}

// collect expands directories into the regular files below them.
func collect(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", arg, err)
		}
	}
	sort.Strings(files)
	return files, nil
}

func scanFile(ctx context.Context, p *intake.Pipeline, path, declared string) scanResult {
	f, err := os.Open(path)
	if err != nil {
		return scanResult{path: path, err: err}
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return scanResult{path: path, err: err}
	}
	c := &intake.Candidate{Name: filepath.Base(path), ContentType: declared, Size: info.Size(), Body: f}
	if declared == "" {
		c.ContentType, _ = catalog.MediaTypeForExtension(c.Extension())
	}
	return scanResult{path: path, res: p.Validate(ctx, c)}
}

func report(w io.Writer, results []scanResult) int {
	accept := color.New(color.FgGreen, color.Bold).SprintFunc()
	reject := color.New(color.FgRed, color.Bold).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()
	rejected := 0
	for _, r := range results {
		switch {
		case r.err != nil:
			rejected++
			fmt.Fprintf(w, "%s %s: %v\n", warn("ERROR "), r.path, r.err)
		case r.res.Accepted():
			fmt.Fprintf(w, "%s %s\n", accept("ACCEPT"), r.path)
		default:
			rejected++
			rej, _ := r.res.Rejection()
			fmt.Fprintf(w, "%s %s [%s at %s] %s\n", reject("REJECT"), r.path, rej.Code, rej.Stage, rej.Message)
		}
	}
	return rejected
}
