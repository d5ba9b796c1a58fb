// File: cmd/analyze.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/jaw/internal/analysis/engine"
	"github.com/xkilldash9x/jaw/internal/config"
	"github.com/xkilldash9x/jaw/internal/observability"
	"github.com/xkilldash9x/jaw/internal/parser"
)

var sourceExts = map[string]bool{".js": true, ".mjs": true, ".cjs": true}

type analyzeOptions struct {
	format      string
	out         string
	noInter     bool
	noPage      bool
	noEvents    bool
	aliasCutoff int
	vendored    bool
}

// newAnalyzeCmd creates and configures the `analyze` command.
func newAnalyzeCmd() *cobra.Command {
	var opts analyzeOptions

	cmd := &cobra.Command{
		Use:   "analyze [paths...]",
		Short: "Analyze JavaScript files as one program",
		Long: `Parses the given files, and the JavaScript files under the given directories,
as one page. It builds scopes, control flow, def-use pairs, the call graph and the
event graph, and prints either a summary or the node/edge stream as JSON.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			applyFlags(cmd, cfg, opts)

			return runAnalyze(ctx, logger, cfg, args, opts.vendored, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.format, "format", "f", config.FormatSummary, "output format: 'summary' or 'json'")
	flags.StringVarP(&opts.out, "out", "o", "", "output file; stdout when unset")
	flags.BoolVar(&opts.noInter, "no-inter", false, "skip inter-procedural composition")
	flags.BoolVar(&opts.noPage, "no-page", false, "skip page composition over event handlers")
	flags.BoolVar(&opts.noEvents, "no-events", false, "skip the event graph")
	flags.IntVar(&opts.aliasCutoff, "alias-cutoff", 0, "maximum alias pairs matched against the call graph; 0 disables aliasing")
	flags.BoolVar(&opts.vendored, "include-vendored", false, "descend into node_modules directories")
	return cmd
}

// applyFlags overrides file and environment values with the flags the user
// actually set.
func applyFlags(cmd *cobra.Command, cfg config.Interface, opts analyzeOptions) {
	flags := cmd.Flags()
	if flags.Changed("format") {
		cfg.SetOutputFormat(strings.ToLower(opts.format))
	}
	if flags.Changed("out") {
		cfg.SetOutputPath(opts.out)
	}
	if opts.noInter {
		cfg.SetInterProcedural(false)
	}
	if opts.noPage {
		cfg.SetIntraPage(false)
	}
	if opts.noEvents {
		cfg.SetEventGraph(false)
	}
	if flags.Changed("alias-cutoff") {
		cfg.SetAliasCutoff(opts.aliasCutoff)
	}
}

// runAnalyze contains the core, testable logic of the analyze command.
func runAnalyze(ctx context.Context, logger *zap.Logger, cfg config.Interface, paths []string, vendored bool, stdout io.Writer) error {
	out := cfg.Output()
	if out.Format != config.FormatJSON && out.Format != config.FormatSummary {
		return fmt.Errorf("unknown output format %q", out.Format)
	}
	if cfg.Analysis().AliasCutoff < 0 {
		return fmt.Errorf("alias cutoff must not be negative")
	}

	files, err := loadSources(logger, paths, cfg.Parser().MaxFileBytes, vendored)
	if err != nil {
		return err
	}

	p := parser.New(logger,
		parser.WithMaxBytes(cfg.Parser().MaxFileBytes),
		parser.WithConcurrency(cfg.Parser().Concurrency))
	trees, err := p.ParseFiles(ctx, files)
	if err != nil {
		return fmt.Errorf("failed to parse sources: %w", err)
	}

	session := engine.NewSession(logger, cfg.Analysis(), p.IDs(), engine.WithExprParser(p))
	res, err := session.Analyze(ctx, trees)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	w := stdout
	if out.Path != "" {
		f, err := os.Create(out.Path)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil {
				logger.Warn("Failed to close output file cleanly.", zap.Error(cerr))
			}
		}()
		w = f
	}

	switch out.Format {
	case config.FormatJSON:
		err = writeStream(w, res)
	default:
		err = writeSummary(w, res)
	}
	if err != nil {
		return err
	}
	if out.Path != "" {
		logger.Info("Output written to file", zap.String("path", out.Path), zap.String("format", out.Format))
	}
	return nil
}

// loadSources reads the named files and the JavaScript files below the named
// directories. Empty and oversized files are skipped with a warning.
func loadSources(logger *zap.Logger, paths []string, maxBytes int, vendored bool) ([]parser.File, error) {
	var names []string
	seen := make(map[string]bool)
	add := func(name string) {
		name = filepath.ToSlash(filepath.Clean(name))
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", root, err)
		}
		if !info.IsDir() {
			add(root)
			continue
		}
		var found []string
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && !vendored && d.Name() == "node_modules" {
					return filepath.SkipDir
				}
				return nil
			}
			if sourceExts[strings.ToLower(filepath.Ext(path))] {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", root, err)
		}
		sort.Strings(found)
		for _, f := range found {
			add(f)
		}
	}

	var files []parser.File
	for _, name := range names {
		src, err := os.ReadFile(filepath.FromSlash(name))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		switch {
		case len(src) == 0:
			logger.Warn("Skipping empty source file.", zap.String("file", name))
			continue
		case maxBytes > 0 && len(src) > maxBytes:
			logger.Warn("Skipping oversized source file.", zap.String("file", name), zap.Int("bytes", len(src)), zap.Int("limit", maxBytes))
			continue
		}
		files = append(files, parser.File{Name: name, Source: src})
	}
	if len(files) == 0 {
		return nil, errors.New("no JavaScript sources to analyze")
	}
	return files, nil
}
