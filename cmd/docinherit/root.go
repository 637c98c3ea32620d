package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docinherit/internal/config"
	"github.com/dgallion1/docinherit/internal/pipeline"
	"github.com/dgallion1/docinherit/internal/refstore"
)

// app holds state shared by every subcommand.
type app struct {
	configPath string
	verbose    bool

	cfg config.Config
	log *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "docinherit",
		Short:         "Resolve <inheritdoc> placeholders in XML API documentation",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath
			if path == "" {
				path = os.Getenv("DOCINHERIT_CONFIG")
			}
			cfg, err := config.LoadFile(path)
			if err != nil {
				return err
			}
			a.cfg = cfg
			level := slog.LevelInfo
			if a.verbose {
				level = slog.LevelDebug
			}
			a.log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML config file (or set DOCINHERIT_CONFIG)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(newResolveCmd(a))
	root.AddCommand(newServeCmd(a))
	root.AddCommand(newWatchCmd(a))
	root.AddCommand(newRenderCmd(a))
	return root
}

// resolveFlags are shared by the commands that run the pipeline locally.
type resolveFlags struct {
	out             string
	refs            []string
	refPrefix       string
	noDefaultRefs   bool
	indent          string
	passes          int
	firstWins       bool
	referencesFirst bool
	concurrency     int
}

func (f *resolveFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.out, "out", "o", "", "Write output into this directory instead of in place")
	fl.StringArrayVar(&f.refs, "ref", nil, "Reference directory (repeatable)")
	fl.StringVar(&f.refPrefix, "ref-url", "", "Reference store prefix to pull references from")
	fl.BoolVar(&f.noDefaultRefs, "no-default-refs", false, "Do not read references from the executable's directory")
	fl.StringVar(&f.indent, "indent", "", `Indentation: "none", "tab" or a number of spaces`)
	fl.IntVar(&f.passes, "passes", 1, "Maximum resolution passes per file")
	fl.BoolVar(&f.firstWins, "first-wins", false, "Keep the first member when an identifier repeats")
	fl.BoolVar(&f.referencesFirst, "references-first", false, "Index references before targets")
	fl.IntVar(&f.concurrency, "concurrency", 0, "Files processed in parallel")
}

// options layers explicitly set flags over the loaded config.
func (f *resolveFlags) options(cmd *cobra.Command, cfg config.Config) (pipeline.Options, error) {
	opts := pipeline.OptionsFromConfig(cfg)
	fl := cmd.Flags()
	if fl.Changed("indent") {
		indent, err := config.ParseIndent(f.indent)
		if err != nil {
			return opts, err
		}
		opts.Write.Indent = indent
	}
	if fl.Changed("passes") {
		if f.passes <= 0 {
			return opts, fmt.Errorf("--passes must be positive")
		}
		opts.Passes = f.passes
	}
	if fl.Changed("first-wins") {
		opts.FirstWins = f.firstWins
	}
	if fl.Changed("references-first") {
		opts.ReferencesFirst = f.referencesFirst
	}
	if fl.Changed("concurrency") && f.concurrency > 0 {
		opts.Concurrency = f.concurrency
	}
	return opts, nil
}

// referenceDirs lists the directories references are read from: the
// executable's directory, configured directories, then --ref.
func (f *resolveFlags) referenceDirs(cfg config.Config) []string {
	var dirs []string
	if !f.noDefaultRefs {
		if exe, err := os.Executable(); err == nil {
			dirs = append(dirs, filepath.Dir(exe))
		}
	}
	dirs = append(dirs, cfg.ReferenceDirs...)
	return append(dirs, f.refs...)
}

// remoteReferences pulls references from the store when a prefix is set.
func (f *resolveFlags) remoteReferences(ctx context.Context, cfg config.Config, log *slog.Logger) ([]pipeline.Source, error) {
	prefix := f.refPrefix
	if prefix == "" {
		prefix = cfg.RefPrefix
	}
	if prefix == "" {
		return nil, nil
	}
	if cfg.RefstoreURL == "" {
		return nil, fmt.Errorf("REFSTORE_URL is required to pull references from %q", prefix)
	}
	rs := refstore.NewClient(cfg.RefstoreURL, cfg.RefstoreKey)
	defer rs.Close()
	srcs, err := pipeline.LoadRemoteReferences(ctx, rs, prefix)
	if err != nil {
		return nil, err
	}
	log.Info("loaded remote references", "prefix", prefix, "count", len(srcs))
	return srcs, nil
}

// loadBatch reads targets and every configured reference source.
func (f *resolveFlags) loadBatch(ctx context.Context, files []string, cfg config.Config, log *slog.Logger) (pipeline.Batch, error) {
	targets, err := pipeline.LoadFiles(files)
	if err != nil {
		return pipeline.Batch{}, err
	}
	refs, err := pipeline.LoadReferenceDirs(f.referenceDirs(cfg), files, log)
	if err != nil {
		return pipeline.Batch{}, err
	}
	remote, err := f.remoteReferences(ctx, cfg, log)
	if err != nil {
		return pipeline.Batch{}, err
	}
	return pipeline.Batch{Targets: targets, References: append(refs, remote...)}, nil
}
