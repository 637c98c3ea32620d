package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docinherit/internal/pipeline"
)

func newResolveCmd(a *app) *cobra.Command {
	var (
		f      resolveFlags
		dryRun bool
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "resolve [flags] FILE...",
		Short: "Replace <inheritdoc> placeholders in documentation files",
		Long: `Builds one member index over the given files and every reference file,
then rewrites each file with its placeholders replaced by the referenced
member's content. References default to the *.xml files next to the executable.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := f.options(cmd, a.cfg)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			batch, err := f.loadBatch(ctx, args, a.cfg, a.log)
			if err != nil {
				return err
			}

			res, err := pipeline.Run(ctx, batch, opts, a.log)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if dryRun {
				for _, tr := range res.Trees {
					switch {
					case tr.Err != nil:
						fmt.Fprintf(out, "error     %s: %v\n", tr.Name, tr.Err)
					case tr.Changed:
						fmt.Fprintf(out, "changed   %s (%d resolved, %d unresolved)\n", tr.Name, tr.Report.Resolved, len(tr.Report.Unresolved))
					default:
						fmt.Fprintf(out, "unchanged %s\n", tr.Name)
					}
				}
			} else {
				written, _ := pipeline.Persist(ctx, res, pipeline.DirSink{Dir: f.out}, force, a.log)
				dest := "in place"
				if f.out != "" {
					dest = "to " + filepath.Clean(f.out)
				}
				fmt.Fprintf(out, "resolved %d file(s), wrote %d %s, %d member(s) indexed\n",
					len(res.Trees)-len(res.Failed()), written, dest, res.Members)
			}

			if failed := res.Failed(); len(failed) > 0 {
				for _, tr := range failed {
					a.log.Error("target failed", "target", tr.Name, "error", tr.Err)
				}
				return fmt.Errorf("%d of %d file(s) failed", len(failed), len(res.Trees))
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would change without writing")
	cmd.Flags().BoolVar(&force, "force", false, "Write files even when unchanged")
	return cmd
}
