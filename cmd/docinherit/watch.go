package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docinherit/internal/watch"
)

func newWatchCmd(a *app) *cobra.Command {
	var f resolveFlags
	cmd := &cobra.Command{
		Use:   "watch [flags] FILE|DIR...",
		Short: "Keep documentation files resolved as they and their references change",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := f.options(cmd, a.cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			extra, err := f.remoteReferences(ctx, a.cfg, a.log)
			if err != nil {
				return err
			}
			w, err := watch.New(watch.Options{
				Targets:       args,
				ReferenceDirs: f.referenceDirs(a.cfg),
				Extra:         extra,
				OutDir:        f.out,
				Debounce:      a.cfg.WatchDebounce,
				Pipeline:      opts,
			}, a.log)
			if err != nil {
				return err
			}
			if err := w.Run(ctx); err != nil {
				return err
			}
			st := w.Stats()
			a.log.Info("watch stopped", "syncs", st.Syncs, "files_written", st.FilesWritten, "errors", st.Errors)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}
