package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docinherit/internal/parser"
	"github.com/dgallion1/docinherit/internal/pipeline"
	"github.com/dgallion1/docinherit/internal/render"
)

func newRenderCmd(a *app) *cobra.Command {
	var (
		f      resolveFlags
		format string
	)
	cmd := &cobra.Command{
		Use:   "render [flags] FILE",
		Short: "Resolve a documentation file and export it as Markdown, HTML or DOCX",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			canonical, err := render.Normalize(format)
			if err != nil {
				return err
			}
			rd, _ := render.ForFormat(canonical)

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
			tr := res.Trees[0]
			if tr.Err != nil {
				return tr.Err
			}

			doc, err := (&parser.XMLParser{}).Parse(bytes.NewReader(tr.Output), tr.Name)
			if err != nil {
				return fmt.Errorf("reparse %s: %w", tr.Name, err)
			}

			var w io.Writer = cmd.OutOrStdout()
			if f.out != "" {
				if err := os.MkdirAll(f.out, 0o755); err != nil {
					return fmt.Errorf("create output dir: %w", err)
				}
				base := filepath.Base(tr.Name)
				dest := filepath.Join(f.out, strings.TrimSuffix(base, filepath.Ext(base))+render.Extension(canonical))
				file, err := os.Create(dest)
				if err != nil {
					return fmt.Errorf("create %s: %w", dest, err)
				}
				defer file.Close()
				w = file
				a.log.Info("rendering", "target", tr.Name, "format", canonical, "dest", dest)
			}
			if err := rd.Render(w, doc); err != nil {
				return err
			}
			if file, ok := w.(*os.File); ok && f.out != "" {
				return file.Close()
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVarP(&format, "format", "f", "md", "Output format: md, html or docx")
	return cmd
}
