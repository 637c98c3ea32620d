package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/docinherit/internal/doctree"
	"github.com/dgallion1/docinherit/internal/parser"
	"github.com/dgallion1/docinherit/internal/resolve"
)

// Source is one documentation file's raw bytes.
type Source struct {
	Name string
	Data []byte
}

// Batch is a set of targets to rewrite plus references that only feed the index.
type Batch struct {
	Targets    []Source
	References []Source
}

// Options controls a batch run.
type Options struct {
	Concurrency     int
	Passes          int
	FirstWins       bool
	ReferencesFirst bool
	Write           doctree.WriteOptions
}

// TreeResult is the outcome for one target.
type TreeResult struct {
	Name    string
	Output  []byte
	Changed bool
	Report  resolve.Report
	Err     error
}

// Result is the outcome of a batch run.
type Result struct {
	Trees             []TreeResult
	Members           int
	Duplicates        []string
	SkippedReferences []string
}

// Failed returns the targets that could not be parsed, resolved or encoded.
func (r *Result) Failed() []TreeResult {
	var out []TreeResult
	for _, t := range r.Trees {
		if t.Err != nil {
			out = append(out, t)
		}
	}
	return out
}

// Run parses every source, builds the member index over targets and
// references, then resolves and re-encodes each target. Failures are reported
// per target; the returned error is non-nil only when ctx ends the run.
func Run(ctx context.Context, batch Batch, opts Options, log *slog.Logger) (*Result, error) {
	if log == nil {
		log = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}

	res := &Result{Trees: make([]TreeResult, len(batch.Targets))}
	targets := make([]*doctree.Document, len(batch.Targets))
	refs := make([]*doctree.Document, len(batch.References))

	// Phase 1: Parse
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, src := range batch.Targets {
		i, src := i, src
		res.Trees[i].Name = src.Name
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			doc, err := parseSource(src)
			if err != nil {
				res.Trees[i].Err = err
				return nil
			}
			targets[i] = doc
			return nil
		})
	}
	for i, src := range batch.References {
		i, src := i, src
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			doc, err := parseSource(src)
			if err != nil {
				log.Warn("skipping unreadable reference", "reference", src.Name, "error", err)
				return nil
			}
			refs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, doc := range refs {
		if doc == nil {
			res.SkippedReferences = append(res.SkippedReferences, batch.References[i].Name)
		}
	}

	// Phase 2: Index. Every resolve below waits for this to finish.
	idx, frozen := buildIndex(targets, refs, opts)
	res.Members = idx.Len()
	res.Duplicates = idx.Duplicates()
	if len(res.Duplicates) > 0 {
		log.Warn("duplicate member identifiers", "count", len(res.Duplicates), "first", res.Duplicates[0])
	}
	log.Info("built member index", "members", idx.Len(), "targets", len(targets), "references", len(refs))

	// Phase 3: Resolve and encode, one tree per goroutine.
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, doc := range targets {
		i, doc := i, doc
		if doc == nil {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			members := resolve.NewOverlay(idx, frozen[i], doc.Root)
			res.Trees[i] = resolveTree(doc, batch.Targets[i].Data, members, opts)
			tr := res.Trees[i]
			if tr.Err != nil {
				log.Error("resolve failed", "target", tr.Name, "error", tr.Err)
				return nil
			}
			log.Debug("resolved tree",
				"target", tr.Name,
				"resolved", tr.Report.Resolved,
				"removed", tr.Report.Removed,
				"unresolved", len(tr.Report.Unresolved),
				"changed", tr.Changed,
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

func parseSource(src Source) (*doctree.Document, error) {
	p, err := parser.ForFile(src.Name)
	if err != nil {
		return nil, err
	}
	doc, err := p.Parse(bytes.NewReader(src.Data), src.Name)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", src.Name, err)
	}
	return doc, nil
}

// buildIndex indexes targets through frozen copies, returned per target:
// another goroutine may be splicing into a target while its members are read.
// Each target later sees its own members live through an Overlay.
func buildIndex(targets, refs []*doctree.Document, opts Options) (*resolve.Index, []*doctree.Node) {
	frozen := make([]*doctree.Node, len(targets))
	for i, d := range targets {
		if d != nil {
			frozen[i] = d.Root.Copy()
		}
	}
	var refRoots []*doctree.Node
	for _, d := range refs {
		if d != nil {
			refRoots = append(refRoots, d.Root)
		}
	}

	roots := make([]*doctree.Node, 0, len(frozen)+len(refRoots))
	if opts.ReferencesFirst {
		roots = append(append(roots, refRoots...), frozen...)
	} else {
		roots = append(append(roots, frozen...), refRoots...)
	}

	policy := resolve.LastWins
	if opts.FirstWins {
		policy = resolve.FirstWins
	}
	return resolve.BuildIndex(roots, resolve.WithDuplicatePolicy(policy)), frozen
}

// resolveTree never lets a fault in one tree escape to its siblings.
func resolveTree(doc *doctree.Document, original []byte, idx resolve.Members, opts Options) (tr TreeResult) {
	tr.Name = doc.Name
	defer func() {
		if r := recover(); r != nil {
			tr.Err = fmt.Errorf("resolve %s: panic: %v\n%s", doc.Name, r, debug.Stack())
		}
	}()

	tr.Report = resolve.Resolve(doc.Root, idx, resolve.MaxPasses(opts.Passes))

	var buf bytes.Buffer
	if err := doctree.Write(&buf, doc, opts.Write); err != nil {
		tr.Err = err
		return tr
	}
	tr.Output = buf.Bytes()
	tr.Changed = !bytes.Equal(tr.Output, original)
	return tr
}
