// Package watch re-resolves documentation files whenever they or their
// references change on disk.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dgallion1/docinherit/internal/parser"
	"github.com/dgallion1/docinherit/internal/pipeline"
)

// Options configures a Watcher.
type Options struct {
	// Targets are files or directories of files to rewrite.
	Targets []string
	// ReferenceDirs hold files that only feed the member index.
	ReferenceDirs []string
	// Extra references loaded once, e.g. from the reference store.
	Extra []pipeline.Source
	// OutDir receives resolved files; empty rewrites targets in place.
	OutDir   string
	Debounce time.Duration
	Pipeline pipeline.Options
}

// Stats counts watcher activity.
type Stats struct {
	Events        int       `json:"events"`
	Syncs         int       `json:"syncs"`
	FilesWritten  int       `json:"files_written"`
	Errors        int       `json:"errors"`
	LastEventPath string    `json:"last_event_path"`
	LastSync      time.Time `json:"last_sync"`
}

// Watcher keeps resolved output in step with its inputs.
type Watcher struct {
	mu      sync.Mutex
	opts    Options
	log     *slog.Logger
	targets map[string]bool // absolute target files
	dirs    map[string]bool // absolute target directories
	refDirs map[string]bool // absolute reference directories
	refList []string        // refDirs in the order given
	pending map[string]time.Time
	written map[string]string // absolute path -> content hash we last wrote
	stats   Stats
}

func New(opts Options, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 300 * time.Millisecond
	}
	if len(opts.Targets) == 0 {
		return nil, fmt.Errorf("watch: no targets")
	}

	w := &Watcher{
		opts:    opts,
		log:     log,
		targets: make(map[string]bool),
		dirs:    make(map[string]bool),
		refDirs: make(map[string]bool),
		pending: make(map[string]time.Time),
		written: make(map[string]string),
	}
	for _, t := range opts.Targets {
		abs, err := filepath.Abs(t)
		if err != nil {
			return nil, fmt.Errorf("watch %s: %w", t, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("watch %s: %w", t, err)
		}
		if info.IsDir() {
			w.dirs[abs] = true
		} else {
			w.targets[abs] = true
		}
	}
	for _, d := range opts.ReferenceDirs {
		abs, err := filepath.Abs(d)
		if err != nil {
			return nil, fmt.Errorf("watch %s: %w", d, err)
		}
		if !w.refDirs[abs] {
			w.refDirs[abs] = true
			w.refList = append(w.refList, abs)
		}
	}
	return w, nil
}

// TargetFiles lists the current target files, sorted.
func (w *Watcher) TargetFiles() ([]string, error) {
	set := make(map[string]bool, len(w.targets))
	for p := range w.targets {
		set[p] = true
	}
	for dir := range w.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("list targets %s: %w", dir, err)
		}
		for _, e := range entries {
			if !e.IsDir() && parser.IsSupportedExtension(e.Name()) {
				set[filepath.Join(dir, e.Name())] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// Sync runs the pipeline over every target once and writes changed output.
func (w *Watcher) Sync(ctx context.Context) (*pipeline.Result, error) {
	files, err := w.TargetFiles()
	if err != nil {
		return nil, err
	}
	targets, err := pipeline.LoadFiles(files)
	if err != nil {
		return nil, err
	}
	refs, err := pipeline.LoadReferenceDirs(w.refList, files, w.log)
	if err != nil {
		return nil, err
	}
	refs = append(refs, w.opts.Extra...)

	res, err := pipeline.Run(ctx, pipeline.Batch{Targets: targets, References: refs}, w.opts.Pipeline, w.log)
	if err != nil {
		return nil, err
	}
	n, _ := pipeline.Persist(ctx, res, &hashSink{w: w, inner: pipeline.DirSink{Dir: w.opts.OutDir}}, false, w.log)

	w.mu.Lock()
	w.stats.Syncs++
	w.stats.FilesWritten += n
	w.stats.Errors += len(res.Failed())
	w.stats.LastSync = time.Now()
	w.mu.Unlock()

	w.log.Info("sync complete", "targets", len(targets), "references", len(refs), "written", n, "failed", len(res.Failed()))
	return res, nil
}

// hashSink records what the watcher itself wrote so the resulting events
// do not trigger another sync.
type hashSink struct {
	w     *Watcher
	inner pipeline.DirSink
}

func (s *hashSink) Dest(name string) string {
	return s.inner.Dest(name)
}

func (s *hashSink) Write(ctx context.Context, name string, data []byte) error {
	if err := s.inner.Write(ctx, name, data); err != nil {
		return err
	}
	if abs, err := filepath.Abs(s.inner.Dest(name)); err == nil {
		s.w.mu.Lock()
		s.w.written[abs] = pipeline.ContentHashHex(data)
		s.w.mu.Unlock()
	}
	return nil
}

// Run syncs once, then watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	watched := make(map[string]bool)
	add := func(dir string) error {
		if watched[dir] {
			return nil
		}
		watched[dir] = true
		if err := fsw.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		w.log.Info("watching directory", "dir", dir)
		return nil
	}
	for p := range w.targets {
		if err := add(filepath.Dir(p)); err != nil {
			return err
		}
	}
	for d := range w.dirs {
		if err := add(d); err != nil {
			return err
		}
	}
	for _, d := range w.refList {
		if _, err := os.Stat(d); err != nil {
			w.log.Warn("reference directory not watched", "dir", d, "error", err)
			continue
		}
		if err := add(d); err != nil {
			return err
		}
	}

	if _, err := w.Sync(ctx); err != nil {
		return err
	}

	tick := w.opts.Debounce / 3
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	debounceTicker := time.NewTicker(tick)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Error("watch error", "error", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-debounceTicker.C:
			if w.due() {
				if _, err := w.Sync(ctx); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					w.log.Error("sync failed", "error", err)
					w.mu.Lock()
					w.stats.Errors++
					w.mu.Unlock()
				}
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil || !w.Relevant(abs) {
		return
	}
	w.log.Debug("change detected", "path", abs, "op", event.Op.String())

	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.Events++
	w.stats.LastEventPath = abs
	w.pending[abs] = time.Now()
}

// Relevant reports whether a change to path can alter the output.
func (w *Watcher) Relevant(path string) bool {
	if !parser.IsSupportedExtension(path) || strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	if w.targets[path] {
		return true
	}
	dir := filepath.Dir(path)
	return w.dirs[dir] || w.refDirs[dir]
}

// due drains settled events and reports whether any of them was made by
// someone other than the watcher.
func (w *Watcher) due() bool {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for p, at := range w.pending {
		if now.Sub(at) >= w.opts.Debounce {
			settled = append(settled, p)
			delete(w.pending, p)
		}
	}
	w.mu.Unlock()

	for _, p := range settled {
		data, err := os.ReadFile(p)
		if err != nil {
			// Removed or renamed away.
			return true
		}
		w.mu.Lock()
		ours := w.written[p] == pipeline.ContentHashHex(data)
		w.mu.Unlock()
		if !ours {
			return true
		}
	}
	return false
}

// Stats returns a copy of the activity counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}
