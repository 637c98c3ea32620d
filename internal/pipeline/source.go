package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/dgallion1/docinherit/internal/parser"
	"github.com/dgallion1/docinherit/internal/refstore"
)

// LoadFiles reads each path as a Source named by its path.
func LoadFiles(paths []string) ([]Source, error) {
	out := make([]Source, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		out = append(out, Source{Name: p, Data: data})
	}
	return out, nil
}

// LoadReferenceDirs reads every supported file directly inside each directory.
// Directories keep the order given, so a later one wins under LastWins; files
// within a directory are sorted by name. Paths listed in exclude are skipped so
// a target is not also loaded as its own reference. Missing and repeated
// directories are skipped.
func LoadReferenceDirs(dirs []string, exclude []string, log *slog.Logger) ([]Source, error) {
	if log == nil {
		log = slog.Default()
	}
	skip := make(map[string]bool, len(exclude))
	for _, p := range exclude {
		if abs, err := filepath.Abs(p); err == nil {
			skip[abs] = true
		}
	}

	seen := make(map[string]bool, len(dirs))
	var out []Source
	for _, dir := range dirs {
		if abs, err := filepath.Abs(dir); err == nil {
			if seen[abs] {
				continue
			}
			seen[abs] = true
		}
		// ReadDir returns entries sorted by filename.
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			log.Debug("reference directory missing", "dir", dir)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list references %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || !parser.IsSupportedExtension(e.Name()) {
				continue
			}
			p := filepath.Join(dir, e.Name())
			if abs, err := filepath.Abs(p); err == nil && skip[abs] {
				continue
			}
			data, err := os.ReadFile(p)
			if err != nil {
				return nil, fmt.Errorf("read reference %s: %w", p, err)
			}
			out = append(out, Source{Name: p, Data: data})
		}
	}
	return out, nil
}

// LoadRemoteReferences pulls every .xml document under prefix from the store,
// ordered by key.
func LoadRemoteReferences(ctx context.Context, rs *refstore.Client, prefix string) ([]Source, error) {
	docs, err := rs.FetchAll(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("fetch references %s: %w", prefix, err)
	}
	out := make([]Source, 0, len(docs))
	for _, d := range docs {
		out = append(out, Source{Name: d.Key, Data: d.Data})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Sink receives resolved output.
type Sink interface {
	// Dest names where the output for target name ends up.
	Dest(name string) string
	Write(ctx context.Context, name string, data []byte) error
}

// DirSink writes files to disk. With an empty Dir each target is rewritten in
// place; otherwise it is written into Dir under its base name.
type DirSink struct {
	Dir string
}

func (s DirSink) Dest(name string) string {
	if s.Dir == "" {
		return name
	}
	return filepath.Join(s.Dir, filepath.Base(name))
}

func (s DirSink) Write(_ context.Context, name string, data []byte) error {
	if s.Dir != "" {
		if err := os.MkdirAll(s.Dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	dest := s.Dest(name)

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".docinherit-*.xml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if info, err := os.Stat(dest); err == nil {
		os.Chmod(tmpPath, info.Mode().Perm())
	} else {
		os.Chmod(tmpPath, 0o644)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace %s: %w", dest, err)
	}
	return nil
}

// StoreSink publishes resolved files to the reference store under Prefix.
type StoreSink struct {
	Client *refstore.Client
	Prefix string
}

func (s StoreSink) Dest(name string) string {
	return path.Join(s.Prefix, filepath.Base(name))
}

func (s StoreSink) Write(ctx context.Context, name string, data []byte) error {
	return s.Client.Put(ctx, s.Dest(name), data)
}

// Persist writes resolved targets to sink. Unchanged targets are skipped
// unless force is set. Targets whose outputs would land on the same
// destination are not written and fail with an error. It returns the number
// of files written and the targets that failed to write.
func Persist(ctx context.Context, res *Result, sink Sink, force bool, log *slog.Logger) (int, []TreeResult) {
	if log == nil {
		log = slog.Default()
	}
	clashes := collisions(res, sink)
	written := 0
	var failed []TreeResult
	for i := range res.Trees {
		tr := &res.Trees[i]
		if tr.Err != nil || tr.Output == nil {
			continue
		}
		if other, ok := clashes[i]; ok {
			tr.Err = fmt.Errorf("write %s: output %s is shared with %s", tr.Name, sink.Dest(tr.Name), other)
			log.Error("output collision", "target", tr.Name, "dest", sink.Dest(tr.Name), "other", other)
			failed = append(failed, *tr)
			continue
		}
		if !tr.Changed && !force {
			log.Debug("unchanged, not writing", "target", tr.Name)
			continue
		}
		if err := sink.Write(ctx, tr.Name, tr.Output); err != nil {
			tr.Err = fmt.Errorf("write %s: %w", tr.Name, err)
			log.Error("write failed", "target", tr.Name, "error", err)
			failed = append(failed, *tr)
			continue
		}
		written++
	}
	return written, failed
}

// collisions maps each resolved tree whose destination is shared with another
// to the name of one of the others.
func collisions(res *Result, sink Sink) map[int]string {
	byDest := make(map[string][]int)
	for i, tr := range res.Trees {
		if tr.Err != nil || tr.Output == nil {
			continue
		}
		dest := sink.Dest(tr.Name)
		byDest[dest] = append(byDest[dest], i)
	}
	out := make(map[int]string)
	for _, group := range byDest {
		if len(group) < 2 {
			continue
		}
		for k, i := range group {
			other := group[(k+1)%len(group)]
			out[i] = res.Trees[other].Name
		}
	}
	return out
}
