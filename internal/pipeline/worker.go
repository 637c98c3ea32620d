package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/docinherit/internal/refstore"
)

// Worker processes a single resolve job.
type Worker struct {
	refs  *refstore.Client
	stats *Stats
	log   *slog.Logger
}

func NewWorker(refs *refstore.Client, stats *Stats, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{refs: refs, stats: stats, log: log}
}

// Process loads remote references, runs the batch and records the outcome.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID)
	start := time.Now()
	batch := job.Batch()

	// Phase 1: Load
	if job.RefPrefix != "" {
		job.SetStatus(StatusLoading, "loading references")
		if w.refs == nil {
			job.AddError("reference store is not configured")
			job.SetStatus(StatusFailed, "loading references")
			return
		}
		remote, err := LoadRemoteReferences(ctx, w.refs, job.RefPrefix)
		if err != nil {
			log.Error("reference fetch failed", "prefix", job.RefPrefix, "error", err)
			job.AddError(err.Error())
			job.SetStatus(StatusFailed, "loading references")
			return
		}
		log.Info("loaded remote references", "prefix", job.RefPrefix, "count", len(remote))
		batch.References = append(batch.References, remote...)
	}

	// Phase 2: Resolve
	job.SetStatus(StatusResolving, "resolving")
	res, err := Run(ctx, batch, job.Options, log)
	if err != nil {
		log.Error("resolve run aborted", "error", err)
		job.AddError(fmt.Sprintf("resolve: %s", err))
		job.SetStatus(StatusFailed, "resolving")
		return
	}
	job.Record(res)

	failed := len(res.Failed())
	ok := len(res.Trees) - failed
	resolved := 0
	for _, tr := range res.Trees {
		resolved += tr.Report.Resolved
	}
	if w.stats != nil {
		w.stats.Record(time.Since(start), ok, resolved)
	}
	log.Info("resolve complete",
		"trees", len(res.Trees),
		"failed", failed,
		"members", res.Members,
		"placeholders", resolved,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	switch {
	case failed == 0:
		job.SetStatus(StatusCompleted, "done")
	case ok > 0:
		job.SetStatus(StatusPartial, "done")
	default:
		job.SetStatus(StatusFailed, "resolving")
	}
}
