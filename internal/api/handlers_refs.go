package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/docinherit/internal/pipeline"
)

// handleListReferences lists reference documents held in the reference store.
func (s *Server) handleListReferences(w http.ResponseWriter, r *http.Request) {
	if s.refs == nil {
		jsonError(w, "reference store not configured", http.StatusServiceUnavailable)
		return
	}
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = s.cfg.RefPrefix
	}
	if prefix == "" {
		jsonError(w, "prefix query parameter is required", http.StatusBadRequest)
		return
	}

	docs, err := s.refs.FetchAll(r.Context(), prefix)
	if err != nil {
		jsonError(w, "failed to list references: "+err.Error(), http.StatusBadGateway)
		return
	}
	refs := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		refs = append(refs, map[string]any{
			"key":  d.Key,
			"size": len(d.Data),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"prefix": prefix, "references": refs})
}

// handlePublish stores a finished job's resolved files in the reference store
// so later jobs can inherit from them.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if s.refs == nil {
		jsonError(w, "reference store not configured", http.StatusServiceUnavailable)
		return
	}
	job := s.orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	snap := job.Snapshot()
	if snap.Status != pipeline.StatusCompleted && snap.Status != pipeline.StatusPartial {
		jsonError(w, "job has not finished: "+string(snap.Status), http.StatusConflict)
		return
	}
	prefix := strings.Trim(r.URL.Query().Get("prefix"), "/")
	if prefix == "" {
		prefix = s.cfg.RefPrefix
	}
	if prefix == "" {
		jsonError(w, "prefix query parameter is required", http.StatusBadRequest)
		return
	}

	sink := pipeline.StoreSink{Client: s.refs, Prefix: prefix}
	var published []string
	var failed []map[string]string
	for _, name := range snap.Files {
		data, _ := job.Output(name)
		if err := sink.Write(r.Context(), name, data); err != nil {
			s.log.Error("publish failed", "job_id", job.ID, "file", name, "error", err)
			failed = append(failed, map[string]string{"file": name, "error": err.Error()})
			continue
		}
		published = append(published, sink.Dest(name))
	}

	status := http.StatusOK
	if len(failed) > 0 {
		status = http.StatusBadGateway
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"published": published,
		"failed":    failed,
	})
}
