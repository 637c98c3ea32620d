package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/docinherit/internal/config"
	"github.com/dgallion1/docinherit/internal/parser"
	"github.com/dgallion1/docinherit/internal/pipeline"
	"github.com/dgallion1/docinherit/internal/render"
)

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes*10+10*1024*1024)

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	targets, err := s.readUploads(r.MultipartForm.File["files"])
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(targets) == 0 {
		jsonError(w, "at least one file is required", http.StatusBadRequest)
		return
	}
	refs, err := s.readUploads(r.MultipartForm.File["references"])
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(s.cfg.ReferenceDirs) > 0 {
		local, err := pipeline.LoadReferenceDirs(s.cfg.ReferenceDirs, nil, s.log)
		if err != nil {
			s.log.Error("load reference dirs", "error", err)
			jsonError(w, "failed to load reference directories", http.StatusInternalServerError)
			return
		}
		refs = append(local, refs...)
	}

	job := s.orchestrator.NewJob(pipeline.Batch{Targets: targets, References: refs})
	if err := applyFormOptions(r, job); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.orchestrator.Submit(job); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":     job.ID,
		"status":     pipeline.StatusQueued,
		"files":      len(targets),
		"references": len(refs),
		"poll_url":   fmt.Sprintf("/api/resolve/%s/status", job.ID),
	})
}

// readUploads reads every part as a Source named by its sanitized filename.
func (s *Server) readUploads(files []*multipart.FileHeader) ([]pipeline.Source, error) {
	out := make([]pipeline.Source, 0, len(files))
	seen := make(map[string]bool, len(files))
	for _, fh := range files {
		filename := sanitizeFilename(fh.Filename)
		if !parser.IsSupportedExtension(filename) {
			return nil, fmt.Errorf("unsupported file type: %s", filepath.Ext(filename))
		}
		if seen[filename] {
			return nil, fmt.Errorf("duplicate file name: %s", filename)
		}
		seen[filename] = true

		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s", filename)
		}
		data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes+1))
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s", filename)
		}
		if int64(len(data)) > s.cfg.MaxUploadBytes {
			return nil, fmt.Errorf("%s exceeds max size (%d bytes)", filename, s.cfg.MaxUploadBytes)
		}
		out = append(out, pipeline.Source{Name: filename, Data: data})
	}
	return out, nil
}

// applyFormOptions overrides the configured resolution options per request.
func applyFormOptions(r *http.Request, job *pipeline.Job) error {
	if v := r.FormValue("indent"); v != "" {
		indent, err := config.ParseIndent(v)
		if err != nil {
			return err
		}
		job.Options.Write.Indent = indent
	}
	if v := r.FormValue("passes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("passes must be a positive integer")
		}
		job.Options.Passes = n
	}
	if v := r.FormValue("first_wins"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("first_wins must be a boolean")
		}
		job.Options.FirstWins = b
	}
	if v := r.FormValue("ref_prefix"); v != "" {
		job.RefPrefix = v
	}
	return nil
}

func (s *Server) handleResolveStatus(w http.ResponseWriter, r *http.Request) {
	job := s.orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job.Snapshot())
}

func (s *Server) handleResolvedFile(w http.ResponseWriter, r *http.Request) {
	job := s.orchestrator.GetJob(chi.URLParam(r, "jobID"))
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	name := sanitizeFilename(chi.URLParam(r, "name"))
	data, ok := job.Output(name)
	if !ok {
		jsonError(w, "file not found", http.StatusNotFound)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" || strings.EqualFold(format, "xml") {
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		w.Write(data)
		return
	}

	format, err := render.Normalize(format)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	rd, _ := render.ForFormat(format)
	doc, err := (&parser.XMLParser{}).Parse(bytes.NewReader(data), name)
	if err != nil {
		jsonError(w, "failed to read resolved file: "+err.Error(), http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := rd.Render(&buf, doc); err != nil {
		s.log.Error("render failed", "job_id", job.ID, "file", name, "format", format, "error", err)
		jsonError(w, "render failed", http.StatusInternalServerError)
		return
	}
	outName := strings.TrimSuffix(name, filepath.Ext(name)) + render.Extension(format)
	w.Header().Set("Content-Type", render.ContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", outName))
	w.Write(buf.Bytes())
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
