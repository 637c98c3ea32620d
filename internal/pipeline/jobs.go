package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"
	"time"
)

// JobStatus represents the state of a resolve job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusLoading   JobStatus = "loading"
	StatusResolving JobStatus = "resolving"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusPartial   JobStatus = "partial"
)

// Job tracks the state of one submitted batch.
type Job struct {
	mu sync.Mutex

	ID string `json:"job_id"`

	Status JobStatus `json:"status"`
	Phase  string    `json:"phase"`

	// RefPrefix pulls extra references from the reference store.
	RefPrefix string  `json:"ref_prefix,omitempty"`
	Options   Options `json:"-"`

	Progress Progress `json:"progress"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Internal: not serialized.
	batch   Batch
	outputs map[string][]byte
	errors  []string
}

// Progress tracks processing progress.
type Progress struct {
	TotalTrees           int      `json:"total_trees"`
	TreesResolved        int      `json:"trees_resolved"`
	Members              int      `json:"members"`
	PlaceholdersResolved int      `json:"placeholders_resolved"`
	Unresolved           []string `json:"unresolved"`
	DuplicatesRemoved    int      `json:"duplicates_removed"`
	Errors               []string `json:"errors"`
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Cleanup removes expired jobs.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		if now.Sub(job.updatedAt()) > s.ttl {
			delete(s.jobs, id)
		}
	}
}

func (j *Job) updatedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.UpdatedAt
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// SetBatch sets the sources to process.
func (j *Job) SetBatch(b Batch) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.batch = b
	j.Progress.TotalTrees = len(b.Targets)
}

// Batch returns the sources to process.
func (j *Job) Batch() Batch {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.batch
}

// Record folds a batch result into the job's progress and outputs.
func (j *Job) Record(res *Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.outputs == nil {
		j.outputs = make(map[string][]byte)
	}
	j.Progress.Members = res.Members
	for _, tr := range res.Trees {
		if tr.Err != nil {
			j.errors = append(j.errors, tr.Err.Error())
			continue
		}
		j.outputs[tr.Name] = tr.Output
		j.Progress.TreesResolved++
		j.Progress.PlaceholdersResolved += tr.Report.Resolved
		j.Progress.DuplicatesRemoved += tr.Report.Removed
		j.Progress.Unresolved = append(j.Progress.Unresolved, tr.Report.Unresolved...)
	}
	for _, name := range res.SkippedReferences {
		j.errors = append(j.errors, "skipped reference "+name)
	}
	j.Progress.Errors = j.errors
	j.batch = Batch{} // Inputs are no longer needed.
	j.UpdatedAt = time.Now()
}

// Output returns the resolved bytes for a target.
func (j *Job) Output(name string) ([]byte, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	data, ok := j.outputs[name]
	return data, ok
}

// OutputNames lists resolved targets, sorted.
func (j *Job) OutputNames() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	names := make([]string, 0, len(j.outputs))
	for name := range j.outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID        string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	Phase     string    `json:"phase"`
	Progress  Progress  `json:"progress"`
	Files     []string  `json:"files"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	files := j.OutputNames()

	j.mu.Lock()
	defer j.mu.Unlock()
	errs := append([]string{}, j.Progress.Errors...)
	unresolved := append([]string{}, j.Progress.Unresolved...)
	p := j.Progress
	p.Errors = errs
	p.Unresolved = unresolved
	return JobSnapshot{
		ID:        j.ID,
		Status:    j.Status,
		Phase:     j.Phase,
		Progress:  p,
		Files:     files,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
