package app

import (
	"sync"
	"time"
)

type DocumentStatus string

const (
	DocPending    DocumentStatus = "pending"
	DocExtracting DocumentStatus = "extracting"
	DocProcessing DocumentStatus = "processing"
	DocSucceeded  DocumentStatus = "succeeded"
	DocFailed     DocumentStatus = "failed"
)

func (s DocumentStatus) Terminal() bool {
	return s == DocSucceeded || s == DocFailed
}

type JobStatus string

const (
	JobRunning        JobStatus = "running"
	JobSucceeded      JobStatus = "succeeded"
	JobFailed         JobStatus = "failed"
	JobPartialSuccess JobStatus = "partial_success"
)

// DocumentTask is the per-document unit of work inside a job.
type DocumentTask struct {
	Name        string         `json:"name"`
	Status      DocumentStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	RecordCount int            `json:"record_count"`
}

// Job is the live state of one batch submission. Status is always derived
// from the documents, never stored, so it cannot drift from them.
type Job struct {
	ID              string         `json:"job_id"`
	OwnerID         uint           `json:"owner_id"`
	BatchProjectID  string         `json:"batch_project_id"`
	ProjectName     string         `json:"project_name"`
	CreatedAt       time.Time      `json:"created_at"`
	Options         ProcessOptions `json:"options"`
	Documents       []DocumentTask `json:"documents"`
	Error           string         `json:"error,omitempty"`
	CancelRequested bool           `json:"cancel_requested"`
}

// Status derives the job state: failed only when every document failed,
// succeeded only when every document succeeded, partial success when mixed
// and all terminal, running otherwise.
func (j *Job) Status() JobStatus {
	succeeded, failed := 0, 0
	for _, doc := range j.Documents {
		switch doc.Status {
		case DocSucceeded:
			succeeded++
		case DocFailed:
			failed++
		default:
			return JobRunning
		}
	}
	switch {
	case len(j.Documents) == 0:
		return JobFailed
	case failed == 0:
		return JobSucceeded
	case succeeded == 0:
		return JobFailed
	default:
		return JobPartialSuccess
	}
}

func (j *Job) Terminal() bool {
	status := j.Status()
	return status == JobSucceeded || status == JobFailed || status == JobPartialSuccess
}

// RecordCount sums the records of all succeeded documents.
func (j *Job) RecordCount() int {
	total := 0
	for _, doc := range j.Documents {
		total += doc.RecordCount
	}
	return total
}

func (j *Job) clone() *Job {
	cp := *j
	cp.Documents = make([]DocumentTask, len(j.Documents))
	copy(cp.Documents, j.Documents)
	return &cp
}

type jobEntry struct {
	mu  sync.Mutex
	job *Job
}

// JobStore is the process-wide registry of live jobs. Updates to one job are
// serialized through the entry mutex; distinct jobs never block each other.
// Reads hand out deep copies, so a poller can never observe a torn job.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*jobEntry
}

func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*jobEntry)}
}

func (s *JobStore) Create(job *Job) error {
	if job == nil || job.ID == "" || job.OwnerID == 0 {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return ErrInvalidInput
	}
	s.jobs[job.ID] = &jobEntry{job: job.clone()}
	return nil
}

// Get returns a snapshot of the job, scoped to its owner.
func (s *JobStore) Get(jobID string, ownerID uint) (*Job, error) {
	s.mu.RLock()
	entry, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.job.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return entry.job.clone(), nil
}

// Update applies mutate under the job's entry lock. The mutator sees the live
// job and must not retain it past the call.
func (s *JobStore) Update(jobID string, mutate func(*Job)) error {
	s.mu.RLock()
	entry, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	mutate(entry.job)
	return nil
}
