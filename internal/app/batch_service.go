package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"dataforge/internal/model"
	"dataforge/internal/pkg/textextract"
)

// RecordPublisher hands a succeeded document's records to the persistence
// queue.
type RecordPublisher interface {
	PublishRecords(ctx context.Context, batch model.RecordBatch) error
}

// StatusCache mirrors job snapshots for the polling hot path. Both methods
// are best-effort from the orchestrator's point of view.
type StatusCache interface {
	SetJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, jobID string, ownerID uint) (*Job, bool, error)
}

// JobArchiver writes the durable job summary row.
type JobArchiver interface {
	Create(job *model.BatchJob) error
	MarkTerminal(jobID, status, jobErr string, recordCount int) error
}

type BatchDocument struct {
	Name        string
	ContentType string
	Data        []byte
}

type SubmitInput struct {
	OwnerID     uint
	ProjectName string
	UseOCR      bool
	Options     ProcessOptions
	Documents   []BatchDocument
}

// BatchService owns one Job per submission: it fans documents out across a
// bounded worker pool, records per-document outcomes in the job store, and
// publishes records of succeeded documents for persistence. A single bad
// document never aborts its siblings.
type BatchService struct {
	store      *JobStore
	extractor  textextract.Extractor
	processor  *Processor
	publisher  RecordPublisher
	cache      StatusCache
	archiver   JobArchiver
	workers    int64
	docTimeout time.Duration

	wg sync.WaitGroup
}

// NewBatchService wires the orchestrator. cache, archiver and publisher may
// be nil, which disables the corresponding side effect.
func NewBatchService(
	store *JobStore,
	extractor textextract.Extractor,
	processor *Processor,
	publisher RecordPublisher,
	cache StatusCache,
	archiver JobArchiver,
	workers int,
	docTimeout time.Duration,
) *BatchService {
	if workers <= 0 {
		workers = 1
	}
	if docTimeout <= 0 {
		docTimeout = 2 * time.Minute
	}
	return &BatchService{
		store:      store,
		extractor:  extractor,
		processor:  processor,
		publisher:  publisher,
		cache:      cache,
		archiver:   archiver,
		workers:    int64(workers),
		docTimeout: docTimeout,
	}
}

// Submit registers a job and starts processing it in the background. The
// returned snapshot already carries the job and batch project IDs the client
// needs for polling and record retrieval.
func (s *BatchService) Submit(ctx context.Context, input SubmitInput) (*Job, error) {
	if input.OwnerID == 0 || len(input.Documents) == 0 {
		return nil, ErrInvalidInput
	}
	input.Options.normalize()
	if err := input.Options.validate(); err != nil {
		return nil, err
	}
	projectName := strings.TrimSpace(input.ProjectName)
	if projectName == "" {
		projectName = "untitled"
	}

	job := &Job{
		ID:             uuid.NewString(),
		OwnerID:        input.OwnerID,
		BatchProjectID: uuid.NewString(),
		ProjectName:    projectName,
		CreatedAt:      time.Now(),
		Options:        input.Options,
		Documents:      make([]DocumentTask, len(input.Documents)),
	}
	for i, doc := range input.Documents {
		name := strings.TrimSpace(doc.Name)
		if name == "" {
			name = fmt.Sprintf("document-%d", i)
		}
		job.Documents[i] = DocumentTask{Name: name, Status: DocPending}
	}

	if err := s.store.Create(job); err != nil {
		return nil, err
	}
	if s.archiver != nil {
		optionsJSON, _ := json.Marshal(input.Options)
		row := &model.BatchJob{
			JobID:          job.ID,
			BatchProjectID: job.BatchProjectID,
			OwnerID:        job.OwnerID,
			ProjectName:    job.ProjectName,
			Options:        string(optionsJSON),
			Status:         model.BatchJobStatusRunning,
			DocumentCount:  len(job.Documents),
		}
		if err := s.archiver.Create(row); err != nil {
			return nil, err
		}
	}
	s.refreshCache(ctx, job.ID)

	s.wg.Add(1)
	go s.runJob(job.ID, input)

	return s.store.Get(job.ID, input.OwnerID)
}

// Status returns the current job snapshot, preferring the cache so polling
// never waits behind extraction work.
func (s *BatchService) Status(ctx context.Context, jobID string, ownerID uint) (*Job, error) {
	if s.cache != nil {
		if job, ok, err := s.cache.GetJob(ctx, jobID, ownerID); err == nil && ok {
			return job, nil
		}
	}
	return s.store.Get(jobID, ownerID)
}

// Cancel flags the job: in-flight documents run to completion, pending ones
// are not dispatched.
func (s *BatchService) Cancel(ctx context.Context, jobID string, ownerID uint) error {
	job, err := s.store.Get(jobID, ownerID)
	if err != nil {
		return err
	}
	if job.Terminal() {
		return ErrJobTerminal
	}
	if err := s.store.Update(jobID, func(j *Job) {
		j.CancelRequested = true
	}); err != nil {
		return err
	}
	s.refreshCache(ctx, jobID)
	return nil
}

// Wait blocks until every job submitted so far has finished. Used on
// shutdown and in tests.
func (s *BatchService) Wait() {
	s.wg.Wait()
}

func (s *BatchService) runJob(jobID string, input SubmitInput) {
	defer s.wg.Done()
	ctx := context.Background()

	// An unreadable input is an infrastructure failure: abort the whole job
	// before dispatching anything.
	for _, doc := range input.Documents {
		if doc.Data == nil {
			s.abortJob(ctx, jobID, fmt.Sprintf("unable to read input %q", doc.Name))
			s.finalizeJob(ctx, jobID)
			return
		}
	}

	sem := semaphore.NewWeighted(s.workers)
	var wg sync.WaitGroup
	for i := range input.Documents {
		if s.cancelRequested(jobID) {
			s.failDocument(ctx, jobID, i, "job canceled before dispatch")
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			s.failDocument(ctx, jobID, i, fmt.Sprintf("dispatch failed: %v", err))
			continue
		}
		wg.Add(1)
		go func(index int, doc BatchDocument) {
			defer wg.Done()
			defer sem.Release(1)
			s.processDocument(ctx, jobID, index, doc, input.UseOCR, input.Options)
		}(i, input.Documents[i])
	}
	wg.Wait()

	s.finalizeJob(ctx, jobID)
}

func (s *BatchService) processDocument(ctx context.Context, jobID string, index int, doc BatchDocument, useOCR bool, opts ProcessOptions) {
	s.mutate(ctx, jobID, func(j *Job) {
		j.Documents[index].Status = DocExtracting
	})

	extractCtx, cancel := context.WithTimeout(ctx, s.docTimeout)
	defer cancel()

	text, warnings, err := s.extract(extractCtx, doc, useOCR)
	if err != nil {
		if extractCtx.Err() != nil {
			s.failDocument(ctx, jobID, index, fmt.Sprintf("extraction timed out after %s", s.docTimeout))
		} else {
			s.failDocument(ctx, jobID, index, fmt.Sprintf("extraction failed: %v", err))
		}
		return
	}
	if text == "" {
		msg := "no extractable text"
		if len(warnings) > 0 {
			msg = fmt.Sprintf("%s (%s)", msg, strings.Join(warnings, "; "))
		}
		s.failDocument(ctx, jobID, index, msg)
		return
	}

	s.mutate(ctx, jobID, func(j *Job) {
		j.Documents[index].Status = DocProcessing
	})

	seq, err := s.processor.Process(text, doc.Name, opts)
	if err != nil {
		s.failDocument(ctx, jobID, index, fmt.Sprintf("processing failed: %v", err))
		return
	}
	records := seq.Collect(0)

	if s.publisher != nil && len(records) > 0 {
		var job *Job
		_ = s.store.Update(jobID, func(j *Job) { job = j.clone() })
		batch := model.RecordBatch{
			JobID:          jobID,
			BatchProjectID: job.BatchProjectID,
			OwnerID:        job.OwnerID,
			SourceDocument: doc.Name,
			Records:        make([]model.RecordPayload, len(records)),
		}
		for i, rec := range records {
			batch.Records[i] = model.RecordPayload{
				ChunkIndex: rec.ChunkIndex,
				Label:      rec.Label,
				Text:       rec.Text,
			}
		}
		if err := s.publisher.PublishRecords(ctx, batch); err != nil {
			s.failDocument(ctx, jobID, index, fmt.Sprintf("persist records failed: %v", err))
			return
		}
	}

	s.mutate(ctx, jobID, func(j *Job) {
		j.Documents[index].Status = DocSucceeded
		j.Documents[index].RecordCount = len(records)
	})
}

// extract runs the extractor off-thread so a hung parser cannot outlive the
// per-document deadline.
func (s *BatchService) extract(ctx context.Context, doc BatchDocument, useOCR bool) (string, []string, error) {
	type result struct {
		text     string
		warnings []string
		err      error
	}
	ch := make(chan result, 1)
	go func() {
		text, warnings, err := s.extractor.Extract(ctx, doc.Data, doc.ContentType, useOCR)
		ch <- result{text: text, warnings: warnings, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", nil, ctx.Err()
	case res := <-ch:
		return res.text, res.warnings, res.err
	}
}

func (s *BatchService) failDocument(ctx context.Context, jobID string, index int, msg string) {
	s.mutate(ctx, jobID, func(j *Job) {
		j.Documents[index].Status = DocFailed
		j.Documents[index].Error = msg
	})
}

// abortJob marks every non-terminal document failed with the propagated
// cause and records the job-level error.
func (s *BatchService) abortJob(ctx context.Context, jobID, cause string) {
	s.mutate(ctx, jobID, func(j *Job) {
		j.Error = cause
		for i := range j.Documents {
			if !j.Documents[i].Status.Terminal() {
				j.Documents[i].Status = DocFailed
				j.Documents[i].Error = cause
			}
		}
	})
}

// finalizeJob runs once all documents are terminal: the derived status is
// archived and the cache refreshed so the next poll sees the terminal state.
func (s *BatchService) finalizeJob(ctx context.Context, jobID string) {
	var snap *Job
	if err := s.store.Update(jobID, func(j *Job) { snap = j.clone() }); err != nil {
		return
	}

	if s.archiver != nil {
		if err := s.archiver.MarkTerminal(jobID, string(snap.Status()), snap.Error, snap.RecordCount()); err != nil {
			log.Printf("archive job %s failed: %v", jobID, err)
		}
	}
	s.refreshCache(ctx, jobID)
	log.Printf("job %s finished with status %s (%d records)", jobID, snap.Status(), snap.RecordCount())
}

func (s *BatchService) cancelRequested(jobID string) bool {
	requested := false
	_ = s.store.Update(jobID, func(j *Job) {
		requested = j.CancelRequested
	})
	return requested
}

// mutate applies the change through the store's serialized update and mirrors
// the fresh snapshot into the cache.
func (s *BatchService) mutate(ctx context.Context, jobID string, fn func(*Job)) {
	if err := s.store.Update(jobID, fn); err != nil {
		log.Printf("update job %s failed: %v", jobID, err)
		return
	}
	s.refreshCache(ctx, jobID)
}

func (s *BatchService) refreshCache(ctx context.Context, jobID string) {
	if s.cache == nil {
		return
	}
	var snap *Job
	if err := s.store.Update(jobID, func(j *Job) { snap = j.clone() }); err != nil {
		return
	}
	if err := s.cache.SetJob(ctx, snap); err != nil {
		log.Printf("cache job %s status failed: %v", jobID, err)
	}
}
