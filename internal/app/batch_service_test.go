package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"dataforge/internal/model"
)

type fakeExtractor struct {
	fn func(ctx context.Context, data []byte, contentType string, useOCR bool) (string, []string, error)
}

func (f *fakeExtractor) Extract(ctx context.Context, data []byte, contentType string, useOCR bool) (string, []string, error) {
	return f.fn(ctx, data, contentType, useOCR)
}

// passthroughExtractor returns the raw bytes as text, or fails when the
// payload says "corrupt".
func passthroughExtractor() *fakeExtractor {
	return &fakeExtractor{fn: func(_ context.Context, data []byte, _ string, _ bool) (string, []string, error) {
		if string(data) == "corrupt" {
			return "", nil, errors.New("damaged file")
		}
		return string(data), nil, nil
	}}
}

type recordingPublisher struct {
	mu      sync.Mutex
	batches []model.RecordBatch
	err     error
}

func (p *recordingPublisher) PublishRecords(_ context.Context, batch model.RecordBatch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.batches = append(p.batches, batch)
	return nil
}

type recordingArchiver struct {
	mu          sync.Mutex
	created     []*model.BatchJob
	termStatus  string
	termErr     string
	termRecords int
}

func (a *recordingArchiver) Create(job *model.BatchJob) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.created = append(a.created, job)
	return nil
}

func (a *recordingArchiver) MarkTerminal(_, status, jobErr string, recordCount int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.termStatus = status
	a.termErr = jobErr
	a.termRecords = recordCount
	return nil
}

func newTestBatchService(extractor *fakeExtractor, publisher RecordPublisher, archiver JobArchiver, workers int, docTimeout time.Duration) *BatchService {
	return NewBatchService(NewJobStore(), extractor, NewProcessor(nil), publisher, nil, archiver, workers, docTimeout)
}

func testOptions() ProcessOptions {
	return ProcessOptions{ChunkSize: 4, Overlap: 2, Unit: UnitChars}
}

func TestSubmitValidation(t *testing.T) {
	s := newTestBatchService(passthroughExtractor(), nil, nil, 2, time.Second)

	if _, err := s.Submit(context.Background(), SubmitInput{OwnerID: 1, Options: testOptions()}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("no documents: got %v", err)
	}
	if _, err := s.Submit(context.Background(), SubmitInput{
		OwnerID:   0,
		Options:   testOptions(),
		Documents: []BatchDocument{{Name: "a.txt", Data: []byte("hi")}},
	}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero owner: got %v", err)
	}
	if _, err := s.Submit(context.Background(), SubmitInput{
		OwnerID:   1,
		Options:   ProcessOptions{ChunkSize: 4, Overlap: 9, Unit: UnitChars},
		Documents: []BatchDocument{{Name: "a.txt", Data: []byte("hi")}},
	}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad options: got %v", err)
	}
}

func TestAllDocumentsSucceed(t *testing.T) {
	publisher := &recordingPublisher{}
	archiver := &recordingArchiver{}
	s := newTestBatchService(passthroughExtractor(), publisher, archiver, 2, time.Second)

	job, err := s.Submit(context.Background(), SubmitInput{
		OwnerID:     1,
		ProjectName: "demo",
		Options:     testOptions(),
		Documents: []BatchDocument{
			{Name: "a.txt", ContentType: "text/plain", Data: []byte("ABCDEFGHIJ")},
			{Name: "b.txt", ContentType: "text/plain", Data: []byte("KLMNOPQRST")},
		},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if job.BatchProjectID == "" {
		t.Fatalf("submission snapshot missing batch project id")
	}
	s.Wait()

	final, err := s.Status(context.Background(), job.ID, 1)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if final.Status() != JobSucceeded {
		t.Fatalf("got status %q, want succeeded", final.Status())
	}
	for i, doc := range final.Documents {
		if doc.Status != DocSucceeded || doc.RecordCount != 4 {
			t.Fatalf("document %d: %+v", i, doc)
		}
	}

	publisher.mu.Lock()
	batches := len(publisher.batches)
	publisher.mu.Unlock()
	if batches != 2 {
		t.Fatalf("got %d published batches, want 2", batches)
	}

	archiver.mu.Lock()
	defer archiver.mu.Unlock()
	if len(archiver.created) != 1 {
		t.Fatalf("got %d archived rows, want 1", len(archiver.created))
	}
	if archiver.termStatus != string(JobSucceeded) || archiver.termRecords != 8 {
		t.Fatalf("archived terminal state %q with %d records", archiver.termStatus, archiver.termRecords)
	}
}

func TestOneBadDocumentIsIsolated(t *testing.T) {
	s := newTestBatchService(passthroughExtractor(), nil, nil, 2, time.Second)

	job, err := s.Submit(context.Background(), SubmitInput{
		OwnerID: 1,
		Options: testOptions(),
		Documents: []BatchDocument{
			{Name: "a.txt", Data: []byte("ABCDEFGHIJ")},
			{Name: "bad.pdf", Data: []byte("corrupt")},
			{Name: "c.txt", Data: []byte("KLMNOPQRST")},
		},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	s.Wait()

	final, _ := s.Status(context.Background(), job.ID, 1)
	if final.Status() != JobPartialSuccess {
		t.Fatalf("got status %q, want partial_success", final.Status())
	}
	if final.Documents[0].Status != DocSucceeded || final.Documents[2].Status != DocSucceeded {
		t.Fatalf("healthy siblings affected: %+v", final.Documents)
	}
	bad := final.Documents[1]
	if bad.Status != DocFailed || !strings.Contains(bad.Error, "extraction failed") {
		t.Fatalf("bad document: %+v", bad)
	}
}

func TestAllDocumentsFail(t *testing.T) {
	s := newTestBatchService(passthroughExtractor(), nil, nil, 2, time.Second)

	job, _ := s.Submit(context.Background(), SubmitInput{
		OwnerID: 1,
		Options: testOptions(),
		Documents: []BatchDocument{
			{Name: "a.pdf", Data: []byte("corrupt")},
			{Name: "b.pdf", Data: []byte("corrupt")},
		},
	})
	s.Wait()

	final, _ := s.Status(context.Background(), job.ID, 1)
	if final.Status() != JobFailed {
		t.Fatalf("got status %q, want failed", final.Status())
	}
}

func TestEmptyExtractionFailsDocument(t *testing.T) {
	extractor := &fakeExtractor{fn: func(context.Context, []byte, string, bool) (string, []string, error) {
		return "", []string{"page 1 unreadable"}, nil
	}}
	s := newTestBatchService(extractor, nil, nil, 1, time.Second)

	job, _ := s.Submit(context.Background(), SubmitInput{
		OwnerID:   1,
		Options:   testOptions(),
		Documents: []BatchDocument{{Name: "scan.pdf", Data: []byte("x")}},
	})
	s.Wait()

	final, _ := s.Status(context.Background(), job.ID, 1)
	doc := final.Documents[0]
	if doc.Status != DocFailed {
		t.Fatalf("got status %q", doc.Status)
	}
	if !strings.Contains(doc.Error, "no extractable text") || !strings.Contains(doc.Error, "page 1 unreadable") {
		t.Fatalf("error %q must carry the extraction warnings", doc.Error)
	}
}

func TestDocumentTimeout(t *testing.T) {
	extractor := &fakeExtractor{fn: func(context.Context, []byte, string, bool) (string, []string, error) {
		time.Sleep(200 * time.Millisecond)
		return "too late", nil, nil
	}}
	s := newTestBatchService(extractor, nil, nil, 1, 20*time.Millisecond)

	job, _ := s.Submit(context.Background(), SubmitInput{
		OwnerID: 1,
		Options: testOptions(),
		Documents: []BatchDocument{
			{Name: "slow.pdf", Data: []byte("x")},
		},
	})
	s.Wait()

	final, _ := s.Status(context.Background(), job.ID, 1)
	doc := final.Documents[0]
	if doc.Status != DocFailed || !strings.Contains(doc.Error, "extraction timed out") {
		t.Fatalf("slow document: %+v", doc)
	}
	if final.Status() != JobFailed {
		t.Fatalf("got status %q, want failed", final.Status())
	}
}

func TestUnreadableInputAbortsJob(t *testing.T) {
	archiver := &recordingArchiver{}
	s := newTestBatchService(passthroughExtractor(), nil, archiver, 2, time.Second)

	job, _ := s.Submit(context.Background(), SubmitInput{
		OwnerID: 1,
		Options: testOptions(),
		Documents: []BatchDocument{
			{Name: "a.txt", Data: []byte("ABCDEFGHIJ")},
			{Name: "ghost.txt", Data: nil},
		},
	})
	s.Wait()

	final, _ := s.Status(context.Background(), job.ID, 1)
	if final.Status() != JobFailed {
		t.Fatalf("got status %q, want failed", final.Status())
	}
	if !strings.Contains(final.Error, "unable to read input") {
		t.Fatalf("job error %q", final.Error)
	}
	for i, doc := range final.Documents {
		if doc.Status != DocFailed {
			t.Fatalf("document %d not failed: %+v", i, doc)
		}
	}
	archiver.mu.Lock()
	defer archiver.mu.Unlock()
	if archiver.termStatus != string(JobFailed) {
		t.Fatalf("archived terminal status %q", archiver.termStatus)
	}
}

func TestPublishFailureFailsDocument(t *testing.T) {
	publisher := &recordingPublisher{err: errors.New("broker down")}
	s := newTestBatchService(passthroughExtractor(), publisher, nil, 1, time.Second)

	job, _ := s.Submit(context.Background(), SubmitInput{
		OwnerID:   1,
		Options:   testOptions(),
		Documents: []BatchDocument{{Name: "a.txt", Data: []byte("ABCDEFGHIJ")}},
	})
	s.Wait()

	final, _ := s.Status(context.Background(), job.ID, 1)
	doc := final.Documents[0]
	if doc.Status != DocFailed || !strings.Contains(doc.Error, "persist records failed") {
		t.Fatalf("document after publish failure: %+v", doc)
	}
}

func TestCancelSkipsPendingDocuments(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	extractor := &fakeExtractor{fn: func(_ context.Context, data []byte, _ string, _ bool) (string, []string, error) {
		if string(data) == "slow" {
			once.Do(func() { close(started) })
			<-gate
		}
		return "ABCDEFGHIJ", nil, nil
	}}
	s := newTestBatchService(extractor, nil, nil, 1, time.Minute)

	job, err := s.Submit(context.Background(), SubmitInput{
		OwnerID: 1,
		Options: testOptions(),
		Documents: []BatchDocument{
			{Name: "a.txt", Data: []byte("slow")},
			{Name: "b.txt", Data: []byte("fast")},
			{Name: "c.txt", Data: []byte("fast")},
		},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	<-started
	if err := s.Cancel(context.Background(), job.ID, 1); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	close(gate)
	s.Wait()

	final, _ := s.Status(context.Background(), job.ID, 1)
	if final.Status() != JobPartialSuccess {
		t.Fatalf("got status %q, want partial_success", final.Status())
	}
	if final.Documents[0].Status != DocSucceeded {
		t.Fatalf("in-flight document must run to completion: %+v", final.Documents[0])
	}
	last := final.Documents[2]
	if last.Status != DocFailed || !strings.Contains(last.Error, "canceled") {
		t.Fatalf("pending document after cancel: %+v", last)
	}
}

func TestCancelTerminalJob(t *testing.T) {
	s := newTestBatchService(passthroughExtractor(), nil, nil, 1, time.Second)

	job, _ := s.Submit(context.Background(), SubmitInput{
		OwnerID:   1,
		Options:   testOptions(),
		Documents: []BatchDocument{{Name: "a.txt", Data: []byte("ABCDEFGHIJ")}},
	})
	s.Wait()

	if err := s.Cancel(context.Background(), job.ID, 1); !errors.Is(err, ErrJobTerminal) {
		t.Fatalf("cancel after completion: got %v", err)
	}
	if err := s.Cancel(context.Background(), "missing", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cancel unknown job: got %v", err)
	}
}

func TestWorkerPoolBound(t *testing.T) {
	const workers = 2
	var mu sync.Mutex
	running, peak := 0, 0
	extractor := &fakeExtractor{fn: func(context.Context, []byte, string, bool) (string, []string, error) {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return "ABCDEFGHIJ", nil, nil
	}}
	s := newTestBatchService(extractor, nil, nil, workers, time.Minute)

	docs := make([]BatchDocument, 8)
	for i := range docs {
		docs[i] = BatchDocument{Name: "d.txt", Data: []byte("x")}
	}
	job, _ := s.Submit(context.Background(), SubmitInput{OwnerID: 1, Options: testOptions(), Documents: docs})
	s.Wait()

	mu.Lock()
	defer mu.Unlock()
	if peak > workers {
		t.Fatalf("observed %d concurrent extractions, bound is %d", peak, workers)
	}

	final, _ := s.Status(context.Background(), job.ID, 1)
	if final.Status() != JobSucceeded {
		t.Fatalf("got status %q", final.Status())
	}
}

func TestStatusPrefersCache(t *testing.T) {
	cached := &Job{ID: "j-cached", OwnerID: 1, Documents: []DocumentTask{{Status: DocSucceeded}}}
	cache := &stubStatusCache{job: cached}
	s := NewBatchService(NewJobStore(), passthroughExtractor(), NewProcessor(nil), nil, cache, nil, 1, time.Second)

	got, err := s.Status(context.Background(), "j-cached", 1)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if got.ID != "j-cached" {
		t.Fatalf("got job %q from cache", got.ID)
	}
}

type stubStatusCache struct {
	job *Job
}

func (c *stubStatusCache) SetJob(context.Context, *Job) error { return nil }

func (c *stubStatusCache) GetJob(_ context.Context, jobID string, ownerID uint) (*Job, bool, error) {
	if c.job != nil && c.job.ID == jobID && c.job.OwnerID == ownerID {
		return c.job, true, nil
	}
	return nil, false, nil
}
