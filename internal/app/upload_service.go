package app

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

type UploadStatus string

const (
	UploadInitialized UploadStatus = "initialized"
	UploadInProgress  UploadStatus = "in_progress"
	UploadComplete    UploadStatus = "complete"
	UploadExpired     UploadStatus = "expired"
)

// UploadInfo is a point-in-time snapshot of one upload session.
type UploadInfo struct {
	UploadID    string       `json:"upload_id"`
	Filename    string       `json:"filename"`
	ContentType string       `json:"content_type"`
	TotalSize   int64        `json:"total_size"`
	ChunkSize   int64        `json:"chunk_size"`
	TotalChunks int          `json:"total_chunks"`
	Received    int          `json:"received"`
	Status      UploadStatus `json:"status"`
	Finalized   bool         `json:"finalized"`
}

type uploadSession struct {
	mu sync.Mutex

	id          string
	ownerID     uint
	filename    string
	contentType string
	totalSize   int64
	chunkSize   int64
	totalChunks int

	// chunks[i] == nil means index i has not arrived yet.
	chunks        [][]byte
	received      int
	receivedBytes int64

	status    UploadStatus
	finalized bool
	lastTouch time.Time
}

// UploadService holds in-flight chunked uploads and reassembles them once
// every part has arrived. Sessions are in-process state: a dropped chunk is
// re-sent by the client, a dropped process restarts the upload.
type UploadService struct {
	mu       sync.RWMutex
	sessions map[string]*uploadSession

	allowedTypes     map[string]bool
	defaultChunkSize int64
	maxTotalSize     int64
	sessionTTL       time.Duration
}

func NewUploadService(allowedTypes []string, defaultChunkSize, maxTotalSize int64, sessionTTL time.Duration) *UploadService {
	allowed := make(map[string]bool, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[t] = true
	}
	return &UploadService{
		sessions:         make(map[string]*uploadSession),
		allowedTypes:     allowed,
		defaultChunkSize: defaultChunkSize,
		maxTotalSize:     maxTotalSize,
		sessionTTL:       sessionTTL,
	}
}

// InitUpload validates the declared file and opens a fresh session. chunkSize
// of 0 picks the configured default.
func (s *UploadService) InitUpload(ownerID uint, filename, contentType string, totalSize, chunkSize int64) (*UploadInfo, error) {
	if ownerID == 0 || filename == "" {
		return nil, ErrInvalidInput
	}
	if !s.allowedTypes[contentType] {
		return nil, ErrUnsupportedType
	}
	if totalSize <= 0 || totalSize > s.maxTotalSize {
		return nil, ErrInvalidInput
	}
	if chunkSize == 0 {
		chunkSize = s.defaultChunkSize
	}
	if chunkSize <= 0 {
		return nil, ErrInvalidInput
	}

	totalChunks := int((totalSize + chunkSize - 1) / chunkSize)
	session := &uploadSession{
		id:          uuid.NewString(),
		ownerID:     ownerID,
		filename:    filename,
		contentType: contentType,
		totalSize:   totalSize,
		chunkSize:   chunkSize,
		totalChunks: totalChunks,
		chunks:      make([][]byte, totalChunks),
		status:      UploadInitialized,
		lastTouch:   time.Now(),
	}

	s.mu.Lock()
	s.sessions[session.id] = session
	s.mu.Unlock()

	return session.snapshot(), nil
}

// PutChunk records one part. Re-submitting an index already received with the
// same length is a no-op success, so client retries are safe; a different
// length is rejected. Concurrent calls for distinct indices never conflict on
// outcome: each index is written at most once.
func (s *UploadService) PutChunk(ownerID uint, uploadID string, index int, data []byte) (*UploadInfo, error) {
	session, err := s.lookup(ownerID, uploadID)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if err := session.checkAlive(s.sessionTTL); err != nil {
		return nil, err
	}
	if session.finalized {
		return nil, ErrAlreadyFinalized
	}
	if index < 0 || index >= session.totalChunks {
		return nil, ErrChunkOutOfRange
	}

	expected := session.expectedLen(index)
	if session.chunks[index] != nil {
		if int64(len(data)) != int64(len(session.chunks[index])) {
			return nil, ErrChunkMismatch
		}
		session.lastTouch = time.Now()
		return session.snapshot(), nil
	}
	if int64(len(data)) != expected {
		return nil, ErrChunkMismatch
	}

	session.chunks[index] = data
	session.received++
	session.receivedBytes += int64(len(data))
	session.lastTouch = time.Now()

	if session.received == session.totalChunks && session.receivedBytes == session.totalSize {
		session.status = UploadComplete
	} else {
		session.status = UploadInProgress
	}

	return session.snapshot(), nil
}

// Finalize assembles the parts in index order into one contiguous buffer.
// Each session can be finalized at most once.
func (s *UploadService) Finalize(ownerID uint, uploadID string) ([]byte, *UploadInfo, error) {
	session, err := s.lookup(ownerID, uploadID)
	if err != nil {
		return nil, nil, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if err := session.checkAlive(s.sessionTTL); err != nil {
		return nil, nil, err
	}
	if session.finalized {
		return nil, nil, ErrAlreadyFinalized
	}
	if session.status != UploadComplete {
		return nil, nil, ErrIncomplete
	}

	buf := make([]byte, 0, session.totalSize)
	for _, chunk := range session.chunks {
		buf = append(buf, chunk...)
	}

	session.finalized = true
	session.chunks = nil
	session.lastTouch = time.Now()

	return buf, session.snapshot(), nil
}

// Session returns a read-only snapshot for status polling.
func (s *UploadService) Session(ownerID uint, uploadID string) (*UploadInfo, error) {
	session, err := s.lookup(ownerID, uploadID)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	if err := session.checkAlive(s.sessionTTL); err != nil {
		return nil, err
	}
	return session.snapshot(), nil
}

// StartJanitor sweeps idle sessions until ctx is cancelled.
func (s *UploadService) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := s.sweep(time.Now())
				if removed > 0 {
					log.Printf("upload janitor removed %d expired sessions", removed)
				}
			}
		}
	}()
}

// sweep removes every session idle past the TTL and returns how many it freed.
func (s *UploadService) sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, session := range s.sessions {
		session.mu.Lock()
		idle := now.Sub(session.lastTouch) > s.sessionTTL
		if idle {
			session.status = UploadExpired
			session.chunks = nil
		}
		session.mu.Unlock()
		if idle {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

func (s *UploadService) lookup(ownerID uint, uploadID string) (*uploadSession, error) {
	s.mu.RLock()
	session, ok := s.sessions[uploadID]
	s.mu.RUnlock()
	if !ok || session.ownerID != ownerID {
		return nil, ErrNotFound
	}
	return session, nil
}

// checkAlive enforces the TTL lazily, so expiry is observed even between
// janitor sweeps. Caller holds session.mu.
func (sess *uploadSession) checkAlive(ttl time.Duration) error {
	if sess.status == UploadExpired {
		return ErrExpired
	}
	if time.Since(sess.lastTouch) > ttl {
		sess.status = UploadExpired
		sess.chunks = nil
		return ErrExpired
	}
	return nil
}

// expectedLen is the declared byte length of chunk index: full chunkSize for
// all but the last, the remainder for the last.
func (sess *uploadSession) expectedLen(index int) int64 {
	if index == sess.totalChunks-1 {
		return sess.totalSize - sess.chunkSize*int64(sess.totalChunks-1)
	}
	return sess.chunkSize
}

func (sess *uploadSession) snapshot() *UploadInfo {
	return &UploadInfo{
		UploadID:    sess.id,
		Filename:    sess.filename,
		ContentType: sess.contentType,
		TotalSize:   sess.totalSize,
		ChunkSize:   sess.chunkSize,
		TotalChunks: sess.totalChunks,
		Received:    sess.received,
		Status:      sess.status,
		Finalized:   sess.finalized,
	}
}
