package handler

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"dataforge/internal/app"
	"dataforge/internal/transport/http/middleware"
)

func newSubmitRouter(h *BatchHandler, userID uint) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/batch", func(c *gin.Context) {
		c.Set(middleware.ContextUserIDKey, userID)
	}, h.Submit)
	return router
}

func submitUploadIDs(t *testing.T, router *gin.Engine, uploadIDs string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("upload_ids", uploadIDs); err != nil {
		t.Fatalf("write form field: %v", err)
	}
	form.Close()

	req := httptest.NewRequest(http.MethodPost, "/batch", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSubmitBadUploadReferenceLeavesSiblingsUnconsumed(t *testing.T) {
	uploads := app.NewUploadService([]string{"text/plain"}, 4, 1<<20, time.Minute)
	complete, _ := uploads.InitUpload(1, "a.txt", "text/plain", 4, 4)
	uploads.PutChunk(1, complete.UploadID, 0, []byte("ABCD"))
	partial, _ := uploads.InitUpload(1, "b.txt", "text/plain", 8, 4)
	uploads.PutChunk(1, partial.UploadID, 0, []byte("ABCD"))

	h := NewBatchHandler(nil, uploads, nil, nil, 1<<20)
	router := newSubmitRouter(h, 1)

	rec := submitUploadIDs(t, router, complete.UploadID+","+partial.UploadID)
	if rec.Code != http.StatusConflict {
		t.Fatalf("got status %d, want 409", rec.Code)
	}

	// the completed session must still be usable for a retried submission
	buf, _, err := uploads.Finalize(1, complete.UploadID)
	if err != nil {
		t.Fatalf("completed sibling was consumed by the rejected submission: %v", err)
	}
	if !bytes.Equal(buf, []byte("ABCD")) {
		t.Fatalf("assembled %q", buf)
	}
}

func TestSubmitUnknownUploadReference(t *testing.T) {
	uploads := app.NewUploadService([]string{"text/plain"}, 4, 1<<20, time.Minute)
	h := NewBatchHandler(nil, uploads, nil, nil, 1<<20)
	router := newSubmitRouter(h, 1)

	rec := submitUploadIDs(t, router, "no-such-session")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want 404", rec.Code)
	}
}
