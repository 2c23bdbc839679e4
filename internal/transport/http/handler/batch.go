package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"dataforge/internal/app"
	"dataforge/internal/repository"
	"dataforge/internal/transport/http/response"
)

type BatchHandler struct {
	batchService *app.BatchService
	uploads      *app.UploadService
	jobRepo      *repository.JobRepository
	recordRepo   *repository.RecordRepository
	maxFileSize  int64
}

func NewBatchHandler(
	batchService *app.BatchService,
	uploads *app.UploadService,
	jobRepo *repository.JobRepository,
	recordRepo *repository.RecordRepository,
	maxFileSize int64,
) *BatchHandler {
	return &BatchHandler{
		batchService: batchService,
		uploads:      uploads,
		jobRepo:      jobRepo,
		recordRepo:   recordRepo,
		maxFileSize:  maxFileSize,
	}
}

// Submit accepts documents two ways: direct multipart "files" parts and
// "upload_ids" referencing completed chunked-upload sessions, which are
// finalized implicitly here.
func (h *BatchHandler) Submit(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid multipart form")
		return
	}

	var documents []app.BatchDocument
	for _, fileHeader := range form.File["files"] {
		if fileHeader.Size > h.maxFileSize {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "file too large: "+fileHeader.Filename)
			return
		}
		data, err := readMultipartFile(fileHeader)
		if err != nil {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "read file failed: "+fileHeader.Filename)
			return
		}
		documents = append(documents, app.BatchDocument{
			Name:        fileHeader.Filename,
			ContentType: contentTypeFor(fileHeader),
			Data:        data,
		})
	}

	if raw := strings.TrimSpace(c.PostForm("upload_ids")); raw != "" {
		var uploadIDs []string
		for _, uploadID := range strings.Split(raw, ",") {
			if uploadID = strings.TrimSpace(uploadID); uploadID != "" {
				uploadIDs = append(uploadIDs, uploadID)
			}
		}

		// validate every referenced session before consuming any, so a bad
		// reference cannot leave the earlier sessions finalized and the batch
		// unretryable
		for _, uploadID := range uploadIDs {
			info, err := h.uploads.Session(userID, uploadID)
			if err == nil {
				if info.Finalized {
					err = app.ErrAlreadyFinalized
				} else if info.Status != app.UploadComplete {
					err = app.ErrIncomplete
				}
			}
			if err != nil {
				h.uploadSessionError(c, uploadID, err)
				return
			}
		}

		for _, uploadID := range uploadIDs {
			data, info, err := h.uploads.Finalize(userID, uploadID)
			if err != nil {
				h.uploadSessionError(c, uploadID, err)
				return
			}
			documents = append(documents, app.BatchDocument{
				Name:        info.Filename,
				ContentType: info.ContentType,
				Data:        data,
			})
		}
	}

	if len(documents) == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "no documents submitted")
		return
	}

	input := app.SubmitInput{
		OwnerID:     userID,
		ProjectName: c.PostForm("project_name"),
		UseOCR:      c.PostForm("use_ocr") == "true",
		Options: app.ProcessOptions{
			ChunkSize:    parseIntForm(c, "chunk_size"),
			Overlap:      parseIntForm(c, "overlap"),
			Unit:         app.ChunkUnit(c.PostForm("chunk_unit")),
			OutputFormat: c.PostForm("output_format"),
			ClassFilter:  c.PostForm("class_filter"),
		},
		Documents: documents,
	}

	job, err := h.batchService.Submit(c.Request.Context(), input)
	if err != nil {
		if errors.Is(err, app.ErrInvalidInput) {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		} else {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "submit batch failed")
		}
		return
	}

	response.OK(c, gin.H{
		"job_id":           job.ID,
		"batch_project_id": job.BatchProjectID,
		"document_count":   len(job.Documents),
	})
}

func (h *BatchHandler) Status(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	jobID := c.Query("job_id")
	if jobID == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing job_id")
		return
	}

	job, err := h.batchService.Status(c.Request.Context(), jobID, userID)
	if err != nil {
		if errors.Is(err, app.ErrNotFound) {
			response.Error(c, http.StatusNotFound, response.CodeNotFound, "job not found")
		} else {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "fetch job status failed")
		}
		return
	}

	response.OK(c, gin.H{
		"job_id":           job.ID,
		"batch_project_id": job.BatchProjectID,
		"status":           job.Status(),
		"error":            job.Error,
		"cancel_requested": job.CancelRequested,
		"documents":        job.Documents,
	})
}

func (h *BatchHandler) Cancel(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	jobID := c.Param("job_id")
	if err := h.batchService.Cancel(c.Request.Context(), jobID, userID); err != nil {
		switch {
		case errors.Is(err, app.ErrNotFound):
			response.Error(c, http.StatusNotFound, response.CodeNotFound, "job not found")
		case errors.Is(err, app.ErrJobTerminal):
			response.Error(c, http.StatusConflict, response.CodeJobTerminal, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "cancel job failed")
		}
		return
	}

	response.OK(c, gin.H{"canceled_job_id": jobID})
}

type recordExport struct {
	Text           string `json:"text"`
	SourceDocument string `json:"source_document"`
	ChunkIndex     int    `json:"chunk_index"`
	Label          string `json:"label,omitempty"`
}

// Records streams the aggregated training records of a finished batch in the
// output format the job was submitted with.
func (h *BatchHandler) Records(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	projectID := c.Query("batch_project_id")
	if projectID == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing batch_project_id")
		return
	}

	job, err := h.jobRepo.GetByBatchProjectID(projectID, userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "fetch batch project failed")
		return
	}
	if job == nil {
		response.Error(c, http.StatusNotFound, response.CodeNotFound, "batch project not found")
		return
	}

	records, err := h.recordRepo.ListByBatchProjectID(projectID, userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "fetch records failed")
		return
	}

	exports := make([]recordExport, len(records))
	for i, rec := range records {
		exports[i] = recordExport{
			Text:           rec.Text,
			SourceDocument: rec.SourceDocument,
			ChunkIndex:     rec.ChunkIndex,
			Label:          rec.Label,
		}
	}

	var outputFormat string
	var opts app.ProcessOptions
	if err := json.Unmarshal([]byte(job.Options), &opts); err == nil {
		outputFormat = opts.OutputFormat
	}

	if outputFormat == "json" {
		c.JSON(http.StatusOK, exports)
		return
	}

	// default export is jsonl: one JSON object per line
	var buf bytes.Buffer
	for _, export := range exports {
		line, err := json.Marshal(export)
		if err != nil {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "encode records failed")
			return
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	c.Data(http.StatusOK, "application/x-ndjson", buf.Bytes())
}

func (h *BatchHandler) uploadSessionError(c *gin.Context, uploadID string, err error) {
	switch {
	case errors.Is(err, app.ErrNotFound):
		response.Error(c, http.StatusNotFound, response.CodeNotFound, "unknown upload session "+uploadID)
	case errors.Is(err, app.ErrIncomplete):
		response.Error(c, http.StatusConflict, response.CodeUploadConflict, "upload session incomplete: "+uploadID)
	case errors.Is(err, app.ErrAlreadyFinalized):
		response.Error(c, http.StatusConflict, response.CodeUploadConflict, "upload session already consumed: "+uploadID)
	case errors.Is(err, app.ErrExpired):
		response.Error(c, http.StatusGone, response.CodeUploadConflict, "upload session expired: "+uploadID)
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "finalize upload failed")
	}
}

func readMultipartFile(fileHeader *multipart.FileHeader) ([]byte, error) {
	f, err := fileHeader.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// contentTypeFor prefers the file extension over the part header, which
// browsers frequently leave as application/octet-stream.
func contentTypeFor(fileHeader *multipart.FileHeader) string {
	switch strings.ToLower(filepath.Ext(fileHeader.Filename)) {
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	case ".md":
		return "text/markdown"
	}
	return fileHeader.Header.Get("Content-Type")
}

func parseIntForm(c *gin.Context, key string) int {
	s := c.PostForm(key)
	if s == "" {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}
