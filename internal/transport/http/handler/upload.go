package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dataforge/internal/app"
	"dataforge/internal/transport/http/response"
)

type UploadHandler struct {
	uploads *app.UploadService
}

type InitUploadRequest struct {
	Filename    string `json:"filename" binding:"required,max=256"`
	ContentType string `json:"content_type" binding:"required,max=128"`
	FileSize    int64  `json:"file_size" binding:"required,gt=0"`
	ChunkSize   int64  `json:"chunk_size" binding:"gte=0"`
}

func NewUploadHandler(uploads *app.UploadService) *UploadHandler {
	return &UploadHandler{uploads: uploads}
}

func (h *UploadHandler) Init(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req InitUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	info, err := h.uploads.InitUpload(userID, req.Filename, req.ContentType, req.FileSize, req.ChunkSize)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrUnsupportedType):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "init upload failed")
		}
		return
	}

	response.OK(c, gin.H{
		"upload_id":    info.UploadID,
		"chunk_size":   info.ChunkSize,
		"total_chunks": info.TotalChunks,
	})
}

func (h *UploadHandler) PutChunk(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	uploadID := c.Param("upload_id")
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid chunk index")
		return
	}

	data, err := c.GetRawData()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "read chunk body failed")
		return
	}

	info, err := h.uploads.PutChunk(userID, uploadID, index, data)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrNotFound):
			response.Error(c, http.StatusNotFound, response.CodeNotFound, err.Error())
		case errors.Is(err, app.ErrExpired):
			response.Error(c, http.StatusGone, response.CodeUploadConflict, err.Error())
		case errors.Is(err, app.ErrChunkOutOfRange), errors.Is(err, app.ErrChunkMismatch):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "store chunk failed")
		}
		return
	}

	response.OK(c, gin.H{
		"received":     info.Received,
		"total_chunks": info.TotalChunks,
		"complete":     info.Status == app.UploadComplete,
	})
}

func (h *UploadHandler) Session(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	info, err := h.uploads.Session(userID, c.Param("upload_id"))
	if err != nil {
		switch {
		case errors.Is(err, app.ErrNotFound):
			response.Error(c, http.StatusNotFound, response.CodeNotFound, err.Error())
		case errors.Is(err, app.ErrExpired):
			response.Error(c, http.StatusGone, response.CodeUploadConflict, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "fetch upload session failed")
		}
		return
	}

	response.OK(c, info)
}
