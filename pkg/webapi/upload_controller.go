package webapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/filedrop/filedrop/pkg/fddb/fdmodel"
	"github.com/filedrop/filedrop/pkg/transfer"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

// ChunkHashHeader carries the declared sha256 of a chunk's bytes.
const ChunkHashHeader = "X-Chunk-Hash"

// UploadController handles the chunked, resumable upload flow. The chunk
// body is the raw bytes; the declared hash travels in the X-Chunk-Hash
// header so the body never needs multipart framing.
type UploadController struct {
	service *transfer.TransferService
}

func NewUploadController(service *transfer.TransferService) *UploadController {
	return &UploadController{service: service}
}

type startUploadRequest struct {
	Filename     string `json:"filename"`
	TotalSize    int64  `json:"total_size"`
	ChunkSize    int64  `json:"chunk_size"`
	MaxDownloads int    `json:"max_downloads"`
	ExpiresAt    string `json:"expires_at,omitempty"`
}

func (c *UploadController) StartUpload(ctx echo.Context) error {
	var req startUploadRequest
	if err := ctx.Bind(&req); err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "invalid request body")
	}

	if req.Filename == "" {
		return errorResponse(ctx, http.StatusBadRequest, "filename is required")
	}

	var expiresAt *time.Time
	if req.ExpiresAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			return errorResponse(ctx, http.StatusBadRequest, "expires_at must be RFC3339")
		}
		expiresAt = &parsed
	}

	user := ctx.Get("user").(*fdmodel.User)

	session, err := c.service.StartUpload(transfer.StartUploadParams{
		OwnerID:      user.ID,
		Filename:     req.Filename,
		TotalSize:    req.TotalSize,
		ChunkSize:    req.ChunkSize,
		MaxDownloads: req.MaxDownloads,
		ExpiresAt:    expiresAt,
	})
	if err != nil {
		return transferErrorResponse(ctx, err)
	}

	return ctx.JSON(http.StatusCreated, map[string]interface{}{
		"session_uuid": session.UUID,
		"total_chunks": session.TotalChunks,
		"chunk_size":   session.ChunkSize,
	})
}

func (c *UploadController) UploadChunk(ctx echo.Context) error {
	sessionUUID := ctx.Param("session")

	sequenceNumber, err := strconv.Atoi(ctx.Param("seq"))
	if err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "invalid sequence number")
	}

	declaredHash := ctx.Request().Header.Get(ChunkHashHeader)
	if declaredHash == "" {
		return errorResponse(ctx, http.StatusBadRequest, "missing "+ChunkHashHeader+" header")
	}

	user := ctx.Get("user").(*fdmodel.User)

	status, err := c.service.UploadChunk(user.ID, sessionUUID, sequenceNumber, ctx.Request().Body, declaredHash)
	if err != nil {
		return transferErrorResponse(ctx, err)
	}

	return ctx.JSON(http.StatusOK, status)
}

func (c *UploadController) GetUploadStatus(ctx echo.Context) error {
	user := ctx.Get("user").(*fdmodel.User)

	status, err := c.service.UploadStatus(user.ID, ctx.Param("session"))
	if err != nil {
		return transferErrorResponse(ctx, err)
	}

	return ctx.JSON(http.StatusOK, status)
}

func (c *UploadController) FinishUpload(ctx echo.Context) error {
	user := ctx.Get("user").(*fdmodel.User)

	record, err := c.service.FinishUpload(user.ID, ctx.Param("session"))
	if err != nil {
		return transferErrorResponse(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]interface{}{
		"uuid":              record.UUID,
		"original_filename": record.OriginalFilename,
		"size":              record.Size,
		"checksum":          record.Checksum,
		"share_code":        record.ShareCode,
		"download_url":      record.DownloadURL(),
		"expires_at":        record.ExpiresAt.Format(time.RFC3339),
	})
}

func errorResponse(ctx echo.Context, httpError int, msg string) error {
	return ctx.JSON(httpError, map[string]string{"error": msg})
}

// transferErrorResponse maps the transfer error taxonomy onto HTTP
// statuses with the error message in the standard envelope.
func transferErrorResponse(ctx echo.Context, err error) error {
	switch {
	case errors.Is(err, transfer.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return errorResponse(ctx, http.StatusNotFound, "not found")
	case errors.Is(err, transfer.ErrInactive):
		return errorResponse(ctx, http.StatusForbidden, err.Error())
	case errors.Is(err, transfer.ErrExpired):
		return errorResponse(ctx, http.StatusGone, err.Error())
	case errors.Is(err, transfer.ErrQuotaExceeded):
		return errorResponse(ctx, http.StatusForbidden, err.Error())
	case errors.Is(err, transfer.ErrChecksumMismatch):
		return errorResponse(ctx, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, transfer.ErrIncompleteUpload):
		return errorResponse(ctx, http.StatusConflict, err.Error())
	case errors.Is(err, transfer.ErrFileTooLarge):
		return errorResponse(ctx, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, transfer.ErrInvalidChunk):
		return errorResponse(ctx, http.StatusBadRequest, err.Error())
	case errors.Is(err, transfer.ErrSessionClosed):
		return errorResponse(ctx, http.StatusConflict, err.Error())
	default:
		return errorResponse(ctx, http.StatusInternalServerError, "internal error")
	}
}
