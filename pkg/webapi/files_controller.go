package webapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/filedrop/filedrop/pkg/fddb/fdmodel"
	"github.com/filedrop/filedrop/pkg/transfer"
	"github.com/labstack/echo/v4"
)

// FilesController is the owner-facing management surface over uploaded
// files.
type FilesController struct {
	service *transfer.TransferService
}

func NewFilesController(service *transfer.TransferService) *FilesController {
	return &FilesController{service: service}
}

func (c *FilesController) ListFiles(ctx echo.Context) error {
	user := ctx.Get("user").(*fdmodel.User)

	records, err := c.service.ListFiles(user.ID)
	if err != nil {
		return transferErrorResponse(ctx, err)
	}

	return ctx.JSON(http.StatusOK, records)
}

func (c *FilesController) DeleteFile(ctx echo.Context) error {
	user := ctx.Get("user").(*fdmodel.User)

	if err := c.service.DeleteFile(user.ID, ctx.Param("uuid")); err != nil {
		return transferErrorResponse(ctx, err)
	}

	return ctx.NoContent(http.StatusNoContent)
}

type batchDeleteRequest struct {
	UUIDs []string `json:"uuids"`
}

type batchDeleteResult struct {
	UUID    string `json:"uuid"`
	Deleted bool   `json:"deleted"`
	Error   string `json:"error,omitempty"`
}

func (c *FilesController) BatchDelete(ctx echo.Context) error {
	var req batchDeleteRequest
	if err := ctx.Bind(&req); err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "invalid request body")
	}

	if len(req.UUIDs) == 0 {
		return errorResponse(ctx, http.StatusBadRequest, "uuids is required")
	}

	user := ctx.Get("user").(*fdmodel.User)

	results := make([]batchDeleteResult, 0, len(req.UUIDs))
	for _, result := range c.service.DeleteFiles(user.ID, req.UUIDs) {
		r := batchDeleteResult{UUID: result.UUID, Deleted: result.Err == nil}
		if result.Err != nil {
			r.Error = deleteErrorMessage(result.Err)
		}
		results = append(results, r)
	}

	return ctx.JSON(http.StatusOK, results)
}

// deleteErrorMessage is what the response carries for a failed per-id
// delete. Storage errors wrap the on-disk path, which must not reach the
// caller; the service has already logged the full error.
func deleteErrorMessage(err error) string {
	if errors.Is(err, transfer.ErrNotFound) {
		return "file not found"
	}

	return "delete failed, will be retried"
}

type updateSettingsRequest struct {
	MaxDownloads *int   `json:"max_downloads"`
	ExpiresAt    string `json:"expires_at,omitempty"`
	IsActive     *bool  `json:"is_active"`
}

func (c *FilesController) UpdateSettings(ctx echo.Context) error {
	var req updateSettingsRequest
	if err := ctx.Bind(&req); err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "invalid request body")
	}

	user := ctx.Get("user").(*fdmodel.User)

	// Omitted fields keep their current value.
	record, err := c.service.GetFile(user.ID, ctx.Param("uuid"))
	if err != nil {
		return transferErrorResponse(ctx, err)
	}

	maxDownloads := record.MaxDownloads
	if req.MaxDownloads != nil {
		maxDownloads = *req.MaxDownloads
	}

	isActive := record.IsActive
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	expiresAt := record.ExpiresAt
	if req.ExpiresAt != "" {
		if expiresAt, err = time.Parse(time.RFC3339, req.ExpiresAt); err != nil {
			return errorResponse(ctx, http.StatusBadRequest, "expires_at must be RFC3339")
		}
	}

	updated, err := c.service.UpdateFileSettings(user.ID, ctx.Param("uuid"), maxDownloads, expiresAt, isActive)
	if err != nil {
		return transferErrorResponse(ctx, err)
	}

	return ctx.JSON(http.StatusOK, updated)
}
