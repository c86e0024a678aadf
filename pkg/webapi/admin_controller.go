package webapi

import (
	"net/http"

	"github.com/filedrop/filedrop/pkg/fddb/fdmodel"
	"github.com/filedrop/filedrop/pkg/transfer"
	"github.com/labstack/echo/v4"
)

// AdminController exposes stats, on-demand cleanup and the persisted
// runtime settings. Mounted behind RequireAdmin.
type AdminController struct {
	service *transfer.TransferService
}

func NewAdminController(service *transfer.TransferService) *AdminController {
	return &AdminController{service: service}
}

// RequireAdmin rejects non-admin users. It runs after APIKeyAuth so the
// user is already on the context.
func RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		user := ctx.Get("user").(*fdmodel.User)
		if !user.IsAdmin {
			return errorResponse(ctx, http.StatusForbidden, "admin access required")
		}

		return next(ctx)
	}
}

func (c *AdminController) GetStats(ctx echo.Context) error {
	stats, err := c.service.Stats()
	if err != nil {
		return transferErrorResponse(ctx, err)
	}

	return ctx.JSON(http.StatusOK, stats)
}

// Cleanup runs an expired-file sweep and a stale-session reclaim right
// now, same as one fdsweepd pass.
func (c *AdminController) Cleanup(ctx echo.Context) error {
	swept, err := c.service.Retention().SweepExpired()
	if err != nil {
		return transferErrorResponse(ctx, err)
	}

	reclaimed, err := c.service.Assembler().ReclaimAbandoned(c.service.SessionInactivity())
	if err != nil {
		return transferErrorResponse(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]interface{}{
		"deleted_count":      swept.DeletedCount,
		"freed_bytes":        swept.FreedBytes,
		"reclaimed_sessions": reclaimed,
	})
}

func (c *AdminController) GetSettings(ctx echo.Context) error {
	settings, err := c.service.SystemSettings()
	if err != nil {
		return transferErrorResponse(ctx, err)
	}

	return ctx.JSON(http.StatusOK, settings)
}

func (c *AdminController) UpdateSettings(ctx echo.Context) error {
	var settings map[string]string
	if err := ctx.Bind(&settings); err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "invalid request body")
	}

	if err := c.service.UpdateSystemSettings(settings); err != nil {
		return errorResponse(ctx, http.StatusBadRequest, err.Error())
	}

	return c.GetSettings(ctx)
}

// ListOrphans reports stored files no record references.
func (c *AdminController) ListOrphans(ctx echo.Context) error {
	orphans, err := c.service.Retention().ScanOrphans()
	if err != nil {
		return transferErrorResponse(ctx, err)
	}

	if orphans == nil {
		orphans = []string{}
	}

	return ctx.JSON(http.StatusOK, orphans)
}
