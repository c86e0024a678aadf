package webapi

import (
	"fmt"
	"net/http"

	"github.com/filedrop/filedrop/pkg/transfer"
	"github.com/labstack/echo/v4"
)

// DownloadController serves the anonymous share-code surface: the
// download itself and the pre-download info endpoint. No api key is
// required; the share code is the capability.
type DownloadController struct {
	service *transfer.TransferService
}

func NewDownloadController(service *transfer.TransferService) *DownloadController {
	return &DownloadController{service: service}
}

func (c *DownloadController) Download(ctx echo.Context) error {
	result, err := c.service.Download(ctx.Param("code"), ctx.RealIP(), ctx.Request().UserAgent())
	if err != nil {
		return transferErrorResponse(ctx, err)
	}
	defer result.Content.Close()

	ctx.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="%s"`, result.SuggestedFilename))

	return ctx.Stream(http.StatusOK, result.Record.MimeType, result.Content)
}

func (c *DownloadController) FileInfo(ctx echo.Context) error {
	info, err := c.service.FileInfo(ctx.Param("code"))
	if err != nil {
		return transferErrorResponse(ctx, err)
	}

	return ctx.JSON(http.StatusOK, info)
}
