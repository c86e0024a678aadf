package cmd

import (
	"github.com/filedrop/filedrop/pkg/fddb/stor"
	"github.com/filedrop/filedrop/pkg/transfer"
	"github.com/filedrop/filedrop/pkg/webapi"
	"github.com/filedrop/filedrop/pkg/webapi/apimiddleware"
	"github.com/filedrop/filedrop/pkg/wserv"
	"github.com/labstack/echo/v4"
)

type RouteOpts struct {
	service *transfer.TransferService
	stors   *stor.Stors
	hub     *wserv.Hub
}

func setupRoutes(e *echo.Echo, opts RouteOpts) {
	apikeyCache := apimiddleware.NewAPIKeyCache(opts.stors.UserStor)

	// Anonymous share-code surface; the code is the capability.
	downloadController := webapi.NewDownloadController(opts.service)
	e.GET("/download/:code", downloadController.Download)
	e.GET("/api/file-info/:code", downloadController.FileInfo)

	e.GET("/ws", func(c echo.Context) error {
		opts.hub.ServeWS(c.Response(), c.Request())
		return nil
	})

	g := e.Group("/api")
	g.Use(apimiddleware.APIKeyAuth(apimiddleware.APIKeyConfig{
		Keyname:         "apikey",
		GetUserByAPIKey: apikeyCache.GetUserByAPIKey,
	}))

	uploadController := webapi.NewUploadController(opts.service)
	g.POST("/uploads", uploadController.StartUpload)
	g.POST("/uploads/:session/chunks/:seq", uploadController.UploadChunk)
	g.GET("/uploads/:session", uploadController.GetUploadStatus)
	g.POST("/uploads/:session/finish", uploadController.FinishUpload)

	filesController := webapi.NewFilesController(opts.service)
	g.GET("/files", filesController.ListFiles)
	g.DELETE("/files/:uuid", filesController.DeleteFile)
	g.POST("/files/batch-delete", filesController.BatchDelete)
	g.PUT("/files/:uuid/settings", filesController.UpdateSettings)

	adminController := webapi.NewAdminController(opts.service)
	admin := g.Group("/admin", webapi.RequireAdmin)
	admin.GET("/stats", adminController.GetStats)
	admin.POST("/cleanup", adminController.Cleanup)
	admin.GET("/settings", adminController.GetSettings)
	admin.PUT("/settings", adminController.UpdateSettings)
	admin.GET("/orphans", adminController.ListOrphans)
}
