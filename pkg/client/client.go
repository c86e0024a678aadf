// Package client is a Go client for the filedrop HTTP API. It drives the
// chunked upload flow end to end and wraps the share-code download and
// file management endpoints.
package client

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/filedrop/filedrop/pkg/transfer"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// DefaultChunkSize is used when UploadOpts does not set one.
const DefaultChunkSize int64 = 8 << 20

type Client struct {
	baseURL string
	r       *resty.Client
}

func NewClient(baseURL, apiKey string) *Client {
	r := resty.New().
		SetBaseURL(baseURL).
		SetHeader("apikey", apiKey)

	return &Client{baseURL: baseURL, r: r}
}

// APIError is the decoded {"error": ...} envelope the server responds
// with on failures.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

func toAPIError(resp *resty.Response) error {
	apiErr, ok := resp.Error().(*APIError)
	if !ok || apiErr == nil || apiErr.Message == "" {
		return &APIError{StatusCode: resp.StatusCode(), Message: string(resp.Body())}
	}

	apiErr.StatusCode = resp.StatusCode()
	return apiErr
}

type UploadOpts struct {
	ChunkSize    int64
	MaxDownloads int
	ExpiresAt    string // RFC3339, empty = server default
}

// UploadResult is what FinishUpload hands back once assembly succeeds.
type UploadResult struct {
	UUID             string `json:"uuid"`
	OriginalFilename string `json:"original_filename"`
	Size             int64  `json:"size"`
	Checksum         string `json:"checksum"`
	ShareCode        string `json:"share_code"`
	DownloadURL      string `json:"download_url"`
	ExpiresAt        string `json:"expires_at"`
}

type startUploadResponse struct {
	SessionUUID string `json:"session_uuid"`
	TotalChunks int    `json:"total_chunks"`
	ChunkSize   int64  `json:"chunk_size"`
}

// UploadFile chunks the local file, uploads each chunk with its sha256 and
// finishes the session. The whole flow is resumable on the server side,
// but this client runs it straight through.
func (c *Client) UploadFile(path string, opts UploadOpts) (*UploadResult, error) {
	finfo, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", path)
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	session, err := c.startUpload(filepath.Base(path), finfo.Size(), chunkSize, opts)
	if err != nil {
		return nil, err
	}

	if err := c.uploadChunks(path, session, chunkSize); err != nil {
		return nil, err
	}

	return c.finishUpload(session.SessionUUID)
}

func (c *Client) startUpload(filename string, totalSize, chunkSize int64, opts UploadOpts) (*startUploadResponse, error) {
	var session startUploadResponse

	resp, err := c.r.R().
		SetBody(map[string]interface{}{
			"filename":      filename,
			"total_size":    totalSize,
			"chunk_size":    chunkSize,
			"max_downloads": opts.MaxDownloads,
			"expires_at":    opts.ExpiresAt,
		}).
		SetResult(&session).
		SetError(&APIError{}).
		Post("/api/uploads")
	if err != nil {
		return nil, err
	}

	if resp.IsError() {
		return nil, toAPIError(resp)
	}

	return &session, nil
}

func (c *Client) uploadChunks(path string, session *startUploadResponse, chunkSize int64) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	buf := make([]byte, chunkSize)
	for seq := 0; seq < session.TotalChunks; seq++ {
		n, err := io.ReadFull(f, buf)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return errors.Wrapf(err, "reading chunk %d of %s", seq, path)
		}

		chunk := buf[:n]

		resp, err := c.r.R().
			SetHeader("Content-Type", "application/octet-stream").
			SetHeader("X-Chunk-Hash", transfer.HashBytes(chunk)).
			SetBody(chunk).
			SetError(&APIError{}).
			Post(fmt.Sprintf("/api/uploads/%s/chunks/%d", session.SessionUUID, seq))
		if err != nil {
			return err
		}

		if resp.IsError() {
			return toAPIError(resp)
		}
	}

	return nil
}

func (c *Client) finishUpload(sessionUUID string) (*UploadResult, error) {
	var result UploadResult

	resp, err := c.r.R().
		SetResult(&result).
		SetError(&APIError{}).
		Post(fmt.Sprintf("/api/uploads/%s/finish", sessionUUID))
	if err != nil {
		return nil, err
	}

	if resp.IsError() {
		return nil, toAPIError(resp)
	}

	return &result, nil
}

// UploadStatus reports which sequence numbers a session is still missing.
func (c *Client) UploadStatus(sessionUUID string) (*transfer.UploadStatus, error) {
	var status transfer.UploadStatus

	resp, err := c.r.R().
		SetResult(&status).
		SetError(&APIError{}).
		Get(fmt.Sprintf("/api/uploads/%s", sessionUUID))
	if err != nil {
		return nil, err
	}

	if resp.IsError() {
		return nil, toAPIError(resp)
	}

	return &status, nil
}

// FileInfo fetches the pre-download description of a shared file. It
// works without an api key on the server side.
func (c *Client) FileInfo(shareCode string) (*transfer.FileInfo, error) {
	var info transfer.FileInfo

	resp, err := c.r.R().
		SetResult(&info).
		SetError(&APIError{}).
		Get(fmt.Sprintf("/api/file-info/%s", shareCode))
	if err != nil {
		return nil, err
	}

	if resp.IsError() {
		return nil, toAPIError(resp)
	}

	return &info, nil
}

// DownloadToFile streams a shared file to dest, claiming one quota slot.
func (c *Client) DownloadToFile(shareCode, dest string) error {
	resp, err := c.r.R().
		SetOutput(dest).
		Get(fmt.Sprintf("/download/%s", shareCode))
	if err != nil {
		return err
	}

	if resp.IsError() {
		// resty wrote the error body to dest; remove the partial file.
		_ = os.Remove(dest)
		return &APIError{StatusCode: resp.StatusCode(), Message: "download refused"}
	}

	return nil
}

// DeleteFile removes one of the caller's files.
func (c *Client) DeleteFile(recordUUID string) error {
	resp, err := c.r.R().
		SetError(&APIError{}).
		Delete(fmt.Sprintf("/api/files/%s", recordUUID))
	if err != nil {
		return err
	}

	if resp.IsError() {
		return toAPIError(resp)
	}

	return nil
}
