// Package api uploads finished session exports to the replay web service.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/OCAP2/platoon/internal/storage"
	"github.com/OCAP2/platoon/pkg/core"
)

// ErrNothingToUpload is returned by UploadExport when the backend has not exported a file.
var ErrNothingToUpload = errors.New("no exported file to upload")

// Client handles communication with the replay web service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Healthcheck checks if the web service is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthcheck", nil)
	if err != nil {
		return fmt.Errorf("building healthcheck request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// UploadExport uploads the last export of an uploadable backend.
func (c *Client) UploadExport(ctx context.Context, u storage.Uploadable) error {
	path := u.GetExportedFilePath()
	if path == "" {
		return ErrNothingToUpload
	}
	return c.Upload(ctx, path, u.GetExportMetadata())
}

// Upload streams an exported session file as a multipart form.
func (c *Client) Upload(ctx context.Context, filePath string, meta core.SessionResult) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("opening export: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		err := c.writeForm(form, file, filepath.Base(filePath), meta)
		if err == nil {
			err = form.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/sessions/add", pr)
	if err != nil {
		pr.CloseWithError(err)
		return fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upload returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (c *Client) writeForm(form *multipart.Writer, export io.Reader, name string, meta core.SessionResult) error {
	fields := [][2]string{
		{"secret", c.apiKey},
		{"filename", name},
		{"mapName", meta.MapName},
		{"sessionName", meta.SessionName},
		{"sessionDuration", strconv.FormatFloat(meta.Duration, 'f', 6, 64)},
		{"scenario", meta.Scenario},
		{"ticks", strconv.FormatUint(meta.Ticks, 10)},
		{"vehicles", strconv.Itoa(meta.Vehicles)},
		{"platoons", strconv.Itoa(meta.Platoons)},
		{"tag", meta.Tag},
	}
	for _, f := range fields {
		if err := form.WriteField(f[0], f[1]); err != nil {
			return fmt.Errorf("writing field %s: %w", f[0], err)
		}
	}

	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, export); err != nil {
		return fmt.Errorf("copying export: %w", err)
	}
	return nil
}
