// Package unscreen implements the background-removal step against an
// Unscreen-compatible HTTP API. The vendor protocol is two calls: upload
// the clip for processing, then download the processed clip from the URL
// the API returns.
package unscreen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mkravets/vidprep/internal/step"
)

const stepName = "background removal"

// HTTPClient satisfies step.BackgroundRemover using the Unscreen HTTP API.
type HTTPClient struct {
	baseURL      string
	apiKey       string
	outputFormat string
	client       *http.Client
}

// NewHTTPClient creates a new Unscreen client. The timeout bounds each of
// the two HTTP calls individually.
func NewHTTPClient(baseURL, apiKey, outputFormat string, timeout time.Duration) *HTTPClient {
	if outputFormat == "" {
		outputFormat = "mp4"
	}
	return &HTTPClient{
		baseURL:      baseURL,
		apiKey:       apiKey,
		outputFormat: outputFormat,
		client:       &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) RemoveBackground(ctx context.Context, req step.RemovalRequest) (*step.RemovalResult, error) {
	started := time.Now()

	info, err := os.Stat(req.VideoPath)
	if err != nil {
		return nil, step.NewTerminal(stepName, "input video missing", err)
	}

	clipURL, err := c.process(ctx, req)
	if err != nil {
		return nil, err
	}

	outputPath := filepath.Join(req.OutputDir, "no_bg_"+filepath.Base(req.VideoPath))
	processedSize, err := c.download(ctx, clipURL, outputPath)
	if err != nil {
		return nil, err
	}

	return &step.RemovalResult{
		OutputPath:    outputPath,
		OriginalSize:  info.Size(),
		ProcessedSize: processedSize,
		Duration:      time.Since(started),
	}, nil
}

// process uploads the clip and returns the URL of the processed video.
func (c *HTTPClient) process(ctx context.Context, req step.RemovalRequest) (string, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeProcessForm(mw, req, c.outputFormat))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process", pr)
	if err != nil {
		return "", step.NewTerminal(stepName, "building request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp)
	}

	var body struct {
		ClipURL string `json:"clip_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", step.NewRetryable(stepName, "decoding response", err)
	}
	if body.ClipURL == "" {
		return "", step.NewTerminal(stepName, "no clip_url in response", errors.New("empty clip_url"))
	}
	return body.ClipURL, nil
}

func writeProcessForm(mw *multipart.Writer, req step.RemovalRequest, outputFormat string) error {
	defer mw.Close()

	if err := mw.WriteField("output_format", outputFormat); err != nil {
		return err
	}
	if err := mw.WriteField("enhance", "true"); err != nil {
		return err
	}
	if err := mw.WriteField("matting", "alpha"); err != nil {
		return err
	}

	if err := copyFilePart(mw, "clip_file", req.VideoPath); err != nil {
		return err
	}
	if req.BackgroundPath != "" {
		if err := copyFilePart(mw, "background_image_file", req.BackgroundPath); err != nil {
			return err
		}
	}
	return nil
}

func copyFilePart(mw *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	part, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

// download streams the processed clip to outputPath and returns its size.
func (c *HTTPClient) download(ctx context.Context, clipURL, outputPath string) (int64, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, clipURL, nil)
	if err != nil {
		return 0, step.NewTerminal(stepName, "building download request", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return 0, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, classifyStatus(resp)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return 0, step.NewTerminal(stepName, "creating output directory", err)
	}
	out, err := os.Create(outputPath)
	if err != nil {
		return 0, step.NewTerminal(stepName, "creating output file", err)
	}
	defer out.Close()

	n, err := io.Copy(out, resp.Body)
	if err != nil {
		os.Remove(outputPath)
		return 0, step.NewRetryable(stepName, "downloading clip", err)
	}
	return n, nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return step.NewTerminal(stepName, "cancelled", err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return step.NewRetryable(stepName, "timed out", err)
	}
	return step.NewRetryable(stepName, "network error", err)
}

func classifyStatus(resp *http.Response) error {
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
	err := fmt.Errorf("status %d: %s", resp.StatusCode, excerpt)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return step.NewRetryable(stepName, "rate limited", err)
	case resp.StatusCode >= http.StatusInternalServerError:
		return step.NewRetryable(stepName, "provider error", err)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return step.NewTerminal(stepName, "invalid credentials", err)
	case resp.StatusCode == http.StatusPaymentRequired:
		return step.NewTerminal(stepName, "quota exhausted", err)
	default:
		return step.NewTerminal(stepName, "request rejected", err)
	}
}
