// Package parse implements a client for the LlamaParse cloud parsing service.
// A PDF is uploaded as a parsing job, polled until completion, and the result
// fetched as structured JSON: per-page markdown plus the names of rendered
// page screenshots, which can then be downloaded separately.
package parse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
)

// Job status values reported by the parsing service.
const (
	statusSuccess = "SUCCESS"
	statusError   = "ERROR"
	statusCancel  = "CANCELED"
)

// Config holds the settings for constructing a Client.
type Config struct {
	// BaseURL is the parsing service API base (e.g. "https://api.cloud.llamaindex.ai").
	BaseURL string

	// APIKey is the Bearer token for the parsing service.
	APIKey string

	// Model is the parsing model name (e.g. "openai-gpt-4-1-mini").
	Model string

	// ParseMode selects the parsing strategy (e.g. "parse_page_with_agent").
	ParseMode string

	// HighResOCR enables high resolution OCR on scanned pages.
	HighResOCR bool

	// PollInterval is the delay between job status checks (default: 2s).
	PollInterval time.Duration

	// PollTimeout caps the total time waiting for a job (default: 10m).
	PollTimeout time.Duration
}

// ConfigFromEnv resolves a Config from the LLAMAPARSE_* environment variables.
// baseURL is passed in by the caller (it depends on LLAMAPARSE_REGION, which
// the config package resolves).
func ConfigFromEnv(baseURL string) *Config {
	highRes := true
	if v := os.Getenv("LLAMAPARSE_HIGH_RES_OCR"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			highRes = b
		}
	}
	return &Config{
		BaseURL:    baseURL,
		APIKey:     os.Getenv("LLAMAPARSE_API_KEY"),
		Model:      envOrDefault("LLAMAPARSE_MODEL", "openai-gpt-4-1-mini"),
		ParseMode:  envOrDefault("LLAMAPARSE_PARSE_MODE", "parse_page_with_agent"),
		HighResOCR: highRes,
	}
}

// Page is one parsed page of a source PDF.
type Page struct {
	// Number is the 1-based page index.
	Number int

	// Markdown is the parsed text content of the page.
	Markdown string

	// Images lists the names of screenshots rendered for this page,
	// downloadable via DownloadImage.
	Images []string
}

// Result is the outcome of a completed parsing job.
type Result struct {
	// JobID is the parsing service job identifier.
	JobID string

	// Pages holds the parsed pages in document order.
	Pages []Page
}

// Parser is the interface the ingestion pipeline depends on. *Client is the
// production implementation; tests substitute fakes.
type Parser interface {
	// Parse uploads the PDF at path and blocks until the job completes.
	Parse(ctx context.Context, path string) (*Result, error)

	// DownloadImage fetches a named page screenshot from a completed job
	// and writes it to w.
	DownloadImage(ctx context.Context, jobID, name string, w io.Writer) error
}

// Client talks to the parsing service over HTTP. Uploads go through a circuit
// breaker so a degraded parsing service fails fast instead of queueing work.
// Safe for concurrent use.
type Client struct {
	cfg     *Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewClient constructs a Client from the given config.
func NewClient(cfg *Config) *Client {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Minute
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: 120 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "llamaparse-upload",
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Parse uploads the PDF at path, waits for the parsing job to finish, and
// returns the structured result. The job is polled at PollInterval until
// SUCCESS, a terminal failure status, PollTimeout, or context cancellation.
func (c *Client) Parse(ctx context.Context, path string) (*Result, error) {
	jobID, err := c.upload(ctx, path)
	if err != nil {
		return nil, err
	}

	if err := c.waitForJob(ctx, jobID); err != nil {
		return nil, err
	}

	pages, err := c.fetchResult(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &Result{JobID: jobID, Pages: pages}, nil
}

// uploadResponse is the JSON body returned when a parsing job is created.
type uploadResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// upload submits the PDF as a new parsing job and returns the job ID.
func (c *Client) upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("parse: open %s: %w", path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := map[string]string{
		"parse_mode":                c.cfg.ParseMode,
		"model":                     c.cfg.Model,
		"high_res_ocr":              strconv.FormatBool(c.cfg.HighResOCR),
		"outlined_table_extraction": "true",
		"output_tables_as_HTML":     "true",
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("parse: write field %s: %w", k, err)
		}
	}

	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("parse: create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("parse: copy file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("parse: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/api/v1/parsing/upload", &buf)
	if err != nil {
		return "", fmt.Errorf("parse: create upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	body, err := c.doBreaker(req)
	if err != nil {
		return "", err
	}

	var result uploadResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("parse: decode upload response: %w", err)
	}
	if result.ID == "" {
		return "", fmt.Errorf("parse: upload response missing job id")
	}

	return result.ID, nil
}

// jobResponse is the JSON body of a job status check.
type jobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// waitForJob polls the job until it reaches a terminal status.
func (c *Client) waitForJob(ctx context.Context, jobID string) error {
	deadline := time.Now().Add(c.cfg.PollTimeout)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		body, err := c.get(ctx, "/api/v1/parsing/job/"+jobID)
		if err != nil {
			return err
		}

		var job jobResponse
		if err := json.Unmarshal(body, &job); err != nil {
			return fmt.Errorf("parse: decode job status: %w", err)
		}

		switch job.Status {
		case statusSuccess:
			return nil
		case statusError, statusCancel:
			return fmt.Errorf("parse: job %s finished with status %s", jobID, job.Status)
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("parse: job %s did not complete within %s", jobID, c.cfg.PollTimeout)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("parse: waiting for job %s: %w", jobID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// resultResponse is the JSON result of a completed parsing job.
type resultResponse struct {
	Pages []struct {
		Page   int    `json:"page"`
		MD     string `json:"md"`
		Images []struct {
			Name string `json:"name"`
		} `json:"images"`
	} `json:"pages"`
}

// fetchResult retrieves the structured JSON result of a completed job.
func (c *Client) fetchResult(ctx context.Context, jobID string) ([]Page, error) {
	body, err := c.get(ctx, "/api/v1/parsing/job/"+jobID+"/result/json")
	if err != nil {
		return nil, err
	}

	var result resultResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse: decode job result: %w", err)
	}

	pages := make([]Page, 0, len(result.Pages))
	for _, p := range result.Pages {
		page := Page{Number: p.Page, Markdown: p.MD}
		for _, img := range p.Images {
			page.Images = append(page.Images, img.Name)
		}
		pages = append(pages, page)
	}

	return pages, nil
}

// DownloadImage fetches a named page screenshot from a completed job and
// writes it to w.
func (c *Client) DownloadImage(ctx context.Context, jobID, name string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/api/v1/parsing/job/"+jobID+"/result/image/"+name, nil)
	if err != nil {
		return fmt.Errorf("parse: create image request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("parse: image request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("parse: image %s: HTTP %d", name, resp.StatusCode)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("parse: write image %s: %w", name, err)
	}

	return nil
}

// Ping verifies the parsing service is reachable. Any HTTP response counts as
// reachable — only transport errors fail the probe. Used by the server
// readiness endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/v1/parsing/job/ping", nil)
	if err != nil {
		return fmt.Errorf("parse: create ping request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("parse: service unreachable: %w", err)
	}
	resp.Body.Close()

	return nil
}

// get performs an authenticated GET and returns the body for 2xx responses.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("parse: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("parse: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("parse: GET %s: HTTP %d: %s", path, resp.StatusCode, truncate(string(body), 200))
	}

	return body, nil
}

// doBreaker performs a request through the circuit breaker and returns the
// body for 2xx responses. Non-2xx responses count as breaker failures.
func (c *Client) doBreaker(req *http.Request) ([]byte, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("parse: request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("parse: read response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("parse: %s %s: HTTP %d: %s",
				req.Method, req.URL.Path, resp.StatusCode, truncate(string(body), 200))
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// truncate shortens s to at most n bytes for error messages.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// envOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
