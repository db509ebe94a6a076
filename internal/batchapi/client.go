// Package batchapi talks to the pipeline's non-realtime HTTP API: upload a
// CSV of activity, list the users and dates it covers, run the batch
// anomaly prediction.
package batchapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// Config configures the client.
type Config struct {
	URL       string
	Timeout   time.Duration
	Headers   map[string]string
	Transport http.RoundTripper
}

// Client calls the batch API.
type Client struct {
	base    string
	headers map[string]string
	client  *http.Client
}

// UserDates lists the dates available for one user.
type UserDates struct {
	User  string   `json:"user"`
	Dates []string `json:"dates"`
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("batch api URL is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base:    strings.TrimRight(cfg.URL, "/"),
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout, Transport: cfg.Transport},
	}, nil
}

// UploadBatch sends a CSV file as the multipart field "file".
func (c *Client) UploadBatch(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to close multipart body: %w", err)
	}

	return c.do(ctx, http.MethodPost, "/upload", mw.FormDataContentType(), &body, nil)
}

// UserDates returns the users of the uploaded batch and their dates, sorted
// by user.
func (c *Client) UserDates(ctx context.Context) ([]UserDates, error) {
	var resp struct {
		Users map[string][]string `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/get_user_dates", "", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]UserDates, 0, len(resp.Users))
	for user, dates := range resp.Users {
		out = append(out, UserDates{User: user, Dates: dates})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User < out[j].User })
	return out, nil
}

// RequestPrediction runs the batch prediction and aggregates its result.
func (c *Client) RequestPrediction(ctx context.Context) (Report, error) {
	var resp struct {
		AnomalyData []AnomalyRecord `json:"anomaly_data"`
	}
	if err := c.do(ctx, http.MethodPost, "/predict", "", nil, &resp); err != nil {
		return Report{}, err
	}
	return Aggregate(resp.AnomalyData), nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s failed with status %s", method, path, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
