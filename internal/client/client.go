// Package client talks to a running captureexpress server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bryanchriswhite/CaptureExpress/internal/devices"
	"github.com/bryanchriswhite/CaptureExpress/internal/engine"
	"github.com/bryanchriswhite/CaptureExpress/internal/history"
	"github.com/bryanchriswhite/CaptureExpress/internal/recorder"
	"github.com/bryanchriswhite/CaptureExpress/internal/settings"
)

// DefaultTimeout covers a start that waits the full signal timeout
const DefaultTimeout = 30 * time.Second

// APIError is a non-2xx answer from the server
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// Client is a thin JSON client for the control surface
type Client struct {
	base *url.URL
	http *http.Client
}

// New creates a client for baseURL, e.g. http://localhost:21889
func New(baseURL string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q: scheme and host are required", baseURL)
	}
	return &Client{base: u, http: &http.Client{Timeout: DefaultTimeout}}, nil
}

// Status is the server's /status answer
type Status struct {
	recorder.Status
}

// Status fetches recorder state and engine statistics
func (c *Client) Status(ctx context.Context) (Status, error) {
	var out Status
	err := c.do(ctx, http.MethodGet, "/status", nil, &out)
	return out, err
}

// Devices lists speakers or microphones
func (c *Client) Devices(ctx context.Context, kind devices.Kind) ([]devices.Device, error) {
	var out []devices.Device
	err := c.do(ctx, http.MethodGet, "/audio/"+string(kind)+"s", nil, &out)
	return out, err
}

// Settings fetches the compact view of a category
func (c *Client) Settings(ctx context.Context, category string) (settings.Compact, error) {
	var out struct {
		Settings settings.Compact `json:"settings"`
	}
	err := c.do(ctx, http.MethodGet, "/settings/"+url.PathEscape(category), nil, &out)
	return out.Settings, err
}

// DetailedSettings fetches the full settings tree of a category
func (c *Client) DetailedSettings(ctx context.Context, category string) ([]engine.SubCategory, error) {
	var out struct {
		Settings []engine.SubCategory `json:"settings"`
	}
	err := c.do(ctx, http.MethodGet, "/settings/"+url.PathEscape(category)+"?detailed=true", nil, &out)
	return out.Settings, err
}

// UpdateSettings applies updates to a category in one commit
func (c *Client) UpdateSettings(ctx context.Context, category string, updates settings.Updates) error {
	return c.do(ctx, http.MethodPost, "/settings/"+url.PathEscape(category), updates, nil)
}

// StartRecording sends a capture request and waits for the confirmed start
func (c *Client) StartRecording(ctx context.Context, req recorder.Request) error {
	return c.do(ctx, http.MethodPost, "/recording/start", req, nil)
}

// StopRecording waits for the confirmed stop
func (c *Client) StopRecording(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/recording/stop", nil, nil)
}

// Recordings lists journaled sessions, newest first
func (c *Client) Recordings(ctx context.Context, limit int) ([]history.Entry, error) {
	var out struct {
		Recordings []history.Entry `json:"recordings"`
	}
	path := "/recordings"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Recordings, err
}

// Shutdown asks the server to release the engine and exit
func (c *Client) Shutdown(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/shutdown", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	ref, err := url.Parse(path)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.ResolveReference(ref).String(), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &e) != nil || e.Message == "" {
			e.Message = http.StatusText(resp.StatusCode)
		}
		return &APIError{Code: resp.StatusCode, Message: e.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
