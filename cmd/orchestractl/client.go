package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// do performs one request against the orchestrator service and decodes the
// JSON response into out. Non-2xx responses are mapped to human-readable
// errors, but the body is still decoded when possible so degraded health
// output can be rendered.
func (c *cli) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.New("server unavailable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if out != nil {
		// Best effort on error responses; mapError reports the failure.
		_ = json.Unmarshal(raw, out)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return mapError(resp.StatusCode, raw)
	}

	return nil
}

func (c *cli) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *cli) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// stream copies a streaming response body to w as it arrives. A client
// without a request timeout is used so a long-running job can be followed to
// completion; cancellation comes from the command context.
func (c *cli) stream(ctx context.Context, path string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return errors.New("server unavailable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(resp.Body)
		return mapError(resp.StatusCode, raw)
	}

	_, err = io.Copy(w, resp.Body)

	return err
}

// mapError translates HTTP error responses to human-readable messages.
func mapError(status int, raw []byte) error {
	var body struct {
		Error string `json:"error"`
	}

	_ = json.Unmarshal(raw, &body)

	switch status {
	case http.StatusNotFound:
		return errors.New("not found")
	case http.StatusTooManyRequests:
		return errors.New("rejected: concurrency limit reached")
	case http.StatusServiceUnavailable:
		if body.Error != "" {
			return errors.New(body.Error)
		}

		return errors.New("server unavailable")
	default:
		if body.Error != "" {
			return errors.New(body.Error)
		}

		return fmt.Errorf("request failed with status %d", status)
	}
}
