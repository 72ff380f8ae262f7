package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
)

// APIError is a non-2xx response from the prediction service. Detail carries
// the backend's human-readable message (the "detail" field of the error
// body); the UI shows it verbatim.
type APIError struct {
	StatusCode int
	Detail     string
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("prediction service returned %d: %s", e.StatusCode, e.Detail)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// ErrUnreachable is returned when the service cannot be reached at all
// (connection refused, DNS failure, timeout). The UI maps this to a single
// generic message.
var ErrUnreachable = errors.New("prediction service unreachable")

// errorBody is the backend's error envelope
type errorBody struct {
	Detail string `json:"detail"`
}

// doJSON performs an HTTP request with an optional JSON body and decodes a
// JSON response into out (which may be nil to discard the body).
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	return c.send(req, out)
}

// doMultipart performs a multipart file upload.
func (c *Client) doMultipart(ctx context.Context, path string, query url.Values, fieldName, filename string, file io.Reader, out interface{}) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile(fieldName, filename)
	if err != nil {
		return fmt.Errorf("failed to create multipart field: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("failed to copy file into multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	fullPath := path
	if len(query) > 0 {
		fullPath += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+fullPath, &buf)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	return c.send(req, out)
}

// send executes the request and maps the response: 2xx decodes into out,
// anything else becomes an *APIError, transport failures become ErrUnreachable.
func (c *Client) send(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Context cancellation is reported as-is so callers can distinguish
		// their own cancellation from a dead backend.
		if req.Context().Err() != nil {
			return req.Context().Err()
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := parseDetail(data)
		return &APIError{StatusCode: resp.StatusCode, Detail: detail}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

const maxResponseBytes = 16 << 20 // 16MB cap on response bodies

// parseDetail extracts the backend's detail message from an error body,
// falling back to the raw body (trimmed) or a generic message.
func parseDetail(data []byte) string {
	var body errorBody
	if err := json.Unmarshal(data, &body); err == nil && body.Detail != "" {
		return body.Detail
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed != "" && len(trimmed) <= 200 {
		return trimmed
	}
	return "request failed"
}
