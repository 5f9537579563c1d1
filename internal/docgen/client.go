// Package docgen calls the external document-generation service.
package docgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrTransient wraps failures that may succeed on retry: timeouts, network
// errors, 5xx responses.
type ErrTransient struct{ Err error }

func (e *ErrTransient) Error() string { return fmt.Sprintf("transient error: %v", e.Err) }
func (e *ErrTransient) Unwrap() error { return e.Err }

// ErrPermanent wraps failures a retry cannot fix: 4xx responses, malformed
// replies.
type ErrPermanent struct{ Err error }

func (e *ErrPermanent) Error() string { return fmt.Sprintf("permanent error: %v", e.Err) }
func (e *ErrPermanent) Unwrap() error { return e.Err }

// Request asks the service to generate one document from a template.
type Request struct {
	TemplateID string            `json:"template_id"`
	Kind       string            `json:"kind"`
	Fields     map[string]string `json:"fields"`
}

// Result carries the generated document reference.
type Result struct {
	DocumentID string `json:"document_id"`
}

// Config holds the document service connection settings.
type Config struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
}

// Client is the document-generation API client.
type Client struct {
	config     *Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a document API client.
func NewClient(config *Config, logger *slog.Logger) *Client {
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Generate submits one document request. A single in-flight call is not
// cancelable once the request is on the wire; callers bound it with the
// context deadline.
func (c *Client) Generate(ctx context.Context, req Request) (*Result, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &ErrPermanent{Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	endpoint := strings.TrimSuffix(c.config.BaseURL, "/") + "/documents"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &ErrPermanent{Err: fmt.Errorf("failed to build request: %w", err)}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Timeouts and connection failures are worth another attempt.
		return nil, &ErrTransient{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &ErrTransient{Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body))}
	case resp.StatusCode >= http.StatusBadRequest:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &ErrPermanent{Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body))}
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ErrPermanent{Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if result.DocumentID == "" {
		return nil, &ErrPermanent{Err: fmt.Errorf("response missing document_id")}
	}

	c.logger.Debug("Document generated",
		slog.String("template_id", req.TemplateID),
		slog.String("document_id", result.DocumentID),
	)

	return &result, nil
}
