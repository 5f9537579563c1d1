package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrSourceUnavailable is returned when the record store cannot be reached
// after the configured number of attempts.
var ErrSourceUnavailable = errors.New("record source unavailable")

// ErrUnauthorized is returned on a 401/403 from the record store. It is not
// retried: a bad credential will not fix itself.
var ErrUnauthorized = errors.New("record source rejected credentials")

// Record is one row from the tabular store: an opaque record id plus a
// field-name to value mapping. It is a read-only snapshot for the run.
type Record struct {
	ID     string                 `json:"id"`
	Fields map[string]interface{} `json:"fields"`
}

// Query selects records from one table.
type Query struct {
	Table      string
	View       string
	Filter     string // store-side filter formula
	MaxRecords int
}

// Config holds the record store connection settings.
type Config struct {
	BaseURL        string
	BaseID         string
	APIKey         string
	RequestTimeout time.Duration
	RetryAttempts  int
	RetryInterval  time.Duration
}

// Client fetches records from the hosted tabular store.
type Client struct {
	config     *Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a record store client.
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

// page mirrors one page of the store's list-records response.
type page struct {
	Records []Record `json:"records"`
	Offset  string   `json:"offset"`
}

// FetchRecords retrieves all records matching the query, following the
// store's offset pagination until exhausted. A failure partway through
// discards the partial result; callers re-fetch from the start.
func (c *Client) FetchRecords(ctx context.Context, q Query) ([]Record, error) {
	if q.Table == "" {
		return nil, fmt.Errorf("table name is required")
	}

	var all []Record
	offset := ""

	for {
		p, err := c.fetchPage(ctx, q, offset)
		if err != nil {
			return nil, err
		}

		all = append(all, p.Records...)

		// Trim before checking the offset: a server that ignores maxRecords
		// can over-fill the final page.
		if q.MaxRecords > 0 && len(all) >= q.MaxRecords {
			all = all[:q.MaxRecords]
			break
		}

		if p.Offset == "" {
			break
		}
		offset = p.Offset
	}

	c.logger.Debug("Fetched records from source",
		slog.String("table", q.Table),
		slog.Int("count", len(all)),
	)

	return all, nil
}

// fetchPage requests a single page, retrying transient failures with
// exponential backoff before giving up with ErrSourceUnavailable.
func (c *Client) fetchPage(ctx context.Context, q Query, offset string) (*page, error) {
	attempts := c.config.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}

	interval := c.config.RetryInterval
	if interval <= 0 {
		interval = time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		p, err := c.doFetchPage(ctx, q, offset)
		if err == nil {
			return p, nil
		}
		if errors.Is(err, ErrUnauthorized) || ctx.Err() != nil {
			return nil, err
		}

		lastErr = err
		c.logger.Warn("Record fetch failed, retrying...",
			slog.String("table", q.Table),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Any("error", err),
		)

		if attempt < attempts {
			backoff := time.Duration(float64(interval) * float64(uint(1)<<uint(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("%w: table %q after %d attempts: %v", ErrSourceUnavailable, q.Table, attempts, lastErr)
}

func (c *Client) doFetchPage(ctx context.Context, q Query, offset string) (*page, error) {
	endpoint := fmt.Sprintf("%s/v0/%s/%s",
		strings.TrimSuffix(c.config.BaseURL, "/"),
		c.config.BaseID,
		url.PathEscape(q.Table),
	)

	params := url.Values{}
	if q.View != "" {
		params.Set("view", q.View)
	}
	if q.Filter != "" {
		params.Set("filterByFormula", q.Filter)
	}
	if q.MaxRecords > 0 {
		params.Set("maxRecords", fmt.Sprintf("%d", q.MaxRecords))
	}
	if offset != "" {
		params.Set("offset", offset)
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var p page
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &p, nil
}

// UpdateRecord patches fields on an existing record, used to write dispatch
// outcomes back onto the source row.
func (c *Client) UpdateRecord(ctx context.Context, table, recordID string, fields map[string]interface{}) error {
	endpoint := fmt.Sprintf("%s/v0/%s/%s/%s",
		strings.TrimSuffix(c.config.BaseURL, "/"),
		c.config.BaseID,
		url.PathEscape(table),
		url.PathEscape(recordID),
	)

	payload, err := json.Marshal(map[string]interface{}{"fields": fields})
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}
