package docgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL string) *Client {
	return NewClient(&Config{
		BaseURL: baseURL,
		APIKey:  "test-key",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/documents", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tplOfferLetter", req.TemplateID)
		assert.Equal(t, "offer", req.Kind)
		assert.Equal(t, "Jane Smith", req.Fields["seller_name"])

		fmt.Fprint(w, `{"document_id":"doc-123"}`)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	result, err := client.Generate(context.Background(), Request{
		TemplateID: "tplOfferLetter",
		Kind:       "offer",
		Fields:     map[string]string{"seller_name": "Jane Smith"},
	})
	require.NoError(t, err)
	assert.Equal(t, "doc-123", result.DocumentID)
}

func TestGenerate_ErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantTransient bool
	}{
		{name: "500 is transient", status: http.StatusInternalServerError, wantTransient: true},
		{name: "503 is transient", status: http.StatusServiceUnavailable, wantTransient: true},
		{name: "400 is permanent", status: http.StatusBadRequest},
		{name: "404 is permanent", status: http.StatusNotFound},
		{name: "422 is permanent", status: http.StatusUnprocessableEntity},
		{name: "missing document_id is permanent", status: http.StatusOK, body: `{}`},
		{name: "malformed response is permanent", status: http.StatusOK, body: `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				if tt.body != "" {
					fmt.Fprint(w, tt.body)
				}
			}))
			defer srv.Close()

			client := newTestClient(srv.URL)
			_, err := client.Generate(context.Background(), Request{TemplateID: "tpl", Kind: "offer"})
			require.Error(t, err)

			var transient *ErrTransient
			var permanent *ErrPermanent
			if tt.wantTransient {
				assert.True(t, errors.As(err, &transient), "expected transient, got %v", err)
			} else {
				assert.True(t, errors.As(err, &permanent), "expected permanent, got %v", err)
			}
		})
	}
}

func TestGenerate_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	client := newTestClient(srv.URL)
	_, err := client.Generate(context.Background(), Request{TemplateID: "tpl", Kind: "offer"})
	require.Error(t, err)

	var transient *ErrTransient
	assert.True(t, errors.As(err, &transient))
}

func TestGenerate_TimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, `{"document_id":"doc-123"}`)
	}))
	defer srv.Close()

	client := NewClient(&Config{
		BaseURL:        srv.URL,
		APIKey:         "test-key",
		RequestTimeout: 20 * time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := client.Generate(context.Background(), Request{TemplateID: "tpl", Kind: "offer"})
	require.Error(t, err)

	var transient *ErrTransient
	assert.True(t, errors.As(err, &transient))
}
