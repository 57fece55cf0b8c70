// Package backend provides the HTTP client for the main platform backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lumiere/lumiere-payments/internal/core/domain"
	"github.com/lumiere/lumiere-payments/internal/core/ports"
)

const statusPath = "/api/internal/payments/status/"

// Client implements ports.StatusNotifier against the platform backend.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ ports.StatusNotifier = (*Client)(nil)

// NewClient creates a new backend client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// NotifyStatusChange sends an order status change to the backend.
// POST /api/internal/payments/status/
func (c *Client) NotifyStatusChange(ctx context.Context, change domain.StatusChange) error {
	jsonBody, err := json.Marshal(change)
	if err != nil {
		return domain.NewServiceError(domain.ErrNotifyFailed,
			"failed to marshal payload", "MARSHAL_ERROR")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+statusPath, bytes.NewReader(jsonBody))
	if err != nil {
		return domain.NewServiceError(domain.ErrNotifyFailed,
			"failed to create request", "REQUEST_ERROR")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewServiceError(domain.ErrNotifyFailed,
			"request failed: "+err.Error(), "HTTP_ERROR")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return domain.NewServiceError(domain.ErrNotifyFailed,
			fmt.Sprintf("backend returned status %d: %s", resp.StatusCode, string(body)),
			"BACKEND_ERROR")
	}

	return nil
}
