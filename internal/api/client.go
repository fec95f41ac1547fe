// Package api calls the backend's protected endpoint on behalf of a signed-in browser.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/shindakun/authweb/internal/models"
)

const maxResponseBytes = 1 << 20

// StatusError is a non-2xx answer from the backend
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("protected endpoint returned status %d", e.StatusCode)
}

// StatusCode returns the HTTP status carried by err, or 0
func StatusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

// IsUnauthorized reports whether the backend rejected the token
func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}

// Client is the backend HTTP client
type Client struct {
	url    string
	http   *http.Client
	logger *zap.SugaredLogger
}

// NewClient returns a client for GET <endpoint><path>
func NewClient(endpoint, path string, httpClient *http.Client, logger *zap.SugaredLogger) *Client {
	return &Client{
		url:    strings.TrimRight(endpoint, "/") + "/" + strings.TrimLeft(path, "/"),
		http:   httpClient,
		logger: logger,
	}
}

// URL is the protected resource address
func (c *Client) URL() string {
	return c.url
}

// FetchUserData issues one authenticated GET. It is never retried.
func (c *Client) FetchUserData(ctx context.Context, token string) (*models.UserData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call protected endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var data models.UserData
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &data, nil
}
