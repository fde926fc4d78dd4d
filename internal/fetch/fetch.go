// Package fetch provides the shared HTTP plumbing and failure taxonomy for
// Sentinel's upstream sources (XMRig miner API, P2Pool observer).
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Upstream failures collapse into one of these three classes. Callers
// branch on the class, never on transport details.
var (
	// ErrUnreachable covers refused connections, DNS failures, and timeouts.
	ErrUnreachable = errors.New("upstream unreachable")
	// ErrAuthFailed covers 401 and 403 responses.
	ErrAuthFailed = errors.New("authentication rejected")
	// ErrMalformedResponse covers unexpected status codes and undecodable bodies.
	ErrMalformedResponse = errors.New("malformed response")
)

const maxBodyBytes = 8 << 20

// NewClient returns an HTTP client with a hard per-request deadline.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// GetJSON issues a single GET against url and decodes the JSON body into out.
// It never retries; a poll cycle gets at most one attempt per source.
func GetJSON(ctx context.Context, client *http.Client, url string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuthFailed, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: status %d", ErrMalformedResponse, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrUnreachable, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
