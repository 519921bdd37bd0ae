// Package uploader is broker's Uploader (spec.md §4.4): it submits a
// completed analysis Artifact and its metadata to the FOSSA analysis
// service HTTP API and classifies failures as retryable or fatal.
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fossas/broker/internal/analyzer"
	"github.com/fossas/broker/internal/config"
)

// DefaultTimeout bounds a single HTTP round trip to the analysis service.
const DefaultTimeout = 60 * time.Second

// DefaultMaxElapsedTime bounds the total time spent retrying one upload,
// per spec.md §4.4 ("capped attempts").
const DefaultMaxElapsedTime = 5 * time.Minute

// RetryableError wraps a transient upload failure (5xx, connect, timeout).
type RetryableError struct{ Err error }

func (e *RetryableError) Error() string { return "retryable upload error: " + e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// FatalError wraps a non-retryable upload failure (401/403/422, other 4xx).
type FatalError struct{ Err error }

func (e *FatalError) Error() string { return "fatal upload error: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Metadata accompanies an Artifact upload, identifying the integration
// and revision it was produced from, per spec.md §4.4.
type Metadata struct {
	IntegrationID string
	Team          string
	Title         string
	Revision      string
}

// Client uploads artifacts to the FOSSA analysis service.
type Client struct {
	Endpoint       string
	IntegrationKey config.Secret
	HTTPClient     *http.Client
	MaxElapsedTime time.Duration
}

// New returns a Client bound to endpoint, authenticating every request
// with integrationKey as a bearer token (spec.md §5: "authenticated
// with a bearer token ... against fossa_endpoint").
func New(endpoint string, integrationKey config.Secret) *Client {
	return &Client{
		Endpoint:       endpoint,
		IntegrationKey: integrationKey,
		HTTPClient:     &http.Client{Timeout: DefaultTimeout},
		MaxElapsedTime: DefaultMaxElapsedTime,
	}
}

type uploadEnvelope struct {
	IntegrationID string `json:"integration_id"`
	Team          string `json:"team,omitempty"`
	Title         string `json:"title,omitempty"`
	Revision      string `json:"revision"`
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
}

// Upload submits artifact+metadata, retrying transient failures with
// exponential backoff and returning the classified error on final
// failure, per spec.md §4.4.
func (c *Client) Upload(ctx context.Context, artifact *analyzer.Artifact, meta Metadata) error {
	payload, err := json.Marshal(uploadEnvelope{
		IntegrationID: meta.IntegrationID,
		Team:          meta.Team,
		Title:         meta.Title,
		Revision:      meta.Revision,
		Stdout:        artifact.Stdout,
		Stderr:        artifact.Stderr,
	})
	if err != nil {
		return &FatalError{Err: fmt.Errorf("marshal upload payload: %w", err)}
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.MaxElapsedTime

	return backoff.Retry(func() error {
		err := c.attempt(ctx, payload)
		if err == nil {
			return nil
		}
		if isRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))
}

func isRetryable(err error) bool {
	_, ok := err.(*RetryableError)
	return ok
}

func (c *Client) attempt(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+"/api/broker/uploads", bytes.NewReader(payload))
	if err != nil {
		return &FatalError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.IntegrationKey.Reveal())
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "fossa-broker/1")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &RetryableError{Err: fmt.Errorf("connect to %s: %w", c.Endpoint, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	const maxResponseSize = 1 << 20
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &RetryableError{Err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden, resp.StatusCode == 422:
		return &FatalError{Err: fmt.Errorf("upload rejected (%d): %s", resp.StatusCode, body)}
	case resp.StatusCode >= 500:
		return &RetryableError{Err: fmt.Errorf("analysis service error (%d): %s", resp.StatusCode, body)}
	case resp.StatusCode >= 400:
		return &FatalError{Err: fmt.Errorf("upload rejected (%d): %s", resp.StatusCode, body)}
	default:
		return &FatalError{Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)}
	}
}
