package retrace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Sentinel errors for retrace service failures.
var (
	ErrRetraceUnavailable = errors.New("retrace service unavailable")
	ErrRetraceFailed      = errors.New("retrace failed")
	ErrRetraceTimeout     = errors.New("retrace timeout")
)

// Client deobfuscates stack trace lines using an uploaded mapping file.
type Client interface {
	Retrace(ctx context.Context, lines []string, mapping []byte) ([]string, error)
	Ready(ctx context.Context) error
}

// HTTPClient implements Client against a retrace service HTTP API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a new retrace HTTP client.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type retraceRequest struct {
	Lines   []string `json:"lines"`
	Mapping []byte   `json:"mapping"`
}

type retraceResponse struct {
	Lines []string `json:"lines"`
}

func (c *HTTPClient) Retrace(ctx context.Context, lines []string, mapping []byte) ([]string, error) {
	body, err := json.Marshal(retraceRequest{Lines: lines, Mapping: mapping})
	if err != nil {
		return nil, fmt.Errorf("encoding retrace request: %w", err)
	}

	u := fmt.Sprintf("%s/api/v1/retrace", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrRetraceFailed, resp.StatusCode)
	}

	var retraceResp retraceResponse
	if err := json.NewDecoder(resp.Body).Decode(&retraceResp); err != nil {
		return nil, fmt.Errorf("decoding retrace response: %w", err)
	}

	if len(retraceResp.Lines) != len(lines) {
		return nil, fmt.Errorf("%w: got %d lines for %d input lines", ErrRetraceFailed, len(retraceResp.Lines), len(lines))
	}

	return retraceResp.Lines, nil
}

func (c *HTTPClient) Ready(ctx context.Context) error {
	u := fmt.Sprintf("%s/ready", c.baseURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRetraceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: retrace service not ready (status %d)", ErrRetraceUnavailable, resp.StatusCode)
	}

	return nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrRetraceTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrRetraceTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrRetraceUnavailable, err)
	}

	return fmt.Errorf("%w: %v", ErrRetraceUnavailable, err)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
