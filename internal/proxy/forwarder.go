package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tokengate/internal/quota"
)

// forwardTimeout bounds the inference call itself. Generation is slow, so
// this is deliberately generous compared to the 5s health probes.
const forwardTimeout = 2 * time.Minute

// UpstreamError reports a failed or non-2xx backend call. It surfaces as
// HTTP 503 with the model and cause attached.
type UpstreamError struct {
	Model  string
	Status int // 0 when the call never produced a response
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model %s unavailable: %v", e.Model, e.Err)
	}
	return fmt.Sprintf("model %s unavailable: upstream status %d", e.Model, e.Status)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Result is a successful backend response plus the usage reconciled from it.
type Result struct {
	Body         []byte
	Status       int
	ActualTokens int64
}

// Forwarder sends admitted requests to their backend and commits the actual
// token usage the backend reports. It never touches the concurrency slot;
// the caller owns the release.
type Forwarder struct {
	client *http.Client
	acct   *quota.Accounting
}

func NewForwarder(acct *quota.Accounting) *Forwarder {
	return &Forwarder{
		client: &http.Client{Timeout: forwardTimeout},
		acct:   acct,
	}
}

// Forward posts the verbatim payload to the backend's chat completions path.
// On success the backend-reported total_tokens (0 if the response carries no
// usage block) is committed to all three windows. On any failure nothing is
// committed.
func (f *Forwarder) Forward(ctx context.Context, endpoint string, body []byte, headers http.Header, id quota.Identity, requestID string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &UpstreamError{Model: id.Model, Err: err}
	}
	copyHeaders(req.Header, headers)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Model: id.Model, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Model: id.Model, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{Model: id.Model, Status: resp.StatusCode}
	}

	actual := extractTotalTokens(respBody)
	if err := f.acct.CommitAll(ctx, id, actual); err != nil {
		// The response already cost the backend real work; surface the
		// store failure rather than silently dropping the usage.
		return nil, fmt.Errorf("reconcile usage for %s: %w", id, err)
	}

	return &Result{Body: respBody, Status: resp.StatusCode, ActualTokens: actual}, nil
}

// extractTotalTokens pulls usage.total_tokens out of an OpenAI-style
// response body, 0 when absent or unparseable.
func extractTotalTokens(body []byte) int64 {
	var resp struct {
		Usage struct {
			TotalTokens int64 `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0
	}
	return resp.Usage.TotalTokens
}

// copyHeaders forwards client headers minus hop-by-hop and identity headers
// the backend must not see.
func copyHeaders(dst, src http.Header) {
	for key, vals := range src {
		switch strings.ToLower(key) {
		case "host", "content-length", "authorization", "x-api-key", "x-user-id", "connection":
			continue
		}
		for _, v := range vals {
			dst.Add(key, v)
		}
	}
}
