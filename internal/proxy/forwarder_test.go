package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tokengate/internal/quota"
	"tokengate/internal/store"
)

func TestForwardCommitsReportedUsage(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("Expected /v1/chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("Expected client auth header to be stripped")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"hi"}}],"usage":{"prompt_tokens":12,"completion_tokens":25,"total_tokens":37}}`))
	}))
	defer upstream.Close()

	s := store.NewMemoryStore()
	acct := quota.NewAccounting(s)
	f := NewForwarder(acct)
	id := quota.Identity{Model: "llama", User: "alice"}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer secret")

	// The request declared a 100-token budget; the commit must follow the
	// backend's 37, not the estimate.
	body := []byte(`{"max_tokens":100,"messages":[{"role":"user","content":"hello"}]}`)
	result, err := f.Forward(context.Background(), upstream.URL, body, headers, id, "req-1")
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	if result.ActualTokens != 37 {
		t.Errorf("Expected 37 actual tokens, got %d", result.ActualTokens)
	}

	usage, _ := acct.UsageAll(context.Background(), id)
	for _, window := range []string{"minute", "hour", "day"} {
		if usage[window] != 37 {
			t.Errorf("Expected 37 committed in %s window, got %d", window, usage[window])
		}
	}
}

func TestForwardWithoutUsageBlockCommitsZero(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"hi"}}]}`))
	}))
	defer upstream.Close()

	s := store.NewMemoryStore()
	acct := quota.NewAccounting(s)
	f := NewForwarder(acct)
	id := quota.Identity{Model: "llama", User: "alice"}

	result, err := f.Forward(context.Background(), upstream.URL, []byte(`{}`), nil, id, "req-1")
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if result.ActualTokens != 0 {
		t.Errorf("Expected 0 actual tokens, got %d", result.ActualTokens)
	}
}

func TestForwardUpstreamErrorCommitsNothing(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusBadGateway)
	}))
	defer upstream.Close()

	s := store.NewMemoryStore()
	acct := quota.NewAccounting(s)
	f := NewForwarder(acct)
	id := quota.Identity{Model: "llama", User: "alice"}

	_, err := f.Forward(context.Background(), upstream.URL, []byte(`{}`), nil, id, "req-1")
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("Expected UpstreamError, got %v", err)
	}
	if ue.Status != http.StatusBadGateway {
		t.Errorf("Expected status 502 in error, got %d", ue.Status)
	}

	usage, _ := acct.Usage(context.Background(), id, quota.Minute)
	if usage != 0 {
		t.Errorf("Expected nothing committed on upstream failure, got %d", usage)
	}
}

func TestForwardTimeoutCommitsNothing(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	s := store.NewMemoryStore()
	acct := quota.NewAccounting(s)
	f := NewForwarder(acct)
	id := quota.Identity{Model: "llama", User: "alice"}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.Forward(ctx, slow.URL, []byte(`{}`), nil, id, "req-1")
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("Expected UpstreamError on timeout, got %v", err)
	}

	usage, _ := acct.Usage(context.Background(), id, quota.Minute)
	if usage != 0 {
		t.Errorf("Expected nothing committed on timeout, got %d", usage)
	}
}

func TestForwardUnreachableBackend(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	s := store.NewMemoryStore()
	f := NewForwarder(quota.NewAccounting(s))
	id := quota.Identity{Model: "llama", User: "alice"}

	_, err := f.Forward(context.Background(), dead.URL, []byte(`{}`), nil, id, "req-1")
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("Expected UpstreamError for unreachable backend, got %v", err)
	}
}
