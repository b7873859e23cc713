package stages

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func chatHandler(t *testing.T, text string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s, want /v1/chat/completions", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": text}},
			},
		})
	}
}

func TestHTTPLLMClient_Complete(t *testing.T) {
	srv := httptest.NewServer(chatHandler(t, "a weathered lighthouse"))
	defer srv.Close()

	c := NewHTTPLLMClient(srv.URL, "key", "model-x", 0.01)
	text, cost, err := c.Complete(context.Background(), "system", "prompt")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if text != "a weathered lighthouse" {
		t.Errorf("text = %q", text)
	}
	if cost != 0.01 {
		t.Errorf("cost = %f, want 0.01", cost)
	}
}

func TestHTTPLLMClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		chatHandler(t, "recovered")(w, r)
	}))
	defer srv.Close()

	oldBackoff := retryBackoff
	retryBackoff = time.Millisecond
	defer func() { retryBackoff = oldBackoff }()

	c := NewHTTPLLMClient(srv.URL, "key", "model-x", 0.01)
	text, _, err := c.Complete(context.Background(), "system", "prompt")
	if err != nil {
		t.Fatalf("Complete failed after retries: %v", err)
	}
	if text != "recovered" {
		t.Errorf("text = %q, want recovered", text)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("call count = %d, want 3", got)
	}
}

func TestHTTPLLMClient_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewHTTPLLMClient(srv.URL, "bad-key", "model-x", 0.01)
	if _, _, err := c.Complete(context.Background(), "system", "prompt"); err == nil {
		t.Fatal("expected error on 401")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("call count = %d, want 1 (4xx must not retry)", got)
	}
}

func TestHTTPImageClient_GenerateAndEdit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req imageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		switch r.URL.Path {
		case "/v1/images/generations":
			if req.Image != "" {
				t.Error("generation request carries an image ref")
			}
		case "/v1/images/edits":
			if req.Image == "" {
				t.Error("edit request missing image ref")
			}
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"url": "https://cdn/" + r.URL.Path}},
		})
	}))
	defer srv.Close()

	c := NewHTTPImageClient(srv.URL, "key", "img-model", 0.04)

	ref, cost, err := c.Generate(context.Background(), "a fox in the snow")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if ref == "" || cost != 0.04 {
		t.Errorf("Generate = (%q, %f)", ref, cost)
	}

	ref, _, err = c.Edit(context.Background(), "artifacts/img-1.png", "sharpen the fox")
	if err != nil {
		t.Fatalf("Edit failed: %v", err)
	}
	if ref == "" {
		t.Error("Edit returned empty ref")
	}
}
