package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"carechat/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.UpstreamConfig{
		BaseURL:        srv.URL,
		Path:           "/api/generate",
		Model:          "test-model",
		TimeoutSeconds: 5,
	})
}

func ndjsonHandler(t *testing.T, chunks []string, done bool) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
			Stream bool   `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !req.Stream {
			t.Error("expected stream=true request")
		}
		flusher := w.(http.Flusher)
		for _, chunk := range chunks {
			fmt.Fprintf(w, `{"response":%q,"done":false}`+"\n", chunk)
			flusher.Flush()
		}
		if done {
			fmt.Fprintln(w, `{"response":"","done":true}`)
			flusher.Flush()
		}
	}
}

func TestStreamDeliversChunksInOrder(t *testing.T) {
	want := []string{"Hel", "lo", " world"}
	c := newTestClient(t, ndjsonHandler(t, want, true))

	var got []string
	err := c.Stream(context.Background(), "hi", func(chunk string) error {
		got = append(got, chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("chunks out of order or missing: got %v want %v", got, want)
	}
}

func TestStreamEOFWithoutDoneIsClean(t *testing.T) {
	c := newTestClient(t, ndjsonHandler(t, []string{"partial"}, false))
	var got []string
	if err := c.Stream(context.Background(), "hi", func(chunk string) error {
		got = append(got, chunk)
		return nil
	}); err != nil {
		t.Fatalf("expected clean end on EOF, got %v", err)
	}
	if len(got) != 1 || got[0] != "partial" {
		t.Fatalf("unexpected chunks %v", got)
	}
}

func TestStreamCallbackErrorAborts(t *testing.T) {
	c := newTestClient(t, ndjsonHandler(t, []string{"a", "b", "c"}, true))
	abort := errors.New("caller gone")
	calls := 0
	err := c.Stream(context.Background(), "hi", func(string) error {
		calls++
		if calls == 2 {
			return abort
		}
		return nil
	})
	if !errors.Is(err, abort) {
		t.Fatalf("expected callback error to propagate, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected abort after second chunk, got %d calls", calls)
	}
}

func TestStreamNonOKStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	})
	err := c.Stream(context.Background(), "hi", func(string) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestStreamMalformedChunk(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"ok","done":false}`)
		fmt.Fprintln(w, `not json`)
	})
	var got []string
	err := c.Stream(context.Background(), "hi", func(chunk string) error {
		got = append(got, chunk)
		return nil
	})
	if err == nil {
		t.Fatal("expected decode error")
	}
	if len(got) != 1 {
		t.Fatalf("chunks before the bad frame should still deliver, got %v", got)
	}
}

func TestStreamTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(block) })

	c := New(config.UpstreamConfig{BaseURL: srv.URL, Path: "/api/generate", TimeoutSeconds: 1})
	c.timeout = 50 * time.Millisecond

	err := c.Stream(context.Background(), "hi", func(string) error { return nil })
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestStreamContextCancellation(t *testing.T) {
	started := make(chan struct{})
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-block
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(block) })

	c := New(config.UpstreamConfig{BaseURL: srv.URL, Path: "/api/generate", TimeoutSeconds: 30})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	if err := c.Stream(ctx, "hi", func(string) error { return nil }); err == nil {
		t.Fatal("expected cancellation error")
	}
}
