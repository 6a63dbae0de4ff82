package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

type echoHandler struct{}

func (echoHandler) HandleMessage(_ context.Context, message json.RawMessage) mcp.JSONRPCMessage {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"result":  json.RawMessage(message),
	}
}

func newSSETestServer(t *testing.T) (*httptest.Server, *Registry) {
	t.Helper()

	registry := NewRegistry(nil)
	handler := NewSSEHandler(registry, echoHandler{}, false, nil)

	mux := http.NewServeMux()
	mux.HandleFunc(SSEPath, handler.HandleSSE)
	mux.HandleFunc(MessagePath, handler.HandleMessage)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, registry
}

// readEvent reads one SSE event (event + data lines) from the stream.
func readEvent(t *testing.T, scanner *bufio.Scanner) (event, data string) {
	t.Helper()

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && event != "":
			return event, data
		}
	}
	t.Fatalf("stream ended while reading event: %v", scanner.Err())
	return "", ""
}

func TestSSEFlow(t *testing.T) {
	srv, registry := newSSETestServer(t)

	resp, err := http.Get(srv.URL + SSEPath)
	if err != nil {
		t.Fatalf("GET %s: %v", SSEPath, err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q, want text/event-stream", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	event, data := readEvent(t, scanner)
	if event != "endpoint" {
		t.Fatalf("first event = %q, want endpoint", event)
	}

	endpoint, err := url.Parse(data)
	if err != nil {
		t.Fatalf("parse endpoint %q: %v", data, err)
	}
	if endpoint.Path != MessagePath {
		t.Errorf("endpoint path = %q, want %q", endpoint.Path, MessagePath)
	}
	sessionID := endpoint.Query().Get("session_id")
	if sessionID == "" {
		t.Fatalf("endpoint %q has no session_id", data)
	}
	if _, ok := registry.Get(sessionID); !ok {
		t.Fatalf("session %q not in registry", sessionID)
	}

	// POST a JSON-RPC message and receive the response on the stream.
	msgResp, err := http.Post(data, "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	if err != nil {
		t.Fatalf("POST %s: %v", data, err)
	}
	msgResp.Body.Close()
	if msgResp.StatusCode != http.StatusAccepted {
		t.Fatalf("message status = %d, want %d", msgResp.StatusCode, http.StatusAccepted)
	}

	event, data = readEvent(t, scanner)
	if event != "message" {
		t.Fatalf("second event = %q, want message", event)
	}
	if !strings.Contains(data, `"method":"ping"`) {
		t.Errorf("echoed response missing original message: %q", data)
	}
}

func TestSSESessionRemovedOnDisconnect(t *testing.T) {
	srv, registry := newSSETestServer(t)

	resp, err := http.Get(srv.URL + SSEPath)
	if err != nil {
		t.Fatalf("GET %s: %v", SSEPath, err)
	}

	scanner := bufio.NewScanner(resp.Body)
	_, data := readEvent(t, scanner)
	endpoint, _ := url.Parse(data)
	sessionID := endpoint.Query().Get("session_id")

	resp.Body.Close()

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := registry.Get(sessionID); !ok {
			return
		}
		select {
		case <-deadline:
			t.Fatal("session not removed after disconnect")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestHandleMessageErrors(t *testing.T) {
	srv, _ := newSSETestServer(t)

	tests := []struct {
		name     string
		target   string
		want     int
		wantBody string
	}{
		{name: "missing session_id", target: MessagePath, want: http.StatusBadRequest, wantBody: "session_id is required"},
		{name: "unknown session", target: MessagePath + "?session_id=ghost", want: http.StatusBadRequest, wantBody: "invalid or expired session"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+tt.target, "application/json",
				strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			body, _ := io.ReadAll(resp.Body)
			if !strings.Contains(string(body), tt.wantBody) {
				t.Errorf("body = %q, want substring %q", body, tt.wantBody)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry(nil)

	if registry.Count() != 0 {
		t.Fatalf("fresh registry count = %d", registry.Count())
	}

	s1 := registry.Create()
	s2 := registry.Create()
	if s1.ID == s2.ID {
		t.Fatal("duplicate session IDs")
	}
	if registry.Count() != 2 {
		t.Errorf("count = %d, want 2", registry.Count())
	}

	got, ok := registry.Get(s1.ID)
	if !ok || got.ID != s1.ID {
		t.Errorf("Get(%q) = %v, %v", s1.ID, got, ok)
	}

	before := s1.LastActive
	time.Sleep(time.Millisecond)
	registry.Touch(s1.ID)
	if after, _ := registry.Get(s1.ID); !after.LastActive.After(before) {
		t.Error("Touch did not advance LastActive")
	}

	registry.Remove(s1.ID)
	registry.Remove(s1.ID) // idempotent
	if _, ok := registry.Get(s1.ID); ok {
		t.Error("removed session still present")
	}
	if registry.Count() != 1 {
		t.Errorf("count = %d, want 1", registry.Count())
	}
}
