package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Stealinglight/StravaMCP/internal/security"
)

// Endpoint paths for the SSE transport.
const (
	SSEPath     = "/sse"
	MessagePath = "/message"
)

const keepAliveInterval = 30 * time.Second

// maxMessageBytes bounds a single JSON-RPC request body.
const maxMessageBytes = 4 << 20

// MessageHandler processes one JSON-RPC message and returns the response to
// stream back. Satisfied by mcp-go's *server.MCPServer.
type MessageHandler interface {
	HandleMessage(ctx context.Context, message json.RawMessage) mcp.JSONRPCMessage
}

// SSEHandler implements the MCP SSE transport: a long-lived GET /sse event
// stream paired with POST /message for client-to-server JSON-RPC.
type SSEHandler struct {
	registry   *Registry
	mcp        MessageHandler
	logger     *slog.Logger
	trustProxy bool
}

// NewSSEHandler creates the SSE transport over a session registry and an
// MCP message handler.
func NewSSEHandler(registry *Registry, handler MessageHandler, trustProxy bool, logger *slog.Logger) *SSEHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SSEHandler{
		registry:   registry,
		mcp:        handler,
		logger:     logger,
		trustProxy: trustProxy,
	}
}

// HandleSSE serves the event stream. The first event is always "endpoint",
// telling the client where to POST its messages; everything after that is
// the session's queued responses plus periodic keep-alive comments.
func (h *SSEHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	session := h.registry.Create()
	defer h.registry.Remove(session.ID)

	endpoint := fmt.Sprintf("%s%s?session_id=%s", h.baseURL(r), MessagePath, session.ID)
	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", endpoint)
	flusher.Flush()

	h.logger.Info("SSE session opened", "session_id", session.ID)

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("SSE session closed", "session_id", session.ID)
			return
		case event := <-session.EventCh:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", event)
			flusher.Flush()
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

// HandleMessage accepts a JSON-RPC message for a live session. The response
// is delivered on the session's event stream; the HTTP response is 202.
func (h *SSEHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	session, ok := h.registry.Get(sessionID)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid or expired session")
		return
	}
	h.registry.Touch(sessionID)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	// The MCP handler is synchronous; dispatch off the request goroutine
	// so a slow tool call does not hold the POST open.
	go h.dispatch(session, body)

	w.WriteHeader(http.StatusAccepted)
}

// dispatch runs one JSON-RPC message through the MCP server and queues the
// response on the session's stream.
func (h *SSEHandler) dispatch(session *Session, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	response := h.mcp.HandleMessage(ctx, body)
	if response == nil {
		// Notifications produce no response.
		return
	}

	data, err := json.Marshal(response)
	if err != nil {
		h.logger.Error("failed to marshal JSON-RPC response",
			"session_id", session.ID, "error", err)
		return
	}

	select {
	case session.EventCh <- string(data):
	default:
		h.logger.Warn("session event buffer full, dropping response",
			"session_id", session.ID)
	}
}

// baseURL mirrors the auth handler's derivation so the endpoint event
// points at the externally visible host.
func (h *SSEHandler) baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host

	if h.trustProxy {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		if fwdHost := r.Header.Get("X-Forwarded-Host"); fwdHost != "" {
			host = fwdHost
		}
	}
	return fmt.Sprintf("%s://%s", scheme, host)
}

func (h *SSEHandler) writeError(w http.ResponseWriter, status int, message string) {
	security.SetSecurityHeaders(w, "")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}
