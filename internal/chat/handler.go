package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/levelpath/concierge/internal/config"
	"github.com/levelpath/concierge/internal/domain"
	"github.com/levelpath/concierge/internal/identity"
)

// Handler exposes the chat widget HTTP surface: session establishment, message
// dispatch and the SSE push stream.
type Handler struct {
	svc         *Service
	hub         *Hub
	rateLimiter *RateLimiter
	cfg         *config.Config
}

// NewHandler creates the chat handler. The hub passed here must be the same
// one wired as the service's Notifier so sent replies reach open streams.
func NewHandler(svc *Service, hub *Hub, cfg *config.Config) *Handler {
	return &Handler{
		svc:         svc,
		hub:         hub,
		rateLimiter: NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration),
		cfg:         cfg,
	}
}

// RegisterRoutes registers the chat widget routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/session", h.HandleEstablish)
		r.Delete("/session", h.HandleClose)
		r.Get("/transcript", h.HandleTranscript)
		r.Post("/message", h.HandleMessage)
		r.Get("/stream", h.HandleStream)
	})
}

type establishRequest struct {
	Mode domain.Mode `json:"mode"`
}

type sessionResponse struct {
	Session    *domain.Session  `json:"session"`
	Transcript []domain.Message `json:"transcript"`
}

// HandleEstablish handles POST /api/chat/session: opens a session in the
// requested mode, or toggles modes (tearing the previous session down).
// Repeated calls for the current mode are no-ops.
func (h *Handler) HandleEstablish(w http.ResponseWriter, r *http.Request) {
	key, ok := h.sessionKey(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.SSE.MaxRequestBodySize)
	var req establishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Mode != domain.ModeLocal && req.Mode != domain.ModeRemote {
		writeError(w, http.StatusBadRequest, "mode must be \"local\" or \"remote\"")
		return
	}

	sess, err := h.svc.Establish(r.Context(), key, req.Mode)
	if err != nil {
		var credErr *CredentialError
		var createErr *SessionCreationError
		status := http.StatusBadGateway
		switch {
		case errors.As(err, &credErr):
			slog.Warn("remote establishment denied", "session_key", key, "error", err)
		case errors.As(err, &createErr):
			slog.Warn("remote conversation creation failed", "session_key", key, "error", err)
		default:
			slog.Error("session establishment failed", "session_key", key, "error", err)
		}
		// The transcript already carries the user-visible error notice; the
		// status and body let programmatic callers react too.
		writeJSON(w, status, map[string]any{
			"error":      err.Error(),
			"session":    sess,
			"transcript": h.svc.Transcript(key),
		})
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{Session: sess, Transcript: h.svc.Transcript(key)})
}

// HandleClose handles DELETE /api/chat/session.
func (h *Handler) HandleClose(w http.ResponseWriter, r *http.Request) {
	key, ok := h.sessionKey(w, r)
	if !ok {
		return
	}
	h.svc.Teardown(key)
	writeJSON(w, http.StatusOK, map[string]bool{"closed": true})
}

// HandleTranscript handles GET /api/chat/transcript.
func (h *Handler) HandleTranscript(w http.ResponseWriter, r *http.Request) {
	key, ok := h.sessionKey(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: h.svc.Session(key), Transcript: h.svc.Transcript(key)})
}

type messageRequest struct {
	Message string `json:"message"`
}

type messageResponse struct {
	Reply domain.Message `json:"reply"`
}

// HandleMessage handles POST /api/chat/message: dispatches the user message
// and responds with the resolved assistant reply. While the exchange is open
// the widget shows a typing indicator; the reply also flows out on the SSE
// stream.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	visitorID := identity.VisitorIDFromContext(r.Context())
	key, ok := h.sessionKey(w, r)
	if !ok {
		return
	}

	// Rate-limit by visitor only (not visitor:widget) so clients cannot
	// bypass throttling by rotating widget IDs.
	if !h.rateLimiter.Allow(visitorID) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.SSE.MaxRequestBodySize)
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	slog.Info("chat message received",
		"session_key", key,
		"message_length", len(req.Message),
	)

	reply, err := h.svc.Send(r.Context(), key, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, ErrExchangeInFlight):
			writeError(w, http.StatusConflict, "a reply is still pending; wait for it before sending again")
		case errors.Is(err, ErrSessionClosed):
			writeError(w, http.StatusBadRequest, "no active session; establish one first")
		default:
			var bridgeErr *BridgeError
			if errors.As(err, &bridgeErr) {
				writeError(w, http.StatusBadGateway, "message could not be delivered to the assistant")
				return
			}
			slog.Error("send failed", "session_key", key, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to process message")
		}
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Reply: reply})
}

// HandleStream handles the SSE stream of assistant messages for one widget,
// with Last-Event-ID replay, configured retry timing and keepalive pings.
//
//nolint:gocognit // SSE lifecycle handling intentionally keeps branches together.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	key, ok := h.sessionKey(w, r)
	if !ok {
		return
	}

	// Parse Last-Event-ID header or query param for replay.
	lastEventID := int64(0)
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader != "" {
		if parsed, err := strconv.ParseInt(idHeader, 10, 64); err == nil {
			lastEventID = parsed
			slog.Info("stream client reconnecting", "session_key", key, "last_event_id", lastEventID)
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, flushOK := w.(http.Flusher)
	if !flushOK {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", h.cfg.SSE.RetryDelay.Milliseconds())); err != nil {
		slog.Warn("failed to write stream retry header", "error", err, "session_key", key)
		return
	}
	flusher.Flush()

	conn := &StreamConnection{
		ID:          h.hub.NextConnectionID(),
		SessionKey:  key,
		ConnectedAt: time.Now(),
		LastEventID: lastEventID,
		Writer:      w,
		Flusher:     flusher,
		Done:        make(chan struct{}),
	}

	h.hub.Register(conn)
	defer func() {
		h.hub.Unregister(conn)
		slog.Info("stream connection closed", "session_key", key, "conn_id", conn.ID)
	}()

	h.hub.Replay(conn)

	eventID := h.hub.NextEventID()
	conn.EventID = eventID
	connectedData := fmt.Sprintf(`{"status":"connected","event_id":%d}`, eventID)
	if err := writeSSEWithID(w, eventID, "connected", connectedData); err != nil {
		slog.Warn("failed to write stream connected event", "error", err, "session_key", key)
		return
	}
	flusher.Flush()

	slog.Info("stream connection established",
		"session_key", key,
		"conn_id", conn.ID,
		"reconnect", lastEventID > 0,
	)

	keepalive := time.NewTicker(h.cfg.SSE.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-conn.Done:
			return
		case <-keepalive.C:
			if err := conn.Keepalive(); err != nil {
				slog.Warn("failed to write stream keepalive", "error", err, "session_key", key)
				return
			}
		}
	}
}

func (h *Handler) sessionKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	visitorID := identity.VisitorIDFromContext(r.Context())
	if visitorID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return identity.SessionKey(visitorID, identity.WidgetIDFromContext(r.Context())), true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
