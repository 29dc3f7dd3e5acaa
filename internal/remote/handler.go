package remote

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/levelpath/concierge/internal/domain"
)

// Handler exposes the thin proxy surface the widget uses to reach the
// conversations platform directly: token issuance, conversation creation,
// synchronous message submission and conversation fetch.
type Handler struct {
	client      *Client
	assistantID string
}

// NewHandler creates the proxy handler.
func NewHandler(client *Client, assistantID string) *Handler {
	return &Handler{client: client, assistantID: assistantID}
}

// RegisterRoutes registers the platform proxy routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/token", h.HandleToken)
	r.Post("/api/conversation", h.HandleConversation)
	r.Get("/api/conversation", h.HandleGetConversation)
}

type proxyTokenRequest struct {
	Identity string `json:"identity"`
	Password string `json:"password"`
}

// HandleToken handles POST /api/token: requests an access credential from
// the token service using the fixed demo identity unless overridden.
func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	var req proxyTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	cred, err := h.client.Token(r.Context(), req.Identity, req.Password)
	if err != nil {
		slog.Warn("token issuance failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "failed to get access token"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"token":    cred.Token,
		"identity": cred.Identity,
	})
}

type conversationRequest struct {
	AssistantID string `json:"assistantId"`
	SessionID   string `json:"sessionId"`
	Message     string `json:"message"`
	Kind        string `json:"kind"`
}

// HandleConversation handles POST /api/conversation. Two body shapes share
// the route, matching the widget's wire protocol: a creation request carries
// an assistantId, a submission request carries sessionId + message with
// kind "user_message". The submission variant is the synchronous-reply
// fallback used when no push subscription exists: it submits the message and
// answers with the newest assistant reply visible right after submission, or
// a processing acknowledgement when none is yet.
func (h *Handler) HandleConversation(w http.ResponseWriter, r *http.Request) {
	var req conversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.SessionID != "" && req.Kind == "user_message" {
		h.submitMessage(w, r, req)
		return
	}

	assistantID := req.AssistantID
	if assistantID == "" {
		assistantID = h.assistantID
	}
	sid, err := h.client.CreateConversation(r.Context(), assistantID)
	if err != nil {
		slog.Warn("conversation creation failed", "assistant_id", assistantID, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "failed to create conversation"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": sid, "status": "active"})
}

func (h *Handler) submitMessage(w http.ResponseWriter, r *http.Request, req conversationRequest) {
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}

	posted, err := h.client.PostMessage(r.Context(), req.SessionID, req.Message, domain.SenderUser)
	if err != nil {
		slog.Warn("message submission failed", "remote_sid", req.SessionID, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "failed to send message"})
		return
	}

	response := "I received your message and I'm processing it."
	if msgs, err := h.client.ListMessages(r.Context(), req.SessionID, 10); err == nil {
		// Pick the newest qualifying reply by creation time; the platform
		// does not guarantee list order.
		var best domain.Message
		for _, m := range msgs {
			if m.Sender != domain.SenderAssistant || !m.Timestamp.After(posted.Timestamp) {
				continue
			}
			if best.ID == "" || m.Timestamp.After(best.Timestamp) {
				best = m
			}
		}
		if best.ID != "" {
			response = best.Content
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"response": response})
}

// HandleGetConversation handles GET /api/conversation?sessionId=: returns
// conversation metadata plus the most recent messages.
func (h *Handler) HandleGetConversation(w http.ResponseWriter, r *http.Request) {
	sid := r.URL.Query().Get("sessionId")
	if sid == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "sessionId is required"})
		return
	}

	conv, msgs, err := h.client.GetConversation(r.Context(), sid)
	if err != nil {
		slog.Warn("conversation fetch failed", "remote_sid", sid, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "failed to fetch conversation"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": conv,
		"messages":     msgs,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}
