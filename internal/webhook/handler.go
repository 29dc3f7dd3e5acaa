package webhook

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/levelpath/concierge/internal/chat"
	"github.com/levelpath/concierge/internal/domain"
	"github.com/levelpath/concierge/internal/tools"
)

const (
	typeAssistantMessage = "assistant.message"
	typeToolExecution    = "tool.execution"
)

type request struct {
	Type       string       `json:"type"`
	Message    string       `json:"message"`
	SessionID  string       `json:"sessionId"`
	ToolName   string       `json:"toolName"`
	Parameters tools.Params `json:"parameters"`
}

// Handler receives callbacks from the remote assistant platform: message
// relays that run through the keyword responder, and tool execution
// requests dispatched to the named tool endpoints.
type Handler struct {
	responder *chat.Responder
	conv      chat.Conversations
	tools     *tools.Handler
}

func NewHandler(responder *chat.Responder, conv chat.Conversations, toolHandler *tools.Handler) *Handler {
	return &Handler{responder: responder, conv: conv, tools: toolHandler}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/webhooks/assistant", h.HandleWebhook)
}

func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64*1024)

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON body"})
		return
	}

	switch req.Type {
	case typeAssistantMessage:
		h.handleAssistantMessage(w, r, req)
	case typeToolExecution:
		h.handleToolExecution(w, r, req)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Unknown webhook type"})
	}
}

// handleAssistantMessage runs the inbound message through the keyword
// responder and posts the reply back into the remote conversation as an
// assistant-authored message.
func (h *Handler) handleAssistantMessage(w http.ResponseWriter, r *http.Request, req request) {
	if req.Message == "" || req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "message and sessionId are required"})
		return
	}

	reply := h.responder.Respond(req.Message)

	if h.conv == nil {
		slog.Warn("webhook relay skipped, remote conversations not configured", "session_id", req.SessionID)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "Remote conversations not configured"})
		return
	}

	if _, err := h.conv.PostMessage(r.Context(), req.SessionID, reply, domain.SenderAssistant); err != nil {
		slog.Error("webhook relay failed", "session_id", req.SessionID, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "Failed to post reply"})
		return
	}

	slog.Info("webhook message relayed",
		"session_id", req.SessionID,
		"rule", h.responder.MatchedRule(req.Message),
	)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleToolExecution dispatches to the named tool and returns its result
// verbatim under the result key.
func (h *Handler) handleToolExecution(w http.ResponseWriter, r *http.Request, req request) {
	if req.ToolName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "toolName is required"})
		return
	}

	params := req.Parameters
	if params == nil {
		params = tools.Params{}
	}

	result, err := h.tools.Dispatch(r.Context(), req.ToolName, params)
	if err != nil {
		slog.Error("tool dispatch failed", "tool", req.ToolName, "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode webhook response", "error", err)
	}
}
