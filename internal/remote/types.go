// Package remote implements the client for the third-party conversations
// platform: token issuance, conversation lifecycle, message submission and
// the push event subscription. The platform itself is a black box; this
// package only speaks its HTTP and websocket surfaces.
package remote

import (
	"time"

	"github.com/levelpath/concierge/internal/domain"
)

// wireMessage is a message as the platform serializes it.
type wireMessage struct {
	SID         string    `json:"id"`
	Body        string    `json:"body"`
	Author      string    `json:"author"`
	DateCreated time.Time `json:"createdAt"`
	Index       int       `json:"index"`
}

// toDomain maps a wire message onto the transcript type. Unknown authors are
// treated as agents so escalation hand-offs still render.
func (m wireMessage) toDomain() domain.Message {
	sender := domain.Sender(m.Author)
	switch sender {
	case domain.SenderUser, domain.SenderAssistant, domain.SenderAgent, domain.SenderSystem:
	default:
		sender = domain.SenderAgent
	}
	return domain.Message{
		ID:        m.SID,
		Content:   m.Body,
		Sender:    sender,
		Timestamp: m.DateCreated,
		Kind:      domain.KindText,
	}
}

type tokenRequest struct {
	Identity string `json:"identity"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token    string `json:"token"`
	Identity string `json:"identity"`
}

type createConversationRequest struct {
	AssistantID string `json:"assistantId"`
}

type createConversationResponse struct {
	SessionID string `json:"sessionId"`
}

type postMessageRequest struct {
	Body   string `json:"body"`
	Author string `json:"author"`
}

type listMessagesResponse struct {
	Messages []wireMessage `json:"messages"`
}

// Conversation is the platform's conversation metadata.
type Conversation struct {
	SID          string `json:"sid"`
	FriendlyName string `json:"friendlyName"`
	Status       string `json:"status"`
}

type conversationResponse struct {
	Conversation Conversation  `json:"conversation"`
	Messages     []wireMessage `json:"messages"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// event is one frame on the push socket.
type event struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId"`
	Message   wireMessage `json:"message"`
}

// eventMessageAdded is the only event type the bridge consumes.
const eventMessageAdded = "message.added"
