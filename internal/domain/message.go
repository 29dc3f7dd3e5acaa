// Package domain contains core domain types for the concierge server.
package domain

import (
	"time"
)

// Sender identifies who authored a chat message.
type Sender string

const (
	// SenderUser is the storefront visitor typing into the widget.
	SenderUser Sender = "user"
	// SenderAssistant is the conversational assistant, remote or local.
	SenderAssistant Sender = "assistant"
	// SenderAgent is a human agent joined after escalation.
	SenderAgent Sender = "agent"
	// SenderSystem is used for mode-switch and connection notices.
	SenderSystem Sender = "system"
)

// MessageKind categorizes a message beyond plain text.
type MessageKind string

const (
	// KindText is an ordinary text message.
	KindText MessageKind = "text"
	// KindTool is a tool-result message.
	KindTool MessageKind = "tool"
	// KindEscalation marks a hand-off to a human agent.
	KindEscalation MessageKind = "escalation"
)

// Message is a single transcript entry. Immutable once created; transcript
// ordering is insertion order and IDs must be unique within a transcript.
type Message struct {
	ID        string      `json:"id"`
	Content   string      `json:"content"`
	Sender    Sender      `json:"sender"`
	Timestamp time.Time   `json:"timestamp"`
	Kind      MessageKind `json:"kind,omitempty"`
}

// IsReplyCandidate reports whether the message can resolve a pending
// exchange whose user message was sent at sentAt. Only assistant and system
// messages created strictly after sentAt qualify; anything at or before
// sentAt is a stale reply to an earlier exchange.
func (m Message) IsReplyCandidate(sentAt time.Time) bool {
	if m.Sender != SenderAssistant && m.Sender != SenderSystem {
		return false
	}
	return m.Timestamp.After(sentAt)
}
