package domain

import (
	"time"
)

// Mode selects which backend answers the widget.
type Mode string

const (
	// ModeLocal answers with the deterministic local responder, no network.
	ModeLocal Mode = "local"
	// ModeRemote bridges messages to the remote conversations platform.
	ModeRemote Mode = "remote"
)

// ConnectionState tracks the lifecycle of a chat session.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDenied       ConnectionState = "denied"
)

// Session is the local bookkeeping for one open chat widget. Exactly one
// session is active per widget; it is torn down on mode toggle or close.
type Session struct {
	SessionID string          `json:"session_id"`
	RemoteSID string          `json:"remote_sid,omitempty"`
	Mode      Mode            `json:"mode"`
	State     ConnectionState `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
}

// Active reports whether the session can carry messages.
func (s *Session) Active() bool {
	return s != nil && s.State == StateConnected
}

// PendingExchange tracks one outstanding user->assistant round trip.
// Invariant: at most one open PendingExchange per session.
type PendingExchange struct {
	Outbound     Message
	SentAt       time.Time
	Deadline     time.Time
	AttemptsMade int
}

// Credential is a short-lived access token for the remote platform.
// Never persisted beyond the session and never logged in full.
type Credential struct {
	Token     string `json:"token"`
	Identity  string `json:"identity"`
	ExpiresAt time.Time
}

// Masked returns a loggable form of the token showing only a short suffix.
func (c Credential) Masked() string {
	if len(c.Token) <= 10 {
		return "***"
	}
	return "***" + c.Token[len(c.Token)-10:]
}
