package chat

import (
	"github.com/levelpath/concierge/internal/domain"
)

// Phase is the extended session lifecycle state. It refines
// domain.ConnectionState with the in-exchange states so the transition logic
// can enforce exchange serialization.
type Phase string

const (
	PhaseDisconnected  Phase = "disconnected"
	PhaseConnecting    Phase = "connecting"
	PhaseConnected     Phase = "connected"
	PhaseDenied        Phase = "denied"
	PhaseSending       Phase = "sending"
	PhaseAwaitingReply Phase = "awaiting_reply"
)

// ConnectionState collapses a Phase to the externally visible state.
func (p Phase) ConnectionState() domain.ConnectionState {
	switch p {
	case PhaseConnecting:
		return domain.StateConnecting
	case PhaseConnected, PhaseSending, PhaseAwaitingReply:
		return domain.StateConnected
	case PhaseDenied:
		return domain.StateDenied
	default:
		return domain.StateDisconnected
	}
}

// EventKind names a session lifecycle event.
type EventKind string

const (
	EventOpenLocal           EventKind = "open_local"
	EventOpenRemote          EventKind = "open_remote"
	EventCredentialIssued    EventKind = "credential_issued"
	EventCredentialDenied    EventKind = "credential_denied"
	EventConversationCreated EventKind = "conversation_created"
	EventConversationFailed  EventKind = "conversation_failed"
	EventSubscribed          EventKind = "subscribed"
	EventSubscribeFailed     EventKind = "subscribe_failed"
	EventSubscriptionSkipped EventKind = "subscription_skipped"
	EventSend                EventKind = "send"
	EventSubmitted           EventKind = "submitted"
	EventSubmitFailed        EventKind = "submit_failed"
	EventReplyReceived       EventKind = "reply_received"
	EventReplyTimeout        EventKind = "reply_timeout"
	EventTeardown            EventKind = "teardown"
)

// EffectKind names an imperative action the caller must execute after a
// transition. Keeping effects as data keeps Transition pure and testable
// independent of actual I/O.
type EffectKind string

const (
	EffectFetchCredential    EffectKind = "fetch_credential"
	EffectCreateConversation EffectKind = "create_conversation"
	EffectSubscribe          EffectKind = "subscribe"
	EffectSubmitMessage      EffectKind = "submit_message"
	EffectUnsubscribe        EffectKind = "unsubscribe"
	EffectAbandonPolls       EffectKind = "abandon_polls"
	EffectNotifyUI           EffectKind = "notify_ui"
)

// MachineState is the pure-transition view of a session.
type MachineState struct {
	Phase Phase
	Mode  domain.Mode
}

// Transition applies one event to a session state and returns the next state
// plus the effects the caller must execute. Unknown event/state pairs are
// no-ops returning the state unchanged with no effects; this is what makes
// duplicate establishment idempotent.
func Transition(s MachineState, ev EventKind) (MachineState, []EffectKind) {
	switch s.Phase {
	case PhaseDisconnected:
		switch ev {
		case EventOpenLocal:
			return MachineState{Phase: PhaseConnected, Mode: domain.ModeLocal}, []EffectKind{EffectNotifyUI}
		case EventOpenRemote:
			return MachineState{Phase: PhaseConnecting, Mode: domain.ModeRemote}, []EffectKind{EffectFetchCredential}
		}

	case PhaseConnecting:
		switch ev {
		case EventCredentialIssued:
			return MachineState{Phase: PhaseConnecting, Mode: s.Mode}, []EffectKind{EffectCreateConversation}
		case EventCredentialDenied, EventConversationFailed, EventSubscribeFailed:
			return MachineState{Phase: PhaseDenied, Mode: s.Mode}, []EffectKind{EffectNotifyUI}
		case EventConversationCreated:
			return MachineState{Phase: PhaseConnecting, Mode: s.Mode}, []EffectKind{EffectSubscribe}
		case EventSubscribed, EventSubscriptionSkipped:
			return MachineState{Phase: PhaseConnected, Mode: s.Mode}, []EffectKind{EffectNotifyUI}
		case EventTeardown:
			return MachineState{Phase: PhaseDisconnected, Mode: s.Mode}, []EffectKind{EffectAbandonPolls, EffectNotifyUI}
		}

	case PhaseConnected:
		switch ev {
		case EventSend:
			return MachineState{Phase: PhaseSending, Mode: s.Mode}, []EffectKind{EffectSubmitMessage}
		case EventTeardown:
			return MachineState{Phase: PhaseDisconnected, Mode: s.Mode}, []EffectKind{EffectUnsubscribe, EffectAbandonPolls, EffectNotifyUI}
		}

	case PhaseSending:
		switch ev {
		case EventSubmitted:
			return MachineState{Phase: PhaseAwaitingReply, Mode: s.Mode}, nil
		case EventSubmitFailed:
			return MachineState{Phase: PhaseConnected, Mode: s.Mode}, []EffectKind{EffectNotifyUI}
		case EventTeardown:
			return MachineState{Phase: PhaseDisconnected, Mode: s.Mode}, []EffectKind{EffectUnsubscribe, EffectAbandonPolls, EffectNotifyUI}
		}

	case PhaseAwaitingReply:
		switch ev {
		case EventReplyReceived, EventReplyTimeout:
			return MachineState{Phase: PhaseConnected, Mode: s.Mode}, []EffectKind{EffectNotifyUI}
		case EventTeardown:
			return MachineState{Phase: PhaseDisconnected, Mode: s.Mode}, []EffectKind{EffectUnsubscribe, EffectAbandonPolls, EffectNotifyUI}
		}

	case PhaseDenied:
		// Terminal for the attempt; only teardown leaves it.
		if ev == EventTeardown {
			return MachineState{Phase: PhaseDisconnected, Mode: s.Mode}, []EffectKind{EffectNotifyUI}
		}
	}

	return s, nil
}
