package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/levelpath/concierge/internal/domain"
)

// errRemoteUnconfigured is the underlying cause when no remote credentials
// are configured at all.
var errRemoteUnconfigured = errors.New("remote conversations service is not configured")

// Establish opens (or returns) the session for the given widget key in the
// requested mode.
//
// Local mode performs no network activity and returns a connected synthetic
// session immediately. Remote mode fetches a credential, creates exactly one
// remote conversation resource and optionally subscribes to push events.
// A failed credential fetch or conversation creation surfaces as a typed
// error and leaves the session denied; the mode is never silently switched.
//
// Establishing while a session for the same mode is already connecting or
// connected is a no-op: widget re-renders fire duplicate establishment calls
// and must not create duplicate remote resources. Requesting the other mode
// tears the current session down first.
func (s *Service) Establish(ctx context.Context, key string, mode domain.Mode) (*domain.Session, error) {
	s.mu.Lock()
	sess := s.sessions[key]
	if sess != nil {
		if sess.state.Mode == mode && (sess.establishing || sess.machine.Phase.ConnectionState() == domain.StateConnecting || sess.state.Active()) {
			snap := sess.state
			s.mu.Unlock()
			return &snap, nil
		}
		s.teardownLocked(key, sess)
		delete(s.sessions, key)
	}

	sess = &session{
		state: domain.Session{
			SessionID: uuid.NewString(),
			Mode:      mode,
			State:     domain.StateDisconnected,
			CreatedAt: s.clock.Now(),
		},
		machine: MachineState{Phase: PhaseDisconnected, Mode: mode},
		seen:    make(map[string]struct{}),
	}
	s.sessions[key] = sess

	if mode == domain.ModeLocal {
		sess.machine, _ = Transition(sess.machine, EventOpenLocal)
		sess.state.State = sess.machine.Phase.ConnectionState()
		greeting := s.newMessage(s.chatCfg.Greeting, domain.SenderAssistant, domain.KindText)
		s.appendLocked(sess, greeting)
		snap := sess.state
		s.mu.Unlock()
		s.notify(key, greeting)
		slog.Info("local chat session established", "session_key", key, "session_id", snap.SessionID)
		return &snap, nil
	}

	// Mark establishment in flight before releasing the lock for network
	// calls; concurrent callers observe the flag and no-op.
	sess.establishing = true
	sess.machine, _ = Transition(sess.machine, EventOpenRemote)
	sess.state.State = sess.machine.Phase.ConnectionState()
	gen := sess.gen
	s.mu.Unlock()

	snap, err := s.establishRemote(ctx, key, sess, gen)
	s.mu.Lock()
	sess.establishing = false
	s.mu.Unlock()
	return snap, err
}

func (s *Service) establishRemote(ctx context.Context, key string, sess *session, gen int) (*domain.Session, error) {
	fail := func(ev EventKind, notice string, err error) (*domain.Session, error) {
		s.mu.Lock()
		if sess.gen != gen {
			// Torn down while we were connecting.
			snap := sess.state
			s.mu.Unlock()
			return &snap, err
		}
		sess.machine, _ = Transition(sess.machine, ev)
		sess.state.State = sess.machine.Phase.ConnectionState()
		msg := s.errorMessage(notice)
		s.appendLocked(sess, msg)
		snap := sess.state
		s.mu.Unlock()
		s.notify(key, msg)
		return &snap, err
	}

	if s.conv == nil || !s.remoteCfg.Enabled() {
		return fail(EventCredentialDenied,
			"Unable to connect to the assistant service: no credentials are configured. Switch to basic mode to keep chatting.",
			&CredentialError{Identity: s.remoteCfg.Identity, Err: errRemoteUnconfigured})
	}

	cred, err := s.conv.Token(ctx, s.remoteCfg.Identity, s.remoteCfg.Password)
	if err != nil {
		return fail(EventCredentialDenied,
			"Unable to connect to the assistant service: sign-in was refused. Switch to basic mode to keep chatting.",
			&CredentialError{Identity: s.remoteCfg.Identity, Err: err})
	}
	slog.Info("credential issued", "identity", cred.Identity, "token", cred.Masked())

	s.mu.Lock()
	if sess.gen != gen {
		snap := sess.state
		s.mu.Unlock()
		return &snap, nil
	}
	sess.machine, _ = Transition(sess.machine, EventCredentialIssued)
	s.mu.Unlock()

	sid, err := s.conv.CreateConversation(ctx, s.remoteCfg.AssistantID)
	if err != nil {
		return fail(EventConversationFailed,
			"Unable to start a conversation with the assistant service. Switch to basic mode to keep chatting.",
			&SessionCreationError{AssistantID: s.remoteCfg.AssistantID, Err: err})
	}

	s.mu.Lock()
	if sess.gen != gen {
		snap := sess.state
		s.mu.Unlock()
		return &snap, nil
	}
	sess.state.RemoteSID = sid
	sess.machine, _ = Transition(sess.machine, EventConversationCreated)
	s.mu.Unlock()

	if s.sub == nil {
		s.mu.Lock()
		sess.machine, _ = Transition(sess.machine, EventSubscriptionSkipped)
		sess.state.State = sess.machine.Phase.ConnectionState()
		greeting := s.newMessage(s.chatCfg.Greeting, domain.SenderAssistant, domain.KindText)
		s.appendLocked(sess, greeting)
		snap := sess.state
		s.mu.Unlock()
		s.notify(key, greeting)
		slog.Info("remote chat session established", "session_key", key, "remote_sid", sid, "strategy", "polling")
		return &snap, nil
	}

	events, unsubscribe, err := s.sub.Subscribe(ctx, sid)
	if err != nil {
		return fail(EventSubscribeFailed,
			"Unable to listen for assistant replies. Switch to basic mode to keep chatting.",
			fmt.Errorf("subscribe to conversation %s: %w", sid, err))
	}

	s.mu.Lock()
	if sess.gen != gen {
		s.mu.Unlock()
		unsubscribe()
		snap := sess.state
		return &snap, nil
	}
	sess.events = events
	sess.unsubscribe = unsubscribe
	sess.machine, _ = Transition(sess.machine, EventSubscribed)
	sess.state.State = sess.machine.Phase.ConnectionState()
	greeting := s.newMessage(s.chatCfg.Greeting, domain.SenderAssistant, domain.KindText)
	s.appendLocked(sess, greeting)
	snap := sess.state
	s.mu.Unlock()
	go s.consumeEvents(key, sess, gen, events)
	s.notify(key, greeting)
	slog.Info("remote chat session established", "session_key", key, "remote_sid", sid, "strategy", "subscription")
	return &snap, nil
}
