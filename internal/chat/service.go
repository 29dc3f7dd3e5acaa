package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/levelpath/concierge/internal/config"
	"github.com/levelpath/concierge/internal/domain"
)

// recentMessageLimit bounds how many messages a poll fetch inspects.
const recentMessageLimit = 20

// errorMarker prefixes user-visible failure messages in the transcript.
const errorMarker = "⚠️ "

// Conversations is the subset of remote platform operations the bridge uses.
// Implemented by remote.Client; nil means remote mode is unavailable.
type Conversations interface {
	// Token obtains a short-lived access credential.
	Token(ctx context.Context, identity, password string) (domain.Credential, error)

	// CreateConversation creates a remote conversation tagged with the
	// assistant identifier and returns its session identifier.
	CreateConversation(ctx context.Context, assistantID string) (string, error)

	// PostMessage submits a message into the conversation.
	PostMessage(ctx context.Context, sid, body string, author domain.Sender) (domain.Message, error)

	// ListMessages fetches up to limit most recent messages.
	ListMessages(ctx context.Context, sid string, limit int) ([]domain.Message, error)
}

// Subscriber opens a push subscription delivering new-message events for a
// remote conversation. The returned cancel function tears the subscription
// down; the channel closes when the subscription ends.
type Subscriber interface {
	Subscribe(ctx context.Context, sid string) (<-chan domain.Message, func(), error)
}

// Notifier receives assistant messages for push delivery to the widget.
// It is always invoked with Service.mu released: a stalled stream consumer
// may block the goroutine delivering to it, but never the service.
type Notifier func(sessionKey string, msg domain.Message)

// Service owns chat sessions and bridges messages between the widget and
// the remote assistant or the local responder.
type Service struct {
	chatCfg   config.ChatConfig
	remoteCfg config.RemoteConfig
	conv      Conversations
	sub       Subscriber
	responder *Responder
	clock     Clock
	notify    Notifier

	mu       sync.Mutex
	sessions map[string]*session
}

// session is the per-widget bookkeeping. All fields are guarded by
// Service.mu; the subscription event channel is read only by the session's
// consumeEvents goroutine.
type session struct {
	state        domain.Session
	machine      MachineState
	establishing bool // in-flight guard against duplicate establishment
	gen          int  // bumped on teardown so abandoned polls are ignored
	pending      *domain.PendingExchange
	replyCh      chan domain.Message // handoff from consumeEvents to the open exchange
	events       <-chan domain.Message
	unsubscribe  func()
	transcript   []domain.Message
	seen         map[string]struct{}
}

// NewService creates a chat service. conv and sub may be nil: a nil conv
// disables remote mode entirely, a nil sub selects the polling strategy.
func NewService(chatCfg config.ChatConfig, remoteCfg config.RemoteConfig, conv Conversations, sub Subscriber, notify Notifier) *Service {
	return NewServiceWithClock(chatCfg, remoteCfg, conv, sub, notify, RealClock{})
}

// NewServiceWithClock is NewService with an injected clock for tests.
func NewServiceWithClock(chatCfg config.ChatConfig, remoteCfg config.RemoteConfig, conv Conversations, sub Subscriber, notify Notifier, clock Clock) *Service {
	if notify == nil {
		notify = func(string, domain.Message) {}
	}
	return &Service{
		chatCfg:   chatCfg,
		remoteCfg: remoteCfg,
		conv:      conv,
		sub:       sub,
		responder: NewResponder(),
		clock:     clock,
		notify:    notify,
		sessions:  make(map[string]*session),
	}
}

// Responder exposes the consolidated intent table, shared with the webhook
// relay.
func (s *Service) Responder() *Responder {
	return s.responder
}

// Transcript returns a copy of the session's transcript, insertion-ordered.
func (s *Service) Transcript(key string) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[key]
	if sess == nil {
		return nil
	}
	out := make([]domain.Message, len(sess.transcript))
	copy(out, sess.transcript)
	return out
}

// Session returns a snapshot of the session state, or nil if none exists.
func (s *Service) Session(key string) *domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[key]
	if sess == nil {
		return nil
	}
	snap := sess.state
	return &snap
}

// Teardown closes the session: the remote subscription is unsubscribed and
// any in-flight poll is abandoned. Server-side cleanup is best effort only.
func (s *Service) Teardown(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[key]
	if sess == nil {
		return
	}
	s.teardownLocked(key, sess)
	delete(s.sessions, key)
}

func (s *Service) teardownLocked(key string, sess *session) {
	sess.machine, _ = Transition(sess.machine, EventTeardown)
	sess.state.State = sess.machine.Phase.ConnectionState()
	sess.gen++
	sess.pending = nil
	if sess.replyCh != nil {
		// Wake an exchange blocked on the subscription handoff.
		close(sess.replyCh)
		sess.replyCh = nil
	}
	if sess.unsubscribe != nil {
		sess.unsubscribe()
		sess.unsubscribe = nil
		sess.events = nil
	}
	slog.Info("chat session torn down", "session_key", key, "mode", sess.state.Mode)
}

// newMessage builds a transcript message with a fresh unique ID.
func (s *Service) newMessage(content string, sender domain.Sender, kind domain.MessageKind) domain.Message {
	return domain.Message{
		ID:        uuid.NewString(),
		Content:   content,
		Sender:    sender,
		Timestamp: s.clock.Now(),
		Kind:      kind,
	}
}

// appendLocked appends msg to the transcript unless its ID was already
// appended. Returns false for duplicates; this is what keeps subscription
// echoes from rendering twice. Callers that push the appended message to the
// widget stream do so after releasing the lock.
func (s *Service) appendLocked(sess *session, msg domain.Message) bool {
	if _, dup := sess.seen[msg.ID]; dup {
		return false
	}
	sess.seen[msg.ID] = struct{}{}
	sess.transcript = append(sess.transcript, msg)
	return true
}

// errorMessage builds the user-visible assistant-authored failure notice.
func (s *Service) errorMessage(text string) domain.Message {
	return s.newMessage(errorMarker+text, domain.SenderAssistant, domain.KindText)
}

// exchangeDeadline computes the poll budget deadline for a new exchange.
func (s *Service) exchangeDeadline(now time.Time) time.Time {
	return now.Add(time.Duration(s.chatCfg.PollMaxAttempts) * s.chatCfg.PollInterval)
}
