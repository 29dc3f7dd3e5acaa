package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/levelpath/concierge/internal/domain"
)

// Send dispatches a user message into the session and resolves the
// assistant's reply.
//
// Local mode answers synchronously from the responder. Remote mode submits
// the message and then waits for a qualifying reply, via the push
// subscription when one is active or bounded polling otherwise. Exchanges
// are serialized: a Send while a PendingExchange is open returns
// ErrExchangeInFlight. An exhausted poll budget resolves with a placeholder
// reply rather than an error; a failed submission returns a BridgeError
// unless the fallback-to-local policy is enabled.
func (s *Service) Send(ctx context.Context, key, text string) (domain.Message, error) {
	s.mu.Lock()
	sess := s.sessions[key]
	if sess == nil || !sess.state.Active() {
		s.mu.Unlock()
		return domain.Message{}, ErrSessionClosed
	}
	if sess.pending != nil {
		s.mu.Unlock()
		return domain.Message{}, ErrExchangeInFlight
	}

	userMsg := s.newMessage(text, domain.SenderUser, domain.KindText)
	s.appendLocked(sess, userMsg)

	if sess.state.Mode == domain.ModeLocal {
		reply := s.newMessage(s.responder.Respond(text), domain.SenderAssistant, domain.KindText)
		s.appendLocked(sess, reply)
		s.mu.Unlock()
		s.notify(key, reply)
		return reply, nil
	}

	now := s.clock.Now()
	pending := &domain.PendingExchange{
		Outbound: userMsg,
		SentAt:   now,
		Deadline: s.exchangeDeadline(now),
	}
	sess.pending = pending
	var replyCh chan domain.Message
	if sess.events != nil {
		// Register the handoff before submitting so a reply arriving over
		// the subscription during submission is not lost.
		replyCh = make(chan domain.Message, 1)
		sess.replyCh = replyCh
	}
	sess.machine, _ = Transition(sess.machine, EventSend)
	gen := sess.gen
	sid := sess.state.RemoteSID
	s.mu.Unlock()

	posted, err := s.conv.PostMessage(ctx, sid, text, domain.SenderUser)
	if err != nil {
		return s.submitFailed(key, sess, gen, text, err)
	}

	s.mu.Lock()
	if sess.gen != gen || sess.pending != pending {
		s.mu.Unlock()
		return domain.Message{}, ErrSessionClosed
	}
	// Prefer the remote creation time as the exchange reference so replies
	// are compared against the same clock that stamps them.
	if !posted.Timestamp.IsZero() {
		pending.SentAt = posted.Timestamp
	}
	sess.machine, _ = Transition(sess.machine, EventSubmitted)
	s.mu.Unlock()

	if replyCh != nil {
		return s.awaitReplyFromEvents(ctx, key, sess, gen, pending, replyCh)
	}
	return s.pollForReply(ctx, key, sess, gen, pending, sid)
}

// submitFailed applies the BridgeError recovery policy.
func (s *Service) submitFailed(key string, sess *session, gen int, text string, cause error) (domain.Message, error) {
	s.mu.Lock()
	if sess.gen != gen {
		s.mu.Unlock()
		return domain.Message{}, ErrSessionClosed
	}
	sess.pending = nil
	sess.replyCh = nil
	sess.machine, _ = Transition(sess.machine, EventSubmitFailed)
	sessionID := sess.state.SessionID

	if s.chatCfg.FallbackToLocal {
		// Silent degradation: answer from the local responder instead of
		// surfacing the failure.
		reply := s.newMessage(s.responder.Respond(text), domain.SenderAssistant, domain.KindText)
		s.appendLocked(sess, reply)
		s.mu.Unlock()
		s.notify(key, reply)
		slog.Warn("message submission failed, degraded to local responder", "session_key", key, "error", cause)
		return reply, nil
	}

	notice := s.errorMessage("Your message could not be delivered to the assistant. Please try again.")
	s.appendLocked(sess, notice)
	s.mu.Unlock()
	s.notify(key, notice)
	return domain.Message{}, &BridgeError{SessionID: sessionID, Err: cause}
}

// consumeEvents is the per-subscription listener and sole reader of its event
// channel; it runs from establishment until the subscription ends or the
// session is torn down. A qualifying reply is handed to the open exchange.
// Assistant or system messages arriving between exchanges are proactive
// notices and go straight to the transcript and the widget stream. Events
// authored by the local user are echoes of messages already rendered
// optimistically and are dropped, as are messages not newer than an open
// exchange's submission.
func (s *Service) consumeEvents(key string, sess *session, gen int, events <-chan domain.Message) {
	for msg := range events {
		if msg.Sender == domain.SenderUser {
			continue
		}
		s.mu.Lock()
		if sess.gen != gen {
			s.mu.Unlock()
			return
		}
		if sess.pending != nil {
			if sess.replyCh != nil && msg.IsReplyCandidate(sess.pending.SentAt) {
				replyCh := sess.replyCh
				sess.replyCh = nil
				s.mu.Unlock()
				replyCh <- msg
				continue
			}
			// Not a qualifying reply for the open exchange; dropping it
			// keeps it from rendering ahead of the answer.
			s.mu.Unlock()
			continue
		}
		appended := s.appendLocked(sess, msg)
		s.mu.Unlock()
		if appended {
			s.notify(key, msg)
		}
	}

	// Subscription ended. Release any exchange blocked on the handoff so it
	// can fall back to polling, and route subsequent sends to polling too.
	s.mu.Lock()
	if sess.gen == gen {
		sess.events = nil
		if sess.replyCh != nil {
			close(sess.replyCh)
			sess.replyCh = nil
		}
	}
	s.mu.Unlock()
}

// awaitReplyFromEvents resolves the exchange from the push subscription via
// the consumer's handoff channel. A closed handoff means the subscription
// dropped mid-exchange; the exchange then falls back to polling so it still
// resolves deterministically. There is no timeout on this path other than
// context cancellation or session teardown.
func (s *Service) awaitReplyFromEvents(ctx context.Context, key string, sess *session, gen int, pending *domain.PendingExchange, replyCh chan domain.Message) (domain.Message, error) {
	select {
	case <-ctx.Done():
		s.clearPending(sess, gen, pending)
		return domain.Message{}, ctx.Err()
	case msg, ok := <-replyCh:
		if !ok {
			s.mu.Lock()
			if sess.gen != gen {
				s.mu.Unlock()
				return domain.Message{}, ErrSessionClosed
			}
			sid := sess.state.RemoteSID
			s.mu.Unlock()
			slog.Warn("subscription closed while awaiting reply, falling back to polling", "session_key", key)
			return s.pollForReply(ctx, key, sess, gen, pending, sid)
		}
		return s.resolve(key, sess, gen, pending, msg)
	}
}

// pollForReply resolves the exchange by bounded polling: a fixed number of
// attempts at a fixed interval, each fetching recent messages and accepting
// the most recently created assistant message newer than the submission.
// Exhausting the budget resolves with the literal placeholder reply; it
// never retries beyond the budget and never leaves the exchange open.
func (s *Service) pollForReply(ctx context.Context, key string, sess *session, gen int, pending *domain.PendingExchange, sid string) (domain.Message, error) {
	reply, found, err := Poll(ctx, s.clock, s.chatCfg.PollMaxAttempts, s.chatCfg.PollInterval,
		func(ctx context.Context, attempt int) (PollResult[domain.Message], error) {
			pending.AttemptsMade = attempt
			msgs, listErr := s.conv.ListMessages(ctx, sid, recentMessageLimit)
			if listErr != nil {
				// A failed fetch consumes the attempt; the budget still
				// bounds the exchange.
				slog.Warn("poll fetch failed", "session_key", key, "attempt", attempt, "error", listErr)
				return PollResult[domain.Message]{}, nil
			}
			best, ok := latestReply(msgs, pending.SentAt)
			return PollResult[domain.Message]{Value: best, Done: ok}, nil
		})
	if err != nil {
		s.clearPending(sess, gen, pending)
		return domain.Message{}, err
	}
	if !found {
		reply = s.newMessage(placeholderReply, domain.SenderAssistant, domain.KindText)
		slog.Info("poll budget exhausted, resolving with placeholder", "session_key", key, "attempts", pending.AttemptsMade)
	}
	return s.resolve(key, sess, gen, pending, reply)
}

// latestReply picks the most recently created assistant message newer than
// sentAt.
func latestReply(msgs []domain.Message, sentAt time.Time) (domain.Message, bool) {
	var best domain.Message
	found := false
	for _, m := range msgs {
		if m.Sender != domain.SenderAssistant {
			continue
		}
		if !m.Timestamp.After(sentAt) {
			continue
		}
		if !found || m.Timestamp.After(best.Timestamp) {
			best = m
			found = true
		}
	}
	return best, found
}

// resolve closes the exchange with the accepted reply and appends it to the
// transcript. Results arriving after teardown are ignored.
func (s *Service) resolve(key string, sess *session, gen int, pending *domain.PendingExchange, reply domain.Message) (domain.Message, error) {
	s.mu.Lock()
	if sess.gen != gen || sess.pending != pending {
		// The session was torn down or toggled while this exchange was in
		// flight; the result is abandoned.
		s.mu.Unlock()
		return domain.Message{}, ErrSessionClosed
	}
	sess.pending = nil
	sess.replyCh = nil
	sess.machine, _ = Transition(sess.machine, EventReplyReceived)
	appended := s.appendLocked(sess, reply)
	s.mu.Unlock()
	if appended {
		s.notify(key, reply)
	}
	return reply, nil
}

// clearPending drops the exchange without resolving it (cancellation paths).
func (s *Service) clearPending(sess *session, gen int, pending *domain.PendingExchange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.gen == gen && sess.pending == pending {
		sess.pending = nil
		sess.replyCh = nil
		sess.machine, _ = Transition(sess.machine, EventReplyTimeout)
	}
}
