package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/levelpath/concierge/internal/domain"
)

// Subscription delivers push new-message events for remote conversations
// over the platform's event socket. It satisfies the bridge's Subscriber
// interface.
type Subscription struct {
	socketURL string
	cred      func() domain.Credential
}

// NewSubscription creates a push subscriber. cred supplies the current
// credential at dial time so reconnects use a fresh token.
func NewSubscription(socketURL string, cred func() domain.Credential) *Subscription {
	return &Subscription{socketURL: socketURL, cred: cred}
}

// Credential returns the client's cached credential, for wiring into a
// Subscription.
func (c *Client) Credential() domain.Credential {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cred
}

// Subscribe dials the event socket for the given conversation and returns a
// channel of incoming messages. The cancel function tears the socket down;
// the channel closes when the socket ends for any reason. Events for other
// conversations and non message-added frames are dropped.
func (s *Subscription) Subscribe(ctx context.Context, sid string) (<-chan domain.Message, func(), error) {
	u, err := url.Parse(s.socketURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid event socket url: %w", err)
	}
	q := u.Query()
	q.Set("sessionId", sid)
	if cred := s.cred(); cred.Token != "" {
		q.Set("token", cred.Token)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial event socket: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	out := make(chan domain.Message, 16)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			_ = conn.Close(websocket.StatusNormalClosure, "unsubscribe")
		})
	}

	go func() {
		defer close(out)
		defer stop()
		for {
			_, data, err := conn.Read(readCtx)
			if err != nil {
				if readCtx.Err() == nil {
					slog.Warn("event socket closed", "remote_sid", sid, "error", err)
				}
				return
			}

			var ev event
			if err := json.Unmarshal(data, &ev); err != nil {
				slog.Warn("undecodable event frame", "remote_sid", sid, "error", err)
				continue
			}
			if ev.Type != eventMessageAdded || ev.SessionID != sid {
				continue
			}

			select {
			case out <- ev.Message.toDomain():
			case <-readCtx.Done():
				return
			}
		}
	}()

	return out, stop, nil
}
