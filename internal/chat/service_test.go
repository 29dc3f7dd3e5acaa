package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/levelpath/concierge/internal/config"
	"github.com/levelpath/concierge/internal/domain"
)

type fakeConversations struct {
	mu          sync.Mutex
	tokenErr    error
	createErr   error
	postErr     error
	listErr     error
	createCalls int
	postCalls   int
	listCalls   int
	listResults [][]domain.Message
	postHook    func()
}

func (f *fakeConversations) Token(ctx context.Context, identity, password string) (domain.Credential, error) {
	if f.tokenErr != nil {
		return domain.Credential{}, f.tokenErr
	}
	return domain.Credential{Token: "tok-0123456789abcdef", Identity: identity}, nil
}

func (f *fakeConversations) CreateConversation(ctx context.Context, assistantID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return "", f.createErr
	}
	return "CH-test-1", nil
}

func (f *fakeConversations) PostMessage(ctx context.Context, sid, body string, author domain.Sender) (domain.Message, error) {
	f.mu.Lock()
	f.postCalls++
	hook := f.postHook
	err := f.postErr
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{ID: "remote-post", Content: body, Sender: author}, nil
}

func (f *fakeConversations) ListMessages(ctx context.Context, sid string, limit int) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	idx := f.listCalls
	f.listCalls++
	if idx < len(f.listResults) {
		return f.listResults[idx], nil
	}
	return nil, nil
}

func (f *fakeConversations) calls() (create, post, list int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls, f.postCalls, f.listCalls
}

type fakeSubscriber struct {
	mu           sync.Mutex
	ch           chan domain.Message
	err          error
	unsubscribed int
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, sid string) (<-chan domain.Message, func(), error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.ch, func() {
		f.mu.Lock()
		f.unsubscribed++
		f.mu.Unlock()
	}, nil
}

func testChatConfig() config.ChatConfig {
	return config.ChatConfig{
		PollInterval:    time.Second,
		PollMaxAttempts: 10,
		Greeting:        "Hello! How can I help?",
	}
}

func testRemoteConfig() config.RemoteConfig {
	return config.RemoteConfig{
		TokenServiceURL:  "http://token.test",
		ConversationsURL: "http://conversations.test",
		AssistantID:      "asst-demo",
		Identity:         "user00",
		Password:         "lets-converse",
	}
}

func errorMessageCount(msgs []domain.Message) int {
	n := 0
	for _, m := range msgs {
		if strings.HasPrefix(m.Content, errorMarker) {
			n++
		}
	}
	return n
}

func TestEstablishLocalMode(t *testing.T) {
	svc := NewServiceWithClock(testChatConfig(), config.RemoteConfig{}, nil, nil, nil, newFakeClock())

	sess, err := svc.Establish(context.Background(), "v1:default", domain.ModeLocal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.Mode != domain.ModeLocal {
		t.Errorf("mode = %q, want local", sess.Mode)
	}
	if sess.State != domain.StateConnected {
		t.Errorf("state = %q, want connected", sess.State)
	}

	transcript := svc.Transcript("v1:default")
	if len(transcript) != 1 {
		t.Fatalf("transcript length = %d, want 1 (greeting)", len(transcript))
	}
	if transcript[0].Sender != domain.SenderAssistant {
		t.Errorf("greeting sender = %q, want assistant", transcript[0].Sender)
	}
}

func TestEstablishRemoteWithoutCredentials(t *testing.T) {
	svc := NewServiceWithClock(testChatConfig(), config.RemoteConfig{}, nil, nil, nil, newFakeClock())

	sess, err := svc.Establish(context.Background(), "v1:default", domain.ModeRemote)

	var credErr *CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("err = %v, want *CredentialError", err)
	}
	if sess.State != domain.StateDenied {
		t.Errorf("state = %q, want denied", sess.State)
	}

	transcript := svc.Transcript("v1:default")
	if len(transcript) != 1 || errorMessageCount(transcript) != 1 {
		t.Errorf("transcript should show exactly one error message, got %v", transcript)
	}

	// The session is not active, so no exchange can be opened against it.
	if _, err := svc.Send(context.Background(), "v1:default", "hi"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Send on denied session: err = %v, want ErrSessionClosed", err)
	}
}

func TestEstablishRemoteTokenRefused(t *testing.T) {
	conv := &fakeConversations{tokenErr: errors.New("401 unauthorized")}
	svc := NewServiceWithClock(testChatConfig(), testRemoteConfig(), conv, nil, nil, newFakeClock())

	sess, err := svc.Establish(context.Background(), "v1:default", domain.ModeRemote)

	var credErr *CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("err = %v, want *CredentialError", err)
	}
	if credErr.Identity != "user00" {
		t.Errorf("Identity = %q, want user00", credErr.Identity)
	}
	if sess.State != domain.StateDenied {
		t.Errorf("state = %q, want denied", sess.State)
	}
	if create, _, _ := conv.calls(); create != 0 {
		t.Errorf("CreateConversation called %d times after credential failure, want 0", create)
	}
}

func TestEstablishRemoteConversationFailed(t *testing.T) {
	conv := &fakeConversations{createErr: errors.New("503 unavailable")}
	svc := NewServiceWithClock(testChatConfig(), testRemoteConfig(), conv, nil, nil, newFakeClock())

	sess, err := svc.Establish(context.Background(), "v1:default", domain.ModeRemote)

	var createErr *SessionCreationError
	if !errors.As(err, &createErr) {
		t.Fatalf("err = %v, want *SessionCreationError", err)
	}
	if createErr.AssistantID != "asst-demo" {
		t.Errorf("AssistantID = %q, want asst-demo", createErr.AssistantID)
	}
	if sess.State != domain.StateDenied {
		t.Errorf("state = %q, want denied", sess.State)
	}
	if errorMessageCount(svc.Transcript("v1:default")) != 1 {
		t.Error("expected exactly one visible error message")
	}
}

func TestEstablishRemoteIsIdempotent(t *testing.T) {
	conv := &fakeConversations{}
	svc := NewServiceWithClock(testChatConfig(), testRemoteConfig(), conv, nil, nil, newFakeClock())

	first, err := svc.Establish(context.Background(), "v1:default", domain.ModeRemote)
	if err != nil {
		t.Fatalf("first establish: %v", err)
	}
	second, err := svc.Establish(context.Background(), "v1:default", domain.ModeRemote)
	if err != nil {
		t.Fatalf("second establish: %v", err)
	}

	if first.SessionID != second.SessionID {
		t.Errorf("duplicate establishment created a new session: %q vs %q", first.SessionID, second.SessionID)
	}
	if create, _, _ := conv.calls(); create != 1 {
		t.Errorf("CreateConversation called %d times, want exactly 1", create)
	}
}

func TestEstablishModeToggleTearsDownPrevious(t *testing.T) {
	conv := &fakeConversations{}
	sub := &fakeSubscriber{ch: make(chan domain.Message)}
	svc := NewServiceWithClock(testChatConfig(), testRemoteConfig(), conv, sub, nil, newFakeClock())

	remote, err := svc.Establish(context.Background(), "v1:default", domain.ModeRemote)
	if err != nil {
		t.Fatalf("remote establish: %v", err)
	}

	local, err := svc.Establish(context.Background(), "v1:default", domain.ModeLocal)
	if err != nil {
		t.Fatalf("local establish: %v", err)
	}
	if local.SessionID == remote.SessionID {
		t.Error("mode toggle should create a fresh session")
	}
	if local.Mode != domain.ModeLocal {
		t.Errorf("mode = %q, want local", local.Mode)
	}

	sub.mu.Lock()
	unsubscribed := sub.unsubscribed
	sub.mu.Unlock()
	if unsubscribed != 1 {
		t.Errorf("subscription unsubscribed %d times on toggle, want 1", unsubscribed)
	}

	// Toggling back to remote establishes a fresh session with exactly one
	// new remote conversation.
	again, err := svc.Establish(context.Background(), "v1:default", domain.ModeRemote)
	if err != nil {
		t.Fatalf("second remote establish: %v", err)
	}
	if again.SessionID == remote.SessionID || again.SessionID == local.SessionID {
		t.Error("re-selecting remote should create a fresh session")
	}
	if create, _, _ := conv.calls(); create != 2 {
		t.Errorf("CreateConversation called %d times across two remote selections, want 2", create)
	}
}

func TestSendLocalModeAnswersSynchronously(t *testing.T) {
	svc := NewServiceWithClock(testChatConfig(), config.RemoteConfig{}, nil, nil, nil, newFakeClock())
	if _, err := svc.Establish(context.Background(), "v1:default", domain.ModeLocal); err != nil {
		t.Fatal(err)
	}

	reply, err := svc.Send(context.Background(), "v1:default", "where is my order ORD-042?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Sender != domain.SenderAssistant {
		t.Errorf("reply sender = %q, want assistant", reply.Sender)
	}
	if !strings.Contains(reply.Content, "ORD-042") {
		t.Errorf("reply should answer the order intent, got %q", reply.Content)
	}

	// greeting + user message + reply
	if transcript := svc.Transcript("v1:default"); len(transcript) != 3 {
		t.Errorf("transcript length = %d, want 3", len(transcript))
	}
}

func TestSendRemotePollingResolvesWithPlaceholder(t *testing.T) {
	clock := newFakeClock()
	conv := &fakeConversations{} // ListMessages always returns nothing
	svc := NewServiceWithClock(testChatConfig(), testRemoteConfig(), conv, nil, nil, clock)
	if _, err := svc.Establish(context.Background(), "v1:default", domain.ModeRemote); err != nil {
		t.Fatal(err)
	}

	reply, err := svc.Send(context.Background(), "v1:default", "hello?")
	if err != nil {
		t.Fatalf("exhausted poll budget must resolve, not fail: %v", err)
	}
	if reply.Content != placeholderReply {
		t.Errorf("reply = %q, want the placeholder text", reply.Content)
	}
	if reply.Sender != domain.SenderAssistant {
		t.Errorf("placeholder sender = %q, want assistant", reply.Sender)
	}

	if _, _, list := conv.calls(); list != 10 {
		t.Errorf("ListMessages called %d times, want exactly 10", list)
	}
	waits := clock.waits()
	if len(waits) != 10 {
		t.Fatalf("expected 10 poll waits, got %d", len(waits))
	}
	for i, d := range waits {
		if d != time.Second {
			t.Errorf("waits[%d] = %v, want the 1s poll interval", i, d)
		}
	}

	// The exchange is closed: the next send is accepted.
	if _, err := svc.Send(context.Background(), "v1:default", "again"); err != nil {
		t.Errorf("next send after placeholder resolution failed: %v", err)
	}
}

func TestSendRemotePollingAcceptsNewestQualifyingReply(t *testing.T) {
	clock := newFakeClock()
	base := clock.Now()
	conv := &fakeConversations{
		listResults: [][]domain.Message{
			{
				// Stale assistant message from before the submission.
				{ID: "old", Content: "earlier", Sender: domain.SenderAssistant, Timestamp: base.Add(-time.Minute)},
			},
			{
				{ID: "old", Content: "earlier", Sender: domain.SenderAssistant, Timestamp: base.Add(-time.Minute)},
				{ID: "r1", Content: "first reply", Sender: domain.SenderAssistant, Timestamp: base.Add(30 * time.Second)},
				{ID: "r2", Content: "second reply", Sender: domain.SenderAssistant, Timestamp: base.Add(45 * time.Second)},
				{ID: "echo", Content: "hello?", Sender: domain.SenderUser, Timestamp: base.Add(50 * time.Second)},
			},
		},
	}
	svc := NewServiceWithClock(testChatConfig(), testRemoteConfig(), conv, nil, nil, clock)
	if _, err := svc.Establish(context.Background(), "v1:default", domain.ModeRemote); err != nil {
		t.Fatal(err)
	}

	reply, err := svc.Send(context.Background(), "v1:default", "hello?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.ID != "r2" {
		t.Errorf("accepted reply = %q, want the newest qualifying message r2", reply.ID)
	}
	if _, _, list := conv.calls(); list != 2 {
		t.Errorf("ListMessages called %d times, want 2", list)
	}
}

func TestSendSubscriptionSkipsEchoesAndStaleReplies(t *testing.T) {
	clock := newFakeClock()
	base := clock.Now()
	events := make(chan domain.Message)
	postStarted := make(chan struct{}, 1)
	conv := &fakeConversations{postHook: func() {
		select {
		case postStarted <- struct{}{}:
		default:
		}
	}}
	sub := &fakeSubscriber{ch: events}
	svc := NewServiceWithClock(testChatConfig(), testRemoteConfig(), conv, sub, nil, clock)
	if _, err := svc.Establish(context.Background(), "v1:default", domain.ModeRemote); err != nil {
		t.Fatal(err)
	}

	type result struct {
		msg domain.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := svc.Send(context.Background(), "v1:default", "hi")
		done <- result{msg, err}
	}()
	<-postStarted

	// Echo of the user's own message, a reply not newer than the submission,
	// then the qualifying reply.
	events <- domain.Message{ID: "echo", Content: "hi", Sender: domain.SenderUser, Timestamp: base.Add(time.Second)}
	events <- domain.Message{ID: "stale", Content: "old", Sender: domain.SenderAssistant, Timestamp: base}
	events <- domain.Message{ID: "good", Content: "fresh reply", Sender: domain.SenderAssistant, Timestamp: base.Add(time.Minute)}

	res := <-done
	if res.err != nil {
		t.Fatalf("unexpected error: %v", res.err)
	}
	if res.msg.ID != "good" {
		t.Errorf("accepted reply = %q, want good", res.msg.ID)
	}
	if !res.msg.Timestamp.After(base) {
		t.Error("accepted reply must be strictly newer than the submission")
	}
	for _, m := range svc.Transcript("v1:default") {
		if m.ID == "stale" || m.ID == "echo" {
			t.Errorf("message %q should not have entered the transcript", m.ID)
		}
	}
}

func TestSubscriptionDeliversProactiveMessages(t *testing.T) {
	clock := newFakeClock()
	notified := make(chan domain.Message, 4)
	notify := func(key string, msg domain.Message) { notified <- msg }
	events := make(chan domain.Message)
	sub := &fakeSubscriber{ch: events}
	svc := NewServiceWithClock(testChatConfig(), testRemoteConfig(), &fakeConversations{}, sub, notify, clock)
	if _, err := svc.Establish(context.Background(), "v1:default", domain.ModeRemote); err != nil {
		t.Fatal(err)
	}
	<-notified // greeting

	// An assistant message arriving with no exchange open is a proactive
	// notice and must reach the transcript and the widget stream.
	notice := domain.Message{ID: "proactive", Content: "A human agent has joined.", Sender: domain.SenderAssistant, Timestamp: clock.Now().Add(time.Minute)}
	events <- notice

	select {
	case got := <-notified:
		if got.ID != "proactive" {
			t.Errorf("pushed message = %q, want proactive", got.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("proactive message never reached the notifier")
	}

	found := false
	for _, m := range svc.Transcript("v1:default") {
		if m.ID == "proactive" {
			found = true
		}
	}
	if !found {
		t.Error("proactive message missing from the transcript")
	}

	// Redelivery of the same event is deduplicated.
	events <- notice
	events <- domain.Message{ID: "second", Content: "Anything else?", Sender: domain.SenderAssistant, Timestamp: clock.Now().Add(2 * time.Minute)}
	select {
	case got := <-notified:
		if got.ID != "second" {
			t.Errorf("pushed message = %q, want second (duplicate must be dropped)", got.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("follow-up message never reached the notifier")
	}
}

func TestStalledNotifierDoesNotBlockOtherSessions(t *testing.T) {
	var once sync.Once
	entered := make(chan struct{})
	release := make(chan struct{})
	notify := func(key string, msg domain.Message) {
		once.Do(func() { close(entered) })
		<-release
	}
	svc := NewServiceWithClock(testChatConfig(), config.RemoteConfig{}, nil, nil, notify, newFakeClock())
	defer close(release)

	done := make(chan struct{})
	go func() {
		_, _ = svc.Establish(context.Background(), "v1:stalled", domain.ModeLocal)
		close(done)
	}()
	<-entered

	// The stalled stream consumer holds up its own delivery goroutine only;
	// reads against other sessions must still return.
	read := make(chan struct{})
	go func() {
		svc.Session("v1:other")
		svc.Transcript("v1:stalled")
		close(read)
	}()
	select {
	case <-read:
	case <-time.After(2 * time.Second):
		t.Fatal("session read blocked behind a stalled stream notifier")
	}
}

func TestSendRejectsConcurrentExchange(t *testing.T) {
	clock := newFakeClock()
	events := make(chan domain.Message)
	postStarted := make(chan struct{}, 1)
	conv := &fakeConversations{postHook: func() {
		select {
		case postStarted <- struct{}{}:
		default:
		}
	}}
	sub := &fakeSubscriber{ch: events}
	svc := NewServiceWithClock(testChatConfig(), testRemoteConfig(), conv, sub, nil, clock)
	if _, err := svc.Establish(context.Background(), "v1:default", domain.ModeRemote); err != nil {
		t.Fatal(err)
	}

	type result struct {
		msg domain.Message
		err error
	}
	firstDone := make(chan result, 1)
	go func() {
		msg, err := svc.Send(context.Background(), "v1:default", "first")
		firstDone <- result{msg, err}
	}()

	<-postStarted
	if _, err := svc.Send(context.Background(), "v1:default", "second"); !errors.Is(err, ErrExchangeInFlight) {
		t.Errorf("concurrent send: err = %v, want ErrExchangeInFlight", err)
	}

	events <- domain.Message{ID: "reply", Content: "done", Sender: domain.SenderAssistant, Timestamp: clock.Now().Add(time.Minute)}

	res := <-firstDone
	if res.err != nil {
		t.Fatalf("first send failed: %v", res.err)
	}
	if res.msg.ID != "reply" {
		t.Errorf("first send resolved with %q, want reply", res.msg.ID)
	}
}

func TestSendSubmitFailureSurfacesBridgeError(t *testing.T) {
	conv := &fakeConversations{postErr: errors.New("500 internal")}
	svc := NewServiceWithClock(testChatConfig(), testRemoteConfig(), conv, nil, nil, newFakeClock())
	if _, err := svc.Establish(context.Background(), "v1:default", domain.ModeRemote); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Send(context.Background(), "v1:default", "hello")

	var bridgeErr *BridgeError
	if !errors.As(err, &bridgeErr) {
		t.Fatalf("err = %v, want *BridgeError", err)
	}
	if errorMessageCount(svc.Transcript("v1:default")) != 1 {
		t.Error("expected one visible error message for the failed submission")
	}

	// The exchange is not left open.
	if _, err := svc.Send(context.Background(), "v1:default", "retry"); errors.Is(err, ErrExchangeInFlight) {
		t.Error("failed submission left a pending exchange open")
	}
}

func TestSendSubmitFailureFallsBackToLocalWhenEnabled(t *testing.T) {
	chatCfg := testChatConfig()
	chatCfg.FallbackToLocal = true
	conv := &fakeConversations{postErr: errors.New("500 internal")}
	svc := NewServiceWithClock(chatCfg, testRemoteConfig(), conv, nil, nil, newFakeClock())
	if _, err := svc.Establish(context.Background(), "v1:default", domain.ModeRemote); err != nil {
		t.Fatal(err)
	}

	reply, err := svc.Send(context.Background(), "v1:default", "what are your hours?")
	if err != nil {
		t.Fatalf("fallback policy must not surface the error: %v", err)
	}
	if !strings.Contains(reply.Content, "store hours") && !strings.Contains(reply.Content, "9AM") {
		t.Errorf("expected a local responder answer, got %q", reply.Content)
	}
	if errorMessageCount(svc.Transcript("v1:default")) != 0 {
		t.Error("fallback policy should not render an error message")
	}
}

func TestTranscriptIDsAreUnique(t *testing.T) {
	svc := NewServiceWithClock(testChatConfig(), config.RemoteConfig{}, nil, nil, nil, newFakeClock())
	if _, err := svc.Establish(context.Background(), "v1:default", domain.ModeLocal); err != nil {
		t.Fatal(err)
	}
	for _, text := range []string{"hi", "where is my order?", "return please"} {
		if _, err := svc.Send(context.Background(), "v1:default", text); err != nil {
			t.Fatal(err)
		}
	}

	seen := map[string]bool{}
	for _, m := range svc.Transcript("v1:default") {
		if seen[m.ID] {
			t.Errorf("duplicate transcript id %q", m.ID)
		}
		seen[m.ID] = true
	}
}

func TestTeardownClosesSession(t *testing.T) {
	conv := &fakeConversations{}
	sub := &fakeSubscriber{ch: make(chan domain.Message)}
	svc := NewServiceWithClock(testChatConfig(), testRemoteConfig(), conv, sub, nil, newFakeClock())
	if _, err := svc.Establish(context.Background(), "v1:default", domain.ModeRemote); err != nil {
		t.Fatal(err)
	}

	svc.Teardown("v1:default")

	if svc.Session("v1:default") != nil {
		t.Error("session should be gone after teardown")
	}
	sub.mu.Lock()
	unsubscribed := sub.unsubscribed
	sub.mu.Unlock()
	if unsubscribed != 1 {
		t.Errorf("unsubscribed %d times, want 1", unsubscribed)
	}
	if _, err := svc.Send(context.Background(), "v1:default", "hi"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Send after teardown: err = %v, want ErrSessionClosed", err)
	}
}

func TestNotifierReceivesAssistantMessages(t *testing.T) {
	var mu sync.Mutex
	var notified []domain.Message
	notify := func(key string, msg domain.Message) {
		mu.Lock()
		notified = append(notified, msg)
		mu.Unlock()
	}
	svc := NewServiceWithClock(testChatConfig(), config.RemoteConfig{}, nil, nil, notify, newFakeClock())
	if _, err := svc.Establish(context.Background(), "v1:default", domain.ModeLocal); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Send(context.Background(), "v1:default", "hello"); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	// greeting + reply; the user's own message is rendered optimistically by
	// the widget so it is not pushed.
	if len(notified) != 2 {
		t.Fatalf("notified %d messages, want 2", len(notified))
	}
	for _, m := range notified {
		if m.Sender != domain.SenderAssistant {
			t.Errorf("pushed message sender = %q, want assistant", m.Sender)
		}
	}
}
