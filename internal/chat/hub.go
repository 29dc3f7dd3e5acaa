package chat

import (
	"container/list"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/levelpath/concierge/internal/domain"
)

// StreamConnection represents a single SSE client connection.
type StreamConnection struct {
	ID          int64
	SessionKey  string
	EventID     int64
	ConnectedAt time.Time
	LastEventID int64
	Writer      http.ResponseWriter
	Flusher     http.Flusher
	Done        chan struct{}
	mu          sync.Mutex
}

// ReplayQueue buffers pushed messages for disconnected clients, sharded per
// session. Each session gets its own bounded list so one widget's burst
// cannot evict messages belonging to another.
type ReplayQueue struct {
	mu      sync.RWMutex
	queues  map[string]*list.List // sessionKey -> messages
	maxSize int
}

// QueuedMessage represents a message in the replay queue.
type QueuedMessage struct {
	EventID   int64
	Message   domain.Message
	Timestamp time.Time
}

// NewReplayQueue creates a new per-session replay queue.
func NewReplayQueue(maxSize int) *ReplayQueue {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &ReplayQueue{
		queues:  make(map[string]*list.List),
		maxSize: maxSize,
	}
}

// Enqueue adds a message to the per-session queue.
func (q *ReplayQueue) Enqueue(sessionKey string, eventID int64, msg domain.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.queues[sessionKey]; !ok {
		q.queues[sessionKey] = list.New()
	}
	l := q.queues[sessionKey]
	l.PushBack(&QueuedMessage{
		EventID:   eventID,
		Message:   msg,
		Timestamp: time.Now(),
	})
	// Evict oldest messages only within this session's queue.
	for l.Len() > q.maxSize {
		l.Remove(l.Front())
	}
}

// Missed retrieves messages after a specific event ID for a session.
func (q *ReplayQueue) Missed(sessionKey string, afterEventID int64) []*QueuedMessage {
	q.mu.RLock()
	defer q.mu.RUnlock()

	l, ok := q.queues[sessionKey]
	if !ok {
		return nil
	}
	var missed []*QueuedMessage
	for e := l.Front(); e != nil; e = e.Next() {
		msg := e.Value.(*QueuedMessage)
		if msg.EventID > afterEventID {
			missed = append(missed, msg)
		}
	}
	return missed
}

// Prune removes the queue for a session when its last stream closes.
func (q *ReplayQueue) Prune(sessionKey string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queues, sessionKey)
}

// Hub fans assistant messages out to the SSE streams of each chat widget.
type Hub struct {
	connections  map[string]map[int64]*StreamConnection // sessionKey -> connID -> conn
	replay       *ReplayQueue
	mu           sync.RWMutex
	eventCounter int64
	connectionID int64
	counterMu    sync.Mutex
}

// NewHub creates a hub with the given replay queue size.
func NewHub(replaySize int) *Hub {
	return &Hub{
		connections: make(map[string]map[int64]*StreamConnection),
		replay:      NewReplayQueue(replaySize),
	}
}

// NextEventID allocates a monotonically increasing event ID.
func (h *Hub) NextEventID() int64 {
	h.counterMu.Lock()
	defer h.counterMu.Unlock()
	h.eventCounter++
	return h.eventCounter
}

// NextConnectionID allocates a unique stream connection ID.
func (h *Hub) NextConnectionID() int64 {
	h.counterMu.Lock()
	defer h.counterMu.Unlock()
	h.connectionID++
	return h.connectionID
}

// Register attaches a stream connection to its session.
func (h *Hub) Register(conn *StreamConnection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[conn.SessionKey]; !ok {
		h.connections[conn.SessionKey] = make(map[int64]*StreamConnection)
	}
	h.connections[conn.SessionKey][conn.ID] = conn
}

// Unregister detaches a stream connection, pruning the replay queue when the
// last connection for the session closes.
func (h *Hub) Unregister(conn *StreamConnection) {
	h.mu.Lock()
	conns, ok := h.connections[conn.SessionKey]
	if ok {
		delete(conns, conn.ID)
		if len(conns) == 0 {
			delete(h.connections, conn.SessionKey)
		}
	}
	h.mu.Unlock()
	if ok && len(conns) == 0 {
		h.replay.Prune(conn.SessionKey)
	}
}

// Publish queues the message for replay and fans it out to every connected
// stream for the session.
func (h *Hub) Publish(sessionKey string, msg domain.Message) {
	eventID := h.NextEventID()
	h.replay.Enqueue(sessionKey, eventID, msg)

	h.mu.RLock()
	conns, ok := h.connections[sessionKey]
	if !ok {
		h.mu.RUnlock()
		return
	}
	// Snapshot connections to avoid holding the read lock during writes.
	snapshot := make([]*StreamConnection, 0, len(conns))
	for _, c := range conns {
		snapshot = append(snapshot, c)
	}
	h.mu.RUnlock()

	for _, conn := range snapshot {
		h.sendToConnection(conn, eventID, msg)
	}
}

// Replay sends the messages a reconnecting client missed.
func (h *Hub) Replay(conn *StreamConnection) {
	if conn.LastEventID <= 0 {
		return
	}
	missed := h.replay.Missed(conn.SessionKey, conn.LastEventID)
	if len(missed) == 0 {
		return
	}
	slog.Info("replaying missed messages", "session_key", conn.SessionKey, "count", len(missed))
	for _, qm := range missed {
		h.sendToConnection(conn, qm.EventID, qm.Message)
	}
}

// sendToConnection writes one message to a specific stream.
func (h *Hub) sendToConnection(conn *StreamConnection, eventID int64, msg domain.Message) {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	select {
	case <-conn.Done:
		return // connection closed
	default:
	}

	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to marshal stream message", "error", err, "conn_id", conn.ID)
		return
	}

	if err := writeSSEWithID(conn.Writer, eventID, "message", string(data)); err != nil {
		slog.Error("failed to write to stream connection",
			"error", err,
			"conn_id", conn.ID,
			"session_key", conn.SessionKey,
		)
		return
	}

	conn.Flusher.Flush()
	conn.EventID = eventID
}

// Keepalive writes a ping frame, returning any write error so the stream
// loop can exit.
func (conn *StreamConnection) Keepalive() error {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if err := writeSSE(conn.Writer, "ping", `{"status":"alive"}`); err != nil {
		return err
	}
	conn.Flusher.Flush()
	return nil
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
