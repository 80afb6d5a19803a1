package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// defaultHeartbeatInterval bounds how long a stream may sit idle before the
// hub emits a keep-alive.11 "SHOULD emit a keep-alive within
// the stream's idle timeout so intermediaries do not close the connection".
const defaultHeartbeatInterval = 20 * time.Second

// StreamEvent is delivered to a subscriber. Record is nil for a heartbeat.
type StreamEvent struct {
	Record    *Record
	Heartbeat bool
}

type subscription struct {
	jobID string
	ch    chan StreamEvent

	// mu and closed guard against a send racing a close: onNotify's fan-out
	// loop snapshots h.subs before a concurrent unsubscribe (e.g. the
	// caller giving up on the stream) can remove this subscription, so
	// both paths must go through trySend/tryClose rather than touching
	// ch directly.
	mu     sync.Mutex
	closed bool
}

func (s *subscription) trySend(ev StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.ch <- ev
}

func (s *subscription) trySendNonBlocking(ev StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		// Buffer is full of real events; skip this heartbeat.
	}
}

func (s *subscription) tryClose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// subscriberStore is the subset of Store the hub reads for catchup replay
// and notify-envelope resolution.
type subscriberStore interface {
	Since(ctx context.Context, jobID string, sinceSeq int) ([]Record, error)
	BySeq(ctx context.Context, jobID string, seq int) (Record, error)
}

// channelListener is the subset of NotifyListener the hub drives; an
// interface so tests can substitute a fake instead of a live Postgres
// connection.
type channelListener interface {
	Subscribe(ctx context.Context, ch string) error
	Unsubscribe(ctx context.Context, ch string) error
}

// Hub is the Event Stream Hub: a per-job pub/sub fan-out backed by
// PostgreSQL NOTIFY/LISTEN, with every persistent event replayable from
// job_events so a subscriber that joins after termination still observes
// the terminal event.
type Hub struct {
	store             subscriberStore
	listener          channelListener
	heartbeatInterval time.Duration
	logger            *slog.Logger

	mu   sync.Mutex
	subs map[string][]*subscription

	// rawListener is the concrete listener Start/Stop drive; nil in tests
	// that inject a fake channelListener directly via the listener field.
	rawListener *NotifyListener
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// WithHeartbeatInterval overrides the default keep-alive cadence.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(h *Hub) { h.heartbeatInterval = d }
}

// NewHub wires a Hub over its event store and a dedicated NOTIFY connection.
func NewHub(store *Store, notifyConnString string, opts ...Option) *Hub {
	h := &Hub{
		store:             store,
		heartbeatInterval: defaultHeartbeatInterval,
		logger:            slog.Default(),
		subs:              make(map[string][]*subscription),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.rawListener = NewNotifyListener(notifyConnString, h.onNotify)
	h.listener = h.rawListener
	return h
}

// Start establishes the dedicated LISTEN connection.
func (h *Hub) Start(ctx context.Context) error {
	return h.rawListener.Start(ctx)
}

// Stop tears down the LISTEN connection.
func (h *Hub) Stop(ctx context.Context) {
	h.rawListener.Stop(ctx)
}

// Subscribe opens a per-job stream starting strictly after lastSeq (0 for a
// fresh subscriber). LISTEN is established before the catchup query so no
// event published in between can be missed. If catchup already reaches a
// terminal event, the returned channel delivers it and closes immediately —
// no live NOTIFY wiring is needed for an already-finished job.
//
// The returned cancel func must be called once the caller is done reading,
// whether or not the stream reached a terminal event.
func (h *Hub) Subscribe(ctx context.Context, jobID string, lastSeq int) (<-chan StreamEvent, func(), error) {
	if err := h.listener.Subscribe(ctx, channel(jobID)); err != nil {
		return nil, nil, err
	}

	sub := &subscription{jobID: jobID, ch: make(chan StreamEvent, 16)}
	h.mu.Lock()
	h.subs[jobID] = append(h.subs[jobID], sub)
	h.mu.Unlock()

	backlog, err := h.store.Since(ctx, jobID, lastSeq)
	if err != nil {
		h.unsubscribe(ctx, sub)
		return nil, nil, err
	}

	closed := false
	for i := range backlog {
		r := backlog[i]
		sub.trySend(StreamEvent{Record: &r})
		if IsTerminal(r.Kind) {
			closed = true
			break
		}
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	if closed {
		sub.tryClose()
		h.unsubscribe(context.Background(), sub)
		cancel()
		return sub.ch, func() {}, nil
	}

	go h.heartbeatLoop(cancelCtx, sub)

	return sub.ch, func() {
		cancel()
		sub.tryClose()
		h.unsubscribe(context.Background(), sub)
	}, nil
}

func (h *Hub) heartbeatLoop(ctx context.Context, sub *subscription) {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sub.trySendNonBlocking(StreamEvent{Heartbeat: true})
		}
	}
}

// onNotify is the NotifyListener Dispatcher: it resolves a bare
// (job_id, seq) envelope to its full record and fans it out to every local
// subscriber for that job, closing each one that observes a terminal event.
func (h *Hub) onNotify(_ string, payload []byte) {
	var envelope struct {
		JobID string `json:"job_id"`
		Seq   int    `json:"seq"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		h.logger.Warn("events hub: malformed notify payload", "error", err)
		return
	}

	h.mu.Lock()
	subs := append([]*subscription(nil), h.subs[envelope.JobID]...)
	h.mu.Unlock()
	if len(subs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	record, err := h.store.BySeq(ctx, envelope.JobID, envelope.Seq)
	if err != nil {
		h.logger.Warn("events hub: resolve notify envelope", "job_id", envelope.JobID, "seq", envelope.Seq, "error", err)
		return
	}

	terminal := IsTerminal(record.Kind)
	for _, sub := range subs {
		sub.trySend(StreamEvent{Record: &record})
		if terminal {
			sub.tryClose()
			h.unsubscribe(context.Background(), sub)
		}
	}
}

func (h *Hub) unsubscribe(ctx context.Context, target *subscription) {
	h.mu.Lock()
	existing := h.subs[target.jobID]
	remaining := existing[:0]
	for _, sub := range existing {
		if sub != target {
			remaining = append(remaining, sub)
		}
	}
	last := len(remaining) == 0
	if last {
		delete(h.subs, target.jobID)
	} else {
		h.subs[target.jobID] = remaining
	}
	h.mu.Unlock()

	if last {
		if err := h.listener.Unsubscribe(ctx, channel(target.jobID)); err != nil {
			h.logger.Warn("events hub: unlisten failed", "job_id", target.jobID, "error", err)
		}
	}
}
