package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
)

// listenCmd represents a LISTEN/UNLISTEN command executed by the receive
// loop, the sole goroutine that touches the dedicated pgx connection.
type listenCmd struct {
	sql     string
	channel string
	gen     uint64 // generation captured at Unsubscribe time; 0 for LISTEN
	result  chan error
}

// Dispatcher receives a raw NOTIFY payload for a channel it is currently
// LISTENing on.
type Dispatcher func(channel string, payload []byte)

// NotifyListener listens for PostgreSQL NOTIFY events on dynamically
// (un)subscribed per-job channels and hands each payload to a Dispatcher.
type NotifyListener struct {
	connString string
	conn       *pgx.Conn
	connMu     sync.Mutex
	dispatch   Dispatcher
	logger     *slog.Logger

	channels   map[string]bool
	channelsMu sync.RWMutex

	// cmdCh serializes LISTEN/UNLISTEN through the receive loop, avoiding the
	// "conn busy" race between WaitForNotification and Exec.
	cmdCh   chan listenCmd
	running atomic.Bool

	// listenGen prevents a stale UNLISTEN (queued before a resubscribe) from
	// winning a race against a newer LISTEN on the same channel.
	listenGen   map[string]uint64
	listenGenMu sync.Mutex

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// NewNotifyListener creates a listener that dispatches NOTIFY payloads to fn.
func NewNotifyListener(connString string, fn Dispatcher) *NotifyListener {
	return &NotifyListener{
		connString: connString,
		dispatch:   fn,
		logger:     slog.Default(),
		channels:   make(map[string]bool),
		cmdCh:      make(chan listenCmd, 16),
		listenGen:  make(map[string]uint64),
	}
}

// Start establishes the dedicated LISTEN connection and begins receiving.
func (l *NotifyListener) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("events: connect for LISTEN: %w", err)
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()
	l.running.Store(true)

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancelLoop = cancel
	l.loopDone = make(chan struct{})
	go func() {
		defer close(l.loopDone)
		l.receiveLoop(loopCtx)
	}()

	l.logger.Info("event notify listener started")
	return nil
}

// Subscribe sends LISTEN for a job's channel. Always sent even if already
// marked active locally: Postgres handles duplicate LISTEN idempotently,
// and this closes a race where a concurrent Unsubscribe could otherwise
// drop the LISTEN between this call's early-return check and execution.
func (l *NotifyListener) Subscribe(ctx context.Context, ch string) error {
	if !l.running.Load() {
		return fmt.Errorf("events: LISTEN connection not established")
	}
	sanitized := pgx.Identifier{ch}.Sanitize()
	cmd := listenCmd{sql: "LISTEN " + sanitized, channel: ch, result: make(chan error, 1)}

	select {
	case l.cmdCh <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.result:
		if err != nil {
			return fmt.Errorf("events: LISTEN %s: %w", sanitized, err)
		}
		l.channelsMu.Lock()
		l.channels[ch] = true
		l.channelsMu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unsubscribe sends UNLISTEN for a job's channel, once its stream closes.
func (l *NotifyListener) Unsubscribe(ctx context.Context, ch string) error {
	l.channelsMu.Lock()
	if !l.channels[ch] {
		l.channelsMu.Unlock()
		return nil
	}
	l.channelsMu.Unlock()
	if !l.running.Load() {
		return nil
	}

	l.listenGenMu.Lock()
	gen := l.listenGen[ch]
	l.listenGenMu.Unlock()

	sanitized := pgx.Identifier{ch}.Sanitize()
	cmd := listenCmd{sql: "UNLISTEN " + sanitized, channel: ch, gen: gen, result: make(chan error, 1)}

	select {
	case l.cmdCh <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.result:
		if err != nil {
			return fmt.Errorf("events: UNLISTEN %s: %w", sanitized, err)
		}
		l.listenGenMu.Lock()
		stale := l.listenGen[ch] != gen
		l.listenGenMu.Unlock()
		if !stale {
			l.channelsMu.Lock()
			delete(l.channels, ch)
			l.channelsMu.Unlock()
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *NotifyListener) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.processPendingCmds(ctx)

		l.connMu.Lock()
		conn := l.conn
		l.connMu.Unlock()
		if conn == nil {
			l.reconnect(ctx)
			continue
		}

		waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		notification, err := conn.WaitForNotification(waitCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if waitCtx.Err() != nil {
				continue
			}
			l.logger.Error("NOTIFY receive error", "error", err)
			l.reconnect(ctx)
			continue
		}

		l.dispatch(notification.Channel, []byte(notification.Payload))
	}
}

func (l *NotifyListener) processPendingCmds(ctx context.Context) {
	for {
		select {
		case cmd := <-l.cmdCh:
			if cmd.gen > 0 {
				l.listenGenMu.Lock()
				stale := l.listenGen[cmd.channel] != cmd.gen
				l.listenGenMu.Unlock()
				if stale {
					cmd.result <- nil
					continue
				}
			}

			l.connMu.Lock()
			conn := l.conn
			l.connMu.Unlock()
			if conn == nil {
				cmd.result <- fmt.Errorf("events: LISTEN connection not established")
				continue
			}

			_, err := conn.Exec(ctx, cmd.sql)
			if err == nil && cmd.gen == 0 && cmd.channel != "" {
				l.listenGenMu.Lock()
				l.listenGen[cmd.channel]++
				l.listenGenMu.Unlock()
			}
			cmd.result <- err
		default:
			return
		}
	}
}

func (l *NotifyListener) reconnect(ctx context.Context) {
	l.connMu.Lock()
	defer l.connMu.Unlock()

	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		conn, err := pgx.Connect(ctx, l.connString)
		if err != nil {
			l.logger.Error("LISTEN reconnect failed", "error", err, "backoff", backoff)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		l.conn = conn

		l.channelsMu.RLock()
		for ch := range l.channels {
			sanitized := pgx.Identifier{ch}.Sanitize()
			if _, err := conn.Exec(ctx, "LISTEN "+sanitized); err != nil {
				l.logger.Error("re-LISTEN failed", "channel", ch, "error", err)
			}
		}
		l.channelsMu.RUnlock()

		l.logger.Info("event notify listener reconnected")
		return
	}
}

// Stop signals the receive loop to exit and closes the LISTEN connection.
func (l *NotifyListener) Stop(ctx context.Context) {
	l.running.Store(false)
	if l.cancelLoop != nil {
		l.cancelLoop()
	}
	if l.loopDone != nil {
		<-l.loopDone
	}
	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
}
