// Package transport owns the physical WebSocket connection to the chat
// backend: dialing, the read loop, and automatic reconnection with
// exponential backoff. It decodes incoming frames into proto.Push values
// and hands them to the session layer through Frames.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/propstack/chatlink/proto"
)

var (
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("transport closed")
	// ErrNotConnected is returned by Send while no connection is up.
	ErrNotConnected = errors.New("not connected")
	// ErrReconnectExhausted reports that the reconnect attempt ceiling
	// was reached without re-establishing the connection.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// Config holds transport settings.
type Config struct {
	// URL is the WebSocket address of the chat backend.
	URL string
	// DialTimeout bounds a single dial attempt. Defaults to 10s.
	DialTimeout time.Duration
	// WriteTimeout bounds a single frame write. Defaults to 5s.
	WriteTimeout time.Duration
	// FrameBuffer is the capacity of the incoming frame channel.
	// Defaults to 64.
	FrameBuffer int
	// ReconnectBase and ReconnectMax shape the backoff curve. They
	// default to 1s and 10s and exist so tests can shrink the waits.
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
}

func (c *Config) defaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.FrameBuffer == 0 {
		c.FrameBuffer = 64
	}
	if c.ReconnectBase == 0 {
		c.ReconnectBase = backoffBase
	}
	if c.ReconnectMax == 0 {
		c.ReconnectMax = backoffMax
	}
}

// Transport maintains the single connection to the chat backend.
type Transport struct {
	cfg Config
	log *zerolog.Logger

	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	cancel context.CancelFunc // stops the active read loop
	closed bool

	done   chan struct{}
	frames chan proto.Push

	watchMu  sync.Mutex
	watchers []func(Status)
}

// New constructs a transport. It does not connect.
func New(cfg Config, logger *zerolog.Logger) *Transport {
	cfg.defaults()
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Transport{
		cfg:    cfg,
		log:    logger,
		done:   make(chan struct{}),
		frames: make(chan proto.Push, cfg.FrameBuffer),
	}
}

// Frames delivers decoded incoming frames in arrival order. The channel
// is never closed; select against Done for teardown.
func (t *Transport) Frames() <-chan proto.Push { return t.frames }

// Done is closed when the transport is closed locally.
func (t *Transport) Done() <-chan struct{} { return t.done }

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Notify registers a status observer. Observers are invoked from
// transport goroutines and must not block.
func (t *Transport) Notify(fn func(Status)) {
	t.watchMu.Lock()
	t.watchers = append(t.watchers, fn)
	t.watchMu.Unlock()
}

// Connect establishes the connection. It is a no-op while a connection
// is being established or already up. A failed initial dial is reported
// to the caller and does not start the reconnect loop.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.state != StateDisconnected {
		t.mu.Unlock()
		return nil
	}
	t.state = StateConnecting
	t.mu.Unlock()

	conn, err := t.dial(ctx)
	if err != nil {
		t.mu.Lock()
		t.state = StateDisconnected
		t.mu.Unlock()
		t.notify(Status{Kind: StatusConnectError, Err: err})
		return err
	}

	t.install(conn)
	t.notify(Status{Kind: StatusConnected})
	return nil
}

// Send writes a request frame over the connection.
func (t *Transport) Send(ctx context.Context, req proto.Request) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	writeCtx, cancel := context.WithTimeout(ctx, t.cfg.WriteTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, conn, req); err != nil {
		return fmt.Errorf("write %s: %w", req.Type, err)
	}
	return nil
}

// SetAuthenticated transitions Connected -> Authenticated. Called by the
// session layer after a successful handshake.
func (t *Transport) SetAuthenticated() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateConnected {
		return ErrNotConnected
	}
	t.state = StateAuthenticated
	return nil
}

// Close tears the connection down and cancels any pending reconnection
// attempts. A closed transport never reconnects.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	cancel := t.cancel
	t.conn = nil
	t.state = StateDisconnected
	t.mu.Unlock()

	close(t.done)
	var closeErr error
	if conn != nil {
		closeErr = conn.Close(websocket.StatusNormalClosure, "bye")
	}
	if cancel != nil {
		cancel()
	}
	return closeErr
}

func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, t.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.cfg.URL, err)
	}
	return conn, nil
}

func (t *Transport) install(conn *websocket.Conn) {
	readCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.conn = conn
	t.cancel = cancel
	t.state = StateConnected
	t.mu.Unlock()

	go t.readLoop(readCtx, conn)
}

func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var push proto.Push
		if err := wsjson.Read(ctx, conn, &push); err != nil {
			t.handleReadError(err)
			return
		}

		select {
		case t.frames <- push:
		case <-ctx.Done():
			t.handleReadError(ctx.Err())
			return
		case <-t.done:
			return
		}
	}
}

// handleReadError decides whether a dropped read means a server-initiated
// disconnect (reconnect) or a local teardown (stay down).
func (t *Transport) handleReadError(err error) {
	t.mu.Lock()
	if t.closed || errors.Is(err, context.Canceled) {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.cancel = nil
	t.state = StateDisconnected
	t.mu.Unlock()

	t.log.Warn().Err(err).Msg("connection dropped")
	t.notify(Status{Kind: StatusDisconnected, Err: err})
	go t.reconnect()
}

// reconnect retries the dial with exponential backoff. The attempt
// counter is local, so it restarts at 1 after every successful connect.
func (t *Transport) reconnect() {
	for attempt := 1; attempt <= MaxReconnectAttempts; attempt++ {
		select {
		case <-t.done:
			return
		case <-time.After(delayFor(t.cfg.ReconnectBase, t.cfg.ReconnectMax, attempt)):
		}

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return
		}
		t.state = StateConnecting
		t.mu.Unlock()

		t.log.Info().Int("attempt", attempt).Msg("reconnecting")
		conn, err := t.dial(context.Background())
		if err != nil {
			t.mu.Lock()
			t.state = StateDisconnected
			t.mu.Unlock()
			t.notify(Status{Kind: StatusConnectError, Err: err, Attempt: attempt})
			continue
		}

		t.install(conn)
		t.notify(Status{Kind: StatusConnected, Attempt: attempt})
		return
	}

	t.log.Error().Int("attempts", MaxReconnectAttempts).Msg("giving up on reconnection")
	t.notify(Status{Kind: StatusReconnectExhausted, Err: ErrReconnectExhausted, Attempt: MaxReconnectAttempts})
}

func (t *Transport) notify(s Status) {
	t.watchMu.Lock()
	watchers := make([]func(Status), len(t.watchers))
	copy(watchers, t.watchers)
	t.watchMu.Unlock()

	for _, fn := range watchers {
		fn(s)
	}
}
