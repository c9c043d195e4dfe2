package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/propstack/chatlink/proto"
)

// wsServer is a fake chat backend: it records incoming requests and can
// echo scripted pushes or drop connections to provoke reconnects.
type wsServer struct {
	t        *testing.T
	srv      *httptest.Server
	requests chan proto.Request
	reply    func(proto.Request) *proto.Push

	mu    sync.Mutex
	conns []*websocket.Conn
}

func startWSServer(t *testing.T, reply func(proto.Request) *proto.Push) *wsServer {
	t.Helper()

	s := &wsServer{
		t:        t,
		requests: make(chan proto.Request, 32),
		reply:    reply,
	}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		ctx := r.Context()
		for {
			var req proto.Request
			if err := wsjson.Read(ctx, conn, &req); err != nil {
				return
			}
			s.requests <- req
			if s.reply != nil {
				if push := s.reply(req); push != nil {
					if err := wsjson.Write(ctx, conn, *push); err != nil {
						return
					}
				}
			}
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// dropAll closes every accepted connection from the server side.
func (s *wsServer) dropAll() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close(websocket.StatusGoingAway, "dropped")
	}
}

func watchStatus(tr *Transport) <-chan Status {
	ch := make(chan Status, 32)
	tr.Notify(func(st Status) { ch <- st })
	return ch
}

func mustStatus(t *testing.T, ch <-chan Status, kind StatusKind) Status {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case st := <-ch:
			if st.Kind == kind {
				return st
			}
		case <-deadline:
			t.Fatalf("status kind %v not observed", kind)
		}
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	srv := startWSServer(t, nil)
	tr := New(Config{URL: srv.url()}, nil)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := tr.State(); got != StateConnected {
		t.Fatalf("state = %v, want connected", got)
	}
	// Second call is a no-op, not an error.
	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("second connect: %v", err)
	}
}

func TestSendAndReceive(t *testing.T) {
	srv := startWSServer(t, func(req proto.Request) *proto.Push {
		if req.Type == proto.TypeJoinChat {
			return &proto.Push{Type: proto.TypeJoinedChat, OpID: req.OpID}
		}
		return nil
	})
	tr := New(Config{URL: srv.url()}, nil)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	req, err := proto.NewRequest(proto.TypeJoinChat, "op-1", proto.ChatRef{ChatID: "room1"})
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if err := tr.Send(ctx, req); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case push := <-tr.Frames():
		if push.Type != proto.TypeJoinedChat || push.OpID != "op-1" {
			t.Fatalf("unexpected frame: %+v", push)
		}
	case <-ctx.Done():
		t.Fatal("no frame received")
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	tr := New(Config{URL: "ws://127.0.0.1:0"}, nil)
	defer tr.Close()

	err := tr.Send(context.Background(), proto.Request{Type: proto.TypeTyping})
	if err != ErrNotConnected {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestLocalCloseDoesNotReconnect(t *testing.T) {
	srv := startWSServer(t, nil)
	tr := New(Config{URL: srv.url(), ReconnectBase: 5 * time.Millisecond, ReconnectMax: 10 * time.Millisecond}, nil)
	status := watchStatus(tr)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	mustStatus(t, status, StatusConnected)

	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// A client-initiated disconnect must not trigger the backoff loop.
	select {
	case st := <-status:
		if st.Kind == StatusConnected || st.Kind == StatusDisconnected {
			t.Fatalf("unexpected status after close: %+v", st)
		}
	case <-time.After(100 * time.Millisecond):
	}
	if got := tr.State(); got != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", got)
	}
	if err := tr.Connect(ctx); err != ErrClosed {
		t.Fatalf("connect after close = %v, want ErrClosed", err)
	}
}

func TestReconnectAfterServerDrop(t *testing.T) {
	srv := startWSServer(t, nil)
	tr := New(Config{URL: srv.url(), ReconnectBase: 5 * time.Millisecond, ReconnectMax: 10 * time.Millisecond}, nil)
	defer tr.Close()
	status := watchStatus(tr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	mustStatus(t, status, StatusConnected)

	srv.dropAll()

	mustStatus(t, status, StatusDisconnected)
	reconnected := mustStatus(t, status, StatusConnected)
	if reconnected.Attempt == 0 {
		t.Fatalf("reconnect status should carry the attempt number, got %+v", reconnected)
	}
	if got := tr.State(); got != StateConnected {
		t.Fatalf("state = %v, want connected", got)
	}
}

func TestReconnectExhausted(t *testing.T) {
	srv := startWSServer(t, nil)
	tr := New(Config{URL: srv.url(), ReconnectBase: time.Millisecond, ReconnectMax: 2 * time.Millisecond, DialTimeout: 50 * time.Millisecond}, nil)
	defer tr.Close()
	status := watchStatus(tr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	mustStatus(t, status, StatusConnected)

	// Take the backend away entirely so every redial fails.
	srv.srv.CloseClientConnections()
	srv.srv.Close()
	srv.dropAll()

	mustStatus(t, status, StatusDisconnected)
	exhausted := mustStatus(t, status, StatusReconnectExhausted)
	if exhausted.Attempt != MaxReconnectAttempts {
		t.Fatalf("exhausted after %d attempts, want %d", exhausted.Attempt, MaxReconnectAttempts)
	}
}

func TestSetAuthenticatedRequiresConnection(t *testing.T) {
	tr := New(Config{URL: "ws://127.0.0.1:0"}, nil)
	defer tr.Close()

	if err := tr.SetAuthenticated(); err != ErrNotConnected {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}
