// Package session multiplexes request/response operations and durable
// push subscriptions over a single transport connection. It owns the
// authenticate handshake and gates every operation on the authenticated
// state.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/propstack/chatlink/proto"
	"github.com/propstack/chatlink/transport"
)

const (
	defaultAuthTimeout = 15 * time.Second
	defaultOpTimeout   = 10 * time.Second
)

// Info describes the authenticated session.
type Info struct {
	UserID      string
	UserType    string
	DisplayName string
	WorkspaceID string
	ExpiresAt   time.Time
}

// Session is the operation and subscription layer above a Transport.
type Session struct {
	tr  *transport.Transport
	log *zerolog.Logger

	authTimeout time.Duration
	opTimeout   time.Duration

	authMu sync.Mutex // serializes handshakes
	infoMu sync.Mutex
	info   *Info

	pendMu  sync.Mutex
	pending map[string]*pendingOp

	subs *registry
}

// Option adjusts session construction.
type Option func(*Session)

// WithTimeouts overrides the handshake and operation timeouts. Used by
// tests; production code keeps the defaults.
func WithTimeouts(auth, op time.Duration) Option {
	return func(s *Session) {
		s.authTimeout = auth
		s.opTimeout = op
	}
}

// New builds a session on top of tr and starts its demux loop. The
// session resets to unauthenticated whenever the transport drops, and
// fails outstanding operations instead of letting them run out their
// timeouts.
func New(tr *transport.Transport, logger *zerolog.Logger, opts ...Option) *Session {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	s := &Session{
		tr:          tr,
		log:         logger,
		authTimeout: defaultAuthTimeout,
		opTimeout:   defaultOpTimeout,
		pending:     make(map[string]*pendingOp),
		subs:        newRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	tr.Notify(func(st transport.Status) {
		if st.Kind == transport.StatusDisconnected {
			s.setInfo(nil)
			s.failAllPending(transport.ErrNotConnected)
		}
	})
	go s.demux()
	return s
}

// Authenticate performs the handshake. If the session is already
// authenticated it resolves immediately without re-issuing the request.
// The call dials the transport first when necessary. A rejected
// credential is not retried here; the caller decides.
func (s *Session) Authenticate(ctx context.Context, credential string) (Info, error) {
	s.authMu.Lock()
	defer s.authMu.Unlock()

	if s.tr.State() == transport.StateAuthenticated {
		if info := s.currentInfo(); info != nil {
			return *info, nil
		}
	}

	claims, err := inspectCredential(credential)
	if err != nil {
		return Info{}, err
	}
	if err := s.tr.Connect(ctx); err != nil {
		return Info{}, err
	}

	push, err := s.roundTrip(ctx, proto.TypeAuthenticate, proto.TypeAuthenticated, proto.TypeAuthError,
		proto.AuthData{Credential: credential, Protocol: proto.ProtocolVersion}, s.authTimeout)
	if err != nil {
		return Info{}, err
	}

	var ok proto.AuthOK
	if err := push.Decode(&ok); err != nil {
		return Info{}, err
	}

	info := Info{
		UserID:      ok.UserID,
		UserType:    ok.UserType,
		DisplayName: ok.DisplayName,
		WorkspaceID: ok.WorkspaceID,
	}
	if ok.ExpiresAt > 0 {
		info.ExpiresAt = time.UnixMilli(ok.ExpiresAt)
	} else if claims != nil && claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}

	if err := s.tr.SetAuthenticated(); err != nil {
		return Info{}, err
	}
	s.setInfo(&info)
	s.log.Info().Str("user_id", info.UserID).Msg("authenticated")
	return info, nil
}

// Info returns the session info from the last successful handshake, or
// nil when unauthenticated.
func (s *Session) Info() *Info {
	return s.currentInfo()
}

// JoinChat subscribes this connection to a chat room.
func (s *Session) JoinChat(ctx context.Context, chatID string) error {
	_, err := s.call(ctx, proto.TypeJoinChat, proto.TypeJoinedChat, proto.ChatRef{ChatID: chatID})
	return err
}

// LeaveChat unsubscribes this connection from a chat room.
func (s *Session) LeaveChat(ctx context.Context, chatID string) error {
	_, err := s.call(ctx, proto.TypeLeaveChat, proto.TypeLeftChat, proto.ChatRef{ChatID: chatID})
	return err
}

// SendMessage delivers a message and returns the persisted copy the
// backend acknowledged.
func (s *Session) SendMessage(ctx context.Context, data proto.SendData) (proto.MessageData, error) {
	push, err := s.call(ctx, proto.TypeSendMessage, proto.TypeMessageSent, data)
	if err != nil {
		return proto.MessageData{}, err
	}
	var msg proto.MessageData
	if err := push.Decode(&msg); err != nil {
		return proto.MessageData{}, err
	}
	return msg, nil
}

// MarkRead tells the backend every message in the chat has been seen.
// Fire-and-forget; the messages_read push will confirm it.
func (s *Session) MarkRead(ctx context.Context, chatID string) error {
	return s.notify(ctx, proto.TypeMarkRead, proto.ChatRef{ChatID: chatID})
}

// Typing signals that the local user is composing in the chat.
func (s *Session) Typing(ctx context.Context, chatID string) error {
	return s.notify(ctx, proto.TypeTyping, proto.ChatRef{ChatID: chatID})
}

// StopTyping signals that the local user stopped composing.
func (s *Session) StopTyping(ctx context.Context, chatID string) error {
	return s.notify(ctx, proto.TypeStopTyping, proto.ChatRef{ChatID: chatID})
}

// notify sends a fire-and-forget frame. No response is expected, so no
// correlation id is attached.
func (s *Session) notify(ctx context.Context, kind string, payload any) error {
	if s.tr.State() != transport.StateAuthenticated {
		return ErrNotAuthenticated
	}
	req, err := proto.NewRequest(kind, "", payload)
	if err != nil {
		return err
	}
	return s.tr.Send(ctx, req)
}

// OnNewMessage registers a durable handler for incoming messages.
func (s *Session) OnNewMessage(fn func(proto.MessageData)) *Subscription {
	return s.on(proto.TypeNewMessage, func(push proto.Push) {
		var msg proto.MessageData
		if err := push.Decode(&msg); err != nil {
			s.log.Warn().Err(err).Msg("bad new_message payload")
			return
		}
		fn(msg)
	})
}

// OnMessagesRead registers a durable handler for read receipts.
func (s *Session) OnMessagesRead(fn func(proto.ReadData)) *Subscription {
	return s.on(proto.TypeMessagesRead, func(push proto.Push) {
		var data proto.ReadData
		if err := push.Decode(&data); err != nil {
			s.log.Warn().Err(err).Msg("bad messages_read payload")
			return
		}
		fn(data)
	})
}

// OnTyping registers a durable handler for user_typing pushes.
func (s *Session) OnTyping(fn func(proto.TypingData)) *Subscription {
	return s.onTyping(proto.TypeUserTyping, fn)
}

// OnStoppedTyping registers a durable handler for user_stopped_typing pushes.
func (s *Session) OnStoppedTyping(fn func(proto.TypingData)) *Subscription {
	return s.onTyping(proto.TypeUserStoppedTyping, fn)
}

func (s *Session) onTyping(event string, fn func(proto.TypingData)) *Subscription {
	return s.on(event, func(push proto.Push) {
		var data proto.TypingData
		if err := push.Decode(&data); err != nil {
			s.log.Warn().Err(err).Str("event", event).Msg("bad typing payload")
			return
		}
		fn(data)
	})
}

// OnUserOnline registers a durable handler for presence-online pushes.
func (s *Session) OnUserOnline(fn func(proto.PresenceData)) *Subscription {
	return s.onPresence(proto.TypeUserOnline, fn)
}

// OnUserOffline registers a durable handler for presence-offline pushes.
func (s *Session) OnUserOffline(fn func(proto.PresenceData)) *Subscription {
	return s.onPresence(proto.TypeUserOffline, fn)
}

func (s *Session) onPresence(event string, fn func(proto.PresenceData)) *Subscription {
	return s.on(event, func(push proto.Push) {
		var data proto.PresenceData
		if err := push.Decode(&data); err != nil {
			s.log.Warn().Err(err).Str("event", event).Msg("bad presence payload")
			return
		}
		fn(data)
	})
}

func (s *Session) on(event string, fn func(proto.Push)) *Subscription {
	return s.subs.add(event, fn)
}

// RemoveAll detaches every durable handler. Call on teardown or when
// navigating away from the chat surface.
func (s *Session) RemoveAll() {
	s.subs.removeAll()
}

// Close fails outstanding operations, detaches handlers, and closes the
// transport.
func (s *Session) Close() error {
	s.failAllPending(ErrClosed)
	s.subs.removeAll()
	s.setInfo(nil)
	return s.tr.Close()
}

// demux routes every incoming frame either to the pending operation it
// answers or to the durable subscriptions.
func (s *Session) demux() {
	frames := s.tr.Frames()
	for {
		select {
		case <-s.tr.Done():
			return
		case push := <-frames:
			if op := s.matchPending(push); op != nil {
				s.settle(op, push)
				continue
			}
			s.subs.dispatch(push)
		}
	}
}

func (s *Session) currentInfo() *Info {
	s.infoMu.Lock()
	defer s.infoMu.Unlock()
	return s.info
}

func (s *Session) setInfo(info *Info) {
	s.infoMu.Lock()
	s.info = info
	s.infoMu.Unlock()
}

// inspectCredential decodes a JWT credential without verifying the
// signature (the backend owns verification) to reject tokens that are
// already expired and to recover the expiry for Info. Opaque,
// non-JWT credentials pass through untouched.
func inspectCredential(credential string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(credential, claims)
	if err != nil {
		// Opaque credential; let the server judge it.
		return nil, nil
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return nil, ErrCredentialExpired
	}
	return claims, nil
}
