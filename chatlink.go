// Package chatlink is a client for the PropStack CRM's real-time
// messaging backend. It ties together the transport (persistent
// WebSocket with reconnection), the session (authenticate handshake,
// correlated operations, durable subscriptions), the REST snapshot
// collaborators, and the reconciled chat state store.
//
// A Client is an explicitly constructed instance with a defined
// lifecycle: New, Connect, room operations, Close. Nothing is shared
// through package-level state, so independent clients (and tests) never
// collide.
package chatlink

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/propstack/chatlink/proto"
	"github.com/propstack/chatlink/rest"
	"github.com/propstack/chatlink/session"
	"github.com/propstack/chatlink/store"
	"github.com/propstack/chatlink/transport"
	"github.com/propstack/chatlink/typing"
)

// Config holds everything a client needs to reach the backend.
type Config struct {
	// SocketURL is the WebSocket address of the chat backend.
	SocketURL string
	// APIURL is the CRM REST API root.
	APIURL string
	// Token is the credential used for both surfaces.
	Token string
	// TypingIdle overrides the typing inactivity window. Zero keeps
	// the default.
	TypingIdle time.Duration
	// Logger is optional; a no-op logger is used when nil.
	Logger *zerolog.Logger
}

// Client is one user's connection to the messaging backend.
type Client struct {
	log *zerolog.Logger

	tr     *transport.Transport
	sess   *session.Session
	st     *store.Store
	api    *rest.Client
	signal *typing.Signal
	unbind func()

	token string
}

// New constructs a client. It does not connect.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	tr := transport.New(transport.Config{URL: cfg.SocketURL}, logger)
	sess := session.New(tr, logger)
	st := store.New(logger)

	c := &Client{
		log:    logger,
		tr:     tr,
		sess:   sess,
		st:     st,
		api:    rest.New(rest.Config{BaseURL: cfg.APIURL, Token: cfg.Token}, logger),
		unbind: store.Bind(sess, st),
		token:  cfg.Token,
	}
	c.signal = typing.New(cfg.TypingIdle,
		func() { c.notifyTyping(true) },
		func() { c.notifyTyping(false) },
	)
	return c
}

// Connect dials, authenticates, and seeds the room list snapshot.
func (c *Client) Connect(ctx context.Context) (session.Info, error) {
	info, err := c.sess.Authenticate(ctx, c.token)
	if err != nil {
		return session.Info{}, err
	}
	c.st.SetSelf(info.UserID)

	rooms, err := c.api.Rooms(ctx)
	if err != nil {
		return session.Info{}, err
	}
	c.st.SeedRooms(rooms)
	return info, nil
}

// Session exposes the operation layer for callers that need it directly.
func (c *Client) Session() *session.Session { return c.sess }

// Store exposes the reconciled chat state for rendering.
func (c *Client) Store() *store.Store { return c.st }

// API exposes the REST collaborators.
func (c *Client) API() *rest.Client { return c.api }

// OpenRoom switches the displayed room: it leaves the previous room's
// live scope first so its pushes stop arriving, joins the new room,
// seeds its history, and marks it read.
func (c *Client) OpenRoom(ctx context.Context, chatID string) error {
	if prev := c.st.ActiveChat(); prev != "" && prev != chatID {
		if err := c.sess.LeaveChat(ctx, prev); err != nil {
			c.log.Warn().Err(err).Str("chat_id", prev).Msg("leave previous room")
		}
	}
	if err := c.sess.JoinChat(ctx, chatID); err != nil {
		return err
	}

	history, err := c.api.Messages(ctx, chatID, 0, 0)
	if err != nil {
		return err
	}
	c.st.SeedMessages(chatID, history)
	c.st.SetActive(chatID)

	if err := c.sess.MarkRead(ctx, chatID); err != nil {
		c.log.Warn().Err(err).Str("chat_id", chatID).Msg("mark read")
	}
	return nil
}

// Send delivers a message to the active room and merges the
// acknowledged copy into the store.
func (c *Client) Send(ctx context.Context, content, receiverID string, receiverType store.UserType) (store.Message, error) {
	chatID := c.st.ActiveChat()
	ack, err := c.sess.SendMessage(ctx, proto.SendData{
		ChatID:       chatID,
		Content:      content,
		ReceiverID:   receiverID,
		ReceiverType: string(receiverType),
	})
	if err != nil {
		return store.Message{}, err
	}

	msg := store.MessageFromProto(ack)
	c.st.ApplyMessage(msg)
	return msg, nil
}

// StartChat creates or finds the room shared with a user and inserts it
// into the room list exactly once.
func (c *Client) StartChat(ctx context.Context, userID string, userType store.UserType) (store.Room, error) {
	room, err := c.api.CreateOrGetRoom(ctx, userID, userType)
	if err != nil {
		return store.Room{}, err
	}
	c.st.UpsertRoom(room)
	return room, nil
}

// InputChanged feeds the composer content into the typing signal. Call
// it on every local edit of the message box.
func (c *Client) InputChanged(content string) {
	c.signal.Update(content)
}

// Close disposes the client: typing timer, subscriptions, pending
// operations, and the connection.
func (c *Client) Close() error {
	c.signal.Stop()
	c.unbind()
	return c.sess.Close()
}

func (c *Client) notifyTyping(composing bool) {
	chatID := c.st.ActiveChat()
	if chatID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if composing {
		err = c.sess.Typing(ctx, chatID)
	} else {
		err = c.sess.StopTyping(ctx, chatID)
	}
	if err != nil {
		c.log.Debug().Err(err).Bool("composing", composing).Msg("typing notify")
	}
}
