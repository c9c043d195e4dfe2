// Package rest consumes the CRM's REST collaborators: the room list,
// paginated message history, create-or-get room, and user search. The
// results seed the store's snapshot; live deltas arrive over the
// session.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/propstack/chatlink/store"
)

// Config holds REST client settings.
type Config struct {
	// BaseURL is the CRM API root, e.g. "https://crm.example.com/api".
	BaseURL string
	// Token is the bearer credential, the same one the session uses.
	Token string
	// Timeout bounds each request. Defaults to 15s.
	Timeout time.Duration
}

// APIError is a non-2xx response decoded from the API's error body.
type APIError struct {
	Status int    `json:"-"`
	Code   string `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api: %s: %s", e.Code, e.Msg)
	}
	return fmt.Sprintf("api: status %d", e.Status)
}

// Client talks to the CRM REST API.
type Client struct {
	base  string
	token string
	http  *http.Client
	log   *zerolog.Logger
}

// New constructs a REST client.
func New(cfg Config, logger *zerolog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Client{
		base:  cfg.BaseURL,
		token: cfg.Token,
		http:  &http.Client{Timeout: cfg.Timeout},
		log:   logger,
	}
}

type participantDTO struct {
	UserID      string `json:"user_id"`
	UserType    string `json:"user_type"`
	DisplayName string `json:"display_name"`
	Online      bool   `json:"online,omitempty"`
}

type summaryDTO struct {
	Content    string `json:"content"`
	SenderName string `json:"sender_name"`
	TS         int64  `json:"ts"`
}

type roomDTO struct {
	ID           string           `json:"id"`
	WorkspaceID  string           `json:"workspace_id"`
	Participants []participantDTO `json:"participants"`
	LastMessage  *summaryDTO      `json:"last_message,omitempty"`
	UnreadCount  int              `json:"unread_count"`
}

type receiptDTO struct {
	UserID string `json:"user_id"`
	ReadAt int64  `json:"read_at"`
}

type messageDTO struct {
	ID         string       `json:"id"`
	ChatID     string       `json:"chat_id"`
	SenderID   string       `json:"sender_id"`
	SenderType string       `json:"sender_type"`
	SenderName string       `json:"sender_name"`
	Content    string       `json:"content"`
	TS         int64        `json:"ts"`
	ReadBy     []receiptDTO `json:"read_by,omitempty"`
}

// Rooms fetches the room-list snapshot.
func (c *Client) Rooms(ctx context.Context) ([]store.Room, error) {
	var dtos []roomDTO
	if err := c.get(ctx, "/chats", nil, &dtos); err != nil {
		return nil, err
	}
	rooms := make([]store.Room, 0, len(dtos))
	for _, d := range dtos {
		rooms = append(rooms, roomFromDTO(d))
	}
	return rooms, nil
}

// Messages fetches one page of a room's history, oldest first.
func (c *Client) Messages(ctx context.Context, chatID string, page, limit int) ([]store.Message, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var body struct {
		Messages []messageDTO `json:"messages"`
	}
	if err := c.get(ctx, "/chats/"+url.PathEscape(chatID)+"/messages", q, &body); err != nil {
		return nil, err
	}
	msgs := make([]store.Message, 0, len(body.Messages))
	for _, d := range body.Messages {
		msgs = append(msgs, messageFromDTO(d))
	}
	return msgs, nil
}

// CreateOrGetRoom returns the room shared with the user, creating it
// server-side when none exists. Calling it twice for the same pair
// returns the same room id.
func (c *Client) CreateOrGetRoom(ctx context.Context, userID string, userType store.UserType) (store.Room, error) {
	payload := map[string]string{
		"user_id":   userID,
		"user_type": string(userType),
	}
	var dto roomDTO
	if err := c.post(ctx, "/chats", payload, &dto); err != nil {
		return store.Room{}, err
	}
	return roomFromDTO(dto), nil
}

// SearchUsers finds users to start a chat with.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]store.Participant, error) {
	q := url.Values{}
	q.Set("search", query)
	var dtos []participantDTO
	if err := c.get(ctx, "/users", q, &dtos); err != nil {
		return nil, err
	}
	users := make([]store.Participant, 0, len(dtos))
	for _, d := range dtos {
		users = append(users, participantFromDTO(d))
	}
	return users, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var body struct {
			Error *APIError `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&body); decodeErr == nil && body.Error != nil {
			apiErr.Code = body.Error.Code
			apiErr.Msg = body.Error.Msg
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

func roomFromDTO(d roomDTO) store.Room {
	room := store.Room{
		ID:          d.ID,
		WorkspaceID: d.WorkspaceID,
		UnreadCount: d.UnreadCount,
	}
	for _, p := range d.Participants {
		room.Participants = append(room.Participants, participantFromDTO(p))
	}
	if d.LastMessage != nil {
		room.LastMessage = &store.MessageSummary{
			Content:    d.LastMessage.Content,
			SenderName: d.LastMessage.SenderName,
			Timestamp:  time.UnixMilli(d.LastMessage.TS),
		}
	}
	return room
}

func participantFromDTO(d participantDTO) store.Participant {
	return store.Participant{
		UserID:      d.UserID,
		UserType:    store.UserType(d.UserType),
		DisplayName: d.DisplayName,
		Online:      d.Online,
	}
}

func messageFromDTO(d messageDTO) store.Message {
	msg := store.Message{
		ID:         d.ID,
		ChatID:     d.ChatID,
		SenderID:   d.SenderID,
		SenderType: store.UserType(d.SenderType),
		SenderName: d.SenderName,
		Content:    d.Content,
		Timestamp:  time.UnixMilli(d.TS),
	}
	for _, r := range d.ReadBy {
		msg.ReadBy = append(msg.ReadBy, store.ReadReceipt{
			UserID: r.UserID,
			ReadAt: time.UnixMilli(r.ReadAt),
		})
	}
	return msg
}
