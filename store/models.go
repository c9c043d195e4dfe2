package store

import (
	"time"

	"github.com/propstack/chatlink/proto"
)

// UserType distinguishes the CRM participant roles.
type UserType string

const (
	UserRealtor UserType = "realtor"
	UserClient  UserType = "client"
	UserAdmin   UserType = "admin"
)

// Participant is a member of a chat room. Immutable once attached
// except Online, which presence pushes update by user id.
type Participant struct {
	UserID      string
	UserType    UserType
	DisplayName string
	Online      bool
}

// MessageSummary is the room-list preview of the latest message.
type MessageSummary struct {
	Content    string
	SenderName string
	Timestamp  time.Time
}

// Room is a chat room as the client displays it. Rooms are created by
// the snapshot or a create-chat response and never deleted locally.
type Room struct {
	ID           string
	WorkspaceID  string
	Participants []Participant
	LastMessage  *MessageSummary
	UnreadCount  int
}

// ReadReceipt records that a user has seen a message.
type ReadReceipt struct {
	UserID string
	ReadAt time.Time
}

// Message is an append-only chat message. ReadBy only ever grows.
type Message struct {
	ID         string
	ChatID     string
	SenderID   string
	SenderType UserType
	SenderName string
	Content    string
	Timestamp  time.Time
	ReadBy     []ReadReceipt
}

// MessageFromProto converts a wire message into the local model.
func MessageFromProto(m proto.MessageData) Message {
	msg := Message{
		ID:         m.ID,
		ChatID:     m.ChatID,
		SenderID:   m.SenderID,
		SenderType: UserType(m.SenderType),
		SenderName: m.SenderName,
		Content:    m.Content,
		Timestamp:  time.UnixMilli(m.TS),
	}
	for _, r := range m.ReadBy {
		msg.ReadBy = append(msg.ReadBy, ReadReceipt{
			UserID: r.UserID,
			ReadAt: time.UnixMilli(r.ReadAt),
		})
	}
	return msg
}
