package proto

import "encoding/json"

// Request is the envelope for frames sent to the chat backend.
type Request struct {
	Type string          `json:"type"`
	OpID string          `json:"op_id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Push is the envelope for frames received from the chat backend.
// OpID echoes the request's op_id when the frame answers an operation;
// server-initiated frames leave it empty.
type Push struct {
	Type  string          `json:"type"`
	OpID  string          `json:"op_id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

const (
	ProtocolVersion = 1

	// Client -> server.
	TypeAuthenticate = "authenticate"
	TypeJoinChat     = "join_chat"
	TypeLeaveChat    = "leave_chat"
	TypeSendMessage  = "send_message"
	TypeMarkRead     = "mark_read"
	TypeTyping       = "typing"
	TypeStopTyping   = "stop_typing"

	// Server -> client.
	TypeAuthenticated     = "authenticated"
	TypeAuthError         = "auth_error"
	TypeJoinedChat        = "joined_chat"
	TypeLeftChat          = "left_chat"
	TypeMessageSent       = "message_sent"
	TypeError             = "error"
	TypeNewMessage        = "new_message"
	TypeMessagesRead      = "messages_read"
	TypeUserTyping        = "user_typing"
	TypeUserStoppedTyping = "user_stopped_typing"
	TypeUserOnline        = "user_online"
	TypeUserOffline       = "user_offline"
)

// AuthData carries the credential for the authenticate handshake.
type AuthData struct {
	Credential string `json:"credential"`
	Protocol   int    `json:"protocol,omitempty"`
}

// AuthOK is the session info returned by a successful handshake.
type AuthOK struct {
	UserID      string `json:"user_id"`
	UserType    string `json:"user_type"`
	DisplayName string `json:"display_name"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	ExpiresAt   int64  `json:"expires_at,omitempty"`
}

// ChatRef names a chat room. Used by join_chat, leave_chat, mark_read,
// typing and stop_typing.
type ChatRef struct {
	ChatID string `json:"chat_id"`
}

// SendData is a send_message request.
type SendData struct {
	ChatID       string `json:"chat_id"`
	Content      string `json:"content"`
	ReceiverID   string `json:"receiver_id"`
	ReceiverType string `json:"receiver_type"`
}

// ReadReceipt records one reader of a message.
type ReadReceipt struct {
	UserID string `json:"user_id"`
	ReadAt int64  `json:"read_at"`
}

// MessageData is a persisted chat message: the message_sent response
// payload and the new_message push payload.
type MessageData struct {
	ID         string        `json:"id"`
	ChatID     string        `json:"chat_id"`
	SenderID   string        `json:"sender_id"`
	SenderType string        `json:"sender_type"`
	SenderName string        `json:"sender_name"`
	Content    string        `json:"content"`
	TS         int64         `json:"ts"`
	ReadBy     []ReadReceipt `json:"read_by,omitempty"`
}

// ReadData is a messages_read push: everything in the chat up to ReadAt
// has been seen by ReaderID.
type ReadData struct {
	ChatID   string `json:"chat_id"`
	ReaderID string `json:"reader_id"`
	ReadAt   int64  `json:"read_at"`
}

// TypingData is a user_typing / user_stopped_typing push.
type TypingData struct {
	UserID   string `json:"user_id"`
	UserType string `json:"user_type,omitempty"`
	ChatID   string `json:"chat_id"`
}

// PresenceData is a user_online / user_offline push.
type PresenceData struct {
	UserID   string `json:"user_id"`
	LastSeen int64  `json:"last_seen,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	if e.Code == "" {
		return e.Msg
	}
	return e.Code + ": " + e.Msg
}

// NewRequest builds a request envelope with the payload marshalled into Data.
// A nil payload leaves Data empty.
func NewRequest(reqType, opID string, payload any) (Request, error) {
	req := Request{Type: reqType, OpID: opID}
	if payload == nil {
		return req, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Request{}, err
	}
	req.Data = data
	return req, nil
}

// Decode unmarshals the push payload into v.
func (p Push) Decode(v any) error {
	if len(p.Data) == 0 {
		return nil
	}
	return json.Unmarshal(p.Data, v)
}
