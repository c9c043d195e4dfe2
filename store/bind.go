package store

import (
	"time"

	"github.com/propstack/chatlink/proto"
	"github.com/propstack/chatlink/session"
)

// Bind routes the session's durable pushes into the store and returns a
// teardown function that cancels every subscription.
func Bind(s *session.Session, st *Store) func() {
	subs := []*session.Subscription{
		s.OnNewMessage(func(m proto.MessageData) {
			st.ApplyMessage(MessageFromProto(m))
		}),
		s.OnMessagesRead(func(r proto.ReadData) {
			st.ApplyRead(r.ChatID, r.ReaderID, time.UnixMilli(r.ReadAt))
		}),
		s.OnTyping(func(t proto.TypingData) {
			st.SetTyping(t.ChatID, t.UserID, true)
		}),
		s.OnStoppedTyping(func(t proto.TypingData) {
			st.SetTyping(t.ChatID, t.UserID, false)
		}),
		s.OnUserOnline(func(p proto.PresenceData) {
			st.SetPresence(p.UserID, true)
		}),
		s.OnUserOffline(func(p proto.PresenceData) {
			st.SetPresence(p.UserID, false)
		}),
	}

	return func() {
		for _, sub := range subs {
			sub.Cancel()
		}
	}
}
