// Package store keeps the client's chat state consistent: the
// REST-fetched snapshot merged with live pushes. It owns the unread
// counters, last-message summaries, display ordering and the ephemeral
// typing map.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Store is the reconciled chat state. All methods are safe for
// concurrent use; reads return copies.
type Store struct {
	log *zerolog.Logger

	mu       sync.Mutex
	selfID   string
	active   string
	rooms    map[string]*Room
	messages map[string][]Message
	typing   map[string]bool // userID -> composing, active chat only

	updates chan struct{}
}

// New constructs an empty store.
func New(logger *zerolog.Logger) *Store {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Store{
		log:      logger,
		rooms:    make(map[string]*Room),
		messages: make(map[string][]Message),
		typing:   make(map[string]bool),
		updates:  make(chan struct{}, 1),
	}
}

// Updates signals (coalesced) that the state changed and the UI should
// re-render.
func (s *Store) Updates() <-chan struct{} { return s.updates }

// SetSelf records the local user so their own messages never bump
// unread counters.
func (s *Store) SetSelf(userID string) {
	s.mu.Lock()
	s.selfID = userID
	s.mu.Unlock()
}

// SeedRooms merges the REST room-list snapshot. Rooms already known
// keep their unread counter; pushes may have arrived before the
// snapshot.
func (s *Store) SeedRooms(rooms []Room) {
	s.mu.Lock()
	for _, r := range rooms {
		room := r
		if existing, ok := s.rooms[r.ID]; ok {
			room.UnreadCount = maxInt(room.UnreadCount, existing.UnreadCount)
		}
		s.rooms[r.ID] = &room
	}
	s.mu.Unlock()
	s.changed()
}

// SeedMessages installs the REST history baseline for a room, replacing
// anything held locally.
func (s *Store) SeedMessages(chatID string, history []Message) {
	msgs := make([]Message, len(history))
	copy(msgs, history)

	s.mu.Lock()
	s.messages[chatID] = msgs
	s.mu.Unlock()
	s.changed()
}

// UpsertRoom inserts a room if its id is unknown and reports whether it
// did. Duplicate create-chat responses must not produce duplicate rooms.
func (s *Store) UpsertRoom(room Room) bool {
	s.mu.Lock()
	if _, exists := s.rooms[room.ID]; exists {
		s.mu.Unlock()
		return false
	}
	r := room
	s.rooms[room.ID] = &r
	s.mu.Unlock()
	s.changed()
	return true
}

// SetActive marks the room currently on screen and returns the previous
// one so the caller can leave its subscription scope first. Switching
// clears the typing map.
func (s *Store) SetActive(chatID string) (prev string) {
	s.mu.Lock()
	prev = s.active
	s.active = chatID
	s.typing = make(map[string]bool)
	s.mu.Unlock()
	s.changed()
	return prev
}

// ActiveChat returns the room currently on screen, if any.
func (s *Store) ActiveChat() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// ApplyMessage merges a pushed or acknowledged message: the summary is
// always refreshed, the unread counter bumps for rooms not on screen,
// and the visible list grows only for the active room.
func (s *Store) ApplyMessage(msg Message) {
	s.mu.Lock()
	room, ok := s.rooms[msg.ChatID]
	if !ok {
		// Push for a room the snapshot has not delivered yet.
		room = &Room{ID: msg.ChatID}
		s.rooms[msg.ChatID] = room
	}

	room.LastMessage = &MessageSummary{
		Content:    msg.Content,
		SenderName: msg.SenderName,
		Timestamp:  msg.Timestamp,
	}

	if msg.ChatID == s.active {
		s.messages[msg.ChatID] = append(s.messages[msg.ChatID], msg)
	} else if msg.SenderID != s.selfID {
		room.UnreadCount++
	}
	s.mu.Unlock()
	s.changed()
}

// ApplyRead zeroes the unread counter for the acknowledged room and
// grows the readBy list of every message the reader had not yet seen.
func (s *Store) ApplyRead(chatID, readerID string, readAt time.Time) {
	s.mu.Lock()
	if room, ok := s.rooms[chatID]; ok {
		room.UnreadCount = 0
	}
	msgs := s.messages[chatID]
	for i := range msgs {
		if hasRead(msgs[i].ReadBy, readerID) {
			continue
		}
		msgs[i].ReadBy = append(msgs[i].ReadBy, ReadReceipt{UserID: readerID, ReadAt: readAt})
	}
	s.mu.Unlock()
	s.changed()
}

// SetTyping updates the ephemeral typing map. Only the active room is
// tracked; stale pushes for other rooms are dropped.
func (s *Store) SetTyping(chatID, userID string, composing bool) {
	s.mu.Lock()
	if chatID != s.active {
		s.mu.Unlock()
		return
	}
	if composing {
		s.typing[userID] = true
	} else {
		delete(s.typing, userID)
	}
	s.mu.Unlock()
	s.changed()
}

// TypingUsers lists users composing in the active room, sorted.
func (s *Store) TypingUsers() []string {
	s.mu.Lock()
	users := make([]string, 0, len(s.typing))
	for id := range s.typing {
		users = append(users, id)
	}
	s.mu.Unlock()
	sort.Strings(users)
	return users
}

// SetPresence flips the online flag on every participant entry for the
// user. Presence is keyed by user id, not by room.
func (s *Store) SetPresence(userID string, online bool) {
	s.mu.Lock()
	for _, room := range s.rooms {
		for i := range room.Participants {
			if room.Participants[i].UserID == userID {
				room.Participants[i].Online = online
			}
		}
	}
	s.mu.Unlock()
	s.changed()
}

// Rooms returns a copy of the room list, most recent activity first.
func (s *Store) Rooms() []Room {
	s.mu.Lock()
	rooms := make([]Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, copyRoom(r))
	}
	s.mu.Unlock()

	sort.Slice(rooms, func(i, j int) bool {
		ti, tj := summaryTime(rooms[i].LastMessage), summaryTime(rooms[j].LastMessage)
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return rooms[i].ID < rooms[j].ID
	})
	return rooms
}

// Room returns a copy of one room.
func (s *Store) Room(chatID string) (Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[chatID]
	if !ok {
		return Room{}, false
	}
	return copyRoom(r), true
}

// Messages returns the display list for a room. Storage keeps arrival
// order; the copy is re-sorted by timestamp so an out-of-order arrival
// never renders out of sequence. The sort is stable, preserving arrival
// order between equal timestamps.
func (s *Store) Messages(chatID string) []Message {
	s.mu.Lock()
	msgs := make([]Message, len(s.messages[chatID]))
	copy(msgs, s.messages[chatID])
	s.mu.Unlock()

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	return msgs
}

// Unread returns the unread counter for a room.
func (s *Store) Unread(chatID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[chatID]; ok {
		return r.UnreadCount
	}
	return 0
}

func (s *Store) changed() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

func copyRoom(r *Room) Room {
	room := *r
	room.Participants = append([]Participant(nil), r.Participants...)
	if r.LastMessage != nil {
		lm := *r.LastMessage
		room.LastMessage = &lm
	}
	return room
}

func summaryTime(s *MessageSummary) time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.Timestamp
}

func hasRead(receipts []ReadReceipt, userID string) bool {
	for _, r := range receipts {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
