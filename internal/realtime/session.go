package realtime

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/creativecanvas/canvasd/internal/store"
)

// sendBufferSize bounds the per-connection outbound queue. A receiver
// that falls further behind than this starts dropping events rather
// than stalling the senders.
const sendBufferSize = 64

// Session is one live realtime connection. Identity fields are set at
// registration and immutable; room membership (ProjectUUID, Role) is
// owned by the Hub and only read or written under the Hub's lock.
type Session struct {
	ID     string
	UserID uint
	Email  string
	Name   string
	Color  string

	// Guarded by Hub.mu. Empty ProjectUUID means not joined anywhere.
	ProjectUUID string
	Role        store.Role

	// sendMu serializes trySend against close: fan-out snapshots are
	// taken under Hub.mu but delivered after it is released, so a
	// disconnect can land between snapshot and send.
	sendMu sync.Mutex
	closed bool
	send   chan Envelope
}

func newSession(userID uint, email string) *Session {
	return &Session{
		ID:     uuid.NewString(),
		UserID: userID,
		Email:  email,
		Name:   displayName(email),
		Color:  UserColor(userID),
		send:   make(chan Envelope, sendBufferSize),
	}
}

// Outbound is the stream of events queued for this connection. It is
// closed when the session is disconnected.
func (s *Session) Outbound() <-chan Envelope {
	return s.send
}

// trySend queues an event without blocking. Events for a disconnected
// session or a full queue are dropped; presence is re-established on
// the next join, so a slow consumer only loses transient updates.
func (s *Session) trySend(env Envelope) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- env:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

func (s *Session) roomUser() RoomUser {
	return RoomUser{
		UserID: s.UserID,
		Name:   s.Name,
		Email:  s.Email,
		Color:  s.Color,
		Role:   s.Role,
	}
}

func displayName(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}
