package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"

	"github.com/creativecanvas/canvasd/internal/permissions"
	"github.com/creativecanvas/canvasd/internal/platform/logutil"
	"github.com/creativecanvas/canvasd/internal/store"
)

// Broker is the room-membership and fan-out surface the websocket
// handler drives. Hub is the single-process implementation; rooms
// assume process affinity, so a multi-instance deployment would swap
// in a broker backed by a shared registry.
type Broker interface {
	Register(userID uint, email string) *Session
	Join(ctx context.Context, s *Session, projectUUID string)
	Leave(s *Session, projectUUID string)
	CanvasUpdate(s *Session, projectUUID string, data json.RawMessage)
	CursorMove(s *Session, projectUUID string, data json.RawMessage)
	Disconnect(s *Session)
}

// Hub tracks every live session and fans events out to per-project
// rooms. All membership state lives behind a single mutex; permission
// resolution and event delivery happen outside it, so a slow store or
// receiver never blocks other connections.
type Hub struct {
	resolver *permissions.Resolver
	log      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session            // conn id -> session
	rooms    map[string]map[string]*Session // project uuid -> conn id -> session
}

func NewHub(resolver *permissions.Resolver, log *slog.Logger) *Hub {
	return &Hub{
		resolver: resolver,
		log:      logutil.NoopIfNil(log),
		sessions: make(map[string]*Session),
		rooms:    make(map[string]map[string]*Session),
	}
}

// Register creates a session for an authenticated connection and makes
// it eligible for room membership. The caller owns draining
// session.Outbound until it is closed by Disconnect.
func (h *Hub) Register(userID uint, email string) *Session {
	s := newSession(userID, email)
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()
	h.log.Debug("session registered", "conn_id", s.ID, "user_id", userID)
	return s
}

// Join places the session in a project room after resolving the
// caller's role. A session holds at most one room: joining while joined
// elsewhere leaves the old room first. The resolved role is cached on
// the session for the lifetime of the membership.
func (h *Hub) Join(ctx context.Context, s *Session, projectUUID string) {
	if projectUUID == "" {
		sendError(s, "project id is required")
		return
	}

	role, err := h.resolver.ResolveRole(ctx, projectUUID, s.UserID)
	if err != nil {
		h.log.Error("join permission check failed", "project", projectUUID, "user_id", s.UserID, "error", err)
		sendError(s, "permission check failed")
		return
	}
	if role == store.RoleNone {
		sendError(s, "You do not have permission to access this project")
		return
	}

	h.mu.Lock()
	if _, ok := h.sessions[s.ID]; !ok {
		// Disconnected while the role lookup was in flight.
		h.mu.Unlock()
		return
	}
	var departed []*Session
	var oldRoom string
	if s.ProjectUUID != "" && s.ProjectUUID != projectUUID {
		oldRoom = s.ProjectUUID
		departed = h.removeLocked(s)
	}
	s.ProjectUUID = projectUUID
	s.Role = role
	room := h.rooms[projectUUID]
	if room == nil {
		room = make(map[string]*Session)
		h.rooms[projectUUID] = room
	}
	others := make([]*Session, 0, len(room))
	for id, member := range room {
		if id != s.ID {
			others = append(others, member)
		}
	}
	room[s.ID] = s
	h.mu.Unlock()

	if oldRoom != "" {
		h.announceLeft(s, departed)
		h.log.Debug("session switched room", "conn_id", s.ID, "from", oldRoom, "to", projectUUID)
	}

	joined := NewEnvelope(EventUserJoined, s.roomUser())
	users := make([]RoomUser, 0, len(others))
	for _, member := range others {
		member.trySend(joined)
		users = append(users, member.roomUser())
	}
	if len(users) > 0 {
		s.trySend(NewEnvelope(EventCurrentUsers, CurrentUsersEvent{Users: users}))
	}
	h.log.Info("user joined project", "project", projectUUID, "user_id", s.UserID, "role", role)
}

// Leave removes the session from the named room and announces the
// departure. Leaving a room the session is not in is a no-op.
func (h *Hub) Leave(s *Session, projectUUID string) {
	h.mu.Lock()
	if s.ProjectUUID != projectUUID || projectUUID == "" {
		h.mu.Unlock()
		return
	}
	remaining := h.removeLocked(s)
	h.mu.Unlock()

	h.announceLeft(s, remaining)
	h.log.Info("user left project", "project", projectUUID, "user_id", s.UserID)
}

// CanvasUpdate relays a canvas state change to every other member of
// the room. Only owners and editors may emit; a denied or misdirected
// update produces an error event on the sending connection alone.
func (h *Hub) CanvasUpdate(s *Session, projectUUID string, data json.RawMessage) {
	h.mu.Lock()
	if s.ProjectUUID != projectUUID || projectUUID == "" {
		h.mu.Unlock()
		sendError(s, "not joined to this project")
		return
	}
	if s.Role != store.RoleOwner && s.Role != store.RoleEditor {
		h.mu.Unlock()
		sendError(s, "You do not have permission to edit this project")
		return
	}
	others := h.othersLocked(s)
	h.mu.Unlock()

	env := Envelope{Event: EventCanvasUpdate, Data: data}
	for _, member := range others {
		member.trySend(env)
	}
}

// CursorMove relays a cursor position to the rest of the room, stamped
// with the sender's identity. Moves from sessions not in the room are
// dropped without feedback; cursors are too frequent to argue about.
func (h *Hub) CursorMove(s *Session, projectUUID string, data json.RawMessage) {
	h.mu.Lock()
	if s.ProjectUUID != projectUUID || projectUUID == "" {
		h.mu.Unlock()
		return
	}
	role := s.Role
	others := h.othersLocked(s)
	h.mu.Unlock()

	payload := make(map[string]any)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return
		}
	}
	// Identity fields come from the session, never from the client.
	payload["userId"] = strconv.FormatUint(uint64(s.UserID), 10)
	payload["name"] = s.Name
	payload["email"] = s.Email
	payload["color"] = s.Color
	payload["role"] = role

	env := NewEnvelope(EventCursorMove, payload)
	for _, member := range others {
		member.trySend(env)
	}
}

// Disconnect tears the session down: it leaves its room, is removed
// from the registry, and its outbound channel is closed. Safe to call
// more than once.
func (h *Hub) Disconnect(s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s.ID)
	var remaining []*Session
	room := s.ProjectUUID
	if room != "" {
		remaining = h.removeLocked(s)
	}
	h.mu.Unlock()

	if room != "" {
		h.announceLeft(s, remaining)
	}
	s.close()
	h.log.Debug("session disconnected", "conn_id", s.ID, "user_id", s.UserID)
}

// RoomUserIDs reports the user ids currently joined to a room.
func (h *Hub) RoomUserIDs(projectUUID string) []uint {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[projectUUID]
	ids := make([]uint, 0, len(room))
	for _, member := range room {
		ids = append(ids, member.UserID)
	}
	return ids
}

// removeLocked drops s from its current room and returns the remaining
// members. Callers must hold h.mu.
func (h *Hub) removeLocked(s *Session) []*Session {
	room := h.rooms[s.ProjectUUID]
	delete(room, s.ID)
	remaining := make([]*Session, 0, len(room))
	for _, member := range room {
		remaining = append(remaining, member)
	}
	if len(room) == 0 {
		delete(h.rooms, s.ProjectUUID)
	}
	s.ProjectUUID = ""
	s.Role = store.RoleNone
	return remaining
}

// othersLocked returns every member of s's room except s. Callers must
// hold h.mu.
func (h *Hub) othersLocked(s *Session) []*Session {
	room := h.rooms[s.ProjectUUID]
	others := make([]*Session, 0, len(room))
	for id, member := range room {
		if id != s.ID {
			others = append(others, member)
		}
	}
	return others
}

func (h *Hub) announceLeft(s *Session, to []*Session) {
	if len(to) == 0 {
		return
	}
	env := NewEnvelope(EventUserLeft, UserLeftEvent{UserID: s.UserID, Name: s.Name})
	for _, member := range to {
		member.trySend(env)
	}
}

func sendError(s *Session, message string) {
	s.trySend(NewEnvelope(EventError, ErrorEvent{Message: message}))
}
