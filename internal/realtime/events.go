package realtime

import (
	"encoding/json"

	"github.com/creativecanvas/canvasd/internal/store"
)

// Event names. These are the wire compatibility surface for realtime
// clients and must remain stable.
const (
	// Client -> server
	EventJoinProject  = "join_project"
	EventLeaveProject = "leave_project"
	EventCanvasUpdate = "canvas_update"
	EventCursorMove   = "cursor_move"

	// Server -> client
	EventUserJoined   = "user_joined"
	EventCurrentUsers = "current_users"
	EventUserLeft     = "user_left"
	EventError        = "error"
)

// Envelope frames every realtime message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an Envelope. Marshal failures are
// programmer errors on our own payload types.
func NewEnvelope(event string, data any) Envelope {
	raw, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	return Envelope{Event: event, Data: raw}
}

// JoinRequest is the payload of join_project and leave_project.
type JoinRequest struct {
	ProjectUUID string `json:"projectUuid"`
}

// RelayRequest is the payload of canvas_update and cursor_move: a target
// room plus an opaque data blob that is relayed verbatim (canvas) or
// enriched with the sender identity (cursor).
type RelayRequest struct {
	ProjectUUID string          `json:"projectUuid"`
	Data        json.RawMessage `json:"data"`
}

// RoomUser is the public identity of a room member.
type RoomUser struct {
	UserID uint       `json:"userId"`
	Name   string     `json:"name"`
	Email  string     `json:"email"`
	Color  string     `json:"color"`
	Role   store.Role `json:"role"`
}

// CurrentUsersEvent lists every other member of the joined room.
type CurrentUsersEvent struct {
	Users []RoomUser `json:"users"`
}

// UserLeftEvent announces a departure to the remaining members.
type UserLeftEvent struct {
	UserID uint   `json:"userId"`
	Name   string `json:"name"`
}

// ErrorEvent is delivered best-effort to the offending connection only.
type ErrorEvent struct {
	Message string `json:"message"`
}

// colorPalette is the fixed palette users are hashed into. The same user
// always renders the same color across reconnects.
var colorPalette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#FFA07A", "#98D8C8",
	"#F7DC6F", "#BB8FCE", "#85C1E2", "#F8B195", "#C06C84",
}

// UserColor returns the deterministic color for a user id.
func UserColor(userID uint) string {
	return colorPalette[int(userID)%len(colorPalette)]
}
