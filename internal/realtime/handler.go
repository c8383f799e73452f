package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/creativecanvas/canvasd/internal/auth"
	"github.com/creativecanvas/canvasd/internal/platform/logutil"
)

// Handler upgrades authenticated HTTP requests to websocket sessions
// and pumps messages between the connection and the hub.
type Handler struct {
	hub      Broker
	issuer   *auth.Issuer
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewHandler(hub Broker, issuer *auth.Issuer, log *slog.Logger) *Handler {
	return &Handler{
		hub:    hub,
		issuer: issuer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: logutil.NoopIfNil(log),
	}
}

// ServeHTTP authenticates the connection before upgrading. Browsers
// cannot set headers on websocket requests, so the access token is
// accepted from the token query parameter as well as the usual
// Authorization header. Unauthenticated connections are refused
// outright, not admitted and then errored.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		tokenString = auth.BearerToken(r)
	}
	claims, err := h.issuer.Verify(tokenString, auth.TokenTypeAccess)
	if err != nil {
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	session := h.hub.Register(claims.UserID, claims.Subject)
	go h.writeLoop(conn, session)
	h.readLoop(r, conn, session)
}

// readLoop consumes client frames until the connection drops, then
// tears the session down. It runs on the request goroutine.
func (h *Handler) readLoop(r *http.Request, conn *websocket.Conn, session *Session) {
	defer func() {
		h.hub.Disconnect(session)
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("websocket read failed", "conn_id", session.ID, "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			sendError(session, "malformed message")
			continue
		}
		h.dispatch(r, session, env)
	}
}

func (h *Handler) dispatch(r *http.Request, session *Session, env Envelope) {
	switch env.Event {
	case EventJoinProject:
		var req JoinRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			sendError(session, "malformed message")
			return
		}
		h.hub.Join(r.Context(), session, req.ProjectUUID)
	case EventLeaveProject:
		var req JoinRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			sendError(session, "malformed message")
			return
		}
		h.hub.Leave(session, req.ProjectUUID)
	case EventCanvasUpdate:
		var req RelayRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			sendError(session, "malformed message")
			return
		}
		h.hub.CanvasUpdate(session, req.ProjectUUID, req.Data)
	case EventCursorMove:
		var req RelayRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return
		}
		h.hub.CursorMove(session, req.ProjectUUID, req.Data)
	default:
		sendError(session, "unknown event")
	}
}

// writeLoop serializes all writes for the connection. It exits when the
// session's outbound channel is closed by Disconnect.
func (h *Handler) writeLoop(conn *websocket.Conn, session *Session) {
	for env := range session.Outbound() {
		if err := conn.WriteJSON(env); err != nil {
			h.log.Debug("websocket write failed", "conn_id", session.ID, "error", err)
			break
		}
	}
	conn.Close()
}
