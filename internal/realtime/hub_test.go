package realtime

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"

	"github.com/creativecanvas/canvasd/internal/permissions"
	"github.com/creativecanvas/canvasd/internal/store"
	"github.com/creativecanvas/canvasd/internal/store/testutil"

	_ "github.com/creativecanvas/canvasd/internal/store/sqlite"
)

func newTestHub(t *testing.T) (*Hub, store.Store) {
	t.Helper()
	st := testutil.NewStore(t, "sqlite")
	return NewHub(permissions.NewResolver(st), nil), st
}

// nextEvent pops one queued event without blocking. Fan-out happens on
// the caller's goroutine, so events are queued before hub calls return.
func nextEvent(t *testing.T, s *Session) (Envelope, bool) {
	t.Helper()
	select {
	case env, ok := <-s.Outbound():
		return env, ok
	default:
		return Envelope{}, false
	}
}

func expectEvent(t *testing.T, s *Session, event string) Envelope {
	t.Helper()
	env, ok := nextEvent(t, s)
	if !ok {
		t.Fatalf("expected %s event, queue was empty", event)
	}
	if env.Event != event {
		t.Fatalf("expected %s event, got %s (%s)", event, env.Event, env.Data)
	}
	return env
}

func expectNoEvent(t *testing.T, s *Session) {
	t.Helper()
	if env, ok := nextEvent(t, s); ok {
		t.Fatalf("expected no event, got %s (%s)", env.Event, env.Data)
	}
}

func TestJoinDeniedLeavesNoMembership(t *testing.T) {
	hub, st := newTestHub(t)
	ctx := context.Background()

	owner := testutil.SeedUser(t, st, "owner@example.com")
	stranger := testutil.SeedUser(t, st, "stranger@example.com")
	project := testutil.SeedProject(t, st, "proj-denied", owner.ID)

	s := hub.Register(stranger.ID, stranger.Email)
	hub.Join(ctx, s, project.UUID)

	env := expectEvent(t, s, EventError)
	var ev ErrorEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		t.Fatalf("failed to decode error event: %v", err)
	}
	if ev.Message == "" {
		t.Fatal("expected a non-empty error message")
	}
	if got := hub.RoomUserIDs(project.UUID); len(got) != 0 {
		t.Fatalf("expected empty room after denied join, got %v", got)
	}
}

func TestJoinUnknownProjectDenied(t *testing.T) {
	hub, st := newTestHub(t)

	user := testutil.SeedUser(t, st, "user@example.com")
	s := hub.Register(user.ID, user.Email)
	hub.Join(context.Background(), s, "no-such-project")

	expectEvent(t, s, EventError)
	if got := hub.RoomUserIDs("no-such-project"); len(got) != 0 {
		t.Fatalf("expected empty room, got %v", got)
	}
}

func TestJoinPresenceEvents(t *testing.T) {
	hub, st := newTestHub(t)
	ctx := context.Background()

	owner := testutil.SeedUser(t, st, "owner@example.com")
	editor := testutil.SeedUser(t, st, "editor@example.com")
	project := testutil.SeedProject(t, st, "proj-presence", owner.ID)
	testutil.SeedShare(t, st, project.ID, editor.ID, store.RoleEditor, owner.ID)

	ownerSess := hub.Register(owner.ID, owner.Email)
	hub.Join(ctx, ownerSess, project.UUID)
	// First member of an empty room gets no snapshot.
	expectNoEvent(t, ownerSess)

	editorSess := hub.Register(editor.ID, editor.Email)
	hub.Join(ctx, editorSess, project.UUID)

	env := expectEvent(t, ownerSess, EventUserJoined)
	var joined RoomUser
	if err := json.Unmarshal(env.Data, &joined); err != nil {
		t.Fatalf("failed to decode user_joined: %v", err)
	}
	if joined.UserID != editor.ID {
		t.Fatalf("expected user_joined for user %d, got %d", editor.ID, joined.UserID)
	}
	if joined.Role != store.RoleEditor {
		t.Fatalf("expected role %s, got %s", store.RoleEditor, joined.Role)
	}
	if joined.Name != "editor" {
		t.Fatalf("expected name derived from email local part, got %q", joined.Name)
	}
	if joined.Color != UserColor(editor.ID) {
		t.Fatalf("expected deterministic color %s, got %s", UserColor(editor.ID), joined.Color)
	}

	env = expectEvent(t, editorSess, EventCurrentUsers)
	var snapshot CurrentUsersEvent
	if err := json.Unmarshal(env.Data, &snapshot); err != nil {
		t.Fatalf("failed to decode current_users: %v", err)
	}
	if len(snapshot.Users) != 1 || snapshot.Users[0].UserID != owner.ID {
		t.Fatalf("expected snapshot with owner only, got %+v", snapshot.Users)
	}
	if snapshot.Users[0].Role != store.RoleOwner {
		t.Fatalf("expected owner role in snapshot, got %s", snapshot.Users[0].Role)
	}
}

func TestJoinSwitchesRoom(t *testing.T) {
	hub, st := newTestHub(t)
	ctx := context.Background()

	owner := testutil.SeedUser(t, st, "owner@example.com")
	peer := testutil.SeedUser(t, st, "peer@example.com")
	first := testutil.SeedProject(t, st, "proj-first", owner.ID)
	second := testutil.SeedProject(t, st, "proj-second", owner.ID)
	testutil.SeedShare(t, st, first.ID, peer.ID, store.RoleViewer, owner.ID)

	peerSess := hub.Register(peer.ID, peer.Email)
	hub.Join(ctx, peerSess, first.UUID)

	ownerSess := hub.Register(owner.ID, owner.Email)
	hub.Join(ctx, ownerSess, first.UUID)
	expectEvent(t, peerSess, EventUserJoined)
	expectEvent(t, ownerSess, EventCurrentUsers)

	hub.Join(ctx, ownerSess, second.UUID)

	env := expectEvent(t, peerSess, EventUserLeft)
	var left UserLeftEvent
	if err := json.Unmarshal(env.Data, &left); err != nil {
		t.Fatalf("failed to decode user_left: %v", err)
	}
	if left.UserID != owner.ID {
		t.Fatalf("expected user_left for user %d, got %d", owner.ID, left.UserID)
	}

	if got := hub.RoomUserIDs(first.UUID); len(got) != 1 || got[0] != peer.ID {
		t.Fatalf("expected only peer in first room, got %v", got)
	}
	if got := hub.RoomUserIDs(second.UUID); len(got) != 1 || got[0] != owner.ID {
		t.Fatalf("expected only owner in second room, got %v", got)
	}
}

func TestCanvasUpdateRoleGate(t *testing.T) {
	hub, st := newTestHub(t)
	ctx := context.Background()

	owner := testutil.SeedUser(t, st, "owner@example.com")
	viewer := testutil.SeedUser(t, st, "viewer@example.com")
	project := testutil.SeedProject(t, st, "proj-gate", owner.ID)
	testutil.SeedShare(t, st, project.ID, viewer.ID, store.RoleViewer, owner.ID)

	ownerSess := hub.Register(owner.ID, owner.Email)
	viewerSess := hub.Register(viewer.ID, viewer.Email)
	hub.Join(ctx, ownerSess, project.UUID)
	hub.Join(ctx, viewerSess, project.UUID)
	expectEvent(t, ownerSess, EventUserJoined)
	expectEvent(t, viewerSess, EventCurrentUsers)

	state := json.RawMessage(`{"objects":[{"type":"rect"}]}`)

	// Viewer emission is rejected and nothing reaches the owner.
	hub.CanvasUpdate(viewerSess, project.UUID, state)
	expectEvent(t, viewerSess, EventError)
	expectNoEvent(t, ownerSess)

	// Owner emission reaches the viewer verbatim, not the sender.
	hub.CanvasUpdate(ownerSess, project.UUID, state)
	env := expectEvent(t, viewerSess, EventCanvasUpdate)
	if string(env.Data) != string(state) {
		t.Fatalf("expected canvas payload relayed verbatim, got %s", env.Data)
	}
	expectNoEvent(t, ownerSess)
}

func TestCanvasUpdateRequiresJoin(t *testing.T) {
	hub, st := newTestHub(t)

	owner := testutil.SeedUser(t, st, "owner@example.com")
	project := testutil.SeedProject(t, st, "proj-nojoin", owner.ID)

	s := hub.Register(owner.ID, owner.Email)
	hub.CanvasUpdate(s, project.UUID, json.RawMessage(`{}`))
	expectEvent(t, s, EventError)
}

func TestCursorMoveEnrichment(t *testing.T) {
	hub, st := newTestHub(t)
	ctx := context.Background()

	owner := testutil.SeedUser(t, st, "owner@example.com")
	editor := testutil.SeedUser(t, st, "editor@example.com")
	project := testutil.SeedProject(t, st, "proj-cursor", owner.ID)
	testutil.SeedShare(t, st, project.ID, editor.ID, store.RoleEditor, owner.ID)

	ownerSess := hub.Register(owner.ID, owner.Email)
	editorSess := hub.Register(editor.ID, editor.Email)
	hub.Join(ctx, ownerSess, project.UUID)
	hub.Join(ctx, editorSess, project.UUID)
	expectEvent(t, ownerSess, EventUserJoined)
	expectEvent(t, editorSess, EventCurrentUsers)

	// Client-supplied identity fields must be overwritten, not trusted.
	hub.CursorMove(editorSess, project.UUID, json.RawMessage(`{"x":10,"y":20,"userId":"999","name":"spoof"}`))

	env := expectEvent(t, ownerSess, EventCursorMove)
	var payload map[string]any
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("failed to decode cursor payload: %v", err)
	}
	if payload["x"] != float64(10) || payload["y"] != float64(20) {
		t.Fatalf("expected coordinates preserved, got %v", payload)
	}
	// Identity is stamped server side; userId travels as a string.
	if got, ok := payload["userId"].(string); !ok || got != strconv.FormatUint(uint64(editor.ID), 10) {
		t.Fatalf("expected sender userId, got %v", payload["userId"])
	}
	if payload["name"] != "editor" {
		t.Fatalf("expected sender name, got %v", payload["name"])
	}
	if payload["email"] != "editor@example.com" {
		t.Fatalf("expected sender email, got %v", payload["email"])
	}
	if payload["color"] != UserColor(editor.ID) {
		t.Fatalf("expected sender color, got %v", payload["color"])
	}
	if payload["role"] != string(store.RoleEditor) {
		t.Fatalf("expected sender role, got %v", payload["role"])
	}
	expectNoEvent(t, editorSess)
}

func TestCursorMoveDroppedWhenNotJoined(t *testing.T) {
	hub, st := newTestHub(t)

	owner := testutil.SeedUser(t, st, "owner@example.com")
	project := testutil.SeedProject(t, st, "proj-drop", owner.ID)

	s := hub.Register(owner.ID, owner.Email)
	hub.CursorMove(s, project.UUID, json.RawMessage(`{"x":1}`))
	expectNoEvent(t, s)
}

func TestLeaveAndDisconnect(t *testing.T) {
	hub, st := newTestHub(t)
	ctx := context.Background()

	owner := testutil.SeedUser(t, st, "owner@example.com")
	editor := testutil.SeedUser(t, st, "editor@example.com")
	project := testutil.SeedProject(t, st, "proj-leave", owner.ID)
	testutil.SeedShare(t, st, project.ID, editor.ID, store.RoleEditor, owner.ID)

	ownerSess := hub.Register(owner.ID, owner.Email)
	editorSess := hub.Register(editor.ID, editor.Email)
	hub.Join(ctx, ownerSess, project.UUID)
	hub.Join(ctx, editorSess, project.UUID)
	expectEvent(t, ownerSess, EventUserJoined)
	expectEvent(t, editorSess, EventCurrentUsers)

	hub.Leave(editorSess, project.UUID)
	expectEvent(t, ownerSess, EventUserLeft)

	// Leaving again is a no-op.
	hub.Leave(editorSess, project.UUID)
	expectNoEvent(t, ownerSess)

	if got := hub.RoomUserIDs(project.UUID); len(got) != 1 || got[0] != owner.ID {
		t.Fatalf("expected only owner left in room, got %v", got)
	}

	hub.Disconnect(ownerSess)
	if got := hub.RoomUserIDs(project.UUID); len(got) != 0 {
		t.Fatalf("expected empty room after disconnect, got %v", got)
	}
	if _, ok := <-ownerSess.Outbound(); ok {
		t.Fatal("expected outbound channel closed after disconnect")
	}

	// Disconnect is idempotent.
	hub.Disconnect(ownerSess)
	hub.Disconnect(editorSess)
}

func TestDisconnectAnnouncesDeparture(t *testing.T) {
	hub, st := newTestHub(t)
	ctx := context.Background()

	owner := testutil.SeedUser(t, st, "owner@example.com")
	editor := testutil.SeedUser(t, st, "editor@example.com")
	project := testutil.SeedProject(t, st, "proj-dc", owner.ID)
	testutil.SeedShare(t, st, project.ID, editor.ID, store.RoleEditor, owner.ID)

	ownerSess := hub.Register(owner.ID, owner.Email)
	editorSess := hub.Register(editor.ID, editor.Email)
	hub.Join(ctx, ownerSess, project.UUID)
	hub.Join(ctx, editorSess, project.UUID)
	expectEvent(t, ownerSess, EventUserJoined)
	expectEvent(t, editorSess, EventCurrentUsers)

	hub.Disconnect(editorSess)
	env := expectEvent(t, ownerSess, EventUserLeft)
	var left UserLeftEvent
	if err := json.Unmarshal(env.Data, &left); err != nil {
		t.Fatalf("failed to decode user_left: %v", err)
	}
	if left.UserID != editor.ID {
		t.Fatalf("expected user_left for user %d, got %d", editor.ID, left.UserID)
	}
}

func TestBroadcastRacingDisconnect(t *testing.T) {
	hub, st := newTestHub(t)
	ctx := context.Background()

	owner := testutil.SeedUser(t, st, "owner@example.com")
	editor := testutil.SeedUser(t, st, "editor@example.com")
	project := testutil.SeedProject(t, st, "proj-churn", owner.ID)
	testutil.SeedShare(t, st, project.ID, editor.ID, store.RoleEditor, owner.ID)

	ownerSess := hub.Register(owner.ID, owner.Email)
	hub.Join(ctx, ownerSess, project.UUID)

	// Broadcasters fan out to a membership snapshot taken before they
	// deliver; receivers churn so snapshots go stale mid-flight. A
	// send must never reach a closed outbound channel.
	state := json.RawMessage(`{"objects":[]}`)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					hub.CanvasUpdate(ownerSess, project.UUID, state)
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		s := hub.Register(editor.ID, editor.Email)
		hub.Join(ctx, s, project.UUID)
		hub.Disconnect(s)
	}
	close(stop)
	wg.Wait()

	if got := hub.RoomUserIDs(project.UUID); len(got) != 1 || got[0] != owner.ID {
		t.Fatalf("expected only the owner left in the room, got %v", got)
	}
}

func TestConcurrentJoinsSeeEachOtherOnce(t *testing.T) {
	hub, st := newTestHub(t)
	ctx := context.Background()

	owner := testutil.SeedUser(t, st, "owner@example.com")
	editor := testutil.SeedUser(t, st, "editor@example.com")
	project := testutil.SeedProject(t, st, "proj-race", owner.ID)
	testutil.SeedShare(t, st, project.ID, editor.ID, store.RoleEditor, owner.ID)

	ownerSess := hub.Register(owner.ID, owner.Email)
	editorSess := hub.Register(editor.ID, editor.Email)

	var wg sync.WaitGroup
	for _, s := range []*Session{ownerSess, editorSess} {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			hub.Join(ctx, s, project.UUID)
		}(s)
	}
	wg.Wait()

	if got := hub.RoomUserIDs(project.UUID); len(got) != 2 {
		t.Fatalf("expected both users in the room, got %v", got)
	}

	// Regardless of interleaving, each session learns of the other
	// exactly once, through either the snapshot or a join event.
	sightings := func(s *Session, otherID uint) int {
		count := 0
		for {
			env, ok := nextEvent(t, s)
			if !ok {
				return count
			}
			switch env.Event {
			case EventUserJoined:
				var u RoomUser
				if err := json.Unmarshal(env.Data, &u); err != nil {
					t.Fatalf("failed to decode user_joined: %v", err)
				}
				if u.UserID == otherID {
					count++
				}
			case EventCurrentUsers:
				var snap CurrentUsersEvent
				if err := json.Unmarshal(env.Data, &snap); err != nil {
					t.Fatalf("failed to decode current_users: %v", err)
				}
				for _, u := range snap.Users {
					if u.UserID == otherID {
						count++
					}
				}
			default:
				t.Fatalf("unexpected event %s during join race", env.Event)
			}
		}
	}
	if got := sightings(ownerSess, editor.ID); got != 1 {
		t.Fatalf("owner saw editor %d times, expected exactly once", got)
	}
	if got := sightings(editorSess, owner.ID); got != 1 {
		t.Fatalf("editor saw owner %d times, expected exactly once", got)
	}
}
