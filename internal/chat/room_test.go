package chat

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"
)

// fakeConn records the frames a room hands it.
type fakeConn struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	err    error
	panics bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(frame []byte) error {
	if c.panics {
		panic("send on closed channel")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) payloads(t *testing.T) []Payload {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Payload, 0, len(c.frames))
	for _, frame := range c.frames {
		var p Payload
		if err := json.Unmarshal(frame, &p); err != nil {
			t.Fatalf("frame %q is not a payload: %v", frame, err)
		}
		out = append(out, p)
	}
	return out
}

func newTestRoom(id string) *Room {
	return NewRoom(id, zap.NewNop(), nil)
}

// TestRoomEnterAnnouncesFirstConnectionOnly verifies that two connections of
// the same user produce exactly one user record and one join notice.
func TestRoomEnterAnnouncesFirstConnectionOnly(t *testing.T) {
	room := newTestRoom("lobby")
	tab1 := newFakeConn("tab-1")
	tab2 := newFakeConn("tab-2")

	if _, joined := room.Enter(tab1, "u-alice", "alice"); !joined {
		t.Fatal("first connection did not join the user")
	}
	if _, joined := room.Enter(tab2, "u-alice", "alice"); joined {
		t.Fatal("second connection announced the user again")
	}

	if got := len(room.Users()); got != 1 {
		t.Fatalf("expected 1 user, got %d", got)
	}
	history := room.HistorySnapshot()
	if len(history) != 1 || history[0].Content != "alice has joined the room" {
		t.Fatalf("unexpected history: %+v", history)
	}
}

// TestRoomLeaveAnnouncesLastConnectionOnly verifies that a user stays present
// while any of their connections remain and leaves exactly once.
func TestRoomLeaveAnnouncesLastConnectionOnly(t *testing.T) {
	room := newTestRoom("lobby")
	tab1 := newFakeConn("tab-1")
	tab2 := newFakeConn("tab-2")
	room.Enter(tab1, "u-alice", "alice")
	room.Enter(tab2, "u-alice", "alice")

	if _, left := room.Leave(tab1.ID()); left {
		t.Fatal("closing one of two connections removed the user")
	}
	if got := len(room.Users()); got != 1 {
		t.Fatalf("expected user to remain, got %d users", got)
	}

	user, left := room.Leave(tab2.ID())
	if !left {
		t.Fatal("closing the last connection did not remove the user")
	}
	if user.Nickname != "alice" {
		t.Errorf("expected alice to leave, got %q", user.Nickname)
	}
	if got := len(room.Users()); got != 0 {
		t.Fatalf("expected no users, got %d", got)
	}

	history := room.HistorySnapshot()
	if len(history) != 2 || history[1].Content != "alice has left the room" {
		t.Fatalf("unexpected history: %+v", history)
	}

	if _, left := room.Leave(tab2.ID()); left {
		t.Error("leaving twice announced twice")
	}
}

// TestRoomPresenceIsPerUser verifies that another user's connections do not
// keep a departed user present.
func TestRoomPresenceIsPerUser(t *testing.T) {
	room := newTestRoom("lobby")
	alice := newFakeConn("a")
	bob := newFakeConn("b")
	room.Enter(alice, "u-alice", "alice")
	room.Enter(bob, "u-bob", "bob")

	if _, left := room.Leave(alice.ID()); !left {
		t.Fatal("alice should leave although bob is still connected")
	}

	users := room.Users()
	if len(users) != 1 || users[0].Nickname != "bob" {
		t.Fatalf("unexpected roster: %+v", users)
	}
}

// TestRoomPrimitiveOperations exercises the single-step operations the
// composite Enter and Leave are built from.
func TestRoomPrimitiveOperations(t *testing.T) {
	room := newTestRoom("lobby")
	conn := newFakeConn("c1")

	room.AddConnection(conn, "u1")
	if !room.EnsureUserPresent("u1", "carol") {
		t.Fatal("EnsureUserPresent did not create the user")
	}
	if room.EnsureUserPresent("u1", "carol") {
		t.Fatal("EnsureUserPresent created the user twice")
	}
	if room.RemoveUserIfNoConnections("u1") {
		t.Fatal("user removed while a connection is registered")
	}

	if !room.RemoveConnection("c1") {
		t.Fatal("RemoveConnection did not remove a registered connection")
	}
	if room.RemoveConnection("c1") {
		t.Fatal("RemoveConnection is not idempotent")
	}
	if !room.RemoveUserIfNoConnections("u1") {
		t.Fatal("user not removed after its last connection")
	}
	if room.RemoveUserIfNoConnections("u1") {
		t.Fatal("absent user reported as removed")
	}
	if room.ConnectionCount() != 0 {
		t.Errorf("expected no connections, got %d", room.ConnectionCount())
	}
}

// TestRoomHistoryReplayOrder verifies that a new connection receives the
// existing history in append order and nothing of it live.
func TestRoomHistoryReplayOrder(t *testing.T) {
	room := newTestRoom("lobby")
	for i := 0; i < 5; i++ {
		room.AppendMessage(NewUserMessage(room.ID(), "alice", fmt.Sprintf("m%d", i)))
	}

	late := newFakeConn("late")
	history, _ := room.Enter(late, "u-bob", "bob")

	if len(history) != 5 {
		t.Fatalf("expected 5 history entries, got %d", len(history))
	}
	for i, msg := range history {
		if want := fmt.Sprintf("m%d", i); msg.Content != want {
			t.Errorf("history[%d] = %q, want %q", i, msg.Content, want)
		}
	}

	live := late.payloads(t)
	if len(live) != 1 || live[0].Content != "bob has joined the room" {
		t.Fatalf("expected only the join notice live, got %+v", live)
	}
}

// TestRoomHistorySnapshotIsACopy verifies that appends after a snapshot do
// not alter it.
func TestRoomHistorySnapshotIsACopy(t *testing.T) {
	room := newTestRoom("lobby")
	room.AppendMessage(NewSystemMessage(room.ID(), "first"))

	snapshot := room.HistorySnapshot()
	room.AppendMessage(NewSystemMessage(room.ID(), "second"))

	if len(snapshot) != 1 {
		t.Fatalf("snapshot changed length to %d", len(snapshot))
	}
	if room.MessageCount() != 2 {
		t.Fatalf("expected 2 messages, got %d", room.MessageCount())
	}
}

// TestRoomBroadcastSurvivesFailingConnections verifies that a connection that
// errors or panics does not keep the others from receiving a frame.
func TestRoomBroadcastSurvivesFailingConnections(t *testing.T) {
	room := newTestRoom("lobby")
	healthy := []*fakeConn{newFakeConn("h1"), newFakeConn("h2"), newFakeConn("h3")}
	full := newFakeConn("full")
	full.err = ErrSendBufferFull
	broken := newFakeConn("broken")
	broken.panics = true

	for _, c := range healthy {
		room.AddConnection(c, "u-"+c.id)
	}
	room.AddConnection(full, "u-full")
	room.AddConnection(broken, "u-broken")

	delivered := room.Broadcast([]byte(`{"type":"system","content":"ping"}`))
	if delivered != len(healthy) {
		t.Errorf("expected %d deliveries, got %d", len(healthy), delivered)
	}
	for _, c := range healthy {
		if got := len(c.payloads(t)); got != 1 {
			t.Errorf("connection %s received %d frames, want 1", c.id, got)
		}
	}
}

// TestRoomPostOrdering verifies that concurrent posts reach every connection
// in the same order they were appended to history.
func TestRoomPostOrdering(t *testing.T) {
	room := newTestRoom("lobby")
	watchers := []*fakeConn{newFakeConn("w1"), newFakeConn("w2")}
	for _, w := range watchers {
		room.AddConnection(w, "u-"+w.id)
	}

	const senders, perSender = 8, 25
	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				msg := NewUserMessage(room.ID(), fmt.Sprintf("s%d", s), fmt.Sprintf("%d-%d", s, i))
				if err := room.Post(msg); err != nil {
					t.Errorf("post: %v", err)
				}
			}
		}(s)
	}
	wg.Wait()

	history := room.HistorySnapshot()
	if len(history) != senders*perSender {
		t.Fatalf("expected %d messages, got %d", senders*perSender, len(history))
	}
	for _, w := range watchers {
		received := w.payloads(t)
		if len(received) != len(history) {
			t.Fatalf("%s received %d frames, want %d", w.id, len(received), len(history))
		}
		for i := range history {
			if received[i].ID != history[i].ID {
				t.Fatalf("%s frame %d is %s, history has %s", w.id, i, received[i].ID, history[i].ID)
			}
		}
	}
}

// TestRoomConcurrentEnterLeave verifies that racing opens and closes for one
// user leave the room consistent: present iff a connection remains.
func TestRoomConcurrentEnterLeave(t *testing.T) {
	room := newTestRoom("lobby")
	keeper := newFakeConn("keeper")
	room.Enter(keeper, "u-alice", "alice")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := newFakeConn(fmt.Sprintf("tab-%d", i))
			room.Enter(c, "u-alice", "alice")
			room.Leave(c.ID())
		}(i)
	}
	wg.Wait()

	if got := len(room.Users()); got != 1 {
		t.Fatalf("expected alice present, got %d users", got)
	}
	joins := 0
	for _, msg := range room.HistorySnapshot() {
		if msg.Kind == KindSystem {
			joins++
		}
	}
	if joins != 1 {
		t.Errorf("expected a single join notice, got %d system messages", joins)
	}

	if _, left := room.Leave(keeper.ID()); !left {
		t.Fatal("last connection did not remove the user")
	}
}
