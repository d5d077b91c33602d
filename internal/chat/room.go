package chat

import (
	"cmp"
	"slices"
	"sync"

	"github.com/Tyrowin/roomchat/internal/metrics"
	"go.uber.org/zap"
)

// Conn is a live outbound channel to one client.
//
// Send must not block: it either queues the frame or returns an error. Rooms
// call Send while holding their lock.
type Conn interface {
	ID() string
	Send(frame []byte) error
}

// User is a participant present in a room.
type User struct {
	ID       string
	Nickname string
	RoomID   string
}

type connEntry struct {
	conn   Conn
	userID string
}

// Room holds the users, history and live connections of one room.
//
// A single RWMutex guards all three collections. Snapshots take the read
// lock; every mutation, and every broadcast tied to an append, takes the
// write lock so that fan-out order matches history order.
type Room struct {
	id      string
	logger  *zap.Logger
	metrics *metrics.Collectors

	mu       sync.RWMutex
	users    map[string]User
	messages []Message
	conns    map[string]connEntry
}

// NewRoom returns an empty room.
func NewRoom(id string, logger *zap.Logger, m *metrics.Collectors) *Room {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Room{
		id:      id,
		logger:  logger.With(zap.String("room", id)),
		metrics: m,
		users:   make(map[string]User),
		conns:   make(map[string]connEntry),
	}
}

// ID returns the room identifier.
func (r *Room) ID() string {
	return r.id
}

// AddConnection registers conn as owned by userID. Re-adding a registered
// connection id replaces its owner.
func (r *Room) AddConnection(conn Conn, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addConnectionLocked(conn, userID)
}

// RemoveConnection deregisters a connection. Removing an unknown id is a
// no-op; the result reports whether anything was removed.
func (r *Room) RemoveConnection(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.removeConnectionLocked(connID)
	return ok
}

// EnsureUserPresent inserts the user if absent and reports whether this call
// created it.
func (r *Room) EnsureUserPresent(userID, nickname string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureUserLocked(userID, nickname)
}

// RemoveUserIfNoConnections removes the user when no registered connection is
// tagged with userID, and reports whether it did.
func (r *Room) RemoveUserIfNoConnections(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.removeUserIfIdleLocked(userID)
	return ok
}

// AppendMessage adds msg to the end of the history.
func (r *Room) AppendMessage(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendLocked(msg)
}

// Broadcast hands frame to every registered connection and returns how many
// accepted it. A failing connection is logged and skipped.
func (r *Room) Broadcast(frame []byte) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.broadcastLocked(frame)
}

// HistorySnapshot returns a copy of the history in append order.
func (r *Room) HistorySnapshot() []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.messages)
}

// Post appends msg and broadcasts it in one critical section.
func (r *Room) Post(msg Message) error {
	frame, err := msg.Frame()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendLocked(msg)
	r.broadcastLocked(frame)
	return nil
}

// Enter registers conn for the given user and returns the history that
// preceded it. When conn is the user's first connection the user is added and
// a join notice is appended and broadcast to the whole room, conn included.
func (r *Room) Enter(conn Conn, userID, nickname string) (history []Message, joined bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.addConnectionLocked(conn, userID)
	history = slices.Clone(r.messages)

	if !r.ensureUserLocked(userID, nickname) {
		return history, false
	}
	r.announceLocked(JoinNotice(nickname))
	return history, true
}

// Leave deregisters a connection. If it was the last connection of its user,
// the user is removed, a leave notice is appended and broadcast, and the
// removed user is returned.
func (r *Room) Leave(connID string) (User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.removeConnectionLocked(connID)
	if !ok {
		return User{}, false
	}
	user, ok := r.removeUserIfIdleLocked(entry.userID)
	if !ok {
		return User{}, false
	}
	r.announceLocked(LeaveNotice(user.Nickname))
	return user, true
}

// Users returns the roster sorted by nickname.
func (r *Room) Users() []User {
	r.mu.RLock()
	users := make([]User, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, u)
	}
	r.mu.RUnlock()

	slices.SortFunc(users, func(a, b User) int {
		return cmp.Or(cmp.Compare(a.Nickname, b.Nickname), cmp.Compare(a.ID, b.ID))
	})
	return users
}

// ConnectionCount returns the number of registered connections.
func (r *Room) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// MessageCount returns the history length.
func (r *Room) MessageCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.messages)
}

func (r *Room) addConnectionLocked(conn Conn, userID string) {
	if _, exists := r.conns[conn.ID()]; !exists {
		r.metrics.ConnectionOpened()
	}
	r.conns[conn.ID()] = connEntry{conn: conn, userID: userID}
	r.logger.Debug("connection registered",
		zap.String("conn", conn.ID()),
		zap.String("user", userID),
		zap.Int("connections", len(r.conns)))
}

func (r *Room) removeConnectionLocked(connID string) (connEntry, bool) {
	entry, ok := r.conns[connID]
	if !ok {
		return connEntry{}, false
	}
	delete(r.conns, connID)
	r.metrics.ConnectionClosed()
	r.logger.Debug("connection deregistered",
		zap.String("conn", connID),
		zap.String("user", entry.userID),
		zap.Int("connections", len(r.conns)))
	return entry, true
}

func (r *Room) ensureUserLocked(userID, nickname string) bool {
	if _, ok := r.users[userID]; ok {
		return false
	}
	r.users[userID] = User{ID: userID, Nickname: nickname, RoomID: r.id}
	return true
}

func (r *Room) removeUserIfIdleLocked(userID string) (User, bool) {
	user, ok := r.users[userID]
	if !ok {
		return User{}, false
	}
	for _, entry := range r.conns {
		if entry.userID == userID {
			return User{}, false
		}
	}
	delete(r.users, userID)
	return user, true
}

func (r *Room) appendLocked(msg Message) {
	r.messages = append(r.messages, msg)
	r.metrics.MessageProduced(msg.Kind.String())
}

// announceLocked appends a system notice and broadcasts it.
func (r *Room) announceLocked(text string) {
	notice := NewSystemMessage(r.id, text)
	frame, err := notice.Frame()
	if err != nil {
		r.logger.Error("encode notice", zap.Error(err))
		return
	}
	r.appendLocked(notice)
	r.broadcastLocked(frame)
}

func (r *Room) broadcastLocked(frame []byte) int {
	delivered := 0
	for _, entry := range r.conns {
		if r.deliver(entry.conn, frame) {
			delivered++
		}
	}
	return delivered
}

func (r *Room) deliver(conn Conn, frame []byte) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("recovered from panic during send",
				zap.String("conn", conn.ID()),
				zap.Any("panic", rec))
			r.metrics.FrameDropped()
			ok = false
		}
	}()

	if err := conn.Send(frame); err != nil {
		r.logger.Debug("dropping frame", zap.String("conn", conn.ID()), zap.Error(err))
		r.metrics.FrameDropped()
		return false
	}
	return true
}
