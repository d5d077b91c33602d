package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Tyrowin/roomchat/internal/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WebSocketHandler upgrades a connection and runs it against the room named
// by the request path. The mount prefix must already be stripped, so "/"
// and "" address the default room.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	// Cookies and path are only available before the upgrade.
	identity := s.resolver.Resolve(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.String("addr", r.RemoteAddr), zap.Error(err))
		return
	}

	room := s.registry.GetOrCreate(identity.RoomID)
	client := newClient(conn, s.hub, room, identity, r.RemoteAddr,
		s.cfg.WebSocket, s.logger.Named("client"), s.metrics)
	client.open()

	if !s.hub.register(client) {
		client.close()
		client.closeConnection()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "roomchat server is running!")
}

// RoomsHandler lists every room with its roster and counters.
func (s *Server) RoomsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed.", http.StatusMethodNotAllowed)
		return
	}

	rooms := s.registry.Rooms()
	summaries := make([]roomSummary, 0, len(rooms))
	for _, room := range rooms {
		users := room.Users()
		nicknames := make([]string, 0, len(users))
		for _, u := range users {
			nicknames = append(nicknames, u.Nickname)
		}
		summaries = append(summaries, roomSummary{
			ID:          room.ID(),
			Users:       nicknames,
			Connections: room.ConnectionCount(),
			Messages:    room.MessageCount(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(summaries); err != nil {
		s.logger.Warn("writing rooms response", zap.Error(err))
	}
}

// LoginHandler claims a nickname in the room named by the rid query
// parameter. It answers 409 when a present user already holds the nickname,
// otherwise it issues the identity cookies and redirects to the room page.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed. Login only accepts POST requests.", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form.", http.StatusBadRequest)
		return
	}

	nickname := strings.TrimSpace(r.PostForm.Get("nickname"))
	if nickname == "" {
		http.Error(w, "Nickname is required.", http.StatusBadRequest)
		return
	}
	roomID := session.RoomFromPath(r.URL.Query().Get("rid"))

	if s.nicknameTaken(roomID, nickname) {
		s.logger.Debug("nickname taken", zap.String("room", roomID), zap.String("nickname", nickname))
		http.Error(w, "Nickname already taken in this room.", http.StatusConflict)
		return
	}

	identity := session.Identity{UserID: uuid.NewString(), Nickname: nickname, RoomID: roomID}
	if err := s.resolver.SetCookies(w, identity, s.cfg.Session.TTL); err != nil {
		s.logger.Error("issuing session cookies", zap.Error(err))
		http.Error(w, "Internal server error.", http.StatusInternalServerError)
		return
	}

	s.logger.Info("user logged in",
		zap.String("room", roomID), zap.String("user", identity.UserID), zap.String("nickname", nickname))
	http.Redirect(w, r, roomPage(roomID), http.StatusSeeOther)
}

// LogoutHandler clears the identity cookies and disconnects the caller's
// connections in the room given by rid, or by the signed session, or the
// default room.
func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed.", http.StatusMethodNotAllowed)
		return
	}

	identity, ok := s.resolver.Session(r)
	session.ClearCookies(w)

	if ok {
		roomID := identity.RoomID
		if rid := r.URL.Query().Get("rid"); rid != "" || roomID == "" {
			roomID = session.RoomFromPath(rid)
		}
		if room, found := s.registry.Lookup(roomID); found {
			closed := s.hub.disconnectUser(room, identity.UserID)
			s.logger.Info("user logged out",
				zap.String("room", roomID), zap.String("user", identity.UserID), zap.Int("connections", closed))
		}
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) nicknameTaken(roomID, nickname string) bool {
	room, ok := s.registry.Lookup(roomID)
	if !ok {
		return false
	}
	for _, u := range room.Users() {
		if u.Nickname == nickname {
			return true
		}
	}
	return false
}

func roomPage(roomID string) string {
	return "/?" + url.Values{"rid": {roomID}}.Encode()
}
