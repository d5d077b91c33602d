// Package session derives the identity of an incoming connection from the
// metadata available when it opens: the request path and its cookies.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultRoom is used when the connection target names no room.
const DefaultRoom = "lobby"

// Cookie names read from the upgrade request.
const (
	CookieUserID   = "user_id"
	CookieNickname = "nickname"
	CookieSession  = "session"
)

// ErrNoSecret is returned when a session token is requested from a resolver
// without a signing secret.
var ErrNoSecret = errors.New("session secret not configured")

// Identity is the (user, nickname, room) triple a connection runs with.
type Identity struct {
	UserID   string
	Nickname string
	RoomID   string
}

// Claims is the payload of a signed session cookie.
type Claims struct {
	UserID   string `json:"uid"`
	Nickname string `json:"nick"`
	RoomID   string `json:"room,omitempty"`
	jwt.RegisteredClaims
}

// Resolver turns upgrade requests into identities. It never fails: missing
// fields are filled with an anonymous identity.
type Resolver struct {
	secret []byte
	logger *zap.Logger
	seq    atomic.Uint64
}

// NewResolver returns a resolver. When secret is empty, signed session
// cookies are ignored and only the plain cookies are read.
func NewResolver(secret string, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{secret: []byte(secret), logger: logger}
}

// Resolve extracts the identity of r. The room always comes from the path.
func (s *Resolver) Resolve(r *http.Request) Identity {
	seq := s.seq.Add(1)
	id, _ := s.Session(r)
	id.RoomID = RoomFromPath(r.URL.Path)

	if id.UserID == "" {
		id.UserID = uuid.NewString()
	}
	if id.Nickname == "" {
		id.Nickname = fmt.Sprintf("User-%d", seq)
	}
	return id
}

// Session returns the identity carried by the cookies of r without any
// anonymous fallback. RoomID is set only from a signed session. ok is false
// when no user id is present.
func (s *Resolver) Session(r *http.Request) (id Identity, ok bool) {
	if claims, found := s.sessionClaims(r); found {
		id = Identity{UserID: claims.UserID, Nickname: claims.Nickname, RoomID: claims.RoomID}
	}
	if id.UserID == "" {
		id.UserID = cookieValue(r, CookieUserID)
	}
	if id.Nickname == "" {
		id.Nickname = cookieValue(r, CookieNickname)
	}
	return id, id.UserID != ""
}

// RoomFromPath returns the room named by a connection target path, or
// DefaultRoom when the path is empty.
func RoomFromPath(path string) string {
	room := strings.TrimPrefix(path, "/")
	if room == "" {
		return DefaultRoom
	}
	return room
}

// Sign issues a session token for id, verifiable by Resolve.
func (s *Resolver) Sign(id Identity, ttl time.Duration) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrNoSecret
	}
	now := time.Now()
	claims := Claims{
		UserID:   id.UserID,
		Nickname: id.Nickname,
		RoomID:   id.RoomID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// SetCookies writes the identity cookies for id. A signed session cookie is
// added when the resolver has a secret.
func (s *Resolver) SetCookies(w http.ResponseWriter, id Identity, ttl time.Duration) error {
	maxAge := int(ttl / time.Second)
	if len(s.secret) > 0 {
		token, err := s.Sign(id, ttl)
		if err != nil {
			return fmt.Errorf("sign session: %w", err)
		}
		http.SetCookie(w, newCookie(CookieSession, token, maxAge))
	}
	http.SetCookie(w, newCookie(CookieUserID, url.PathEscape(id.UserID), maxAge))
	http.SetCookie(w, newCookie(CookieNickname, url.PathEscape(id.Nickname), maxAge))
	return nil
}

// ClearCookies expires every identity cookie.
func ClearCookies(w http.ResponseWriter) {
	for _, name := range []string{CookieSession, CookieUserID, CookieNickname} {
		http.SetCookie(w, newCookie(name, "", -1))
	}
}

func newCookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func (s *Resolver) sessionClaims(r *http.Request) (*Claims, bool) {
	if len(s.secret) == 0 {
		return nil, false
	}
	raw := cookieValue(r, CookieSession)
	if raw == "" {
		return nil, false
	}
	claims, err := s.parse(raw)
	if err != nil {
		s.logger.Debug("ignoring session cookie", zap.Error(err))
		return nil, false
	}
	return claims, true
}

func (s *Resolver) parse(raw string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid session token")
	}
	return claims, nil
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	if v, err := url.PathUnescape(c.Value); err == nil {
		return v
	}
	return c.Value
}
