package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/config"
	"github.com/Tyrowin/roomchat/internal/metrics"
	"github.com/Tyrowin/roomchat/internal/session"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	testOrigin  = "http://localhost:8080"
	readTimeout = 2 * time.Second
)

type testEnv struct {
	server   *Server
	http     *httptest.Server
	registry *chat.Registry
	metrics  *metrics.Collectors
}

// newTestEnv starts a relay behind an httptest server and tears it down at
// the end of the test.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithSecret(t, "")
}

// newTestEnvWithSecret is newTestEnv with signed session cookies enabled
// when secret is not empty.
func newTestEnvWithSecret(t *testing.T, secret string) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Server.AllowedOrigins = []string{testOrigin}

	logger := zap.NewNop()
	m := metrics.New(prometheus.NewRegistry())
	registry := chat.NewRegistry(logger, m)
	srv := New(cfg, registry, session.NewResolver(secret, logger), logger, m)
	ts := httptest.NewServer(SetupRoutes(srv))

	t.Cleanup(func() {
		if err := srv.Shutdown(2 * time.Second); err != nil {
			t.Errorf("hub shutdown: %v", err)
		}
		ts.Close()
	})

	return &testEnv{server: srv, http: ts, registry: registry, metrics: m}
}

func (e *testEnv) wsURL(room string) string {
	return "ws" + strings.TrimPrefix(e.http.URL, "http") + WebSocketPrefix + room
}

// dial connects to room (a path such as "/general", or "" for the default)
// with the given identity cookies; empty values are not sent.
func (e *testEnv) dial(t *testing.T, room, userID, nickname string) *websocket.Conn {
	t.Helper()

	var cookies []*http.Cookie
	if userID != "" {
		cookies = append(cookies, &http.Cookie{Name: session.CookieUserID, Value: userID})
	}
	if nickname != "" {
		cookies = append(cookies, &http.Cookie{Name: session.CookieNickname, Value: nickname})
	}
	return e.dialWithCookies(t, room, cookies)
}

// dialWithCookies connects to room sending the given cookies as they are.
func (e *testEnv) dialWithCookies(t *testing.T, room string, cookies []*http.Cookie) *websocket.Conn {
	t.Helper()

	headers := http.Header{}
	headers.Set("Origin", testOrigin)
	if len(cookies) > 0 {
		pairs := make([]string, 0, len(cookies))
		for _, c := range cookies {
			pairs = append(pairs, c.Name+"="+c.Value)
		}
		headers.Set("Cookie", strings.Join(pairs, "; "))
	}

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(e.wsURL(room), headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial %s: %v", room, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendContent(t *testing.T, conn *websocket.Conn, content string) {
	t.Helper()
	if err := conn.WriteJSON(map[string]string{"content": content}); err != nil {
		t.Fatalf("send %q: %v", content, err)
	}
}

func readPayload(t *testing.T, conn *websocket.Conn) chat.Payload {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	var p chat.Payload
	if err := conn.ReadJSON(&p); err != nil {
		t.Fatalf("read payload: %v", err)
	}
	return p
}

// expectPayload reads the next payload and checks its type and content.
func expectPayload(t *testing.T, conn *websocket.Conn, typ, content string) chat.Payload {
	t.Helper()
	p := readPayload(t, conn)
	if p.Type != typ || p.Content != content {
		t.Fatalf("got {type:%q content:%q}, want {type:%q content:%q}", p.Type, p.Content, typ, content)
	}
	return p
}

// expectNoPayload requires that nothing arrives on conn within wait. The
// connection cannot be read afterwards.
func expectNoPayload(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	_, raw, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("unexpected frame: %s", raw)
	}
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("expected a read timeout, got %v", err)
	}
}

// noRedirectClient returns redirects to the caller instead of following them.
func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// closeConn performs a clean WebSocket close handshake.
func closeConn(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		t.Logf("write close: %v", err)
	}
	_ = conn.Close()
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(readTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func userCount(e *testEnv, room string) func() int {
	return func() int {
		r, ok := e.registry.Lookup(room)
		if !ok {
			return 0
		}
		return len(r.Users())
	}
}

func joined(nickname string) string { return fmt.Sprintf("%s has joined the room", nickname) }
func left(nickname string) string   { return fmt.Sprintf("%s has left the room", nickname) }
