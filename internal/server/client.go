package server

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/config"
	"github.com/Tyrowin/roomchat/internal/metrics"
	"github.com/Tyrowin/roomchat/internal/session"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client is one WebSocket connection bound to a room. It implements
// chat.Conn: rooms queue frames through Send and the write pump delivers
// them.
//
// A client moves from connecting (after newClient) to active (after open)
// to closed (after close, which runs at most once).
type Client struct {
	id       string
	conn     *websocket.Conn
	hub      *Hub
	room     *chat.Room
	identity session.Identity
	addr     string
	settings config.WebSocketConfig
	logger   *zap.Logger
	metrics  *metrics.Collectors

	// history holds the frames replayed to this connection before any
	// queued live frame.
	history [][]byte

	mu     sync.RWMutex
	send   chan []byte
	closed bool

	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, hub *Hub, room *chat.Room, identity session.Identity,
	addr string, settings config.WebSocketConfig, logger *zap.Logger, m *metrics.Collectors,
) *Client {
	id := uuid.NewString()
	if conn != nil {
		conn.SetReadLimit(settings.MaxMessageSize)
	}

	return &Client{
		id:       id,
		conn:     conn,
		hub:      hub,
		room:     room,
		identity: identity,
		addr:     addr,
		settings: settings,
		logger: logger.With(
			zap.String("conn", id),
			zap.String("room", identity.RoomID),
			zap.String("user", identity.UserID),
			zap.String("addr", addr)),
		metrics: m,
		send:    make(chan []byte, settings.SendBuffer),
	}
}

// ID returns the connection identifier.
func (c *Client) ID() string {
	return c.id
}

// Send queues frame for delivery without blocking.
func (c *Client) Send(frame []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("conn %s: %w", c.id, chat.ErrConnClosed)
	}

	select {
	case c.send <- frame:
		return nil
	default:
		return fmt.Errorf("conn %s: %w", c.id, chat.ErrSendBufferFull)
	}
}

// open registers the client in its room and captures the history to replay.
// It must run before the pumps start.
func (c *Client) open() {
	history, joined := c.room.Enter(c, c.identity.UserID, c.identity.Nickname)

	c.history = make([][]byte, 0, len(history))
	for _, msg := range history {
		frame, err := msg.Frame()
		if err != nil {
			c.logger.Error("encode history entry", zap.String("message", msg.ID), zap.Error(err))
			continue
		}
		c.history = append(c.history, frame)
	}

	c.logger.Info("connection opened",
		zap.String("nickname", c.identity.Nickname),
		zap.Int("history", len(c.history)),
		zap.Bool("joined", joined))
}

// close deregisters the client from its room, announcing the departure of
// its user if this was the user's last connection, and stops the write pump.
// It is safe to call any number of times from any goroutine.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		if user, left := c.room.Leave(c.id); left {
			c.logger.Info("user left room", zap.String("nickname", user.Nickname))
		}

		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()

		c.hub.unregister(c)
		c.logger.Info("connection closed")
	})
}

// handleFrame applies one inbound frame: commands are answered to this
// connection only, anything else is posted to the room.
func (c *Client) handleFrame(raw []byte) {
	text, ok := chat.DecodeInbound(raw)
	if !ok {
		c.logger.Debug("dropping frame without content")
		return
	}

	if cmd, isCommand := chat.ParseCommand(text); isCommand {
		c.reply(cmd)
		return
	}

	msg := chat.NewUserMessage(c.room.ID(), c.identity.Nickname, text)
	if err := c.room.Post(msg); err != nil {
		c.logger.Error("post message", zap.Error(err))
	}
}

func (c *Client) reply(cmd chat.Command) {
	frame, err := cmd.Reply().Encode()
	if err != nil {
		c.logger.Error("encode command reply", zap.Error(err))
		return
	}
	if err := c.Send(frame); err != nil {
		c.logger.Debug("dropping command reply", zap.Error(err))
		c.metrics.FrameDropped()
		return
	}
	c.metrics.MessageProduced(chat.KindCommand.String())
	c.logger.Debug("command answered", zap.Stringer("directive", cmd.Directive))
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.settings.PongWait)); err != nil {
		c.logger.Warn("setting initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.settings.PongWait)); err != nil {
			c.logger.Warn("setting read deadline in pong handler", zap.Error(err))
		}
		return nil
	})
}

// handleReadError logs the reason the read loop ends.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("message exceeded maximum size", zap.Int64("limit", c.settings.MaxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.logger.Debug("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Debug("connection closed", zap.Error(err))
	default:
		c.logger.Warn("websocket read error", zap.Error(err))
	}
}

func (c *Client) readPump() {
	defer func() {
		c.close()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("closing connection in readPump", zap.Error(err))
		}
	}()

	c.setupReadConnection()

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.handleFrame(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.settings.PingInterval)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	if !c.replayHistory() {
		return
	}

	for c.processWriteEvent(ticker) {
	}
}

// replayHistory writes the captured history before any live frame.
func (c *Client) replayHistory() bool {
	for _, frame := range c.history {
		if !c.writeFrame(frame) {
			return false
		}
	}
	c.history = nil
	return true
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case frame, ok := <-c.send:
		if !ok {
			return c.writeCloseMessage()
		}
		return c.writeFrame(frame)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("closing connection in writePump", zap.Error(err))
	}
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.settings.WriteWait))
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("writing close message", zap.Error(err))
	}
	return false
}

// writeFrame writes one text frame under the write deadline.
func (c *Client) writeFrame(frame []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.settings.WriteWait)); err != nil {
		c.logger.Warn("setting write deadline", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("writing message", zap.Error(err))
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.settings.WriteWait)); err != nil {
		c.logger.Warn("setting write deadline for ping", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Debug("writing ping message", zap.Error(err))
		return false
	}
	return true
}
