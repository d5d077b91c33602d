package server

import (
	"context"
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
	"go.uber.org/zap"
)

// Hub tracks every live client across all rooms so that their pump
// goroutines can be started, counted, and torn down on shutdown. Message
// fan-out is not its concern; rooms broadcast directly to their clients.
type Hub struct {
	logger *zap.Logger

	mutex   sync.Mutex
	clients map[*Client]struct{}
	closing bool
	wg      sync.WaitGroup
}

// NewHub creates an empty Hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*Client]struct{}),
	}
}

// register adds an opened client and launches its pumps. It returns false
// once shutdown has begun; the caller then owns the client's cleanup.
func (h *Hub) register(client *Client) bool {
	h.mutex.Lock()
	if h.closing {
		h.mutex.Unlock()
		return false
	}
	h.clients[client] = struct{}{}
	clientCount := len(h.clients)
	h.wg.Add(2)
	h.mutex.Unlock()

	h.logger.Debug("client registered", zap.String("conn", client.id), zap.Int("clients", clientCount))

	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
	return true
}

func (h *Hub) unregister(client *Client) {
	h.mutex.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	clientCount := len(h.clients)
	h.mutex.Unlock()

	if ok {
		h.logger.Debug("client unregistered", zap.String("conn", client.id), zap.Int("clients", clientCount))
	}
}

// ClientCount returns the number of live clients.
func (h *Hub) ClientCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// disconnectUser closes every client of userID in room through the normal
// close path, so the room announces the departure once the last one goes.
// It returns how many clients were closed.
func (h *Hub) disconnectUser(room *chat.Room, userID string) int {
	h.mutex.Lock()
	var clients []*Client
	for client := range h.clients {
		if client.room == room && client.identity.UserID == userID {
			clients = append(clients, client)
		}
	}
	h.mutex.Unlock()

	for _, client := range clients {
		client.close()
	}
	return len(clients)
}

// shutdownClients closes every live client connection; their read pumps
// then run the normal close path.
func (h *Hub) shutdownClients() int {
	h.mutex.Lock()
	h.closing = true
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn == nil {
			continue
		}
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			h.logger.Warn("closing client connection", zap.String("conn", client.id), zap.Error(err))
		}
	}
	return len(clients)
}

// Shutdown closes all client connections and waits for their goroutines to
// finish, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	closed := h.shutdownClients()
	h.logger.Info("closed client connections", zap.Int("clients", closed))

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
