package chat

import (
	"cmp"
	"slices"
	"sync"

	"github.com/Tyrowin/roomchat/internal/metrics"
	"go.uber.org/zap"
)

// Registry maps room identifiers to rooms. Rooms are created on first
// reference and live as long as the registry.
type Registry struct {
	logger  *zap.Logger
	metrics *metrics.Collectors

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *zap.Logger, m *metrics.Collectors) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:  logger,
		metrics: m,
		rooms:   make(map[string]*Room),
	}
}

// GetOrCreate returns the room for id, creating it if needed. Concurrent
// callers for the same unseen id all receive the same room.
func (g *Registry) GetOrCreate(id string) *Room {
	if room, ok := g.Lookup(id); ok {
		return room
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if room, ok := g.rooms[id]; ok {
		return room
	}
	room := NewRoom(id, g.logger.Named("room"), g.metrics)
	g.rooms[id] = room
	g.metrics.RoomCreated()
	g.logger.Info("room created", zap.String("room", id), zap.Int("rooms", len(g.rooms)))
	return room
}

// Lookup returns the room for id without creating it.
func (g *Registry) Lookup(id string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	room, ok := g.rooms[id]
	return room, ok
}

// Rooms returns every room ordered by identifier.
func (g *Registry) Rooms() []*Room {
	g.mu.RLock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, room := range g.rooms {
		rooms = append(rooms, room)
	}
	g.mu.RUnlock()

	slices.SortFunc(rooms, func(a, b *Room) int { return cmp.Compare(a.id, b.id) })
	return rooms
}
