package host

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/worldhost/worldhost/pkg/com"
	"github.com/worldhost/worldhost/pkg/config"
	"github.com/worldhost/worldhost/pkg/logger"
	"github.com/worldhost/worldhost/pkg/negotiator"
)

// Registry keeps the open rooms of the process by world id.
type Registry struct {
	rooms  com.Map[string, *Room]
	engine negotiator.Engine
	grace  time.Duration
	log    *logger.Logger
	m      *Metrics

	mu       sync.Mutex
	capacity config.Capacity
}

type RoomInfo struct {
	World   string `json:"world"`
	Players int    `json:"players"`
}

func NewRegistry(engine negotiator.Engine, grace time.Duration, capacity config.Capacity, m *Metrics,
	log *logger.Logger) *Registry {
	return &Registry{
		rooms:    com.NewMap[string, *Room](),
		engine:   engine,
		grace:    grace,
		capacity: capacity,
		log:      log,
		m:        m,
	}
}

func isOpen(r *Room) bool { return !r.IsClosed() }

// GetOrCreate returns the open room of the world or makes a new one.
// Concurrent callers always end up in the same room: the router of
// a room that lost the race is closed right away.
func (r *Registry) GetOrCreate(ctx context.Context, worldId string) (*Room, error) {
	if room, err := r.rooms.Find(worldId); err == nil && isOpen(room) {
		return room, nil
	}

	log := r.log.Extend(r.log.With().Str("world", worldId))
	router, err := negotiator.NewRouter(ctx, r.engine, log)
	if err != nil {
		return nil, err
	}
	room := newRoom(worldId, router, r.grace, r.capacityFor(worldId), r.remove, log, r.m)

	winner, created := r.rooms.PutIfAbsent(worldId, room, isOpen)
	if !created {
		_ = router.Close()
		return winner, nil
	}
	r.m.Rooms.Inc()
	room.idle()
	log.Info().Str("router", router.Id()).Msg("Room created")
	return room, nil
}

// remove runs once per room after it has been closed.
// A newer room of the same world stays.
func (r *Registry) remove(room *Room) {
	r.m.Rooms.Dec()
	if r.rooms.RemoveIf(room.Id(), func(v *Room) bool { return v == room }) {
		r.log.Info().Str("world", room.Id()).Msg("Room removed")
	}
}

// Find returns the open room of the world if there is one.
func (r *Registry) Find(worldId string) (*Room, bool) {
	room, err := r.rooms.Find(worldId)
	if err != nil || !isOpen(room) {
		return nil, false
	}
	return room, true
}

// PlayerCount is zero for worlds without a room.
func (r *Registry) PlayerCount(worldId string) int {
	if room, ok := r.Find(worldId); ok {
		return room.PlayerCount()
	}
	return 0
}

// Rooms lists the open rooms sorted by world id.
func (r *Registry) Rooms() []RoomInfo {
	var rooms []RoomInfo
	for _, room := range r.rooms.Values() {
		if isOpen(room) {
			rooms = append(rooms, RoomInfo{World: room.Id(), Players: room.PlayerCount()})
		}
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].World < rooms[j].World })
	return rooms
}

func (r *Registry) capacityFor(worldId string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capacity.For(worldId)
}

// SetCapacity applies new capacities to the future and open rooms.
// Players above a lowered capacity stay.
func (r *Registry) SetCapacity(c config.Capacity) {
	r.mu.Lock()
	r.capacity = c
	r.mu.Unlock()
	for _, room := range r.rooms.Values() {
		room.SetCapacity(c.For(room.Id()))
	}
	r.log.Info().Int("default", c.Default).Int("worlds", len(c.Worlds)).Msg("Capacity has been updated")
}

// Close closes every room.
func (r *Registry) Close() {
	for _, room := range r.rooms.Values() {
		room.Close()
	}
}
