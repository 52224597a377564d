package host

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/worldhost/worldhost/pkg/api"
	"github.com/worldhost/worldhost/pkg/logger"
	"github.com/worldhost/worldhost/pkg/negotiator"
)

var (
	ErrRoomClosed = errors.New("room closed")
	ErrRoomFull   = errors.New("room is full")
)

// Room is one instance of a world with its players and SFU router.
//
// Room events are enqueued under the room lock, so all players see
// them in the same order. Replies and media link messages of one
// player are enqueued under that player's lock. Neither lock is
// held across an SFU call.
type Room struct {
	id       string
	router   *negotiator.Router
	grace    time.Duration
	capacity atomic.Int64
	onClose  func(*Room)
	log      *logger.Logger
	m        *Metrics

	mu      sync.Mutex
	players map[api.PlayerId]*Player
	issued  map[api.PlayerId]struct{}
	lastId  api.PlayerId
	timer   *time.Timer
	gen     uint64
	closed  bool
}

func newRoom(id string, router *negotiator.Router, grace time.Duration, capacity int, onClose func(*Room),
	log *logger.Logger, m *Metrics) *Room {
	r := &Room{
		id:      id,
		router:  router,
		grace:   grace,
		onClose: onClose,
		log:     log,
		m:       m,
		players: map[api.PlayerId]*Player{},
		issued:  map[api.PlayerId]struct{}{},
	}
	r.capacity.Store(int64(capacity))
	return r
}

func (r *Room) Id() string                 { return r.id }
func (r *Room) Router() *negotiator.Router { return r.router }
func (r *Room) SetCapacity(capacity int)   { r.capacity.Store(int64(capacity)) }
func (r *Room) Capacity() int              { return int(r.capacity.Load()) }

func (r *Room) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Room) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// Join adds the player with a new id, tells everyone else about it
// and sends the current roster to the player.
// The desired id is used only when the room has never given it out.
func (r *Room) Join(p *Player, desired *api.PlayerId) (api.PlayerId, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, ErrRoomClosed
	}
	if c := r.capacity.Load(); c > 0 && int64(len(r.players)) >= c {
		return 0, ErrRoomFull
	}
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
		r.gen++
	}

	id := r.nextId(desired)
	p.joined(id)

	r.push(p, api.JoinSuccessfulResponse{PlayerId: id})
	for _, other := range r.players {
		for _, m := range other.roster() {
			r.push(p, m)
		}
	}
	r.broadcast(p, p.presence(false))
	r.players[id] = p
	r.m.Players.Inc()
	r.log.Info().Uint32("player", uint32(id)).Int("players", len(r.players)).Msg("Player joined")
	return id, nil
}

func (r *Room) nextId(desired *api.PlayerId) api.PlayerId {
	if desired != nil && *desired > 0 {
		if _, used := r.issued[*desired]; !used {
			r.issued[*desired] = struct{}{}
			return *desired
		}
	}
	for {
		r.lastId++
		if r.lastId == 0 {
			r.lastId++
		}
		if _, used := r.issued[r.lastId]; !used {
			r.issued[r.lastId] = struct{}{}
			return r.lastId
		}
	}
}

// Broadcast sends the message to everyone in the room but the sender.
func (r *Room) Broadcast(from *Player, m api.Msg) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.players[from.Id()] != from {
		return
	}
	r.broadcast(from, m)
}

func (r *Room) broadcast(from *Player, m api.Msg) {
	data, binary, err := api.Encode(m)
	if err != nil {
		r.log.Error().Err(err).Msgf("Couldn't encode %v", m.Type())
		return
	}
	for _, p := range r.players {
		if p != from {
			p.push(data, binary)
		}
	}
}

func (r *Room) push(to *Player, m api.Msg) {
	data, binary, err := api.Encode(m)
	if err != nil {
		r.log.Error().Err(err).Msgf("Couldn't encode %v", m.Type())
		return
	}
	to.push(data, binary)
}

// Leave removes the player and tears down its media links.
// Leaving twice or leaving an empty room does nothing.
func (r *Room) Leave(p *Player) {
	r.mu.Lock()
	if r.players[p.Id()] != p {
		r.mu.Unlock()
		return
	}
	delete(r.players, p.Id())
	r.m.Players.Dec()
	r.broadcast(p, api.PlayerLeftMessage{PlayerId: p.Id()})
	peers := r.snapshot(nil)
	if len(r.players) == 0 && !r.closed {
		r.arm()
	}
	r.mu.Unlock()

	for _, peer := range peers {
		peer.unlinkFrom(p.Id())
	}
	r.log.Info().Uint32("player", uint32(p.Id())).Int("players", len(peers)).Msg("Player left")
}

// idle starts the grace timer if nobody has joined yet.
func (r *Room) idle() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.players) == 0 && r.timer == nil && !r.closed {
		r.arm()
	}
}

// arm starts the grace timer of an empty room.
func (r *Room) arm() {
	r.gen++
	gen := r.gen
	r.timer = time.AfterFunc(r.grace, func() { r.expire(gen) })
}

func (r *Room) expire(gen uint64) {
	r.mu.Lock()
	if r.closed || gen != r.gen || len(r.players) > 0 {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.timer = nil
	r.mu.Unlock()

	r.log.Info().Msg("Room is empty, closing")
	r.release()
}

// Close disconnects every player and releases the router.
func (r *Room) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	players := r.snapshot(nil)
	r.mu.Unlock()

	for _, p := range players {
		p.Close()
	}
	r.release()
}

func (r *Room) release() {
	if err := r.router.Close(); err != nil {
		r.log.Warn().Err(err).Msg("Router close has failed")
	}
	if r.onClose != nil {
		r.onClose(r)
	}
}

// snapshot copies the players except the given one.
func (r *Room) snapshot(except *Player) []*Player {
	players := make([]*Player, 0, len(r.players))
	for _, p := range r.players {
		if p != except {
			players = append(players, p)
		}
	}
	return players
}

// Peers returns everyone in the room except the player.
func (r *Room) Peers(of *Player) []*Player {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot(of)
}

func (r *Room) Players() []api.PlayerId {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]api.PlayerId, 0, len(r.players))
	for id := range r.players {
		ids = append(ids, id)
	}
	return ids
}
