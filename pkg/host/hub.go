package host

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/worldhost/worldhost/pkg/api"
	"github.com/worldhost/worldhost/pkg/com"
	"github.com/worldhost/worldhost/pkg/config"
	"github.com/worldhost/worldhost/pkg/logger"
	"github.com/worldhost/worldhost/pkg/network/websocket"
)

const joinAttempts = 3

var ErrNoWorld = errors.New("no world id")

// Hub accepts player connections and puts them into rooms.
type Hub struct {
	conf     config.Host
	codec    *api.Codec
	registry *Registry
	log      *logger.Logger
	m        *Metrics

	conns com.NetMap[com.Uid, *session]
	wg    sync.WaitGroup
}

// session is an accepted connection before and after its join.
type session struct {
	id   com.Uid
	conn *websocket.WS
}

func (s *session) Id() com.Uid { return s.id }
func (s *session) Disconnect() { s.conn.Close() }

func NewHub(conf config.Host, codec *api.Codec, registry *Registry, m *Metrics, log *logger.Logger) *Hub {
	return &Hub{
		conf:     conf,
		codec:    codec,
		registry: registry,
		log:      log,
		m:        m,
		conns:    com.NewNetMap[com.Uid, *session](),
	}
}

// handleWebsocket serves one player connection until it closes.
// Nothing is created in the rooms before a valid join.
func (h *Hub) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.NewServer(w, r, websocket.Options{QueueSize: h.conf.QueueSize, PingPong: true})
	if err != nil {
		h.log.Error().Err(err).Msg("Websocket upgrade has failed")
		return
	}
	h.wg.Add(1)
	defer h.wg.Done()

	cid := com.NewUid()
	sess := &session{id: cid, conn: conn}
	h.conns.Add(sess)
	defer h.conns.Remove(sess)
	log := h.log.Extend(h.log.With().Str(logger.ClientField, cid.Short()))
	log.Debug().Str("addr", conn.RemoteAddr()).Msg("Connected")

	fallback := r.URL.Query().Get("world")
	var player *Player

	timeout := time.AfterFunc(h.conf.JoinTimeout, func() {
		log.Warn().Msg("No join in time, closing")
		conn.Close()
	})

	conn.OnMessage = func(data []byte, binary bool) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().Msgf("Recovered from a panic: %v", err)
				conn.Close()
			}
		}()
		if player != nil {
			player.Receive(data, binary)
			return
		}
		if !timeout.Stop() {
			return
		}
		p, err := h.join(r.Context(), conn, cid, data, binary, fallback, log)
		if err != nil {
			log.Warn().Err(err).Msg("Join has failed")
			if errors.Is(err, api.ErrMalformed) {
				h.m.Dropped.WithLabelValues("malformed").Inc()
			} else {
				h.send(conn, api.ErrorMessage{Kind: api.Join, Reason: err.Error()})
			}
			conn.Close()
			return
		}
		player = p
	}
	conn.OnError = func(err error) {
		if err != nil {
			log.Warn().Err(err).Msg("Connection error")
		}
	}

	conn.Listen()
	<-conn.Done
	timeout.Stop()

	if player != nil {
		player.Close()
	}
	log.Debug().Msg("Disconnected")
}

// join handles the first message of a connection.
func (h *Hub) join(ctx context.Context, conn *websocket.WS, cid com.Uid, data []byte, binary bool,
	fallback string, log *logger.Logger) (*Player, error) {
	msg, err := h.codec.Decode(data, binary)
	if err != nil {
		return nil, err
	}
	rq, ok := msg.(api.JoinRequest)
	if !ok {
		return nil, fmt.Errorf("%w: %v before join", ErrSequence, msg.Type())
	}
	world := rq.WorldId
	if world == "" {
		world = fallback
		if err = h.codec.Validate(api.JoinRequest{WorldId: world}); err != nil || world == "" {
			return nil, ErrNoWorld
		}
	}

	log = log.Extend(log.With().Str("world", world))
	opts := PlayerOptions{Codec: h.codec, MaxViolations: h.conf.MaxViolations, Metrics: h.m}
	for range joinAttempts {
		room, err := h.registry.GetOrCreate(ctx, world)
		if err != nil {
			return nil, err
		}
		p := NewPlayer(cid, conn, room, rq, opts, log)
		if _, err = room.Join(p, rq.DesiredId); err == nil {
			return p, nil
		}
		p.cancel()
		if !errors.Is(err, ErrRoomClosed) {
			return nil, err
		}
	}
	return nil, ErrRoomClosed
}

func (h *Hub) send(conn *websocket.WS, m api.Msg) {
	if data, binary, err := api.Encode(m); err == nil {
		conn.TrySend(data, binary)
	}
}

// Shutdown closes every room and waits for the connections to end.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.registry.Close()
	h.conns.DisconnectAll()
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
