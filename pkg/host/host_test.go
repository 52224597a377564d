package host

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/worldhost/worldhost/pkg/api"
	"github.com/worldhost/worldhost/pkg/com"
	"github.com/worldhost/worldhost/pkg/config"
	"github.com/worldhost/worldhost/pkg/logger"
	"github.com/worldhost/worldhost/pkg/negotiator/sfutest"
)

type frame struct {
	t      api.PT
	data   []byte
	binary bool
}

// sink records everything sent to a player.
type sink struct {
	mu     sync.Mutex
	frames []frame
	limit  int
	closed bool
}

func (s *sink) TrySend(data []byte, binary bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || (s.limit > 0 && len(s.frames) >= s.limit) {
		return false
	}
	t, _ := api.DecodeMessage(data, binary, nil)
	s.frames = append(s.frames, frame{t: t, data: data, binary: binary})
	return true
}

func (s *sink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *sink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *sink) snapshot() []frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]frame(nil), s.frames...)
}

func (s *sink) types() []api.PT {
	var types []api.PT
	for _, f := range s.snapshot() {
		types = append(types, f.t)
	}
	return types
}

func (s *sink) count(t api.PT) int {
	n := 0
	for _, f := range s.snapshot() {
		if f.t == t {
			n++
		}
	}
	return n
}

// all decodes every frame of the type with fn.
func all[T any](t *testing.T, s *sink, pt api.PT) []T {
	t.Helper()
	var out []T
	for _, f := range s.snapshot() {
		if f.t != pt {
			continue
		}
		var v T
		if _, err := api.DecodeMessage(f.data, f.binary, &v); err != nil {
			t.Fatalf("couldn't decode %v: %v", pt, err)
		}
		out = append(out, v)
	}
	return out
}

func first[T any](t *testing.T, s *sink, pt api.PT) (T, bool) {
	t.Helper()
	var zero T
	v := all[T](t, s, pt)
	if len(v) == 0 {
		return zero, false
	}
	return v[0], true
}

func eventually(t *testing.T, what string, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %v", what)
}

type testWorld struct {
	t        *testing.T
	engine   *sfutest.Engine
	registry *Registry
	codec    *api.Codec
	m        *Metrics
	opts     PlayerOptions
}

func newTestWorld(t *testing.T, grace time.Duration, capacity int) *testWorld {
	engine := sfutest.New()
	m := NewMetrics(nil)
	codec := api.NewCodec(api.DefaultLimits)
	w := &testWorld{
		t:        t,
		engine:   engine,
		registry: NewRegistry(engine, grace, config.Capacity{Default: capacity}, m, logger.Nop()),
		codec:    codec,
		m:        m,
		opts:     PlayerOptions{Codec: codec, MaxViolations: 3, Metrics: m},
	}
	t.Cleanup(w.registry.Close)
	return w
}

func (w *testWorld) join(world string, rq api.JoinRequest) (*Player, *sink) {
	w.t.Helper()
	p, s, err := w.tryJoin(world, rq)
	if err != nil {
		w.t.Fatalf("join has failed: %v", err)
	}
	return p, s
}

// tryJoin retries a room that has just expired, like the hub.
func (w *testWorld) tryJoin(world string, rq api.JoinRequest) (*Player, *sink, error) {
	for {
		room, err := w.registry.GetOrCreate(context.Background(), world)
		if err != nil {
			return nil, nil, err
		}
		s := &sink{}
		p := NewPlayer(com.NewUid(), s, room, rq, w.opts, logger.Nop())
		_, err = room.Join(p, rq.DesiredId)
		if errors.Is(err, ErrRoomClosed) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		return p, s, nil
	}
}

// send feeds a client message to the player as the hub would.
func send(t *testing.T, p *Player, m api.Msg, binary bool) {
	t.Helper()
	data, err := api.EncodeRequest(m, binary)
	if err != nil {
		t.Fatalf("couldn't encode %v: %v", m.Type(), err)
	}
	p.Receive(data, binary)
}

func ptr[T any](v T) *T { return &v }
