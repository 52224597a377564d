package host

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc"
	"github.com/worldhost/worldhost/pkg/api"
	"github.com/worldhost/worldhost/pkg/com"
	"github.com/worldhost/worldhost/pkg/logger"
	"github.com/worldhost/worldhost/pkg/negotiator"
)

// Sink is the outbound side of a player connection.
// TrySend must not block.
type Sink interface {
	TrySend(data []byte, binary bool) bool
	Close()
}

// State is the lifecycle of a player session.
type State uint8

const (
	Connecting State = iota
	Joined
	Active
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Joined:
		return "joined"
	case Active:
		return "active"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Player is a session of one connected client in a room.
type Player struct {
	id    api.PlayerId
	cid   com.Uid
	out   Sink
	room  *Room
	codec *api.Codec
	log   *logger.Logger
	m     *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	tasks  conc.WaitGroup
	once   sync.Once

	maxViolations int32
	violations    atomic.Int32

	mu        sync.Mutex
	state     State
	nickname  *string
	avatarUri *string
	address   *string
	did       *string
	transform api.Transform
	located   bool
	falling   bool

	neg           map[api.Direction]*negotiation
	caps          *api.RtpCapabilities
	ready         bool
	resumed       bool
	producers     []*negotiator.Producer
	dataProducers []*negotiator.DataProducer
	links         map[string]*link
	// players that left, ids are never reused in a room
	left map[api.PlayerId]struct{}
}

type PlayerOptions struct {
	Codec         *api.Codec
	MaxViolations int
	Metrics       *Metrics
}

func NewPlayer(cid com.Uid, out Sink, room *Room, rq api.JoinRequest, opts PlayerOptions, log *logger.Logger) *Player {
	ctx, cancel := context.WithCancel(context.Background())
	return &Player{
		cid:           cid,
		out:           out,
		room:          room,
		codec:         opts.Codec,
		m:             opts.Metrics,
		log:           log,
		ctx:           ctx,
		cancel:        cancel,
		maxViolations: int32(opts.MaxViolations),
		nickname:      rq.Nickname,
		avatarUri:     rq.AvatarUri,
		address:       rq.Address,
		did:           rq.Did,
		transform:     api.IdentityTransform,
		neg: map[api.Direction]*negotiation{
			api.DirProducer: {dir: api.DirProducer},
			api.DirConsumer: {dir: api.DirConsumer},
		},
		links: map[string]*link{},
		left:  map[api.PlayerId]struct{}{},
	}
}

func (p *Player) Id() api.PlayerId { return p.id }
func (p *Player) Cid() com.Uid     { return p.cid }

func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// joined is called by the room under its lock.
func (p *Player) joined(id api.PlayerId) {
	p.mu.Lock()
	p.id = id
	p.state = Joined
	p.mu.Unlock()
	p.log = p.log.Extend(p.log.With().Uint32("player", uint32(id)))
}

func (p *Player) closing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state >= Closing
}

// activate moves a joined player to active after its first media operation.
// Expects the player lock.
func (p *Player) activate() {
	if p.state == Joined {
		p.state = Active
	}
}

func (p *Player) presence(beforeYou bool) api.PlayerJoinedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return api.PlayerJoinedMessage{
		PlayerId:  p.id,
		Nickname:  p.nickname,
		AvatarUri: p.avatarUri,
		Address:   p.address,
		Did:       p.did,
		BeforeYou: beforeYou,
	}
}

// roster is what a newcomer learns about this player.
func (p *Player) roster() []api.Msg {
	msgs := []api.Msg{p.presence(true)}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.located {
		msgs = append(msgs, api.PlayerLocationMessage{PlayerId: p.id, Transform: p.transform})
	}
	if p.falling {
		msgs = append(msgs, api.PlayerFallingMessage{PlayerId: p.id, IsFalling: true})
	}
	return msgs
}

// push enqueues an encoded frame.
func (p *Player) push(data []byte, binary bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enqueue(data, binary)
}

// enqueue expects the player lock.
// A full queue disconnects the player.
func (p *Player) enqueue(data []byte, binary bool) {
	if p.out.TrySend(data, binary) || p.state >= Closing {
		return
	}
	p.log.Warn().Msg("Outbound queue is full, disconnecting")
	p.m.Overflows.Inc()
	p.kick()
}

// kick ends the session from the inside: the player stops handling
// its messages at once and leaves the room in the background.
// Expects the player lock.
func (p *Player) kick() {
	if p.state >= Closing {
		return
	}
	p.state = Closing
	p.out.Close()
	go p.Close()
}

// Send replies to the player directly.
func (p *Player) Send(m api.Msg) {
	data, binary, err := api.Encode(m)
	if err != nil {
		p.log.Error().Err(err).Msgf("Couldn't encode %v", m.Type())
		return
	}
	p.push(data, binary)
}

// Receive decodes and handles one inbound frame.
// Malformed frames are dropped and have no effect.
func (p *Player) Receive(data []byte, binary bool) {
	msg, err := p.codec.Decode(data, binary)
	if err != nil {
		p.m.Dropped.WithLabelValues("malformed").Inc()
		p.log.Warn().Err(err).Msg("Dropped malformed message")
		return
	}
	if p.closing() {
		return
	}
	if err = p.handle(msg); err != nil {
		p.fail(msg.Type(), err)
	}
}

// fail reports an error back to the player.
// Too many sequence errors end the session.
func (p *Player) fail(kind api.PT, err error) {
	if p.ctx.Err() != nil {
		return
	}
	if !errors.Is(err, ErrSequence) {
		p.log.Warn().Err(err).Msgf("%v has failed", kind)
		p.Send(api.ErrorMessage{Kind: kind, Reason: err.Error()})
		return
	}
	p.m.Dropped.WithLabelValues("sequence").Inc()
	n := p.violations.Add(1)
	p.log.Warn().Err(err).Int32("violations", n).Msgf("Rejected %v", kind)
	p.Send(api.ErrorMessage{Kind: kind, Reason: err.Error()})
	if p.maxViolations > 0 && n >= p.maxViolations {
		p.log.Warn().Msg("Too many protocol violations, disconnecting")
		p.mu.Lock()
		p.kick()
		p.mu.Unlock()
	}
}

// Close leaves the room and releases every SFU object of the player.
// Safe to call many times.
func (p *Player) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.state = Closing
		p.mu.Unlock()

		p.cancel()
		if r := p.tasks.WaitAndRecover(); r != nil {
			p.log.Error().Str("panic", r.String()).Msg("Negotiation task has panicked")
		}
		// sources go first so no peer can link them after the leave
		p.closeSources()
		p.room.Leave(p)
		p.release()
		p.out.Close()

		p.mu.Lock()
		p.state = Closed
		p.mu.Unlock()
		p.log.Debug().Msg("Player closed")
	})
}

func (p *Player) closeSources() {
	p.mu.Lock()
	producers, dataProducers := p.producers, p.dataProducers
	p.producers, p.dataProducers = nil, nil
	p.mu.Unlock()

	for _, pr := range producers {
		_ = pr.Close()
	}
	for _, dp := range dataProducers {
		_ = dp.Close()
	}
}

func (p *Player) release() {
	p.mu.Lock()
	links := p.links
	p.links = map[string]*link{}
	var transports []*negotiator.Transport
	for _, n := range p.neg {
		if n.transport != nil {
			transports = append(transports, n.transport)
			n.transport = nil
		}
		n.state = NegIdle
	}
	p.mu.Unlock()

	for _, l := range links {
		l.close()
	}
	for _, t := range transports {
		if err := t.Close(); err != nil {
			p.log.Warn().Err(err).Msg("Transport close has failed")
		}
		p.m.Transports.WithLabelValues("closed").Inc()
	}
}
