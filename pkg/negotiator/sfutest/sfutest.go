// Package sfutest provides an in-memory SFU engine that counts
// every allocation and release, for tests.
package sfutest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/worldhost/worldhost/pkg/negotiator"
)

var ErrExhausted = errors.New("sfutest: no resources")

type Stats struct {
	Routers, RoutersClosed             int64
	Transports, TransportsClosed       int64
	Producers, ProducersClosed         int64
	Consumers, ConsumersClosed         int64
	DataProducers, DataProducersClosed int64
	DataConsumers, DataConsumersClosed int64
}

// Engine is a fake SFU.
type Engine struct {
	seq atomic.Int64

	routers, routersClosed             atomic.Int64
	transports, transportsClosed       atomic.Int64
	producers, producersClosed         atomic.Int64
	consumers, consumersClosed         atomic.Int64
	dataProducers, dataProducersClosed atomic.Int64
	dataConsumers, dataConsumersClosed atomic.Int64

	// FailTransports makes transport allocation fail.
	FailTransports atomic.Bool
	// Gate, when set, blocks transport allocation until it is closed or ctx is done.
	Gate chan struct{}
	// OnConsume runs after each consumer or data consumer is made.
	OnConsume func()
	// Candidate overrides the transport ICE candidate.
	Candidate *webrtc.ICECandidate
	// Role overrides the transport DTLS role.
	Role *webrtc.DTLSRole
}

var _ negotiator.Engine = (*Engine)(nil)

func New() *Engine { return &Engine{} }

func (e *Engine) Stats() Stats {
	return Stats{
		Routers: e.routers.Load(), RoutersClosed: e.routersClosed.Load(),
		Transports: e.transports.Load(), TransportsClosed: e.transportsClosed.Load(),
		Producers: e.producers.Load(), ProducersClosed: e.producersClosed.Load(),
		Consumers: e.consumers.Load(), ConsumersClosed: e.consumersClosed.Load(),
		DataProducers: e.dataProducers.Load(), DataProducersClosed: e.dataProducersClosed.Load(),
		DataConsumers: e.dataConsumers.Load(), DataConsumersClosed: e.dataConsumersClosed.Load(),
	}
}

func (e *Engine) id(prefix string) string { return fmt.Sprintf("%s-%d", prefix, e.seq.Add(1)) }

func (e *Engine) NewRouter(context.Context) (negotiator.SFURouter, error) {
	e.routers.Add(1)
	return &router{e: e, id: e.id("router"), producers: map[string]*producer{}, data: map[string]*dataProducer{}}, nil
}

type closer struct {
	once    sync.Once
	counter *atomic.Int64
}

func (c *closer) Close() error {
	c.once.Do(func() { c.counter.Add(1) })
	return nil
}

type router struct {
	e  *Engine
	id string

	mu        sync.Mutex
	producers map[string]*producer
	data      map[string]*dataProducer
	closed    bool
}

func (r *router) Id() string { return r.id }

func (r *router) Codecs() []webrtc.RTPCodecParameters {
	return []webrtc.RTPCodecParameters{{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}}
}

func (r *router) CreateWebRtcTransport(ctx context.Context) (negotiator.SFUTransport, error) {
	if r.e.Gate != nil {
		select {
		case <-r.e.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.e.FailTransports.Load() {
		return nil, ErrExhausted
	}
	r.e.transports.Add(1)
	return &transport{r: r, id: r.e.id("transport"), closer: closer{counter: &r.e.transportsClosed}}, nil
}

func (r *router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		r.e.routersClosed.Add(1)
	}
	return nil
}

type transport struct {
	closer
	r  *router
	id string

	connected atomic.Bool
}

func (t *transport) Id() string { return t.id }

func (t *transport) IceParameters() webrtc.ICEParameters {
	return webrtc.ICEParameters{UsernameFragment: "ufrag" + t.id, Password: "passwordpasswordpassword"}
}

func (t *transport) IceCandidates() []webrtc.ICECandidate {
	if t.r.e.Candidate != nil {
		return []webrtc.ICECandidate{*t.r.e.Candidate}
	}
	return []webrtc.ICECandidate{{
		Foundation: "1", Priority: 2130706431, Address: "127.0.0.1", Protocol: webrtc.ICEProtocolUDP,
		Port: 40000, Typ: webrtc.ICECandidateTypeHost, Component: 1,
	}}
}

func (t *transport) DtlsParameters() webrtc.DTLSParameters {
	role := webrtc.DTLSRoleAuto
	if t.r.e.Role != nil {
		role = *t.r.e.Role
	}
	return webrtc.DTLSParameters{Role: role, Fingerprints: []webrtc.DTLSFingerprint{{Algorithm: "sha-256", Value: "AA:BB"}}}
}

func (t *transport) SctpCapabilities() webrtc.SCTPCapabilities {
	return webrtc.SCTPCapabilities{MaxMessageSize: 65536}
}

func (t *transport) Connect(context.Context, webrtc.DTLSParameters, *webrtc.ICEParameters) error {
	if !t.connected.CompareAndSwap(false, true) {
		return errors.New("sfutest: already connected")
	}
	return nil
}

func (t *transport) Produce(_ context.Context, kind webrtc.RTPCodecType, params webrtc.RTPParameters,
	_ []webrtc.RTPDecodingParameters) (negotiator.SFUProducer, error) {
	if !t.connected.Load() {
		return nil, errors.New("sfutest: not connected")
	}
	t.r.e.producers.Add(1)
	p := &producer{id: t.r.e.id("producer"), r: t.r, kind: kind, params: params, closer: closer{counter: &t.r.e.producersClosed}}
	t.r.mu.Lock()
	t.r.producers[p.id] = p
	t.r.mu.Unlock()
	return p, nil
}

func (t *transport) ProduceData(_ context.Context, params webrtc.DataChannelParameters) (negotiator.SFUDataProducer, error) {
	t.r.e.dataProducers.Add(1)
	p := &dataProducer{id: t.r.e.id("data-producer"), r: t.r, params: params, closer: closer{counter: &t.r.e.dataProducersClosed}}
	t.r.mu.Lock()
	t.r.data[p.id] = p
	t.r.mu.Unlock()
	return p, nil
}

func (t *transport) Consume(_ context.Context, producerId string, _ []webrtc.RTPCodecParameters) (negotiator.SFUConsumer, error) {
	t.r.mu.Lock()
	p, ok := t.r.producers[producerId]
	t.r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("sfutest: no producer %v", producerId)
	}
	t.r.e.consumers.Add(1)
	c := &consumer{id: t.r.e.id("consumer"), p: p, closer: closer{counter: &t.r.e.consumersClosed}}
	if t.r.e.OnConsume != nil {
		t.r.e.OnConsume()
	}
	return c, nil
}

func (t *transport) ConsumeData(_ context.Context, dataProducerId string) (negotiator.SFUDataConsumer, error) {
	t.r.mu.Lock()
	p, ok := t.r.data[dataProducerId]
	t.r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("sfutest: no data producer %v", dataProducerId)
	}
	t.r.e.dataConsumers.Add(1)
	c := &dataConsumer{id: t.r.e.id("data-consumer"), p: p, closer: closer{counter: &t.r.e.dataConsumersClosed}}
	if t.r.e.OnConsume != nil {
		t.r.e.OnConsume()
	}
	return c, nil
}

type producer struct {
	closer
	id     string
	r      *router
	kind   webrtc.RTPCodecType
	params webrtc.RTPParameters
}

// Close makes the producer unknown to new consumers.
func (p *producer) Close() error {
	p.r.mu.Lock()
	delete(p.r.producers, p.id)
	p.r.mu.Unlock()
	return p.closer.Close()
}

func (p *producer) Id() string                { return p.id }
func (p *producer) Kind() webrtc.RTPCodecType { return p.kind }

type consumer struct {
	closer
	id      string
	p       *producer
	resumed atomic.Bool
}

func (c *consumer) Id() string                       { return c.id }
func (c *consumer) ProducerId() string               { return c.p.id }
func (c *consumer) Kind() webrtc.RTPCodecType        { return c.p.kind }
func (c *consumer) Parameters() webrtc.RTPParameters { return c.p.params }
func (c *consumer) Resume(context.Context) error     { c.resumed.Store(true); return nil }
func (c *consumer) Encodings() []webrtc.RTPEncodingParameters {
	return []webrtc.RTPEncodingParameters{{RTPCodingParameters: webrtc.RTPCodingParameters{SSRC: 1000}}}
}

type dataProducer struct {
	closer
	id     string
	r      *router
	params webrtc.DataChannelParameters
}

func (p *dataProducer) Close() error {
	p.r.mu.Lock()
	delete(p.r.data, p.id)
	p.r.mu.Unlock()
	return p.closer.Close()
}

func (p *dataProducer) Id() string                               { return p.id }
func (p *dataProducer) Parameters() webrtc.DataChannelParameters { return p.params }

type dataConsumer struct {
	closer
	id string
	p  *dataProducer
}

func (c *dataConsumer) Id() string                               { return c.id }
func (c *dataConsumer) DataProducerId() string                   { return c.p.id }
func (c *dataConsumer) Parameters() webrtc.DataChannelParameters { return c.p.params }
