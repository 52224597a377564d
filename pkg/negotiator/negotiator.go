// Package negotiator translates between the wire protocol and an SFU engine.
// No SFU type leaves this package except through the SFU* interfaces.
package negotiator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/worldhost/worldhost/pkg/api"
	"github.com/worldhost/worldhost/pkg/logger"
)

var (
	ErrTransportAllocationFailed = errors.New("transport allocation failed")
	ErrUnsupported               = errors.New("unsupported")
	ErrInvalidDirection          = errors.New("invalid direction")
	ErrRouterClosed              = errors.New("router closed")
	ErrConnectFailed             = errors.New("connect failed")
	ErrProduceFailed             = errors.New("produce failed")
	ErrConsumeFailed             = errors.New("consume failed")
	ErrRouterFailed              = errors.New("router allocation failed")
)

// Router is a room router.
type Router struct {
	sfu SFURouter
	log *logger.Logger

	mu     sync.Mutex
	closed bool
}

// NewRouter allocates a new SFU router.
func NewRouter(ctx context.Context, engine Engine, log *logger.Logger) (*Router, error) {
	r, err := engine.NewRouter(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRouterFailed, err)
	}
	return &Router{sfu: r, log: log}, nil
}

func (r *Router) Id() string { return r.sfu.Id() }

func (r *Router) Capabilities() api.RtpCapabilities { return capabilitiesToWire(r.sfu.Codecs()) }

// CreateTransport allocates one WebRTC transport and describes it for the client.
// The caller owns the returned transport and must close it.
func (r *Router) CreateTransport(ctx context.Context, dir api.Direction) (api.TransportOptions, *Transport, error) {
	if !dir.IsValid() {
		return api.TransportOptions{}, nil, fmt.Errorf("%w: %q", ErrInvalidDirection, dir)
	}
	if r.IsClosed() {
		return api.TransportOptions{}, nil, ErrRouterClosed
	}

	sfu, err := r.sfu.CreateWebRtcTransport(ctx)
	if err != nil {
		return api.TransportOptions{}, nil, fmt.Errorf("%w: %w", ErrTransportAllocationFailed, err)
	}

	opts, err := describe(sfu)
	if err != nil {
		r.log.Warn().Err(err).Str("transport", sfu.Id()).Msg("SFU transport is not translatable")
		_ = sfu.Close()
		return api.TransportOptions{}, nil, fmt.Errorf("%w: %w", ErrTransportAllocationFailed, err)
	}
	return opts, &Transport{sfu: sfu, dir: dir}, nil
}

func describe(t SFUTransport) (api.TransportOptions, error) {
	dtls, err := dtlsToWire(t.DtlsParameters())
	if err != nil {
		return api.TransportOptions{}, err
	}
	sfuCandidates := t.IceCandidates()
	candidates := make([]api.IceCandidate, 0, len(sfuCandidates))
	for _, c := range sfuCandidates {
		wc, err := candidateToWire(c)
		if err != nil {
			return api.TransportOptions{}, err
		}
		candidates = append(candidates, wc)
	}
	return api.TransportOptions{
		Id:             t.Id(),
		IceParameters:  iceToWire(t.IceParameters()),
		IceCandidates:  candidates,
		DtlsParameters: dtls,
		SctpParameters: sctpToWire(t.SctpCapabilities()),
	}, nil
}

func (r *Router) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Close releases the SFU router. Safe to call more than once.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	return r.sfu.Close()
}

// Transport is a live SFU transport in one direction.
type Transport struct {
	sfu  SFUTransport
	dir  api.Direction
	once sync.Once
}

func (t *Transport) Id() string               { return t.sfu.Id() }
func (t *Transport) Direction() api.Direction { return t.dir }

func (t *Transport) Connect(ctx context.Context, dtls api.DtlsParameters, ice *api.IceParameters) error {
	params, err := dtlsFromWire(dtls)
	if err != nil {
		return err
	}
	if err = t.sfu.Connect(ctx, params, iceFromWire(ice)); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	return nil
}

func (t *Transport) Produce(ctx context.Context, kind api.MediaKind, rtp api.RtpParameters) (*Producer, error) {
	if kind == "" {
		kind = api.KindAudio
	}
	params, encodings := rtpFromWire(rtp)
	p, err := t.sfu.Produce(ctx, kindFromWire(kind), params, encodings)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProduceFailed, err)
	}
	return &Producer{sfu: p}, nil
}

func (t *Transport) ProduceData(ctx context.Context, stream api.SctpStreamParameters, label, protocol string) (*DataProducer, error) {
	p, err := t.sfu.ProduceData(ctx, streamFromWire(stream, label, protocol))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProduceFailed, err)
	}
	return &DataProducer{sfu: p}, nil
}

// Consume creates a paused consumer of the producer for the client capabilities.
func (t *Transport) Consume(ctx context.Context, producerId string, caps api.RtpCapabilities) (*Consumer, error) {
	c, err := t.sfu.Consume(ctx, producerId, capabilitiesFromWire(caps))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConsumeFailed, err)
	}
	return &Consumer{sfu: c}, nil
}

func (t *Transport) ConsumeData(ctx context.Context, dataProducerId string) (*DataConsumer, error) {
	c, err := t.sfu.ConsumeData(ctx, dataProducerId)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConsumeFailed, err)
	}
	return &DataConsumer{sfu: c}, nil
}

// Close releases the SFU transport once.
func (t *Transport) Close() (err error) {
	t.once.Do(func() { err = t.sfu.Close() })
	return
}

type Producer struct{ sfu SFUProducer }

func (p *Producer) Id() string          { return p.sfu.Id() }
func (p *Producer) Kind() api.MediaKind { return kindToWire(p.sfu.Kind()) }
func (p *Producer) Close() error        { return p.sfu.Close() }

type Consumer struct{ sfu SFUConsumer }

func (c *Consumer) Id() string                       { return c.sfu.Id() }
func (c *Consumer) ProducerId() string               { return c.sfu.ProducerId() }
func (c *Consumer) Kind() api.MediaKind              { return kindToWire(c.sfu.Kind()) }
func (c *Consumer) Resume(ctx context.Context) error { return c.sfu.Resume(ctx) }
func (c *Consumer) Close() error                     { return c.sfu.Close() }
func (c *Consumer) RtpParameters() api.RtpParameters {
	return rtpToWire(c.sfu.Parameters(), c.sfu.Encodings())
}

type DataProducer struct{ sfu SFUDataProducer }

func (p *DataProducer) Id() string   { return p.sfu.Id() }
func (p *DataProducer) Close() error { return p.sfu.Close() }

type DataConsumer struct{ sfu SFUDataConsumer }

func (c *DataConsumer) Id() string             { return c.sfu.Id() }
func (c *DataConsumer) DataProducerId() string { return c.sfu.DataProducerId() }
func (c *DataConsumer) Label() string          { return c.sfu.Parameters().Label }
func (c *DataConsumer) Protocol() string       { return c.sfu.Parameters().Protocol }
func (c *DataConsumer) Close() error           { return c.sfu.Close() }
func (c *DataConsumer) SctpStreamParameters() api.SctpStreamParameters {
	return streamToWire(c.sfu.Parameters())
}
