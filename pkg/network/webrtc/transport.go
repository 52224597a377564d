package webrtc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/worldhost/worldhost/pkg/logger"
	"github.com/worldhost/worldhost/pkg/negotiator"
)

// Transport is an ICE/DTLS/SCTP stack made of pion ORTC objects.
type Transport struct {
	id  string
	r   *Router
	log *logger.Logger

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	sctp     *webrtc.SCTPTransport

	iceParams  webrtc.ICEParameters
	candidates []webrtc.ICECandidate
	dtlsParams webrtc.DTLSParameters

	connected atomic.Bool
	// ready is closed once the DTLS and SCTP layers are up
	ready    chan struct{}
	readyErr error

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	mu       sync.Mutex
	closers  []func() error
	streamId uint16
}

var _ negotiator.SFUTransport = (*Transport)(nil)

func newTransport(ctx context.Context, r *Router) (_ *Transport, err error) {
	t := &Transport{id: newId(), r: r, ready: make(chan struct{})}
	t.log = r.log.Extend(r.log.With().Str("transport", t.id))
	t.ctx, t.cancel = context.WithCancel(context.Background())

	api := r.api.api
	defer func() {
		if err != nil {
			t.stop()
		}
	}()

	if t.gatherer, err = api.NewICEGatherer(r.api.gatherOptions()); err != nil {
		return nil, err
	}
	t.ice = api.NewICETransport(t.gatherer)
	if t.dtls, err = api.NewDTLSTransport(t.ice, nil); err != nil {
		return nil, err
	}
	t.sctp = api.NewSCTPTransport(t.dtls)

	gathered := make(chan struct{})
	var gatherOnce sync.Once
	t.gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			gatherOnce.Do(func() { close(gathered) })
		}
	})
	if err = t.gatherer.Gather(); err != nil {
		return nil, err
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if t.iceParams, err = t.gatherer.GetLocalParameters(); err != nil {
		return nil, err
	}
	t.iceParams.ICELite = r.api.lite
	if t.candidates, err = t.gatherer.GetLocalCandidates(); err != nil {
		return nil, err
	}
	if t.dtlsParams, err = t.dtls.GetLocalParameters(); err != nil {
		return nil, err
	}
	t.log.Debug().Int("candidates", len(t.candidates)).Msg("Transport created")
	return t, nil
}

func (t *Transport) Id() string                            { return t.id }
func (t *Transport) IceParameters() webrtc.ICEParameters   { return t.iceParams }
func (t *Transport) IceCandidates() []webrtc.ICECandidate  { return t.candidates }
func (t *Transport) DtlsParameters() webrtc.DTLSParameters { return t.dtlsParams }

func (t *Transport) SctpCapabilities() webrtc.SCTPCapabilities { return t.sctp.GetCapabilities() }

// Connect starts ICE, DTLS and SCTP in the background.
// Media operations wait for them on their own.
func (t *Transport) Connect(_ context.Context, dtls webrtc.DTLSParameters, ice *webrtc.ICEParameters) error {
	if ice == nil {
		return ErrNoIceParameters
	}
	if t.ctx.Err() != nil {
		return ErrClosed
	}
	if !t.connected.CompareAndSwap(false, true) {
		return ErrAlreadyConnected
	}
	remote := *ice
	go t.start(dtls, remote)
	return nil
}

func (t *Transport) start(dtls webrtc.DTLSParameters, ice webrtc.ICEParameters) {
	var err error
	defer func() {
		t.readyErr = err
		close(t.ready)
		if err != nil && t.ctx.Err() == nil {
			t.log.Warn().Err(err).Msg("Transport handshake has failed")
		}
	}()
	role := webrtc.ICERoleControlled
	if err = t.ice.Start(t.gatherer, ice, &role); err != nil {
		return
	}
	if err = t.dtls.Start(dtls); err != nil {
		return
	}
	if err = t.sctp.Start(webrtc.SCTPCapabilities{MaxMessageSize: 0}); err != nil {
		return
	}
	t.log.Debug().Msg("Transport connected")
}

// whenReady runs fn in the background after the handshake.
func (t *Transport) whenReady(what string, fn func() error) {
	go func() {
		select {
		case <-t.ready:
		case <-t.ctx.Done():
			return
		}
		if t.readyErr != nil {
			return
		}
		if err := fn(); err != nil && t.ctx.Err() == nil {
			t.log.Warn().Err(err).Msgf("%s has failed", what)
		}
	}()
}

func (t *Transport) track(closer func() error) {
	t.mu.Lock()
	t.closers = append(t.closers, closer)
	t.mu.Unlock()
}

func (t *Transport) nextStreamId() uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.streamId++
	return t.streamId
}

func (t *Transport) Produce(_ context.Context, kind webrtc.RTPCodecType, params webrtc.RTPParameters,
	encodings []webrtc.RTPDecodingParameters) (negotiator.SFUProducer, error) {
	if !t.connected.Load() {
		return nil, ErrNotConnected
	}
	if len(params.Codecs) == 0 || !supports(t.r.Codecs(), params.Codecs[0].RTPCodecCapability) {
		return nil, ErrIncompatibleCodecs
	}
	p, err := newProducer(t, kind, params, encodings)
	if err != nil {
		return nil, err
	}
	t.track(p.Close)
	t.r.addProducer(p)
	return p, nil
}

func (t *Transport) Consume(_ context.Context, producerId string, caps []webrtc.RTPCodecParameters) (negotiator.SFUConsumer, error) {
	if !t.connected.Load() {
		return nil, ErrNotConnected
	}
	p, ok := t.r.producer(producerId)
	if !ok {
		return nil, ErrUnknownProducer
	}
	if !supports(caps, p.params.Codecs[0].RTPCodecCapability) {
		return nil, ErrIncompatibleCodecs
	}
	c, err := newConsumer(t, p)
	if err != nil {
		return nil, err
	}
	t.track(c.Close)
	return c, nil
}

func (t *Transport) ProduceData(_ context.Context, params webrtc.DataChannelParameters) (negotiator.SFUDataProducer, error) {
	if !t.connected.Load() {
		return nil, ErrNotConnected
	}
	p := newDataProducer(t, params)
	t.track(p.Close)
	t.r.addDataProducer(p)
	return p, nil
}

func (t *Transport) ConsumeData(_ context.Context, dataProducerId string) (negotiator.SFUDataConsumer, error) {
	if !t.connected.Load() {
		return nil, ErrNotConnected
	}
	p, ok := t.r.dataProducer(dataProducerId)
	if !ok {
		return nil, ErrUnknownProducer
	}
	c := newDataConsumer(t, p)
	t.track(c.Close)
	return c, nil
}

// Close stops every object made on the transport and the transport itself.
func (t *Transport) Close() error {
	t.once.Do(func() {
		t.cancel()
		t.mu.Lock()
		closers := t.closers
		t.closers = nil
		t.mu.Unlock()
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		t.stop()
		t.r.removeTransport(t.id)
		t.log.Debug().Msg("Transport closed")
	})
	return nil
}

func (t *Transport) stop() {
	t.cancel()
	if t.sctp != nil {
		_ = t.sctp.Stop()
	}
	if t.dtls != nil {
		_ = t.dtls.Stop()
	}
	if t.ice != nil {
		_ = t.ice.Stop()
	}
	if t.gatherer != nil {
		_ = t.gatherer.Close()
	}
}
