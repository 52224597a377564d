// Package webrtc is an SFU engine built on the pion ORTC objects.
//
// Each router keeps the producers of its transports. A producer reads RTP
// from its receiver and writes it into a local static track, and every
// consumer is an RTP sender bound to that track. Data producers fan out
// SCTP messages to the data channels of their consumers.
package webrtc

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/worldhost/worldhost/pkg/config"
	"github.com/worldhost/worldhost/pkg/logger"
	"github.com/worldhost/worldhost/pkg/negotiator"
)

var (
	ErrClosed             = errors.New("closed")
	ErrNotConnected       = errors.New("transport is not connected")
	ErrAlreadyConnected   = errors.New("transport is already connected")
	ErrNoIceParameters    = errors.New("remote ICE parameters are required")
	ErrUnknownProducer    = errors.New("unknown producer")
	ErrIncompatibleCodecs = errors.New("no compatible codec")
)

// Engine creates routers sharing one pion API.
type Engine struct {
	api *ApiFactory
	log *logger.Logger
}

var _ negotiator.Engine = (*Engine)(nil)

func NewEngine(conf config.Webrtc, log *logger.Logger) (*Engine, error) {
	log = log.Extend(log.With().Str(logger.ModuleField, "sfu"))
	api, err := NewApiFactory(conf, log, nil)
	if err != nil {
		return nil, err
	}
	return &Engine{api: api, log: log}, nil
}

func (e *Engine) NewRouter(context.Context) (negotiator.SFURouter, error) {
	id := newId()
	return &Router{
		id:            id,
		api:           e.api,
		log:           e.log.Extend(e.log.With().Str("router", id)),
		transports:    map[string]*Transport{},
		producers:     map[string]*Producer{},
		dataProducers: map[string]*DataProducer{},
	}, nil
}

func (e *Engine) Close() error { return e.api.Close() }

func newId() string { return uuid.Must(uuid.NewV4()).String() }

// Router tracks the transports and producers of a room.
type Router struct {
	id  string
	api *ApiFactory
	log *logger.Logger

	mu            sync.Mutex
	transports    map[string]*Transport
	producers     map[string]*Producer
	dataProducers map[string]*DataProducer
	closed        bool
}

func (r *Router) Id() string { return r.id }

// Codecs are the audio codecs that producers may use.
func (r *Router) Codecs() []webrtc.RTPCodecParameters {
	return []webrtc.RTPCodecParameters{
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:     webrtc.MimeTypeOpus,
				ClockRate:    48000,
				Channels:     2,
				SDPFmtpLine:  "minptime=10;useinbandfec=1",
				RTCPFeedback: []webrtc.RTCPFeedback{{Type: "transport-cc"}},
			},
			PayloadType: 111,
		},
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:     webrtc.MimeTypeVP8,
				ClockRate:    90000,
				RTCPFeedback: []webrtc.RTCPFeedback{{Type: "nack"}, {Type: "nack", Parameter: "pli"}, {Type: "transport-cc"}},
			},
			PayloadType: 96,
		},
	}
}

func (r *Router) CreateWebRtcTransport(ctx context.Context) (negotiator.SFUTransport, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	t, err := newTransport(ctx, r)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = t.Close()
		return nil, ErrClosed
	}
	r.transports[t.id] = t
	return t, nil
}

func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	transports := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.Unlock()

	for _, t := range transports {
		_ = t.Close()
	}
	r.log.Debug().Msg("Router closed")
	return nil
}

func (r *Router) removeTransport(id string) {
	r.mu.Lock()
	delete(r.transports, id)
	r.mu.Unlock()
}

func (r *Router) addProducer(p *Producer) {
	r.mu.Lock()
	r.producers[p.id] = p
	r.mu.Unlock()
}

func (r *Router) removeProducer(id string) {
	r.mu.Lock()
	delete(r.producers, id)
	r.mu.Unlock()
}

func (r *Router) producer(id string) (*Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *Router) addDataProducer(p *DataProducer) {
	r.mu.Lock()
	r.dataProducers[p.id] = p
	r.mu.Unlock()
}

func (r *Router) removeDataProducer(id string) {
	r.mu.Lock()
	delete(r.dataProducers, id)
	r.mu.Unlock()
}

func (r *Router) dataProducer(id string) (*DataProducer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.dataProducers[id]
	return p, ok
}

// supports checks that the client can decode the codec.
func supports(caps []webrtc.RTPCodecParameters, codec webrtc.RTPCodecCapability) bool {
	for _, c := range caps {
		if strings.EqualFold(c.MimeType, codec.MimeType) && c.ClockRate == codec.ClockRate {
			return true
		}
	}
	return false
}
