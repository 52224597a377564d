package negotiator

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Engine is an SFU that hands out routers, one per room.
type Engine interface {
	NewRouter(ctx context.Context) (SFURouter, error)
}

// SFURouter routes media between the transports it has created.
type SFURouter interface {
	Id() string
	// Codecs are the RTP capabilities of the router.
	Codecs() []webrtc.RTPCodecParameters
	CreateWebRtcTransport(ctx context.Context) (SFUTransport, error)
	Close() error
}

// SFUTransport is a single ICE/DTLS/SCTP association with a client.
type SFUTransport interface {
	Id() string
	IceParameters() webrtc.ICEParameters
	IceCandidates() []webrtc.ICECandidate
	DtlsParameters() webrtc.DTLSParameters
	SctpCapabilities() webrtc.SCTPCapabilities

	// Connect starts the handshake with the remote side.
	// It must not wait for the handshake to complete.
	Connect(ctx context.Context, dtls webrtc.DTLSParameters, ice *webrtc.ICEParameters) error
	Produce(ctx context.Context, kind webrtc.RTPCodecType, params webrtc.RTPParameters,
		encodings []webrtc.RTPDecodingParameters) (SFUProducer, error)
	ProduceData(ctx context.Context, params webrtc.DataChannelParameters) (SFUDataProducer, error)
	// Consume creates a paused consumer of a router producer.
	Consume(ctx context.Context, producerId string, caps []webrtc.RTPCodecParameters) (SFUConsumer, error)
	ConsumeData(ctx context.Context, dataProducerId string) (SFUDataConsumer, error)
	Close() error
}

type SFUProducer interface {
	Id() string
	Kind() webrtc.RTPCodecType
	Close() error
}

type SFUConsumer interface {
	Id() string
	ProducerId() string
	Kind() webrtc.RTPCodecType
	Parameters() webrtc.RTPParameters
	Encodings() []webrtc.RTPEncodingParameters
	Resume(ctx context.Context) error
	Close() error
}

type SFUDataProducer interface {
	Id() string
	Parameters() webrtc.DataChannelParameters
	Close() error
}

type SFUDataConsumer interface {
	Id() string
	DataProducerId() string
	Parameters() webrtc.DataChannelParameters
	Close() error
}
