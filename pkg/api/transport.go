package api

type Direction string

const (
	DirProducer Direction = "producer"
	DirConsumer Direction = "consumer"
)

func (d Direction) IsValid() bool { return d == DirProducer || d == DirConsumer }

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// TransportOptions describe a host WebRTC transport to the client.
type TransportOptions struct {
	Id             string          `json:"id"`
	IceParameters  IceParameters   `json:"iceParameters"`
	IceCandidates  []IceCandidate  `json:"iceCandidates"`
	DtlsParameters DtlsParameters  `json:"dtlsParameters"`
	SctpParameters *SctpParameters `json:"sctpParameters,omitempty"`
}

type IceParameters struct {
	UsernameFragment string `json:"usernameFragment" validate:"required,min=4,max=256"`
	Password         string `json:"password" validate:"required,min=22,max=256"`
	IceLite          bool   `json:"iceLite,omitempty"`
}

type IceCandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	Ip         string `json:"ip"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
	TcpType    string `json:"tcpType,omitempty"`
}

type DtlsRole string

const (
	DtlsAuto   DtlsRole = "auto"
	DtlsClient DtlsRole = "client"
	DtlsServer DtlsRole = "server"
)

type DtlsParameters struct {
	Role         DtlsRole          `json:"role,omitempty" validate:"omitempty,oneof=auto client server"`
	Fingerprints []DtlsFingerprint `json:"fingerprints" validate:"required,min=1,max=8,dive"`
}

type DtlsFingerprint struct {
	Algorithm string `json:"algorithm" validate:"required,oneof=sha-1 sha-224 sha-256 sha-384 sha-512"`
	Value     string `json:"value" validate:"required,max=256"`
}

type SctpParameters struct {
	Port           uint16 `json:"port"`
	OS             uint16 `json:"OS"`
	MIS            uint16 `json:"MIS"`
	MaxMessageSize uint32 `json:"maxMessageSize"`
}

type SctpStreamParameters struct {
	StreamId          uint16  `json:"streamId" validate:"lte=65534"`
	Ordered           *bool   `json:"ordered,omitempty"`
	MaxPacketLifeTime *uint16 `json:"maxPacketLifeTime,omitempty"`
	MaxRetransmits    *uint16 `json:"maxRetransmits,omitempty" validate:"excluded_with=MaxPacketLifeTime"`
}

type RtcpFeedback struct {
	Type      string `json:"type" validate:"required,max=32"`
	Parameter string `json:"parameter,omitempty" validate:"max=32"`
}

type RtpCodecParameters struct {
	MimeType     string         `json:"mimeType" validate:"required,max=64,contains=/"`
	PayloadType  uint8          `json:"payloadType" validate:"lte=127"`
	ClockRate    uint32         `json:"clockRate" validate:"required"`
	Channels     uint16         `json:"channels,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty" validate:"max=32"`
	RtcpFeedback []RtcpFeedback `json:"rtcpFeedback,omitempty" validate:"max=16,dive"`
}

type RtpEncodingParameters struct {
	Ssrc uint32 `json:"ssrc" validate:"required"`
	Rid  string `json:"rid,omitempty" validate:"max=32"`
}

type RtpParameters struct {
	Mid       string                  `json:"mid,omitempty" validate:"max=32"`
	Codecs    []RtpCodecParameters    `json:"codecs" validate:"required,min=1,max=16,dive"`
	Encodings []RtpEncodingParameters `json:"encodings" validate:"required,min=1,max=4,dive"`
}

type RtpCodecCapability struct {
	Kind                 MediaKind      `json:"kind" validate:"required,oneof=audio video"`
	MimeType             string         `json:"mimeType" validate:"required,max=64,contains=/"`
	PreferredPayloadType uint8          `json:"preferredPayloadType,omitempty" validate:"lte=127"`
	ClockRate            uint32         `json:"clockRate" validate:"required"`
	Channels             uint16         `json:"channels,omitempty"`
	Parameters           map[string]any `json:"parameters,omitempty" validate:"max=32"`
	RtcpFeedback         []RtcpFeedback `json:"rtcpFeedback,omitempty" validate:"max=16,dive"`
}

type RtpCapabilities struct {
	Codecs []RtpCodecCapability `json:"codecs" validate:"required,min=1,max=32,dive"`
}

// Negotiation requests.
type (
	RouterCapabilitiesRequest struct{}
	CreateTransportRequest    struct {
		Direction Direction `json:"direction" validate:"required,oneof=producer consumer"`
	}
	ConnectTransportRequest struct {
		Direction      Direction      `json:"direction" validate:"required,oneof=producer consumer"`
		DtlsParameters DtlsParameters `json:"dtlsParameters"`
		// IceParameters carry the client ICE credentials when
		// the client is not an ICE-lite peer.
		IceParameters *IceParameters `json:"iceParameters,omitempty"`
	}
	ProduceRequest struct {
		Kind          MediaKind     `json:"kind,omitempty" validate:"omitempty,oneof=audio video"`
		RtpParameters RtpParameters `json:"rtpParameters"`
	}
	ProduceDataRequest struct {
		SctpStreamParameters SctpStreamParameters `json:"sctpStreamParameters"`
		Label                string               `json:"label,omitempty" validate:"max=64"`
		Protocol             string               `json:"protocol,omitempty" validate:"max=64"`
	}
	SetRtpCapabilitiesRequest struct {
		RtpCapabilities
	}
	ReadyToConsumeRequest struct {
		Ready *bool `json:"ready" validate:"required"`
	}
	ResumeAudioRequest struct{}
)

func (RouterCapabilitiesRequest) Type() PT { return GetRouterCapabilities }
func (CreateTransportRequest) Type() PT    { return CreateTransport }
func (ConnectTransportRequest) Type() PT   { return ConnectTransport }
func (ProduceRequest) Type() PT            { return Produce }
func (ProduceDataRequest) Type() PT        { return ProduceData }
func (SetRtpCapabilitiesRequest) Type() PT { return SetRtpCapabilities }
func (ReadyToConsumeRequest) Type() PT     { return ReadyToConsume }
func (ResumeAudioRequest) Type() PT        { return ResumeAudio }

// Negotiation responses.
type (
	RouterCapabilitiesResponse struct {
		RtpCapabilities
	}
	TransportCreatedResponse struct {
		Direction Direction        `json:"direction"`
		Options   TransportOptions `json:"options"`
	}
	TransportConnectedResponse struct {
		Direction Direction `json:"direction"`
	}
	CreateConsumerMessage struct {
		PlayerId      PlayerId      `json:"playerId"`
		Id            string        `json:"id"`
		ProducerId    string        `json:"producerId"`
		Kind          MediaKind     `json:"kind"`
		RtpParameters RtpParameters `json:"rtpParameters"`
	}
	CreateDataConsumerMessage struct {
		PlayerId             PlayerId             `json:"playerId"`
		Id                   string               `json:"id"`
		DataProducerId       string               `json:"dataProducerId"`
		SctpStreamParameters SctpStreamParameters `json:"sctpStreamParameters"`
		Label                string               `json:"label"`
		Protocol             string               `json:"protocol"`
	}
	ProducerIdResponse struct {
		Id string `json:"id"`
	}
	DataProducerIdResponse struct {
		Id string `json:"id"`
	}
	ConsumerClosedMessage struct {
		Id string `json:"id"`
	}
)

func (RouterCapabilitiesResponse) Type() PT { return RouterCapabilities }
func (TransportCreatedResponse) Type() PT   { return TransportCreated }
func (TransportConnectedResponse) Type() PT { return TransportConnected }
func (CreateConsumerMessage) Type() PT      { return CreateConsumer }
func (CreateDataConsumerMessage) Type() PT  { return CreateDataConsumer }
func (ProducerIdResponse) Type() PT         { return ProducerId }
func (DataProducerIdResponse) Type() PT     { return DataProducerId }
func (ConsumerClosedMessage) Type() PT      { return ConsumerClosed }
