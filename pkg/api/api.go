// Package api defines the wire protocol between world clients and the host.
//
// Each message is either a JSON-encoded "packet" of the following structure (text frames):
//
//	t - (required) one of the predefined unique packet types;
//	p - (optional) packet payload.
//
// or, for high-frequency transform updates, a CBOR array (binary frames):
//
//	[t, [posX, posY, posZ, qx, qy, qz, qw]]           - location
//	[t, playerId, [posX, posY, posZ, qx, qy, qz, qw]] - playerLocation
//
// The set of packet types is closed per direction. Decoding fails closed:
// unknown types, unparsable or invalid payloads are rejected as a whole.
//
// Example:
//
//	{"t":1,"p":{"worldId":"alpha","nickname":"bob"}}
package api

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

type (
	PT       uint8
	PlayerId uint32
)

type In struct {
	T       PT              `json:"t"`
	Payload json.RawMessage `json:"p,omitempty"` // should be json.RawMessage for 2-pass unmarshal
}

type Out struct {
	T       PT  `json:"t"`
	Payload any `json:"p,omitempty"`
}

// Msg is a decoded or ready to encode message of a known type.
type Msg interface {
	Type() PT
}

// Packet codes:
//
//	x - client requests
//	1xx - host messages
const (
	Join                  PT = 1
	Leave                 PT = 2
	Location              PT = 3
	ChatMessage           PT = 4
	FallingState          PT = 5
	SetName               PT = 6
	SetAvatar             PT = 7
	SetAddress            PT = 8
	GetRouterCapabilities PT = 9
	CreateTransport       PT = 10
	ConnectTransport      PT = 11
	Produce               PT = 12
	ProduceData           PT = 13
	SetRtpCapabilities    PT = 14
	ReadyToConsume        PT = 15
	ResumeAudio           PT = 16
	Ping                  PT = 17

	JoinSuccessful     PT = 100
	PlayerJoined       PT = 101
	PlayerLeft         PT = 102
	PlayerMessage      PT = 103
	PlayerFallingState PT = 104
	PlayerName         PT = 105
	PlayerAvatar       PT = 106
	PlayerAddress      PT = 107
	RouterCapabilities PT = 108
	TransportCreated   PT = 109
	CreateConsumer     PT = 110
	CreateDataConsumer PT = 111
	ProducerId         PT = 112
	DataProducerId     PT = 113
	PlayerLocation     PT = 114
	ConsumerClosed     PT = 115
	TransportConnected PT = 116
	Error              PT = 117
	Pong               PT = 118
)

func (p PT) String() string {
	switch p {
	case Join:
		return "Join"
	case Leave:
		return "Leave"
	case Location:
		return "Location"
	case ChatMessage:
		return "ChatMessage"
	case FallingState:
		return "FallingState"
	case SetName:
		return "SetName"
	case SetAvatar:
		return "SetAvatar"
	case SetAddress:
		return "SetAddress"
	case GetRouterCapabilities:
		return "GetRouterCapabilities"
	case CreateTransport:
		return "CreateTransport"
	case ConnectTransport:
		return "ConnectTransport"
	case Produce:
		return "Produce"
	case ProduceData:
		return "ProduceData"
	case SetRtpCapabilities:
		return "SetRtpCapabilities"
	case ReadyToConsume:
		return "ReadyToConsume"
	case ResumeAudio:
		return "ResumeAudio"
	case Ping:
		return "Ping"
	case JoinSuccessful:
		return "JoinSuccessful"
	case PlayerJoined:
		return "PlayerJoined"
	case PlayerLeft:
		return "PlayerLeft"
	case PlayerMessage:
		return "PlayerMessage"
	case PlayerFallingState:
		return "PlayerFallingState"
	case PlayerName:
		return "PlayerName"
	case PlayerAvatar:
		return "PlayerAvatar"
	case PlayerAddress:
		return "PlayerAddress"
	case RouterCapabilities:
		return "RouterCapabilities"
	case TransportCreated:
		return "TransportCreated"
	case CreateConsumer:
		return "CreateConsumer"
	case CreateDataConsumer:
		return "CreateDataConsumer"
	case ProducerId:
		return "ProducerId"
	case DataProducerId:
		return "DataProducerId"
	case PlayerLocation:
		return "PlayerLocation"
	case ConsumerClosed:
		return "ConsumerClosed"
	case TransportConnected:
		return "TransportConnected"
	case Error:
		return "Error"
	case Pong:
		return "Pong"
	default:
		return "Unknown"
	}
}

var (
	ErrMalformed   = errors.New("malformed")
	ErrUnknownType = fmt.Errorf("%w: unknown type", ErrMalformed)
	ErrInvalid     = fmt.Errorf("%w: invalid payload", ErrMalformed)
)

// requests is the closed set of client messages.
var requests = map[PT]func() Msg{
	Join:                  func() Msg { return new(JoinRequest) },
	Leave:                 func() Msg { return new(LeaveRequest) },
	Location:              func() Msg { return new(LocationRequest) },
	ChatMessage:           func() Msg { return new(ChatRequest) },
	FallingState:          func() Msg { return new(FallingRequest) },
	SetName:               func() Msg { return new(SetNameRequest) },
	SetAvatar:             func() Msg { return new(SetAvatarRequest) },
	SetAddress:            func() Msg { return new(SetAddressRequest) },
	GetRouterCapabilities: func() Msg { return new(RouterCapabilitiesRequest) },
	CreateTransport:       func() Msg { return new(CreateTransportRequest) },
	ConnectTransport:      func() Msg { return new(ConnectTransportRequest) },
	Produce:               func() Msg { return new(ProduceRequest) },
	ProduceData:           func() Msg { return new(ProduceDataRequest) },
	SetRtpCapabilities:    func() Msg { return new(SetRtpCapabilitiesRequest) },
	ReadyToConsume:        func() Msg { return new(ReadyToConsumeRequest) },
	ResumeAudio:           func() Msg { return new(ResumeAudioRequest) },
	Ping:                  func() Msg { return new(PingRequest) },
}
