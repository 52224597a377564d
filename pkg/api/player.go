package api

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/goccy/go-json"
)

// Client requests.
type (
	JoinRequest struct {
		WorldId   string    `json:"worldId,omitempty" validate:"omitempty,world"`
		DesiredId *PlayerId `json:"desiredId,omitempty" validate:"omitempty,gt=0"`
		Nickname  *string   `json:"nickname,omitempty" validate:"omitempty,nick"`
		AvatarUri *string   `json:"avatarUri,omitempty" validate:"omitempty,urilen,uri"`
		Address   *string   `json:"address,omitempty" validate:"omitempty,eth_addr"`
		Did       *string   `json:"did,omitempty" validate:"omitempty,max=256,startswith=did:"`
	}
	LeaveRequest    struct{}
	LocationRequest struct {
		Transform Transform `json:"transform" validate:"required,dive,coord"`
	}
	ChatRequest struct {
		Text string `json:"text" validate:"required,chat"`
	}
	FallingRequest struct {
		IsFalling *bool `json:"isFalling" validate:"required"`
	}
	SetNameRequest struct {
		Nickname *string `json:"nickname" validate:"omitempty,nick"`
	}
	SetAvatarRequest struct {
		AvatarUri *string `json:"avatarUri" validate:"omitempty,urilen,uri"`
	}
	SetAddressRequest struct {
		Address *string `json:"address" validate:"omitempty,eth_addr"`
	}
	PingRequest struct {
		Ts int64 `json:"ts,omitempty"`
	}
)

// Transform is a position vec3 followed by a rotation quaternion.
type Transform [7]float64

func (t Transform) Position() [3]float64 { return [3]float64{t[0], t[1], t[2]} }
func (t Transform) Rotation() [4]float64 { return [4]float64{t[3], t[4], t[5], t[6]} }

// UnmarshalJSON accepts only complete 7-tuples.
func (t *Transform) UnmarshalJSON(data []byte) error {
	var v []float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	return t.set(v)
}

// UnmarshalCBOR accepts only complete 7-tuples.
func (t *Transform) UnmarshalCBOR(data []byte) error {
	var v []float64
	if err := cbor.Unmarshal(data, &v); err != nil {
		return err
	}
	return t.set(v)
}

func (t *Transform) set(v []float64) error {
	if len(v) != len(t) {
		return fmt.Errorf("transform of %v elements, want %v", len(v), len(t))
	}
	copy(t[:], v)
	return nil
}

// IdentityTransform stands at the origin with no rotation.
var IdentityTransform = Transform{0, 0, 0, 0, 0, 0, 1}

func (JoinRequest) Type() PT       { return Join }
func (LeaveRequest) Type() PT      { return Leave }
func (LocationRequest) Type() PT   { return Location }
func (ChatRequest) Type() PT       { return ChatMessage }
func (FallingRequest) Type() PT    { return FallingState }
func (SetNameRequest) Type() PT    { return SetName }
func (SetAvatarRequest) Type() PT  { return SetAvatar }
func (SetAddressRequest) Type() PT { return SetAddress }
func (PingRequest) Type() PT       { return Ping }

// Host messages.
type (
	JoinSuccessfulResponse struct {
		PlayerId PlayerId `json:"playerId"`
	}
	PlayerJoinedMessage struct {
		PlayerId  PlayerId `json:"playerId"`
		Nickname  *string  `json:"nickname"`
		AvatarUri *string  `json:"avatarUri"`
		Address   *string  `json:"address"`
		Did       *string  `json:"did,omitempty"`
		BeforeYou bool     `json:"beforeYou,omitempty"`
	}
	PlayerLeftMessage struct {
		PlayerId PlayerId `json:"playerId"`
	}
	PlayerChatMessage struct {
		PlayerId    PlayerId `json:"playerId"`
		ChatMessage string   `json:"chatMessage"`
	}
	PlayerFallingMessage struct {
		PlayerId  PlayerId `json:"playerId"`
		IsFalling bool     `json:"isFalling"`
	}
	PlayerNameMessage struct {
		PlayerId PlayerId `json:"playerId"`
		Nickname *string  `json:"nickname"`
	}
	PlayerAvatarMessage struct {
		PlayerId  PlayerId `json:"playerId"`
		AvatarUri *string  `json:"avatarUri"`
	}
	PlayerAddressMessage struct {
		PlayerId PlayerId `json:"playerId"`
		Address  *string  `json:"address"`
	}
	PlayerLocationMessage struct {
		PlayerId  PlayerId  `json:"playerId"`
		Transform Transform `json:"transform"`
	}
	ErrorMessage struct {
		Kind   PT     `json:"kind"`
		Reason string `json:"reason"`
	}
	PongResponse struct {
		Ts int64 `json:"ts,omitempty"`
	}
)

func (JoinSuccessfulResponse) Type() PT { return JoinSuccessful }
func (PlayerJoinedMessage) Type() PT    { return PlayerJoined }
func (PlayerLeftMessage) Type() PT      { return PlayerLeft }
func (PlayerChatMessage) Type() PT      { return PlayerMessage }
func (PlayerFallingMessage) Type() PT   { return PlayerFallingState }
func (PlayerNameMessage) Type() PT      { return PlayerName }
func (PlayerAvatarMessage) Type() PT    { return PlayerAvatar }
func (PlayerAddressMessage) Type() PT   { return PlayerAddress }
func (PlayerLocationMessage) Type() PT  { return PlayerLocation }
func (ErrorMessage) Type() PT           { return Error }
func (PongResponse) Type() PT           { return Pong }
