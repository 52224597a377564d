package host

import (
	"fmt"

	"github.com/worldhost/worldhost/pkg/api"
)

func (p *Player) handle(msg api.Msg) error {
	switch rq := msg.(type) {
	case api.JoinRequest:
		return fmt.Errorf("%w: already joined", ErrSequence)
	case api.LeaveRequest:
		p.log.Debug().Msg("Received leave")
		p.Close()
	case api.LocationRequest:
		p.HandleLocation(rq)
	case api.FallingRequest:
		p.HandleFalling(rq)
	case api.ChatRequest:
		p.room.Broadcast(p, api.PlayerChatMessage{PlayerId: p.id, ChatMessage: rq.Text})
	case api.SetNameRequest:
		p.HandleSetName(rq)
	case api.SetAvatarRequest:
		p.HandleSetAvatar(rq)
	case api.SetAddressRequest:
		p.HandleSetAddress(rq)
	case api.PingRequest:
		p.Send(api.PongResponse{Ts: rq.Ts})
	case api.RouterCapabilitiesRequest:
		p.Send(api.RouterCapabilitiesResponse{RtpCapabilities: p.room.Router().Capabilities()})
	case api.CreateTransportRequest:
		return p.HandleCreateTransport(rq)
	case api.ConnectTransportRequest:
		return p.HandleConnectTransport(rq)
	case api.ProduceRequest:
		return p.HandleProduce(rq)
	case api.ProduceDataRequest:
		return p.HandleProduceData(rq)
	case api.SetRtpCapabilitiesRequest:
		p.HandleSetRtpCapabilities(rq)
	case api.ReadyToConsumeRequest:
		p.HandleReadyToConsume(rq)
	case api.ResumeAudioRequest:
		p.HandleResumeAudio()
	default:
		p.log.Warn().Msgf("Unhandled message %v", msg.Type())
	}
	return nil
}

func (p *Player) HandleLocation(rq api.LocationRequest) {
	p.mu.Lock()
	p.transform, p.located = rq.Transform, true
	p.mu.Unlock()
	p.room.Broadcast(p, api.PlayerLocationMessage{PlayerId: p.id, Transform: rq.Transform})
}

func (p *Player) HandleFalling(rq api.FallingRequest) {
	p.mu.Lock()
	p.falling = *rq.IsFalling
	p.mu.Unlock()
	p.room.Broadcast(p, api.PlayerFallingMessage{PlayerId: p.id, IsFalling: *rq.IsFalling})
}

func (p *Player) HandleSetName(rq api.SetNameRequest) {
	p.mu.Lock()
	p.nickname = rq.Nickname
	p.mu.Unlock()
	p.room.Broadcast(p, api.PlayerNameMessage{PlayerId: p.id, Nickname: rq.Nickname})
}

func (p *Player) HandleSetAvatar(rq api.SetAvatarRequest) {
	p.mu.Lock()
	p.avatarUri = rq.AvatarUri
	p.mu.Unlock()
	p.room.Broadcast(p, api.PlayerAvatarMessage{PlayerId: p.id, AvatarUri: rq.AvatarUri})
}

func (p *Player) HandleSetAddress(rq api.SetAddressRequest) {
	p.mu.Lock()
	p.address = rq.Address
	p.mu.Unlock()
	p.room.Broadcast(p, api.PlayerAddressMessage{PlayerId: p.id, Address: rq.Address})
}
