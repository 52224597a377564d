package host

import (
	"github.com/worldhost/worldhost/pkg/api"
	"github.com/worldhost/worldhost/pkg/negotiator"
)

// source is a media or data producer of a player.
type source struct {
	producer *negotiator.Producer
	data     *negotiator.DataProducer
}

func (s source) id() string {
	if s.producer != nil {
		return s.producer.Id()
	}
	return s.data.Id()
}

// link routes one source of a player into the consumer transport of another.
// A link without a consumer is a reservation for one being made.
type link struct {
	from     api.PlayerId
	consumer *negotiator.Consumer
	data     *negotiator.DataConsumer
}

func (l *link) id() string {
	switch {
	case l.consumer != nil:
		return l.consumer.Id()
	case l.data != nil:
		return l.data.Id()
	}
	return ""
}

func (l *link) close() {
	if l.consumer != nil {
		_ = l.consumer.Close()
	}
	if l.data != nil {
		_ = l.data.Close()
	}
}

// linkProducer feeds a new source of the player to everyone else.
func (r *Room) linkProducer(from *Player, src source) {
	for _, peer := range r.Peers(from) {
		peer.consume(from.Id(), src)
	}
}

// linkConsumer feeds every source in the room to the player.
func (r *Room) linkConsumer(to *Player) {
	if !to.canConsume() {
		return
	}
	for _, peer := range r.Peers(to) {
		for _, src := range peer.sources() {
			to.consume(peer.Id(), src)
		}
	}
}

func (p *Player) sources() []source {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state >= Closing {
		return nil
	}
	sources := make([]source, 0, len(p.producers)+len(p.dataProducers))
	for _, pr := range p.producers {
		sources = append(sources, source{producer: pr})
	}
	for _, dp := range p.dataProducers {
		sources = append(sources, source{data: dp})
	}
	return sources
}

func (p *Player) canConsume() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consumable()
}

// consumable expects the player lock.
func (p *Player) consumable() bool {
	return p.state < Closing && p.ready && p.caps != nil && p.neg[api.DirConsumer].state == NegConnected
}

// consume links a source of another player to this one.
// Every source is linked at most once.
func (p *Player) consume(from api.PlayerId, src source) {
	p.mu.Lock()
	if !p.consumable() {
		p.mu.Unlock()
		return
	}
	if _, ok := p.links[src.id()]; ok {
		p.mu.Unlock()
		return
	}
	if _, gone := p.left[from]; gone {
		p.mu.Unlock()
		return
	}
	l := &link{from: from}
	p.links[src.id()] = l
	t, caps, resumed := p.neg[api.DirConsumer].transport, *p.caps, p.resumed
	p.mu.Unlock()

	var (
		msg api.Msg
		got link
		err error
	)
	if src.producer != nil {
		var c *negotiator.Consumer
		if c, err = t.Consume(p.ctx, src.producer.Id(), caps); err == nil {
			got.consumer = c
			msg = api.CreateConsumerMessage{
				PlayerId:      from,
				Id:            c.Id(),
				ProducerId:    c.ProducerId(),
				Kind:          c.Kind(),
				RtpParameters: c.RtpParameters(),
			}
		}
	} else {
		var dc *negotiator.DataConsumer
		if dc, err = t.ConsumeData(p.ctx, src.data.Id()); err == nil {
			got.data = dc
			msg = api.CreateDataConsumerMessage{
				PlayerId:             from,
				Id:                   dc.Id(),
				DataProducerId:       dc.DataProducerId(),
				SctpStreamParameters: dc.SctpStreamParameters(),
				Label:                dc.Label(),
				Protocol:             dc.Protocol(),
			}
		}
	}

	p.mu.Lock()
	if p.links[src.id()] != l {
		// unlinked while the consumer was made
		p.mu.Unlock()
		got.close()
		return
	}
	if err != nil {
		delete(p.links, src.id())
		p.mu.Unlock()
		p.m.Failures.WithLabelValues("consume").Inc()
		p.log.Warn().Err(err).Uint32("from", uint32(from)).Msg("Consume has failed")
		return
	}
	data, binary, err := api.Encode(msg)
	if err != nil {
		delete(p.links, src.id())
		p.mu.Unlock()
		got.close()
		p.log.Error().Err(err).Msgf("Couldn't encode %v", msg.Type())
		return
	}
	// the link is visible to unlinkFrom only together with its create message
	l.consumer, l.data = got.consumer, got.data
	p.activate()
	p.enqueue(data, binary)
	p.mu.Unlock()

	if resumed && got.consumer != nil && got.consumer.Kind() == api.KindAudio {
		if err = got.consumer.Resume(p.ctx); err != nil {
			p.log.Warn().Err(err).Msg("Resume has failed")
		}
	}
}

// unlinkFrom closes every link fed by the player.
// Links still being made are dropped by consume, and the player
// is never linked again.
func (p *Player) unlinkFrom(from api.PlayerId) {
	p.mu.Lock()
	p.left[from] = struct{}{}
	var gone []*link
	for key, l := range p.links {
		if l.from != from {
			continue
		}
		delete(p.links, key)
		gone = append(gone, l)
		if id := l.id(); id != "" && p.state < Closing {
			if data, binary, err := api.Encode(api.ConsumerClosedMessage{Id: id}); err == nil {
				p.enqueue(data, binary)
			}
		}
	}
	p.mu.Unlock()

	for _, l := range gone {
		l.close()
	}
}
