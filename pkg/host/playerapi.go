package host

import (
	"github.com/worldhost/worldhost/pkg/api"
	"github.com/worldhost/worldhost/pkg/negotiator"
)

// HandleCreateTransport allocates the transport in the background.
// Only one allocation per direction may be in flight.
func (p *Player) HandleCreateTransport(rq api.CreateTransportRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	// Close waits for the tasks after it sets the state under this lock
	if p.state >= Closing {
		return nil
	}
	n := p.neg[rq.Direction]
	if err := n.next(evCreate); err != nil {
		return err
	}

	p.tasks.Go(func() {
		opts, t, err := p.room.Router().CreateTransport(p.ctx, rq.Direction)

		p.mu.Lock()
		if p.state >= Closing {
			p.mu.Unlock()
			if t != nil {
				_ = t.Close()
			}
			return
		}
		if err != nil {
			_ = n.next(evFailed)
			p.mu.Unlock()
			p.m.Failures.WithLabelValues("create").Inc()
			p.fail(api.CreateTransport, err)
			return
		}
		n.transport = t
		_ = n.next(evCreated)
		p.mu.Unlock()

		p.m.Transports.WithLabelValues("created").Inc()
		p.log.Debug().Str("transport", t.Id()).Msgf("Created %v transport", rq.Direction)
		p.Send(api.TransportCreatedResponse{Direction: rq.Direction, Options: opts})
	})
	return nil
}

func (p *Player) HandleConnectTransport(rq api.ConnectTransportRequest) error {
	p.mu.Lock()
	n := p.neg[rq.Direction]
	if err := n.next(evConnect); err != nil {
		p.mu.Unlock()
		return err
	}
	t := n.transport
	p.mu.Unlock()

	err := t.Connect(p.ctx, rq.DtlsParameters, rq.IceParameters)

	p.mu.Lock()
	if p.state >= Closing {
		p.mu.Unlock()
		return nil
	}
	if err != nil {
		_ = n.next(evFailed)
		p.mu.Unlock()
		p.m.Failures.WithLabelValues("connect").Inc()
		return err
	}
	_ = n.next(evConnected)
	p.mu.Unlock()

	p.Send(api.TransportConnectedResponse{Direction: rq.Direction})
	if rq.Direction == api.DirConsumer {
		p.room.linkConsumer(p)
	}
	return nil
}

func (p *Player) HandleProduce(rq api.ProduceRequest) error {
	t, err := p.connected(api.DirProducer)
	if err != nil {
		return err
	}
	producer, err := t.Produce(p.ctx, rq.Kind, rq.RtpParameters)
	if err != nil {
		p.m.Failures.WithLabelValues("produce").Inc()
		return err
	}

	p.mu.Lock()
	if p.state >= Closing {
		p.mu.Unlock()
		_ = producer.Close()
		return nil
	}
	p.producers = append(p.producers, producer)
	p.activate()
	p.mu.Unlock()

	p.log.Debug().Str("producer", producer.Id()).Msgf("New %v producer", producer.Kind())
	p.Send(api.ProducerIdResponse{Id: producer.Id()})
	p.room.linkProducer(p, source{producer: producer})
	return nil
}

func (p *Player) HandleProduceData(rq api.ProduceDataRequest) error {
	t, err := p.connected(api.DirProducer)
	if err != nil {
		return err
	}
	producer, err := t.ProduceData(p.ctx, rq.SctpStreamParameters, rq.Label, rq.Protocol)
	if err != nil {
		p.m.Failures.WithLabelValues("produce_data").Inc()
		return err
	}

	p.mu.Lock()
	if p.state >= Closing {
		p.mu.Unlock()
		_ = producer.Close()
		return nil
	}
	p.dataProducers = append(p.dataProducers, producer)
	p.activate()
	p.mu.Unlock()

	p.log.Debug().Str("producer", producer.Id()).Msg("New data producer")
	p.Send(api.DataProducerIdResponse{Id: producer.Id()})
	p.room.linkProducer(p, source{data: producer})
	return nil
}

func (p *Player) HandleSetRtpCapabilities(rq api.SetRtpCapabilitiesRequest) {
	p.mu.Lock()
	caps := rq.RtpCapabilities
	p.caps = &caps
	p.mu.Unlock()
	p.room.linkConsumer(p)
}

func (p *Player) HandleReadyToConsume(rq api.ReadyToConsumeRequest) {
	p.mu.Lock()
	p.ready = *rq.Ready
	p.mu.Unlock()
	if *rq.Ready {
		p.room.linkConsumer(p)
	}
}

// HandleResumeAudio resumes every audio consumer, now and later.
func (p *Player) HandleResumeAudio() {
	p.mu.Lock()
	p.resumed = true
	var paused []*link
	for _, l := range p.links {
		if l.consumer != nil && l.consumer.Kind() == api.KindAudio {
			paused = append(paused, l)
		}
	}
	p.mu.Unlock()

	for _, l := range paused {
		if err := l.consumer.Resume(p.ctx); err != nil {
			p.log.Warn().Err(err).Str("consumer", l.consumer.Id()).Msg("Resume has failed")
		}
	}
}

// connected returns the transport of a connected direction.
func (p *Player) connected(dir api.Direction) (*negotiator.Transport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.neg[dir]
	if err := n.expect(NegConnected); err != nil {
		return nil, err
	}
	return n.transport, nil
}
