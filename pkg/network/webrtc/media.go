package webrtc

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/worldhost/worldhost/pkg/negotiator"
)

// Producer receives one RTP stream from a client.
type Producer struct {
	id        string
	t         *Transport
	kind      webrtc.RTPCodecType
	params    webrtc.RTPParameters
	encodings []webrtc.RTPDecodingParameters

	receiver *webrtc.RTPReceiver
	local    *webrtc.TrackLocalStaticRTP
	once     sync.Once
}

var _ negotiator.SFUProducer = (*Producer)(nil)

func newProducer(t *Transport, kind webrtc.RTPCodecType, params webrtc.RTPParameters,
	encodings []webrtc.RTPDecodingParameters) (*Producer, error) {
	id := newId()
	local, err := webrtc.NewTrackLocalStaticRTP(params.Codecs[0].RTPCodecCapability, kind.String(), id)
	if err != nil {
		return nil, err
	}
	receiver, err := t.r.api.api.NewRTPReceiver(kind, t.dtls)
	if err != nil {
		return nil, err
	}
	p := &Producer{id: id, t: t, kind: kind, params: params, encodings: encodings, receiver: receiver, local: local}
	t.whenReady("produce", p.receive)
	return p, nil
}

func (p *Producer) Id() string                { return p.id }
func (p *Producer) Kind() webrtc.RTPCodecType { return p.kind }

func (p *Producer) receive() error {
	if err := p.receiver.Receive(webrtc.RTPReceiveParameters{Encodings: p.encodings}); err != nil {
		return err
	}
	go func() {
		for {
			if _, _, err := p.receiver.ReadRTCP(); err != nil {
				return
			}
		}
	}()
	track := p.receiver.Track()
	if track == nil {
		return errors.New("no remote track")
	}
	return forward(func() (*rtp.Packet, error) {
		pkt, _, err := track.ReadRTP()
		return pkt, err
	}, p.local.WriteRTP)
}

// forward copies RTP packets until the source ends.
// Writes without bound consumers are fine and not reported.
func forward(read func() (*rtp.Packet, error), write func(*rtp.Packet) error) error {
	for {
		pkt, err := read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err = write(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			return err
		}
	}
}

func (p *Producer) Close() error {
	p.once.Do(func() {
		p.t.r.removeProducer(p.id)
		_ = p.receiver.Stop()
	})
	return nil
}

// Consumer sends a producer stream to a client.
// It stays paused until resumed.
type Consumer struct {
	id      string
	t       *Transport
	p       *Producer
	sender  *webrtc.RTPSender
	ssrc    webrtc.SSRC
	resumed atomic.Bool
	once    sync.Once
}

var _ negotiator.SFUConsumer = (*Consumer)(nil)

func newConsumer(t *Transport, p *Producer) (*Consumer, error) {
	sender, err := t.r.api.api.NewRTPSender(p.local, t.dtls)
	if err != nil {
		return nil, err
	}
	params := sender.GetParameters()
	if len(params.Encodings) == 0 {
		_ = sender.Stop()
		return nil, errors.New("no sender encodings")
	}
	return &Consumer{id: newId(), t: t, p: p, sender: sender, ssrc: params.Encodings[0].SSRC}, nil
}

func (c *Consumer) Id() string                { return c.id }
func (c *Consumer) ProducerId() string        { return c.p.id }
func (c *Consumer) Kind() webrtc.RTPCodecType { return c.p.kind }

// Parameters describe the stream as the router sends it.
func (c *Consumer) Parameters() webrtc.RTPParameters {
	mime := c.p.params.Codecs[0].MimeType
	for _, codec := range c.t.r.Codecs() {
		if strings.EqualFold(codec.MimeType, mime) {
			return webrtc.RTPParameters{Codecs: []webrtc.RTPCodecParameters{codec}}
		}
	}
	return c.p.params
}

func (c *Consumer) Encodings() []webrtc.RTPEncodingParameters {
	return []webrtc.RTPEncodingParameters{{RTPCodingParameters: webrtc.RTPCodingParameters{SSRC: c.ssrc}}}
}

func (c *Consumer) Resume(context.Context) error {
	if !c.resumed.CompareAndSwap(false, true) {
		return nil
	}
	codec := c.Parameters().Codecs[0]
	c.t.whenReady("resume", func() error {
		err := c.sender.Send(webrtc.RTPSendParameters{Encodings: []webrtc.RTPEncodingParameters{
			{RTPCodingParameters: webrtc.RTPCodingParameters{SSRC: c.ssrc, PayloadType: codec.PayloadType}},
		}})
		if err != nil {
			return err
		}
		go func() {
			for {
				if _, _, err := c.sender.ReadRTCP(); err != nil {
					return
				}
			}
		}()
		return nil
	})
	return nil
}

func (c *Consumer) Close() error {
	c.once.Do(func() { _ = c.sender.Stop() })
	return nil
}

// DataProducer receives SCTP messages from a client data channel.
type DataProducer struct {
	id     string
	t      *Transport
	params webrtc.DataChannelParameters

	mu        sync.Mutex
	dc        *webrtc.DataChannel
	consumers map[string]*DataConsumer
	closed    bool
}

var _ negotiator.SFUDataProducer = (*DataProducer)(nil)

func newDataProducer(t *Transport, params webrtc.DataChannelParameters) *DataProducer {
	p := &DataProducer{id: newId(), t: t, params: params, consumers: map[string]*DataConsumer{}}
	t.whenReady("produce data", func() error {
		dc, err := t.r.api.api.NewDataChannel(t.sctp, &p.params)
		if err != nil {
			return err
		}
		dc.OnMessage(p.fanout)
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			return dc.Close()
		}
		p.dc = dc
		return nil
	})
	return p
}

func (p *DataProducer) Id() string                               { return p.id }
func (p *DataProducer) Parameters() webrtc.DataChannelParameters { return p.params }

func (p *DataProducer) fanout(msg webrtc.DataChannelMessage) {
	p.mu.Lock()
	consumers := make([]*DataConsumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	p.mu.Unlock()
	for _, c := range consumers {
		c.send(msg)
	}
}

func (p *DataProducer) subscribe(c *DataConsumer) {
	p.mu.Lock()
	p.consumers[c.id] = c
	p.mu.Unlock()
}

func (p *DataProducer) unsubscribe(id string) {
	p.mu.Lock()
	delete(p.consumers, id)
	p.mu.Unlock()
}

func (p *DataProducer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	dc := p.dc
	p.consumers = map[string]*DataConsumer{}
	p.mu.Unlock()

	p.t.r.removeDataProducer(p.id)
	if dc != nil {
		return dc.Close()
	}
	return nil
}

// DataConsumer relays a data producer to a client data channel.
type DataConsumer struct {
	id     string
	p      *DataProducer
	params webrtc.DataChannelParameters

	mu     sync.Mutex
	dc     *webrtc.DataChannel
	closed bool
}

var _ negotiator.SFUDataConsumer = (*DataConsumer)(nil)

func newDataConsumer(t *Transport, p *DataProducer) *DataConsumer {
	id := t.nextStreamId()
	params := p.params
	params.ID = &id
	params.Negotiated = true
	c := &DataConsumer{id: newId(), p: p, params: params}
	p.subscribe(c)
	t.whenReady("consume data", func() error {
		dc, err := t.r.api.api.NewDataChannel(t.sctp, &c.params)
		if err != nil {
			return err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return dc.Close()
		}
		c.dc = dc
		return nil
	})
	return c
}

func (c *DataConsumer) Id() string                               { return c.id }
func (c *DataConsumer) DataProducerId() string                   { return c.p.id }
func (c *DataConsumer) Parameters() webrtc.DataChannelParameters { return c.params }

func (c *DataConsumer) send(msg webrtc.DataChannelMessage) {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return
	}
	if msg.IsString {
		_ = dc.SendText(string(msg.Data))
	} else {
		_ = dc.Send(msg.Data)
	}
}

func (c *DataConsumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	dc := c.dc
	c.mu.Unlock()

	c.p.unsubscribe(c.id)
	if dc != nil {
		return dc.Close()
	}
	return nil
}
