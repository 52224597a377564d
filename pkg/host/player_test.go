package host

import (
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/worldhost/worldhost/pkg/api"
	"github.com/worldhost/worldhost/pkg/negotiator/sfutest"
)

var (
	testDtls = api.DtlsParameters{
		Role:         api.DtlsClient,
		Fingerprints: []api.DtlsFingerprint{{Algorithm: "sha-256", Value: "AB:CD"}},
	}
	testOpus = api.RtpParameters{
		Codecs:    []api.RtpCodecParameters{{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000, Channels: 2}},
		Encodings: []api.RtpEncodingParameters{{Ssrc: 1111}},
	}
	testCaps = api.RtpCapabilities{
		Codecs: []api.RtpCodecCapability{{Kind: api.KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2}},
	}
)

func errorsOf(t *testing.T, s *sink, kind api.PT) int {
	n := 0
	for _, e := range all[api.ErrorMessage](t, s, api.Error) {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func created(t *testing.T, s *sink, dir api.Direction) bool {
	return slices.ContainsFunc(all[api.TransportCreatedResponse](t, s, api.TransportCreated),
		func(r api.TransportCreatedResponse) bool { return r.Direction == dir })
}

func negotiate(t *testing.T, p *Player, s *sink, dir api.Direction) {
	t.Helper()
	send(t, p, api.CreateTransportRequest{Direction: dir}, false)
	eventually(t, string(dir)+" transport", func() bool { return created(t, s, dir) })
	send(t, p, api.ConnectTransportRequest{Direction: dir, DtlsParameters: testDtls}, false)
	ok := slices.ContainsFunc(all[api.TransportConnectedResponse](t, s, api.TransportConnected),
		func(r api.TransportConnectedResponse) bool { return r.Direction == dir })
	if !ok {
		t.Fatalf("%v transport is not connected: %v", dir, s.types())
	}
}

func negState(p *Player, dir api.Direction) NegState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.neg[dir].state
}

func balanced(t *testing.T, s sfutest.Stats) {
	t.Helper()
	if s.Transports != s.TransportsClosed || s.Producers != s.ProducersClosed || s.Consumers != s.ConsumersClosed ||
		s.DataProducers != s.DataProducersClosed || s.DataConsumers != s.DataConsumersClosed {
		t.Errorf("leaked SFU objects %+v", s)
	}
}

func TestNegotiate(t *testing.T) {
	w := newTestWorld(t, time.Minute, 0)
	p, s := w.join("alpha", api.JoinRequest{})

	for _, dir := range []api.Direction{api.DirProducer, api.DirConsumer} {
		negotiate(t, p, s, dir)
		if st := negState(p, dir); st != NegConnected {
			t.Errorf("expected %v to be connected, got %v", dir, st)
		}
	}
	r, _ := first[api.TransportCreatedResponse](t, s, api.TransportCreated)
	if r.Options.Id == "" || len(r.Options.IceCandidates) == 0 || len(r.Options.DtlsParameters.Fingerprints) == 0 {
		t.Errorf("incomplete transport options %+v", r.Options)
	}
	if v := value(t, w.m.Transports.WithLabelValues("created")); v != 2 {
		t.Errorf("expected 2 created transports, got %v", v)
	}

	p.Close()
	balanced(t, w.engine.Stats())
	if v := value(t, w.m.Transports.WithLabelValues("closed")); v != 2 {
		t.Errorf("expected 2 closed transports, got %v", v)
	}
}

func TestNegotiationOrder(t *testing.T) {
	tests := []struct {
		name  string
		setup []api.Msg
		rq    api.Msg
	}{
		{
			name: "connect before create",
			rq:   api.ConnectTransportRequest{Direction: api.DirProducer, DtlsParameters: testDtls},
		},
		{
			name: "produce without a transport",
			rq:   api.ProduceRequest{Kind: api.KindAudio, RtpParameters: testOpus},
		},
		{
			name:  "produce before connect",
			setup: []api.Msg{api.CreateTransportRequest{Direction: api.DirProducer}},
			rq:    api.ProduceRequest{Kind: api.KindAudio, RtpParameters: testOpus},
		},
		{
			name:  "produce data before connect",
			setup: []api.Msg{api.CreateTransportRequest{Direction: api.DirProducer}},
			rq:    api.ProduceDataRequest{SctpStreamParameters: api.SctpStreamParameters{StreamId: 1}},
		},
		{
			name:  "produce on the consumer transport",
			setup: []api.Msg{api.CreateTransportRequest{Direction: api.DirConsumer}},
			rq:    api.ProduceRequest{Kind: api.KindAudio, RtpParameters: testOpus},
		},
		{
			name: "join twice",
			rq:   api.JoinRequest{Nickname: ptr("again")},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			w := newTestWorld(t, time.Minute, 0)
			p, s := w.join("alpha", api.JoinRequest{})

			for _, m := range test.setup {
				send(t, p, m, false)
			}
			eventually(t, "setup", func() bool { return s.count(api.TransportCreated) == len(test.setup) })

			send(t, p, test.rq, false)
			if n := errorsOf(t, s, test.rq.Type()); n != 1 {
				t.Errorf("expected an error for %v, got %v", test.rq.Type(), s.types())
			}
			if p.violations.Load() != 1 {
				t.Errorf("expected 1 violation, got %v", p.violations.Load())
			}
			if st := w.engine.Stats(); st.Producers != 0 || st.DataProducers != 0 {
				t.Errorf("unexpected producers %+v", st)
			}
			if s.isClosed() {
				t.Errorf("one violation shouldn't disconnect")
			}
		})
	}
}

func TestCreateTransportInFlight(t *testing.T) {
	w := newTestWorld(t, time.Minute, 0)
	gate := make(chan struct{})
	w.engine.Gate = gate
	p, s := w.join("alpha", api.JoinRequest{})

	send(t, p, api.CreateTransportRequest{Direction: api.DirProducer}, false)
	send(t, p, api.CreateTransportRequest{Direction: api.DirProducer}, false)
	if n := errorsOf(t, s, api.CreateTransport); n != 1 {
		t.Fatalf("expected the second create to fail, got %v", s.types())
	}
	if st := negState(p, api.DirProducer); st != NegCreating {
		t.Errorf("expected creating, got %v", st)
	}

	close(gate)
	eventually(t, "transport", func() bool { return created(t, s, api.DirProducer) })
	if n := s.count(api.TransportCreated); n != 1 {
		t.Errorf("expected one transport, got %v", n)
	}
	send(t, p, api.CreateTransportRequest{Direction: api.DirProducer}, false)
	if n := errorsOf(t, s, api.CreateTransport); n != 2 {
		t.Errorf("expected a created transport to reject a create")
	}
	p.Close()
	balanced(t, w.engine.Stats())
}

func TestCreateTransportFailure(t *testing.T) {
	w := newTestWorld(t, time.Minute, 0)
	w.engine.FailTransports.Store(true)
	p, s := w.join("alpha", api.JoinRequest{})

	send(t, p, api.CreateTransportRequest{Direction: api.DirConsumer}, false)
	eventually(t, "failure", func() bool { return errorsOf(t, s, api.CreateTransport) == 1 })
	if st := negState(p, api.DirConsumer); st != NegIdle {
		t.Errorf("expected a rollback to idle, got %v", st)
	}
	if v := value(t, w.m.Failures.WithLabelValues("create")); v != 1 {
		t.Errorf("expected 1 failure, got %v", v)
	}
	if p.violations.Load() != 0 {
		t.Errorf("SFU failures aren't violations")
	}

	w.engine.FailTransports.Store(false)
	negotiate(t, p, s, api.DirConsumer)
}

func TestMaxViolations(t *testing.T) {
	w := newTestWorld(t, time.Minute, 0)
	p1, s1 := w.join("alpha", api.JoinRequest{})
	p2, s2 := w.join("alpha", api.JoinRequest{})

	for i := 1; i <= w.opts.MaxViolations; i++ {
		if s2.isClosed() {
			t.Fatalf("closed after %v violations", i-1)
		}
		send(t, p2, api.JoinRequest{Nickname: ptr("again")}, false)
	}
	if !s2.isClosed() {
		t.Fatalf("expected a disconnect after %v violations", w.opts.MaxViolations)
	}
	if n := errorsOf(t, s2, api.Join); n != w.opts.MaxViolations {
		t.Errorf("expected %v join errors, got %v", w.opts.MaxViolations, n)
	}

	eventually(t, "player close", func() bool { return p2.State() == Closed })
	if n := w.registry.PlayerCount("alpha"); n != 1 {
		t.Errorf("expected 1 player, got %v", n)
	}
	left, ok := first[api.PlayerLeftMessage](t, s1, api.PlayerLeft)
	if !ok || left.PlayerId != p2.Id() {
		t.Errorf("expected %v to leave, got %+v", p2.Id(), left)
	}

	send(t, p2, api.LocationRequest{Transform: api.Transform{1, 0, 0, 0, 0, 0, 1}}, true)
	if n := s1.count(api.PlayerLocation); n != 0 {
		t.Errorf("a disconnected player has moved")
	}
	if p1.State() == Closed {
		t.Errorf("the other player was closed")
	}
}

func TestMalformedIsDropped(t *testing.T) {
	w := newTestWorld(t, time.Minute, 0)
	p1, s1 := w.join("alpha", api.JoinRequest{})
	_, s2 := w.join("alpha", api.JoinRequest{})
	frames := len(s1.snapshot())

	p1.Receive([]byte(`{"t":99}`), false)
	p1.Receive([]byte(`not json`), false)
	p1.Receive([]byte{0xff, 0x00}, true)
	p1.Receive([]byte(`{"t":3,"p":{"transform":[1,2]}}`), false)

	if n := len(s1.snapshot()); n != frames {
		t.Errorf("malformed frames got %v replies", n-frames)
	}
	if s1.isClosed() {
		t.Fatalf("malformed frames shouldn't disconnect")
	}
	if v := value(t, w.m.Dropped.WithLabelValues("malformed")); v != 4 {
		t.Errorf("expected 4 dropped, got %v", v)
	}

	send(t, p1, api.LocationRequest{Transform: api.IdentityTransform}, true)
	if s2.count(api.PlayerLocation) != 1 {
		t.Errorf("expected the session to keep working")
	}
}

func TestPing(t *testing.T) {
	w := newTestWorld(t, time.Minute, 0)
	p, s := w.join("alpha", api.JoinRequest{})

	send(t, p, api.PingRequest{Ts: 42}, false)
	if r, ok := first[api.PongResponse](t, s, api.Pong); !ok || r.Ts != 42 {
		t.Errorf("unexpected pong %+v", r)
	}
}

func TestRouterCapabilities(t *testing.T) {
	w := newTestWorld(t, time.Minute, 0)
	p, s := w.join("alpha", api.JoinRequest{})

	send(t, p, api.RouterCapabilitiesRequest{}, false)
	r, ok := first[api.RouterCapabilitiesResponse](t, s, api.RouterCapabilities)
	if !ok || len(r.Codecs) == 0 {
		t.Errorf("expected router codecs, got %+v", r)
	}
}

func TestMediaLinks(t *testing.T) {
	produce := func(t *testing.T, p *Player, s *sink) {
		negotiate(t, p, s, api.DirProducer)
		send(t, p, api.ProduceRequest{Kind: api.KindAudio, RtpParameters: testOpus}, false)
		send(t, p, api.ProduceDataRequest{SctpStreamParameters: api.SctpStreamParameters{StreamId: 1}, Label: "state"}, false)
		if s.count(api.ProducerId) != 1 || s.count(api.DataProducerId) != 1 {
			t.Fatalf("expected producer ids, got %v", s.types())
		}
	}
	consume := func(t *testing.T, p *Player, s *sink) {
		negotiate(t, p, s, api.DirConsumer)
		send(t, p, api.SetRtpCapabilitiesRequest{RtpCapabilities: testCaps}, false)
		send(t, p, api.ReadyToConsumeRequest{Ready: ptr(true)}, false)
	}

	tests := []struct {
		name          string
		producerFirst bool
	}{
		{name: "producer first", producerFirst: true},
		{name: "consumer first"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			w := newTestWorld(t, time.Minute, 0)
			p1, s1 := w.join("alpha", api.JoinRequest{})
			p2, s2 := w.join("alpha", api.JoinRequest{})

			if test.producerFirst {
				produce(t, p1, s1)
				consume(t, p2, s2)
			} else {
				consume(t, p2, s2)
				produce(t, p1, s1)
			}

			c, ok := first[api.CreateConsumerMessage](t, s2, api.CreateConsumer)
			if !ok || c.PlayerId != p1.Id() || c.Kind != api.KindAudio || c.Id == "" {
				t.Fatalf("unexpected consumer %+v in %v", c, s2.types())
			}
			dc, ok := first[api.CreateDataConsumerMessage](t, s2, api.CreateDataConsumer)
			if !ok || dc.PlayerId != p1.Id() || dc.Label != "state" {
				t.Fatalf("unexpected data consumer %+v", dc)
			}
			if p1.State() != Active || p2.State() != Active {
				t.Errorf("expected active players, got %v %v", p1.State(), p2.State())
			}
			if s1.count(api.CreateConsumer) != 0 {
				t.Errorf("the producer got its own media")
			}

			// again changes nothing
			send(t, p2, api.ReadyToConsumeRequest{Ready: ptr(true)}, false)
			if n := s2.count(api.CreateConsumer); n != 1 {
				t.Errorf("expected one consumer per producer, got %v", n)
			}

			p1.Close()
			var closed []string
			for _, m := range all[api.ConsumerClosedMessage](t, s2, api.ConsumerClosed) {
				closed = append(closed, m.Id)
			}
			slices.Sort(closed)
			want := []string{c.Id, dc.Id}
			slices.Sort(want)
			if !slices.Equal(closed, want) {
				t.Errorf("expected closed consumers %v, got %v", want, closed)
			}

			p2.Close()
			balanced(t, w.engine.Stats())
		})
	}
}

func TestNotReadyDoesNotConsume(t *testing.T) {
	w := newTestWorld(t, time.Minute, 0)
	p1, s1 := w.join("alpha", api.JoinRequest{})
	p2, s2 := w.join("alpha", api.JoinRequest{})

	negotiate(t, p1, s1, api.DirProducer)
	send(t, p1, api.ProduceRequest{Kind: api.KindAudio, RtpParameters: testOpus}, false)
	negotiate(t, p2, s2, api.DirConsumer)
	send(t, p2, api.ReadyToConsumeRequest{Ready: ptr(true)}, false)

	if n := s2.count(api.CreateConsumer); n != 0 {
		t.Fatalf("consumed without capabilities")
	}
	send(t, p2, api.SetRtpCapabilitiesRequest{RtpCapabilities: testCaps}, false)
	if n := s2.count(api.CreateConsumer); n != 1 {
		t.Errorf("expected a consumer once ready, got %v", n)
	}
}

func TestCloseDuringNegotiation(t *testing.T) {
	for i := 0; i < 20; i++ {
		w := newTestWorld(t, time.Minute, 0)
		gate := make(chan struct{})
		w.engine.Gate = gate
		p, _ := w.join("alpha", api.JoinRequest{})

		send(t, p, api.CreateTransportRequest{Direction: api.DirProducer}, false)
		send(t, p, api.CreateTransportRequest{Direction: api.DirConsumer}, false)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); close(gate) }()
		go func() { defer wg.Done(); p.Close() }()
		wg.Wait()

		balanced(t, w.engine.Stats())
		if p.State() != Closed {
			t.Errorf("expected closed, got %v", p.State())
		}
	}
}

func TestProducerLeavesDuringConsume(t *testing.T) {
	w := newTestWorld(t, time.Minute, 0)
	p1, s1 := w.join("alpha", api.JoinRequest{})
	p2, s2 := w.join("alpha", api.JoinRequest{})

	negotiate(t, p1, s1, api.DirProducer)
	send(t, p1, api.ProduceRequest{Kind: api.KindAudio, RtpParameters: testOpus}, false)
	send(t, p1, api.ProduceDataRequest{SctpStreamParameters: api.SctpStreamParameters{StreamId: 1}, Label: "state"}, false)
	negotiate(t, p2, s2, api.DirConsumer)
	send(t, p2, api.ReadyToConsumeRequest{Ready: ptr(true)}, false)

	// the producer goes away while the first consumer is being made
	var once sync.Once
	w.engine.OnConsume = func() { once.Do(p1.Close) }
	send(t, p2, api.SetRtpCapabilitiesRequest{RtpCapabilities: testCaps}, false)

	if p1.State() != Closed {
		t.Fatalf("expected the producer to be closed, got %v", p1.State())
	}
	for _, pt := range []api.PT{api.CreateConsumer, api.CreateDataConsumer, api.ConsumerClosed} {
		if n := s2.count(pt); n != 0 {
			t.Errorf("got %v %v messages for a player that left: %v", n, pt, s2.types())
		}
	}
	if s2.count(api.PlayerLeft) != 1 {
		t.Errorf("expected the leave, got %v", s2.types())
	}
	p2.mu.Lock()
	links := len(p2.links)
	p2.mu.Unlock()
	if links != 0 {
		t.Errorf("expected no links, got %v", links)
	}

	p2.Close()
	balanced(t, w.engine.Stats())
}

func TestConsumerClosedFollowsCreate(t *testing.T) {
	w := newTestWorld(t, time.Minute, 0)
	p1, s1 := w.join("alpha", api.JoinRequest{})
	p2, s2 := w.join("alpha", api.JoinRequest{})

	negotiate(t, p2, s2, api.DirConsumer)
	send(t, p2, api.SetRtpCapabilitiesRequest{RtpCapabilities: testCaps}, false)
	send(t, p2, api.ReadyToConsumeRequest{Ready: ptr(true)}, false)
	negotiate(t, p1, s1, api.DirProducer)
	send(t, p1, api.ProduceRequest{Kind: api.KindAudio, RtpParameters: testOpus}, false)
	p1.Close()

	var order []api.PT
	for _, pt := range s2.types() {
		if pt == api.CreateConsumer || pt == api.PlayerLeft || pt == api.ConsumerClosed {
			order = append(order, pt)
		}
	}
	want := []api.PT{api.CreateConsumer, api.PlayerLeft, api.ConsumerClosed}
	if !slices.Equal(order, want) {
		t.Errorf("expected %v, got %v", want, order)
	}
	p2.Close()
	balanced(t, w.engine.Stats())
}

func TestCreateTransportAfterClose(t *testing.T) {
	w := newTestWorld(t, time.Minute, 0)
	p, s := w.join("alpha", api.JoinRequest{})
	p.Close()

	// a request racing with the close gets past Receive
	if err := p.HandleCreateTransport(api.CreateTransportRequest{Direction: api.DirProducer}); err != nil {
		t.Errorf("unexpected error %v", err)
	}
	if st := negState(p, api.DirProducer); st != NegIdle {
		t.Errorf("expected idle, got %v", st)
	}
	if created(t, s, api.DirProducer) {
		t.Errorf("created a transport for a closed player")
	}
	if s := w.engine.Stats(); s.Transports != 0 {
		t.Errorf("allocated %v transports", s.Transports)
	}
}

func TestCloseWhileCreating(t *testing.T) {
	for i := 0; i < 20; i++ {
		w := newTestWorld(t, time.Minute, 0)
		p, _ := w.join("alpha", api.JoinRequest{})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for _, dir := range []api.Direction{api.DirProducer, api.DirConsumer} {
				_ = p.HandleCreateTransport(api.CreateTransportRequest{Direction: dir})
			}
		}()
		go func() { defer wg.Done(); p.Close() }()
		wg.Wait()

		// a task started before the close has been waited for
		balanced(t, w.engine.Stats())
	}
}
