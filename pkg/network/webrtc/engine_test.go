package webrtc

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/worldhost/worldhost/pkg/config"
	"github.com/worldhost/worldhost/pkg/logger"
)

func TestForward(t *testing.T) {
	packets := []*rtp.Packet{
		{Header: rtp.Header{SequenceNumber: 1}},
		{Header: rtp.Header{SequenceNumber: 2}},
	}
	tests := []struct {
		name     string
		end      error
		writeErr error
		want     error
		written  int
	}{
		{name: "eof", end: io.EOF, written: 2},
		{name: "read error", end: io.ErrUnexpectedEOF, want: io.ErrUnexpectedEOF, written: 2},
		{name: "closed pipe", end: io.EOF, writeErr: io.ErrClosedPipe, written: 2},
		{name: "write error", end: io.EOF, writeErr: io.ErrShortWrite, want: io.ErrShortWrite, written: 1},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			i, written := 0, 0
			read := func() (*rtp.Packet, error) {
				if i == len(packets) {
					return nil, test.end
				}
				i++
				return packets[i-1], nil
			}
			write := func(*rtp.Packet) error {
				written++
				return test.writeErr
			}
			if err := forward(read, write); !errors.Is(err, test.want) {
				t.Errorf("expected %v, got %v", test.want, err)
			}
			if written != test.written {
				t.Errorf("expected %v writes, got %v", test.written, written)
			}
		})
	}
}

func TestSupports(t *testing.T) {
	r := &Router{}
	opus := webrtc.RTPCodecCapability{MimeType: "audio/OPUS", ClockRate: 48000}
	if !supports(r.Codecs(), opus) {
		t.Errorf("expected opus to match ignoring case")
	}
	if supports(r.Codecs(), webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 8000}) {
		t.Errorf("expected a clock rate mismatch")
	}
	if supports(nil, opus) {
		t.Errorf("expected no match without capabilities")
	}
}

func TestTransportLifecycle(t *testing.T) {
	engine, err := NewEngine(config.Webrtc{LogLevel: int(logger.Disabled)}, logger.Nop())
	if err != nil {
		t.Fatalf("no engine: %v", err)
	}
	defer func() { _ = engine.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	router, err := engine.NewRouter(ctx)
	if err != nil {
		t.Fatalf("no router: %v", err)
	}
	sfu, err := router.CreateWebRtcTransport(ctx)
	if err != nil {
		t.Fatalf("no transport: %v", err)
	}
	transport := sfu.(*Transport)

	if transport.IceParameters().UsernameFragment == "" || transport.IceParameters().Password == "" {
		t.Errorf("expected local ICE parameters")
	}
	if len(transport.DtlsParameters().Fingerprints) == 0 {
		t.Errorf("expected DTLS fingerprints")
	}

	params := webrtc.RTPParameters{Codecs: router.Codecs()[:1]}
	if _, err = transport.Produce(ctx, webrtc.RTPCodecTypeAudio, params, nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected not connected, got %v", err)
	}
	if err = transport.Connect(ctx, webrtc.DTLSParameters{}, nil); !errors.Is(err, ErrNoIceParameters) {
		t.Errorf("expected missing ICE parameters, got %v", err)
	}

	_ = router.Close()
	if _, err = router.CreateWebRtcTransport(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("expected a closed router, got %v", err)
	}
	if err = transport.Connect(ctx, webrtc.DTLSParameters{}, &webrtc.ICEParameters{}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected a closed transport, got %v", err)
	}
}
