package negotiator

import (
	"errors"
	"reflect"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/worldhost/worldhost/pkg/api"
)

func TestDtlsRoleRoundTrip(t *testing.T) {
	for _, role := range []webrtc.DTLSRole{webrtc.DTLSRoleAuto, webrtc.DTLSRoleClient, webrtc.DTLSRoleServer} {
		wire, err := dtlsRoleToWire(role)
		if err != nil {
			t.Fatalf("%v: %v", role, err)
		}
		back, err := dtlsRoleFromWire(wire)
		if err != nil || back != role {
			t.Errorf("%v became %v (%v)", role, back, err)
		}
	}
	if _, err := dtlsRoleToWire(webrtc.DTLSRoleUnknown); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected unsupported, got %v", err)
	}
	if r, err := dtlsRoleFromWire(""); err != nil || r != webrtc.DTLSRoleAuto {
		t.Errorf("expected auto for an empty role, got %v %v", r, err)
	}
}

func TestCandidateRoundTrip(t *testing.T) {
	tests := []webrtc.ICECandidate{
		{Foundation: "1", Priority: 1, Address: "10.0.0.1", Protocol: webrtc.ICEProtocolUDP, Port: 1, Typ: webrtc.ICECandidateTypeHost, Component: 1},
		{Foundation: "2", Priority: 2, Address: "10.0.0.2", Protocol: webrtc.ICEProtocolTCP, Port: 2, Typ: webrtc.ICECandidateTypeSrflx, Component: 1, TCPType: "passive"},
		{Foundation: "3", Priority: 3, Address: "10.0.0.3", Protocol: webrtc.ICEProtocolUDP, Port: 3, Typ: webrtc.ICECandidateTypePrflx, Component: 1},
		{Foundation: "4", Priority: 4, Address: "10.0.0.4", Protocol: webrtc.ICEProtocolUDP, Port: 4, Typ: webrtc.ICECandidateTypeRelay, Component: 1},
	}
	for _, c := range tests {
		wire, err := candidateToWire(c)
		if err != nil {
			t.Fatalf("%v: %v", c.Foundation, err)
		}
		back, err := candidateFromWire(wire)
		if err != nil {
			t.Fatalf("%v: %v", c.Foundation, err)
		}
		if !reflect.DeepEqual(back, c) {
			t.Errorf("expected %+v, got %+v", c, back)
		}
	}
	if _, err := candidateFromWire(api.IceCandidate{Protocol: "sctp", Type: "host"}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected unsupported protocol, got %v", err)
	}
	if _, err := candidateFromWire(api.IceCandidate{Protocol: "UDP", Type: "peer"}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected unsupported type, got %v", err)
	}
}

func TestFmtp(t *testing.T) {
	line := fmtpLine(map[string]any{"useinbandfec": 1, "minptime": 10, "profile": "x"})
	if line != "minptime=10;profile=x;useinbandfec=1" {
		t.Errorf("unexpected line %v", line)
	}
	params := fmtpParams(line)
	if params["minptime"] != int64(10) || params["profile"] != "x" {
		t.Errorf("unexpected params %v", params)
	}
	if fmtpLine(nil) != "" || fmtpParams("") != nil {
		t.Errorf("expected empty values")
	}
}

func TestStreamDefaults(t *testing.T) {
	p := streamFromWire(api.SctpStreamParameters{StreamId: 1}, "l", "p")
	if !p.Ordered || p.ID == nil || *p.ID != 1 || !p.Negotiated {
		t.Errorf("expected an ordered negotiated stream, got %+v", p)
	}
	life := uint16(100)
	p = streamFromWire(api.SctpStreamParameters{MaxPacketLifeTime: &life}, "", "")
	if p.Ordered {
		t.Errorf("expected partial reliability to default to unordered")
	}
}
