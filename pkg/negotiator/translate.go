package negotiator

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/worldhost/worldhost/pkg/api"
)

const (
	sctpPort = 5000
	sctpOS   = 1024
	sctpMIS  = 1024
	// pion reports 0 when the remote max is unknown
	defaultSctpMaxMessageSize = 262144
)

func dtlsRoleToWire(role webrtc.DTLSRole) (api.DtlsRole, error) {
	switch role {
	case webrtc.DTLSRoleAuto:
		return api.DtlsAuto, nil
	case webrtc.DTLSRoleClient:
		return api.DtlsClient, nil
	case webrtc.DTLSRoleServer:
		return api.DtlsServer, nil
	default:
		return "", fmt.Errorf("%w: dtls role %v", ErrUnsupported, role)
	}
}

func dtlsRoleFromWire(role api.DtlsRole) (webrtc.DTLSRole, error) {
	switch role {
	case api.DtlsAuto, "":
		return webrtc.DTLSRoleAuto, nil
	case api.DtlsClient:
		return webrtc.DTLSRoleClient, nil
	case api.DtlsServer:
		return webrtc.DTLSRoleServer, nil
	default:
		return webrtc.DTLSRoleUnknown, fmt.Errorf("%w: dtls role %q", ErrUnsupported, role)
	}
}

func iceProtocolToWire(p webrtc.ICEProtocol) (string, error) {
	switch p {
	case webrtc.ICEProtocolUDP:
		return "udp", nil
	case webrtc.ICEProtocolTCP:
		return "tcp", nil
	default:
		return "", fmt.Errorf("%w: ice protocol %v", ErrUnsupported, p)
	}
}

func iceProtocolFromWire(p string) (webrtc.ICEProtocol, error) {
	switch strings.ToLower(p) {
	case "udp":
		return webrtc.ICEProtocolUDP, nil
	case "tcp":
		return webrtc.ICEProtocolTCP, nil
	default:
		return webrtc.ICEProtocolUnknown, fmt.Errorf("%w: ice protocol %q", ErrUnsupported, p)
	}
}

func iceTypeToWire(t webrtc.ICECandidateType) (string, error) {
	switch t {
	case webrtc.ICECandidateTypeHost:
		return "host", nil
	case webrtc.ICECandidateTypeSrflx:
		return "srflx", nil
	case webrtc.ICECandidateTypePrflx:
		return "prflx", nil
	case webrtc.ICECandidateTypeRelay:
		return "relay", nil
	default:
		return "", fmt.Errorf("%w: ice candidate type %v", ErrUnsupported, t)
	}
}

func iceTypeFromWire(t string) (webrtc.ICECandidateType, error) {
	switch t {
	case "host":
		return webrtc.ICECandidateTypeHost, nil
	case "srflx":
		return webrtc.ICECandidateTypeSrflx, nil
	case "prflx":
		return webrtc.ICECandidateTypePrflx, nil
	case "relay":
		return webrtc.ICECandidateTypeRelay, nil
	default:
		return webrtc.ICECandidateTypeUnknown, fmt.Errorf("%w: ice candidate type %q", ErrUnsupported, t)
	}
}

func candidateToWire(c webrtc.ICECandidate) (api.IceCandidate, error) {
	protocol, err := iceProtocolToWire(c.Protocol)
	if err != nil {
		return api.IceCandidate{}, err
	}
	typ, err := iceTypeToWire(c.Typ)
	if err != nil {
		return api.IceCandidate{}, err
	}
	return api.IceCandidate{
		Foundation: c.Foundation,
		Priority:   c.Priority,
		Ip:         c.Address,
		Protocol:   protocol,
		Port:       c.Port,
		Type:       typ,
		TcpType:    c.TCPType,
	}, nil
}

func candidateFromWire(c api.IceCandidate) (webrtc.ICECandidate, error) {
	protocol, err := iceProtocolFromWire(c.Protocol)
	if err != nil {
		return webrtc.ICECandidate{}, err
	}
	typ, err := iceTypeFromWire(c.Type)
	if err != nil {
		return webrtc.ICECandidate{}, err
	}
	return webrtc.ICECandidate{
		Foundation: c.Foundation,
		Priority:   c.Priority,
		Address:    c.Ip,
		Protocol:   protocol,
		Port:       c.Port,
		Typ:        typ,
		Component:  1,
		TCPType:    c.TcpType,
	}, nil
}

func dtlsToWire(p webrtc.DTLSParameters) (api.DtlsParameters, error) {
	role, err := dtlsRoleToWire(p.Role)
	if err != nil {
		return api.DtlsParameters{}, err
	}
	out := api.DtlsParameters{Role: role, Fingerprints: make([]api.DtlsFingerprint, len(p.Fingerprints))}
	for i, f := range p.Fingerprints {
		out.Fingerprints[i] = api.DtlsFingerprint{Algorithm: f.Algorithm, Value: f.Value}
	}
	return out, nil
}

func dtlsFromWire(p api.DtlsParameters) (webrtc.DTLSParameters, error) {
	role, err := dtlsRoleFromWire(p.Role)
	if err != nil {
		return webrtc.DTLSParameters{}, err
	}
	out := webrtc.DTLSParameters{Role: role, Fingerprints: make([]webrtc.DTLSFingerprint, len(p.Fingerprints))}
	for i, f := range p.Fingerprints {
		out.Fingerprints[i] = webrtc.DTLSFingerprint{Algorithm: f.Algorithm, Value: f.Value}
	}
	return out, nil
}

func iceToWire(p webrtc.ICEParameters) api.IceParameters {
	return api.IceParameters{UsernameFragment: p.UsernameFragment, Password: p.Password, IceLite: p.ICELite}
}

func iceFromWire(p *api.IceParameters) *webrtc.ICEParameters {
	if p == nil {
		return nil
	}
	return &webrtc.ICEParameters{UsernameFragment: p.UsernameFragment, Password: p.Password, ICELite: p.IceLite}
}

func sctpToWire(c webrtc.SCTPCapabilities) *api.SctpParameters {
	size := c.MaxMessageSize
	if size == 0 {
		size = defaultSctpMaxMessageSize
	}
	return &api.SctpParameters{Port: sctpPort, OS: sctpOS, MIS: sctpMIS, MaxMessageSize: size}
}

func streamFromWire(p api.SctpStreamParameters, label, protocol string) webrtc.DataChannelParameters {
	id := p.StreamId
	ordered := true
	if p.Ordered != nil {
		ordered = *p.Ordered
	}
	if p.MaxPacketLifeTime != nil || p.MaxRetransmits != nil {
		ordered = p.Ordered != nil && *p.Ordered
	}
	return webrtc.DataChannelParameters{
		Label:             label,
		Protocol:          protocol,
		ID:                &id,
		Ordered:           ordered,
		MaxPacketLifeTime: p.MaxPacketLifeTime,
		MaxRetransmits:    p.MaxRetransmits,
		Negotiated:        true,
	}
}

func streamToWire(p webrtc.DataChannelParameters) api.SctpStreamParameters {
	out := api.SctpStreamParameters{Ordered: &p.Ordered, MaxPacketLifeTime: p.MaxPacketLifeTime, MaxRetransmits: p.MaxRetransmits}
	if p.ID != nil {
		out.StreamId = *p.ID
	}
	return out
}

func kindOf(mimeType string) api.MediaKind {
	if strings.HasPrefix(strings.ToLower(mimeType), "video/") {
		return api.KindVideo
	}
	return api.KindAudio
}

func kindToWire(k webrtc.RTPCodecType) api.MediaKind {
	if k == webrtc.RTPCodecTypeVideo {
		return api.KindVideo
	}
	return api.KindAudio
}

func kindFromWire(k api.MediaKind) webrtc.RTPCodecType {
	if k == api.KindVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}

// fmtpLine serializes codec parameters as an SDP fmtp line with sorted keys.
func fmtpLine(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, params[k])
	}
	return strings.Join(parts, ";")
}

// fmtpParams parses an SDP fmtp line, numbers become numbers.
func fmtpParams(line string) map[string]any {
	if line == "" {
		return nil
	}
	out := make(map[string]any)
	for _, kv := range strings.Split(line, ";") {
		k, v, _ := strings.Cut(strings.TrimSpace(kv), "=")
		if k == "" {
			continue
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out[k] = n
		} else {
			out[k] = v
		}
	}
	return out
}

func feedbackToWire(fb []webrtc.RTCPFeedback) []api.RtcpFeedback {
	if len(fb) == 0 {
		return nil
	}
	out := make([]api.RtcpFeedback, len(fb))
	for i, f := range fb {
		out[i] = api.RtcpFeedback{Type: f.Type, Parameter: f.Parameter}
	}
	return out
}

func feedbackFromWire(fb []api.RtcpFeedback) []webrtc.RTCPFeedback {
	if len(fb) == 0 {
		return nil
	}
	out := make([]webrtc.RTCPFeedback, len(fb))
	for i, f := range fb {
		out[i] = webrtc.RTCPFeedback{Type: f.Type, Parameter: f.Parameter}
	}
	return out
}

func capabilitiesToWire(codecs []webrtc.RTPCodecParameters) api.RtpCapabilities {
	out := api.RtpCapabilities{Codecs: make([]api.RtpCodecCapability, len(codecs))}
	for i, c := range codecs {
		out.Codecs[i] = api.RtpCodecCapability{
			Kind:                 kindOf(c.MimeType),
			MimeType:             c.MimeType,
			PreferredPayloadType: uint8(c.PayloadType),
			ClockRate:            c.ClockRate,
			Channels:             c.Channels,
			Parameters:           fmtpParams(c.SDPFmtpLine),
			RtcpFeedback:         feedbackToWire(c.RTCPFeedback),
		}
	}
	return out
}

func capabilitiesFromWire(caps api.RtpCapabilities) []webrtc.RTPCodecParameters {
	out := make([]webrtc.RTPCodecParameters, len(caps.Codecs))
	for i, c := range caps.Codecs {
		out[i] = webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:     c.MimeType,
				ClockRate:    c.ClockRate,
				Channels:     c.Channels,
				SDPFmtpLine:  fmtpLine(c.Parameters),
				RTCPFeedback: feedbackFromWire(c.RtcpFeedback),
			},
			PayloadType: webrtc.PayloadType(c.PreferredPayloadType),
		}
	}
	return out
}

func rtpFromWire(p api.RtpParameters) (webrtc.RTPParameters, []webrtc.RTPDecodingParameters) {
	params := webrtc.RTPParameters{Codecs: make([]webrtc.RTPCodecParameters, len(p.Codecs))}
	for i, c := range p.Codecs {
		params.Codecs[i] = webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:     c.MimeType,
				ClockRate:    c.ClockRate,
				Channels:     c.Channels,
				SDPFmtpLine:  fmtpLine(c.Parameters),
				RTCPFeedback: feedbackFromWire(c.RtcpFeedback),
			},
			PayloadType: webrtc.PayloadType(c.PayloadType),
		}
	}
	encodings := make([]webrtc.RTPDecodingParameters, len(p.Encodings))
	for i, e := range p.Encodings {
		encodings[i] = webrtc.RTPDecodingParameters{RTPCodingParameters: webrtc.RTPCodingParameters{
			RID:  e.Rid,
			SSRC: webrtc.SSRC(e.Ssrc),
		}}
		if len(params.Codecs) > 0 {
			encodings[i].PayloadType = params.Codecs[0].PayloadType
		}
	}
	return params, encodings
}

func rtpToWire(p webrtc.RTPParameters, encodings []webrtc.RTPEncodingParameters) api.RtpParameters {
	out := api.RtpParameters{
		Codecs:    make([]api.RtpCodecParameters, len(p.Codecs)),
		Encodings: make([]api.RtpEncodingParameters, len(encodings)),
	}
	for i, c := range p.Codecs {
		out.Codecs[i] = api.RtpCodecParameters{
			MimeType:     c.MimeType,
			PayloadType:  uint8(c.PayloadType),
			ClockRate:    c.ClockRate,
			Channels:     c.Channels,
			Parameters:   fmtpParams(c.SDPFmtpLine),
			RtcpFeedback: feedbackToWire(c.RTCPFeedback),
		}
	}
	for i, e := range encodings {
		out.Encodings[i] = api.RtpEncodingParameters{Ssrc: uint32(e.SSRC), Rid: e.RID}
	}
	return out
}
