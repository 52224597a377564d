package webrtc

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/worldhost/worldhost/pkg/config"
	"github.com/worldhost/worldhost/pkg/logger"
	"github.com/worldhost/worldhost/pkg/network/socket"
)

type ApiFactory struct {
	api     *webrtc.API
	servers []webrtc.ICEServer
	lite    bool
	closers []func() error
}

type ModApiFun func(m *webrtc.MediaEngine, i *interceptor.Registry, s *webrtc.SettingEngine)

func NewApiFactory(conf config.Webrtc, log *logger.Logger, mod ModApiFun) (api *ApiFactory, err error) {
	api = &ApiFactory{lite: conf.IceLite}

	m := &webrtc.MediaEngine{}
	if err = m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	i := &interceptor.Registry{}
	if !conf.DisableDefaultInterceptors {
		if err = webrtc.RegisterDefaultInterceptors(m, i); err != nil {
			return nil, err
		}
	}
	customLogger := logger.NewPionLogger(log, conf.LogLevel)
	s := webrtc.SettingEngine{LoggerFactory: customLogger}
	s.SetLite(conf.IceLite)
	if conf.HasDtlsRole() {
		if err = s.SetAnsweringDTLSRole(webrtc.DTLSRole(conf.DtlsRole)); err != nil {
			return nil, err
		}
	}
	if conf.HasPortRange() {
		if err = s.SetEphemeralUDPPortRange(conf.IcePorts.Min, conf.IcePorts.Max); err != nil {
			return nil, err
		}
	}
	if conf.HasSinglePort() {
		udp, err := socket.NewUDPPortRoll(conf.SinglePort)
		if err != nil {
			return nil, err
		}
		mux := webrtc.NewICEUDPMux(customLogger.NewLogger("mux"), udp)
		s.SetICEUDPMux(mux)
		api.closers = append(api.closers, mux.Close)
		log.Info().Msgf("The single port mode is active for %s", udp.LocalAddr())
	}
	if conf.HasIceIpMap() {
		s.SetNAT1To1IPs(conf.IceIps(), webrtc.ICECandidateTypeHost)
		log.Info().Msgf("The NAT mapping is active for %v", conf.IceIpMap)
	}

	if mod != nil {
		mod(m, i, &s)
	}

	for _, server := range conf.IceServers {
		api.servers = append(api.servers, webrtc.ICEServer{
			URLs:       []string{server.Urls},
			Username:   server.Username,
			Credential: server.Credential,
		})
	}
	api.api = webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i), webrtc.WithSettingEngine(s))
	return api, nil
}

func (a *ApiFactory) gatherOptions() webrtc.ICEGatherOptions {
	return webrtc.ICEGatherOptions{ICEServers: a.servers}
}

// Close releases shared sockets.
func (a *ApiFactory) Close() error {
	var err error
	for _, c := range a.closers {
		if e := c(); e != nil {
			err = e
		}
	}
	return err
}
