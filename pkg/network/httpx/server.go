package httpx

import (
	"errors"
	"net/http"
	"time"

	"github.com/worldhost/worldhost/pkg/logger"
	"golang.org/x/crypto/acme/autocert"
)

// Server is an HTTP or HTTPS server on its own listener.
// With HTTPS and no cert files, certificates come from Let's Encrypt
// through the TLS-ALPN challenge on the same port.
type Server struct {
	http.Server

	autoCert *autocert.Manager
	opts     Options
	listener *Listener
	log      *logger.Logger
}

type (
	// Mux is a ServeMux that puts a prefix before every pattern.
	Mux struct {
		*http.ServeMux
		prefix string
	}
	Handler        = http.Handler
	ResponseWriter = http.ResponseWriter
	Request        = http.Request
)

func NewServeMux(prefix string) *Mux {
	return &Mux{ServeMux: http.NewServeMux(), prefix: prefix}
}

func (m *Mux) Handle(pattern string, handler Handler) *Mux {
	m.ServeMux.Handle(m.prefix+pattern, handler)
	return m
}

func (m *Mux) HandleFunc(pattern string, handler func(ResponseWriter, *Request)) *Mux {
	m.ServeMux.HandleFunc(m.prefix+pattern, handler)
	return m
}

// NewServer binds the address right away, so the real port is known
// before Run. The handler func gets the bound server.
func NewServer(address string, handler func(*Server) Handler, options ...Option) (*Server, error) {
	opts := &Options{
		IdleTimeout:  120 * time.Second,
		ReadTimeout:  500 * time.Second,
		WriteTimeout: 500 * time.Second,
	}
	opts.override(options...)
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}

	s := &Server{
		Server: http.Server{
			Addr:         address,
			IdleTimeout:  opts.IdleTimeout,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
		},
		opts: *opts,
		log:  opts.Logger,
	}

	if opts.Https && opts.IsAutoHttpsCert() {
		s.autoCert = NewTLSConfig(opts.HttpsDomain).CertManager
		s.TLSConfig = s.autoCert.TLSConfig()
	}

	addr := s.Addr
	if addr == "" {
		addr = ":http"
		if opts.Https {
			addr = ":https"
		}
		s.log.Warn().Msgf("Empty server address has been changed to %v", addr)
	}
	listener, err := NewListener(addr, opts.PortRoll)
	if err != nil {
		return nil, err
	}
	s.listener = listener
	s.Addr = buildAddress(s.Addr, *listener)
	s.log.Info().Msgf("httpx %v (%v)", s.Addr, address)

	s.Handler = handler(s)
	return s, nil
}

func (s *Server) Run() { go s.run() }

func (s *Server) run() {
	protocol := s.protocol()
	s.log.Debug().Msgf("Starting %s server on %s", protocol, s.Addr)

	var err error
	if s.opts.Https {
		err = s.ServeTLS(*s.listener, s.opts.HttpsCert, s.opts.HttpsKey)
	} else {
		err = s.Serve(*s.listener)
	}
	if errors.Is(err, http.ErrServerClosed) {
		s.log.Debug().Msgf("%s server was closed", protocol)
		return
	}
	s.log.Error().Err(err).Msgf("%s server has failed", protocol)
}

func (s *Server) GetPort() int { return s.listener.GetPort() }

func (s *Server) protocol() string {
	if s.opts.Https {
		return "https"
	}
	return "http"
}
