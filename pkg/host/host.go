// Package host runs the rooms of a shared 3D world.
//
// A player connects to /ws and sends a join. The hub finds or creates
// the room of the world in the registry, and the room tells everyone
// about the newcomer. Each room owns one SFU router, and the players
// negotiate their producer and consumer transports on it. The media
// of every player is linked to everyone else in the room.
package host

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/worldhost/worldhost/pkg/api"
	"github.com/worldhost/worldhost/pkg/config"
	"github.com/worldhost/worldhost/pkg/logger"
	"github.com/worldhost/worldhost/pkg/negotiator"
	"github.com/worldhost/worldhost/pkg/network/httpx"
)

type Host struct {
	conf     config.Host
	hub      *Hub
	registry *Registry
	server   *httpx.Server
	log      *logger.Logger
}

// New wires the host together.
// The metrics go into reg when it is not nil.
func New(conf config.Host, engine negotiator.Engine, reg prometheus.Registerer, log *logger.Logger) (*Host, error) {
	log = log.Extend(log.With().Str(logger.ModuleField, "host"))
	m := NewMetrics(reg)
	codec := api.NewCodec(api.Limits{
		Nickname: conf.Limits.Nickname,
		Chat:     conf.Limits.Chat,
		Uri:      conf.Limits.Uri,
		WorldId:  conf.Limits.WorldId,
		Position: conf.Limits.Position,
	})
	registry := NewRegistry(engine, conf.GracePeriod, conf.Capacity, m, log)
	h := &Host{
		conf:     conf,
		registry: registry,
		hub:      NewHub(conf, codec, registry, m, log),
		log:      log,
	}

	address := conf.Server.Address
	if conf.Server.Https {
		address = conf.Server.Tls.Address
	}
	server, err := httpx.NewServer(
		address,
		func(*httpx.Server) httpx.Handler { return h.Handler() },
		httpx.WithServerConfig(conf.Server),
		httpx.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	h.server = server
	return h, nil
}

// Handler serves the player connections and the room queries.
func (h *Host) Handler() http.Handler { return h.routes(httpx.NewServeMux("")) }

func (h *Host) Registry() *Registry { return h.registry }

// SetCapacity is meant for config reloads.
func (h *Host) SetCapacity(c config.Capacity) { h.registry.SetCapacity(c) }

func (h *Host) Run() {
	h.log.Info().Msgf("Starting the host at %v", h.server.Addr)
	h.server.Run()
}

func (h *Host) Shutdown(ctx context.Context) error {
	h.log.Info().Msg("Shutting down the host")
	return errors.Join(h.server.Shutdown(ctx), h.hub.Shutdown(ctx))
}

func (h *Host) String() string { return "host::" + h.server.Addr }
