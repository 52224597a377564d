package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/worldhost/worldhost/pkg/config"
	"github.com/worldhost/worldhost/pkg/host"
	"github.com/worldhost/worldhost/pkg/logger"
	"github.com/worldhost/worldhost/pkg/monitoring"
	"github.com/worldhost/worldhost/pkg/network/webrtc"
	wos "github.com/worldhost/worldhost/pkg/os"
	"github.com/worldhost/worldhost/pkg/service"
)

var Version = "?"

const shutdownTimeout = 10 * time.Second

func main() {
	conf, err := config.NewHostConfig(os.Args[1:])
	if err != nil {
		logger.Default().Fatal().Err(err).Msg("config load has failed")
	}

	log := logger.New(conf.Host.Debug)
	if conf.Host.Debug {
		log = logger.NewConsole(true, "h", false)
	}
	log.Info().Msgf("version %s", Version)
	if p := conf.Path(); p != "" {
		log.Info().Msgf("config: %v", p)
	}
	if log.GetLevel() < logger.InfoLevel {
		log.Debug().Msgf("config: %+v", conf)
	}

	lock, err := wos.NewFileLock(conf.Host.LockFile)
	if err == nil {
		err = lock.TryLock()
	}
	if err != nil {
		if errors.Is(err, wos.ErrLocked) {
			log.Fatal().Msg("another host is already running")
		}
		log.Fatal().Err(err).Msg("lock has failed")
	}
	defer func() { _ = lock.Unlock() }()

	engine, err := webrtc.NewEngine(conf.Webrtc, log)
	if err != nil {
		log.Fatal().Err(err).Msg("WebRTC engine init has failed")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	h, err := host.New(conf.Host, engine, reg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("host init has failed")
	}

	var services service.Group
	if conf.Monitoring.IsEnabled() {
		mon, err := monitoring.New(conf.Monitoring, reg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("monitoring init has failed")
		}
		services.Add(mon)
	}
	services.Add(h)
	if conf.Host.WatchConfig {
		if conf.Path() == "" {
			log.Warn().Msg("no config file to watch")
		} else if w, err := config.NewCapacityWatcher(conf.Path(), h.SetCapacity, log); err != nil {
			log.Error().Err(err).Msg("config watcher init has failed")
		} else {
			services.Add(w)
		}
	}
	services.Start()

	<-wos.ExpectTermination()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := services.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("service shutdown errors")
	}
	if err := engine.Close(); err != nil {
		log.Error().Err(err).Msg("WebRTC engine close has failed")
	}
}
