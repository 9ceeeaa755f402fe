package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amine-amaach/simulators/ramanOPCUA/internal/addrspace"
	"github.com/amine-amaach/simulators/ramanOPCUA/internal/config"
	"github.com/amine-amaach/simulators/ramanOPCUA/internal/device"
	"github.com/amine-amaach/simulators/ramanOPCUA/internal/forward"
	"github.com/amine-amaach/simulators/ramanOPCUA/internal/historian"
	"github.com/amine-amaach/simulators/ramanOPCUA/internal/log"
	"github.com/amine-amaach/simulators/ramanOPCUA/internal/metrics"
	"github.com/amine-amaach/simulators/ramanOPCUA/internal/mirror"
	"github.com/amine-amaach/simulators/ramanOPCUA/internal/simulators"
	"github.com/amine-amaach/simulators/ramanOPCUA/internal/uabackend"
	"github.com/amine-amaach/simulators/ramanOPCUA/internal/uaclient"
	"github.com/amine-amaach/simulators/ramanOPCUA/internal/uasrv"
	"github.com/amine-amaach/simulators/ramanOPCUA/internal/utils"
	"github.com/awcullen/opcua/server"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	version = "v1.0.0"
	banner  = `
 ____                                  ___  ____   ____ _   _   _    
|  _ \ __ _ _ __ ___   __ _ _ __      / _ \|  _ \ / ___| | | | / \   %s
| |_) / _' | '_ ' _ \ / _' | '_ \    | | | | |_) | |   | | | |/ _ \  
|  _ < (_| | | | | | | (_| | | | |   | |_| |  __/| |___| |_| / ___ \ 
|_| \_\__,_|_| |_| |_|\__,_|_| |_|    \___/|_|    \____|\___/_/   \_\
Simulated Raman Spectrometer Over OPCUA
______________________________________________________________________O/__________
                                                                      O\           
`
	shutdownTimeout = 10 * time.Second
	dialAttempts    = 5
)

func main() {
	// Print Banner
	fmt.Println(utils.Colorize(fmt.Sprintf(banner, version), utils.Cyan))

	// Getting configs from the file
	cfg := config.GetConfigs()
	logger := log.NewLogger(cfg.LoggerConfig.Level, cfg.LoggerConfig.Format, cfg.LoggerConfig.DisableTimestamp)

	if err := run(cfg, logger); err != nil {
		logger.WithField("Err", err).Errorln("Simulator stopped ⛔")
		os.Exit(1)
	}
	logger.Infoln("Simulator stopped ✅")
}

func run(cfg config.Cfg, logger *logrus.Logger) error {
	spCfg := cfg.SpectrometerConfig
	produceInterval, err := parseDuration(spCfg.ProduceInterval)
	if err != nil {
		return errors.Wrap(err, "spectrometer.produce_interval")
	}
	samplingInterval, err := parseDuration(spCfg.SamplingInterval)
	if err != nil {
		return errors.Wrap(err, "spectrometer.sampling_interval")
	}

	// Historian of the historized nodes
	srvOpts := []server.Option{}
	if cfg.HistorianConfig.Enabled {
		period, err := parseDuration(cfg.HistorianConfig.Period)
		if err != nil {
			return errors.Wrap(err, "historian.period")
		}
		store, err := historian.Open(cfg.HistorianConfig.Store, cfg.HistorianConfig.Path)
		if err != nil {
			return err
		}
		h := historian.New(store, cfg.HistorianConfig.Count, period, logger)
		defer h.Close()
		srvOpts = append(srvOpts, server.WithHistorian(h))
	}

	// OPC UA server and its address space
	svc, err := uasrv.New(cfg.ServerConfig, logger, srvOpts...)
	if err != nil {
		return err
	}
	layout := addrspace.Layout{NS: svc.Namespace(), Channels: spCfg.Channels}
	if spCfg.NodesetFile != "" {
		err = addrspace.Load(svc.Server(), spCfg.NodesetFile, logger)
	} else {
		err = addrspace.NewBuilder(svc.Server(), layout, addrspace.DeviceInfo{
			SerialNumber: "SIM-0001",
			Model:        fmt.Sprintf("Raman %dCH", spCfg.Channels),
		}, logger).Build()
	}
	if err != nil {
		return err
	}

	svc.Start()
	defer func() {
		if err := svc.Close(); err != nil {
			logger.WithField("Err", err).Warnln("OPC UA server stopped with an error 🔔")
		}
	}()
	if cfg.HistorianConfig.Enabled {
		if err := svc.Historize(layout.RandomValue()); err != nil {
			logger.WithField("Err", err).Warnln("random_value is not historized 🔔")
		}
	}

	if cfg.MetricsConfig.Enabled {
		shutdown := metrics.Serve(cfg.MetricsConfig.Address, logger)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			shutdown(ctx)
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Backend the mirrored objects are bound through
	var backend mirror.Backend
	switch spCfg.Backend {
	case "", "local":
		backend = uabackend.New(svc.Server(), logger)
	case "session":
		b, err := dialSession(ctx, svc, cfg, logger)
		if err != nil {
			return err
		}
		defer b.Close(context.Background())
		backend = b
	default:
		return errors.Errorf("unknown spectrometer backend %q", spCfg.Backend)
	}

	mirrorOpts := []mirror.Option{
		mirror.WithSamplingInterval(samplingInterval),
		mirror.WithLogger(logger),
	}

	// Optional forwarding of the mirrored changes
	if cfg.MQTTConfig.Enabled {
		cm, err := forward.Connect(ctx, cfg.MQTTConfig, logger)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := cm.Disconnect(ctx); err == nil {
				logger.Infoln("MQTT connection closed ✅")
			}
		}()
		fwd := forward.New(cm, cfg.MQTTConfig, logger)
		go fwd.Run(ctx)
		mirrorOpts = append(mirrorOpts, mirror.WithChangeHook(fwd.Hook()))
	}

	dev, err := device.Bind(ctx, backend, layout.Device(), mirrorOpts...)
	if err != nil {
		return err
	}
	defer dev.Close(context.Background())

	sim, err := simulators.NewSpectrumSim(backend, dev, simulators.Config{
		Points:            spCfg.Points,
		Interval:          produceInterval,
		Mean:              spCfg.Mean,
		StandardDeviation: spCfg.StandardDeviation,
		Workers:           spCfg.Workers,
	}, logger)
	if err != nil {
		return err
	}
	defer sim.Close()
	produced := make(chan struct{})
	go func() {
		defer close(produced)
		sim.Run(ctx)
	}()
	// the producer is stopped before the workers and the mirrored objects
	defer func() {
		cancel()
		<-produced
	}()

	// Wait for a signal before exiting
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	s := <-sig
	logger.WithField("Signal", s).Infoln("Stopping simulator... 🔔")
	return nil
}

// dialSession opens a client session to the server started by svc. The listener may
// not be accepting yet, so a few attempts are made.
func dialSession(ctx context.Context, svc *uasrv.Service, cfg config.Cfg, logger *logrus.Logger) (*uaclient.Backend, error) {
	var err error
	for i := 0; i < dialAttempts; i++ {
		var b *uaclient.Backend
		if b, err = uaclient.Dial(ctx, svc.EndpointURL(), cfg.ServerConfig.UserIds, logger); err == nil {
			return b, nil
		}
		logger.WithFields(logrus.Fields{"Attempt": i + 1, "Err": err}).Warnln("OPC UA session not opened 🔔")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil, err
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
