// Command node is the acquisition-node binary: it wires one IoBackend,
// one CameraBackend, the AcquisitionEngine, the JobQueue, and the HTTP
// control surface together and runs until signaled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wigglecam/node/internal/camerabackend"
	"github.com/wigglecam/node/internal/config"
	"github.com/wigglecam/node/internal/engine"
	"github.com/wigglecam/node/internal/httpapi"
	"github.com/wigglecam/node/internal/iobackend"
	"github.com/wigglecam/node/internal/jobqueue"
	"github.com/wigglecam/node/internal/logger"
	"github.com/wigglecam/node/internal/media"
	"github.com/wigglecam/node/internal/netclock"
)

// Build info set at compile time via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// exit codes, per the documented CLI surface: 0 clean shutdown, 2
// configuration error, 1 fatal hardware error.
const (
	exitOK        = 0
	exitFatal     = 1
	exitConfigErr = 2
)

// node is the root object owning every long-lived component, built
// in construction order and torn down in reverse.
type node struct {
	cfg     *config.Config
	log     *logger.Logger
	io      iobackend.Backend
	camera  camerabackend.Backend
	engine  *engine.Engine
	media   *media.Store
	queue   *jobqueue.Queue
	clock   *netclock.Checker
	httpSrv *httpapi.Server
}

func main() {
	ioFlag := flag.String("trigger", "", "io backend override: virtual|gpio")
	cameraFlag := flag.String("camera", "", "camera backend override: virtual|picam")
	deviceIDFlag := flag.Int("device-id", -1, "device id override")
	envFlag := flag.String("env-file", ".env", "path to an optional .env file")
	flag.Parse()

	logger.Init()
	log := logger.Default()
	log.Info("acquisition node starting", "version", Version, "commit", GitCommit)

	cfg, err := config.Load(*envFlag)
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(exitConfigErr)
	}
	if *ioFlag != "" {
		cfg.Backend.IO = *ioFlag
	}
	if *cameraFlag != "" {
		cfg.Backend.Camera = *cameraFlag
	}
	if *deviceIDFlag >= 0 {
		cfg.DeviceID = *deviceIDFlag
	}

	n, err := buildNode(cfg, log)
	if err != nil {
		log.Error("fatal hardware error", "error", err)
		os.Exit(exitFatal)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := n.start(ctx); err != nil {
		log.Error("fatal hardware error", "error", err)
		cancel()
		os.Exit(exitFatal)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")
	cancel()

	n.stop()
	log.Info("shutdown complete")
	os.Exit(exitOK)
}

func buildNode(cfg *config.Config, log *logger.Logger) (*node, error) {
	ioBackend, err := iobackend.New(cfg.Backend.IO, iobackend.Config{
		IsPrimary:          cfg.Backend.GPIO.IsPrimary,
		FPSNominalOverride: cfg.Backend.GPIO.FPSNominal,
		ValidWindow:        2.0,
		GPIOChip:           cfg.Backend.GPIO.Chip,
		ClockLine:          cfg.Backend.GPIO.ClockLine,
		TriggerInLine:      cfg.Backend.GPIO.TriggerInLine,
		TriggerOutLine:     cfg.Backend.GPIO.TriggerOutLine,
		PWMChip:            cfg.Backend.GPIO.PWMChip,
		PWMChannel:         cfg.Backend.GPIO.PWMChannel,
	})
	if err != nil {
		return nil, fmt.Errorf("build io backend: %w", err)
	}

	cameraBackend, err := camerabackend.New(cfg.Backend.Camera, camerabackend.Config{
		NominalFPS:  cfg.Backend.GPIO.FPSNominal,
		FrameWidth:  cfg.Backend.Picam.FrameWidth,
		FrameHeight: cfg.Backend.Picam.FrameHeight,
		Device:      cfg.Backend.Picam.Device,
		CaptureBin:  cfg.Backend.Picam.CaptureBin,
	})
	if err != nil {
		return nil, fmt.Errorf("build camera backend: %w", err)
	}

	mediaStore, err := media.NewStore(cfg.MediaRoot)
	if err != nil {
		return nil, fmt.Errorf("build media store: %w", err)
	}

	engCfg := engine.DefaultConfig()
	engCfg.Backoff = engine.BackoffConfig{
		InitialSeconds: cfg.Restart.InitialSeconds,
		MaxSeconds:     cfg.Restart.MaxSeconds,
		Multiplier:     cfg.Restart.Multiplier,
		Jitter:         cfg.Restart.Jitter,
	}
	engCfg.Degraded = engine.DegradedConfig{FailureThreshold: cfg.Degraded.FailureThreshold}
	eng := engine.New(ioBackend, cameraBackend, engCfg, log)

	queue := jobqueue.New(eng, mediaStore, jobqueue.Config{Standalone: cfg.Standalone}, log)

	clock := netclock.New(netclock.Config{
		Servers:       cfg.NetTime.Servers,
		CheckInterval: cfg.NetTime.CheckInterval,
		MaxOffset:     cfg.NetTime.MaxOffset,
		Timeout:       cfg.NetTime.Timeout,
	}, log)

	httpSrv := httpapi.NewServer(httpapi.Config{
		ListenAddr:     cfg.HTTP.ListenAddr,
		PreviewEnabled: cfg.HTTP.PreviewEnabled,
		IsPrimary:      cfg.IsPrimary(),
		Image:          cfg.Image,
	}, eng, queue, mediaStore, log).WithNetClock(clock)

	return &node{
		cfg:     cfg,
		log:     log,
		io:      ioBackend,
		camera:  cameraBackend,
		engine:  eng,
		media:   mediaStore,
		queue:   queue,
		clock:   clock,
		httpSrv: httpSrv,
	}, nil
}

func (n *node) start(ctx context.Context) error {
	if err := n.engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	n.queue.Start(ctx)
	n.clock.Start()
	if err := n.httpSrv.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	n.log.Info("node running",
		"device_id", n.cfg.DeviceID,
		"primary", n.cfg.IsPrimary(),
		"standalone", n.cfg.Standalone,
		"listen_addr", n.cfg.HTTP.ListenAddr,
	)
	return nil
}

// stop tears components down in reverse construction order.
func (n *node) stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := n.httpSrv.Stop(shutdownCtx); err != nil {
		n.log.Error("error stopping http server", "error", err)
	}
	n.clock.Stop()
	n.queue.Stop()
	if err := n.engine.Stop(); err != nil {
		n.log.Error("error stopping engine", "error", err)
	}
}
