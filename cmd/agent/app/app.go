package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	"github.com/skysurvey/companion/internal/capture"
	"github.com/skysurvey/companion/internal/events"
	"github.com/skysurvey/companion/internal/health"
	"github.com/skysurvey/companion/internal/mission"
	"github.com/skysurvey/companion/internal/recorder"
	"github.com/skysurvey/companion/internal/statusapi"
	"github.com/skysurvey/companion/internal/storage"
	"github.com/skysurvey/companion/internal/telemetry"
	"github.com/skysurvey/companion/internal/transmit"
)

const (
	// shutdownTimeout bounds the join on the support loops once the
	// mission loop has returned
	shutdownTimeout = 5 * time.Second
)

// Run assembles the agent from its configuration and drives the mission to
// completion. It returns once the mission reaches SHUTDOWN or ctx is
// canceled, after the support loops have been joined.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store, err := createStorage(config, logger)
	if err != nil {
		return fmt.Errorf("creating image store: %w", err)
	}

	camera, err := createCamera(&config.Capture)
	if err != nil {
		return err
	}
	captureCtrl := capture.New(camera, capture.WithLogger(logger))

	records := health.NewRecords(health.NewPiHealth(config.Storage.Root, health.WithLogger(logger)))
	evaluator := health.NewEvaluator(health.Thresholds{
		LowBattery:      config.BatteryStatus.LowBattery,
		CriticalBattery: config.BatteryStatus.CriticalBattery,
		TempWarn:        config.Pi.TempWarn,
		TempCritical:    config.Pi.TempCritical,
		MinFreeBytes:    config.Storage.MinStorageMBWarn * humanize.MiByte,
		RSSIDegraded:    config.Link.RSSIDegraded,
		RSSICritical:    config.Link.RSSICritical,
		LinkStaleAfter:  config.LinkStaleAfter(),
	})

	bus := events.New(events.WithLogger(logger))

	sender, err := transmit.NewSender(config.Communication.Protocol, config.Communication.Addr(), transmit.DefaultSendTimeout)
	if err != nil {
		return fmt.Errorf("creating sender: %w", err)
	}
	transmitter := transmit.New(store, sender,
		transmit.Policy{
			BatchSize: config.Batching.BatchSize,
			Good:      config.Batching.RSSIGood,
			Degraded:  config.Link.RSSIDegraded,
			Critical:  config.Link.RSSICritical,
		},
		func() *float64 { return records.Link.Snapshot().Signal },
		transmit.WithLogger(logger),
		transmit.WithBus(bus),
		transmit.WithPeriod(config.TransmitPeriod()))

	source, err := createTelemetrySource(&config.Telemetry)
	if err != nil {
		return err
	}
	feed := telemetry.New(source, records, telemetry.WithLogger(logger))

	missionCtrl := mission.New(records, evaluator, captureCtrl, store,
		mission.WithLogger(logger),
		mission.WithBus(bus),
		mission.WithTickRate(config.Platform.LoopRateHz),
		mission.WithDroneStaleAfter(config.LinkStaleAfter()))

	var flightStore *recorder.Store
	var flightRecorder *recorder.Recorder
	var sessionID int64
	if config.Recorder.Path != "" {
		flightStore = recorder.NewStore(config.Recorder.Path)
		if sessionID, err = flightStore.CreateSession(ctx, config); err != nil {
			return fmt.Errorf("creating flight recorder session: %w", err)
		}
		flightRecorder = recorder.New(flightStore, bus, recorder.WithLogger(logger))
	}

	var api *statusapi.Server
	if config.API.ListenAddr != "" {
		gin.SetMode(gin.ReleaseMode)
		api = statusapi.NewServer(config.API.ListenAddr,
			statusapi.NewHandler(missionCtrl, store, transmitter),
			statusapi.WithLogger(logger))
	}

	logger.Info("starting autonomous mission",
		slog.String("platform", config.Platform.Name),
		slog.String("groundStation", config.Communication.Addr()),
		slog.String("protocol", config.Communication.Protocol),
		slog.String("maxStorage", humanize.IBytes(config.Storage.MaxRawStorageMB*humanize.MiByte)))

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		feed.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		transmitter.Run(ctx)
	}()

	if flightRecorder != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := flightRecorder.Run(ctx, sessionID); err != nil {
				logger.Error("flight recorder stopped", slog.Any("error", err))
			}
		}()
	}

	if api != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := api.Run(ctx); err != nil {
				logger.Error("status api stopped", slog.Any("error", err))
			}
		}()
	}

	// Publishers all stop before the join returns, so the bus can only be
	// closed on the clean path. A timed-out join leaves the bus open for
	// whatever is still running; the process is about to exit anyway.
	shutdown := func() {
		cancel()

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			bus.Close()
			if flightStore != nil {
				if err := flightStore.Close(); err != nil {
					logger.Warn("closing flight recorder", slog.Any("error", err))
				}
			}
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out, abandoning background loops")
		}
	}

	// Give the first telemetry frames time to land before judging health
	if delay := config.StartupDelay(); delay > 0 {
		logger.Info("waiting for vehicle initialization", slog.Duration("delay", delay))
		select {
		case <-ctx.Done():
			shutdown()
			return nil
		case <-time.After(delay):
		}
	}

	if !missionCtrl.PreflightCheck() {
		shutdown()
		return errors.New("preflight check failed")
	}

	missionCtrl.RequestStart()
	missionCtrl.Run(ctx)

	shutdown()

	status := store.Status()
	stats := transmitter.Stats()
	logger.Info("mission shutdown complete",
		slog.Uint64("imagesSent", stats.ImagesSent),
		slog.Int("imagesPending", status.Pending),
		slog.String("bytesSent", humanize.IBytes(stats.BytesSent)))

	return nil
}

func createStorage(config *Config, logger *slog.Logger) (*storage.Manager, error) {
	return storage.NewManager(storage.Config{
		Root:        config.Storage.Root,
		WarnFloor:   config.Storage.MinStorageMBWarn * humanize.MiByte,
		FatalFloor:  config.Storage.MinStorageMBFatal * humanize.MiByte,
		MaxAttempts: config.Batching.MaxAttempts,
	}, storage.WithLogger(logger))
}

func createCamera(config *CaptureConfig) (capture.Camera, error) {
	switch config.Source {
	case CaptureSourceSynthetic:
		return capture.NewSyntheticCamera()
	case CaptureSourceDir:
		return capture.NewDirCamera(config.FrameDir)
	default:
		return nil, fmt.Errorf("creating camera: unknown source '%s'", config.Source)
	}
}

func createTelemetrySource(config *TelemetryConfig) (telemetry.Source, error) {
	switch config.Source {
	case TelemetrySourceUDP:
		return telemetry.NewUDPSource(config.ListenAddr), nil
	case TelemetrySourceSerial:
		return telemetry.NewSerialSource(config.SerialPort, config.Baud), nil
	default:
		return nil, fmt.Errorf("creating telemetry source: unknown source '%s'", config.Source)
	}
}
