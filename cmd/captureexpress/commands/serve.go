package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bryanchriswhite/CaptureExpress/internal/api"
	"github.com/bryanchriswhite/CaptureExpress/internal/config"
	"github.com/bryanchriswhite/CaptureExpress/internal/devices"
	"github.com/bryanchriswhite/CaptureExpress/internal/engine"
	"github.com/bryanchriswhite/CaptureExpress/internal/engine/gst"
	"github.com/bryanchriswhite/CaptureExpress/internal/engine/sim"
	"github.com/bryanchriswhite/CaptureExpress/internal/history"
	"github.com/bryanchriswhite/CaptureExpress/internal/host"
	"github.com/bryanchriswhite/CaptureExpress/internal/inhibit"
	"github.com/bryanchriswhite/CaptureExpress/internal/logger"
	"github.com/bryanchriswhite/CaptureExpress/internal/marker"
	"github.com/bryanchriswhite/CaptureExpress/internal/recorder"
	"github.com/bryanchriswhite/CaptureExpress/internal/volmeter"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// shutdownGrace bounds HTTP shutdown once the engine is released
const shutdownGrace = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the CaptureExpress server",
	Long: `Start the CaptureExpress HTTP server and initialize the capture engine.

Only one server may drive the engine per data directory. The server runs
until interrupted or until POST /shutdown is received.`,
	Example: `  # Start server on the configured address
  captureexpress serve

  # Start with the simulated engine
  CAPTUREEXPRESS_ENGINE_BACKEND=sim captureexpress serve

  # Start with specific config file
  captureexpress serve --config /path/to/config.yaml

  # Start with debug logging
  captureexpress serve --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}
	cfg := configMgr.Get()

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logger.Init(level, logger.PrettyMode(cfg.LogPretty))
	log := logger.WithComponent("serve")
	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("backend", cfg.Engine.Backend).
		Str("data_dir", cfg.Engine.DataDir).
		Msg("Configuration loaded")

	if err := os.MkdirAll(cfg.Engine.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another captureexpress server is running (lock %s)", cfg.LockPath())
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Warn().Err(err).Msg("Failed to release lock")
		}
	}()

	h, closeHost, err := openHost(cfg.Engine.Backend, log)
	if err != nil {
		return err
	}
	defer closeHost()

	eng, err := newEngine(cfg.Engine.Backend, h)
	if err != nil {
		return err
	}

	markerPath := cfg.ClickTracker.MarkerPath
	if markerPath == "" {
		if markerPath, err = marker.EnsureDefault(cfg.Engine.DataDir); err != nil {
			log.Warn().Err(err).Msg("Click marker unavailable, clicks will not be highlighted")
		}
	}

	var listeners []recorder.Listener
	var journal api.HistoryLister
	if cfg.History.Enabled {
		store, err := history.Open(cfg.HistoryPath())
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.HistoryPath()).Msg("Recording history disabled")
		} else {
			defer store.Close()
			listeners = append(listeners, store)
			journal = store
		}
	}
	if cfg.InhibitScreensaver {
		bus, err := inhibit.Connect()
		if err != nil {
			log.Warn().Err(err).Msg("Screensaver inhibition unavailable")
		} else {
			inhibitor := inhibit.New(bus)
			defer inhibitor.Close()
			listeners = append(listeners, inhibitor)
		}
	}

	rec := recorder.New(eng, h, recorder.Options{
		SignalTimeout:  cfg.Engine.SignalTimeout,
		MarkerPath:     markerPath,
		ClickAnimation: cfg.ClickTracker.Animation,
		Listeners:      listeners,
	})
	if err := rec.Init(engine.InitOptions{
		Locale:     cfg.Engine.Locale,
		DataDir:    cfg.Engine.DataDir,
		Version:    Version,
		ServerName: "captureexpress-" + uuid.NewString(),
	}); err != nil {
		log.Error().Err(err).Msg("Engine initialization failed")
		return err
	}

	relay := volmeter.New(eng, volmeter.Options{
		PingInterval: cfg.Volmeter.PingInterval,
		MaxFrameRate: cfg.Volmeter.MaxFrameRate,
	})

	shutdown := make(chan struct{})
	var shutdownOnce sync.Once
	server := api.NewServer(api.Deps{
		Recorder: rec,
		Devices:  devices.NewEnumerator(eng),
		Volmeter: relay,
		History:  journal,
		Shutdown: func() { shutdownOnce.Do(func() { close(shutdown) }) },
	})
	httpServer := server.NewHTTPServer(cfg.Server.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.Addr()).Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			log.Info().Msg("Shutting down gracefully...")
		case <-shutdown:
			log.Info().Msg("Shutdown requested over the API")
		}

		releaseCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.SignalTimeout+shutdownGrace)
		defer cancel()
		if err := rec.Release(releaseCtx); err != nil && !errors.Is(err, recorder.ErrNotInitialized) {
			log.Warn().Err(err).Msg("Engine release failed")
		}
		relay.Close()

		httpCtx, cancelHTTP := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancelHTTP()
		return httpServer.Shutdown(httpCtx)
	})

	return g.Wait()
}

// openHost connects to X11; only the simulated engine may fall back to a
// fixed single display
func openHost(backend string, log *zerolog.Logger) (host.Host, func(), error) {
	x, err := host.NewX11()
	if err == nil {
		return x, func() { x.Close() }, nil
	}
	if backend != config.BackendSim {
		return nil, nil, fmt.Errorf("connect to X11: %w", err)
	}
	log.Warn().Err(err).Msg("X11 unavailable, using a single 1920x1080 display")
	static := host.NewStatic(host.Display{
		Index:  0,
		Bounds: host.Rect{Width: 1920, Height: 1080},
		DPI:    host.DefaultDPI,
	})
	return static, func() {}, nil
}

func newEngine(backend string, h host.Host) (engine.Engine, error) {
	switch backend {
	case config.BackendSim:
		return sim.New(sim.DefaultOptions()), nil
	case config.BackendGst:
		return gst.New(gst.DefaultOptions(h)), nil
	default:
		return nil, fmt.Errorf("unknown engine backend %q", backend)
	}
}
