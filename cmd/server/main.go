package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/slaclab/bsastream/internal/beamline"
	"github.com/slaclab/bsastream/internal/config"
	"github.com/slaclab/bsastream/internal/notify"
	"github.com/slaclab/bsastream/internal/server"
	"github.com/slaclab/bsastream/internal/stream"
	"github.com/slaclab/bsastream/internal/transport"
	"github.com/slaclab/bsastream/internal/ws"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load config first; the log level comes from it.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	logger, err := newLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.String("port", cfg.Server.Port),
		zap.String("beamline", cfg.Beamline),
		zap.Int("streams", len(cfg.Streams)),
		zap.Int("pairs", len(cfg.Pairs)),
		zap.Bool("wsEnabled", cfg.Server.WSEnabled),
		zap.Duration("wsStreamInterval", cfg.Server.WSStreamInterval),
	)

	// Subscription layer
	tr := transport.NewSim(transport.SimConfig{
		BeamRate:  cfg.Transport.Sim.BeamRate,
		Dropout:   cfg.Transport.Sim.Dropout,
		Amplitude: cfg.Transport.Sim.Amplitude,
		Noise:     cfg.Transport.Sim.Noise,
		Seed:      cfg.Transport.Sim.Seed,
	}, logger)
	defer tr.Close()

	notifier := notify.New(&cfg.Notify, logger)
	gaps := notify.NewGapWatcher(notifier, cfg.Notify.GapBurst, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Build the registry from config. Startup is raising: a deployment
	// that cannot attach its configured channels should not come up
	// half-blind.
	line := beamline.Beamline(cfg.Beamline)
	registry := stream.NewRegistry()
	defer registry.StopAll()

	for _, sc := range cfg.Streams {
		single, err := stream.NewSingle(ctx, stream.Config{Channel: sc.Channel, Beamline: line}, tr, gaps, logger)
		if err != nil {
			logger.Error("failed to start stream",
				zap.String("name", sc.Name),
				zap.String("channel", sc.Channel),
				zap.Error(err),
			)
			return 1
		}
		registry.AddStream(sc.Name, single)
	}
	for _, pc := range cfg.Pairs {
		pair, err := stream.NewDual(ctx, stream.PairConfig{Ch1: pc.Ch1, Ch2: pc.Ch2, Beamline: line}, tr, gaps, logger)
		if err != nil {
			logger.Error("failed to start pair",
				zap.String("name", pc.Name),
				zap.Error(err),
			)
			return 1
		}
		registry.AddPair(pc.Name, pair)
	}

	srv := server.NewServer(registry, notifier, logger)

	// WebSocket components (optional)
	var hub *ws.Hub
	if cfg.Server.WSEnabled {
		hub = ws.NewHub(logger, ws.RegistryValidator(registry))
		streamer, err := ws.NewStreamer(hub, registry, cfg.Server.WSStreamInterval, logger)
		if err != nil {
			logger.Error("failed to create streamer", zap.Error(err))
			return 1
		}

		go hub.Run(ctx)
		go streamer.Run(ctx)

		logger.Info("WebSocket enabled",
			zap.Duration("streamInterval", cfg.Server.WSStreamInterval),
		)
	}

	router := server.NewRouter(srv, hub, logger)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Stop ws streaming and the update subscriptions before the HTTP
	// listener, so no broadcast races teardown.
	cancel()
	registry.StopAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return 1
	}

	logger.Info("server stopped")
	return 0
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
