package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zachmartin/gaming-capture/host/canvas-transform/internal/config"
	"github.com/zachmartin/gaming-capture/host/canvas-transform/internal/ingest"
	"github.com/zachmartin/gaming-capture/host/canvas-transform/internal/logging"
	"github.com/zachmartin/gaming-capture/host/canvas-transform/internal/media"
	"github.com/zachmartin/gaming-capture/host/canvas-transform/internal/metadata"
	"github.com/zachmartin/gaming-capture/host/canvas-transform/internal/observe"
	"github.com/zachmartin/gaming-capture/host/canvas-transform/internal/render"
	"github.com/zachmartin/gaming-capture/host/canvas-transform/internal/transform"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "canvas-transform: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}

	log.Info().
		Str("frame_socket", cfg.FrameSocketPath).
		Str("output_socket", cfg.OutputSocketPath).
		Str("http_addr", cfg.HTTPListenAddr).
		Dur("emit_delay", cfg.EmitDelay).
		Msg("Canvas transform starting")
	if cfg.IsDebug() {
		log.Debug().Str("config", cfg.String()).Msg("Effective configuration")
	}

	mp, metricsHandler, err := observe.NewPrometheusProvider()
	if err != nil {
		return fmt.Errorf("metrics provider: %w", err)
	}
	defer mp.Shutdown(context.Background())

	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	recorder := observe.NewRecorder(log, metrics)

	borderColor, err := render.ParseColor(cfg.BorderColor)
	if err != nil {
		return fmt.Errorf("border color: %w", err)
	}

	queue := metadata.NewQueue(cfg.QueueCapacity, recorder)
	inbound := make(chan []byte, cfg.InboundBuffer)
	listener := metadata.NewListener(inbound, queue, recorder)

	stage := transform.New(queue, transform.Options{
		Surface: render.NewCanvasSurface,
		Border: transform.Border{
			Color: borderColor,
			Width: cfg.BorderWidth,
			Blur:  cfg.BorderBlur,
		},
		EmitDelay:              cfg.EmitDelay,
		CancelPendingOnDestroy: cfg.CancelPendingOnTeardown,
		Observer:               recorder,
	})

	producer := media.NewIPCProducer(cfg.OutputSocketPath, log)
	if err := producer.Start(); err != nil {
		return fmt.Errorf("start IPC producer: %w", err)
	}
	defer producer.Stop()

	consumer := media.NewIPCConsumer(cfg.FrameSocketPath, cfg.FrameBuffer, log)
	if err := consumer.Start(); err != nil {
		return fmt.Errorf("start IPC consumer: %w", err)
	}

	ingestSrv := ingest.NewServer(inbound, ingest.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		ICEServers:     cfg.ICEServers,
		Stats:          queue,
		Metrics:        metricsHandler,
	}, log)

	server := &http.Server{
		Addr:              cfg.HTTPListenAddr,
		Handler:           ingestSrv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := listener.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("metadata listener: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := transform.Run(gctx, consumer.Frames, stage, producer); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("transform pipeline: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPListenAddr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP shutdown incomplete")
		}
		if err := ingestSrv.Close(); err != nil {
			log.Warn().Err(err).Msg("WebRTC sessions did not close cleanly")
		}
		return consumer.Stop()
	})

	err = g.Wait()

	for frame := range consumer.Frames {
		frame.Release()
	}

	written, dropped := producer.Counts()
	log.Info().Uint64("written", written).Uint64("dropped", dropped).Msg("Canvas transform stopped")
	return err
}
