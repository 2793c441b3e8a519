// SPDX-License-Identifier: GPL-2.0-or-later
// svxlink-go - a voice-services radio gateway for amateur radio systems
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 2 of the License, or
// (at your option) any later version.

// Command remotetrxd runs the RemoteTrx TCP server (C6) that lets a
// svxlink process control a receiver/transmitter pair hosted on
// another machine. It accepts exactly one client connection and relays
// RemoteTrxMessage frames to whatever Inbound implementation fronts
// the local hardware; with none configured it still accepts the
// connection and answers heartbeats, which is enough to exercise the
// protocol end to end without physical radio hardware attached.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/sm0svx/svxlink-go/internal/audio"
	"github.com/sm0svx/svxlink-go/internal/config"
	"github.com/sm0svx/svxlink-go/internal/metrics"
	"github.com/sm0svx/svxlink-go/internal/observability"
	"github.com/sm0svx/svxlink-go/internal/pubsub"
	"github.com/sm0svx/svxlink-go/internal/remotetrx"
	"github.com/sm0svx/svxlink-go/internal/remotetrx/adapter"
	"github.com/sm0svx/svxlink-go/internal/runtime"
	"github.com/sm0svx/svxlink-go/internal/statusfeed"
)

// downlinkDrainPeriod is how often Audio messages accumulated on the
// Server's downstream Fifo are handed to the adapter's simulated local
// transmitter; 20ms matches one 160-sample frame at 8kHz.
const downlinkDrainPeriod = 20 * time.Millisecond

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:     "remotetrxd",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
		SilenceErrors:     true,
		DisableAutoGenTag: true,
	}
	cmd.Flags().StringVar(&configPath, "config", "remotetrxd.yaml", "path to the YAML configuration file")
	return cmd
}

// setupLogger configures the structured logger.
func setupLogger(cfg config.Config) {
	var logger *slog.Logger
	switch cfg.Observability.LogLevel {
	case config.LogLevelDebug:
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelDebug}))
	case config.LogLevelWarn:
		logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelWarn}))
	case config.LogLevelError:
		logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelError}))
	default:
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelInfo}))
	}
	slog.SetDefault(logger)
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	setupLogger(cfg)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cleanupTracing, err := observability.SetupTracing(ctx, "remotetrxd", cfg.Observability.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := cleanupTracing(shutdownCtx); err != nil {
			slog.Error("remotetrxd: shutting down tracer", "error", err)
		}
	}()

	rt := runtime.New(ctx)
	defer rt.Stop()

	met := metrics.New()

	ps, err := pubsub.New(cfg.Observability.RedisAddr)
	if err != nil {
		return fmt.Errorf("connecting pubsub: %w", err)
	}
	defer func() { _ = ps.Close() }()
	feed := statusfeed.New(ps)

	// ad fronts the local receiver/transmitter pair. No physical radio
	// hardware is driven yet, so both halves are the virtual loopback
	// adapter (C7): it still exercises every Inbound effect and, via
	// WriteDownlink/the Uplink chain below, the full audio path.
	ad := adapter.New(cfg.RemoteTrx.Siglev)

	srv := remotetrx.NewServer(rt,
		remotetrx.WithMetrics(met),
		remotetrx.WithHeartbeatPeriod(cfg.RemoteTrx.HeartbeatPeriod),
		remotetrx.WithSilenceTimeout(cfg.RemoteTrx.SilenceTimeout),
		remotetrx.WithInbound(ad),
	)

	ad.Downlink.Rx.OnSquelch(func(open bool, _ float64) {
		srv.SendTransmitterStateChange(open)
	})
	ad.Uplink.Rx.OnSquelch(func(open bool, siglev float64) {
		srv.SendSquelch(open, siglev, 0)
	})
	ad.Uplink.Rx.OnDtmf(srv.SendDtmf)
	ad.Uplink.Rx.OnTone(srv.SendTone)

	downlinkDrain := rt.Every(downlinkDrainPeriod, func() {
		buf := make([]audio.Sample, srv.Fifo().Len())
		if n := srv.Fifo().Read(buf); n > 0 {
			ad.WriteDownlink(buf[:n])
		}
	})
	defer downlinkDrain.Stop()

	listenAddr := cfg.RemoteTrx.ListenAddr
	if listenAddr == "" {
		listenAddr = "0.0.0.0:5210"
	}
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", listenAddr, err)
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		slog.Info("remotetrxd: listening", "addr", listenAddr)
		if err := srv.Serve(ln); err != nil {
			slog.Error("remotetrxd: server", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := met.Serve(ctx, cfg.Observability.MetricsListenAddr); err != nil {
			slog.Error("remotetrxd: metrics server", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := feed.Serve(ctx, cfg.Observability.StatusFeedListenAddr); err != nil {
			slog.Error("remotetrxd: status feed server", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("remotetrxd: shutting down")
	srv.Close()
	_ = ln.Close()
	wg.Wait()
	return nil
}
