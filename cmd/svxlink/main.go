// SPDX-License-Identifier: GPL-2.0-or-later
// svxlink-go - a voice-services radio gateway for amateur radio systems
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 2 of the License, or
// (at your option) any later version.

// Command svxlink runs the EchoLink-facing half of the gateway: the
// directory client (C2), the optional proxy tunnel (C3), the UDP
// dispatcher (C4), per-peer Qso sessions (C5), and, if configured, a
// receiver Voter (C8).
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
	"github.com/sm0svx/svxlink-go/internal/directory"
	"github.com/sm0svx/svxlink-go/internal/dispatcher"
	"github.com/sm0svx/svxlink-go/internal/metrics"
	"github.com/sm0svx/svxlink-go/internal/observability"
	"github.com/sm0svx/svxlink-go/internal/proxy"
	"github.com/sm0svx/svxlink-go/internal/pubsub"
	"github.com/sm0svx/svxlink-go/internal/qso"
	"github.com/sm0svx/svxlink-go/internal/runtime"
	"github.com/sm0svx/svxlink-go/internal/statusfeed"
	"github.com/sm0svx/svxlink-go/internal/store"
	"github.com/sm0svx/svxlink-go/internal/voter"
)

var (
	version = "dev"
	commit  = "unknown"
)

// audioSampleRate is the EchoLink/RemoteTrx native PCM rate (internal/audio).
const audioSampleRate = 8000

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:     "svxlink",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
		SilenceErrors:     true,
		DisableAutoGenTag: true,
	}
	cmd.Flags().StringVar(&configPath, "config", "svxlink.yaml", "path to the YAML configuration file")
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

	cleanupTracing, err := observability.SetupTracing(ctx, "svxlink", cfg.Observability.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := cleanupTracing(shutdownCtx); err != nil {
			slog.Error("svxlink: shutting down tracer", "error", err)
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

	cache := store.New(storeOpts(cfg.Observability.RedisAddr)...)
	defer func() { _ = cache.Close() }()

	mgr := newSessionManager(rt, met, feed, cfg.Qso)

	var px *proxy.Proxy
	if cfg.Proxy.Enabled {
		px = proxy.New(rt, cfg.Proxy.Host, cfg.Proxy.Port, cfg.Proxy.Callsign, cfg.Proxy.Password,
			proxy.WithMetrics(met),
			proxy.WithTCPDataHandler(mgr.handleTCPData),
			proxy.WithUDPHandlers(mgr.handleAudioDatagram, mgr.handleCtrlDatagram),
			proxy.WithStateChange(func(s proxy.State) {
				feed.Publish("proxy", "state_change", "", map[string]string{"state": s.String()})
			}),
		)
		px.Connect()
	}

	disp, err := dispatcher.New(rt, cfg.Dispatcher.AudioPort, cfg.Dispatcher.CtrlPort,
		dispatcher.WithMetrics(met),
		dispatcher.WithIncomingConnection(mgr.onIncoming),
	)
	if err != nil {
		return fmt.Errorf("starting dispatcher: %w", err)
	}
	defer func() { _ = disp.Close() }()
	mgr.disp = disp
	mgr.proxy = px

	var vtr *voter.Voter
	if len(cfg.Voter.Receivers) > 0 {
		vtr = voter.New(rt, voter.Config{
			VotingDelay:         cfg.Voter.VotingDelay,
			BufferLength:        int(cfg.Voter.BufferLength.Seconds() * audioSampleRate),
			Hysteresis:          cfg.Voter.Hysteresis,
			SqlCloseRevoteDelay: cfg.Voter.SqlCloseRevoteDelay,
			RxSwitchDelay:       cfg.Voter.RxSwitchDelay,
			RevoteInterval:      cfg.Voter.RevoteInterval,
		}, voter.Handlers{
			OnStateChange: func(s voter.State) {
				feed.Publish("voter", "state_change", "", map[string]string{"state": s.String()})
			},
			OnAudio: mgr.broadcastAudio,
			OnDtmf: func(ev voter.DtmfEvent) {
				feed.Publish("voter", "dtmf", "", ev)
			},
			OnSelcall: func(s string) {
				feed.Publish("voter", "selcall", "", s)
			},
		}, met)
		for _, rx := range cfg.Voter.Receivers {
			vtr.AddSubRx(rx.Name)
		}
	}
	mgr.voter = vtr

	dirClient := directory.New(rt, cfg.Directory.Callsign, cfg.Directory.Password, cfg.Directory.Description,
		cfg.Directory.Servers, cfg.Directory.Port,
		directory.WithMetrics(met),
		directory.WithRefreshInterval(cfg.Directory.RefreshTime),
		directory.WithStore(cache),
		directory.WithStatusChange(func(s directory.Status) {
			feed.Publish("directory", "status_change", cfg.Directory.Callsign, map[string]string{"status": s.String()})
		}),
	)
	defer dirClient.Close()
	dirClient.MakeOnline()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := met.Serve(ctx, cfg.Observability.MetricsListenAddr); err != nil {
			slog.Error("svxlink: metrics server", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := feed.Serve(ctx, cfg.Observability.StatusFeedListenAddr); err != nil {
			slog.Error("svxlink: status feed server", "error", err)
		}
	}()

	slog.Info("svxlink: running", "callsign", cfg.Directory.Callsign)
	<-ctx.Done()
	slog.Info("svxlink: shutting down")
	dirClient.MakeOffline()
	wg.Wait()
	return nil
}

func storeOpts(redisAddr string) []store.Option {
	if redisAddr == "" {
		return nil
	}
	return []store.Option{store.WithRedis(redisAddr)}
}

// sessionManager owns the live Qso sessions keyed by remote IP. It is
// the glue between the Dispatcher's incoming-connection callback and
// Qso's per-peer lifecycle, and between the Voter's selected audio and
// whichever Qso sessions are currently receiving.
type sessionManager struct {
	rt   *runtime.Runtime
	met  *metrics.Metrics
	feed *statusfeed.Feed
	cfg  config.Qso

	disp  *dispatcher.Dispatcher
	proxy *proxy.Proxy
	voter *voter.Voter

	mu       sync.Mutex
	sessions map[string]*qso.Qso
}

func newSessionManager(rt *runtime.Runtime, met *metrics.Metrics, feed *statusfeed.Feed, cfg config.Qso) *sessionManager {
	return &sessionManager{
		rt:       rt,
		met:      met,
		feed:     feed,
		cfg:      cfg,
		sessions: make(map[string]*qso.Qso),
	}
}

func (m *sessionManager) onIncoming(ic dispatcher.IncomingConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ic.RemoteIP.String()
	if _, exists := m.sessions[key]; exists {
		return
	}
	q := m.newSessionLocked(ic.RemoteIP)
	if err := q.Accept(ic.Call, ic.Name, ic.PrivTag); err != nil {
		slog.Warn("svxlink: accepting connection failed", "call", ic.Call, "error", err)
		m.disp.Unregister(ic.RemoteIP)
		delete(m.sessions, key)
	}
}

func (m *sessionManager) newSessionLocked(remoteIP net.IP) *qso.Qso {
	key := remoteIP.String()
	q := qso.New(m.rt, remoteIP, m.cfg.LocalCallsign, m.cfg.LocalName,
		func(p []byte) error { return m.disp.SendCtrl(remoteIP, p) },
		func(p []byte) error { return m.disp.SendAudio(remoteIP, p) },
		qso.Handlers{
			OnStateChange: func(s qso.State) {
				m.feed.Publish("qso", "state_change", key, map[string]string{"state": s.String()})
			},
			OnInfoMsg: func(msg string) { m.feed.Publish("qso", "info", key, msg) },
			OnChatMsg: func(msg string) { m.feed.Publish("qso", "chat", key, msg) },
			OnReceivingChg: func(receiving bool) {
				m.feed.Publish("qso", "receiving", key, receiving)
				if !receiving {
					m.mu.Lock()
					delete(m.sessions, key)
					m.mu.Unlock()
					m.disp.Unregister(remoteIP)
				}
			},
		},
		qso.WithMetrics(m.met),
		qso.WithGSMOnly(m.cfg.GSMOnly),
	)
	m.sessions[key] = q
	m.disp.Register(remoteIP, &dispatcher.Handler{OnAudio: q.HandleAudio, OnCtrl: q.HandleCtrl})
	return q
}

func (m *sessionManager) handleAudioDatagram(remoteIP net.IP, payload []byte) {
	if h := m.lookupHandler(remoteIP); h != nil {
		h.HandleAudio(payload)
	}
}

func (m *sessionManager) handleCtrlDatagram(remoteIP net.IP, payload []byte) {
	if h := m.lookupHandler(remoteIP); h != nil {
		h.HandleCtrl(payload)
	}
}

// handleTCPData handles the proxy tunnel's MsgTCPData frames, which
// carry the single in-flight EchoLink TCP chat/info stream without a
// remote address attached (the proxy host pins it to whichever remote
// OpenTCP most recently targeted). There is at most one such stream at
// a time on a simplex gateway, so it is routed to the sole active
// session.
func (m *sessionManager) handleTCPData(payload []byte) {
	m.mu.Lock()
	var only *qso.Qso
	if len(m.sessions) == 1 {
		for _, q := range m.sessions {
			only = q
		}
	}
	m.mu.Unlock()
	if only == nil {
		slog.Debug("svxlink: dropping proxy TCP data with no unambiguous active session")
		return
	}
	only.HandleCtrl(payload)
}

func (m *sessionManager) lookupHandler(remoteIP net.IP) *qso.Qso {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[remoteIP.String()]
}

// broadcastAudio fans the Voter's selected sub-receiver audio out to
// every active Qso session, the receive path for a repeater-style
// deployment where one Voter feeds many simultaneous EchoLink peers.
func (m *sessionManager) broadcastAudio(samples []audio.Sample) {
	m.mu.Lock()
	sessions := make([]*qso.Qso, 0, len(m.sessions))
	for _, q := range m.sessions {
		sessions = append(sessions, q)
	}
	m.mu.Unlock()
	for _, q := range sessions {
		q.WriteAudio(samples)
	}
}
