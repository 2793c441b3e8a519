// SPDX-License-Identifier: GPL-2.0-or-later
// svxlink-go - a voice-services radio gateway for amateur radio systems
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 2 of the License, or
// (at your option) any later version.

// Package metrics registers the Prometheus series described in
// SPEC_FULL.md §4.11 and serves them over HTTP.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const readTimeout = 3 * time.Second

// Metrics is the process-wide set of counters/gauges shared by every
// component. Unlike the teacher's package-level prometheus.MustRegister
// calls, Metrics is an explicit value so tests can construct an isolated
// registry instead of panicking on double-registration.
type Metrics struct {
	registry *prometheus.Registry

	DirectoryStatus          *prometheus.GaugeVec
	DirectoryCommandsTotal   *prometheus.CounterVec
	ProxyReconnectsTotal     prometheus.Counter
	QsoSessionsActive        prometheus.Gauge
	QsoKeepaliveTimeoutTotal prometheus.Counter
	RemoteTrxFramesTotal     *prometheus.CounterVec
	VoterActiveRx           *prometheus.GaugeVec
	VoterTransitionsTotal   *prometheus.CounterVec
	AfskFramesDecodedTotal  prometheus.Counter
	AfskCRCFailuresTotal    prometheus.Counter
	DispatcherPacketsTotal  *prometheus.CounterVec
}

// New creates a fresh Metrics registry with every series registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		DirectoryStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "svxlink_directory_status",
			Help: "Current directory registration status (1=active label, 0 otherwise) keyed by status label",
		}, []string{"status"}),
		DirectoryCommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "svxlink_directory_commands_total",
			Help: "Directory commands dispatched, by kind and outcome",
		}, []string{"kind", "outcome"}),
		ProxyReconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "svxlink_proxy_reconnects_total",
			Help: "Proxy tunnel reconnect attempts",
		}),
		QsoSessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "svxlink_qso_sessions_active",
			Help: "Currently connected or connecting peer sessions",
		}),
		QsoKeepaliveTimeoutTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "svxlink_qso_keepalive_timeouts_total",
			Help: "Peer sessions dropped after exhausting keep-alive retries",
		}),
		RemoteTrxFramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "svxlink_remotetrx_frames_total",
			Help: "RemoteTrx framed messages processed, by direction and message type",
		}, []string{"direction", "type"}),
		VoterActiveRx: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "svxlink_voter_active_rx",
			Help: "1 for the currently active sub-receiver index, 0 otherwise",
		}, []string{"rx"}),
		VoterTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "svxlink_voter_state_transitions_total",
			Help: "Voter state machine transitions",
		}, []string{"from", "to"}),
		AfskFramesDecodedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "svxlink_afsk_frames_decoded_total",
			Help: "AX.25 frames accepted after CRC validation",
		}),
		AfskCRCFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "svxlink_afsk_crc_failures_total",
			Help: "HDLC frames discarded for failing CRC-CCITT",
		}),
		DispatcherPacketsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "svxlink_dispatcher_packets_total",
			Help: "UDP datagrams handled by the session dispatcher, by port and outcome",
		}, []string{"port", "outcome"}),
	}
	reg.MustRegister(
		m.DirectoryStatus, m.DirectoryCommandsTotal, m.ProxyReconnectsTotal,
		m.QsoSessionsActive, m.QsoKeepaliveTimeoutTotal, m.RemoteTrxFramesTotal,
		m.VoterActiveRx, m.VoterTransitionsTotal, m.AfskFramesDecodedTotal,
		m.AfskCRCFailuresTotal, m.DispatcherPacketsTotal,
	)
	return m
}

// Serve starts the /metrics HTTP endpoint and blocks until ctx is
// cancelled or the listener fails.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readTimeout,
	}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
	slog.Info("metrics: listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
