// SPDX-License-Identifier: GPL-2.0-or-later
// svxlink-go - a voice-services radio gateway for amateur radio systems
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 2 of the License, or
// (at your option) any later version.

// Package dispatcher owns the two process-wide UDP sockets EchoLink
// traffic arrives on and routes each datagram to the Qso session that
// owns its source IP, or surfaces an incoming_connection event when
// none exists yet.
package dispatcher

import (
	"log/slog"
	"net"
	"sync"

	"github.com/sm0svx/svxlink-go/internal/metrics"
	"github.com/sm0svx/svxlink-go/internal/proxy"
	"github.com/sm0svx/svxlink-go/internal/rtcp"
	"github.com/sm0svx/svxlink-go/internal/runtime"
)

// Default UDP ports, per spec.md §4.4.
const (
	DefaultAudioPort = 5198
	DefaultCtrlPort  = 5199
)

const udpReadBufferSize = 2048

// Handler is the pair of callbacks a registered session provides for
// its inbound audio and control datagrams.
type Handler struct {
	OnAudio func(payload []byte)
	OnCtrl  func(payload []byte)
}

// IncomingConnection describes an unsolicited SDES packet arriving
// from an IP with no registered session, the signal a Qso acceptor
// uses to spin up a new peer session (spec.md §4.4, §4.5).
type IncomingConnection struct {
	RemoteIP net.IP
	Call     string
	Name     string
	PrivTag  string
}

// Dispatcher is the process's single owner of the EchoLink UDP
// sockets. Exactly one may exist per Runtime (spec.md §4.4 "Exactly
// one dispatcher may exist process-wide"), enforced via
// Runtime.AcquireSingleton rather than a package-level global.
type Dispatcher struct {
	rt  *runtime.Runtime
	met *metrics.Metrics

	audioConn *net.UDPConn
	ctrlConn  *net.UDPConn

	proxy *proxy.Proxy

	onIncoming func(IncomingConnection)

	mu       sync.Mutex
	sessions map[string]*Handler
}

// Option configures a new Dispatcher.
type Option func(*Dispatcher)

// WithMetrics attaches a Metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.met = m }
}

// WithProxy routes outbound send_ctrl/send_audio through a configured
// proxy tunnel instead of sending directly (spec.md §4.4).
func WithProxy(p *proxy.Proxy) Option {
	return func(d *Dispatcher) { d.proxy = p }
}

// WithIncomingConnection registers the callback invoked when an
// unsolicited, parseable SDES packet arrives from an unregistered IP.
func WithIncomingConnection(fn func(IncomingConnection)) Option {
	return func(d *Dispatcher) { d.onIncoming = fn }
}

// New binds the audio and control UDP sockets and starts their read
// loops. audioPort/ctrlPort of 0 fall back to the EchoLink defaults.
func New(rt *runtime.Runtime, audioPort, ctrlPort int, opts ...Option) (*Dispatcher, error) {
	rt.AcquireSingleton("dispatcher")
	if audioPort == 0 {
		audioPort = DefaultAudioPort
	}
	if ctrlPort == 0 {
		ctrlPort = DefaultCtrlPort
	}

	audioConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: audioPort})
	if err != nil {
		rt.ReleaseSingleton("dispatcher")
		return nil, err
	}
	ctrlConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: ctrlPort})
	if err != nil {
		_ = audioConn.Close()
		rt.ReleaseSingleton("dispatcher")
		return nil, err
	}

	d := &Dispatcher{
		rt:        rt,
		audioConn: audioConn,
		ctrlConn:  ctrlConn,
		sessions:  make(map[string]*Handler),
	}
	for _, opt := range opts {
		opt(d)
	}

	go d.readLoop(audioConn, "audio", d.handleAudio)
	go d.readLoop(ctrlConn, "ctrl", d.handleCtrl)

	return d, nil
}

func (d *Dispatcher) readLoop(conn *net.UDPConn, port string, handle func(net.IP, []byte)) {
	buf := make([]byte, udpReadBufferSize)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		ip := addr.IP
		d.rt.Post(func() { handle(ip, payload) })
	}
}

func (d *Dispatcher) handleAudio(ip net.IP, payload []byte) {
	h := d.lookup(ip)
	if h == nil || h.OnAudio == nil {
		d.count("audio", "spurious")
		slog.Debug("dispatcher: dropping audio from unregistered sender", "ip", ip)
		return
	}
	d.count("audio", "routed")
	h.OnAudio(payload)
}

func (d *Dispatcher) handleCtrl(ip net.IP, payload []byte) {
	if h := d.lookup(ip); h != nil && h.OnCtrl != nil {
		d.count("ctrl", "routed")
		h.OnCtrl(payload)
		return
	}

	if !rtcp.IsSDES(payload) {
		d.count("ctrl", "spurious")
		slog.Debug("dispatcher: dropping control packet from unregistered sender", "ip", ip)
		return
	}
	cname, ok := rtcp.ParseSDES(payload, rtcp.ItemCNAME)
	if !ok {
		d.count("ctrl", "unparseable")
		return
	}
	call, name, err := rtcp.SplitCNAME(cname)
	if err != nil {
		d.count("ctrl", "unparseable")
		return
	}
	privTag, _ := rtcp.ParseSDES(payload, rtcp.ItemPriv)
	d.count("ctrl", "incoming")
	if d.onIncoming != nil {
		d.onIncoming(IncomingConnection{RemoteIP: ip, Call: call, Name: name, PrivTag: privTag})
	}
}

func (d *Dispatcher) count(port, outcome string) {
	if d.met != nil {
		d.met.DispatcherPacketsTotal.WithLabelValues(port, outcome).Inc()
	}
}

func (d *Dispatcher) lookup(ip net.IP) *Handler {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[ip.String()]
}

// Register associates ip with a session's audio/control handlers,
// replacing any prior registration for the same address.
func (d *Dispatcher) Register(ip net.IP, h *Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[ip.String()] = h
}

// Unregister removes ip's session association.
func (d *Dispatcher) Unregister(ip net.IP) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, ip.String())
}

// SendAudio transmits an audio-port datagram to ip, through the proxy
// tunnel if one was configured, else directly on the audio socket.
func (d *Dispatcher) SendAudio(ip net.IP, payload []byte) error {
	if d.proxy != nil {
		return d.proxy.SendUDPData(ip, payload)
	}
	_, err := d.audioConn.WriteToUDP(payload, &net.UDPAddr{IP: ip, Port: DefaultAudioPort})
	return err
}

// SendCtrl transmits a control-port datagram to ip, through the proxy
// tunnel if one was configured, else directly on the control socket.
func (d *Dispatcher) SendCtrl(ip net.IP, payload []byte) error {
	if d.proxy != nil {
		return d.proxy.SendUDPCtrl(ip, payload)
	}
	_, err := d.ctrlConn.WriteToUDP(payload, &net.UDPAddr{IP: ip, Port: DefaultCtrlPort})
	return err
}

// Close releases both UDP sockets and the singleton slot.
func (d *Dispatcher) Close() error {
	d.rt.ReleaseSingleton("dispatcher")
	err1 := d.audioConn.Close()
	err2 := d.ctrlConn.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
