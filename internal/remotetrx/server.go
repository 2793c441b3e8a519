// SPDX-License-Identifier: GPL-2.0-or-later
// svxlink-go - a voice-services radio gateway for amateur radio systems
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 2 of the License, or
// (at your option) any later version.

// Package remotetrx implements the RemoteTrx TCP server (C6): it
// accepts exactly one client, exchanges RemoteTrxMessage frames
// (internal/remotetrx/framing), and dispatches inbound/outbound
// effects to the receiver/transmitter it fronts.
package remotetrx

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/sm0svx/svxlink-go/internal/audio"
	"github.com/sm0svx/svxlink-go/internal/metrics"
	"github.com/sm0svx/svxlink-go/internal/queue"
	"github.com/sm0svx/svxlink-go/internal/remotetrx/framing"
	"github.com/sm0svx/svxlink-go/internal/runtime"
)

// backlogKey identifies the state-carrying outbound message kinds a
// reconnecting client is replayed, so it learns the receiver's current
// state instead of waiting out a full revote cycle.
const backlogKey = "state"

const (
	heartbeatPeriod  = 10 * time.Second
	silenceTimeout   = 15 * time.Second
	downstreamFifoLen = 16000
)

// Inbound is implemented by the component that fronts the physical
// receiver/transmitter pair this server relays to (spec.md §4.6).
type Inbound interface {
	SetMute(bool)
	AddToneDetector(freq, bw, thresh float64, dur int)
	SetTxCtrlMode(framing.TxCtrlMode)
	EnableCtcss(bool)
	SendDtmf(digit byte, dur int)
}

// Server is the single-client RemoteTrx TCP server.
type Server struct {
	rt  *runtime.Runtime
	met *metrics.Metrics

	inbound         Inbound
	fifo            *audio.Fifo
	backlog         *queue.Queue
	heartbeatPeriod time.Duration
	silenceTimeout  time.Duration

	mu            sync.Mutex
	conn          net.Conn
	acc           framing.Accumulator
	lastActivity  time.Time
	heartbeatTmr  *runtime.Timer
	onSquelch     func(open bool, siglev float64, rxID int)
	onDtmf        func(digit byte, dur int)
	onTone        func(freq float64)
	onFlushed     func()
}

// Option configures a new Server.
type Option func(*Server)

// WithMetrics attaches a Metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.met = m }
}

// WithInbound sets the receiver/transmitter effect sink for inbound
// messages.
func WithInbound(in Inbound) Option {
	return func(s *Server) { s.inbound = in }
}

// WithHeartbeatPeriod overrides the default 10-second heartbeat tick.
func WithHeartbeatPeriod(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.heartbeatPeriod = d
		}
	}
}

// WithSilenceTimeout overrides the default 15-second silence watchdog.
func WithSilenceTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.silenceTimeout = d
		}
	}
}

// NewServer creates a Server with its own 16000-sample downstream audio
// FIFO (spec.md §4.6 "Audio writes samples into a downstream
// 16 000-sample FIFO").
func NewServer(rt *runtime.Runtime, opts ...Option) *Server {
	s := &Server{
		rt:              rt,
		fifo:            audio.NewFifo(downstreamFifoLen, audio.Block),
		backlog:         queue.NewQueue(),
		heartbeatPeriod: heartbeatPeriod,
		silenceTimeout:  silenceTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fifo returns the downstream audio FIFO Audio messages are written
// into.
func (s *Server) Fifo() *audio.Fifo {
	return s.fifo
}

// Serve accepts connections on ln, handling exactly one client at a
// time; a new connection while one is active replaces it.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		s.acceptConn(conn)
	}
}

func (s *Server) acceptConn(conn net.Conn) {
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = conn
	s.acc = framing.Accumulator{}
	s.lastActivity = time.Now()
	s.mu.Unlock()

	s.heartbeatTmr = s.rt.Every(s.heartbeatPeriod, s.onHeartbeatTick)

	for _, raw := range s.backlog.Drain(backlogKey) {
		_, _ = conn.Write(raw)
	}

	go s.readLoop(conn)
}

func (s *Server) onHeartbeatTick() {
	s.mu.Lock()
	conn := s.conn
	silent := time.Since(s.lastActivity) >= s.silenceTimeout
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if silent {
		slog.Warn("remotetrx: client silent, dropping", "timeout", s.silenceTimeout)
		s.closeConn()
		return
	}
	_, _ = conn.Write(framing.Encode(framing.Message{Type: framing.TypeHeartbeat}))
	if s.met != nil {
		s.met.RemoteTrxFramesTotal.WithLabelValues("out", "heartbeat").Inc()
	}
}

func (s *Server) closeConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	s.heartbeatTmr.Stop()
	if conn != nil {
		_ = conn.Close()
	}
}

func (s *Server) readLoop(conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			s.rt.Post(func() {
				s.mu.Lock()
				same := s.conn == conn
				s.mu.Unlock()
				if same {
					s.closeConn()
				}
			})
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		s.rt.Post(func() { s.onData(conn, data) })
	}
}

func (s *Server) onData(conn net.Conn, data []byte) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.lastActivity = time.Now()
	msgs, ok := s.acc.Feed(data)
	s.mu.Unlock()

	if !ok {
		slog.Warn("remotetrx: frame exceeded max size, disconnecting", "max", framing.MaxFrameSize)
		s.closeConn()
		return
	}
	for _, msg := range msgs {
		s.dispatch(msg)
	}
}

func (s *Server) dispatch(msg framing.Message) {
	if s.met != nil {
		s.met.RemoteTrxFramesTotal.WithLabelValues("in", typeLabel(msg.Type)).Inc()
	}
	switch msg.Type {
	case framing.TypeMute:
		if s.inbound != nil {
			s.inbound.SetMute(msg.Bool)
		}
	case framing.TypeAddToneDetector:
		if s.inbound != nil {
			s.inbound.AddToneDetector(msg.Freq, msg.Bw, msg.Thresh, msg.Dur)
		}
	case framing.TypeSetTxCtrlMode:
		if s.inbound != nil {
			s.inbound.SetTxCtrlMode(msg.Mode)
		}
	case framing.TypeEnableCtcss:
		if s.inbound != nil {
			s.inbound.EnableCtcss(msg.Bool)
		}
	case framing.TypeSendDtmf:
		if s.inbound != nil {
			s.inbound.SendDtmf(msg.Digit, msg.Dur)
		}
	case framing.TypeAudio:
		s.fifo.Write(msg.Samples)
	case framing.TypeFlush:
		s.fifo.Flush()
		go func() {
			<-s.fifo.AllSamplesFlushed()
			s.rt.Post(func() { s.sendOutbound(framing.Message{Type: framing.TypeAllSamplesFlushed}) })
		}()
	case framing.TypeHeartbeat:
		// liveness only
	default:
		slog.Debug("remotetrx: ignoring unknown message type", "type", msg.Type)
	}
}

func typeLabel(t framing.Type) string {
	switch t {
	case framing.TypeAudio:
		return "audio"
	case framing.TypeSquelch:
		return "squelch"
	case framing.TypeDtmf:
		return "dtmf"
	case framing.TypeTone:
		return "tone"
	case framing.TypeHeartbeat:
		return "heartbeat"
	default:
		return "other"
	}
}

// SendSquelch emits an outbound Squelch effect.
func (s *Server) SendSquelch(open bool, siglev float64, rxID int) {
	s.sendOutbound(framing.Message{Type: framing.TypeSquelch, Open: open, Siglev: siglev, RxID: rxID})
}

// SendDtmf emits an outbound Dtmf effect.
func (s *Server) SendDtmf(digit byte, dur int) {
	s.sendOutbound(framing.Message{Type: framing.TypeDtmf, Digit: digit, Dur: dur})
}

// SendTone emits an outbound Tone effect.
func (s *Server) SendTone(freq float64) {
	s.sendOutbound(framing.Message{Type: framing.TypeTone, Freq: freq})
}

// SendTxTimeout emits an outbound TxTimeout effect.
func (s *Server) SendTxTimeout() {
	s.sendOutbound(framing.Message{Type: framing.TypeTxTimeout})
}

// SendTransmitterStateChange emits an outbound TransmitterStateChange effect.
func (s *Server) SendTransmitterStateChange(on bool) {
	s.sendOutbound(framing.Message{Type: framing.TypeTransmitterStateChange, Bool: on})
}

// SendAudio emits an outbound Audio effect, chunked to at most
// maxCount samples per message (spec.md §4.6 "Audio chunks of ≤
// MAX_COUNT samples").
func (s *Server) SendAudio(samples []int16, maxCount int) {
	for len(samples) > 0 {
		n := maxCount
		if n > len(samples) {
			n = len(samples)
		}
		chunk := samples[:n]
		s.sendOutbound(framing.Message{Type: framing.TypeAudio, Samples: chunk, Count: len(chunk)})
		samples = samples[n:]
	}
}

func (s *Server) sendOutbound(msg framing.Message) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		if msg.Type == framing.TypeSquelch || msg.Type == framing.TypeTransmitterStateChange {
			_ = s.backlog.Delete(backlogKey)
			_, _ = s.backlog.Push(backlogKey, framing.Encode(msg))
		}
		return
	}
	_, _ = conn.Write(framing.Encode(msg))
	if s.met != nil {
		s.met.RemoteTrxFramesTotal.WithLabelValues("out", typeLabel(msg.Type)).Inc()
	}
}

// Close shuts down the current client connection and heartbeat timer.
func (s *Server) Close() {
	s.closeConn()
}
