// SPDX-License-Identifier: GPL-2.0-or-later
// svxlink-go - a voice-services radio gateway for amateur radio systems
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 2 of the License, or
// (at your option) any later version.

// Package qso implements the per-peer EchoLink session state machine:
// connect/accept/disconnect, SDES keep-alive, GSM/Speex codec
// negotiation, voice framing and the "oNDATA" info/chat sentinel.
package qso

import (
	"bytes"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sm0svx/svxlink-go/internal/audio"
	"github.com/sm0svx/svxlink-go/internal/codec/gsm"
	"github.com/sm0svx/svxlink-go/internal/codec/speex"
	"github.com/sm0svx/svxlink-go/internal/metrics"
	"github.com/sm0svx/svxlink-go/internal/rtcp"
	"github.com/sm0svx/svxlink-go/internal/runtime"
)

// State is one of the four peer-session states (spec.md §4.5).
type State int

// States.
const (
	Disconnected State = iota
	Connecting
	ByeReceived
	Connected
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case ByeReceived:
		return "bye_received"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Codec selects the negotiated voice payload format.
type Codec int

// Codecs.
const (
	CodecGSM Codec = iota
	CodecSpeex
)

// Payload types used on the wire (spec.md §4.5).
const (
	ptGSM   byte = 0x03
	ptSpeex byte = 0x96
)

const (
	keepAliveInterval   = 10 * time.Second
	connectionTimeout   = 50 * time.Second
	connectRetryLimit   = 5
	rxIndicatorSlack    = 200 * time.Millisecond
	rxIndicatorPoll     = 100 * time.Millisecond
	ringFrames          = 4
	samplesPerGSMFrame  = gsm.FrameSamples
	ndataSentinel       = "oNDATA"
)

// Handlers are the session's upward-facing event callbacks.
type Handlers struct {
	OnStateChange    func(State)
	OnInfoMsg        func(string)
	OnChatMsg        func(string)
	OnReceivingChg   func(receiving bool)
	OnAudioOut       func(samples []audio.Sample)
}

// Qso is one peer session, keyed by remote IP in the dispatcher
// registry (spec.md §3 PeerSession invariant: at most one per remote IP).
type Qso struct {
	rt  *runtime.Runtime
	met *metrics.Metrics

	remoteIP      net.IP
	localCallsign string
	localName     string
	gsmOnly       bool

	sendCtrl  func(payload []byte) error
	sendAudio func(payload []byte) error

	h Handlers

	mu               sync.Mutex
	state            State
	remoteInitiated  bool
	remoteCallsign   string
	remoteName       string
	codec            Codec
	nextSeq          uint16
	keepAliveMisses  int
	lastInboundAt    time.Time
	receiving        bool

	keepAliveTimer *runtime.Timer
	timeoutTimer   *runtime.Timer
	rxPollTimer    *runtime.Timer

	outRing *audio.Fifo

	gsmEnc   *gsm.Encoder
	gsmDec   *gsm.Decoder
	speexEnc *speex.Encoder
	speexDec *speex.Decoder
}

// Option configures a new Qso.
type Option func(*Qso)

// WithMetrics attaches a Metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Qso) { q.met = m }
}

// WithGSMOnly forces the session to never upgrade to Speex even if the
// peer advertises support (spec.md §4.5 codec negotiation).
func WithGSMOnly(only bool) Option {
	return func(q *Qso) { q.gsmOnly = only }
}

// New creates a Qso in the Disconnected state for remoteIP. sendCtrl
// and sendAudio are typically backed by dispatcher.SendCtrl/SendAudio.
func New(rt *runtime.Runtime, remoteIP net.IP, localCallsign, localName string,
	sendCtrl, sendAudio func([]byte) error, h Handlers, opts ...Option) *Qso {
	q := &Qso{
		rt:            rt,
		remoteIP:      remoteIP,
		localCallsign: localCallsign,
		localName:     localName,
		sendCtrl:      sendCtrl,
		sendAudio:     sendAudio,
		h:             h,
		state:         Disconnected,
		outRing:       audio.NewFifo(ringFrames*samplesPerGSMFrame, audio.OverwriteOldest),
		gsmEnc:        gsm.NewEncoder(),
		gsmDec:        gsm.NewDecoder(),
		speexEnc:      speex.NewEncoder(8),
		speexDec:      speex.NewDecoder(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// State returns the session's current state.
func (q *Qso) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// IsReceiving reports whether the RX-activity indicator currently
// considers the peer to be transmitting (spec.md §4.5).
func (q *Qso) IsReceiving() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.receiving
}

// Connect is permitted only from Disconnected: marks the session
// locally-initiated, sends an initial SDES and transitions to
// Connecting.
func (q *Qso) Connect() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != Disconnected {
		return fmt.Errorf("qso: connect only valid from disconnected, was %s", q.state)
	}
	q.remoteInitiated = false
	q.keepAliveMisses = 0
	q.sendSDESLocked()
	q.setStateLocked(Connecting)
	q.armTimersLocked()
	return nil
}

// Accept is permitted only from Disconnected: marks the session
// remotely-initiated and transitions directly to Connected. privTag is
// the PRIV SDES item advertised on the connecting SDES, if any; a
// "SPEEX" tag selects the Speex codec immediately instead of waiting
// for HandleCtrl to re-derive it from a later SDES.
func (q *Qso) Accept(remoteCallsign, remoteName, privTag string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != Disconnected {
		return fmt.Errorf("qso: accept only valid from disconnected, was %s", q.state)
	}
	q.remoteInitiated = true
	q.remoteCallsign = remoteCallsign
	q.remoteName = remoteName
	q.lastInboundAt = time.Now()
	if !q.gsmOnly && privTag == "SPEEX" {
		q.codec = CodecSpeex
	}
	q.sendSDESLocked()
	q.setStateLocked(Connected)
	q.armTimersLocked()
	return nil
}

// Disconnect sends a BYE (unless already ByeReceived) and releases
// every timer and buffer.
func (q *Qso) Disconnect() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state == Disconnected {
		return
	}
	if q.state != ByeReceived && q.sendCtrl != nil {
		_ = q.sendCtrl(rtcp.BuildBye())
	}
	q.cleanupLocked()
}

func (q *Qso) cleanupLocked() {
	q.keepAliveTimer.Stop()
	q.timeoutTimer.Stop()
	q.rxPollTimer.Stop()
	q.outRing.Clear()
	q.setStateLocked(Disconnected)
	if q.met != nil {
		q.met.QsoSessionsActive.Dec()
	}
}

func (q *Qso) armTimersLocked() {
	if q.met != nil {
		q.met.QsoSessionsActive.Inc()
	}
	q.keepAliveTimer = q.rt.Every(keepAliveInterval, q.onKeepAlive)
	q.timeoutTimer = q.rt.Every(connectionTimeout, q.onConnectionTimeout)
	q.rxPollTimer = q.rt.Every(rxIndicatorPoll, q.onRXPoll)
}

func (q *Qso) setStateLocked(s State) {
	if q.state == s {
		return
	}
	q.state = s
	if q.h.OnStateChange != nil {
		cb := q.h.OnStateChange
		q.rt.Post(func() { cb(s) })
	}
}

func (q *Qso) onKeepAlive() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != Connecting && q.state != Connected {
		return
	}
	if q.state == Connecting {
		q.keepAliveMisses++
		if q.keepAliveMisses > connectRetryLimit {
			if q.met != nil {
				q.met.QsoKeepaliveTimeoutTotal.Inc()
			}
			q.cleanupLocked()
			return
		}
	}
	q.sendSDESLocked()
}

func (q *Qso) onConnectionTimeout() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state == Disconnected {
		return
	}
	q.cleanupLocked()
}

func (q *Qso) onRXPoll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.receiving || q.lastInboundAt.IsZero() {
		return
	}
	if time.Since(q.lastInboundAt) >= rxIndicatorSlack {
		q.receiving = false
		q.outRing.Flush()
		if q.h.OnReceivingChg != nil {
			cb := q.h.OnReceivingChg
			q.rt.Post(func() { cb(false) })
		}
	}
}

func (q *Qso) sendSDESLocked() {
	if q.sendCtrl == nil {
		return
	}
	_ = q.sendCtrl(rtcp.BuildSDES(q.localCallsign, q.localName, ""))
}

// HandleCtrl processes one inbound control-port (SDES/BYE) datagram.
func (q *Qso) HandleCtrl(payload []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch {
	case rtcp.IsBye(payload):
		if q.state != ByeReceived {
			q.setStateLocked(ByeReceived)
			q.cleanupLocked()
		}
		return
	case rtcp.IsSDES(payload):
		q.lastInboundAt = time.Now()
		q.keepAliveMisses = 0
		if q.state == Connecting {
			q.setStateLocked(Connected)
		}
		if cname, ok := rtcp.ParseSDES(payload, rtcp.ItemCNAME); ok {
			if call, name, err := rtcp.SplitCNAME(cname); err == nil {
				q.remoteCallsign, q.remoteName = call, name
			}
		}
		if !q.gsmOnly && q.codec == CodecGSM && rtcp.HasSpeexCapability(payload) {
			q.codec = CodecSpeex
		}
	}
}

// HandleAudio processes one inbound audio-port datagram, classifying
// by RTP payload type and invoking OnAudioOut with the decoded PCM.
func (q *Qso) HandleAudio(payload []byte) {
	q.mu.Lock()
	if q.state != Connected && q.state != Connecting {
		q.mu.Unlock()
		return
	}
	if bytes.HasPrefix(payload, []byte(ndataSentinel)) {
		q.mu.Unlock()
		q.handleNonAudio(payload[len(ndataSentinel):])
		return
	}
	if len(payload) < 12 {
		q.mu.Unlock()
		return
	}
	pt := payload[1]
	body := payload[12:]
	q.lastInboundAt = time.Now()
	wasReceiving := q.receiving
	q.receiving = true
	q.mu.Unlock()

	if !wasReceiving && q.h.OnReceivingChg != nil {
		cb := q.h.OnReceivingChg
		q.rt.Post(func() { cb(true) })
	}

	var samples []audio.Sample
	switch pt {
	case ptGSM:
		for off := 0; off+gsm.FrameBytes <= len(body); off += gsm.FrameBytes {
			frame, err := q.gsmDec.Decode(body[off : off+gsm.FrameBytes])
			if err != nil {
				continue
			}
			samples = append(samples, frame...)
		}
	case ptSpeex:
		frame, err := q.speexDec.Decode(body)
		if err == nil {
			samples = frame
		}
	default:
		slog.Debug("qso: unknown payload type", "remote", q.remoteIP, "type", pt)
		return
	}
	if len(samples) > 0 && q.h.OnAudioOut != nil {
		q.h.OnAudioOut(samples)
	}
}

func (q *Qso) handleNonAudio(rest []byte) {
	s := strings.ReplaceAll(string(rest), "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	if strings.HasPrefix(s, "\n") {
		msg := strings.TrimPrefix(s, "\n")
		if q.h.OnInfoMsg != nil {
			q.h.OnInfoMsg(msg)
		}
		return
	}
	if idx := strings.Index(s, ">>"); idx >= 0 {
		if q.h.OnChatMsg != nil {
			q.h.OnChatMsg(s)
		}
	}
}

// WriteAudio enqueues outbound PCM samples, flushing an encoded packet
// each time the 4-frame ring fills (spec.md §4.5 audio path).
func (q *Qso) WriteAudio(samples []audio.Sample) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != Connected {
		return
	}
	remaining := samples
	for len(remaining) > 0 {
		n := q.outRing.Write(remaining)
		if n == 0 {
			break
		}
		remaining = remaining[n:]
		if q.outRing.Len() >= q.outRing.Capacity() {
			q.flushOutboundLocked()
		}
	}
}

func (q *Qso) flushOutboundLocked() {
	buf := make([]audio.Sample, q.outRing.Capacity())
	n := q.outRing.Read(buf)
	buf = buf[:n]

	var pt byte
	var body []byte
	switch q.codec {
	case CodecGSM:
		pt = ptGSM
		for off := 0; off+samplesPerGSMFrame <= len(buf); off += samplesPerGSMFrame {
			frame, err := q.gsmEnc.Encode(buf[off : off+samplesPerGSMFrame])
			if err != nil {
				continue
			}
			body = append(body, frame...)
		}
	case CodecSpeex:
		pt = ptSpeex
		for off := 0; off+samplesPerGSMFrame <= len(buf); off += samplesPerGSMFrame {
			frame, err := q.speexEnc.Encode(buf[off : off+samplesPerGSMFrame])
			if err != nil {
				continue
			}
			body = append(body, frame...)
		}
	}
	if len(body) == 0 || q.sendAudio == nil {
		return
	}
	pkt := buildRTPHeader(pt, q.nextSeq)
	q.nextSeq++
	pkt = append(pkt, body...)
	_ = q.sendAudio(pkt)
}

// Transcode re-encodes a raw Speex packet to GSM when the negotiated
// codec is GSM, per spec.md §4.5's transcoding policy, returning the
// PT-0x03 packet ready to forward.
func (q *Qso) Transcode(pkt []byte) ([]byte, error) {
	if len(pkt) < 12 {
		return nil, fmt.Errorf("qso: packet too short to transcode")
	}
	pt := pkt[1]
	q.mu.Lock()
	codec := q.codec
	q.mu.Unlock()
	if pt != ptSpeex || codec != CodecGSM {
		return pkt, nil
	}
	samples, err := q.speexDec.Decode(pkt[12:])
	if err != nil {
		return nil, err
	}
	var body []byte
	for off := 0; off+samplesPerGSMFrame <= len(samples); off += samplesPerGSMFrame {
		frame, err := q.gsmEnc.Encode(samples[off : off+samplesPerGSMFrame])
		if err != nil {
			return nil, err
		}
		body = append(body, frame...)
	}
	out := buildRTPHeader(ptGSM, q.nextSeq)
	q.nextSeq++
	out = append(out, body...)
	return out, nil
}

func buildRTPHeader(pt byte, seq uint16) []byte {
	hdr := make([]byte, 12)
	hdr[0] = 0xc0
	hdr[1] = pt
	hdr[2] = byte(seq >> 8)
	hdr[3] = byte(seq)
	return hdr
}
