// SPDX-License-Identifier: GPL-2.0-or-later
// svxlink-go - a voice-services radio gateway for amateur radio systems
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 2 of the License, or
// (at your option) any later version.

// Package proxy implements the optional framed TCP tunnel (C3 /
// spec.md §4.3) that carries the directory TCP connection and the
// EchoLink audio/control UDP datagrams through a single authenticated
// link to a proxy host.
package proxy

import (
	"crypto/md5" //nolint:gosec // required by the EchoLink proxy handshake itself
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sm0svx/svxlink-go/internal/metrics"
	"github.com/sm0svx/svxlink-go/internal/runtime"
	"github.com/sm0svx/svxlink-go/internal/svxerr"
)

// MessageType identifies a framed proxy application message, per
// spec.md §4.3.
type MessageType byte

// Proxy message types.
const (
	MsgTCPOpen   MessageType = 1
	MsgTCPData   MessageType = 2
	MsgTCPClose  MessageType = 3
	MsgTCPStatus MessageType = 4
	MsgUDPData   MessageType = 5
	MsgUDPCtrl   MessageType = 6
	MsgSystem    MessageType = 7
)

// SystemCode is the 1-byte payload of a MsgSystem message.
type SystemCode byte

// System message codes.
const (
	SystemBadPassword   SystemCode = 1
	SystemAccessDenied  SystemCode = 2
)

// State is the proxy session's top-level lifecycle, per spec.md §3.
type State int

// Proxy session states.
const (
	StateDisconnected State = iota
	StateAwaitingChallenge
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateAwaitingChallenge:
		return "AwaitingChallenge"
	case StateConnected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// TCPState is the virtual TCP substate, per spec.md §3/§4.3.
type TCPState int

// Virtual TCP substates.
const (
	TCPDisconnected TCPState = iota
	TCPConnecting
	TCPConnected
	TCPDisconnecting
)

const (
	nonceLen          = 8
	md5Len            = 16
	frameHeaderLen    = 9 // type(1) + remote_ipv4(4) + length(4)
	handshakeWatchdog = 10 * time.Second
	reconnectInterval = 5 * time.Second
	publicPassword    = "PUBLIC"
)

// Frame is one decoded proxy application message.
type Frame struct {
	Type      MessageType
	RemoteIP  net.IP
	Payload   []byte
}

// Proxy is one client connection to a proxy host.
type Proxy struct {
	rt  *runtime.Runtime
	met *metrics.Metrics

	host     string
	port     int
	callsign string
	password string

	mu       sync.Mutex
	state    State
	tcpState TCPState
	conn     net.Conn
	recvBuf  []byte

	handshakeTimer *runtime.Timer
	reconnectTimer *runtime.Timer

	onTCPData  func([]byte)
	onUDPData  func(net.IP, []byte)
	onUDPCtrl  func(net.IP, []byte)
	onSystem   func(SystemCode)
	onStateChg func(State)
}

// Option configures a new Proxy.
type Option func(*Proxy)

// WithMetrics attaches a Metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Proxy) { p.met = m }
}

// WithTCPDataHandler installs the callback invoked for each decoded
// MsgTCPData frame's payload.
func WithTCPDataHandler(fn func([]byte)) Option {
	return func(p *Proxy) { p.onTCPData = fn }
}

// WithUDPHandlers installs the callbacks invoked for decoded
// MsgUDPData/MsgUDPCtrl frames.
func WithUDPHandlers(data, ctrl func(net.IP, []byte)) Option {
	return func(p *Proxy) { p.onUDPData = data; p.onUDPCtrl = ctrl }
}

// WithStateChange registers a callback invoked (from the Runtime's task
// goroutine) whenever the session State changes.
func WithStateChange(fn func(State)) Option {
	return func(p *Proxy) { p.onStateChg = fn }
}

// New constructs a Proxy bound to rt. It does not connect; call Connect.
func New(rt *runtime.Runtime, host string, port int, callsign, password string, opts ...Option) *Proxy {
	p := &Proxy{
		rt:       rt,
		host:     host,
		port:     port,
		callsign: strings.ToUpper(callsign),
		password: strings.ToUpper(password),
	}
	if p.password == "" {
		p.password = publicPassword
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect dials the proxy host and begins the MD5-challenge handshake.
func (p *Proxy) Connect() {
	p.rt.Post(func() { p.connectLocked() })
}

func (p *Proxy) connectLocked() {
	if p.state != StateDisconnected {
		return
	}
	go p.dialAndHandshake()
	p.handshakeTimer = p.rt.AfterFunc(handshakeWatchdog, p.onHandshakeTimeout)
}

func (p *Proxy) dialAndHandshake() {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(p.host, fmt.Sprintf("%d", p.port)), handshakeWatchdog)
	if err != nil {
		slog.Warn("proxy: connect failed", "error", err)
		p.rt.Post(p.scheduleReconnect)
		return
	}

	nonce := make([]byte, nonceLen)
	if _, err := readFull(conn, nonce); err != nil {
		_ = conn.Close()
		p.rt.Post(p.scheduleReconnect)
		return
	}

	digest := challengeResponse(p.password, nonce)
	reply := append([]byte(p.callsign+"\n"), digest...)
	if _, err := conn.Write(reply); err != nil {
		_ = conn.Close()
		p.rt.Post(p.scheduleReconnect)
		return
	}

	p.rt.Post(func() {
		p.conn = conn
		p.setState(StateAwaitingChallenge)
		p.setState(StateConnected)
		if p.handshakeTimer != nil {
			p.handshakeTimer.Stop()
			p.handshakeTimer = nil
		}
		go p.readLoop(conn)
	})
}

// challengeResponse computes callsign's MD5(password || nonce), per
// spec.md §4.3 and §8 scenario 2 (password is upper-cased first).
func challengeResponse(password string, nonce []byte) []byte {
	h := md5.New() //nolint:gosec
	h.Write([]byte(strings.ToUpper(password)))
	h.Write(nonce)
	return h.Sum(nil)
}

func (p *Proxy) onHandshakeTimeout() {
	if p.state == StateConnected {
		return
	}
	slog.Warn("proxy: handshake timed out")
	p.resetLocked()
	p.scheduleReconnect()
}

func (p *Proxy) scheduleReconnect() {
	if p.reconnectTimer != nil {
		return
	}
	if p.met != nil {
		p.met.ProxyReconnectsTotal.Inc()
	}
	p.reconnectTimer = p.rt.AfterFunc(reconnectInterval, func() {
		p.reconnectTimer = nil
		p.connectLocked()
	})
}

func (p *Proxy) readLoop(conn net.Conn) {
	buf := make([]byte, 8192)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			p.rt.Post(func() { p.onReadData(conn, data) })
		}
		if err != nil {
			p.rt.Post(func() { p.onReadError(conn, err) })
			return
		}
	}
}

func (p *Proxy) onReadData(conn net.Conn, data []byte) {
	if p.conn != conn {
		return
	}
	p.recvBuf = append(p.recvBuf, data...)
	for {
		frame, consumed, ok := decodeFrame(p.recvBuf)
		if !ok {
			return
		}
		p.recvBuf = p.recvBuf[consumed:]
		p.dispatch(frame)
	}
}

func (p *Proxy) onReadError(conn net.Conn, err error) {
	if p.conn != conn {
		return
	}
	slog.Warn("proxy: connection error", "error", err)
	p.resetLocked()
	p.scheduleReconnect()
}

func (p *Proxy) dispatch(f Frame) {
	switch f.Type {
	case MsgTCPStatus:
		status := uint32(0)
		if len(f.Payload) >= 4 {
			status = binary.LittleEndian.Uint32(f.Payload)
		}
		if status == 0 {
			p.tcpState = TCPConnected
		} else {
			p.tcpState = TCPDisconnected
		}
	case MsgTCPData:
		p.tcpState = TCPConnected
		if p.onTCPData != nil {
			p.onTCPData(f.Payload)
		}
	case MsgTCPClose:
		p.tcpState = TCPDisconnected
	case MsgUDPData:
		if p.onUDPData != nil {
			p.onUDPData(f.RemoteIP, f.Payload)
		}
	case MsgUDPCtrl:
		if p.onUDPCtrl != nil {
			p.onUDPCtrl(f.RemoteIP, f.Payload)
		}
	case MsgSystem:
		if len(f.Payload) >= 1 {
			code := SystemCode(f.Payload[0])
			slog.Warn("proxy: system message", "code", code)
			if p.onSystem != nil {
				p.onSystem(code)
			}
			p.resetLocked()
		}
	}
}

// OpenTCP requests a virtual TCP connection to remoteIP, per spec.md
// §4.3 ("only one virtual TCP connection is active at a time").
func (p *Proxy) OpenTCP(remoteIP net.IP) error {
	var sent bool
	p.rt.PostAndWait(func() {
		if p.state != StateConnected || p.tcpState != TCPDisconnected {
			return
		}
		p.tcpState = TCPConnecting
		sent = p.send(Frame{Type: MsgTCPOpen, RemoteIP: remoteIP})
	})
	if !sent {
		return fmt.Errorf("proxy: %w", svxerr.TransportDown)
	}
	return nil
}

// SendTCP sends application bytes over the virtual TCP connection.
func (p *Proxy) SendTCP(remoteIP net.IP, data []byte) error {
	return p.sendOrErr(Frame{Type: MsgTCPData, RemoteIP: remoteIP, Payload: data})
}

// SendUDPData forwards a UDP audio datagram through the tunnel.
func (p *Proxy) SendUDPData(remoteIP net.IP, data []byte) error {
	return p.sendOrErr(Frame{Type: MsgUDPData, RemoteIP: remoteIP, Payload: data})
}

// SendUDPCtrl forwards a UDP control datagram through the tunnel.
func (p *Proxy) SendUDPCtrl(remoteIP net.IP, data []byte) error {
	return p.sendOrErr(Frame{Type: MsgUDPCtrl, RemoteIP: remoteIP, Payload: data})
}

func (p *Proxy) sendOrErr(f Frame) error {
	var ok bool
	p.rt.PostAndWait(func() {
		if p.state != StateConnected {
			return
		}
		ok = p.send(f)
	})
	if !ok {
		return fmt.Errorf("proxy: %w", svxerr.TransportDown)
	}
	return nil
}

// send encodes and writes f. Caller must be on the Runtime task
// goroutine and must have already verified state == Connected (spec.md
// §3 invariant: "no frames may be sent in state != Connected").
func (p *Proxy) send(f Frame) bool {
	if p.conn == nil {
		return false
	}
	buf := encodeFrame(f)
	if _, err := p.conn.Write(buf); err != nil {
		slog.Warn("proxy: write failed", "error", err)
		return false
	}
	return true
}

func (p *Proxy) setState(s State) {
	if p.state == s {
		return
	}
	p.state = s
	if p.onStateChg != nil {
		p.onStateChg(s)
	}
}

func (p *Proxy) resetLocked() {
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	p.recvBuf = nil
	p.tcpState = TCPDisconnected
	p.setState(StateDisconnected)
	if p.handshakeTimer != nil {
		p.handshakeTimer.Stop()
		p.handshakeTimer = nil
	}
}

// Reset tears the session down and re-initiates the connection, per
// spec.md §4.3.
func (p *Proxy) Reset() {
	p.rt.Post(func() {
		p.resetLocked()
		p.connectLocked()
	})
}

// State returns the current proxy session state.
func (p *Proxy) State() State {
	var s State
	p.rt.PostAndWait(func() { s = p.state })
	return s
}

func encodeFrame(f Frame) []byte {
	buf := make([]byte, frameHeaderLen+len(f.Payload))
	buf[0] = byte(f.Type)
	ip4 := f.RemoteIP.To4()
	if ip4 == nil {
		ip4 = net.IPv4zero.To4()
	}
	copy(buf[1:5], ip4)
	binary.LittleEndian.PutUint32(buf[5:9], uint32(len(f.Payload)))
	copy(buf[9:], f.Payload)
	return buf
}

// decodeFrame decodes the first complete frame in buf, per spec.md
// §4.3's framing: type:u8 | remote_ipv4:4LE | length:u32LE | payload.
func decodeFrame(buf []byte) (Frame, int, bool) {
	if len(buf) < frameHeaderLen {
		return Frame{}, 0, false
	}
	mtype := MessageType(buf[0])
	ip := net.IPv4(buf[1], buf[2], buf[3], buf[4])
	length := binary.LittleEndian.Uint32(buf[5:9])
	total := frameHeaderLen + int(length)
	if len(buf) < total {
		return Frame{}, 0, false
	}
	payload := append([]byte(nil), buf[frameHeaderLen:total]...)
	return Frame{Type: mtype, RemoteIP: ip, Payload: payload}, total, true
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
