// SPDX-License-Identifier: GPL-2.0-or-later
// svxlink-go - a voice-services radio gateway for amateur radio systems
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 2 of the License, or
// (at your option) any later version.

// Package adapter implements the RemoteTrx adapter (C7): it pairs a
// local virtual receiver with a local virtual transmitter so the core
// sees an ordinary (RX, TX) couple while the remote radio side sees
// the symmetric pairing, with two FIFO-mediated sample chains (downlink
// and uplink) and squelch/DTMF/tone relay between the pair.
package adapter

import (
	"sync"

	"github.com/sm0svx/svxlink-go/internal/audio"
	"github.com/sm0svx/svxlink-go/internal/remotetrx/framing"
)

// VirtualTx is the transmit half of one chain: samples written to it
// flow, via the chain's FIFO, to the paired VirtualRx and also drive
// that RX's squelch state.
type VirtualTx struct {
	fifo *audio.Fifo
	rx   *VirtualRx

	mu        sync.Mutex
	emitting  bool
	onSquelch func(open bool, siglev float64)
}

// VirtualRx is the receive half of one chain.
type VirtualRx struct {
	fifo *audio.Fifo

	mu         sync.Mutex
	squelchOpen bool
	siglev      float64
	onSquelch   func(open bool, siglev float64)
	onDtmf      func(digit byte, dur int)
	onTone      func(freq float64)
}

// Chain is one FIFO-mediated sample path with its transmit and receive
// ends.
type Chain struct {
	Tx *VirtualTx
	Rx *VirtualRx
}

const chainFifoLen = 4 * 160

func newChain() *Chain {
	fifo := audio.NewFifo(chainFifoLen, audio.OverwriteOldest)
	rx := &VirtualRx{fifo: fifo}
	tx := &VirtualTx{fifo: fifo, rx: rx}
	return &Chain{Tx: tx, Rx: rx}
}

// ToneDetector is a registered AddToneDetector request. The adapter has
// no physical audio path to run a real Goertzel detector over, so it
// only records the request; ToneDetectors lets tests and the status
// feed observe what the remote peer asked for.
type ToneDetector struct {
	Freq, Bw, Thresh float64
	Dur              int
}

// Adapter pairs a downlink chain (remote core → local audio bus) and
// an uplink chain (local audio bus → remote core), per spec.md §4.7.
// It also implements remotetrx.Inbound, so it can stand in for the
// receiver/transmitter hardware a RemoteTrx Server fronts: in the
// absence of real radio hardware, the downlink chain's Rx is "the
// local transmitter" (keyed by WriteSamples/SendDtmf/SendTone) and the
// uplink chain's Tx is "the local receiver" (whatever produces its
// samples drives the squelch/DTMF/tone relayed back out to the
// network via the uplink Rx).
type Adapter struct {
	Downlink *Chain
	Uplink   *Chain

	// Siglev is reported on the paired RX's squelch-open event while
	// the corresponding TX is emitting.
	Siglev float64

	mu       sync.Mutex
	muted    bool
	txMode   framing.TxCtrlMode
	ctcss    bool
	detectors []ToneDetector
}

// New creates an Adapter with both chains wired for squelch relay.
func New(siglev float64) *Adapter {
	a := &Adapter{
		Downlink: newChain(),
		Uplink:   newChain(),
		Siglev:   siglev,
	}
	a.Downlink.Tx.onSquelch = a.Downlink.Rx.setSquelch
	a.Uplink.Tx.onSquelch = a.Uplink.Rx.setSquelch
	a.Downlink.Rx.SetSiglev(siglev)
	a.Uplink.Rx.SetSiglev(siglev)
	return a
}

// SetMute implements remotetrx.Inbound. While muted, WriteDownlink and
// SendDtmf drop what they are given: downlink audio does not enter the
// FIFO, and no squelch or DTMF event reaches the paired RX.
func (a *Adapter) SetMute(muted bool) {
	a.mu.Lock()
	a.muted = muted
	a.mu.Unlock()
}

// Muted reports the most recent SetMute state.
func (a *Adapter) Muted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.muted
}

// AddToneDetector implements remotetrx.Inbound.
func (a *Adapter) AddToneDetector(freq, bw, thresh float64, dur int) {
	a.mu.Lock()
	a.detectors = append(a.detectors, ToneDetector{Freq: freq, Bw: bw, Thresh: thresh, Dur: dur})
	a.mu.Unlock()
}

// ToneDetectors returns the tone detectors registered so far.
func (a *Adapter) ToneDetectors() []ToneDetector {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ToneDetector, len(a.detectors))
	copy(out, a.detectors)
	return out
}

// SetTxCtrlMode implements remotetrx.Inbound.
func (a *Adapter) SetTxCtrlMode(mode framing.TxCtrlMode) {
	a.mu.Lock()
	a.txMode = mode
	a.mu.Unlock()
}

// TxCtrlMode returns the most recently selected TX control mode.
func (a *Adapter) TxCtrlMode() framing.TxCtrlMode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.txMode
}

// EnableCtcss implements remotetrx.Inbound.
func (a *Adapter) EnableCtcss(on bool) {
	a.mu.Lock()
	a.ctcss = on
	a.mu.Unlock()
}

// CtcssEnabled reports the most recent EnableCtcss state.
func (a *Adapter) CtcssEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ctcss
}

// SendDtmf implements remotetrx.Inbound: the network peer asked the
// local transmitter to key up and send a DTMF digit, so it is relayed
// through the downlink chain to whatever is listening on its Rx.
func (a *Adapter) SendDtmf(digit byte, dur int) {
	if a.Muted() {
		return
	}
	a.Downlink.Tx.SendDtmf(digit, dur)
}

// WriteDownlink feeds network-originated audio (an Audio message drained
// from the RemoteTrx Server's Fifo) into the simulated local
// transmitter, unless muted.
func (a *Adapter) WriteDownlink(samples []audio.Sample) {
	if a.Muted() {
		return
	}
	a.Downlink.Tx.WriteSamples(samples)
}

// WriteSamples pushes samples into the chain and, on the edge from
// idle to emitting, reports squelch-open on the paired RX with the
// configured signal level.
func (tx *VirtualTx) WriteSamples(samples []audio.Sample) {
	tx.mu.Lock()
	wasEmitting := tx.emitting
	tx.emitting = true
	tx.mu.Unlock()

	tx.fifo.Write(samples)
	if !wasEmitting && tx.onSquelch != nil {
		tx.onSquelch(true, 0)
	}
}

// StopEmitting reports the TX has ceased, closing the paired RX's
// squelch.
func (tx *VirtualTx) StopEmitting() {
	tx.mu.Lock()
	wasEmitting := tx.emitting
	tx.emitting = false
	tx.mu.Unlock()
	if wasEmitting && tx.onSquelch != nil {
		tx.onSquelch(false, 0)
	}
}

// SendDtmf relays a DTMF event to the paired RX.
func (tx *VirtualTx) SendDtmf(digit byte, dur int) {
	if tx.rx.onDtmf != nil {
		tx.rx.onDtmf(digit, dur)
	}
}

// SendTone relays a tone event to the paired RX.
func (tx *VirtualTx) SendTone(freq float64) {
	if tx.rx.onTone != nil {
		tx.rx.onTone(freq)
	}
}

func (rx *VirtualRx) setSquelch(open bool, _ float64) {
	rx.mu.Lock()
	rx.squelchOpen = open
	rx.mu.Unlock()
	if rx.onSquelch != nil {
		rx.onSquelch(open, rx.siglev)
	}
}

// SetSiglev sets the signal level reported alongside future
// squelch-open events.
func (rx *VirtualRx) SetSiglev(siglev float64) {
	rx.mu.Lock()
	rx.siglev = siglev
	rx.mu.Unlock()
}

// SquelchOpen reports the RX's current squelch state.
func (rx *VirtualRx) SquelchOpen() bool {
	rx.mu.Lock()
	defer rx.mu.Unlock()
	return rx.squelchOpen
}

// OnSquelch registers the callback invoked on squelch state changes.
func (rx *VirtualRx) OnSquelch(fn func(open bool, siglev float64)) {
	rx.onSquelch = fn
}

// OnDtmf registers the callback invoked on relayed DTMF digits.
func (rx *VirtualRx) OnDtmf(fn func(digit byte, dur int)) {
	rx.onDtmf = fn
}

// OnTone registers the callback invoked on relayed tone events.
func (rx *VirtualRx) OnTone(fn func(freq float64)) {
	rx.onTone = fn
}

// ReadSamples drains up to len(out) samples accumulated on the chain.
func (rx *VirtualRx) ReadSamples(out []audio.Sample) int {
	return rx.fifo.Read(out)
}
