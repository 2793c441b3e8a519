// SPDX-License-Identifier: GPL-2.0-or-later
// svxlink-go - a voice-services radio gateway for amateur radio systems
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 2 of the License, or
// (at your option) any later version.

// Package voter implements the receiver voter (C8): it fronts n
// sub-receivers as a single RX, selecting the strongest open-squelch
// sub-receiver with hysteresis and a switch delay, buffering each
// sub-RX's early audio so the chosen receiver's first milliseconds are
// not lost.
package voter

import (
	"sync"
	"time"

	"github.com/sm0svx/svxlink-go/internal/audio"
	"github.com/sm0svx/svxlink-go/internal/metrics"
	"github.com/sm0svx/svxlink-go/internal/runtime"
)

// State is one node of the hierarchical state machine described in
// spec.md §4.8.
type State int

// States, flattened from the Top → {Muted, Idle, VotingDelay,
// ActiveRxSelected → {SquelchOpen → {Receiving, SwitchActiveRx},
// SqlCloseWait}} hierarchy named in spec.md §3/§4.8.
const (
	Muted State = iota
	Idle
	VotingDelay
	Receiving
	SwitchActiveRx
	SqlCloseWait
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Muted:
		return "muted"
	case Idle:
		return "idle"
	case VotingDelay:
		return "voting_delay"
	case Receiving:
		return "receiving"
	case SwitchActiveRx:
		return "switch_active_rx"
	case SqlCloseWait:
		return "sql_close_wait"
	default:
		return "unknown"
	}
}

// noRxSentinel is the signal-strength floor used when no sub-RX has
// squelch open (spec.md §4.8).
const noRxSentinel = -100.0

// DtmfEvent is one buffered DTMF digit with its duration.
type DtmfEvent struct {
	Digit byte
	Dur   int
}

// SatRx is one sub-receiver a Voter fronts (the VoterSatRx data model
// in spec.md §3): an overwrite-on-full audio FIFO precedes a valve,
// and buffered DTMF/selcall events replay exactly once on re-open.
type SatRx struct {
	Name string

	mu             sync.Mutex
	squelchOpen    bool
	signalStrength float64
	fifo           *audio.Fifo
	valve          *audio.Valve
	dtmfBuf        []DtmfEvent
	selcallBuf     []string
}

func newSatRx(name string, bufferLen int) *SatRx {
	return &SatRx{
		Name:  name,
		fifo:  audio.NewFifo(bufferLen, audio.OverwriteOldest),
		valve: audio.NewValve(false),
	}
}

// SetSquelch reports the sub-RX's current squelch state and signal
// strength; it is the only input the Voter's selection logic reads.
func (r *SatRx) SetSquelch(open bool, signalStrength float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.squelchOpen = open
	r.signalStrength = signalStrength
}

// WriteAudio buffers samples in this sub-RX's FIFO regardless of
// whether its valve is currently open.
func (r *SatRx) WriteAudio(samples []audio.Sample) {
	r.fifo.Write(samples)
}

// BufferDtmf queues a DTMF digit for replay once this sub-RX becomes
// chosen, per the VoterSatRx invariant (spec.md §3).
func (r *SatRx) BufferDtmf(digit byte, dur int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dtmfBuf = append(r.dtmfBuf, DtmfEvent{Digit: digit, Dur: dur})
}

// BufferSelcall queues a selcall string for replay.
func (r *SatRx) BufferSelcall(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selcallBuf = append(r.selcallBuf, s)
}

func (r *SatRx) drainBuffered() ([]DtmfEvent, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, s := r.dtmfBuf, r.selcallBuf
	r.dtmfBuf, r.selcallBuf = nil, nil
	return d, s
}

func (r *SatRx) snapshot() (open bool, strength float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.squelchOpen, r.signalStrength
}

// Config holds the six tunables spec.md §4.8 names.
type Config struct {
	VotingDelay         time.Duration
	BufferLength        int
	Hysteresis          float64
	SqlCloseRevoteDelay time.Duration
	RxSwitchDelay       time.Duration
	RevoteInterval      time.Duration
}

// Handlers are the Voter's upward-facing callbacks.
type Handlers struct {
	OnStateChange   func(State)
	OnSquelch       func(open bool, rxName string, siglev float64)
	OnAudio         func(samples []audio.Sample)
	OnDtmf          func(DtmfEvent)
	OnSelcall       func(string)
}

// Voter is the hierarchical sub-receiver selection state machine.
type Voter struct {
	rt  *runtime.Runtime
	met *metrics.Metrics
	cfg Config
	h   Handlers

	mu       sync.Mutex
	state    State
	subs     map[string]*SatRx
	order    []string
	active   string
	target   string

	votingTmr *runtime.Timer
	switchTmr *runtime.Timer
	revoteTmr *runtime.Timer
}

// New creates a Voter in the Muted state.
func New(rt *runtime.Runtime, cfg Config, h Handlers, met *metrics.Metrics) *Voter {
	return &Voter{
		rt:    rt,
		met:   met,
		cfg:   cfg,
		h:     h,
		state: Muted,
		subs:  make(map[string]*SatRx),
	}
}

// AddSubRx registers a sub-receiver by name.
func (v *Voter) AddSubRx(name string) *SatRx {
	v.mu.Lock()
	defer v.mu.Unlock()
	r := newSatRx(name, v.cfg.BufferLength)
	v.subs[name] = r
	v.order = append(v.order, name)
	return r
}

// SubRx returns the registered sub-receiver by name, or nil.
func (v *Voter) SubRx(name string) *SatRx {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.subs[name]
}

// State returns the Voter's current state.
func (v *Voter) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Mute forces the Voter (and all sub-RX) muted.
func (v *Voter) Mute() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopAllTimersLocked()
	for _, r := range v.subs {
		r.valve.SetOpen(false)
	}
	v.setStateLocked(Muted)
}

// Unmute clears Mute, entering Idle.
func (v *Voter) Unmute() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != Muted {
		return
	}
	v.setStateLocked(Idle)
}

func (v *Voter) setStateLocked(s State) {
	if v.state == s {
		return
	}
	from := v.state
	v.state = s
	if v.met != nil {
		v.met.VoterTransitionsTotal.WithLabelValues(from.String(), s.String()).Inc()
	}
	if v.h.OnStateChange != nil {
		cb := v.h.OnStateChange
		v.rt.Post(func() { cb(s) })
	}
}

func (v *Voter) stopAllTimersLocked() {
	v.votingTmr.Stop()
	v.switchTmr.Stop()
	v.revoteTmr.Stop()
}

// NotifySquelch must be called whenever a registered sub-RX's squelch
// state changes; it drives every state transition in §4.8's table.
func (v *Voter) NotifySquelch(name string, open bool, signalStrength float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	r := v.subs[name]
	if r == nil {
		return
	}
	r.SetSquelch(open, signalStrength)

	switch v.state {
	case Muted:
		return
	case Idle:
		if open {
			v.enterVotingDelayLocked()
		}
	case VotingDelay:
		if !v.anySquelchOpenLocked() {
			v.votingTmr.Stop()
			v.setStateLocked(Idle)
		}
	case Receiving:
		if name == v.active && !open {
			v.enterSqlCloseWaitLocked()
		}
	case SwitchActiveRx:
		if name == v.active && !open {
			v.switchTmr.Stop()
			v.enterSqlCloseWaitLocked()
		}
	case SqlCloseWait:
		if open {
			v.switchTmr.Stop()
			v.selectActiveLocked(v.bestLocked())
			v.setStateLocked(Receiving)
			v.armRevoteLocked()
		}
	}
}

func (v *Voter) anySquelchOpenLocked() bool {
	for _, name := range v.order {
		if open, _ := v.subs[name].snapshot(); open {
			return true
		}
	}
	return false
}

func (v *Voter) bestLocked() string {
	best := ""
	bestStrength := noRxSentinel
	for _, name := range v.order {
		open, strength := v.subs[name].snapshot()
		if open && strength > bestStrength {
			best = name
			bestStrength = strength
		}
	}
	return best
}

func (v *Voter) enterVotingDelayLocked() {
	v.setStateLocked(VotingDelay)
	v.votingTmr = v.rt.AfterFunc(v.cfg.VotingDelay, v.onVotingDelayExpired)
}

func (v *Voter) onVotingDelayExpired() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != VotingDelay {
		return
	}
	best := v.bestLocked()
	if best == "" {
		v.setStateLocked(Idle)
		return
	}
	v.selectActiveLocked(best)
	v.setStateLocked(Receiving)
	v.armRevoteLocked()
}

func (v *Voter) selectActiveLocked(name string) {
	v.active = name
	r := v.subs[name]
	for _, other := range v.order {
		if other != name {
			v.subs[other].valve.SetOpen(false)
		}
	}
	r.valve.SetOpen(true)
	dtmf, selcalls := r.drainBuffered()
	for _, d := range dtmf {
		if v.h.OnDtmf != nil {
			cb := v.h.OnDtmf
			v.rt.Post(func() { cb(d) })
		}
	}
	for _, sc := range selcalls {
		if v.h.OnSelcall != nil {
			cb, s := v.h.OnSelcall, sc
			v.rt.Post(func() { cb(s) })
		}
	}
	_, strength := r.snapshot()
	if v.met != nil {
		for _, other := range v.order {
			val := 0.0
			if other == name {
				val = 1.0
			}
			v.met.VoterActiveRx.WithLabelValues(other).Set(val)
		}
	}
	if v.h.OnSquelch != nil {
		cb := v.h.OnSquelch
		v.rt.Post(func() { cb(true, name, strength) })
	}
}

func (v *Voter) enterSqlCloseWaitLocked() {
	v.revoteTmr.Stop()
	v.setStateLocked(SqlCloseWait)
	name := v.active
	if v.h.OnSquelch != nil {
		cb := v.h.OnSquelch
		v.rt.Post(func() { cb(false, name, noRxSentinel) })
	}
	v.switchTmr = v.rt.AfterFunc(v.cfg.SqlCloseRevoteDelay, v.onSqlCloseRevoteExpired)
}

func (v *Voter) onSqlCloseRevoteExpired() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != SqlCloseWait {
		return
	}
	v.active = ""
	v.setStateLocked(Idle)
}

func (v *Voter) armRevoteLocked() {
	v.revoteTmr = v.rt.Every(v.cfg.RevoteInterval, v.onRevote)
}

func (v *Voter) onRevote() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != Receiving {
		return
	}
	_, activeStrength := v.subs[v.active].snapshot()
	best := v.bestLocked()
	if best == "" || best == v.active {
		return
	}
	_, bestStrength := v.subs[best].snapshot()
	if bestStrength > activeStrength+v.cfg.Hysteresis {
		v.target = best
		v.setStateLocked(SwitchActiveRx)
		v.switchTmr = v.rt.AfterFunc(v.cfg.RxSwitchDelay, v.onSwitchDelayExpired)
	}
}

func (v *Voter) onSwitchDelayExpired() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != SwitchActiveRx {
		return
	}
	v.revoteTmr.Stop()
	v.selectActiveLocked(v.target)
	v.setStateLocked(Receiving)
	v.armRevoteLocked()
}

// FeedAudio delivers samples captured from a sub-RX; they are always
// written to that sub-RX's FIFO, then drained through its valve toward
// the Voter's OnAudio callback when chosen.
func (v *Voter) FeedAudio(name string, samples []audio.Sample) {
	v.mu.Lock()
	r := v.subs[name]
	v.mu.Unlock()
	if r == nil {
		return
	}
	r.WriteAudio(samples)
	if !r.valve.IsOpen() {
		return
	}
	out := make([]audio.Sample, r.fifo.Len())
	n := r.fifo.Read(out)
	if n > 0 && v.h.OnAudio != nil {
		v.h.OnAudio(out[:n])
	}
}
