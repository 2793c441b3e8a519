// SPDX-License-Identifier: GPL-2.0-or-later
// svxlink-go - a voice-services radio gateway for amateur radio systems
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 2 of the License, or
// (at your option) any later version.

// Package afsk implements a non-coherent Bell-202/2400-baud FSK
// demodulator, the HDLC bit-destuffing and CRC-CCITT layer above it,
// and AX.25 frame parsing with digipeater path validation (spec.md
// §4.9).
package afsk

import "math"

// Baud selects the modulation's tone pair.
type Baud int

// Supported baud rates.
const (
	Baud1200 Baud = 1200
	Baud2400 Baud = 2400
)

// Mark/space tone frequencies per baud rate (spec.md §4.9).
const (
	mark1200Hz  = 1200.0
	space1200Hz = 2200.0
	mark2400Hz  = 3970.0
	space2400Hz = 2165.0
)

func tones(baud Baud) (mark, space float64) {
	if baud == Baud2400 {
		return mark2400Hz, space2400Hz
	}
	return mark1200Hz, space1200Hz
}

// Demodulator is a non-coherent correlator FSK detector feeding a
// symbol-phase accumulator, producing a bit stream for the HDLC layer.
// The accumulator advances by a fixed baud/rate step per sample; it is
// not re-aligned on mark/space transitions.
type Demodulator struct {
	sampleRate float64
	baud       Baud
	corrLen    int
	mark       float64
	space      float64

	// feed-in buffer for 1200-baud 2x upsampling via linear interpolation.
	upsample   bool
	lastSample float64
	haveLast   bool

	phaseAcc   float64
	phaseStep  float64
	bits       []bool
}

// NewDemodulator creates a demodulator for sampleRate Hz PCM at the
// given baud rate.
func NewDemodulator(sampleRate float64, baud Baud) *Demodulator {
	mark, space := tones(baud)
	effectiveRate := sampleRate
	upsample := baud == Baud1200
	if upsample {
		effectiveRate *= 2
	}
	corrLen := int(2 * effectiveRate / float64(baud))
	return &Demodulator{
		sampleRate: sampleRate,
		baud:       baud,
		corrLen:    corrLen,
		mark:       mark,
		space:      space,
		upsample:   upsample,
		phaseStep:  float64(baud) / effectiveRate,
	}
}

// Feed processes one block of linear PCM samples (normalized to
// [-1,1]) and returns the demodulated bits decided so far.
func (d *Demodulator) Feed(samples []float64) []bool {
	up := samples
	if d.upsample {
		up = d.upsampleLinear(samples)
	}

	var out []bool
	effectiveRate := d.sampleRate
	if d.upsample {
		effectiveRate *= 2
	}
	for i := 0; i+d.corrLen <= len(up); i++ {
		markE := correlate(up[i:i+d.corrLen], d.mark, effectiveRate)
		spaceE := correlate(up[i:i+d.corrLen], d.space, effectiveRate)
		bit := markE > spaceE

		d.phaseAcc += d.phaseStep
		if d.phaseAcc >= 1.0 {
			d.phaseAcc -= 1.0
			out = append(out, bit)
		}
	}
	return out
}

func (d *Demodulator) upsampleLinear(samples []float64) []float64 {
	out := make([]float64, 0, len(samples)*2)
	for _, s := range samples {
		if d.haveLast {
			out = append(out, (d.lastSample+s)/2)
		} else {
			out = append(out, s)
		}
		out = append(out, s)
		d.lastSample = s
		d.haveLast = true
	}
	return out
}

// correlate applies a Hamming-windowed correlator at freq over one
// symbol period and returns the energy estimate used to decide mark
// vs space.
func correlate(window []float64, freq, sampleRate float64) float64 {
	n := len(window)
	var i, q float64
	for k, s := range window {
		w := 0.54 - 0.46*math.Cos(2*math.Pi*float64(k)/float64(n-1))
		phase := 2 * math.Pi * freq * float64(k) / sampleRate
		i += s * w * math.Cos(phase)
		q += s * w * math.Sin(phase)
	}
	return i*i + q*q
}
