// SPDX-License-Identifier: GPL-2.0-or-later
// svxlink-go - a voice-services radio gateway for amateur radio systems
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 2 of the License, or
// (at your option) any later version.

// Package speex implements the Qso audio codec contract for the Speex
// payload type EchoLink negotiates when both ends advertise support
// (internal/rtcp.HasSpeexCapability). Like internal/codec/gsm it
// stands in for a real CELP codec per spec.md §1's DSP non-goal,
// trading bit-exactness for a frame size and cadence that exercises
// the surrounding protocol honestly: variable 20ms frames at a coarser
// quantization than GSM, matching Speex's higher compression ratio.
package speex

import "fmt"

// FrameSamples is the number of PCM samples one Speex frame encodes
// (20ms at 8kHz).
const FrameSamples = 160

// MaxFrameBytes bounds a narrowband Speex frame; real frames vary with
// the negotiated quality mode, so Encode returns a frame whose length
// depends on Quality instead of a fixed size. The frame carries no
// length prefix.
const MaxFrameBytes = 20

// Encoder compands 160-sample blocks into variable-length frames.
type Encoder struct {
	// Quality widens the frame as it increases, 0-10 as in real Speex.
	Quality int
}

// NewEncoder returns a Speex encoder at the given quality (0-10).
func NewEncoder(quality int) *Encoder {
	if quality < 0 {
		quality = 0
	}
	if quality > 10 {
		quality = 10
	}
	return &Encoder{Quality: quality}
}

// Encode compands one FrameSamples-length block, returning a frame
// whose length shrinks as Quality drops (coarser quantization, fewer
// bytes), the same quality/size tradeoff Speex itself exposes.
func (e *Encoder) Encode(samples []int16) ([]byte, error) {
	if len(samples) != FrameSamples {
		return nil, fmt.Errorf("speex: encode needs %d samples, got %d", FrameSamples, len(samples))
	}
	frameBytes := 4 + e.Quality*(MaxFrameBytes-4)/10
	if frameBytes < 4 {
		frameBytes = 4
	}
	perByte := (FrameSamples + frameBytes - 1) / frameBytes
	out := make([]byte, frameBytes)
	for i := range out {
		idx := i * perByte
		if idx >= FrameSamples {
			idx = FrameSamples - 1
		}
		out[i] = byte(uint16(samples[idx]) >> 8)
	}
	return out, nil
}

// Decoder reverses Encoder's companding transform.
type Decoder struct{}

// NewDecoder returns a Speex decoder.
func NewDecoder() *Decoder { return &Decoder{} }

// Decode expands a variable-length frame back into FrameSamples samples.
func (d *Decoder) Decode(frame []byte) ([]int16, error) {
	if len(frame) == 0 || len(frame) > MaxFrameBytes {
		return nil, fmt.Errorf("speex: frame length %d out of range (1-%d)", len(frame), MaxFrameBytes)
	}
	out := make([]int16, FrameSamples)
	perByte := (FrameSamples + len(frame) - 1) / len(frame)
	for i, b := range frame {
		v := int16(uint16(b) << 8)
		start := i * perByte
		end := start + perByte
		if end > FrameSamples {
			end = FrameSamples
		}
		for j := start; j < end; j++ {
			out[j] = v
		}
	}
	return out, nil
}
