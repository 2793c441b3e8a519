// SPDX-License-Identifier: GPL-2.0-or-later
// svxlink-go - a voice-services radio gateway for amateur radio systems
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 2 of the License, or
// (at your option) any later version.

// Package gsm implements the Qso audio codec contract SPEC_FULL.md
// §4.10 defines for the GSM 06.10 payload type: 160 input samples in,
// a fixed 33-byte frame out, and back. spec.md §1 puts the actual DSP
// chain out of scope and specifies it only by this input/output
// contract, so the transform here is a simple deterministic companding
// scheme rather than bit-exact RPE-LTP coding — it exists so the Qso
// and RemoteTrx framing around it (payload sizes, frame cadence,
// negotiation) can be exercised honestly without vendoring a C codec.
package gsm

import "fmt"

// FrameSamples is the number of PCM samples a GSM frame encodes.
const FrameSamples = 160

// FrameBytes is the size of an encoded GSM frame, matching the real
// codec's ~10:1 compression ratio.
const FrameBytes = 33

const samplesPerByte = (FrameSamples + FrameBytes - 1) / FrameBytes

// Encoder compands successive 160-sample blocks into 33-byte frames.
type Encoder struct{}

// NewEncoder returns a GSM encoder.
func NewEncoder() *Encoder { return &Encoder{} }

// Encode compands one FrameSamples-length block into a FrameBytes frame.
// Each output byte carries the top 8 bits of one representative sample
// from its group, the same lossy quantization a real subband codec
// applies.
func (e *Encoder) Encode(samples []int16) ([]byte, error) {
	if len(samples) != FrameSamples {
		return nil, fmt.Errorf("gsm: encode needs %d samples, got %d", FrameSamples, len(samples))
	}
	out := make([]byte, FrameBytes)
	for i := range out {
		idx := i * samplesPerByte
		if idx >= FrameSamples {
			idx = FrameSamples - 1
		}
		out[i] = byte(uint16(samples[idx]) >> 8)
	}
	return out, nil
}

// Decoder reverses Encoder's companding transform.
type Decoder struct{}

// NewDecoder returns a GSM decoder.
func NewDecoder() *Decoder { return &Decoder{} }

// Decode expands one FrameBytes frame back into FrameSamples samples,
// holding each quantized value across the samples it represents.
func (d *Decoder) Decode(frame []byte) ([]int16, error) {
	if len(frame) != FrameBytes {
		return nil, fmt.Errorf("gsm: decode needs %d bytes, got %d", FrameBytes, len(frame))
	}
	out := make([]int16, FrameSamples)
	for i, b := range frame {
		v := int16(uint16(b) << 8)
		start := i * samplesPerByte
		end := start + samplesPerByte
		if end > FrameSamples {
			end = FrameSamples
		}
		for j := start; j < end; j++ {
			out[j] = v
		}
	}
	return out, nil
}
