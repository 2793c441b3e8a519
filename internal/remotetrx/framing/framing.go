// SPDX-License-Identifier: GPL-2.0-or-later
// svxlink-go - a voice-services radio gateway for amateur radio systems
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 2 of the License, or
// (at your option) any later version.

// Package framing implements the RemoteTrxMessage tagged-variant wire
// format (spec.md §3): a fixed {type:u8, size:u32LE} header followed
// by size-5 bytes of payload, and the TCP accumulator that turns a
// byte stream into a sequence of decoded messages.
package framing

import (
	"encoding/binary"
)

// Type tags a RemoteTrxMessage variant.
type Type byte

// Message types, inbound and outbound (spec.md §3, §4.6).
const (
	TypeHeartbeat Type = iota + 1
	TypeAuth
	TypeMute
	TypeAddToneDetector
	TypeSetTxCtrlMode
	TypeEnableCtcss
	TypeSendDtmf
	TypeAudio
	TypeFlush
	TypeSquelch
	TypeDtmf
	TypeTone
	TypeTxTimeout
	TypeTransmitterStateChange
	TypeAllSamplesFlushed
)

// TxCtrlMode is the TX control discipline selected by SetTxCtrlMode.
type TxCtrlMode byte

// TX control modes.
const (
	TxCtrlOff TxCtrlMode = iota
	TxCtrlOn
	TxCtrlAuto
)

// HeaderSize is the fixed {type, size} header length.
const HeaderSize = 5

// MaxFrameSize is the cap spec.md §4.6 enforces on the receive
// accumulator; exceeding it disconnects the peer.
const MaxFrameSize = 2048

// Message is one decoded RemoteTrxMessage. Not every field is
// meaningful for every Type; Encode/decode use only the fields that
// apply to msg.Type, mirroring the tagged-union semantics of the
// source data model.
type Message struct {
	Type Type

	Bool    bool
	Mode    TxCtrlMode
	Freq    float64
	Bw      float64
	Thresh  float64
	Digit   byte
	Digits  string
	Dur     int
	Samples []int16
	Count   int
	Open    bool
	Siglev  float64
	RxID    int
}

// Encode serializes msg into its framed wire form.
func Encode(msg Message) []byte {
	var payload []byte
	switch msg.Type {
	case TypeHeartbeat, TypeAuth, TypeFlush, TypeTxTimeout, TypeAllSamplesFlushed:
		// no payload
	case TypeMute, TypeEnableCtcss:
		payload = []byte{boolByte(msg.Bool)}
	case TypeAddToneDetector:
		payload = make([]byte, 8+8+8+4)
		binary.LittleEndian.PutUint64(payload[0:], f64bits(msg.Freq))
		binary.LittleEndian.PutUint64(payload[8:], f64bits(msg.Bw))
		binary.LittleEndian.PutUint64(payload[16:], f64bits(msg.Thresh))
		binary.LittleEndian.PutUint32(payload[24:], uint32(msg.Dur))
	case TypeSetTxCtrlMode:
		payload = []byte{byte(msg.Mode)}
	case TypeSendDtmf:
		payload = make([]byte, 1+4+len(msg.Digits))
		payload[0] = msg.Digit
		binary.LittleEndian.PutUint32(payload[1:], uint32(msg.Dur))
		copy(payload[5:], msg.Digits)
	case TypeAudio:
		payload = make([]byte, 4+2*len(msg.Samples))
		binary.LittleEndian.PutUint32(payload[0:], uint32(msg.Count))
		for i, s := range msg.Samples {
			binary.LittleEndian.PutUint16(payload[4+2*i:], uint16(s))
		}
	case TypeSquelch:
		payload = make([]byte, 1+8+4)
		payload[0] = boolByte(msg.Open)
		binary.LittleEndian.PutUint64(payload[1:], f64bits(msg.Siglev))
		binary.LittleEndian.PutUint32(payload[9:], uint32(msg.RxID))
	case TypeDtmf:
		payload = make([]byte, 1+4)
		payload[0] = msg.Digit
		binary.LittleEndian.PutUint32(payload[1:], uint32(msg.Dur))
	case TypeTone:
		payload = make([]byte, 8)
		binary.LittleEndian.PutUint64(payload, f64bits(msg.Freq))
	case TypeTransmitterStateChange:
		payload = []byte{boolByte(msg.Bool)}
	}

	out := make([]byte, HeaderSize+len(payload))
	out[0] = byte(msg.Type)
	binary.LittleEndian.PutUint32(out[1:], uint32(HeaderSize+len(payload)))
	copy(out[HeaderSize:], payload)
	return out
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func f64bits(f float64) uint64 {
	return uint64(int64(f * 1e6))
}

func f64fromBits(b uint64) float64 {
	return float64(int64(b)) / 1e6
}

// Decode parses one complete framed message from buf, returning the
// message, the number of bytes consumed, and whether a full frame was
// available. It never reads past len(buf).
func Decode(buf []byte) (Message, int, bool) {
	if len(buf) < HeaderSize {
		return Message{}, 0, false
	}
	size := binary.LittleEndian.Uint32(buf[1:5])
	if size < HeaderSize || int(size) > len(buf) {
		return Message{}, 0, false
	}
	msg := Message{Type: Type(buf[0])}
	payload := buf[HeaderSize:size]

	switch msg.Type {
	case TypeMute, TypeEnableCtcss:
		if len(payload) >= 1 {
			msg.Bool = payload[0] != 0
		}
	case TypeAddToneDetector:
		if len(payload) >= 28 {
			msg.Freq = f64fromBits(binary.LittleEndian.Uint64(payload[0:]))
			msg.Bw = f64fromBits(binary.LittleEndian.Uint64(payload[8:]))
			msg.Thresh = f64fromBits(binary.LittleEndian.Uint64(payload[16:]))
			msg.Dur = int(binary.LittleEndian.Uint32(payload[24:]))
		}
	case TypeSetTxCtrlMode:
		if len(payload) >= 1 {
			msg.Mode = TxCtrlMode(payload[0])
		}
	case TypeSendDtmf:
		if len(payload) >= 5 {
			msg.Digit = payload[0]
			msg.Dur = int(binary.LittleEndian.Uint32(payload[1:]))
			msg.Digits = string(payload[5:])
		}
	case TypeAudio:
		if len(payload) >= 4 {
			msg.Count = int(binary.LittleEndian.Uint32(payload[0:]))
			n := (len(payload) - 4) / 2
			msg.Samples = make([]int16, n)
			for i := 0; i < n; i++ {
				msg.Samples[i] = int16(binary.LittleEndian.Uint16(payload[4+2*i:]))
			}
		}
	case TypeSquelch:
		if len(payload) >= 13 {
			msg.Open = payload[0] != 0
			msg.Siglev = f64fromBits(binary.LittleEndian.Uint64(payload[1:]))
			msg.RxID = int(binary.LittleEndian.Uint32(payload[9:]))
		}
	case TypeDtmf:
		if len(payload) >= 5 {
			msg.Digit = payload[0]
			msg.Dur = int(binary.LittleEndian.Uint32(payload[1:]))
		}
	case TypeTone:
		if len(payload) >= 8 {
			msg.Freq = f64fromBits(binary.LittleEndian.Uint64(payload))
		}
	case TypeTransmitterStateChange:
		if len(payload) >= 1 {
			msg.Bool = payload[0] != 0
		}
	}
	return msg, int(size), true
}

// Accumulator turns a TCP byte stream into a sequence of decoded
// messages, rejecting any frame whose declared size exceeds
// MaxFrameSize (spec.md §4.6).
type Accumulator struct {
	buf []byte
}

// Feed appends data and returns every complete message it can decode.
// ok is false once a frame has exceeded MaxFrameSize, at which point
// the caller must disconnect the peer.
func (a *Accumulator) Feed(data []byte) (msgs []Message, ok bool) {
	a.buf = append(a.buf, data...)
	for {
		if len(a.buf) >= 5 {
			size := binary.LittleEndian.Uint32(a.buf[1:5])
			if size > MaxFrameSize {
				return msgs, false
			}
		}
		msg, n, got := Decode(a.buf)
		if !got {
			return msgs, true
		}
		msgs = append(msgs, msg)
		a.buf = a.buf[n:]
	}
}
