// SPDX-License-Identifier: GPL-2.0-or-later
// svxlink-go - a voice-services radio gateway for amateur radio systems
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 2 of the License, or
// (at your option) any later version.

package afsk

import (
	"fmt"
	"strings"
)

const addrFieldLen = 7

// Address is one AX.25 callsign/SSID address field.
type Address struct {
	Callsign string
	SSID     int
}

// Frame is a decoded AX.25 frame (spec.md §3 AFSKFrame).
type Frame struct {
	Source      Address
	Destination Address
	Digipeaters []Address
	Payload     []byte
}

func decodeAddress(b []byte) Address {
	var call strings.Builder
	for i := 0; i < 6; i++ {
		c := b[i] >> 1
		if c != ' ' {
			call.WriteByte(c)
		}
	}
	return Address{
		Callsign: call.String(),
		SSID:     int(b[6]>>1) & 0x0F,
	}
}

func (a Address) String() string {
	if a.SSID == 0 {
		return a.Callsign
	}
	return fmt.Sprintf("%s-%d", a.Callsign, a.SSID)
}

// validDigiPath reports whether a digipeater path is empty or matches
// one of the accepted WIDEn-N new-paradigm patterns (spec.md §4.9):
// "WIDE1-1" alone, "WIDE1-1,WIDE2-2", or "WIDE1-1,WIDE3-3". A path of
// three hops never matches.
func validDigiPath(path []Address) bool {
	switch len(path) {
	case 0:
		return true
	case 1:
		return path[0].Callsign == "WIDE1" && path[0].SSID == 1
	case 2:
		if path[0].Callsign != "WIDE1" || path[0].SSID != 1 {
			return false
		}
		second := path[1]
		return (second.Callsign == "WIDE2" && second.SSID == 2) ||
			(second.Callsign == "WIDE3" && second.SSID == 3)
	default:
		return false
	}
}

// ParseFrame decodes a de-stuffed, FCS-validated HDLC frame into an
// AX.25 Frame, enforcing the digipeater path restriction. It returns
// false if the frame is too short, carries more than 3 digipeaters, or
// its path does not match the accepted WIDEn-N patterns.
func ParseFrame(raw []byte) (Frame, bool) {
	// raw excludes the trailing 2-byte FCS (callers validate it via
	// ValidFrame before calling ParseFrame).
	if len(raw) < 2*addrFieldLen+1 {
		return Frame{}, false
	}
	dest := decodeAddress(raw[0:addrFieldLen])
	src := decodeAddress(raw[addrFieldLen : 2*addrFieldLen])

	pos := 2 * addrFieldLen
	var digis []Address
	endOfAddr := raw[2*addrFieldLen-1]&0x01 != 0
	for !endOfAddr {
		if len(digis) >= 3 || pos+addrFieldLen > len(raw) {
			return Frame{}, false
		}
		field := raw[pos : pos+addrFieldLen]
		digis = append(digis, decodeAddress(field))
		endOfAddr = field[addrFieldLen-1]&0x01 != 0
		pos += addrFieldLen
	}
	if !validDigiPath(digis) {
		return Frame{}, false
	}

	payload := raw[pos:]
	return Frame{Source: src, Destination: dest, Digipeaters: digis, Payload: sanitize(payload)}, true
}

// sanitize replaces non-printable bytes with "." as the spec requires
// before surfacing a frame's payload.
func sanitize(payload []byte) []byte {
	out := make([]byte, len(payload))
	for i, b := range payload {
		if b < 0x20 || b > 0x7E {
			out[i] = '.'
		} else {
			out[i] = b
		}
	}
	return out
}

// APRSRecord formats the assembled "<src>>dst,path,qAR" record spec.md
// §4.9 surfaces alongside the cleaned payload.
func (f Frame) APRSRecord() string {
	var sb strings.Builder
	sb.WriteString(f.Source.String())
	sb.WriteString(">")
	sb.WriteString(f.Destination.String())
	for _, d := range f.Digipeaters {
		sb.WriteString(",")
		sb.WriteString(d.String())
	}
	sb.WriteString(",qAR")
	return sb.String()
}
