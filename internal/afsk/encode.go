// SPDX-License-Identifier: GPL-2.0-or-later
// svxlink-go - a voice-services radio gateway for amateur radio systems
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 2 of the License, or
// (at your option) any later version.

package afsk

// EncodeAddress packs a callsign/SSID into the 7-byte AX.25 address
// field, setting the end-of-address bit when last is true. It is the
// inverse of decodeAddress, used by outbound digipeating and by tests
// constructing frames.
func EncodeAddress(callsign string, ssid int, last bool) [addrFieldLen]byte {
	var b [addrFieldLen]byte
	padded := callsign
	for len(padded) < 6 {
		padded += " "
	}
	for i := 0; i < 6; i++ {
		b[i] = padded[i] << 1
	}
	b[6] = byte(ssid<<1) | 0x60
	if last {
		b[6] |= 0x01
	}
	return b
}

// EncodeFrame assembles dest/src/digipeater address fields and payload
// into the raw (pre-FCS) byte sequence ParseFrame expects.
func EncodeFrame(dest, src Address, digis []Address, payload []byte) []byte {
	var out []byte
	destField := EncodeAddress(dest.Callsign, dest.SSID, false)
	out = append(out, destField[:]...)
	lastIsSrc := len(digis) == 0
	srcField := EncodeAddress(src.Callsign, src.SSID, lastIsSrc)
	out = append(out, srcField[:]...)
	for i, d := range digis {
		digiField := EncodeAddress(d.Callsign, d.SSID, i == len(digis)-1)
		out = append(out, digiField[:]...)
	}
	out = append(out, payload...)
	return out
}

// AppendFCS computes the CRC-CCITT FCS over data and appends its two
// bytes LSB-first, matching the trailer ValidFrame checks.
func AppendFCS(data []byte) []byte {
	crc := CRCCCITT(data)
	inverted := ^crc
	return append(append([]byte{}, data...), byte(inverted), byte(inverted>>8))
}
