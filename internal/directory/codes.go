// SPDX-License-Identifier: GPL-2.0-or-later
// svxlink-go - a voice-services radio gateway for amateur radio systems
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 2 of the License, or
// (at your option) any later version.

package directory

import "strings"

// keypadDigit maps an upper-case letter to its telephone-keypad digit,
// the way EchoLink's "dial by callsign" numeric codes work.
var keypadDigit = map[byte]byte{
	'A': '2', 'B': '2', 'C': '2',
	'D': '3', 'E': '3', 'F': '3',
	'G': '4', 'H': '4', 'I': '4',
	'J': '5', 'K': '5', 'L': '5',
	'M': '6', 'N': '6', 'O': '6',
	'P': '7', 'Q': '7', 'R': '7', 'S': '7',
	'T': '8', 'U': '8', 'V': '8',
	'W': '9', 'X': '9', 'Y': '9', 'Z': '9',
}

// CallsignToCode converts callsign to its numeric telephone-keypad
// equivalent, passing digits through unchanged.
func CallsignToCode(callsign string) string {
	var b strings.Builder
	b.Grow(len(callsign))
	for i := 0; i < len(callsign); i++ {
		c := callsign[i]
		switch {
		case c >= '0' && c <= '9':
			b.WriteByte(c)
		case c >= 'a' && c <= 'z':
			b.WriteByte(keypadDigit[c-'a'+'A'])
		case c >= 'A' && c <= 'Z':
			b.WriteByte(keypadDigit[c])
		}
	}
	return b.String()
}

// codeMatches reports whether a station's callsign code matches the
// requested code, either exactly or (exact=false) as a prefix match.
func codeMatches(stationCode, code string, exact bool) bool {
	if exact {
		return stationCode == code
	}
	return strings.HasPrefix(stationCode, code)
}
