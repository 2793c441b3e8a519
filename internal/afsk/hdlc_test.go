// SPDX-License-Identifier: GPL-2.0-or-later
package afsk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHDLCDeframerRoundTripsStuffedFrame(t *testing.T) {
	frame := []byte{0xFF, 0x00, 0x7E, 0xAA, 0x55, 0x01, 0x02}
	bits := StuffFrame(frame)

	var d HDLCDeframer
	frames := d.Feed(bits)

	require.Len(t, frames, 1)
	assert.Equal(t, frame, frames[0])
}

func TestHDLCDeframerHandlesBitByBitFeed(t *testing.T) {
	frame := []byte{0x01, 0x02, 0x03}
	bits := StuffFrame(frame)

	var d HDLCDeframer
	var got [][]byte
	for _, b := range bits {
		got = append(got, d.Feed([]bool{b})...)
	}
	require.Len(t, got, 1)
	assert.Equal(t, frame, got[0])
}

func TestHDLCDeframerHandlesBackToBackFrames(t *testing.T) {
	f1 := []byte{0x10, 0x20}
	f2 := []byte{0x30, 0x40}

	// Two flag-delimited frames sharing the middle flag.
	bits1 := StuffFrame(f1)
	bits2 := StuffFrame(f2)
	combined := append(bits1, bits2[8:]...) // drop f2's leading flag, shared with f1's trailing one

	var d HDLCDeframer
	frames := d.Feed(combined)
	require.Len(t, frames, 2)
	assert.Equal(t, f1, frames[0])
	assert.Equal(t, f2, frames[1])
}
