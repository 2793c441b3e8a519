// SPDX-License-Identifier: GPL-2.0-or-later
package afsk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRCCCITTResidueOnAppendedFCS(t *testing.T) {
	data := []byte("APRS test payload")
	framed := AppendFCS(data)
	assert.True(t, ValidFrame(framed))
}

func TestCRCCCITTRejectsCorruptFrame(t *testing.T) {
	data := []byte("hello world")
	framed := AppendFCS(data)
	framed[0] ^= 0xFF
	assert.False(t, ValidFrame(framed))
}

func TestParseFrameNoDigipeaters(t *testing.T) {
	dest := Address{Callsign: "APRS"}
	src := Address{Callsign: "SM0ABC", SSID: 9}
	raw := EncodeFrame(dest, src, nil, []byte(":hello"))

	f, ok := ParseFrame(raw)
	require.True(t, ok)
	assert.Equal(t, "SM0ABC", f.Source.Callsign)
	assert.Equal(t, 9, f.Source.SSID)
	assert.Equal(t, "APRS", f.Destination.Callsign)
	assert.Empty(t, f.Digipeaters)
	assert.Equal(t, []byte(":hello"), f.Payload)
}

func TestParseFrameAcceptsWide1Alone(t *testing.T) {
	dest := Address{Callsign: "APRS"}
	src := Address{Callsign: "SM0ABC"}
	digis := []Address{{Callsign: "WIDE1", SSID: 1}}
	raw := EncodeFrame(dest, src, digis, []byte("x"))

	f, ok := ParseFrame(raw)
	require.True(t, ok)
	require.Len(t, f.Digipeaters, 1)
	assert.Equal(t, "WIDE1-1", f.Digipeaters[0].String())
}

func TestParseFrameAcceptsWide1Wide2(t *testing.T) {
	dest := Address{Callsign: "APRS"}
	src := Address{Callsign: "SM0ABC"}
	digis := []Address{{Callsign: "WIDE1", SSID: 1}, {Callsign: "WIDE2", SSID: 2}}
	raw := EncodeFrame(dest, src, digis, []byte("x"))

	_, ok := ParseFrame(raw)
	assert.True(t, ok)
}

func TestParseFrameRejectsUnapprovedPath(t *testing.T) {
	dest := Address{Callsign: "APRS"}
	src := Address{Callsign: "SM0ABC"}
	digis := []Address{{Callsign: "WIDE2", SSID: 2}}
	raw := EncodeFrame(dest, src, digis, []byte("x"))

	_, ok := ParseFrame(raw)
	assert.False(t, ok)
}

func TestAPRSRecordFormat(t *testing.T) {
	f := Frame{
		Source:      Address{Callsign: "SM0ABC", SSID: 9},
		Destination: Address{Callsign: "APRS"},
		Digipeaters: []Address{{Callsign: "WIDE1", SSID: 1}},
	}
	assert.Equal(t, "SM0ABC-9>APRS,WIDE1-1,qAR", f.APRSRecord())
}

func TestPayloadSanitizesNonPrintables(t *testing.T) {
	dest := Address{Callsign: "APRS"}
	src := Address{Callsign: "SM0ABC"}
	raw := EncodeFrame(dest, src, nil, []byte{'h', 'i', 0x00, 0x7F, 'x'})

	f, ok := ParseFrame(raw)
	require.True(t, ok)
	assert.Equal(t, []byte("hi..x"), f.Payload)
}
