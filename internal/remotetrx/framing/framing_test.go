// SPDX-License-Identifier: GPL-2.0-or-later
package framing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatRoundTrip(t *testing.T) {
	buf := Encode(Message{Type: TypeHeartbeat})
	assert.Len(t, buf, HeaderSize)

	msg, n, ok := Decode(buf)
	require.True(t, ok)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, TypeHeartbeat, msg.Type)
}

func TestAudioRoundTrip(t *testing.T) {
	samples := []int16{1, -1, 1000, -30000}
	buf := Encode(Message{Type: TypeAudio, Samples: samples, Count: len(samples)})

	msg, n, ok := Decode(buf)
	require.True(t, ok)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, samples, msg.Samples)
	assert.Equal(t, len(samples), msg.Count)
}

func TestSquelchRoundTrip(t *testing.T) {
	buf := Encode(Message{Type: TypeSquelch, Open: true, Siglev: 12.5, RxID: 3})
	msg, _, ok := Decode(buf)
	require.True(t, ok)
	assert.True(t, msg.Open)
	assert.InDelta(t, 12.5, msg.Siglev, 0.001)
	assert.Equal(t, 3, msg.RxID)
}

func TestSizeFieldEqualsHeaderPlusPayload(t *testing.T) {
	buf := Encode(Message{Type: TypeSendDtmf, Digit: '5', Dur: 100, Digits: "hi"})
	assert.Len(t, buf, HeaderSize+1+4+2)
}

func TestDecodeWaitsForFullFrame(t *testing.T) {
	buf := Encode(Message{Type: TypeDtmf, Digit: '1', Dur: 50})
	_, _, ok := Decode(buf[:len(buf)-1])
	assert.False(t, ok)
}

func TestAccumulatorFeedsIncrementally(t *testing.T) {
	buf1 := Encode(Message{Type: TypeHeartbeat})
	buf2 := Encode(Message{Type: TypeTxTimeout})
	stream := append(append([]byte{}, buf1...), buf2...)

	var a Accumulator
	var msgs []Message
	for i := 0; i < len(stream); i++ {
		got, ok := a.Feed(stream[i : i+1])
		require.True(t, ok)
		msgs = append(msgs, got...)
	}
	require.Len(t, msgs, 2)
	assert.Equal(t, TypeHeartbeat, msgs[0].Type)
	assert.Equal(t, TypeTxTimeout, msgs[1].Type)
}

func TestAccumulatorRejectsOversizedFrame(t *testing.T) {
	var a Accumulator
	oversized := make([]byte, HeaderSize)
	oversized[0] = byte(TypeAudio)
	big := uint32(MaxFrameSize + 1000)
	oversized[1] = byte(big)
	oversized[2] = byte(big >> 8)
	oversized[3] = byte(big >> 16)
	oversized[4] = byte(big >> 24)

	_, ok := a.Feed(oversized)
	assert.False(t, ok)
}
