// SPDX-License-Identifier: GPL-2.0-or-later
package speex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeShrinksWithLowerQuality(t *testing.T) {
	samples := make([]int16, FrameSamples)
	hi, err := NewEncoder(10).Encode(samples)
	require.NoError(t, err)
	lo, err := NewEncoder(0).Encode(samples)
	require.NoError(t, err)
	assert.Greater(t, len(hi), len(lo))
	assert.LessOrEqual(t, len(hi), MaxFrameBytes)
}

func TestEncodeDecodeRoundTripsSilence(t *testing.T) {
	samples := make([]int16, FrameSamples)
	frame, err := NewEncoder(5).Encode(samples)
	require.NoError(t, err)

	out, err := NewDecoder().Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, samples, out)
}

func TestDecodeRejectsOversizedFrame(t *testing.T) {
	_, err := NewDecoder().Decode(make([]byte, MaxFrameBytes+1))
	assert.Error(t, err)
}

func TestDecodeRejectsEmptyFrame(t *testing.T) {
	_, err := NewDecoder().Decode(nil)
	assert.Error(t, err)
}
