// SPDX-License-Identifier: GPL-2.0-or-later
package gsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeSilence(t *testing.T) {
	samples := make([]int16, FrameSamples)
	e := NewEncoder()
	frame, err := e.Encode(samples)
	require.NoError(t, err)
	assert.Len(t, frame, FrameBytes)

	d := NewDecoder()
	out, err := d.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, samples, out)
}

func TestEncodeRejectsWrongLength(t *testing.T) {
	e := NewEncoder()
	_, err := e.Encode(make([]int16, 10))
	assert.Error(t, err)
}

func TestDecodeRejectsWrongLength(t *testing.T) {
	d := NewDecoder()
	_, err := d.Decode(make([]byte, 10))
	assert.Error(t, err)
}

func TestDecodeIsLowPassQuantized(t *testing.T) {
	samples := make([]int16, FrameSamples)
	for i := range samples {
		samples[i] = int16(i * 100)
	}
	e := NewEncoder()
	frame, err := e.Encode(samples)
	require.NoError(t, err)

	d := NewDecoder()
	out, err := d.Decode(frame)
	require.NoError(t, err)
	require.Len(t, out, FrameSamples)
	assert.Equal(t, out[0], out[samplesPerByte-1], "quantization groups hold one value")
}
