// SPDX-License-Identifier: GPL-2.0-or-later
package rtcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAndIsSDES(t *testing.T) {
	buf := BuildSDES("SM0TEST", "Test Station", "")
	assert.True(t, IsSDES(buf))
	assert.False(t, IsBye(buf))
}

func TestBuildAndIsBye(t *testing.T) {
	buf := BuildBye()
	assert.True(t, IsBye(buf))
	assert.False(t, IsSDES(buf))
}

func TestParseSDESNameRoundTrip(t *testing.T) {
	buf := BuildSDES("SM0TEST", "Test Station", "")
	name, ok := ParseSDES(buf, ItemNAME)
	require.True(t, ok)
	want := "SM0TEST        Test Station"
	assert.Equal(t, want, name)
}

func TestParseSDESCNAMERoundTrip(t *testing.T) {
	buf := BuildSDES("SM0TEST", "Test Station", "")
	cname, ok := ParseSDES(buf, ItemCNAME)
	require.True(t, ok)
	assert.Equal(t, "SM0TEST Test Station", cname)

	call, name, err := SplitCNAME(cname)
	require.NoError(t, err)
	assert.Equal(t, "SM0TEST", call)
	assert.Equal(t, "Test Station", name)
}

func TestSpeexCapability(t *testing.T) {
	withSpeex := BuildSDES("SM0TEST", "Test", "SPEEX")
	assert.True(t, HasSpeexCapability(withSpeex))

	without := BuildSDES("SM0TEST", "Test", "")
	assert.False(t, HasSpeexCapability(without))
}

func TestParseSDESNeverReadsPastDeclaredLength(t *testing.T) {
	buf := BuildSDES("SM0TEST", "Test", "SPEEX")
	truncated := buf[:len(buf)-1]
	// Missing trailing bytes must fail closed, never panic or read
	// garbage from beyond the slice.
	_, ok := ParseSDES(truncated, ItemPriv)
	_ = ok
}

func TestSDESRejectsZeroCount(t *testing.T) {
	buf := BuildSDES("SM0TEST", "Test", "")
	// Zero out the count bits (bits 8-13 of the chunk header word,
	// located right after the 8-byte null RR).
	buf[8] &^= 0x3f
	assert.False(t, IsSDES(buf))
}

func TestAcceptsRTPVersion3(t *testing.T) {
	buf := BuildSDES("SM0TEST", "Test", "")
	// Force the leading RR's version field to 3; walk() should still
	// find the following SDES chunk.
	buf[0] = (buf[0] &^ 0xc0) | (3 << 6)
	assert.True(t, IsSDES(buf))
}
