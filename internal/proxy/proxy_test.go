// SPDX-License-Identifier: GPL-2.0-or-later
package proxy

import (
	"crypto/md5" //nolint:gosec
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChallengeResponseUppercasesPassword(t *testing.T) {
	nonce := []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}
	got := challengeResponse("pw", nonce)

	h := md5.New() //nolint:gosec
	h.Write([]byte("PW"))
	h.Write(nonce)
	want := h.Sum(nil)

	assert.Equal(t, want, got)
}

func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	f := Frame{
		Type:     MsgUDPData,
		RemoteIP: net.IPv4(10, 0, 0, 5),
		Payload:  []byte("hello"),
	}
	buf := encodeFrame(f)

	decoded, consumed, ok := decodeFrame(buf)
	require.True(t, ok)
	assert.Equal(t, len(buf), consumed)
	assert.Equal(t, f.Type, decoded.Type)
	assert.True(t, f.RemoteIP.Equal(decoded.RemoteIP))
	assert.Equal(t, f.Payload, decoded.Payload)
}

func TestDecodeFrameWaitsForFullPayload(t *testing.T) {
	f := Frame{Type: MsgTCPData, RemoteIP: net.IPv4(1, 2, 3, 4), Payload: []byte("0123456789")}
	buf := encodeFrame(f)

	_, _, ok := decodeFrame(buf[:len(buf)-1])
	assert.False(t, ok, "a truncated frame must not be reported as decoded")

	decoded, consumed, ok := decodeFrame(buf)
	require.True(t, ok)
	assert.Equal(t, len(buf), consumed)
	assert.Equal(t, f.Payload, decoded.Payload)
}

func TestTcpOpenCarriesNoPayload(t *testing.T) {
	f := Frame{Type: MsgTCPOpen, RemoteIP: net.IPv4(192, 168, 1, 1)}
	buf := encodeFrame(f)
	assert.Len(t, buf, frameHeaderLen)
}
