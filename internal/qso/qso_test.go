// SPDX-License-Identifier: GPL-2.0-or-later
package qso

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sm0svx/svxlink-go/internal/audio"
	"github.com/sm0svx/svxlink-go/internal/rtcp"
	"github.com/sm0svx/svxlink-go/internal/runtime"
)

type fakeLink struct {
	mu   sync.Mutex
	ctrl [][]byte
}

func (f *fakeLink) sendCtrl(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), p...)
	f.ctrl = append(f.ctrl, cp)
	return nil
}

func (f *fakeLink) last() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ctrl) == 0 {
		return nil
	}
	return f.ctrl[len(f.ctrl)-1]
}

func newTestQso(t *testing.T, h Handlers) (*Qso, *fakeLink, *runtime.Runtime) {
	t.Helper()
	rt := runtime.New(context.Background())
	link := &fakeLink{}
	q := New(rt, net.IPv4(10, 0, 0, 1), "SM0TEST", "Test Name", link.sendCtrl,
		func([]byte) error { return nil }, h)
	return q, link, rt
}

func TestConnectOnlyFromDisconnected(t *testing.T) {
	q, link, rt := newTestQso(t, Handlers{})
	defer rt.Stop()

	require.NoError(t, q.Connect())
	assert.Equal(t, Connecting, q.State())
	assert.NotEmpty(t, link.last())

	err := q.Connect()
	assert.Error(t, err)
}

func TestAcceptTransitionsDirectlyToConnected(t *testing.T) {
	q, _, rt := newTestQso(t, Handlers{})
	defer rt.Stop()

	require.NoError(t, q.Accept("SM0PEER", "Peer Name", ""))
	assert.Equal(t, Connected, q.State())
}

func TestDisconnectSendsByeUnlessByeReceived(t *testing.T) {
	q, link, rt := newTestQso(t, Handlers{})
	defer rt.Stop()

	require.NoError(t, q.Accept("SM0PEER", "Peer", ""))
	q.Disconnect()
	assert.Equal(t, Disconnected, q.State())
	last := link.last()
	assert.True(t, rtcp.IsBye(last))
}

func TestByeWhileConnectedTransitionsOnceAndDoesNotReemitBye(t *testing.T) {
	var transitions []State
	var mu sync.Mutex
	q, link, rt := newTestQso(t, Handlers{OnStateChange: func(s State) {
		mu.Lock()
		transitions = append(transitions, s)
		mu.Unlock()
	}})
	defer rt.Stop()

	require.NoError(t, q.Accept("SM0PEER", "Peer", ""))
	before := len(link.ctrl)

	q.HandleCtrl(rtcp.BuildBye())
	require.Eventually(t, func() bool {
		return q.State() == Disconnected
	}, time.Second, 5*time.Millisecond)

	assert.Len(t, link.ctrl, before, "a BYE must not be re-emitted on receiving one")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transitions) == 3
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{Connected, ByeReceived, Disconnected}, transitions)
}

func TestCodecUpgradesToSpeexOnPeerCapability(t *testing.T) {
	q, _, rt := newTestQso(t, Handlers{})
	defer rt.Stop()
	require.NoError(t, q.Accept("SM0PEER", "Peer", ""))

	sdes := rtcp.BuildSDES("SM0PEER", "Peer", "SPEEX")
	q.HandleCtrl(sdes)

	q.mu.Lock()
	codec := q.codec
	q.mu.Unlock()
	assert.Equal(t, CodecSpeex, codec)
}

func TestGSMOnlyNeverUpgrades(t *testing.T) {
	rt := runtime.New(context.Background())
	defer rt.Stop()
	q := New(rt, net.IPv4(10, 0, 0, 2), "SM0TEST", "Test", func([]byte) error { return nil },
		func([]byte) error { return nil }, Handlers{}, WithGSMOnly(true))
	require.NoError(t, q.Accept("SM0PEER", "Peer", ""))

	q.HandleCtrl(rtcp.BuildSDES("SM0PEER", "Peer", "SPEEX"))

	q.mu.Lock()
	codec := q.codec
	q.mu.Unlock()
	assert.Equal(t, CodecGSM, codec)
}

func TestReceivingActivityIndicatorClearsAfterSlack(t *testing.T) {
	var receiving []bool
	var mu sync.Mutex
	q, _, rt := newTestQso(t, Handlers{OnReceivingChg: func(r bool) {
		mu.Lock()
		receiving = append(receiving, r)
		mu.Unlock()
	}})
	defer rt.Stop()
	require.NoError(t, q.Accept("SM0PEER", "Peer", ""))

	pkt := make([]byte, 12+gsmFrameSizeForTest())
	pkt[1] = 0x03
	q.HandleAudio(pkt)
	assert.True(t, q.IsReceiving())

	require.Eventually(t, func() bool {
		return !q.IsReceiving()
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, receiving, true)
	assert.Contains(t, receiving, false)
}

func gsmFrameSizeForTest() int { return 33 }

func TestWriteAudioFlushesOnFullRing(t *testing.T) {
	sent := make(chan []byte, 4)
	rt := runtime.New(context.Background())
	defer rt.Stop()
	q := New(rt, net.IPv4(10, 0, 0, 3), "SM0TEST", "Test",
		func([]byte) error { return nil },
		func(p []byte) error { sent <- p; return nil },
		Handlers{})
	require.NoError(t, q.Accept("SM0PEER", "Peer", ""))

	samples := make([]audio.Sample, 4*160)
	q.WriteAudio(samples)

	select {
	case pkt := <-sent:
		assert.Equal(t, byte(0x03), pkt[1])
	case <-time.After(time.Second):
		t.Fatal("expected an outbound audio packet once the ring filled")
	}
}
