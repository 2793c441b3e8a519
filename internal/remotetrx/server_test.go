// SPDX-License-Identifier: GPL-2.0-or-later
package remotetrx

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sm0svx/svxlink-go/internal/remotetrx/framing"
	"github.com/sm0svx/svxlink-go/internal/runtime"
)

type fakeInbound struct {
	muted   chan bool
	ctcss   chan bool
	dtmf    chan byte
}

func (f *fakeInbound) SetMute(m bool)                                        { f.muted <- m }
func (f *fakeInbound) AddToneDetector(freq, bw, thresh float64, dur int)      {}
func (f *fakeInbound) SetTxCtrlMode(framing.TxCtrlMode)                      {}
func (f *fakeInbound) EnableCtcss(on bool)                                   { f.ctcss <- on }
func (f *fakeInbound) SendDtmf(digit byte, dur int)                         { f.dtmf <- digit }

func TestServerDispatchesInboundMute(t *testing.T) {
	rt := runtime.New(context.Background())
	defer rt.Stop()

	in := &fakeInbound{muted: make(chan bool, 1), ctcss: make(chan bool, 1), dtmf: make(chan byte, 1)}
	s := NewServer(rt, WithInbound(in))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go s.Serve(ln)

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write(framing.Encode(framing.Message{Type: framing.TypeMute, Bool: true}))
	require.NoError(t, err)

	select {
	case m := <-in.muted:
		assert.True(t, m)
	case <-time.After(2 * time.Second):
		t.Fatal("Mute message was never dispatched")
	}
}

func TestServerWritesAudioIntoDownstreamFifo(t *testing.T) {
	rt := runtime.New(context.Background())
	defer rt.Stop()
	s := NewServer(rt)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go s.Serve(ln)

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	samples := []int16{1, 2, 3, 4, 5}
	_, err = client.Write(framing.Encode(framing.Message{Type: framing.TypeAudio, Samples: samples, Count: len(samples)}))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return s.Fifo().Len() == len(samples)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServerSendAudioChunksAtMaxCount(t *testing.T) {
	rt := runtime.New(context.Background())
	defer rt.Stop()
	s := NewServer(rt)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go s.Serve(ln)

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	// Let the server register the connection before we send.
	_, err = client.Write(framing.Encode(framing.Message{Type: framing.TypeHeartbeat}))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	samples := make([]int16, 25)
	s.SendAudio(samples, 10)

	buf := make([]byte, 4096)
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	require.NoError(t, err)

	var acc framing.Accumulator
	msgs, ok := acc.Feed(buf[:n])
	require.True(t, ok)
	require.NotEmpty(t, msgs)
	assert.Equal(t, framing.TypeAudio, msgs[0].Type)
	assert.LessOrEqual(t, len(msgs[0].Samples), 10)
}

func TestServerReplaysLastSquelchStateToReconnectingClient(t *testing.T) {
	rt := runtime.New(context.Background())
	defer rt.Stop()
	s := NewServer(rt)

	// No client connected yet: these go to the backlog, last-value-wins.
	s.SendSquelch(false, -100, 0)
	s.SendSquelch(true, -42, 1)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go s.Serve(ln)

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	buf := make([]byte, 4096)
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	require.NoError(t, err)

	var acc framing.Accumulator
	msgs, ok := acc.Feed(buf[:n])
	require.True(t, ok)
	require.Len(t, msgs, 1)
	assert.Equal(t, framing.TypeSquelch, msgs[0].Type)
	assert.True(t, msgs[0].Open)
	assert.Equal(t, 1, msgs[0].RxID)
}
