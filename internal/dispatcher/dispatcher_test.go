// SPDX-License-Identifier: GPL-2.0-or-later
package dispatcher

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sm0svx/svxlink-go/internal/rtcp"
	"github.com/sm0svx/svxlink-go/internal/runtime"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.ListenUDP("udp", &net.UDPAddr{})
	require.NoError(t, err)
	defer ln.Close()
	return ln.LocalAddr().(*net.UDPAddr).Port
}

func TestRoutesControlPacketToRegisteredSession(t *testing.T) {
	rt := runtime.New(context.Background())
	defer rt.Stop()

	audioPort, ctrlPort := freePort(t), freePort(t)
	d, err := New(rt, audioPort, ctrlPort)
	require.NoError(t, err)
	defer d.Close()

	received := make(chan []byte, 1)
	d.Register(net.IPv4(127, 0, 0, 1), &Handler{
		OnCtrl: func(payload []byte) { received <- payload },
	})

	conn, err := net.Dial("udp", (&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: ctrlPort}).String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, []byte("hello"), got)
	case <-time.After(2 * time.Second):
		t.Fatal("control packet was not routed to the registered session")
	}
}

func TestUnsolicitedSDESSurfacesIncomingConnection(t *testing.T) {
	rt := runtime.New(context.Background())
	defer rt.Stop()

	audioPort, ctrlPort := freePort(t), freePort(t)

	got := make(chan IncomingConnection, 1)
	d, err := New(rt, audioPort, ctrlPort, WithIncomingConnection(func(ic IncomingConnection) {
		got <- ic
	}))
	require.NoError(t, err)
	defer d.Close()

	sdes := rtcp.BuildSDES("SM0TEST", "Test Name", "")
	conn, err := net.Dial("udp", (&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: ctrlPort}).String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(sdes)
	require.NoError(t, err)

	select {
	case ic := <-got:
		assert.Equal(t, "SM0TEST", ic.Call)
	case <-time.After(2 * time.Second):
		t.Fatal("unsolicited SDES never produced an incoming_connection event")
	}
}

func TestSpuriousAudioWithoutSessionIsDropped(t *testing.T) {
	rt := runtime.New(context.Background())
	defer rt.Stop()

	audioPort, ctrlPort := freePort(t), freePort(t)
	d, err := New(rt, audioPort, ctrlPort)
	require.NoError(t, err)
	defer d.Close()

	conn, err := net.Dial("udp", (&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: audioPort}).String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("stray audio"))
	require.NoError(t, err)

	// No handler registered; nothing to assert beyond "it doesn't panic
	// or block" — give the read loop a moment to process the datagram.
	time.Sleep(100 * time.Millisecond)
}
