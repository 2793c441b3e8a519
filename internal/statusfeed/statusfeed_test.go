// SPDX-License-Identifier: GPL-2.0-or-later
package statusfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sm0svx/svxlink-go/internal/pubsub"
)

func TestPublishReachesWebsocketClient(t *testing.T) {
	ps, err := pubsub.New("")
	require.NoError(t, err)
	defer ps.Close()

	feed := New(ps)
	server := httptest.NewServer(http.HandlerFunc(feed.handleWS))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the handler time to subscribe before we publish.
	time.Sleep(50 * time.Millisecond)
	feed.Publish("voter", "state_change", "rx1", map[string]string{"from": "Idle", "to": "VotingDelay"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(raw, &ev))
	assert.Equal(t, "voter", ev.Component)
	assert.Equal(t, "state_change", ev.Kind)
	assert.Equal(t, "rx1", ev.ID)
}

func TestServeNoopWithEmptyAddr(t *testing.T) {
	ps, err := pubsub.New("")
	require.NoError(t, err)
	defer ps.Close()
	feed := New(ps)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(t, feed.Serve(ctx, ""))
}
