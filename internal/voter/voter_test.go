// SPDX-License-Identifier: GPL-2.0-or-later
package voter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sm0svx/svxlink-go/internal/runtime"
)

func testConfig() Config {
	return Config{
		VotingDelay:         30 * time.Millisecond,
		BufferLength:        4 * 160,
		Hysteresis:          1.0,
		SqlCloseRevoteDelay: 30 * time.Millisecond,
		RxSwitchDelay:       30 * time.Millisecond,
		RevoteInterval:      20 * time.Millisecond,
	}
}

func TestMutedIgnoresSquelch(t *testing.T) {
	rt := runtime.New(context.Background())
	defer rt.Stop()
	v := New(rt, testConfig(), Handlers{}, nil)
	v.AddSubRx("rx1")

	v.NotifySquelch("rx1", true, -10)
	assert.Equal(t, Muted, v.State())
}

func TestSquelchOpenFromIdleEntersVotingDelayThenSelectsBest(t *testing.T) {
	rt := runtime.New(context.Background())
	defer rt.Stop()

	var mu sync.Mutex
	var opened string
	v := New(rt, testConfig(), Handlers{
		OnSquelch: func(open bool, rxName string, _ float64) {
			if open {
				mu.Lock()
				opened = rxName
				mu.Unlock()
			}
		},
	}, nil)
	v.AddSubRx("rx1")
	v.AddSubRx("rx2")
	v.Unmute()

	v.NotifySquelch("rx1", true, -20)
	assert.Equal(t, VotingDelay, v.State())
	v.NotifySquelch("rx2", true, -5)

	require.Eventually(t, func() bool {
		return v.State() == Receiving
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "rx2", opened, "the stronger signal should win the vote")
}

func TestVotingDelayReturnsToIdleIfAllCloseBeforeTimer(t *testing.T) {
	rt := runtime.New(context.Background())
	defer rt.Stop()
	v := New(rt, testConfig(), Handlers{}, nil)
	v.AddSubRx("rx1")
	v.Unmute()

	v.NotifySquelch("rx1", true, -10)
	require.Equal(t, VotingDelay, v.State())
	v.NotifySquelch("rx1", false, -10)
	assert.Equal(t, Idle, v.State())
}

func TestActiveSquelchCloseEntersSqlCloseWaitThenIdle(t *testing.T) {
	rt := runtime.New(context.Background())
	defer rt.Stop()
	v := New(rt, testConfig(), Handlers{}, nil)
	v.AddSubRx("rx1")
	v.Unmute()
	v.NotifySquelch("rx1", true, -10)
	require.Eventually(t, func() bool { return v.State() == Receiving }, time.Second, 5*time.Millisecond)

	v.NotifySquelch("rx1", false, -10)
	assert.Equal(t, SqlCloseWait, v.State())

	require.Eventually(t, func() bool { return v.State() == Idle }, time.Second, 5*time.Millisecond)
}

func TestDtmfBufferedWhileNotChosenReplaysOnceOnSelection(t *testing.T) {
	rt := runtime.New(context.Background())
	defer rt.Stop()

	var digits []byte
	var mu sync.Mutex
	v := New(rt, testConfig(), Handlers{
		OnDtmf: func(e DtmfEvent) {
			mu.Lock()
			digits = append(digits, e.Digit)
			mu.Unlock()
		},
	}, nil)
	r1 := v.AddSubRx("rx1")
	v.Unmute()

	r1.BufferDtmf('5', 100)
	r1.BufferDtmf('7', 100)

	v.NotifySquelch("rx1", true, -10)
	require.Eventually(t, func() bool { return v.State() == Receiving }, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(digits) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []byte{'5', '7'}, digits)
}

func TestRevoteSwitchesActiveRxOncePastHysteresis(t *testing.T) {
	rt := runtime.New(context.Background())
	defer rt.Stop()

	cfg := testConfig()

	var mu sync.Mutex
	var states []State
	var opened string
	v := New(rt, cfg, Handlers{
		OnStateChange: func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
		OnSquelch: func(open bool, rxName string, _ float64) {
			if open {
				mu.Lock()
				opened = rxName
				mu.Unlock()
			}
		},
	}, nil)
	v.AddSubRx("rx1")
	v.AddSubRx("rx2")
	v.Unmute()

	v.NotifySquelch("rx1", true, -20)
	require.Equal(t, VotingDelay, v.State())
	v.NotifySquelch("rx2", true, -21)

	require.Eventually(t, func() bool { return v.State() == Receiving }, time.Second, 5*time.Millisecond)
	mu.Lock()
	require.Equal(t, "rx1", opened, "rx1 should win the initial vote with the stronger signal")
	mu.Unlock()

	// Raise rx2's signal past rx1's by more than Hysteresis; the next
	// periodic revote should switch the active sub-RX to rx2.
	v.NotifySquelch("rx2", true, -20+cfg.Hysteresis+1)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return opened == "rx2"
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, SwitchActiveRx, "revote should pass through SwitchActiveRx before switching")
}
