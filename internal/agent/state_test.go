package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock advances only when told to, making backoff expiry deterministic.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{now: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newRunningStateMachine(base time.Time) (*StateMachine, *testClock) {
	clk := newTestClock(base)
	sm := NewStateMachine(clk)
	sm.TransitionTo(StateRunning, "")
	return sm, clk
}

func TestStateInitial(t *testing.T) {
	sm := NewStateMachine(newTestClock(time.Now()))

	assert.Equal(t, StateStarting, sm.State())
	assert.Equal(t, "", sm.StateReason())
}

func TestStateTransitionToRunning(t *testing.T) {
	sm := NewStateMachine(newTestClock(time.Now()))

	sm.TransitionTo(StateRunning, "collectors synced, gpu scrape healthy")

	assert.Equal(t, StateRunning, sm.State())
	assert.Equal(t, "collectors synced, gpu scrape healthy", sm.StateReason())
}

func TestStateHandleHTTPStatus(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter int
		wantState  AgentState
		wantReason string
	}{
		{"accepted", 200, 0, StateRunning, ""},
		{"bad api key", 401, 0, StateStopped, "authentication failed"},
		{"forbidden", 403, 0, StateStopped, "authentication failed"},
		{"gpu quota exceeded", 402, 120, StateBackoff, "quota exceeded"},
		{"rate limited", 429, 60, StateBackoff, "rate limited"},
		{"agent build retired", 410, 0, StateExiting, "agent deprecated"},
		{"ingest outage", 500, 0, StateRunning, "server error: 500"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sm, _ := newRunningStateMachine(time.Now())

			sm.HandleHTTPStatus(tc.status, tc.retryAfter)

			assert.Equal(t, tc.wantState, sm.State())
			assert.Equal(t, tc.wantReason, sm.StateReason())
		})
	}
}

func TestStateBackoffWindows(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name        string
		status      int
		retryAfter  int
		wantSeconds float64
	}{
		{"quota with retry hint", 402, 120, 120},
		{"quota fallback", 402, 0, 300},
		{"rate limit with retry hint", 429, 60, 60},
		{"rate limit fallback", 429, 0, 30},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sm, _ := newRunningStateMachine(base)

			sm.HandleHTTPStatus(tc.status, tc.retryAfter)

			require.Equal(t, StateBackoff, sm.State())
			assert.InDelta(t, tc.wantSeconds, sm.BackoffRemaining().Seconds(), 1.0)
			assert.False(t, sm.IsBackoffExpired())
		})
	}
}

func TestStateBackoffExpiry(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sm, clk := newRunningStateMachine(base)

	sm.HandleHTTPStatus(429, 10)

	clk.Advance(5 * time.Second)
	assert.False(t, sm.IsBackoffExpired())
	assert.InDelta(t, 5.0, sm.BackoffRemaining().Seconds(), 1.0)

	clk.Advance(6 * time.Second) // total 11s > 10s backoff
	assert.True(t, sm.IsBackoffExpired())
	assert.Equal(t, time.Duration(0), sm.BackoffRemaining())
}

func TestStateHTTP410ExitingCallsCancel(t *testing.T) {
	sm, _ := newRunningStateMachine(time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	sm.SetCancelFunc(cancel)

	sm.HandleHTTPStatus(410, 0)

	assert.Equal(t, StateExiting, sm.State())
	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected context to be canceled on 410")
	}
}

func TestStateHTTP410WithoutCancelFunc(t *testing.T) {
	sm, _ := newRunningStateMachine(time.Now())

	// No cancel func was registered.
	require.NotPanics(t, func() {
		sm.HandleHTTPStatus(410, 0)
	})

	assert.Equal(t, StateExiting, sm.State())
}

func TestState410FromAnyState(t *testing.T) {
	for _, s := range []AgentState{StateStarting, StateRunning, StateBackoff, StateStopped} {
		t.Run(string(s), func(t *testing.T) {
			sm := NewStateMachine(newTestClock(time.Now()))
			sm.TransitionTo(s, "setup")

			sm.HandleHTTPStatus(410, 0)

			assert.Equal(t, StateExiting, sm.State())
		})
	}
}

func TestStateBackoffToStoppedOn401(t *testing.T) {
	sm, _ := newRunningStateMachine(time.Now())
	sm.HandleHTTPStatus(429, 60)
	require.Equal(t, StateBackoff, sm.State())

	// An auth failure during backoff still stops the agent.
	sm.HandleHTTPStatus(401, 0)

	assert.Equal(t, StateStopped, sm.State())
}

func TestStateConcurrentHandleHTTPStatus(t *testing.T) {
	sm, _ := newRunningStateMachine(time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sm.SetCancelFunc(cancel)

	var wg sync.WaitGroup
	codes := []int{200, 200, 429, 200, 402, 200, 200, 200, 200, 200}

	for _, code := range codes {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			sm.HandleHTTPStatus(c, 30)
		}(code)
	}

	wg.Wait()

	assert.Contains(t, []AgentState{StateRunning, StateBackoff}, sm.State())
	_ = ctx
}
