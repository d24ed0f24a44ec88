package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/duck3244/k8s-gpu-management/internal/errors"
)

// AgentState represents the current lifecycle state of the agent.
type AgentState string

// Agent lifecycle states.
const (
	StateStarting AgentState = "starting"
	StateRunning  AgentState = "running"
	StateBackoff  AgentState = "backoff"
	StateStopped  AgentState = "stopped"
	StateExiting  AgentState = "exiting"
)

// Fallback backoff windows when the backend sends no Retry-After.
const (
	quotaBackoffFallback = 5 * time.Minute
	rateBackoffFallback  = 30 * time.Second
)

// StateMachine tracks the agent's lifecycle and reacts to the HTTP status
// codes the snapshot-ingest backend returns.
type StateMachine struct {
	mu           sync.RWMutex
	state        AgentState
	stateReason  string
	backoffUntil time.Time
	clock        errors.Clock
	cancelFunc   context.CancelFunc // set externally, called on StateExiting
}

// NewStateMachine creates a StateMachine starting in StateStarting.
func NewStateMachine(clock errors.Clock) *StateMachine {
	return &StateMachine{
		state: StateStarting,
		clock: clock,
	}
}

// State returns the current agent state.
func (sm *StateMachine) State() AgentState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// StateReason returns the human-readable reason for the current state.
func (sm *StateMachine) StateReason() string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.stateReason
}

// SetCancelFunc registers the context cancel function called on StateExiting.
func (sm *StateMachine) SetCancelFunc(cancel context.CancelFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.cancelFunc = cancel
}

// TransitionTo directly sets the agent state with a reason.
func (sm *StateMachine) TransitionTo(state AgentState, reason string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.state = state
	sm.stateReason = reason
}

// HandleHTTPStatus transitions state based on the status code of the last
// snapshot upload. 401/403 stop the agent, 402 and 429 back off, 410 exits.
func (sm *StateMachine) HandleHTTPStatus(statusCode int, retryAfterSeconds int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	switch {
	case statusCode == 200:
		sm.state = StateRunning
		sm.stateReason = ""
	case statusCode == 401 || statusCode == 403:
		sm.state = StateStopped
		sm.stateReason = "authentication failed"
	case statusCode == 402:
		sm.enterBackoff("quota exceeded", retryAfterSeconds, quotaBackoffFallback)
	case statusCode == 410:
		sm.state = StateExiting
		sm.stateReason = "agent deprecated"
		if sm.cancelFunc != nil {
			sm.cancelFunc()
		}
	case statusCode == 429:
		sm.enterBackoff("rate limited", retryAfterSeconds, rateBackoffFallback)
	case statusCode >= 500:
		// 5xx is handled by transport retry; the state stays unchanged and
		// only the reason is recorded for the health endpoint.
		sm.stateReason = fmt.Sprintf("server error: %d", statusCode)
	}
}

// enterBackoff moves to StateBackoff for the backend's requested window, or
// the fallback when none was sent. Caller holds the lock.
func (sm *StateMachine) enterBackoff(reason string, retryAfterSeconds int, fallback time.Duration) {
	sm.state = StateBackoff
	sm.stateReason = reason

	window := time.Duration(retryAfterSeconds) * time.Second
	if window <= 0 {
		window = fallback
	}
	sm.backoffUntil = sm.clock.Now().Add(window)
}

// IsBackoffExpired returns true if the backoff period has elapsed.
func (sm *StateMachine) IsBackoffExpired() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.clock.Now().After(sm.backoffUntil)
}

// BackoffRemaining returns the duration until backoff expires, or 0 if expired.
func (sm *StateMachine) BackoffRemaining() time.Duration {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	remaining := sm.backoffUntil.Sub(sm.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}
