package license

import (
	"sync"
	"time"
)

const day = 24 * time.Hour

// StateMachine holds the current EntitlementState. Trial data lives in the
// store; the machine only derives the countdown from it.
type StateMachine struct {
	mu              sync.RWMutex
	records         *records
	now             func() time.Time
	trialPeriodDays int
	state           EntitlementState
}

// newStateMachine starts in Trial(trialPeriodDays)
func newStateMachine(recs *records, trialPeriodDays int, now func() time.Time) *StateMachine {
	if now == nil {
		now = time.Now
	}
	return &StateMachine{
		records:         recs,
		now:             now,
		trialPeriodDays: trialPeriodDays,
		state:           Trial(trialPeriodDays),
	}
}

// Current returns the current state
func (sm *StateMachine) Current() EntitlementState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// StartTrial records the trial start date once. An existing record is never
// moved. A Licensed state is left as is; otherwise the state is recomputed
// from the effective start date.
func (sm *StateMachine) StartTrial() (started bool, err error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	start, started, err := sm.records.setTrialStartIfAbsent(sm.now())
	if err != nil {
		return false, err
	}
	if sm.state.Status() != StatusLicensed {
		sm.state = sm.trialState(start)
	}
	return started, nil
}

// RecomputeFromClock refreshes the trial countdown. It does nothing while
// Licensed or when no trial start is stored.
func (sm *StateMachine) RecomputeFromClock() EntitlementState {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.state.Status() == StatusLicensed {
		return sm.state
	}
	if start, ok := sm.records.trialStart(); ok {
		sm.state = sm.trialState(start)
	}
	return sm.state
}

// MarkLicensed forces the Licensed state
func (sm *StateMachine) MarkLicensed() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.state = Licensed()
}

// Reset returns to a fresh Trial(trialPeriodDays)
func (sm *StateMachine) Reset() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.state = Trial(sm.trialPeriodDays)
}

// TrialPeriodDays returns the configured trial length
func (sm *StateMachine) TrialPeriodDays() int {
	return sm.trialPeriodDays
}

func (sm *StateMachine) trialState(start time.Time) EntitlementState {
	remaining := RemainingTrialDays(sm.trialPeriodDays, start, sm.now())
	if remaining <= 0 {
		return TrialExpired()
	}
	return Trial(remaining)
}

// RemainingTrialDays is max(0, period - whole days elapsed since start).
// A start date in the future counts as zero days elapsed.
func RemainingTrialDays(period int, start, now time.Time) int {
	elapsed := now.Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := period - int(elapsed/day)
	if remaining < 0 {
		return 0
	}
	return remaining
}
