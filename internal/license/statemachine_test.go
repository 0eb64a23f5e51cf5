package license

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTrialDays = 14

func TestStateMachine_InitialState(t *testing.T) {
	sm := newStateMachine(newRecords(NewMemoryStore()), testTrialDays, newFakeClock().Now)
	assert.Equal(t, Trial(testTrialDays), sm.Current())
	assert.Equal(t, Trial(testTrialDays), sm.RecomputeFromClock(), "no trial record keeps the default")
}

func TestStateMachine_RecomputeFromClock(t *testing.T) {
	for d := 0; d <= testTrialDays; d++ {
		t.Run(fmt.Sprintf("%d days remaining", d), func(t *testing.T) {
			clock := newFakeClock()
			store := NewMemoryStore()
			started := clock.Now().Add(-time.Duration(testTrialDays-d) * day)
			require.NoError(t, store.Set(FieldTrialStartDate, started.Format(time.RFC3339Nano)))

			sm := newStateMachine(newRecords(store), testTrialDays, clock.Now)
			got := sm.RecomputeFromClock()

			if d == 0 {
				assert.Equal(t, TrialExpired(), got)
				assert.False(t, got.CanUseApp())
			} else {
				assert.Equal(t, Trial(d), got)
				assert.True(t, got.CanUseApp())
			}
		})
	}
}

func TestStateMachine_StartTrialIsIdempotent(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	sm := newStateMachine(newRecords(store), testTrialDays, clock.Now)

	started, err := sm.StartTrial()
	require.NoError(t, err)
	assert.True(t, started)
	first, ok := store.Get(FieldTrialStartDate)
	require.True(t, ok)

	clock.Advance(3 * day)
	started, err = sm.StartTrial()
	require.NoError(t, err)
	assert.False(t, started)

	second, _ := store.Get(FieldTrialStartDate)
	assert.Equal(t, first, second, "second StartTrial must not move the clock")
	assert.Equal(t, Trial(testTrialDays-3), sm.Current())
}

func TestStateMachine_LicensedOverridesClock(t *testing.T) {
	clock := newFakeClock()
	sm := newStateMachine(newRecords(NewMemoryStore()), testTrialDays, clock.Now)

	_, err := sm.StartTrial()
	require.NoError(t, err)
	sm.MarkLicensed()

	clock.Advance(100 * day)
	assert.Equal(t, Licensed(), sm.RecomputeFromClock())

	_, err = sm.StartTrial()
	require.NoError(t, err)
	assert.Equal(t, Licensed(), sm.Current(), "starting a trial never demotes a license")

	sm.Reset()
	assert.Equal(t, Trial(testTrialDays), sm.Current())
}

func TestStateMachine_StartTrialStoreFailure(t *testing.T) {
	sm := newStateMachine(newRecords(failingStore{err: errors.New("disk full")}), testTrialDays, nil)
	_, err := sm.StartTrial()
	assert.EqualError(t, err, "disk full")
	assert.Equal(t, Trial(testTrialDays), sm.Current())
}

func TestStateMachine_ZeroDayTrial(t *testing.T) {
	sm := newStateMachine(newRecords(NewMemoryStore()), 0, newFakeClock().Now)
	assert.Equal(t, Trial(0), sm.Current())

	_, err := sm.StartTrial()
	require.NoError(t, err)
	assert.Equal(t, TrialExpired(), sm.Current())
}

// failingStore rejects every write
type failingStore struct {
	err error
}

func (s failingStore) Get(Field) (string, bool) { return "", false }
func (s failingStore) Set(Field, string) error  { return s.err }
func (s failingStore) Delete(Field) error       { return s.err }
