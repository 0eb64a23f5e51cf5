package license

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Field names one persisted scalar
type Field string

const (
	FieldLicenseKey         Field = "license_key"
	FieldActivationID       Field = "activation_id"
	FieldRequiresActivation Field = "requires_activation"
	FieldActivationsLimit   Field = "activations_limit"
	FieldTrialStartDate     Field = "trial_start_date"
	FieldHasLaunchedBefore  Field = "has_launched_before"
)

// AllFields lists every field the license package persists
var AllFields = []Field{
	FieldLicenseKey,
	FieldActivationID,
	FieldRequiresActivation,
	FieldActivationsLimit,
	FieldTrialStartDate,
	FieldHasLaunchedBefore,
}

// Store is durable key-value storage for entitlement fields. Implementations
// must be safe for concurrent use; Manager adds its own single-writer lock
// around multi-field updates.
type Store interface {
	Get(field Field) (string, bool)
	Set(field Field, value string) error
	Delete(field Field) error
}

// ActivationRecord binds the stored license key to this installation
type ActivationRecord struct {
	ActivationID       string `json:"activation_id,omitempty"`
	RequiresActivation bool   `json:"requires_activation"`
	ActivationsLimit   int    `json:"activations_limit"`
}

// records is the typed view over a Store. RequiresActivation is written last
// and removed first, so its presence marks a complete activation record.
type records struct {
	mu    sync.RWMutex
	store Store
}

func newRecords(store Store) *records {
	return &records{store: store}
}

func (r *records) licenseKey() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.store.Get(FieldLicenseKey)
	return key, ok && key != ""
}

func (r *records) setLicenseKey(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Set(FieldLicenseKey, key)
}

func (r *records) activation() (ActivationRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activationLocked()
}

func (r *records) activationLocked() (ActivationRecord, bool) {
	raw, ok := r.store.Get(FieldRequiresActivation)
	if !ok {
		return ActivationRecord{}, false
	}
	requires, err := strconv.ParseBool(raw)
	if err != nil {
		return ActivationRecord{}, false
	}

	rec := ActivationRecord{RequiresActivation: requires}
	if id, ok := r.store.Get(FieldActivationID); ok {
		rec.ActivationID = id
	}
	if rawLimit, ok := r.store.Get(FieldActivationsLimit); ok {
		if limit, err := strconv.Atoi(rawLimit); err == nil && limit > 0 {
			rec.ActivationsLimit = limit
		}
	}
	return rec, true
}

// commit writes the key and a whole activation record under one lock
func (r *records) commit(key string, rec ActivationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Set(FieldLicenseKey, key); err != nil {
		return fmt.Errorf("store license key: %w", err)
	}
	// Remove the commit marker before touching the other fields
	if err := r.store.Delete(FieldRequiresActivation); err != nil {
		return fmt.Errorf("clear activation marker: %w", err)
	}
	if rec.ActivationID == "" {
		if err := r.store.Delete(FieldActivationID); err != nil {
			return fmt.Errorf("clear activation id: %w", err)
		}
	} else if err := r.store.Set(FieldActivationID, rec.ActivationID); err != nil {
		return fmt.Errorf("store activation id: %w", err)
	}
	limit := rec.ActivationsLimit
	if limit < 0 {
		limit = 0
	}
	if err := r.store.Set(FieldActivationsLimit, strconv.Itoa(limit)); err != nil {
		return fmt.Errorf("store activations limit: %w", err)
	}
	if err := r.store.Set(FieldRequiresActivation, strconv.FormatBool(rec.RequiresActivation)); err != nil {
		return fmt.Errorf("store activation marker: %w", err)
	}
	return nil
}

// licensed reports whether the store alone proves a completed activation
func (r *records) licensed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key, ok := r.store.Get(FieldLicenseKey)
	if !ok || key == "" {
		return false
	}
	rec, ok := r.activationLocked()
	if !ok {
		return false
	}
	return !rec.RequiresActivation || rec.ActivationID != ""
}

func (r *records) trialStart() (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	raw, ok := r.store.Get(FieldTrialStartDate)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// setTrialStartIfAbsent stores start unless a trial start already exists and
// returns the effective start date
func (r *records) setTrialStartIfAbsent(start time.Time) (time.Time, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if raw, ok := r.store.Get(FieldTrialStartDate); ok {
		if existing, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return existing, false, nil
		}
	}
	if err := r.store.Set(FieldTrialStartDate, start.UTC().Format(time.RFC3339Nano)); err != nil {
		return time.Time{}, false, err
	}
	return start, true, nil
}

func (r *records) hasLaunchedBefore() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	raw, ok := r.store.Get(FieldHasLaunchedBefore)
	if !ok {
		return false
	}
	launched, _ := strconv.ParseBool(raw)
	return launched
}

func (r *records) markLaunched() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Set(FieldHasLaunchedBefore, "true")
}

// clear deletes every field, marker first, and reports all failures
func (r *records) clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order := []Field{
		FieldRequiresActivation,
		FieldActivationID,
		FieldActivationsLimit,
		FieldLicenseKey,
		FieldTrialStartDate,
		FieldHasLaunchedBefore,
	}
	var errs []error
	for _, field := range order {
		if err := r.store.Delete(field); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", field, err))
		}
	}
	return errors.Join(errs...)
}
