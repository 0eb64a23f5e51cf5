package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	licenseErrors "entitle/internal/errors"
)

// ActivationMethod tells how a successful validation reached Licensed
type ActivationMethod string

const (
	// MethodUnlimited is a key that needs no device binding
	MethodUnlimited ActivationMethod = "unlimited"
	// MethodExistingActivation reused the stored activation id
	MethodExistingActivation ActivationMethod = "existing_activation"
	// MethodNewActivation consumed a new activation slot
	MethodNewActivation ActivationMethod = "new_activation"
	// MethodNotRequired recovered from ErrActivationNotRequired
	MethodNotRequired ActivationMethod = "activation_not_required"
)

// Outcome is the result of a successful ValidateLicense
type Outcome struct {
	State            EntitlementState
	Method           ActivationMethod
	ActivationID     string
	ActivationsLimit int
}

// Snapshot is a point-in-time view of the entitlement and its stored record
type Snapshot struct {
	State              EntitlementState
	MaskedLicenseKey   string
	HasLicenseKey      bool
	ActivationID       string
	RequiresActivation bool
	ActivationsLimit   int
	TrialPeriodDays    int
	TrialStartedAt     time.Time
}

// Options configures NewManager
type Options struct {
	TrialPeriodDays int
	// Now defaults to time.Now
	Now         func() time.Time
	Logger      *slog.Logger
	Tracer      trace.Tracer
	Metrics     *LicenseMetrics
	Broadcaster *Broadcaster
}

// Manager owns the entitlement state of the process. It orchestrates license
// activation against a Service, persists the outcome to a Store and fires
// StateChanged after every committed transition.
type Manager struct {
	service Service
	records *records
	machine *StateMachine
	notify  *Broadcaster
	guard   *semaphore.Weighted

	// mu pairs every store mutation with its state transition
	mu sync.Mutex

	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *LicenseMetrics
}

// NewManager creates a Manager and derives the starting state from the store
// without contacting the service.
func NewManager(service Service, store Store, opts Options) (*Manager, error) {
	if service == nil {
		return nil, errors.New("license service is required")
	}
	if store == nil {
		return nil, errors.New("license store is required")
	}
	if opts.TrialPeriodDays < 0 {
		return nil, fmt.Errorf("trial period days must not be negative: %d", opts.TrialPeriodDays)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(TracerName)
	}
	notify := opts.Broadcaster
	if notify == nil {
		notify = NewBroadcaster()
	}

	recs := newRecords(store)
	m := &Manager{
		service: service,
		records: recs,
		machine: newStateMachine(recs, opts.TrialPeriodDays, opts.Now),
		notify:  notify,
		guard:   semaphore.NewWeighted(1),
		logger:  logger.With(slog.String("component", "license_manager")),
		tracer:  tracer,
		metrics: opts.Metrics,
	}

	if recs.licensed() {
		m.machine.MarkLicensed()
	} else {
		m.machine.RecomputeFromClock()
	}

	m.logger.Info("License manager initialized",
		slog.String("state", m.machine.Current().String()),
		slog.Int("trial_period_days", opts.TrialPeriodDays),
	)
	return m, nil
}

// ValidateLicense associates key with this installation. At most one call
// runs at a time; a concurrent call fails with ErrValidationInProgress.
func (m *Manager) ValidateLicense(ctx context.Context, key string) (Outcome, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		m.logger.WarnContext(ctx, "License validation rejected: empty key")
		return Outcome{State: m.CurrentState()}, licenseErrors.ErrEmptyKey
	}

	if !m.guard.TryAcquire(1) {
		m.logLicenseAction(ctx, slog.LevelWarn, "validate", "License validation rejected: already in progress", key)
		return Outcome{State: m.CurrentState()}, licenseErrors.ErrValidationInProgress
	}
	defer m.guard.Release(1)

	start := time.Now()
	outcome, err := m.traceValidation(ctx, key, func(ctx context.Context) (Outcome, error) {
		return m.validate(ctx, key)
	})
	m.logOperation(ctx, "validate_license", start, err,
		slog.String("license_key", maskLicenseKey(key)),
		slog.String("method", string(outcome.Method)),
		slog.String("state", outcome.State.String()),
	)
	return outcome, err
}

func (m *Manager) validate(ctx context.Context, key string) (Outcome, error) {
	m.logLicenseAction(ctx, slog.LevelInfo, "check", "Checking license with service", key)

	var check CheckResult
	err := m.traceRemote(ctx, "check", func(ctx context.Context) error {
		var err error
		check, err = m.service.CheckRequiresActivation(ctx, key)
		return err
	})
	if err != nil {
		return m.resolveFailure(ctx, key, "check", err)
	}

	if !check.IsValid {
		m.logLicenseAction(ctx, slog.LevelWarn, "check", "License key rejected by service", key)
		return Outcome{State: m.CurrentState()}, licenseErrors.ErrInvalidKey
	}

	// The key is bound as soon as it is known to be valid, even if activation
	// fails below, so the user can retry without typing it again.
	if err := m.storeLicenseKey(key); err != nil {
		return Outcome{State: m.CurrentState()}, err
	}

	if !check.RequiresActivation {
		limit := 0
		if check.ActivationsLimit != nil {
			limit = *check.ActivationsLimit
		}
		return m.commitLicensed(ctx, key, ActivationRecord{
			RequiresActivation: false,
			ActivationsLimit:   limit,
		}, MethodUnlimited)
	}

	if prior, ok := m.records.activation(); ok && prior.ActivationID != "" {
		var valid bool
		err := m.traceRemote(ctx, "validate", func(ctx context.Context) error {
			var err error
			valid, err = m.service.ValidateWithActivation(ctx, key, prior.ActivationID)
			return err
		})
		if err != nil {
			return m.resolveFailure(ctx, key, "validate", err)
		}
		if valid {
			limit := prior.ActivationsLimit
			if check.ActivationsLimit != nil {
				limit = *check.ActivationsLimit
			}
			return m.commitLicensed(ctx, key, ActivationRecord{
				ActivationID:       prior.ActivationID,
				RequiresActivation: true,
				ActivationsLimit:   limit,
			}, MethodExistingActivation)
		}
		m.logLicenseAction(ctx, slog.LevelInfo, "validate", "Stored activation no longer valid, activating again", key,
			slog.String("activation_id", prior.ActivationID))
	}

	var activation ActivationResult
	err = m.traceRemote(ctx, "activate", func(ctx context.Context) error {
		var err error
		activation, err = m.service.Activate(ctx, key)
		return err
	})
	if err == nil && activation.ActivationID == "" {
		err = errors.New("activation response has no activation id")
	}
	m.recordActivationMetrics(ctx, err)
	if err != nil {
		return m.resolveFailure(ctx, key, "activate", err)
	}

	return m.commitLicensed(ctx, key, ActivationRecord{
		ActivationID:       activation.ActivationID,
		RequiresActivation: true,
		ActivationsLimit:   activation.ActivationsLimit,
	}, MethodNewActivation)
}

// resolveFailure turns ErrActivationNotRequired into success and every other
// failure into a taxonomy error without touching state
func (m *Manager) resolveFailure(ctx context.Context, key, op string, err error) (Outcome, error) {
	if errors.Is(err, licenseErrors.ErrActivationNotRequired) {
		m.logLicenseAction(ctx, slog.LevelInfo, op, "Service reports activation not required", key)
		return m.commitLicensed(ctx, key, ActivationRecord{RequiresActivation: false}, MethodNotRequired)
	}

	var limitErr *licenseErrors.ActivationLimitReachedError
	if errors.As(err, &limitErr) {
		m.logLicenseAction(ctx, slog.LevelWarn, op, "Activation limit reached", key,
			slog.String("details", limitErr.Details))
	}
	return Outcome{State: m.CurrentState()}, licenseErrors.NewRemoteError(op, err)
}

func (m *Manager) storeLicenseKey(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.records.setLicenseKey(key); err != nil {
		return fmt.Errorf("store license key: %w", err)
	}
	return nil
}

func (m *Manager) commitLicensed(ctx context.Context, key string, rec ActivationRecord, method ActivationMethod) (Outcome, error) {
	m.mu.Lock()
	if err := m.records.commit(key, rec); err != nil {
		m.mu.Unlock()
		return Outcome{State: m.CurrentState()}, fmt.Errorf("persist activation record: %w", err)
	}
	prev := m.machine.Current()
	m.machine.MarkLicensed()
	state := m.machine.Current()
	m.mu.Unlock()

	m.logLicenseAction(ctx, slog.LevelInfo, "commit", "License activated", key,
		slog.String("method", string(method)),
		slog.Bool("requires_activation", rec.RequiresActivation),
		slog.Int("activations_limit", rec.ActivationsLimit),
	)
	m.publish(ctx, "license_validated", prev, state)

	return Outcome{
		State:            state,
		Method:           method,
		ActivationID:     rec.ActivationID,
		ActivationsLimit: rec.ActivationsLimit,
	}, nil
}

// RemoveLicense clears every stored field and re-arms a fresh trial. It
// always succeeds; store failures are logged.
func (m *Manager) RemoveLicense(ctx context.Context) EntitlementState {
	start := time.Now()

	m.mu.Lock()
	prev := m.machine.Current()
	key, _ := m.records.licenseKey()
	clearErr := m.records.clear()
	m.machine.Reset()
	state := m.machine.Current()
	m.mu.Unlock()

	if clearErr != nil {
		m.logger.ErrorContext(ctx, "Failed to clear stored license fields",
			slog.String("error", clearErr.Error()))
	}
	if m.metrics != nil {
		m.metrics.Removals.Add(ctx, 1)
	}
	m.logOperation(ctx, "remove_license", start, nil,
		slog.String("license_key", maskLicenseKey(key)),
		slog.Bool("had_license_key", key != ""),
	)
	m.publish(ctx, "license_removed", prev, state)
	return state
}

// Launch runs once per process start. The first launch on an installation
// starts the trial; every launch recomputes the countdown.
func (m *Manager) Launch(ctx context.Context) (EntitlementState, error) {
	m.mu.Lock()
	prev := m.machine.Current()
	first := !m.records.hasLaunchedBefore()
	if first {
		if _, err := m.machine.StartTrial(); err != nil {
			m.mu.Unlock()
			return prev, fmt.Errorf("start trial: %w", err)
		}
		if err := m.records.markLaunched(); err != nil {
			m.mu.Unlock()
			return prev, fmt.Errorf("mark first launch: %w", err)
		}
	}
	state := m.machine.RecomputeFromClock()
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "Application launch",
		slog.Bool("first_launch", first),
		slog.String("state", state.String()),
	)
	if state != prev {
		m.publish(ctx, "launch", prev, state)
	}
	return state, nil
}

// StartTrial records the trial start date if none exists
func (m *Manager) StartTrial(ctx context.Context) (EntitlementState, error) {
	m.mu.Lock()
	prev := m.machine.Current()
	started, err := m.machine.StartTrial()
	state := m.machine.Current()
	m.mu.Unlock()

	if err != nil {
		return prev, fmt.Errorf("start trial: %w", err)
	}
	if started {
		m.logger.InfoContext(ctx, "Trial started",
			slog.Int("trial_period_days", m.machine.TrialPeriodDays()))
	}
	if state != prev {
		m.publish(ctx, "trial_started", prev, state)
	}
	return state, nil
}

// Recompute refreshes the trial countdown and fires StateChanged only when
// the state value changed
func (m *Manager) Recompute(ctx context.Context) EntitlementState {
	m.mu.Lock()
	prev := m.machine.Current()
	state := m.machine.RecomputeFromClock()
	m.mu.Unlock()

	if state != prev {
		m.publish(ctx, "clock", prev, state)
	}
	return state
}

// Watch calls Recompute every interval until ctx is done
func (m *Manager) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.DebugContext(ctx, "Entitlement watcher started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			m.logger.DebugContext(ctx, "Entitlement watcher stopped")
			return
		case <-ticker.C:
			m.Recompute(ctx)
		}
	}
}

// RefreshStoredLicense re-validates the stored key. It returns nil without
// error when no key is stored.
func (m *Manager) RefreshStoredLicense(ctx context.Context) (*Outcome, error) {
	key, ok := m.records.licenseKey()
	if !ok {
		return nil, nil
	}
	outcome, err := m.ValidateLicense(ctx, key)
	return &outcome, err
}

// CurrentState returns the current entitlement state
func (m *Manager) CurrentState() EntitlementState {
	return m.machine.Current()
}

// CanUseApp is the single gate the rest of the application consults
func (m *Manager) CanUseApp() bool {
	return m.machine.Current().CanUseApp()
}

// ActivationsLimit returns the stored limit, 0 when unlimited or unknown
func (m *Manager) ActivationsLimit() int {
	rec, ok := m.records.activation()
	if !ok {
		return 0
	}
	return rec.ActivationsLimit
}

// Snapshot returns the state together with the stored record
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		State:           m.machine.Current(),
		TrialPeriodDays: m.machine.TrialPeriodDays(),
	}
	if key, ok := m.records.licenseKey(); ok {
		snap.HasLicenseKey = true
		snap.MaskedLicenseKey = maskLicenseKey(key)
	}
	if rec, ok := m.records.activation(); ok {
		snap.ActivationID = rec.ActivationID
		snap.RequiresActivation = rec.RequiresActivation
		snap.ActivationsLimit = rec.ActivationsLimit
	}
	if start, ok := m.records.trialStart(); ok {
		snap.TrialStartedAt = start
	}
	return snap
}

// Subscribe registers fn for StateChanged and returns its unsubscribe func
func (m *Manager) Subscribe(fn func()) func() {
	return m.notify.Subscribe(fn)
}

// Broadcaster returns the StateChanged broadcaster
func (m *Manager) Broadcaster() *Broadcaster {
	return m.notify
}

// publish fires StateChanged after the mutation is durable
func (m *Manager) publish(ctx context.Context, reason string, from, to EntitlementState) {
	m.logStateChange(ctx, reason, from, to)
	m.recordStateChange(ctx, to)
	m.notify.Publish()
}
