package license

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockService is a testify mock of the remote license service
type MockService struct {
	mock.Mock
}

func (m *MockService) CheckRequiresActivation(ctx context.Context, key string) (CheckResult, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(CheckResult), args.Error(1)
}

func (m *MockService) ValidateWithActivation(ctx context.Context, key, activationID string) (bool, error) {
	args := m.Called(ctx, key, activationID)
	return args.Bool(0), args.Error(1)
}

func (m *MockService) Activate(ctx context.Context, key string) (ActivationResult, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(ActivationResult), args.Error(1)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func intPtr(v int) *int {
	return &v
}
