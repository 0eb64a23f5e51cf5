package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"entitle/internal/license"
)

// MockLicenseManager is a mock for LicenseManager
type MockLicenseManager struct {
	mock.Mock
}

func (m *MockLicenseManager) ValidateLicense(ctx context.Context, key string) (license.Outcome, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(license.Outcome), args.Error(1)
}

func (m *MockLicenseManager) RemoveLicense(ctx context.Context) license.EntitlementState {
	args := m.Called(ctx)
	return args.Get(0).(license.EntitlementState)
}

func (m *MockLicenseManager) StartTrial(ctx context.Context) (license.EntitlementState, error) {
	args := m.Called(ctx)
	return args.Get(0).(license.EntitlementState), args.Error(1)
}

func (m *MockLicenseManager) RefreshStoredLicense(ctx context.Context) (*license.Outcome, error) {
	args := m.Called(ctx)
	outcome, _ := args.Get(0).(*license.Outcome)
	return outcome, args.Error(1)
}

func (m *MockLicenseManager) Snapshot() license.Snapshot {
	args := m.Called()
	return args.Get(0).(license.Snapshot)
}

func (m *MockLicenseManager) CanUseApp() bool {
	args := m.Called()
	return args.Bool(0)
}
