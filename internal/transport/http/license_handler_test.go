package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	licenseErrors "entitle/internal/errors"
	"entitle/pkg/contracts/domain"
)

// MockLicenseService implements services.LicenseService for testing
type MockLicenseService struct {
	mock.Mock
}

func (m *MockLicenseService) GetStatus(ctx context.Context) (*domain.LicenseStatus, error) {
	args := m.Called(ctx)
	status, _ := args.Get(0).(*domain.LicenseStatus)
	return status, args.Error(1)
}

func (m *MockLicenseService) Activate(ctx context.Context, key string) (*domain.ActivationResult, error) {
	args := m.Called(ctx, key)
	result, _ := args.Get(0).(*domain.ActivationResult)
	return result, args.Error(1)
}

func (m *MockLicenseService) StartTrial(ctx context.Context) (*domain.LicenseStatus, error) {
	args := m.Called(ctx)
	status, _ := args.Get(0).(*domain.LicenseStatus)
	return status, args.Error(1)
}

func (m *MockLicenseService) Remove(ctx context.Context) (*domain.LicenseStatus, error) {
	args := m.Called(ctx)
	status, _ := args.Get(0).(*domain.LicenseStatus)
	return status, args.Error(1)
}

func (m *MockLicenseService) Refresh(ctx context.Context) (*domain.LicenseStatus, error) {
	args := m.Called(ctx)
	status, _ := args.Get(0).(*domain.LicenseStatus)
	return status, args.Error(1)
}

func (m *MockLicenseService) CanUseApp() bool {
	return m.Called().Bool(0)
}

func (m *MockLicenseService) GetValidationMetrics(ctx context.Context) (*domain.ValidationMetrics, error) {
	args := m.Called(ctx)
	metrics, _ := args.Get(0).(*domain.ValidationMetrics)
	return metrics, args.Error(1)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLicenseRouter(svc *MockLicenseService) http.Handler {
	h := NewLicenseHandler(svc, nil, nil, 0, discardLogger())
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Mount("/api/license", h.Routes())
	return r
}

func trialStatus(days int) *domain.LicenseStatus {
	return &domain.LicenseStatus{
		Status:        domain.EntitlementTrial,
		DaysRemaining: &days,
		CanUseApp:     true,
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestLicenseHandler_GetStatus(t *testing.T) {
	svc := &MockLicenseService{}
	svc.On("GetStatus", mock.Anything).Return(trialStatus(9), nil)

	rec := httptest.NewRecorder()
	newLicenseRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/license/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "trial", body["status"])
	assert.Equal(t, float64(9), body["days_remaining"])
	assert.Equal(t, true, body["can_use_app"])
	svc.AssertExpectations(t)
}

func TestLicenseHandler_Activate(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
		setup       func(svc *MockLicenseService)
		wantStatus  int
		wantType    string
	}{
		{
			name: "success",
			body: `{"license_key":"ABCD-EFGH-IJKL-MNOP"}`,
			setup: func(svc *MockLicenseService) {
				svc.On("Activate", mock.Anything, "ABCD-EFGH-IJKL-MNOP").Return(&domain.ActivationResult{
					Success: true,
					Method:  "new_activation",
					License: domain.LicenseStatus{Status: domain.EntitlementLicensed, CanUseApp: true},
				}, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "empty key",
			body: `{"license_key":""}`,
			setup: func(svc *MockLicenseService) {
				svc.On("Activate", mock.Anything, "").Return(nil, licenseErrors.ErrEmptyKey)
			},
			wantStatus: http.StatusBadRequest,
			wantType:   licenseErrors.TypeLicenseEmptyKey,
		},
		{
			name: "invalid key",
			body: `{"license_key":"WRONG-KEY"}`,
			setup: func(svc *MockLicenseService) {
				svc.On("Activate", mock.Anything, "WRONG-KEY").Return(nil, licenseErrors.ErrInvalidKey)
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantType:   licenseErrors.TypeLicenseInvalidKey,
		},
		{
			name: "activation limit",
			body: `{"license_key":"ABCD-EFGH-IJKL-MNOP"}`,
			setup: func(svc *MockLicenseService) {
				svc.On("Activate", mock.Anything, "ABCD-EFGH-IJKL-MNOP").
					Return(nil, licenseErrors.NewActivationLimitReachedError("3 of 3 devices"))
			},
			wantStatus: http.StatusConflict,
			wantType:   licenseErrors.TypeLicenseActivationLimit,
		},
		{
			name: "validation in progress",
			body: `{"license_key":"ABCD-EFGH-IJKL-MNOP"}`,
			setup: func(svc *MockLicenseService) {
				svc.On("Activate", mock.Anything, "ABCD-EFGH-IJKL-MNOP").Return(nil, licenseErrors.ErrValidationInProgress)
			},
			wantStatus: http.StatusConflict,
			wantType:   licenseErrors.TypeLicenseBusy,
		},
		{
			name: "remote failure",
			body: `{"license_key":"ABCD-EFGH-IJKL-MNOP"}`,
			setup: func(svc *MockLicenseService) {
				svc.On("Activate", mock.Anything, "ABCD-EFGH-IJKL-MNOP").
					Return(nil, licenseErrors.NewRemoteError("check", errors.New("connection refused")))
			},
			wantStatus: http.StatusBadGateway,
			wantType:   licenseErrors.TypeLicenseRemote,
		},
		{
			name:       "malformed json",
			body:       `{"license_key":`,
			setup:      func(svc *MockLicenseService) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "key with inner whitespace",
			body:       `{"license_key":"ABCD EFGH"}`,
			setup:      func(svc *MockLicenseService) {},
			wantStatus: http.StatusBadRequest,
			wantType:   licenseErrors.TypeValidation,
		},
		{
			name:        "wrong content type",
			body:        `license_key=ABCD`,
			contentType: "application/x-www-form-urlencoded",
			setup:       func(svc *MockLicenseService) {},
			wantStatus:  http.StatusUnsupportedMediaType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockLicenseService{}
			tt.setup(svc)

			req := httptest.NewRequest(http.MethodPost, "/api/license/activate", strings.NewReader(tt.body))
			ct := tt.contentType
			if ct == "" {
				ct = "application/json"
			}
			req.Header.Set("Content-Type", ct)
			rec := httptest.NewRecorder()
			newLicenseRouter(svc).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantType != "" {
				assert.Equal(t, tt.wantType, decodeBody(t, rec)["type"])
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestLicenseHandler_RemoveTrialRefresh(t *testing.T) {
	svc := &MockLicenseService{}
	svc.On("Remove", mock.Anything).Return(trialStatus(14), nil)
	svc.On("StartTrial", mock.Anything).Return(trialStatus(14), nil)
	svc.On("Refresh", mock.Anything).Return(&domain.LicenseStatus{Status: domain.EntitlementLicensed, CanUseApp: true}, nil)
	router := newLicenseRouter(svc)

	tests := []struct {
		method, path, status string
	}{
		{http.MethodDelete, "/api/license/", "trial"},
		{http.MethodPost, "/api/license/trial", "trial"},
		{http.MethodPost, "/api/license/refresh", "licensed"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.status, decodeBody(t, rec)["status"])
		})
	}
	svc.AssertExpectations(t)
}

func TestLicenseHandler_StartTrialStoreFailure(t *testing.T) {
	svc := &MockLicenseService{}
	svc.On("StartTrial", mock.Anything).Return(nil, errors.New("disk full"))

	rec := httptest.NewRecorder()
	newLicenseRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/license/trial", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, licenseErrors.TypeInternal, body["type"])
	assert.NotEmpty(t, body["trace_id"])
}

func TestLicenseHandler_GetMetrics(t *testing.T) {
	svc := &MockLicenseService{}
	svc.On("GetValidationMetrics", mock.Anything).Return(&domain.ValidationMetrics{TotalValidations: 4, FailedValidations: 1}, nil)

	rec := httptest.NewRecorder()
	newLicenseRouter(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/license/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(4), body["total_validations"])
	assert.Equal(t, float64(1), body["failed_validations"])
}

func TestLicenseHandler_ActivateLimiterOnlyThrottlesActivate(t *testing.T) {
	svc := &MockLicenseService{}
	svc.On("Refresh", mock.Anything).Return(trialStatus(5), nil)

	h := NewLicenseHandler(svc, nil, nil, 0, discardLogger())
	limited := 0
	h.SetActivateLimiter(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limited++
			w.WriteHeader(http.StatusTooManyRequests)
		})
	})
	router := chi.NewRouter()
	router.Mount("/api/license", h.Routes())

	req := httptest.NewRequest(http.MethodPost, "/api/license/activate", strings.NewReader(`{"license_key":"ABCD-EFGH-IJKL-MNOP"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/license/refresh", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 1, limited)
	svc.AssertNotCalled(t, "Activate", mock.Anything, mock.Anything)
	svc.AssertExpectations(t)
}
