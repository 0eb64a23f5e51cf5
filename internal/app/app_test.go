package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"entitle/internal/config"
	"entitle/internal/license"
	"entitle/pkg/contracts/domain"
)

// MockLicenseService is a testify mock of the remote license service
type MockLicenseService struct {
	mock.Mock
}

func (m *MockLicenseService) CheckRequiresActivation(ctx context.Context, key string) (license.CheckResult, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(license.CheckResult), args.Error(1)
}

func (m *MockLicenseService) ValidateWithActivation(ctx context.Context, key, activationID string) (bool, error) {
	args := m.Called(ctx, key, activationID)
	return args.Bool(0), args.Error(1)
}

func (m *MockLicenseService) Activate(ctx context.Context, key string) (license.ActivationResult, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(license.ActivationResult), args.Error(1)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func testConfig(t *testing.T, baseDir string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.BaseDir = baseDir
	cfg.Telemetry.MetricExporter = "none"
	cfg.Telemetry.TraceExporter = "none"
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.License.RequestTimeout = 2 * time.Second
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestApp(t *testing.T, cfg *config.Config, service license.Service, clock *testClock) *Application {
	t.Helper()
	app, err := NewApplication(cfg, discardLogger(), WithLicenseService(service), WithClock(clock.Now))
	require.NoError(t, err)
	require.NoError(t, app.Launch(context.Background()))
	t.Cleanup(func() { _ = app.Stop(context.Background()) })
	return app
}

func getStatus(t *testing.T, base string) domain.LicenseStatus {
	t.Helper()
	resp, err := http.Get(base + "/api/license/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status domain.LicenseStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	return status
}

func TestNewApplication_RequiresConfig(t *testing.T) {
	_, err := NewApplication(nil, discardLogger())
	assert.Error(t, err)
}

func TestNewApplication_InvalidServiceURL(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.License.ServiceURL = "not a url"
	_, err := NewApplication(cfg, discardLogger())
	assert.Error(t, err)
}

func TestApplication_FirstLaunchStartsTrial(t *testing.T) {
	dir := t.TempDir()
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	app := newTestApp(t, testConfig(t, dir), new(MockLicenseService), clock)

	server := httptest.NewServer(app.Router)
	defer server.Close()

	status := getStatus(t, server.URL)
	assert.Equal(t, domain.EntitlementTrial, status.Status)
	require.NotNil(t, status.DaysRemaining)
	assert.Equal(t, 14, *status.DaysRemaining)
	assert.True(t, status.CanUseApp)
	assert.False(t, status.HasLicenseKey)

	_, err := os.Stat(filepath.Join(dir, "data", "entitlement.dat"))
	assert.NoError(t, err, "launch should persist the trial start")

	resp, err := http.Get(server.URL + "/api/app/ping")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestApplication_ExpiredTrialThenActivate(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	first, err := NewApplication(testConfig(t, dir), discardLogger(),
		WithLicenseService(new(MockLicenseService)),
		WithClock((&testClock{now: start}).Now))
	require.NoError(t, err)
	require.NoError(t, first.Launch(context.Background()))
	require.NoError(t, first.Stop(context.Background()))

	service := new(MockLicenseService)
	clock := &testClock{now: start.Add(15 * 24 * time.Hour)}
	app := newTestApp(t, testConfig(t, dir), service, clock)

	server := httptest.NewServer(app.Router)
	defer server.Close()

	status := getStatus(t, server.URL)
	assert.Equal(t, domain.EntitlementTrialExpired, status.Status)
	assert.False(t, status.CanUseApp)

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/app/ping", nil)
	req.Header.Set("Accept", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	resp, err = http.Get(server.URL + "/api/health/live")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health stays reachable while expired")

	const key = "ABCD-1234-EFGH-5678"
	service.On("CheckRequiresActivation", mock.Anything, key).
		Return(license.CheckResult{IsValid: true, RequiresActivation: false}, nil).Once()

	resp, err = http.Post(server.URL+"/api/license/activate", "application/json",
		strings.NewReader(`{"license_key":"`+key+`"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	status = getStatus(t, server.URL)
	assert.Equal(t, domain.EntitlementLicensed, status.Status)
	assert.True(t, status.HasLicenseKey)
	assert.Equal(t, "ABCD****5678", status.LicenseKey)

	req, _ = http.NewRequest(http.MethodGet, server.URL+"/api/app/ping", nil)
	req.Header.Set("Accept", "application/json")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	service.AssertExpectations(t)
}

func TestApplication_LicensedSurvivesRestartWithoutNetwork(t *testing.T) {
	dir := t.TempDir()
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	limit := 3

	first := new(MockLicenseService)
	first.On("CheckRequiresActivation", mock.Anything, "KEY-0001-0002").
		Return(license.CheckResult{IsValid: true, RequiresActivation: true, ActivationsLimit: &limit}, nil)
	first.On("Activate", mock.Anything, "KEY-0001-0002").
		Return(license.ActivationResult{ActivationID: "act-1", ActivationsLimit: 3}, nil)

	cfg := testConfig(t, dir)
	app, err := NewApplication(cfg, discardLogger(), WithLicenseService(first), WithClock(clock.Now))
	require.NoError(t, err)
	require.NoError(t, app.Launch(context.Background()))
	_, err = app.LicenseManager.ValidateLicense(context.Background(), "KEY-0001-0002")
	require.NoError(t, err)
	require.NoError(t, app.Stop(context.Background()))

	// The refresh on launch fails, yet the stored record keeps the install licensed
	offline := new(MockLicenseService)
	offline.On("CheckRequiresActivation", mock.Anything, "KEY-0001-0002").
		Return(license.CheckResult{}, assert.AnError)

	clock.now = clock.now.Add(60 * 24 * time.Hour)
	restarted := newTestApp(t, testConfig(t, dir), offline, clock)

	assert.True(t, restarted.LicenseManager.CanUseApp())
	assert.Equal(t, 3, restarted.LicenseManager.ActivationsLimit())
	offline.AssertCalled(t, "CheckRequiresActivation", mock.Anything, "KEY-0001-0002")
}

func TestApplication_WebSocketPushesStateChanges(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	app := newTestApp(t, testConfig(t, t.TempDir()), new(MockLicenseService), clock)

	server := httptest.NewServer(app.Router)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	type frame struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	next := func() frame {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		return f
	}

	assert.Equal(t, "connect", next().Type)
	initial := next()
	assert.Equal(t, "license:state", initial.Type)
	assert.Contains(t, string(initial.Data), `"status":"trial"`)

	require.Eventually(t, func() bool { return app.LicenseManager.Broadcaster().Len() > 0 },
		time.Second, 5*time.Millisecond, "relay subscribed")

	// Advancing past the trial and recomputing fires StateChanged
	clock.mu.Lock()
	clock.now = clock.now.Add(20 * 24 * time.Hour)
	clock.mu.Unlock()
	app.LicenseManager.Recompute(context.Background())

	pushed := next()
	assert.Equal(t, "license:state", pushed.Type)
	assert.Contains(t, string(pushed.Data), `"status":"trial_expired"`)
}

func TestApplication_RunStopsOnCancel(t *testing.T) {
	clock := &testClock{now: time.Now()}
	app, err := NewApplication(testConfig(t, t.TempDir()), discardLogger(),
		WithLicenseService(new(MockLicenseService)), WithClock(clock.Now))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool { return app.LicenseManager.CurrentState().CanUseApp() },
		time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.NoError(t, app.Stop(context.Background()))
}

func TestApplication_CORSPreflight(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Security.EnableCORS = true
	cfg.Security.AllowedOrigins = []string{"http://panel.local"}
	app := newTestApp(t, cfg, new(MockLicenseService), &testClock{now: time.Now()})

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"http://panel.local", true},
		{"http://elsewhere.local", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/api/license/status", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			app.Router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusNoContent, rec.Code)
			if tt.allowed {
				assert.Equal(t, tt.origin, rec.Header().Get("Access-Control-Allow-Origin"))
			} else {
				assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}
