package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
)

// LicenseKey configures one key known to the LicenseServer
type LicenseKey struct {
	Key                string
	RequiresActivation bool
	// ActivationsLimit of 0 means unlimited
	ActivationsLimit int
	Revoked          bool
}

type keyState struct {
	LicenseKey
	activations map[string]bool
}

// LicenseServer is an in-process license service speaking the same JSON
// protocol as the real one. It is safe for concurrent use.
type LicenseServer struct {
	*httptest.Server

	mu          sync.Mutex
	keys        map[string]*keyState
	unavailable bool
	calls       map[string]int
}

// NewLicenseServer starts a server that knows keys. It is closed when the
// test ends.
func NewLicenseServer(t testing.TB, keys ...LicenseKey) *LicenseServer {
	t.Helper()

	s := &LicenseServer{
		keys:  make(map[string]*keyState),
		calls: make(map[string]int),
	}
	for _, k := range keys {
		s.AddKey(k)
	}

	r := chi.NewRouter()
	r.Use(s.count)
	r.Post("/v1/licenses/check", s.check)
	r.Post("/v1/licenses/validate", s.validate)
	r.Post("/v1/licenses/activate", s.activate)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// AddKey registers or replaces a key
func (s *LicenseServer) AddKey(k LicenseKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[k.Key] = &keyState{LicenseKey: k, activations: make(map[string]bool)}
}

// SetUnavailable makes every endpoint answer 503
func (s *LicenseServer) SetUnavailable(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = down
}

// Deactivate releases an activation slot
func (s *LicenseServer) Deactivate(activationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		delete(k.activations, activationID)
	}
}

// ActivationCount returns the used slots of key
func (s *LicenseServer) ActivationCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[key]; ok {
		return len(k.activations)
	}
	return 0
}

// Calls returns how often path was requested
func (s *LicenseServer) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

func (s *LicenseServer) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.URL.Path]++
		down := s.unavailable
		s.mu.Unlock()

		if down {
			writeServiceError(w, r, http.StatusServiceUnavailable, "unavailable", "license service is down", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type licenseRequest struct {
	LicenseKey   string `json:"license_key"`
	ActivationID string `json:"activation_id"`
	ProductID    string `json:"product_id"`
	InstanceName string `json:"instance_name"`
}

func (s *LicenseServer) decode(w http.ResponseWriter, r *http.Request) (licenseRequest, bool) {
	var req licenseRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeServiceError(w, r, http.StatusBadRequest, "bad_request", err.Error(), "")
		return req, false
	}
	return req, true
}

func (s *LicenseServer) check(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	k, known := s.keys[req.LicenseKey]
	s.mu.Unlock()

	if !known || k.Revoked {
		render.JSON(w, r, map[string]any{"valid": false, "requires_activation": false})
		return
	}

	resp := map[string]any{
		"valid":               true,
		"requires_activation": k.RequiresActivation,
	}
	if k.ActivationsLimit > 0 {
		resp["activations_limit"] = k.ActivationsLimit
	}
	render.JSON(w, r, resp)
}

func (s *LicenseServer) validate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	k, known := s.keys[req.LicenseKey]
	valid := known && !k.Revoked && k.activations[req.ActivationID]
	s.mu.Unlock()

	render.JSON(w, r, map[string]any{"valid": valid})
}

func (s *LicenseServer) activate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k, known := s.keys[req.LicenseKey]
	switch {
	case !known || k.Revoked:
		writeServiceError(w, r, http.StatusNotFound, "license_not_found", "license key not found", "")
		return
	case !k.RequiresActivation:
		writeServiceError(w, r, http.StatusConflict, "activation_not_required", "license does not need activation", "")
		return
	case k.ActivationsLimit > 0 && len(k.activations) >= k.ActivationsLimit:
		writeServiceError(w, r, http.StatusConflict, "activation_limit_reached", "activation limit reached",
			fmt.Sprintf("%d of %d activations in use", len(k.activations), k.ActivationsLimit))
		return
	}

	id := uuid.NewString()
	k.activations[id] = true
	render.JSON(w, r, map[string]any{
		"activation_id":     id,
		"activations_limit": k.ActivationsLimit,
	})
}

func writeServiceError(w http.ResponseWriter, r *http.Request, status int, code, message, details string) {
	render.Status(r, status)
	body := map[string]string{"code": code, "message": message}
	if details != "" {
		body["details"] = details
	}
	render.JSON(w, r, body)
}
