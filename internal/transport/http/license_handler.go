package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	licenseErrors "entitle/internal/errors"
	"entitle/internal/middleware"
	"entitle/internal/services"
	api "entitle/pkg/contracts/api/v1"
)

const (
	defaultActivateTimeout = 30 * time.Second
	statusTimeout          = 5 * time.Second
)

// LicenseHandler handles license-related HTTP requests
type LicenseHandler struct {
	service         services.LicenseService
	validator       *middleware.ValidationMiddleware
	errors          *licenseErrors.ErrorHandler
	logger          *slog.Logger
	tracer          trace.Tracer
	activateTimeout time.Duration
	activateLimit   func(http.Handler) http.Handler
}

// NewLicenseHandler creates a new license handler. activateTimeout bounds the
// remote activation chain; zero selects the default.
func NewLicenseHandler(service services.LicenseService, validator *middleware.ValidationMiddleware, errorHandler *licenseErrors.ErrorHandler, activateTimeout time.Duration, logger *slog.Logger) *LicenseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if errorHandler == nil {
		errorHandler = licenseErrors.NewErrorHandler(logger, false)
	}
	if validator == nil {
		validator = middleware.NewValidationMiddleware(logger, errorHandler)
	}
	if activateTimeout <= 0 {
		activateTimeout = defaultActivateTimeout
	}
	return &LicenseHandler{
		service:         service,
		validator:       validator,
		errors:          errorHandler,
		logger:          logger.With(slog.String("handler", "license")),
		tracer:          otel.Tracer("entitle/transport/license"),
		activateTimeout: activateTimeout,
	}
}

// SetActivateLimiter throttles POST /activate with mw
func (h *LicenseHandler) SetActivateLimiter(mw func(http.Handler) http.Handler) {
	h.activateLimit = mw
}

// Routes returns a chi router for license endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/status", h.GetStatus)
	r.Get("/metrics", h.GetMetrics)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuditLog(h.logger))
		r.Use(middleware.ContentTypeValidator("application/json"))
		r.Use(h.validator.ValidateRequest)

		if h.activateLimit != nil {
			r.With(h.activateLimit).Post("/activate", h.Activate)
		} else {
			r.Post("/activate", h.Activate)
		}
		r.Post("/refresh", h.Refresh)
		r.Post("/trial", h.StartTrial)
		r.Delete("/", h.Remove)
	})

	return r
}

func (h *LicenseHandler) startSpan(r *http.Request, op string) (context.Context, trace.Span) {
	return h.tracer.Start(r.Context(), "license_handler."+op,
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("request_id", chimw.GetReqID(r.Context())),
			attribute.String("operation", op),
		),
	)
}

// GetStatus handles GET /api/license/status
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "get_status")
	defer span.End()

	statusCtx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	status, err := h.service.GetStatus(statusCtx)
	if err != nil {
		h.fail(w, r.WithContext(ctx), span, err)
		return
	}

	span.SetAttributes(
		attribute.String("license.status", string(status.Status)),
		attribute.Bool("license.can_use_app", status.CanUseApp),
	)
	render.JSON(w, r, status)
}

// Activate handles POST /api/license/activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "activate")
	defer span.End()
	r = r.WithContext(ctx)

	var req api.LicenseActivateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		span.SetAttributes(attribute.String("error.type", "request_decode"))
		h.fail(w, r, span, licenseErrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		span.SetAttributes(attribute.String("error.type", "request_validation"))
		h.fail(w, r, span, err)
		return
	}

	activateCtx, cancel := context.WithTimeout(ctx, h.activateTimeout)
	defer cancel()

	result, err := h.service.Activate(activateCtx, req.LicenseKey)
	if err != nil {
		span.SetAttributes(attribute.String("license.result", "failure"))
		h.fail(w, r, span, err)
		return
	}

	span.SetAttributes(
		attribute.String("license.result", "success"),
		attribute.String("license.method", result.Method),
	)
	render.JSON(w, r, result)
}

// Refresh handles POST /api/license/refresh
func (h *LicenseHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "refresh")
	defer span.End()

	refreshCtx, cancel := context.WithTimeout(ctx, h.activateTimeout)
	defer cancel()

	status, err := h.service.Refresh(refreshCtx)
	if err != nil {
		h.fail(w, r.WithContext(ctx), span, err)
		return
	}
	render.JSON(w, r, status)
}

// StartTrial handles POST /api/license/trial
func (h *LicenseHandler) StartTrial(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "start_trial")
	defer span.End()

	status, err := h.service.StartTrial(ctx)
	if err != nil {
		h.fail(w, r.WithContext(ctx), span, err)
		return
	}
	render.JSON(w, r, status)
}

// Remove handles DELETE /api/license
func (h *LicenseHandler) Remove(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "remove")
	defer span.End()

	status, err := h.service.Remove(ctx)
	if err != nil {
		h.fail(w, r.WithContext(ctx), span, err)
		return
	}
	render.JSON(w, r, status)
}

// GetMetrics handles GET /api/license/metrics
func (h *LicenseHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.service.GetValidationMetrics(r.Context())
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, metrics)
}

func (h *LicenseHandler) fail(w http.ResponseWriter, r *http.Request, span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	h.errors.HandleError(w, r, err)
}
