package app

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"entitle/internal/config"
	licenseErrors "entitle/internal/errors"
	"entitle/internal/infrastructure"
	"entitle/internal/license"
	"entitle/internal/licenseapi"
	customMiddleware "entitle/internal/middleware"
	"entitle/internal/services"
	handlers "entitle/internal/transport/http"
	ws "entitle/internal/websocket"
	"entitle/pkg/contracts"
)

const AppName = "entitled"

var (
	// BuildTime is set at compile time
	BuildTime = time.Now().Format(time.RFC3339)
	// BuildID is a unique identifier for this build
	BuildID = generateBuildID()
)

func generateBuildID() string {
	h := sha256.New()
	h.Write([]byte(contracts.Version))
	h.Write([]byte(time.Now().Format("2006-01-02")))
	return fmt.Sprintf("%x", h.Sum(nil))[:12]
}

// Application represents the main application container
type Application struct {
	Config         *config.Config
	Paths          *config.Paths
	Router         *chi.Mux
	Server         *http.Server
	LicenseManager *license.Manager
	WebSocketHub   *ws.Hub
	Services       *ServiceContainer
	OTelProviders  *infrastructure.OTelProviders
	Logger         *slog.Logger

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
	stopOnce sync.Once
}

// ServiceContainer holds all application services
type ServiceContainer struct {
	License license.Service
	Entitle services.LicenseService
	Health  *services.HealthService
}

// Option customizes NewApplication
type Option func(*options)

type options struct {
	service license.Service
	now     func() time.Time
}

// WithLicenseService replaces the HTTP license client
func WithLicenseService(s license.Service) Option {
	return func(o *options) { o.service = s }
}

// WithClock replaces time.Now for the trial countdown
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewApplication wires every component from cfg. Nothing runs until Start.
func NewApplication(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger.Info("Application starting",
		slog.String("name", AppName),
		slog.String("version", contracts.Version))

	paths, err := config.ResolvePaths(cfg.Paths)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}
	paths.LogPathResolution(logger)

	otelProviders, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	a := &Application{
		Config:        cfg,
		Paths:         paths,
		OTelProviders: otelProviders,
		Logger:        logger,
	}

	if err := a.initializeServices(o); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	if err := a.setupRouter(); err != nil {
		return nil, fmt.Errorf("failed to setup router: %w", err)
	}
	a.createServer()

	return a, nil
}

// initializeServices builds the license stack, the WebSocket hub and the
// service layer
func (a *Application) initializeServices(o options) error {
	if !config.FileExists(a.Paths.StateFile) {
		a.Logger.Info("No entitlement state found, this is a first launch",
			slog.String("path", a.Paths.StateFile))
	}

	store, err := license.OpenFileStore(a.Paths.StateFile, license.FileStoreOptions{
		Secret: a.Config.License.StoreSecret,
		Logger: a.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open entitlement store: %w", err)
	}

	service := o.service
	if service == nil {
		client, err := licenseapi.NewClient(licenseapi.Config{
			BaseURL:      a.Config.License.ServiceURL,
			ProductID:    a.Config.License.ProductID,
			InstanceName: a.Config.License.InstanceName,
			Timeout:      a.Config.License.RequestTimeout,
		}, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to create license client: %w", err)
		}
		service = client
	}

	licenseMetrics, err := license.InitializeLicenseMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to initialize license metrics: %w", err)
	}

	manager, err := license.NewManager(service, store, license.Options{
		TrialPeriodDays: a.Config.License.TrialPeriodDays,
		Now:             o.now,
		Logger:          a.Logger,
		Tracer:          a.OTelProviders.Tracer,
		Metrics:         licenseMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize license manager: %w", err)
	}
	a.LicenseManager = manager

	licenseService := services.NewLicenseService(manager, a.Logger)

	wsMetrics, err := ws.NewOTelMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to initialize WebSocket metrics: %w", err)
	}
	a.WebSocketHub = ws.NewHub(a.Logger,
		ws.WithSnapshot(licenseService.GetStatus),
		ws.WithMetrics(wsMetrics),
	)

	health := services.NewHealthService(
		contracts.Version,
		BuildTime,
		BuildID,
		a.Paths,
		manager,
		a.WebSocketHub,
		a.Logger,
	)

	a.Services = &ServiceContainer{
		License: service,
		Entitle: licenseService,
		Health:  health,
	}
	return nil
}

// setupRouter configures the HTTP routes
func (a *Application) setupRouter() error {
	r := chi.NewRouter()

	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)
	if a.Config.Security.EnableCORS {
		r.Use(customMiddleware.CORS(a.corsConfig()))
	}

	// The stream carries its own framing, so it skips request logging and the gate
	wsHandler := ws.NewHandler(a.WebSocketHub, ws.HandlerConfig{
		ReadBufferSize:  a.Config.WebSocket.ReadBufferSize,
		WriteBufferSize: a.Config.WebSocket.WriteBufferSize,
		AllowedOrigins:  a.Config.WebSocket.AllowedOrigins,
		Client: ws.ClientOptions{
			PongWait:   a.Config.WebSocket.PongWait,
			PingPeriod: a.Config.WebSocket.PingPeriod,
		},
	}, a.Logger)
	r.Handle("/ws", wsHandler)

	otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders)
	if err != nil {
		return err
	}
	gateMetrics, err := customMiddleware.NewGateMetrics(a.OTelProviders.Meter)
	if err != nil {
		return err
	}

	errorHandler := licenseErrors.NewErrorHandler(a.Logger, a.Config.Logging.Level == "debug")
	errorMiddleware := licenseErrors.NewErrorMiddleware(errorHandler, a.Logger)
	validator := customMiddleware.NewValidationMiddleware(a.Logger, errorHandler)

	gate := customMiddleware.NewEntitlementGate(a.LicenseManager, a.Logger)
	gate.SetMetrics(gateMetrics)

	r.Group(func(r chi.Router) {
		r.Use(otelMiddleware.Handler)
		r.Use(errorMiddleware.Handler)
		r.Use(customMiddleware.SecurityHeaders)
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(gate.Handler)

		healthHandler := handlers.NewHealthHandler(a.Services.Health, a.Logger)
		r.Mount("/api/health", healthHandler.Routes())
		r.Get("/api/version", healthHandler.Version)
		r.Handle("/metrics", handlers.NewMetricsHandler(a.OTelProviders.PrometheusHTTP))

		// Activation makes up to three service calls
		activateTimeout := 3 * a.Config.License.RequestTimeout
		licenseHandler := handlers.NewLicenseHandler(a.Services.Entitle, validator, errorHandler, activateTimeout, a.Logger)
		if rl := a.Config.Security.RateLimit; rl.Enabled {
			licenseHandler.SetActivateLimiter(customMiddleware.NewRateLimiter(rl.RPS, rl.Burst, a.Logger).Handler)
		}
		r.Mount("/api/license", licenseHandler.Routes())

		// Anything else is application surface and only reachable while entitled
		r.Get("/api/app/ping", func(w http.ResponseWriter, r *http.Request) {
			render.JSON(w, r, map[string]interface{}{
				"status":   "ok",
				"trace_id": middleware.GetReqID(r.Context()),
			})
		})
	})

	a.Router = r
	return nil
}

// corsConfig allows the local server origin plus any configured origins
func (a *Application) corsConfig() customMiddleware.CORSConfig {
	self := fmt.Sprintf("http://%s:%d", a.Config.Server.Host, a.Config.Server.Port)
	cfg := customMiddleware.CORSConfig{
		AllowedOrigins: append([]string{self}, a.Config.Security.AllowedOrigins...),
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept",
			"Content-Type",
			"X-Request-ID",
		},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
		Logger:         a.Logger,
	}
	a.Logger.Info("CORS enabled", slog.Any("allowed_origins", cfg.AllowedOrigins))
	return cfg
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf("%s:%d", a.Config.Server.Host, a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Launch performs the per-process startup of the entitlement and starts the
// background workers. It does not serve HTTP.
func (a *Application) Launch(ctx context.Context) error {
	state, err := a.LicenseManager.Launch(ctx)
	if err != nil {
		return fmt.Errorf("entitlement launch failed: %w", err)
	}

	if a.Config.License.RefreshOnLaunch {
		if _, err := a.LicenseManager.RefreshStoredLicense(ctx); err != nil {
			// The stored record stays in force; the user can retry from the license page
			a.Logger.WarnContext(ctx, "Stored license could not be re-validated",
				slog.String("error", err.Error()),
				slog.String("user_message", licenseErrors.UserMessage(err)))
		}
		state = a.LicenseManager.CurrentState()
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	a.bgCancel = cancel

	a.WebSocketHub.Start()

	a.bgWG.Add(2)
	go func() {
		defer a.bgWG.Done()
		a.LicenseManager.Watch(bgCtx, a.Config.License.RecomputeEvery)
	}()
	go func() {
		defer a.bgWG.Done()
		ws.RunStateRelay(bgCtx, a.WebSocketHub, a.LicenseManager.Broadcaster(), a.Services.Entitle, a.Logger)
	}()

	a.Logger.InfoContext(ctx, "Entitlement ready",
		slog.String("state", state.String()),
		slog.Bool("can_use_app", state.CanUseApp()))
	return nil
}

// Start launches the entitlement and serves HTTP in the background. Serve
// errors are delivered on the returned channel.
func (a *Application) Start(ctx context.Context) (<-chan error, error) {
	if err := a.Launch(ctx); err != nil {
		return nil, err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	a.Logger.InfoContext(ctx, "Application started successfully",
		slog.String("address", "http://"+a.Server.Addr))
	return errCh, nil
}

// Stop gracefully stops the application
func (a *Application) Stop(ctx context.Context) error {
	var stopErr error
	a.stopOnce.Do(func() {
		a.Logger.InfoContext(ctx, "Shutting down application")

		shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}

		if a.bgCancel != nil {
			a.bgCancel()
		}
		a.bgWG.Wait()
		a.WebSocketHub.Stop()

		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}

		stopErr = errors.Join(errs...)
		a.Logger.InfoContext(ctx, "Application shutdown complete")
	})
	return stopErr
}

// Run serves until ctx is cancelled or the server fails, then shuts down
func (a *Application) Run(ctx context.Context) error {
	errCh, err := a.Start(ctx)
	if err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		a.Logger.Info("Received shutdown signal")
	case err, ok := <-errCh:
		if ok {
			serveErr = fmt.Errorf("server error: %w", err)
			a.Logger.Error("Server error", slog.String("error", err.Error()))
		}
	}

	stopErr := a.Stop(context.Background())
	return errors.Join(serveErr, stopErr)
}
