// Package app wires the tuner subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the publisher chain, the
// session manager, and the HTTP surface; Run serves HTTP until the context
// ends; Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithListener,
// WithSink, WithMetrics). Capture devices and detectors come from the
// [config.Registry], so tests register mock factories there.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/tuner/internal/config"
	"github.com/MrWong99/tuner/internal/health"
	"github.com/MrWong99/tuner/internal/observe"
	"github.com/MrWong99/tuner/internal/publish"
	"github.com/MrWong99/tuner/pkg/audio"
)

// shutdownTimeout bounds the teardown that Run performs when its context ends.
const shutdownTimeout = 15 * time.Second

// App owns all subsystem lifetimes of the tuner server.
type App struct {
	registry *config.Registry
	metrics  *observe.Metrics
	log      *slog.Logger

	mu      sync.Mutex
	cfg     *config.Config
	baseCtx context.Context

	hub      *publish.Hub
	pub      *publish.Async
	sinks    []publish.Sink
	sessions *SessionManager
	health   *health.Handler

	metricsHandler http.Handler
	listener       net.Listener
	server         *http.Server

	stopOnce    sync.Once
	shutdownErr error
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics sets the metrics instruments. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithListener serves HTTP on ln instead of listening on server.listen_addr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// WithSink adds a sink that receives every published event in addition to
// the WebSocket hub.
func WithSink(s publish.Sink) Option {
	return func(a *App) { a.sinks = append(a.sinks, s) }
}

// WithMetricsHandler replaces the /metrics handler. Defaults to
// [promhttp.Handler], which serves the Prometheus exporter's registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. Capture devices and detectors named in cfg are
// looked up in reg when a session starts.
func New(cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if reg == nil {
		return nil, errors.New("app: registry is required")
	}
	a := &App{
		cfg:      cfg,
		registry: reg,
		baseCtx:  context.Background(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}

	// ── 1. Publisher chain ───────────────────────────────────────────────
	a.hub = publish.NewHub(
		publish.WithClientBuffer(cfg.Publisher.ClientBuffer),
		publish.WithOriginPatterns(cfg.Server.AllowedOrigins...),
		publish.WithHubMetrics(a.metrics),
		publish.WithHubLogger(a.log),
	)
	sinks := publish.Multi{a.hub}
	if cfg.Publisher.LogEvents {
		sinks = append(sinks, publish.LogSink{Logger: a.log})
	}
	sinks = append(sinks, a.sinks...)
	a.pub = publish.NewAsync(sinks,
		publish.WithQueueSize(cfg.Publisher.QueueSize),
		publish.WithReferenceA4(cfg.Tuning.ReferenceA4),
		publish.WithMetrics(a.metrics),
		publish.WithLogger(a.log),
	)

	// ── 2. Sessions ──────────────────────────────────────────────────────
	a.sessions = NewSessionManager(SessionManagerConfig{
		Registry:  reg,
		Config:    cfg,
		Publisher: a.pub.For,
		OnEnd:     a.pub.Ended,
		Metrics:   a.metrics,
		Logger:    a.log,
	})

	// ── 3. Health ────────────────────────────────────────────────────────
	a.health = health.New([]health.Checker{
		{Name: "capture", Check: a.sessions.CheckCapture},
		{Name: "config", Check: a.checkConfig},
	})

	// ── 4. HTTP ──────────────────────────────────────────────────────────
	a.server = &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// Handler returns the HTTP handler serving the control API, the WebSocket
// event stream, health probes, and metrics.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/session", a.handleStartSession)
	mux.HandleFunc("DELETE /api/session", a.handleStopSession)
	mux.HandleFunc("GET /api/session", a.handleGetSession)
	mux.HandleFunc("GET /api/status", a.handleStatus)
	mux.Handle("GET /ws", a.hub)
	mux.Handle("GET /metrics", a.metricsHandler)
	a.health.Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager {
	return a.sessions
}

// Publisher returns the asynchronous publisher feeding all sinks.
func (a *App) Publisher() *publish.Async {
	return a.pub
}

// ApplyConfig applies a reloaded configuration. The reference pitch changes
// immediately; capture, detector, and estimator settings apply to the next
// session.
func (a *App) ApplyConfig(cfg *config.Config) {
	a.mu.Lock()
	old := a.cfg
	a.cfg = cfg
	a.mu.Unlock()

	d := config.Diff(old, cfg)
	if d.ReferenceA4Changed {
		a.pub.SetReferenceA4(d.NewReferenceA4)
		a.log.Info("app: reference pitch changed", "reference_a4", d.NewReferenceA4)
	}
	if d.SessionChanged {
		a.sessions.SetConfig(cfg)
		if a.sessions.IsActive() {
			a.log.Info("app: session settings changed, applying to the next session")
		}
	}
}

// ─── Run / Shutdown ──────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled or the server fails, then shuts the
// application down. Sessions started while Run is active live until ctx ends
// or they are stopped. If session.auto_start is set, a session is started
// immediately; a failure to do so is logged but does not stop the server.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.config().Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen: %w", err)
		}
	}

	a.mu.Lock()
	a.baseCtx = ctx
	a.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return a.Shutdown(sctx)
	})

	a.log.Info("app running", "addr", ln.Addr().String())

	if a.config().Session.AutoStart {
		if info, err := a.sessions.Start(ctx); err != nil {
			a.log.Error("app: auto-start session failed", "err", err)
		} else {
			a.log.Info("app: session auto-started", "session_id", info.SessionID)
		}
	}

	return g.Wait()
}

// Shutdown tears down all subsystems: readiness starts failing, the active
// session is stopped, queued events are flushed, WebSocket clients are
// disconnected, and the HTTP server is shut down. It is safe to call more
// than once; later calls return the first result.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.log.Info("app shutting down")
		a.health.SetDraining()

		var errs []error
		if err := a.sessions.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		a.pub.Close()
		a.hub.Close()
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: shutdown http: %w", err))
		}
		a.shutdownErr = errors.Join(errs...)
	})
	return a.shutdownErr
}

// ─── HTTP handlers ───────────────────────────────────────────────────────────

// errorBody is the JSON body of failed API requests.
type errorBody struct {
	Error string `json:"error"`
}

// statusBody is the JSON body of GET /api/status.
type statusBody struct {
	Active      bool         `json:"active"`
	Session     *SessionInfo `json:"session,omitempty"`
	ReferenceA4 float64      `json:"reference_a4"`
	Clients     int          `json:"clients"`
	Dropped     int64        `json:"dropped_events"`
}

func (a *App) handleStartSession(w http.ResponseWriter, r *http.Request) {
	info, err := a.sessions.Start(a.sessionContext())
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, info)
	case errors.Is(err, ErrSessionActive):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, audio.ErrDeviceUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
	default:
		observe.WithTrace(r.Context(), a.log).Error("app: start session failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

func (a *App) handleStopSession(w http.ResponseWriter, r *http.Request) {
	info, err := a.sessions.Stop(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, info)
	case errors.Is(err, ErrNoSession):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	default:
		observe.WithTrace(r.Context(), a.log).Error("app: stop session failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

func (a *App) handleGetSession(w http.ResponseWriter, _ *http.Request) {
	info, ok := a.sessions.Info()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: ErrNoSession.Error()})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	body := statusBody{
		Active:      a.sessions.IsActive(),
		ReferenceA4: a.pub.ReferenceA4(),
		Clients:     a.hub.Clients(),
		Dropped:     a.pub.Dropped(),
	}
	if info, ok := a.sessions.Info(); ok {
		body.Session = &info
	}
	writeJSON(w, http.StatusOK, body)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func (a *App) config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// sessionContext returns the context that bounds sessions started over HTTP.
// Request contexts end with the response, so sessions use the Run context.
func (a *App) sessionContext() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.baseCtx
}

// checkConfig fails if the configured providers are not registered.
func (a *App) checkConfig(context.Context) error {
	cfg := a.config()
	var errs []error
	if !slices.Contains(a.registry.Names("capture"), cfg.Capture.Name) {
		errs = append(errs, fmt.Errorf("capture %q is not registered", cfg.Capture.Name))
	}
	if !slices.Contains(a.registry.Names("detector"), cfg.Detector.Name) {
		errs = append(errs, fmt.Errorf("detector %q is not registered", cfg.Detector.Name))
	}
	return errors.Join(errs...)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("app: encode response", "err", err)
	}
}
