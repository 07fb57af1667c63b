package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/tuner/internal/config"
	"github.com/MrWong99/tuner/internal/estimate"
	"github.com/MrWong99/tuner/internal/observe"
	"github.com/MrWong99/tuner/internal/session"
)

var (
	// ErrSessionActive is returned by [SessionManager.Start] while a recording
	// is in progress.
	ErrSessionActive = errors.New("app: a session is already active")

	// ErrNoSession is returned when no recording is in progress.
	ErrNoSession = errors.New("app: no active session")
)

// PublisherFactory returns the publisher bound to one session.
type PublisherFactory func(sessionID string) session.Publisher

// SessionInfo holds metadata about the current or most recent session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string `json:"session_id"`

	// State is "idle", "recording", or "stopped".
	State string `json:"state"`

	// Capture is the name of the capture device.
	Capture string `json:"capture"`

	// StartedAt is when the capture device was opened.
	StartedAt time.Time `json:"started_at"`

	// Buffered is the number of valid readings waiting for the next estimate.
	Buffered int `json:"buffered"`

	// MinSimilarTakes is the batch size of this session.
	MinSimilarTakes int `json:"min_similar_takes"`

	// Error describes why capture failed, if it did.
	Error string `json:"error,omitempty"`
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	// Registry builds capture devices and detectors by name.
	Registry *config.Registry

	// Config is the initial configuration. [SessionManager.SetConfig]
	// replaces it for subsequent sessions.
	Config *config.Config

	// Publisher binds result delivery to a new session.
	Publisher PublisherFactory

	// OnEnd, if set, is called with the session ID once a session's capture
	// loop has exited.
	OnEnd func(sessionID string)

	// Metrics is passed to every session. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// SessionManager manages the lifecycle of recording sessions.
// Only one session can be active at a time (enforced by mutex). A finished
// session stays available through [SessionManager.Info] until the next one
// starts. All exported methods are safe for concurrent use.
type SessionManager struct {
	mu      sync.Mutex
	cfg     *config.Config
	current *session.Session
	capture string
	takes   int

	registry  *config.Registry
	publisher PublisherFactory
	onEnd     func(sessionID string)
	metrics   *observe.Metrics
	log       *slog.Logger
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SessionManager{
		cfg:       cfg.Config,
		registry:  cfg.Registry,
		publisher: cfg.Publisher,
		onEnd:     cfg.OnEnd,
		metrics:   cfg.Metrics,
		log:       cfg.Logger,
	}
}

// SetConfig replaces the configuration used for the next session. The
// running session keeps its settings.
func (sm *SessionManager) SetConfig(cfg *config.Config) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.cfg = cfg
}

// Start builds a session from the current configuration and starts
// recording. ctx governs the lifetime of the session, so it should be the
// application context rather than a request context.
//
// Returns [ErrSessionActive] if a session is still running, and an error
// wrapping [audio.ErrDeviceUnavailable] if the capture device cannot be
// opened.
func (sm *SessionManager) Start(ctx context.Context) (SessionInfo, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if live(sm.current) {
		return SessionInfo{}, fmt.Errorf("%w (id=%s)", ErrSessionActive, sm.current.ID())
	}

	cfg := sm.cfg
	device, err := sm.registry.CreateCapture(cfg.Capture.Entry())
	if err != nil {
		return SessionInfo{}, fmt.Errorf("app: create capture device: %w", err)
	}
	detector, err := sm.registry.CreateDetector(cfg.PitchConfig(), cfg.Detector.Entry())
	if err != nil {
		return SessionInfo{}, fmt.Errorf("app: create pitch detector: %w", err)
	}
	est, err := estimate.New(cfg.EstimateConfig())
	if err != nil {
		return SessionInfo{}, fmt.Errorf("app: create estimator: %w", err)
	}

	id := uuid.NewString()
	s, err := session.New(session.Config{
		ID:              id,
		Device:          device,
		Stream:          cfg.Capture.Stream(),
		Detector:        detector,
		Publisher:       sm.publisher(id),
		Estimator:       est,
		MinSimilarTakes: cfg.Estimator.MinSimilarTakes,
		Metrics:         sm.metrics,
		Logger:          sm.log,
	})
	if err != nil {
		return SessionInfo{}, fmt.Errorf("app: %w", err)
	}

	// The failed session is kept so readiness and Info report the error.
	sm.current = s
	sm.capture = cfg.Capture.Name
	sm.takes = cfg.Estimator.MinSimilarTakes
	if sm.onEnd != nil {
		go func() {
			<-s.Done()
			sm.onEnd(id)
		}()
	}
	if err := s.Start(ctx); err != nil {
		return sm.infoLocked(), err
	}
	return sm.infoLocked(), nil
}

// Stop stops the active session and waits up to session.stop_timeout for its
// capture loop to exit. A session whose loop outlived an earlier Stop is
// waited on again. Returns [ErrNoSession] if nothing is recording.
func (sm *SessionManager) Stop(ctx context.Context) (SessionInfo, error) {
	sm.mu.Lock()
	s := sm.current
	timeout := sm.cfg.Session.StopTimeout
	sm.mu.Unlock()

	if !live(s) {
		return SessionInfo{}, ErrNoSession
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := s.Stop(ctx)

	sm.mu.Lock()
	defer sm.mu.Unlock()
	info := sm.infoLocked()
	if err != nil {
		return info, fmt.Errorf("app: stop session %s: %w", s.ID(), err)
	}
	return info, nil
}

// Shutdown stops the active session, if any.
func (sm *SessionManager) Shutdown(ctx context.Context) error {
	if _, err := sm.Stop(ctx); err != nil && !errors.Is(err, ErrNoSession) {
		return err
	}
	return nil
}

// IsActive reports whether a session still holds the capture device. A
// cancelled session counts until its capture loop has exited.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return live(sm.current)
}

// live reports whether s has not yet released its capture device.
func live(s *session.Session) bool {
	if s == nil {
		return false
	}
	select {
	case <-s.Done():
		return false
	default:
		return true
	}
}

// Info returns metadata about the current or most recent session. The second
// result is false if no session was ever started.
func (sm *SessionManager) Info() (SessionInfo, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.current == nil {
		return SessionInfo{}, false
	}
	return sm.infoLocked(), true
}

// CheckCapture fails if the most recent session ended because capture
// failed. It is used as a readiness check.
func (sm *SessionManager) CheckCapture(context.Context) error {
	sm.mu.Lock()
	s := sm.current
	sm.mu.Unlock()
	if s == nil || s.State() != session.StateStopped {
		return nil
	}
	select {
	case <-s.Done():
		return s.Err()
	default:
		return nil
	}
}

func (sm *SessionManager) infoLocked() SessionInfo {
	s := sm.current
	info := SessionInfo{
		SessionID:       s.ID(),
		State:           s.State().String(),
		Capture:         sm.capture,
		StartedAt:       s.StartedAt(),
		Buffered:        s.BufferSize(),
		MinSimilarTakes: sm.takes,
	}
	select {
	case <-s.Done():
		if err := s.Err(); err != nil {
			info.Error = err.Error()
		}
	default:
	}
	return info
}
