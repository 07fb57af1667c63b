// Package session implements a streaming pitch-aggregation session.
//
// A [Session] opens a capture device, runs the pitch detector on every frame,
// accumulates valid readings in an [estimate.Buffer] and, each time the buffer
// reaches its threshold, publishes one robust estimate through a [Publisher].
//
// Lifecycle:
//
//	Idle --first frame--> Recording --Cancel/Stop--> Stopped
//	Idle --Cancel/Stop--> Stopped
//
// Stopped is terminal. Restarting requires a new Session.
//
// Frame callbacks run on the capture goroutine. Cancellation is cooperative:
// [Session.Cancel] sets a flag observed by the next callback, waits for any
// in-flight publication to finish, and stops the capture stream. Once Cancel
// returns, the buffer is no longer mutated and nothing more is published.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/tuner/internal/estimate"
	"github.com/MrWong99/tuner/internal/observe"
	"github.com/MrWong99/tuner/pkg/audio"
	"github.com/MrWong99/tuner/pkg/pitch"
)

// ErrAlreadyStarted is returned by [Session.Start] on a session that was
// already started or has been stopped.
var ErrAlreadyStarted = errors.New("session: already started")

// Publisher receives the results of a session.
//
// Implementations are called synchronously from the capture goroutine while
// the session's publish barrier is held. They must return quickly and must not
// call [Session.Cancel] or [Session.Stop] on the publishing session; hand
// long-running work to another goroutine (see internal/publish.Async).
type Publisher interface {
	// OnStarted signals that recording has begun and no estimate exists yet.
	// Called once per session, before any OnStableFrequency.
	OnStarted()

	// OnStableFrequency delivers one robust estimate in Hz.
	OnStableFrequency(hz float32)
}

// State is the lifecycle state of a [Session].
type State int32

const (
	// StateIdle is the state of a new session before its first frame.
	StateIdle State = iota

	// StateRecording means frames are being processed.
	StateRecording

	// StateStopped is terminal.
	StateStopped
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config holds the dependencies and parameters of a [Session].
type Config struct {
	// ID identifies the session in logs and events. A random UUID is used
	// when empty.
	ID string

	// Device is the capture source. Required.
	Device audio.Device

	// Stream describes the frames requested from Device. Zero value selects
	// [audio.DefaultStreamConfig].
	Stream audio.StreamConfig

	// Detector produces one reading per frame. Required.
	Detector pitch.Detector

	// Publisher receives results. Required.
	Publisher Publisher

	// Estimator aggregates drained batches. Defaults to an estimator with
	// [estimate.DefaultConfig].
	Estimator *estimate.Estimator

	// MinSimilarTakes is the number of valid readings per estimate.
	// Default: [estimate.DefaultMinSimilarTakes].
	MinSimilarTakes int

	// Metrics records session telemetry. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Logger is the base logger. Defaults to [slog.Default].
	Logger *slog.Logger
}

// Session is a single recording. All exported methods are safe for
// concurrent use.
type Session struct {
	id        string
	device    audio.Device
	streamCfg audio.StreamConfig
	detector  pitch.Detector
	publisher Publisher
	est       *estimate.Estimator
	buf       *estimate.Buffer
	metrics   *observe.Metrics
	log       *slog.Logger

	state     atomic.Int32
	cancelled atomic.Bool

	// pubMu is the publish barrier. It is held while a frame mutates the
	// buffer or publishes, and acquired by Cancel to wait for that to finish.
	pubMu sync.Mutex

	mu        sync.Mutex
	ctx       context.Context
	started   bool
	startedAt time.Time
	stream    audio.Stream
	err       error

	stopOnce sync.Once
	doneOnce sync.Once
	done     chan struct{}
}

// New validates cfg and returns an idle Session.
func New(cfg Config) (*Session, error) {
	var errs []error
	if cfg.Device == nil {
		errs = append(errs, errors.New("device is required"))
	}
	if cfg.Detector == nil {
		errs = append(errs, errors.New("detector is required"))
	}
	if cfg.Publisher == nil {
		errs = append(errs, errors.New("publisher is required"))
	}
	if cfg.Stream == (audio.StreamConfig{}) {
		cfg.Stream = audio.DefaultStreamConfig()
	}
	if err := cfg.Stream.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("session: invalid config: %w", err)
	}

	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Estimator == nil {
		est, err := estimate.New(estimate.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
		cfg.Estimator = est
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Session{
		id:        cfg.ID,
		device:    cfg.Device,
		streamCfg: cfg.Stream,
		detector:  cfg.Detector,
		publisher: cfg.Publisher,
		est:       cfg.Estimator,
		buf:       estimate.NewBuffer(cfg.MinSimilarTakes),
		metrics:   cfg.Metrics,
		log:       cfg.Logger.With("session_id", cfg.ID),
		ctx:       context.Background(),
		done:      make(chan struct{}),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// BufferSize returns the number of readings awaiting aggregation.
func (s *Session) BufferSize() int { return s.buf.Size() }

// StartedAt returns when Start succeeded, or the zero time.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Done returns a channel that is closed when the capture loop has exited, or
// when the session ended without ever capturing.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that ended the capture loop, or nil for a cooperative
// shutdown or exhausted input. It is only meaningful after Done is closed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Start opens the capture device and launches the capture loop in a new
// goroutine. It returns once the loop is running; the session stays Idle until
// the first frame arrives.
//
// ctx governs the device open and the lifetime of the session: cancelling it
// cancels the session. Open failures are returned unchanged in the chain, so
// errors.Is(err, audio.ErrDeviceUnavailable) reports a missing device. No
// retry is attempted.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.State() != StateIdle {
		return ErrAlreadyStarted
	}
	s.started = true

	stream, err := s.device.Open(ctx, s.streamCfg)
	if err != nil {
		s.state.Store(int32(StateStopped))
		s.err = err
		s.closeDone()
		s.log.Warn("session: open capture device failed", "err", err)
		return fmt.Errorf("session: open capture device: %w", err)
	}

	s.ctx = context.WithoutCancel(ctx)
	s.stream = stream
	s.startedAt = time.Now().UTC()
	s.metrics.ActiveSessions.Add(s.ctx, 1)

	go s.run(stream)
	go func() {
		select {
		case <-ctx.Done():
			s.Cancel()
		case <-s.done:
		}
	}()

	s.log.Info("session started",
		"sample_rate", s.streamCfg.SampleRate,
		"buffer_size", s.streamCfg.BufferSize,
		"overlap_size", s.streamCfg.OverlapSize,
		"min_similar_takes", s.buf.Threshold(),
	)

	if s.cancelled.Load() {
		s.stopStreamLocked()
	}
	return nil
}

// Cancel requests cooperative shutdown. It waits for an in-flight publication
// to finish and stops the capture stream if it is still running. Cancel is
// idempotent and does not wait for the capture loop to exit; use Stop for
// that.
func (s *Session) Cancel() {
	s.cancelled.Store(true)

	// Barrier: wait for the frame currently mutating the buffer or publishing.
	s.pubMu.Lock()
	s.pubMu.Unlock()

	if prev := State(s.state.Swap(int32(StateStopped))); prev != StateStopped {
		s.log.Info("session cancelled", "state", prev.String(), "buffered", s.buf.Size())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		s.closeDone()
		return
	}
	s.stopStreamLocked()
}

// Stop cancels the session and waits for the capture loop to exit or ctx to
// expire. Calling Stop on a stopped session returns nil.
func (s *Session) Stop(ctx context.Context) error {
	s.Cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session: wait for capture loop: %w", ctx.Err())
	}
}

func (s *Session) run(stream audio.Stream) {
	err := stream.Run(s.handleFrame)

	s.state.Store(int32(StateStopped))
	s.metrics.ActiveSessions.Add(s.ctx, -1)

	s.mu.Lock()
	if err != nil {
		s.err = fmt.Errorf("session: capture: %w", err)
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error("session: capture loop failed", "err", err)
	} else {
		s.log.Info("session ended", "cancelled", s.cancelled.Load())
	}
	s.closeDone()
}

// handleFrame is the per-frame callback invoked by the capture stream.
func (s *Session) handleFrame(frame audio.Frame) {
	if s.cancelled.Load() {
		s.stopStream()
		return
	}

	if s.state.CompareAndSwap(int32(StateIdle), int32(StateRecording)) {
		s.pubMu.Lock()
		if !s.cancelled.Load() {
			s.publisher.OnStarted()
		}
		s.pubMu.Unlock()
	}

	sample := s.detector.Detect(frame.Samples)
	if !sample.Valid() {
		s.metrics.RecordFrame(s.ctx, observe.FrameNoPitch)
		return
	}
	s.metrics.RecordFrame(s.ctx, observe.FramePitched)

	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	if s.cancelled.Load() {
		return
	}

	batch, drained := s.buf.AppendDrain(sample)
	s.metrics.SamplesAppended.Add(s.ctx, 1)
	if !drained {
		return
	}
	s.publishEstimate(batch, sample)
}

// publishEstimate aggregates batch and publishes the result. Must be called
// with pubMu held.
func (s *Session) publishEstimate(batch []float32, last pitch.Sample) {
	_, span := observe.StartSpan(s.ctx, "session.estimate",
		trace.WithAttributes(
			attribute.String("session.id", s.id),
			attribute.Int("batch.size", len(batch)),
		),
	)
	defer span.End()

	start := time.Now()
	res, err := s.est.Estimate(batch)
	s.metrics.EstimationDuration.Record(s.ctx, time.Since(start).Seconds())

	if err != nil {
		observe.FailSpan(span, err)
		if errors.Is(err, estimate.ErrEmptyFilteredBatch) {
			s.metrics.EmptyBatches.Add(s.ctx, 1)
			s.metrics.ReadingsRejected.Add(s.ctx, int64(res.Rejected))
		}
		s.log.Warn("session: batch discarded",
			"batch_size", len(batch),
			"first_pass", res.FirstPass,
			"err", err,
		)
		return
	}

	if res.Fallback {
		s.log.Warn("session: every reading rejected, publishing first-pass median",
			"batch_size", len(batch),
			"frequency", res.Frequency,
		)
	}

	span.SetAttributes(
		attribute.Float64("frequency", float64(res.Frequency)),
		attribute.Int("rejected", res.Rejected),
		attribute.Bool("fallback", res.Fallback),
	)
	s.metrics.RecordEstimate(s.ctx, res.Frequency, res.Rejected, res.Fallback)
	s.log.Debug("stable frequency",
		"batch_size", len(batch),
		"reading", float32(last),
		"frequency", res.Frequency,
		"first_pass", res.FirstPass,
		"rejected", res.Rejected,
	)
	s.publisher.OnStableFrequency(res.Frequency)
}

func (s *Session) stopStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopStreamLocked()
}

// stopStreamLocked stops the capture stream at most once, and only if it has
// not already stopped on its own. Must be called with mu held.
func (s *Session) stopStreamLocked() {
	if s.stream == nil {
		return
	}
	st := s.stream
	s.stopOnce.Do(func() {
		if st.IsStopped() {
			return
		}
		if err := st.Stop(); err != nil {
			s.log.Warn("session: stop capture stream", "err", err)
		}
	})
}

func (s *Session) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}
