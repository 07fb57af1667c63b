// Package mock provides in-memory mock implementations of the [audio.Device]
// and [audio.Stream] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	stream := mock.NewStream()
//	device := &mock.Device{OpenResult: stream}
//	// ... start the code under test, which calls device.Open and stream.Run ...
//	_ = stream.WaitRunning(ctx)
//	stream.Emit(audio.Frame{Samples: make([]float32, 4096)})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/tuner/pkg/audio"
)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream].
//
// Run blocks until Stop or Finish is called. While Run is blocked, the test
// delivers frames with [Stream.Emit], which invokes the registered callback
// synchronously on the test goroutine.
type Stream struct {
	mu sync.Mutex

	// RunError is returned by Run when the loop ends via Stop.
	RunError error

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountRun records how many times Run was called.
	CallCountRun int

	// EmittedFrames records how many frames were delivered via Emit.
	EmittedFrames int

	onFrame   func(audio.Frame)
	stopped   bool
	finishErr error
	running   chan struct{}
	done      chan struct{}
	runOnce   sync.Once
	closeOnce sync.Once
}

// NewStream returns a ready Stream.
func NewStream() *Stream {
	return &Stream{
		running: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Run implements [audio.Stream]. It records the callback and blocks until
// Stop or Finish is called.
func (s *Stream) Run(onFrame func(audio.Frame)) error {
	s.mu.Lock()
	s.CallCountRun++
	s.onFrame = onFrame
	s.mu.Unlock()

	s.runOnce.Do(func() { close(s.running) })
	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finishErr != nil {
		return s.finishErr
	}
	return s.RunError
}

// Stop implements [audio.Stream]. Records the call; the first call releases Run.
func (s *Stream) Stop() error {
	s.mu.Lock()
	s.CallCountStop++
	s.stopped = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// IsStopped implements [audio.Stream].
func (s *Stream) IsStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// StopCalls returns CallCountStop. Thread-safe.
func (s *Stream) StopCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountStop
}

// WaitRunning blocks until Run has been called or ctx is done.
func (s *Stream) WaitRunning(ctx context.Context) error {
	select {
	case <-s.running:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Emit delivers frame to the callback registered by Run, on the calling
// goroutine. Frames are delivered even after Stop, which simulates frames that
// were already in flight when the stream was stopped. Returns false if Run has
// not been called yet.
func (s *Stream) Emit(frame audio.Frame) bool {
	s.mu.Lock()
	cb := s.onFrame
	if cb != nil {
		s.EmittedFrames++
	}
	s.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(frame)
	return true
}

// Finish ends Run as if the input were exhausted (err == nil) or capture had
// failed (err != nil). The stream reports itself stopped afterwards.
func (s *Stream) Finish(err error) {
	s.mu.Lock()
	s.finishErr = err
	s.stopped = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })
}

// Ensure Stream implements audio.Stream at compile time.
var _ audio.Stream = (*Stream)(nil)

// ─── Device ───────────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single [Device.Open] invocation.
type OpenCall struct {
	// Config is the stream configuration passed to Open.
	Config audio.StreamConfig
}

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// OpenResult is the [audio.Stream] returned by Open. If nil and OpenError
	// is nil, Open returns a fresh Stream from NewStream.
	OpenResult audio.Stream

	// OpenError is the error returned by Open.
	OpenError error

	// OpenCalls records all Open invocations.
	OpenCalls []OpenCall
}

// Open implements [audio.Device]. Records the call and returns OpenResult / OpenError.
func (d *Device) Open(_ context.Context, cfg audio.StreamConfig) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, OpenCall{Config: cfg})
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	if d.OpenResult != nil {
		return d.OpenResult, nil
	}
	return NewStream(), nil
}

// Calls returns a copy of the recorded Open calls. Thread-safe.
func (d *Device) Calls() []OpenCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]OpenCall, len(d.OpenCalls))
	copy(out, d.OpenCalls)
	return out
}

// Ensure Device implements audio.Device at compile time.
var _ audio.Device = (*Device)(nil)
