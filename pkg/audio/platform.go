// Package audio defines the interfaces and types for audio capture within the
// tuner.
//
// A [Device] opens a capture source and returns a [Stream]. A Stream drives a
// per-frame callback loop until it is stopped or its input ends.
//
// Implementations are provided by source-specific packages (audio/portaudio
// for microphones, audio/wavfile for recordings, audio/tone for a synthetic
// generator). All of them slice raw input into overlapping frames with a
// [Framer].
//
// This package lives under pkg/ because external code (third-party capture
// backends) is expected to implement [Device] and [Stream].
package audio

import (
	"context"
	"errors"
	"fmt"
)

// ErrDeviceUnavailable is returned (wrapped) by [Device.Open] when the capture
// source cannot be opened, e.g. no microphone is present, permission was
// denied, or the input file does not exist.
var ErrDeviceUnavailable = errors.New("audio: capture device unavailable")

// Stream is an open capture handle.
//
// Implementations must be safe for concurrent use: Stop and IsStopped may be
// called from any goroutine, including from inside the onFrame callback.
type Stream interface {
	// Run drives the capture loop, invoking onFrame once per frame in strict
	// temporal order on the calling goroutine. Run blocks until the stream is
	// stopped (returns nil), the input is exhausted (returns nil), or capture
	// fails (returns the error). Run may only be called once.
	Run(onFrame func(Frame)) error

	// Stop requests the capture loop to end. The loop observes the request no
	// later than after the frame currently being delivered. Calling Stop more
	// than once is safe; subsequent calls are no-ops and return nil.
	Stop() error

	// IsStopped reports whether Stop was called or the loop has ended.
	IsStopped() bool
}

// Device is the entry point for a capture source.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// Open acquires the capture source and returns a ready [Stream]. The
	// supplied ctx governs the open attempt only.
	//
	// Returns an error wrapping [ErrDeviceUnavailable] when the source cannot
	// be acquired, or a plain error for invalid configuration.
	Open(ctx context.Context, cfg StreamConfig) (Stream, error)
}

// Validate checks that cfg describes a usable frame layout.
func (c StreamConfig) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate %d must be positive", c.SampleRate))
	}
	if c.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("buffer_size %d must be positive", c.BufferSize))
	}
	if c.OverlapSize < 0 || (c.BufferSize > 0 && c.OverlapSize >= c.BufferSize) {
		errs = append(errs, fmt.Errorf("overlap_size %d must be in [0, buffer_size)", c.OverlapSize))
	}
	return errors.Join(errs...)
}
