package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/tuner/pkg/audio"
	"github.com/MrWong99/tuner/pkg/pitch"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// CaptureFactory builds a capture device from its configuration entry.
type CaptureFactory func(ProviderEntry) (audio.Device, error)

// DetectorFactory builds a pitch detector for frames described by cfg.
// Detectors are not shared between sessions, so a factory is called once per
// session.
type DetectorFactory func(cfg pitch.Config, entry ProviderEntry) (pitch.Detector, error)

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	capture  map[string]CaptureFactory
	detector map[string]DetectorFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		capture:  make(map[string]CaptureFactory),
		detector: make(map[string]DetectorFactory),
	}
}

// RegisterCapture registers a capture device factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterCapture(name string, factory CaptureFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// RegisterDetector registers a pitch detector factory under name.
func (r *Registry) RegisterDetector(name string, factory DetectorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detector[name] = factory
}

// CreateCapture instantiates a capture device using the factory registered
// under entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateCapture(entry ProviderEntry) (audio.Device, error) {
	r.mu.RLock()
	factory, ok := r.capture[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateDetector instantiates a pitch detector using the factory registered
// under entry.Name.
func (r *Registry) CreateDetector(cfg pitch.Config, entry ProviderEntry) (pitch.Detector, error) {
	r.mu.RLock()
	factory, ok := r.detector[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: detector/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(cfg, entry)
}

// Names returns the sorted names registered for kind ("capture" or
// "detector").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "capture":
		for name := range r.capture {
			names = append(names, name)
		}
	case "detector":
		for name := range r.detector {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}
