package portaudio_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/tuner/pkg/audio"
	"github.com/MrWong99/tuner/pkg/audio/portaudio"
)

func TestOpen_InvalidConfig(t *testing.T) {
	t.Parallel()
	// Validation happens before PortAudio is touched, so this runs without
	// audio hardware.
	_, err := portaudio.New().Open(context.Background(), audio.StreamConfig{SampleRate: 0, BufferSize: 4096})
	if err == nil {
		t.Fatal("expected error for zero sample rate")
	}
	if errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Errorf("invalid config must not be reported as device unavailable: %v", err)
	}
}
