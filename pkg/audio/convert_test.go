package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/tuner/pkg/audio"
	"github.com/MrWong99/tuner/pkg/pitch"
	"github.com/MrWong99/tuner/pkg/pitch/yin"
)

func approxEqual(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-4
}

func TestIntToFloat32(t *testing.T) {
	got := audio.IntToFloat32([]int{8388607, -8388608, 0}, 24)
	if !approxEqual(got[1], -1) || !approxEqual(got[2], 0) || got[0] >= 1 {
		t.Errorf("IntToFloat32(24-bit) = %v", got)
	}
	// Unsupported depth falls back to 16-bit scaling.
	got = audio.IntToFloat32([]int{16384}, 0)
	if !approxEqual(got[0], 0.5) {
		t.Errorf("IntToFloat32(depth 0) = %v, want 0.5", got[0])
	}
}

func TestDownmix(t *testing.T) {
	// Two stereo frames: L=0.2,R=0.4 and L=-0.2,R=-0.4
	got := audio.Downmix([]float32{0.2, 0.4, -0.2, -0.4}, 2)
	want := []float32{0.3, -0.3}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !approxEqual(got[i], want[i]) {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestFormatConverter_NoOp(t *testing.T) {
	conv := audio.FormatConverter{TargetRate: 44100}
	in := []float32{0.1, 0.2}
	out := conv.Convert(in, audio.Format{SampleRate: 44100, Channels: 1})
	if &out[0] != &in[0] {
		t.Error("expected same slice (zero allocation) for matching format")
	}
}

func TestFormatConverter_StereoResample(t *testing.T) {
	conv := audio.FormatConverter{TargetRate: 44100}
	// 2048 stereo frames at 22050 Hz, L=0.2 R=0.4, become 4096 mono samples.
	in := make([]float32, 2*2048)
	for i := 0; i < len(in); i += 2 {
		in[i], in[i+1] = 0.2, 0.4
	}
	out := conv.Convert(in, audio.Format{SampleRate: 22050, Channels: 2})
	if len(out) != 4096 {
		t.Fatalf("expected 4096 samples, got %d", len(out))
	}
	// Past the filter's start-up transient the level is the channel mean.
	for i := 256; i < len(out); i++ {
		if math.Abs(float64(out[i])-0.3) > 1e-2 {
			t.Fatalf("sample %d = %v, want about 0.3", i, out[i])
		}
	}
}

// sineChunks splits freq Hz at rate into count chunks of size samples with a
// continuous phase.
func sineChunks(freq float64, rate, size, count int) [][]float32 {
	chunks := make([][]float32, count)
	for c := range chunks {
		chunk := make([]float32, size)
		for i := range chunk {
			n := c*size + i
			chunk[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(n)/float64(rate)))
		}
		chunks[c] = chunk
	}
	return chunks
}

// meanPitch runs YIN over consecutive 4096-sample frames of samples at
// 44.1 kHz and averages the valid readings.
func meanPitch(t *testing.T, samples []float32) float64 {
	t.Helper()
	det, err := yin.New(pitch.Config{SampleRate: 44100, BufferSize: 4096})
	if err != nil {
		t.Fatalf("yin.New: %v", err)
	}
	var sum float64
	var n int
	for off := 4096; off+4096 <= len(samples); off += 4096 {
		if p := det.Detect(samples[off : off+4096]); p.Valid() {
			sum += float64(p)
			n++
		}
	}
	if n == 0 {
		t.Fatal("no valid pitch readings")
	}
	return sum / float64(n)
}

func TestFormatConverter_ChunkedResampleKeepsPitch(t *testing.T) {
	const chunks = 60
	conv := audio.FormatConverter{TargetRate: 44100}

	var out []float32
	for _, chunk := range sineChunks(440, 48000, 1024, chunks) {
		out = append(out, conv.Convert(chunk, audio.Format{SampleRate: 48000, Channels: 1})...)
	}

	// 61440 samples at 48 kHz are exactly 56448 at 44.1 kHz.
	if want := chunks * 1024 * 44100 / 48000; len(out) < want-1 || len(out) > want+1 {
		t.Errorf("output length = %d, want %d", len(out), want)
	}

	ref := meanPitch(t, sineChunks(440, 44100, len(out), 1)[0])
	got := meanPitch(t, out)
	if math.Abs(got-ref) > 0.1 {
		t.Errorf("resampled pitch = %.3f Hz, native 44.1 kHz pitch = %.3f Hz", got, ref)
	}
}

func TestFormatConverter_RateChangeStartsFreshFilter(t *testing.T) {
	conv := audio.FormatConverter{TargetRate: 44100}
	if out := conv.Convert(make([]float32, 480), audio.Format{SampleRate: 48000, Channels: 1}); len(out) != 441 {
		t.Errorf("48 kHz chunk -> %d samples, want 441", len(out))
	}
	if out := conv.Convert(make([]float32, 160), audio.Format{SampleRate: 16000, Channels: 1}); len(out) != 441 {
		t.Errorf("16 kHz chunk -> %d samples, want 441", len(out))
	}
}

func TestFormatConverter_MisalignedChunk(t *testing.T) {
	conv := audio.FormatConverter{TargetRate: 44100}
	out := conv.Convert([]float32{0.1, 0.2, 0.3}, audio.Format{SampleRate: 44100, Channels: 2})
	if len(out) != 0 {
		t.Errorf("expected misaligned chunk to be dropped, got %d samples", len(out))
	}
}
