// ABOUTME: Audio output backend interface and selection
// ABOUTME: One implementing variant per audio subsystem (oto, malgo)
package output

import (
	"errors"
	"fmt"
)

// Errors shared by all backends.
var (
	// ErrSampleRateMismatch means the audio subsystem runs at a different
	// sample rate than the stream's fixed rate. There is no resampling;
	// this is fatal at initialization.
	ErrSampleRateMismatch = errors.New("output: audio device sample rate does not match stream rate")
	// ErrNotInitialized means an operation was invoked before Init.
	ErrNotInitialized = errors.New("output: backend not initialized")
	// ErrUnknownBackend means New was asked for a backend name it does not
	// recognize.
	ErrUnknownBackend = errors.New("output: unknown backend")
)

// Config holds output backend configuration.
type Config struct {
	SampleRate    int // fixed stream rate, default 44100
	Channels      int // fixed channel count, default 2
	BufferSeconds int // jitter absorption, default 4
}

const (
	DefaultSampleRate    = 44100
	DefaultChannels      = 2
	DefaultBufferSeconds = 4
)

func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Channels == 0 {
		c.Channels = DefaultChannels
	}
	if c.BufferSeconds == 0 {
		c.BufferSeconds = DefaultBufferSeconds
	}
	return c
}

// Output is the capability set every audio backend implements. Play, Flush
// and Delay are safe from the producer/control context; the backend's own
// device callback is the realtime context and is never exposed.
type Output interface {
	// Init allocates the hand-off buffer and opens the audio device.
	Init(cfg Config) error
	// Start begins pulling audio from the hand-off buffer.
	Start() error
	// Play submits interleaved 16-bit PCM and returns frames accepted.
	// Partial acceptance signals overrun; the excess is dropped.
	Play(pcm []byte) (int, error)
	// Flush requests that buffered-but-unrendered audio be discarded.
	// Fire-and-forget; takes effect on the next render period.
	Flush()
	// Delay estimates the output latency in frames.
	Delay() (int64, error)
	// Stop pauses rendering.
	Stop() error
	// Deinit releases the device and the hand-off buffer. Must not be
	// called while the device may still invoke the render callback.
	Deinit() error
}

// StatsReporter is implemented by backends that expose transfer statistics.
type StatsReporter interface {
	Stats() Stats
}

// New creates the named backend.
func New(name string) (Output, error) {
	switch name {
	case "oto":
		return &otoBackend{}, nil
	case "malgo":
		return &malgoBackend{}, nil
	default:
		return nil, fmt.Errorf("%w: %q (have: oto, malgo)", ErrUnknownBackend, name)
	}
}

// checkDeviceRate compares the rate the audio device actually resolved to
// against the fixed stream rate. There is no resampling, so a divergence is
// fatal at initialization rather than a wrong-clock playback later.
func checkDeviceRate(resolved, want int) error {
	if resolved != want {
		return fmt.Errorf("%w: device resolved to %d Hz, stream fixed at %d Hz",
			ErrSampleRateMismatch, resolved, want)
	}
	return nil
}
