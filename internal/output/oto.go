// ABOUTME: Audio output backend using the oto library
// ABOUTME: oto's pull reader is the host invoking the realtime render path
package output

import (
	"fmt"
	"log"

	"github.com/ebitengine/oto/v3"

	"github.com/wtangxyz/shairport-sync/internal/audio"
)

// otoBackend drives the hand-off engine from oto's pull-mode reader. The
// device is opened in float32 format so the engine's per-channel float
// output maps straight onto the wire format after interleaving.
type otoBackend struct {
	cfg    Config
	engine *Engine
	otoCtx *oto.Context
	player *oto.Player
}

func (b *otoBackend) Init(cfg Config) error {
	cfg = cfg.withDefaults()

	engine, err := NewEngine(cfg)
	if err != nil {
		return err
	}

	op := &oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: cfg.Channels,
		Format:       oto.FormatFloat32LE,
	}
	otoCtx, ready, err := oto.NewContext(op)
	if err != nil {
		engine.Close()
		return fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	stream := newRenderStream(engine, cfg.SampleRate/10)
	player := otoCtx.NewPlayer(stream)
	player.SetBufferSize(cfg.SampleRate / 10 * cfg.Channels * 4)

	b.cfg = cfg
	b.engine = engine
	b.otoCtx = otoCtx
	b.player = player

	log.Printf("oto backend initialized: %dHz, %d channels, %ds buffer",
		cfg.SampleRate, cfg.Channels, cfg.BufferSeconds)
	return nil
}

func (b *otoBackend) Start() error {
	if b.player == nil {
		return ErrNotInitialized
	}
	b.player.Play()
	return nil
}

func (b *otoBackend) Play(pcm []byte) (int, error) {
	if b.engine == nil {
		return 0, ErrNotInitialized
	}
	return b.engine.Submit(pcm), nil
}

func (b *otoBackend) Flush() {
	if b.engine != nil {
		b.engine.RequestFlush()
	}
}

func (b *otoBackend) Delay() (int64, error) {
	if b.engine == nil {
		return 0, ErrNotInitialized
	}
	return b.engine.Delay(), nil
}

func (b *otoBackend) Stop() error {
	if b.player == nil {
		return ErrNotInitialized
	}
	b.player.Pause()
	return nil
}

func (b *otoBackend) Deinit() error {
	if b.player != nil {
		if err := b.player.Close(); err != nil {
			log.Printf("Error closing oto player: %v", err)
		}
		b.player = nil
	}
	if b.otoCtx != nil {
		b.otoCtx.Suspend()
		b.otoCtx = nil
	}
	if b.engine != nil {
		err := b.engine.Close()
		b.engine = nil
		return err
	}
	return nil
}

func (b *otoBackend) Stats() Stats {
	if b.engine == nil {
		return Stats{}
	}
	return b.engine.Stats()
}

// renderStream adapts the engine's render callback to oto's io.Reader pull
// model. Per-channel scratch buffers are preallocated for the expected
// period size and grow only if the device asks for more at once.
type renderStream struct {
	engine   *Engine
	channels [][]float32
}

func newRenderStream(engine *Engine, periodFrames int) *renderStream {
	channels := make([][]float32, engine.Channels())
	for i := range channels {
		channels[i] = make([]float32, periodFrames)
	}
	return &renderStream{engine: engine, channels: channels}
}

func (s *renderStream) Read(p []byte) (int, error) {
	bytesPerFrame := len(s.channels) * 4
	frames := len(p) / bytesPerFrame
	if frames == 0 {
		return 0, nil
	}

	if len(s.channels[0]) < frames {
		for i := range s.channels {
			s.channels[i] = make([]float32, frames)
		}
	}

	s.engine.Render(frames, s.channels)
	audio.Interleave(p, s.channels, frames)
	return frames * bytesPerFrame, nil
}
