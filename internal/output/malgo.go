// ABOUTME: Audio output backend using malgo (miniaudio)
// ABOUTME: The miniaudio data callback is the realtime context hosting Render
package output

import (
	"fmt"
	"log"

	"github.com/gen2brain/malgo"

	"github.com/wtangxyz/shairport-sync/internal/audio"
)

// malgoBackend drives the hand-off engine from miniaudio's playback data
// callback. The device is asked for float32 at the fixed stream rate;
// per-channel scratch buffers are preallocated so the callback only
// allocates if the device enlarges its period beyond 100ms.
type malgoBackend struct {
	cfg      Config
	engine   *Engine
	ctx      *malgo.AllocatedContext
	device   *malgo.Device
	channels [][]float32
}

func (b *malgoBackend) Init(cfg Config) error {
	cfg = cfg.withDefaults()

	engine, err := NewEngine(cfg)
	if err != nil {
		return err
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		engine.Close()
		return fmt.Errorf("failed to init miniaudio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	b.channels = make([][]float32, cfg.Channels)
	for i := range b.channels {
		b.channels[i] = make([]float32, cfg.SampleRate/10)
	}

	onSendFrames := func(pOutput, _ []byte, frameCount uint32) {
		frames := int(frameCount)
		if len(b.channels[0]) < frames {
			for i := range b.channels {
				b.channels[i] = make([]float32, frames)
			}
		}
		engine.Render(frames, b.channels)
		audio.Interleave(pOutput, b.channels, frames)
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onSendFrames,
	})
	if err != nil {
		ctx.Uninit()
		ctx.Free()
		engine.Close()
		return fmt.Errorf("failed to init playback device: %w", err)
	}

	// miniaudio may resolve a different rate than requested. There is no
	// resampler behind this backend, so refuse the device instead of
	// rendering at the wrong clock.
	if err := checkDeviceRate(int(device.SampleRate()), cfg.SampleRate); err != nil {
		device.Uninit()
		ctx.Uninit()
		ctx.Free()
		engine.Close()
		return err
	}

	b.cfg = cfg
	b.engine = engine
	b.ctx = ctx
	b.device = device

	log.Printf("malgo backend initialized: %dHz, %d channels, %ds buffer",
		cfg.SampleRate, cfg.Channels, cfg.BufferSeconds)
	return nil
}

func (b *malgoBackend) Start() error {
	if b.device == nil {
		return ErrNotInitialized
	}
	return b.device.Start()
}

func (b *malgoBackend) Play(pcm []byte) (int, error) {
	if b.engine == nil {
		return 0, ErrNotInitialized
	}
	return b.engine.Submit(pcm), nil
}

func (b *malgoBackend) Flush() {
	if b.engine != nil {
		b.engine.RequestFlush()
	}
}

func (b *malgoBackend) Delay() (int64, error) {
	if b.engine == nil {
		return 0, ErrNotInitialized
	}
	return b.engine.Delay(), nil
}

func (b *malgoBackend) Stop() error {
	if b.device == nil {
		return ErrNotInitialized
	}
	return b.device.Stop()
}

func (b *malgoBackend) Deinit() error {
	if b.device != nil {
		b.device.Uninit()
		b.device = nil
	}
	if b.ctx != nil {
		if err := b.ctx.Uninit(); err != nil {
			log.Printf("Error uninitializing miniaudio context: %v", err)
		}
		b.ctx.Free()
		b.ctx = nil
	}
	if b.engine != nil {
		err := b.engine.Close()
		b.engine = nil
		return err
	}
	return nil
}

func (b *malgoBackend) Stats() Stats {
	if b.engine == nil {
		return Stats{}
	}
	return b.engine.Stats()
}
