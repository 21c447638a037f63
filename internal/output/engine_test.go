// ABOUTME: Tests for the realtime hand-off engine
// ABOUTME: Covers round-trip conversion, underrun fill, flush, and delay estimation
package output

import (
	"encoding/binary"
	"testing"

	"github.com/wtangxyz/shairport-sync/internal/audio"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(Config{SampleRate: 44100, Channels: 2, BufferSeconds: 4})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

// makeFrames builds interleaved little-endian stereo PCM from per-frame
// (left, right) sample pairs.
func makeFrames(pairs [][2]int16) []byte {
	buf := make([]byte, len(pairs)*4)
	for i, p := range pairs {
		binary.LittleEndian.PutUint16(buf[i*4:], uint16(p[0]))
		binary.LittleEndian.PutUint16(buf[i*4+2:], uint16(p[1]))
	}
	return buf
}

func renderBuffers(frames int) [][]float32 {
	return [][]float32{make([]float32, frames), make([]float32, frames)}
}

func TestRoundTripExactConversion(t *testing.T) {
	e := newTestEngine(t)

	values := []int16{-32768, -1, 0, 1, 32767}
	pairs := make([][2]int16, len(values))
	for i, v := range values {
		pairs[i] = [2]int16{v, -v / 2}
	}

	if got := e.Submit(makeFrames(pairs)); got != len(pairs) {
		t.Fatalf("expected %d frames accepted, got %d", len(pairs), got)
	}

	out := renderBuffers(len(pairs))
	e.Render(len(pairs), out)

	for i, p := range pairs {
		if out[0][i] != audio.SampleToFloat32(p[0]) {
			t.Errorf("frame %d left: expected %v, got %v", i, audio.SampleToFloat32(p[0]), out[0][i])
		}
		if out[1][i] != audio.SampleToFloat32(p[1]) {
			t.Errorf("frame %d right: expected %v, got %v", i, audio.SampleToFloat32(p[1]), out[1][i])
		}
	}
}

func TestSubmitThenRenderFullWaveform(t *testing.T) {
	e := newTestEngine(t)

	const frames = 1024
	pairs := make([][2]int16, frames)
	for i := range pairs {
		pairs[i] = [2]int16{int16(i - 512), int16(512 - i)}
	}
	e.Submit(makeFrames(pairs))

	out := renderBuffers(frames)
	e.Render(frames, out)

	// Every frame must carry real audio, no trailing silence.
	for i := range pairs {
		if out[0][i] != audio.SampleToFloat32(pairs[i][0]) || out[1][i] != audio.SampleToFloat32(pairs[i][1]) {
			t.Fatalf("frame %d: expected converted waveform, got (%v, %v)", i, out[0][i], out[1][i])
		}
	}
	if e.BufferedFrames() != 0 {
		t.Errorf("expected drained buffer, %d frames remain", e.BufferedFrames())
	}
}

func TestRenderEmptyBufferYieldsSilence(t *testing.T) {
	e := newTestEngine(t)

	const frames = 512
	out := renderBuffers(frames)
	// Poison the buffers to prove the fill really happens.
	for ch := range out {
		for i := range out[ch] {
			out[ch][i] = 0.7
		}
	}

	e.Render(frames, out)

	for ch := range out {
		for i, v := range out[ch] {
			if v != 0.0 {
				t.Fatalf("channel %d frame %d: expected 0.0, got %v", ch, i, v)
			}
		}
	}

	if got := e.Stats().UnderrunPeriods; got != 1 {
		t.Errorf("expected 1 underrun period, got %d", got)
	}
}

func TestRenderPartialFillThenSilence(t *testing.T) {
	e := newTestEngine(t)

	pairs := [][2]int16{{1000, -1000}, {2000, -2000}}
	e.Submit(makeFrames(pairs))

	out := renderBuffers(8)
	e.Render(8, out)

	for i, p := range pairs {
		if out[0][i] != audio.SampleToFloat32(p[0]) {
			t.Errorf("frame %d: expected audio, got %v", i, out[0][i])
		}
	}
	for i := 2; i < 8; i++ {
		if out[0][i] != 0.0 || out[1][i] != 0.0 {
			t.Errorf("frame %d: expected silence, got (%v, %v)", i, out[0][i], out[1][i])
		}
	}
}

func TestFlushDiscardsExactlyOnce(t *testing.T) {
	e := newTestEngine(t)

	pairs := make([][2]int16, 256)
	for i := range pairs {
		pairs[i] = [2]int16{1234, -1234}
	}
	e.Submit(makeFrames(pairs))

	// Two requests before the next render behave like one.
	e.RequestFlush()
	e.RequestFlush()

	out := renderBuffers(64)
	e.Render(64, out)

	if e.BufferedFrames() != 0 {
		t.Fatalf("expected buffer discarded, %d frames remain", e.BufferedFrames())
	}
	for i := range out[0] {
		if out[0][i] != 0.0 || out[1][i] != 0.0 {
			t.Fatalf("frame %d: expected silence during flush period", i)
		}
	}

	// The flag was consumed: audio submitted afterwards plays normally.
	e.Submit(makeFrames(pairs[:4]))
	e.Render(4, out)
	if out[0][0] != audio.SampleToFloat32(1234) {
		t.Error("expected audio after flush was consumed, got silence")
	}
}

func TestSubmitOverrunDropsExcess(t *testing.T) {
	e, err := NewEngine(Config{SampleRate: 44100, Channels: 2, BufferSeconds: 1})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer e.Close()

	capFrames := e.Stats().BufferCapacity
	chunk := make([]byte, (capFrames+100)*4)
	for i := 0; i < capFrames+100; i++ {
		binary.LittleEndian.PutUint16(chunk[i*4:], uint16(int16(i)))
	}

	accepted := e.Submit(chunk)
	if accepted != capFrames {
		t.Fatalf("expected %d frames accepted, got %d", capFrames, accepted)
	}

	// The accepted prefix must survive uncorrupted.
	out := renderBuffers(4)
	e.Render(4, out)
	for i := 0; i < 4; i++ {
		if out[0][i] != audio.SampleToFloat32(int16(i)) {
			t.Errorf("frame %d corrupted after overrun: got %v", i, out[0][i])
		}
	}

	if e.Stats().OverrunFrames != 100 {
		t.Errorf("expected 100 overrun frames recorded, got %d", e.Stats().OverrunFrames)
	}
}

func TestSubmitTruncatesPartialFrames(t *testing.T) {
	e := newTestEngine(t)

	// 10 bytes is 2 whole frames plus half a frame.
	if got := e.Submit(make([]byte, 10)); got != 2 {
		t.Errorf("expected 2 frames accepted, got %d", got)
	}
	if e.BufferedFrames() != 2 {
		t.Errorf("expected 2 buffered frames, got %d", e.BufferedFrames())
	}
}

func TestDelayReflectsOccupancy(t *testing.T) {
	e := newTestEngine(t)

	const frames = 1024
	e.Submit(make([]byte, frames*4))

	// Immediately after a transfer the elapsed correction is near zero, so
	// the estimate clusters on occupancy plus downstream latency (0 here).
	delay := e.Delay()
	if delay < frames-64 || delay > frames {
		t.Errorf("expected delay near %d frames, got %d", frames, delay)
	}
}

func TestDelayIncludesDownstreamLatency(t *testing.T) {
	e := newTestEngine(t)

	e.SetPortLatencies([]LatencyRange{{Min: 64, Max: 512}, {Min: 64, Max: 1024}})

	const frames = 256
	e.Submit(make([]byte, frames*4))

	// Average of the per-port maxima: (512 + 1024) / 2 = 768.
	delay := e.Delay()
	expected := int64(768 + frames)
	if delay < expected-64 || delay > expected {
		t.Errorf("expected delay near %d frames, got %d", expected, delay)
	}
}

func TestDelaySaneBeforeFirstTransfer(t *testing.T) {
	e := newTestEngine(t)

	// No transfer has happened; the estimate must still be well-defined
	// and small (the timestamp is seeded at construction).
	delay := e.Delay()
	if delay > 0 || delay < -44100 {
		t.Errorf("expected initial delay in (-rate, 0], got %d", delay)
	}
}

func TestSetPortLatenciesEmptyResets(t *testing.T) {
	e := newTestEngine(t)

	e.SetPortLatencies([]LatencyRange{{Max: 100}})
	e.SetPortLatencies(nil)
	e.Submit(make([]byte, 4))
	if delay := e.Delay(); delay > 1 {
		t.Errorf("expected latency reset, delay %d", delay)
	}
	if got := len(e.PortLatencies()); got != 0 {
		t.Errorf("expected no port latencies, got %d", got)
	}
}

func TestProducerRendererHandleSplit(t *testing.T) {
	e := newTestEngine(t)

	// The two execution contexts see disjoint operation sets.
	var p Producer = e
	var r Renderer = e

	p.Submit(make([]byte, 8))
	out := renderBuffers(2)
	r.Render(2, out)

	if p.BufferedFrames() != 0 {
		t.Errorf("expected drained buffer, got %d", p.BufferedFrames())
	}
}
