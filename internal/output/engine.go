// ABOUTME: Realtime hand-off engine between producer and render callback
// ABOUTME: Owns the ring buffer, flush protocol, and output delay estimation
package output

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wtangxyz/shairport-sync/internal/audio"
	"github.com/wtangxyz/shairport-sync/internal/ring"
)

// LatencyRange is the {min, max} additional delay, in frames, downstream of
// one output port.
type LatencyRange struct {
	Min int
	Max int
}

// Producer is the non-realtime half of the engine: everything the network
// delivery and control threads are allowed to touch. It may block briefly
// on the transfer gate but never on the render path.
type Producer interface {
	Submit(pcm []byte) int
	RequestFlush()
	Delay() int64
	BufferedFrames() int
}

// Renderer is the realtime half: invoked by the audio subsystem's device
// callback with a hard deadline. Its single operation takes no locks and
// allocates nothing.
type Renderer interface {
	Render(frames int, out [][]float32)
}

// Engine decouples a non-realtime producer from the periodic realtime
// render callback through an SPSC byte ring buffer. All state lives on the
// Engine; lifetime is NewEngine to Close.
type Engine struct {
	ring          *ring.Buffer
	sampleRate    int
	channels      int
	bytesPerFrame int

	// The transfer gate: producer writes and delay queries snapshot the
	// transfer timestamp together with ring occupancy under this mutex.
	// The render callback never touches it.
	mu           sync.Mutex
	lastTransfer time.Time

	// Set by RequestFlush, consumed exactly once by Render.
	flushPending atomic.Bool

	// Average of the per-port max latencies, in frames.
	avgMaxLatency atomic.Int64

	latencyMu     sync.Mutex
	portLatencies []LatencyRange

	framesSubmitted atomic.Uint64
	framesRendered  atomic.Uint64
	underrunPeriods atomic.Uint64
	overrunFrames   atomic.Uint64
}

// Stats is a snapshot of engine transfer counters.
type Stats struct {
	FramesSubmitted uint64
	FramesRendered  uint64
	UnderrunPeriods uint64
	OverrunFrames   uint64
	BufferedFrames  int
	BufferCapacity  int
}

var (
	_ Producer = (*Engine)(nil)
	_ Renderer = (*Engine)(nil)
)

// NewEngine allocates the hand-off ring buffer, sized to absorb
// cfg.BufferSeconds of audio, and pins it against paging.
func NewEngine(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()

	bytesPerFrame := cfg.Channels * 2
	rb, err := ring.New(cfg.SampleRate * cfg.BufferSeconds * bytesPerFrame)
	if err != nil {
		return nil, fmt.Errorf("allocating hand-off buffer: %w", err)
	}
	if err := rb.Pin(); err != nil {
		// Unpinned means the render callback can page-fault. Degraded,
		// not fatal; typically an RLIMIT_MEMLOCK limit.
		log.Printf("Warning: could not pin %d byte hand-off buffer: %v", rb.Capacity(), err)
	}

	return &Engine{
		ring:          rb,
		sampleRate:    cfg.SampleRate,
		channels:      cfg.Channels,
		bytesPerFrame: bytesPerFrame,
		lastTransfer:  time.Now(),
	}, nil
}

// Close releases the hand-off buffer. The caller guarantees the render
// callback can no longer fire.
func (e *Engine) Close() error {
	return e.ring.Unpin()
}

// SampleRate returns the fixed stream sample rate.
func (e *Engine) SampleRate() int {
	return e.sampleRate
}

// Channels returns the fixed channel count.
func (e *Engine) Channels() int {
	return e.channels
}

// Submit moves interleaved 16-bit PCM into the ring buffer and stamps the
// transfer time. It accepts only whole frames and never blocks waiting for
// space; the return value is frames accepted, and a short count means the
// excess was dropped (overrun).
func (e *Engine) Submit(pcm []byte) int {
	want := len(pcm) - len(pcm)%e.bytesPerFrame

	e.mu.Lock()
	free := e.ring.FreeBytes()
	n := want
	if n > free {
		n = free - free%e.bytesPerFrame
	}
	written := e.ring.Write(pcm[:n])
	e.lastTransfer = time.Now()
	e.mu.Unlock()

	if written < want {
		e.overrunFrames.Add(uint64((want - written) / e.bytesPerFrame))
		log.Printf("Hand-off buffer overrun: accepted %d of %d bytes", written, want)
	}

	frames := written / e.bytesPerFrame
	e.framesSubmitted.Add(uint64(frames))
	return frames
}

// RequestFlush asks the render callback to discard all buffered audio on
// its next invocation. Only the consumer side of an SPSC ring can safely
// drop data, so the flag is handed across and consumed exactly once there.
// Requesting twice before the next render is the same as requesting once.
func (e *Engine) RequestFlush() {
	e.flushPending.Store(true)
}

// Delay estimates the number of frames between now and when a newly
// submitted frame would reach the downstream consumer. Occupancy and the
// transfer timestamp are snapshotted together under the transfer gate;
// frames rendered since the last transfer are then subtracted, since
// inspecting realtime-owned state directly would need a lock on the render
// path. Always best-effort, never an error.
func (e *Engine) Delay() int64 {
	e.mu.Lock()
	elapsed := time.Since(e.lastTransfer)
	occupancy := int64(e.ring.UnreadBytes() / e.bytesPerFrame)
	e.mu.Unlock()

	elapsedFrames := elapsed.Nanoseconds() * int64(e.sampleRate) / int64(time.Second)
	return e.avgMaxLatency.Load() + occupancy - elapsedFrames
}

// BufferedFrames reports the whole frames currently waiting in the ring.
func (e *Engine) BufferedFrames() int {
	return e.ring.UnreadBytes() / e.bytesPerFrame
}

// SetPortLatencies replaces the per-port downstream latency ranges and
// recomputes the cached average of the per-port maxima. Called when the
// downstream signal graph changes, never on the audio-data path. If min and
// max diverge wildly the graph has an anomaly this layer cannot fix, so
// only the maxima are considered.
func (e *Engine) SetPortLatencies(ranges []LatencyRange) {
	e.latencyMu.Lock()
	e.portLatencies = append(e.portLatencies[:0], ranges...)
	e.latencyMu.Unlock()

	if len(ranges) == 0 {
		e.avgMaxLatency.Store(0)
		return
	}

	var sum int64
	for _, r := range ranges {
		sum += int64(r.Max)
	}
	avg := sum / int64(len(ranges))
	e.avgMaxLatency.Store(avg)
	log.Printf("Downstream latency updated: average max %d frames across %d ports", avg, len(ranges))
}

// PortLatencies returns a copy of the current per-port latency ranges.
func (e *Engine) PortLatencies() []LatencyRange {
	e.latencyMu.Lock()
	defer e.latencyMu.Unlock()
	return append([]LatencyRange(nil), e.portLatencies...)
}

// Render fills the per-channel buffers in out with frames of audio,
// converting and deinterleaving from the ring, and zero-fills whatever the
// ring cannot supply. Underrun is an expected steady-state condition under
// network jitter, not an error. Realtime context: no locks, no allocation,
// bounded work (at most two spans).
func (e *Engine) Render(frames int, out [][]float32) {
	written := 0

	if e.flushPending.CompareAndSwap(true, false) {
		// Only the consumer can safely discard; drop the whole unread
		// region and let the zero-fill below supply silence.
		e.ring.AdvanceRead(e.ring.UnreadBytes())
	} else {
		need := frames
		v := e.ring.ReadVector()
		for _, span := range v {
			if need == 0 {
				break
			}
			n := len(span) / e.bytesPerFrame
			if n > need {
				n = need
			}
			if n == 0 {
				continue
			}
			audio.Deinterleave(span[:n*e.bytesPerFrame], out, written, n)
			written += n
			need -= n
		}
		e.ring.AdvanceRead(written * e.bytesPerFrame)
	}

	if written < frames {
		for ch := range out {
			fill := out[ch][written:frames]
			for i := range fill {
				fill[i] = 0
			}
		}
		e.underrunPeriods.Add(1)
	}
	e.framesRendered.Add(uint64(written))
}

// Stats returns a snapshot of the engine's transfer counters.
func (e *Engine) Stats() Stats {
	return Stats{
		FramesSubmitted: e.framesSubmitted.Load(),
		FramesRendered:  e.framesRendered.Load(),
		UnderrunPeriods: e.underrunPeriods.Load(),
		OverrunFrames:   e.overrunFrames.Load(),
		BufferedFrames:  e.BufferedFrames(),
		BufferCapacity:  e.ring.Capacity() / e.bytesPerFrame,
	}
}
