// ABOUTME: Audio type definitions
// ABOUTME: Defines the fixed stream format and frame arithmetic
package audio

// Format describes an audio stream format.
type Format struct {
	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int
}

// BytesPerFrame returns the size in bytes of one frame (one sample per
// channel) of interleaved PCM in this format.
func (f Format) BytesPerFrame() int {
	return f.Channels * f.BitDepth / 8
}

// CD is the fixed transport format of the hand-off layer: 16-bit signed
// little-endian interleaved stereo at 44100 Hz.
var CD = Format{
	Codec:      "pcm",
	SampleRate: 44100,
	Channels:   2,
	BitDepth:   16,
}
