// ABOUTME: Sample format conversion and channel deinterleaving
// ABOUTME: Maps 16-bit signed PCM to normalized float32 without allocating
package audio

import (
	"encoding/binary"
	"math"
)

// SampleToFloat32 converts a signed 16-bit sample to a float in [-1.0, 1.0].
// Negative and non-negative inputs are scaled separately so that both
// -32768 and 32767 map exactly onto the interval's endpoints and 0 maps to
// exactly 0.0.
func SampleToFloat32(s int16) float32 {
	if s < 0 {
		return float32(s) / 32768.0
	}
	return float32(s) / 32767.0
}

// Deinterleave converts frames of little-endian 16-bit interleaved PCM from
// src into the per-channel float32 buffers in dst, starting at element
// offset. src must hold at least frames*len(dst)*2 bytes and every dst
// buffer at least offset+frames elements. Allocates nothing.
func Deinterleave(src []byte, dst [][]float32, offset, frames int) {
	channels := len(dst)
	for f := 0; f < frames; f++ {
		base := f * channels * 2
		for ch := 0; ch < channels; ch++ {
			s := int16(binary.LittleEndian.Uint16(src[base+ch*2:]))
			dst[ch][offset+f] = SampleToFloat32(s)
		}
	}
}

// Interleave packs frames of per-channel float32 samples into dst as
// little-endian float32 interleaved bytes, the layout pull-mode device
// hosts consume. dst must hold at least frames*len(src)*4 bytes.
func Interleave(dst []byte, src [][]float32, frames int) {
	channels := len(src)
	for f := 0; f < frames; f++ {
		base := f * channels * 4
		for ch := 0; ch < channels; ch++ {
			binary.LittleEndian.PutUint32(dst[base+ch*4:], math.Float32bits(src[ch][f]))
		}
	}
}
