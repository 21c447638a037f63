// ABOUTME: Stream chunk decoders
// ABOUTME: Turns incoming codec payloads into 16-bit interleaved PCM bytes
package audio

import (
	"encoding/binary"
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// Decoder decodes one stream chunk into little-endian 16-bit interleaved
// PCM bytes ready for the output backend.
type Decoder interface {
	Decode(data []byte) ([]byte, error)
	Close() error
}

// NewDecoder creates a decoder for the specified format.
func NewDecoder(format Format) (Decoder, error) {
	switch format.Codec {
	case "pcm":
		return &PCMDecoder{format: format}, nil
	case "opus":
		return NewOpusDecoder(format)
	default:
		return nil, fmt.Errorf("unsupported codec: %s", format.Codec)
	}
}

// PCMDecoder passes raw 16-bit PCM through unchanged.
type PCMDecoder struct {
	format Format
}

func (d *PCMDecoder) Decode(data []byte) ([]byte, error) {
	if len(data)%d.format.BytesPerFrame() != 0 {
		return nil, fmt.Errorf("pcm chunk of %d bytes is not whole frames", len(data))
	}
	return data, nil
}

func (d *PCMDecoder) Close() error {
	return nil
}

// OpusDecoder decodes Opus packets to 16-bit PCM.
type OpusDecoder struct {
	decoder *opus.Decoder
	format  Format
	pcm     []int16
	out     []byte
}

// NewOpusDecoder creates an Opus decoder for the given format.
func NewOpusDecoder(format Format) (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(format.SampleRate, format.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	// 5760 samples per channel is the largest Opus frame (120ms at 48kHz).
	maxSamples := 5760 * format.Channels
	return &OpusDecoder{
		decoder: dec,
		format:  format,
		pcm:     make([]int16, maxSamples),
		out:     make([]byte, maxSamples*2),
	}, nil
}

func (d *OpusDecoder) Decode(data []byte) ([]byte, error) {
	n, err := d.decoder.Decode(data, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}

	samples := n * d.format.Channels
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(d.out[i*2:], uint16(d.pcm[i]))
	}
	return d.out[:samples*2], nil
}

func (d *OpusDecoder) Close() error {
	return nil
}
