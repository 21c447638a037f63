// ABOUTME: Tests for stream chunk decoders
// ABOUTME: Covers PCM passthrough, frame alignment, and codec selection
package audio

import (
	"bytes"
	"testing"
)

func TestPCMDecoderPassthrough(t *testing.T) {
	dec, err := NewDecoder(CD)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	defer dec.Close()

	chunk := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	out, err := dec.Decode(chunk)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(out, chunk) {
		t.Errorf("expected passthrough, got %v", out)
	}
}

func TestPCMDecoderRejectsPartialFrames(t *testing.T) {
	dec, _ := NewDecoder(CD)
	defer dec.Close()

	if _, err := dec.Decode([]byte{0x01, 0x02, 0x03}); err == nil {
		t.Error("expected error for chunk that is not whole frames")
	}
}

func TestNewDecoderUnknownCodec(t *testing.T) {
	_, err := NewDecoder(Format{Codec: "flac", SampleRate: 44100, Channels: 2, BitDepth: 16})
	if err == nil {
		t.Error("expected error for unsupported codec")
	}
}
