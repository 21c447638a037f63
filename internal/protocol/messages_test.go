// ABOUTME: Tests for protocol message encoding
// ABOUTME: Covers JSON wrapping and binary chunk framing
package protocol

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestEncodeDecodeMessage(t *testing.T) {
	data, err := Encode(TypeStreamStart, StreamStart{
		Codec:      "pcm",
		SampleRate: 44100,
		Channels:   2,
		BitDepth:   16,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if msg.Type != TypeStreamStart {
		t.Errorf("expected type %s, got %s", TypeStreamStart, msg.Type)
	}

	var start StreamStart
	if err := json.Unmarshal(msg.Payload, &start); err != nil {
		t.Fatalf("payload unmarshal: %v", err)
	}
	if start.SampleRate != 44100 || start.Channels != 2 {
		t.Errorf("unexpected payload: %+v", start)
	}
}

func TestEncodeMessageWithoutPayload(t *testing.T) {
	data, err := Encode(TypeStreamFlush, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if msg.Type != TypeStreamFlush {
		t.Errorf("expected type %s, got %s", TypeStreamFlush, msg.Type)
	}
}

func TestChunkRoundTrip(t *testing.T) {
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	chunk := EncodeChunk(123456789, payload)

	ts, got, err := DecodeChunk(chunk)
	if err != nil {
		t.Fatalf("DecodeChunk: %v", err)
	}
	if ts != 123456789 {
		t.Errorf("expected timestamp 123456789, got %d", ts)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("expected payload %v, got %v", payload, got)
	}
}

func TestDecodeChunkRejectsShort(t *testing.T) {
	if _, _, err := DecodeChunk([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for short chunk")
	}
}

func TestDecodeChunkRejectsUnknownType(t *testing.T) {
	chunk := EncodeChunk(0, []byte{1})
	chunk[0] = 99
	if _, _, err := DecodeChunk(chunk); err == nil {
		t.Error("expected error for unknown message type")
	}
}
