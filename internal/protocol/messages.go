// ABOUTME: Stream protocol message type definitions
// ABOUTME: JSON control messages and the binary audio chunk framing
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Message is the top-level wrapper for all JSON control messages. Payload
// stays raw on receive so it can be decoded per Type.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode wraps a payload in a Message and marshals it.
func Encode(msgType string, payload interface{}) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
		}
		raw = data
	}
	return json.Marshal(Message{Type: msgType, Payload: raw})
}

// SourceHello is sent by an audio source to initiate the handshake.
type SourceHello struct {
	SourceID string `json:"source_id"`
	Name     string `json:"name"`
	Version  int    `json:"version"`
}

// ServerHello is the receiver's response to source/hello.
type ServerHello struct {
	ServerID string `json:"server_id"`
	Name     string `json:"name"`
	Version  int    `json:"version"`
	Backend  string `json:"backend"`
}

// StreamStart announces the format of the chunks that follow.
type StreamStart struct {
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	BitDepth   int    `json:"bit_depth"`
}

// DelayReport carries the receiver's current output delay estimate.
type DelayReport struct {
	Frames    int64 `json:"frames"`
	Timestamp int64 `json:"timestamp"` // microseconds, receiver clock
}

// StreamError tells the source why its stream was refused.
type StreamError struct {
	Reason string `json:"reason"`
}

// Control message types.
const (
	TypeSourceHello = "source/hello"
	TypeServerHello = "server/hello"
	TypeStreamStart = "stream/start"
	TypeStreamFlush = "stream/flush"
	TypeStreamEnd   = "stream/end"
	TypeDelayReport = "stream/delay"
	TypeStreamError = "stream/error"
)

// AudioChunkMessageType is the leading byte of every binary audio chunk.
const AudioChunkMessageType = 1

// chunk layout: [type:1][timestamp:8][payload]
const chunkHeaderSize = 9

// EncodeChunk builds a binary audio chunk message.
func EncodeChunk(timestamp int64, payload []byte) []byte {
	chunk := make([]byte, chunkHeaderSize+len(payload))
	chunk[0] = AudioChunkMessageType
	binary.BigEndian.PutUint64(chunk[1:9], uint64(timestamp))
	copy(chunk[9:], payload)
	return chunk
}

// DecodeChunk splits a binary audio chunk into timestamp and payload. The
// payload aliases the input.
func DecodeChunk(chunk []byte) (timestamp int64, payload []byte, err error) {
	if len(chunk) < chunkHeaderSize {
		return 0, nil, fmt.Errorf("audio chunk too short: %d bytes", len(chunk))
	}
	if chunk[0] != AudioChunkMessageType {
		return 0, nil, fmt.Errorf("unknown binary message type %d", chunk[0])
	}
	timestamp = int64(binary.BigEndian.Uint64(chunk[1:9]))
	return timestamp, chunk[9:], nil
}
