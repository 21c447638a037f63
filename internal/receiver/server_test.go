// ABOUTME: Tests for the WebSocket audio receiver
// ABOUTME: Exercises handshake, format validation, chunks, and flush with a fake backend
package receiver

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wtangxyz/shairport-sync/internal/audio"
	"github.com/wtangxyz/shairport-sync/internal/output"
	"github.com/wtangxyz/shairport-sync/internal/protocol"
)

// fakeOutput records backend calls instead of touching an audio device.
type fakeOutput struct {
	mu      sync.Mutex
	played  [][]byte
	flushes int
}

func (f *fakeOutput) Init(cfg output.Config) error { return nil }
func (f *fakeOutput) Start() error                 { return nil }
func (f *fakeOutput) Play(pcm []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.played = append(f.played, append([]byte(nil), pcm...))
	return len(pcm) / 4, nil
}
func (f *fakeOutput) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
}
func (f *fakeOutput) Delay() (int64, error) { return 0, nil }
func (f *fakeOutput) Stop() error           { return nil }
func (f *fakeOutput) Deinit() error         { return nil }

func (f *fakeOutput) playedChunks() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.played...)
}

func (f *fakeOutput) flushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushes
}

func newTestServer(t *testing.T) (*Server, *fakeOutput, *websocket.Conn) {
	t.Helper()

	fake := &fakeOutput{}
	srv := New(Config{
		Name:        "test-receiver",
		BackendName: "fake",
		Format:      audio.CD,
	}, fake)

	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)
	t.Cleanup(srv.Stop)

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return srv, fake, conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload interface{}) {
	t.Helper()
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", msgType, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	return msg
}

func TestHandshake(t *testing.T) {
	_, _, conn := newTestServer(t)

	send(t, conn, protocol.TypeSourceHello, protocol.SourceHello{
		SourceID: "src-1",
		Name:     "test source",
		Version:  ProtocolVersion,
	})

	msg := readMessage(t, conn)
	if msg.Type != protocol.TypeServerHello {
		t.Fatalf("expected server/hello, got %s", msg.Type)
	}

	var hello protocol.ServerHello
	if err := json.Unmarshal(msg.Payload, &hello); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if hello.Name != "test-receiver" || hello.ServerID == "" {
		t.Errorf("unexpected server hello: %+v", hello)
	}
}

func TestStreamChunksReachBackend(t *testing.T) {
	_, fake, conn := newTestServer(t)

	send(t, conn, protocol.TypeStreamStart, protocol.StreamStart{
		Codec: "pcm", SampleRate: 44100, Channels: 2, BitDepth: 16,
	})

	pcm := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	chunk := protocol.EncodeChunk(time.Now().UnixMicro(), pcm)
	if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		t.Fatalf("write chunk: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(fake.playedChunks()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	played := fake.playedChunks()
	if len(played) != 1 {
		t.Fatalf("expected 1 chunk played, got %d", len(played))
	}
	if string(played[0]) != string(pcm) {
		t.Errorf("expected %v, got %v", pcm, played[0])
	}
}

func TestSampleRateMismatchRefused(t *testing.T) {
	_, _, conn := newTestServer(t)

	send(t, conn, protocol.TypeStreamStart, protocol.StreamStart{
		Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16,
	})

	msg := readMessage(t, conn)
	if msg.Type != protocol.TypeStreamError {
		t.Fatalf("expected stream/error, got %s", msg.Type)
	}

	var streamErr protocol.StreamError
	if err := json.Unmarshal(msg.Payload, &streamErr); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if !strings.Contains(streamErr.Reason, "48000") {
		t.Errorf("expected rate in reason, got %q", streamErr.Reason)
	}
}

func TestFlushForwarded(t *testing.T) {
	_, fake, conn := newTestServer(t)

	send(t, conn, protocol.TypeStreamFlush, nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fake.flushCount() > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if fake.flushCount() != 1 {
		t.Errorf("expected 1 flush, got %d", fake.flushCount())
	}
}

func TestChunkBeforeStartIgnored(t *testing.T) {
	_, fake, conn := newTestServer(t)

	chunk := protocol.EncodeChunk(0, []byte{1, 0, 2, 0})
	if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		t.Fatalf("write chunk: %v", err)
	}

	// Give the session loop time to process; nothing may reach the backend.
	time.Sleep(100 * time.Millisecond)
	if got := len(fake.playedChunks()); got != 0 {
		t.Errorf("expected no chunks played, got %d", got)
	}
}
