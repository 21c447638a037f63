// ABOUTME: Test source that streams a local MP3 file to a receiver
// ABOUTME: Decodes to PCM and sends paced chunks over the stream protocol
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	mp3 "github.com/hajimehoshi/go-mp3"

	"github.com/wtangxyz/shairport-sync/internal/protocol"
)

const (
	sampleRate    = 44100
	channels      = 2
	bytesPerFrame = channels * 2
	chunkFrames   = 1024
)

var (
	serverAddr = flag.String("server", "localhost:5100", "Receiver address")
	filePath   = flag.String("file", "", "MP3 file to stream (required)")
	sourceName = flag.String("name", "mp3cast", "Source name")
)

func main() {
	flag.Parse()

	if *filePath == "" {
		flag.Usage()
		os.Exit(2)
	}

	f, err := os.Open(*filePath)
	if err != nil {
		log.Fatalf("Failed to open %s: %v", *filePath, err)
	}
	defer f.Close()

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		log.Fatalf("Failed to decode %s: %v", *filePath, err)
	}
	// go-mp3 always produces 16-bit stereo; the receiver has no resampler,
	// so anything but its fixed rate is refused up front.
	if decoder.SampleRate() != sampleRate {
		log.Fatalf("%s is %d Hz; the receiver only accepts %d Hz", *filePath, decoder.SampleRate(), sampleRate)
	}

	conn, err := connect(*serverAddr)
	if err != nil {
		log.Fatalf("Connection failed: %v", err)
	}
	defer conn.Close()

	// Drain delay reports and other control traffic so the websocket read
	// buffer never fills up.
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg protocol.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Type == protocol.TypeDelayReport {
				var report protocol.DelayReport
				if err := json.Unmarshal(msg.Payload, &report); err == nil {
					log.Printf("Receiver delay: %d frames (%.1f ms)",
						report.Frames, float64(report.Frames)*1000.0/sampleRate)
				}
			}
		}
	}()

	if err := stream(conn, decoder); err != nil {
		log.Fatalf("Streaming failed: %v", err)
	}

	log.Printf("Done")
}

// connect dials the receiver and performs the handshake.
func connect(addr string) (*websocket.Conn, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/stream"}
	log.Printf("Connecting to %s", u.String())

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	hello, err := protocol.Encode(protocol.TypeSourceHello, protocol.SourceHello{
		SourceID: uuid.New().String(),
		Name:     *sourceName,
		Version:  1,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send source/hello: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read server/hello: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to parse server/hello: %w", err)
	}
	if msg.Type != protocol.TypeServerHello {
		conn.Close()
		return nil, fmt.Errorf("expected server/hello, got %s", msg.Type)
	}

	var serverHello protocol.ServerHello
	if err := json.Unmarshal(msg.Payload, &serverHello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to parse server/hello payload: %w", err)
	}
	log.Printf("Connected to %s (backend: %s)", serverHello.Name, serverHello.Backend)

	return conn, nil
}

// stream sends the decoded PCM in realtime-paced chunks.
func stream(conn *websocket.Conn, decoder *mp3.Decoder) error {
	start, err := protocol.Encode(protocol.TypeStreamStart, protocol.StreamStart{
		Codec:      "pcm",
		SampleRate: sampleRate,
		Channels:   channels,
		BitDepth:   16,
	})
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, start); err != nil {
		return fmt.Errorf("failed to send stream/start: %w", err)
	}

	// Pace chunks at their audio duration so the receiver's buffer absorbs
	// jitter instead of overflowing.
	chunkDuration := time.Duration(chunkFrames) * time.Second / sampleRate
	ticker := time.NewTicker(chunkDuration)
	defer ticker.Stop()

	buf := make([]byte, chunkFrames*bytesPerFrame)
	for {
		n, err := io.ReadFull(decoder, buf)
		n -= n % bytesPerFrame
		if n > 0 {
			chunk := protocol.EncodeChunk(time.Now().UnixMicro(), buf[:n])
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				return fmt.Errorf("failed to send chunk: %w", err)
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return fmt.Errorf("decode failed: %w", err)
		}
		<-ticker.C
	}

	end, err := protocol.Encode(protocol.TypeStreamEnd, nil)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, end); err != nil {
		return fmt.Errorf("failed to send stream/end: %w", err)
	}
	return nil
}
