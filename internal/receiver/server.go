// ABOUTME: WebSocket audio receiver feeding the output backend
// ABOUTME: Accepts one source, decodes chunks, and reports delay estimates
package receiver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wtangxyz/shairport-sync/internal/audio"
	"github.com/wtangxyz/shairport-sync/internal/output"
	"github.com/wtangxyz/shairport-sync/internal/protocol"
)

// ProtocolVersion of the stream protocol spoken on /stream.
const ProtocolVersion = 1

// Config holds receiver configuration.
type Config struct {
	Port        int
	Name        string
	BackendName string
	Format      audio.Format // the fixed format the backend runs at
}

// Server accepts one audio source over WebSocket and feeds its chunks into
// the output backend. A second source is refused while one is active.
type Server struct {
	config   Config
	out      output.Output
	serverID string

	upgrader   websocket.Upgrader
	mux        *http.ServeMux
	httpServer *http.Server

	mu     sync.Mutex
	active *session

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// session is one connected audio source.
type session struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex

	// decoder is only touched by the session goroutine.
	decoder audio.Decoder

	// mu guards fields read by the monitor from other goroutines.
	mu     sync.Mutex
	name   string
	format audio.Format
}

// New creates a receiver that submits audio to out.
func New(config Config, out output.Output) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:   config,
		out:      out,
		serverID: uuid.New().String(),
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			// Sources are other processes on a trusted local network,
			// not browsers.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
	s.mux.HandleFunc("/stream", s.handleStream)
	return s
}

// Handler exposes the receiver's HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start begins listening for sources.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.mux,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Printf("Receiver listening on :%d (ID: %s)", s.config.Port, s.serverID)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Receiver HTTP server error: %v", err)
		}
	}()
	return nil
}

// Stop shuts the receiver down and disconnects any active source.
func (s *Server) Stop() {
	s.cancel()

	// Shutdown does not touch hijacked connections; close the active
	// source's socket so its session loop unblocks.
	s.mu.Lock()
	if s.active != nil {
		s.active.conn.Close()
	}
	s.mu.Unlock()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("Receiver shutdown error: %v", err)
		}
	}
	s.wg.Wait()
}

// handleStream upgrades the connection and runs the session loop.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	sess := &session{
		id:   uuid.New().String(),
		conn: conn,
	}

	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		log.Printf("Refusing source %s: another source is active", r.RemoteAddr)
		s.sendError(sess, "another source is already streaming")
		conn.Close()
		return
	}
	s.active = sess
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runSession(sess)
	}()
}

// runSession reads messages from one source until it disconnects.
func (s *Server) runSession(sess *session) {
	defer func() {
		s.mu.Lock()
		if s.active == sess {
			s.active = nil
		}
		s.mu.Unlock()

		if sess.decoder != nil {
			sess.decoder.Close()
		}
		sess.conn.Close()
		log.Printf("Source session %s closed", sess.id)
	}()

	stopReports := s.startDelayReports(sess)
	defer stopReports()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		msgType, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Source read error: %v", err)
			}
			return
		}

		switch msgType {
		case websocket.TextMessage:
			if err := s.handleControl(sess, data); err != nil {
				log.Printf("Control message error: %v", err)
				s.sendError(sess, err.Error())
				return
			}
		case websocket.BinaryMessage:
			if err := s.handleChunk(sess, data); err != nil {
				log.Printf("Audio chunk error: %v", err)
			}
		}
	}
}

// handleControl dispatches one JSON control message.
func (s *Server) handleControl(sess *session, data []byte) error {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("malformed control message: %w", err)
	}

	switch msg.Type {
	case protocol.TypeSourceHello:
		var hello protocol.SourceHello
		if err := json.Unmarshal(msg.Payload, &hello); err != nil {
			return fmt.Errorf("malformed source/hello: %w", err)
		}
		sess.mu.Lock()
		sess.name = hello.Name
		sess.mu.Unlock()
		log.Printf("Source connected: %s (%s)", hello.Name, hello.SourceID)
		return s.sendJSON(sess, protocol.TypeServerHello, protocol.ServerHello{
			ServerID: s.serverID,
			Name:     s.config.Name,
			Version:  ProtocolVersion,
			Backend:  s.config.BackendName,
		})

	case protocol.TypeStreamStart:
		var start protocol.StreamStart
		if err := json.Unmarshal(msg.Payload, &start); err != nil {
			return fmt.Errorf("malformed stream/start: %w", err)
		}
		return s.startStream(sess, start)

	case protocol.TypeStreamFlush:
		// Fire-and-forget; the discard happens on the next render period.
		s.out.Flush()
		return nil

	case protocol.TypeStreamEnd:
		if sess.decoder != nil {
			sess.decoder.Close()
			sess.decoder = nil
		}
		log.Printf("Stream ended by source")
		return nil

	default:
		log.Printf("Ignoring unknown control message: %s", msg.Type)
		return nil
	}
}

// startStream validates the announced format against the backend's fixed
// format. There is no resampling: a rate or layout mismatch is refused
// outright, matching the backend's fatal-at-initialization policy.
func (s *Server) startStream(sess *session, start protocol.StreamStart) error {
	if start.SampleRate != s.config.Format.SampleRate {
		return fmt.Errorf("%w: stream at %d Hz, device at %d Hz",
			output.ErrSampleRateMismatch, start.SampleRate, s.config.Format.SampleRate)
	}
	if start.Channels != s.config.Format.Channels || start.BitDepth != s.config.Format.BitDepth {
		return fmt.Errorf("unsupported stream layout: %d channels, %d-bit (need %d channels, %d-bit)",
			start.Channels, start.BitDepth, s.config.Format.Channels, s.config.Format.BitDepth)
	}

	dec, err := audio.NewDecoder(audio.Format{
		Codec:      start.Codec,
		SampleRate: start.SampleRate,
		Channels:   start.Channels,
		BitDepth:   start.BitDepth,
	})
	if err != nil {
		return err
	}

	if sess.decoder != nil {
		sess.decoder.Close()
	}
	sess.decoder = dec
	sess.mu.Lock()
	sess.format = audio.Format{
		Codec:      start.Codec,
		SampleRate: start.SampleRate,
		Channels:   start.Channels,
		BitDepth:   start.BitDepth,
	}
	sess.mu.Unlock()
	log.Printf("Stream started: %s %dHz %dch %d-bit", start.Codec, start.SampleRate, start.Channels, start.BitDepth)
	return nil
}

// ActiveSource reports the connected source's name and stream format, if
// any. Used by the monitor.
func (s *Server) ActiveSource() (name string, format audio.Format, ok bool) {
	s.mu.Lock()
	sess := s.active
	s.mu.Unlock()
	if sess == nil {
		return "", audio.Format{}, false
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.name, sess.format, true
}

// handleChunk decodes one binary audio chunk and submits it to the backend.
func (s *Server) handleChunk(sess *session, data []byte) error {
	if sess.decoder == nil {
		return fmt.Errorf("audio chunk before stream/start")
	}

	_, payload, err := protocol.DecodeChunk(data)
	if err != nil {
		return err
	}

	pcm, err := sess.decoder.Decode(payload)
	if err != nil {
		return err
	}

	// Partial acceptance means overrun; the backend already logged it and
	// the excess frames are dropped rather than blocking the source.
	_, err = s.out.Play(pcm)
	return err
}

// startDelayReports periodically sends the current delay estimate to the
// source so it can pace itself. Returns a stop function.
func (s *Server) startDelayReports(sess *session) func() {
	ticker := time.NewTicker(time.Second)
	done := make(chan struct{})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-done:
				return
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				delay, err := s.out.Delay()
				if err != nil {
					continue
				}
				s.sendJSON(sess, protocol.TypeDelayReport, protocol.DelayReport{
					Frames:    delay,
					Timestamp: time.Now().UnixMicro(),
				})
			}
		}
	}()

	return func() {
		ticker.Stop()
		close(done)
	}
}

// sendJSON sends one control message to the source.
func (s *Server) sendJSON(sess *session, msgType string, payload interface{}) error {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}

	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	return sess.conn.WriteMessage(websocket.TextMessage, data)
}

// sendError best-effort reports a refusal reason before closing.
func (s *Server) sendError(sess *session, reason string) {
	if err := s.sendJSON(sess, protocol.TypeStreamError, protocol.StreamError{Reason: reason}); err != nil {
		log.Printf("Failed to send stream error: %v", err)
	}
}
