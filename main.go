// ABOUTME: Entry point for the shairport-sync receiver daemon
// ABOUTME: Parses CLI flags and wires the backend, receiver, discovery, and monitor
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/wtangxyz/shairport-sync/internal/audio"
	"github.com/wtangxyz/shairport-sync/internal/discovery"
	"github.com/wtangxyz/shairport-sync/internal/output"
	"github.com/wtangxyz/shairport-sync/internal/receiver"
	"github.com/wtangxyz/shairport-sync/internal/ui"
	"github.com/wtangxyz/shairport-sync/internal/version"
)

var (
	backendName   = flag.String("backend", "oto", "Audio output backend (oto, malgo)")
	port          = flag.Int("port", 5100, "Port for the stream receiver")
	name          = flag.String("name", "", "Receiver name (default: hostname-shairport)")
	bufferSeconds = flag.Int("buffer-seconds", output.DefaultBufferSeconds, "Hand-off buffer size in seconds")
	logFile       = flag.String("log-file", "shairport-sync.log", "Log file path")
	noMDNS        = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	noTUI         = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
)

func main() {
	flag.Parse()

	useTUI := !*noTUI

	// Set up logging
	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	if useTUI {
		// TUI mode: log only to file
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	receiverName := *name
	if receiverName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		receiverName = fmt.Sprintf("%s-shairport", hostname)
	}

	log.Printf("Starting %s %s: %s", version.Product, version.Version, receiverName)

	// Audio backend
	out, err := output.New(*backendName)
	if err != nil {
		log.Fatalf("%v", err)
	}

	cfg := output.Config{
		SampleRate:    output.DefaultSampleRate,
		Channels:      output.DefaultChannels,
		BufferSeconds: *bufferSeconds,
	}
	if err := out.Init(cfg); err != nil {
		log.Fatalf("Failed to initialize %s backend: %v", *backendName, err)
	}
	if err := out.Start(); err != nil {
		log.Fatalf("Failed to start %s backend: %v", *backendName, err)
	}

	// Stream receiver
	recv := receiver.New(receiver.Config{
		Port:        *port,
		Name:        receiverName,
		BackendName: *backendName,
		Format: audio.Format{
			Codec:      "pcm",
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
			BitDepth:   16,
		},
	}, out)
	if err := recv.Start(); err != nil {
		log.Fatalf("Failed to start receiver: %v", err)
	}

	// mDNS advertisement
	var disc *discovery.Manager
	if !*noMDNS {
		disc = discovery.NewManager(discovery.Config{
			ServiceName: receiverName,
			Port:        *port,
		})
		if err := disc.Advertise(); err != nil {
			log.Printf("mDNS advertisement failed: %v", err)
		}
	}

	// Monitor TUI
	var tuiProg *tea.Program
	if useTUI {
		tuiProg, err = ui.Run()
		if err != nil {
			log.Fatalf("Failed to start TUI: %v", err)
		}
		go statsUpdateLoop(out, recv, *backendName, tuiProg)
	}

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if tuiProg != nil {
		tuiDone := make(chan struct{})
		go func() {
			tuiProg.Run()
			close(tuiDone)
		}()
		select {
		case <-tuiDone:
			log.Printf("TUI exited")
		case <-sigChan:
			log.Printf("Shutdown signal received")
			tuiProg.Quit()
		}
	} else {
		<-sigChan
		log.Printf("Shutdown signal received")
	}

	// Tear down in reverse order: stop accepting audio, withdraw the
	// advertisement, then release the device once the callback is quiet.
	recv.Stop()
	if disc != nil {
		disc.Stop()
	}
	if err := out.Stop(); err != nil {
		log.Printf("Error stopping backend: %v", err)
	}
	if err := out.Deinit(); err != nil {
		log.Printf("Error deinitializing backend: %v", err)
	}

	log.Printf("Receiver stopped")
}

// statsUpdateLoop periodically pushes backend and receiver state to the TUI.
func statsUpdateLoop(out output.Output, recv *receiver.Server, backendName string, tuiProg *tea.Program) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		msg := ui.StatusMsg{Backend: backendName}

		sourceName, format, ok := recv.ActiveSource()
		connected := ok
		msg.Connected = &connected
		if ok {
			msg.SourceName = sourceName
			msg.Codec = format.Codec
			msg.SampleRate = format.SampleRate
			msg.Channels = format.Channels
			msg.BitDepth = format.BitDepth
		}

		if delay, err := out.Delay(); err == nil {
			msg.DelayFrames = delay
		}
		if reporter, ok := out.(output.StatsReporter); ok {
			stats := reporter.Stats()
			msg.BufferedFrames = stats.BufferedFrames
			msg.BufferCapacity = stats.BufferCapacity
			msg.FramesSubmitted = stats.FramesSubmitted
			msg.FramesRendered = stats.FramesRendered
			msg.Underruns = stats.UnderrunPeriods
			msg.Overruns = stats.OverrunFrames
		}

		tuiProg.Send(msg)
	}
}
