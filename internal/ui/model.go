// ABOUTME: Bubbletea model for the receiver monitor TUI
// ABOUTME: Shows stream format, buffer occupancy, delay, and transfer stats
package ui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// Model represents the monitor state.
type Model struct {
	// Source
	connected  bool
	sourceName string

	// Stream
	codec      string
	sampleRate int
	channels   int
	bitDepth   int
	backend    string

	// Buffer
	bufferedFrames int
	bufferCapacity int
	delayFrames    int64

	// Stats
	framesSubmitted uint64
	framesRendered  uint64
	underruns       uint64
	overruns        uint64

	showDebug bool

	width  int
	height int
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the monitor.
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	s := ""
	s += m.renderHeader()
	s += m.renderStreamInfo()
	s += m.renderBuffer()
	s += m.renderStats()

	if m.showDebug {
		s += m.renderDebug()
	}

	s += m.renderHelp()

	return s
}

// renderHeader renders source connection status.
func (m Model) renderHeader() string {
	connStatus := "Waiting for source"
	if m.connected {
		connStatus = fmt.Sprintf("Source: %s", truncate(m.sourceName, 38))
	}

	return fmt.Sprintf(`┌─ Shairport Sync ─────────────────────────────────────┐
│ %-52s │
├──────────────────────────────────────────────────────┤
`, connStatus)
}

// renderStreamInfo renders the active stream format.
func (m Model) renderStreamInfo() string {
	if m.codec == "" {
		return "│ No stream                                            │\n"
	}

	return fmt.Sprintf("│ Format: %s %dHz %s %d-bit via %s%-8s │\n",
		m.codec, m.sampleRate, channelName(m.channels), m.bitDepth, m.backend, "")
}

// renderBuffer renders occupancy and the delay estimate.
func (m Model) renderBuffer() string {
	occupancyBar := "░░░░░░░░░░"
	pct := 0
	if m.bufferCapacity > 0 {
		occupancyBar = renderBar(m.bufferedFrames, m.bufferCapacity, 10)
		pct = m.bufferedFrames * 100 / m.bufferCapacity
	}

	delayMs := float64(0)
	if m.sampleRate > 0 {
		delayMs = float64(m.delayFrames) * 1000.0 / float64(m.sampleRate)
	}

	return fmt.Sprintf("│                                                      │\n"+
		"│ Buffer: [%s] %3d%% (%d frames)%-12s │\n"+
		"│ Delay:  %d frames (%.1f ms)%-20s │\n",
		occupancyBar, pct, m.bufferedFrames, "",
		m.delayFrames, delayMs, "")
}

// renderStats renders transfer statistics.
func (m Model) renderStats() string {
	return fmt.Sprintf(`├──────────────────────────────────────────────────────┤
│ Stats:  In: %d  Out: %d%-20s │
│ Underrun periods: %d  Overrun frames: %d%-10s │
`, m.framesSubmitted, m.framesRendered, "", m.underruns, m.overruns, "")
}

// renderHelp renders keyboard shortcuts.
func (m Model) renderHelp() string {
	return `│ d:Debug  q:Quit                                      │
└──────────────────────────────────────────────────────┘
`
}

// renderDebug renders raw counters.
func (m Model) renderDebug() string {
	return fmt.Sprintf(`│ DEBUG:                                               │
│   Capacity: %d frames                                │
│   Submitted: %d  Rendered: %d                        │
`, m.bufferCapacity, m.framesSubmitted, m.framesRendered)
}

// handleKey handles keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// applyStatus updates the model from a status message.
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Connected != nil {
		m.connected = *msg.Connected
	}
	if msg.SourceName != "" {
		m.sourceName = msg.SourceName
	}
	if msg.Codec != "" {
		m.codec = msg.Codec
		m.sampleRate = msg.SampleRate
		m.channels = msg.Channels
		m.bitDepth = msg.BitDepth
	}
	if msg.Backend != "" {
		m.backend = msg.Backend
	}
	// Counters and buffer state come from the same stats snapshot every
	// tick, so zero is a real value (fresh backend), not a missing field.
	m.bufferCapacity = msg.BufferCapacity
	m.bufferedFrames = msg.BufferedFrames
	m.delayFrames = msg.DelayFrames
	m.framesSubmitted = msg.FramesSubmitted
	m.framesRendered = msg.FramesRendered
	m.underruns = msg.Underruns
	m.overruns = msg.Overruns
}

// StatusMsg updates monitor state.
type StatusMsg struct {
	Connected       *bool
	SourceName      string
	Codec           string
	SampleRate      int
	Channels        int
	BitDepth        int
	Backend         string
	BufferedFrames  int
	BufferCapacity  int
	DelayFrames     int64
	FramesSubmitted uint64
	FramesRendered  uint64
	Underruns       uint64
	Overruns        uint64
}

// Utility functions
func renderBar(value, max, width int) string {
	if value > max {
		value = max
	}
	filled := (value * width) / max
	bar := ""
	for i := 0; i < width; i++ {
		if i < filled {
			bar += "█"
		} else {
			bar += "░"
		}
	}
	return bar
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

func channelName(channels int) string {
	if channels == 1 {
		return "Mono"
	}
	return "Stereo"
}
