package main

import (
	"fmt"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUI message types
type RecordingStartMsg struct{}
type RecordingStopMsg struct{}
type RecordingTickMsg struct{ Seconds float64 }
type AudioLevelMsg struct{ RMS float64 }
type PartialMsg struct{ Text string }
type CommittedMsg struct {
	Text       string
	Confidence float64
}
type ConnLineMsg struct{ Text string }   // websocket status
type DeviceLineMsg struct{ Text string } // capture device name
type WarningMsg struct{ Text string }
type ClearWarningMsg struct{}
type UpdateAvailableMsg struct{ Version string }

var (
	tuiProgram   *tea.Program
	tuiMu        sync.Mutex
	tuiReady     = make(chan struct{})
	tuiReadyOnce sync.Once
)

// tuiSend delivers a message to the running program, dropping it when
// no TUI is up.
func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// tuiSink forwards pipeline events into the Bubble Tea program.
type tuiSink struct{}

func (tuiSink) RecordingStart()              { tuiSend(RecordingStartMsg{}) }
func (tuiSink) RecordingStop()               { tuiSend(RecordingStopMsg{}) }
func (tuiSink) RecordingTick(s float64)      { tuiSend(RecordingTickMsg{Seconds: s}) }
func (tuiSink) AudioLevel(rms float64)       { tuiSend(AudioLevelMsg{RMS: rms}) }
func (tuiSink) Partial(text string)          { tuiSend(PartialMsg{Text: text}) }
func (tuiSink) ConnLine(text string)         { tuiSend(ConnLineMsg{Text: text}) }
func (tuiSink) DeviceLine(text string)       { tuiSend(DeviceLineMsg{Text: text}) }
func (tuiSink) Warning(text string)          { tuiSend(WarningMsg{Text: text}) }
func (tuiSink) ClearWarning()                { tuiSend(ClearWarningMsg{}) }
func (tuiSink) UpdateAvailable(v string)     { tuiSend(UpdateAvailableMsg{Version: v}) }
func (tuiSink) Committed(text string, confidence float64) {
	tuiSend(CommittedMsg{Text: text, Confidence: confidence})
}

// Pre-computed styles to avoid allocations in the render loop.
var (
	recStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	idleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	faintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	partialStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
	textStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	meterGreen   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	meterYellow  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	meterRed     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	meterOff     = lipgloss.NewStyle().Foreground(lipgloss.Color("236"))
)

const (
	meterWidth = 30
	// RMS of comfortable speech sits around 0.05-0.15; the gain maps
	// that range onto the meter's upper half.
	meterGain = 6.0
)

type tuiModel struct {
	recording bool
	seconds   float64
	level     float64 // smoothed RMS
	peak      float64

	partial    string
	lastText   string
	lastConf   float64
	count      int
	connLine   string
	deviceLine string
	warning    string
	updateVer  string

	width, height int
}

func NewTUIProgram() *tea.Program {
	return tea.NewProgram(tuiModel{}, tea.WithAltScreen())
}

func (m tuiModel) Init() tea.Cmd {
	tuiReadyOnce.Do(func() { close(tuiReady) })
	return nil
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "ctrl+g":
			select {
			case deviceSelectChan <- struct{}{}:
			default:
			}
		}

	case RecordingStartMsg:
		m.recording = true
		m.seconds = 0
		m.level = 0
		m.peak = 0
		m.partial = ""

	case RecordingStopMsg:
		m.recording = false
		m.level = 0
		m.partial = ""

	case RecordingTickMsg:
		m.seconds = msg.Seconds

	case AudioLevelMsg:
		if m.recording {
			m.level = m.level*0.6 + msg.RMS*0.4
			if msg.RMS > m.peak {
				m.peak = msg.RMS
			}
		}

	case PartialMsg:
		m.partial = msg.Text

	case CommittedMsg:
		m.count++
		m.lastText = msg.Text
		m.lastConf = msg.Confidence
		m.partial = ""

	case ConnLineMsg:
		m.connLine = msg.Text

	case DeviceLineMsg:
		m.deviceLine = msg.Text

	case WarningMsg:
		m.warning = msg.Text

	case ClearWarningMsg:
		m.warning = ""

	case UpdateAvailableMsg:
		m.updateVer = msg.Version
	}
	return m, nil
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	wrapWidth := m.width - 4
	if wrapWidth > 76 {
		wrapWidth = 76
	}
	if wrapWidth < 10 {
		wrapWidth = 10
	}

	var b strings.Builder
	b.WriteString("\n  " + titleStyle.Render("dikta") + "\n\n")

	if m.recording {
		b.WriteString("  " + recStyle.Render(fmt.Sprintf("● REC %.1fs", m.seconds)) + "\n")
		b.WriteString("  " + renderMeter(m.level, m.peak) + "\n")
	} else {
		b.WriteString("  " + idleStyle.Render("○ idle — hotkey to record") + "\n")
		b.WriteString("  " + renderMeter(0, 0) + "\n")
	}
	if m.warning != "" {
		b.WriteString("  " + warnStyle.Render("⚠ "+m.warning) + "\n")
	}
	b.WriteString("\n")

	if m.deviceLine != "" {
		b.WriteString("  " + dimStyle.Render(m.deviceLine) + "\n")
	}
	if m.connLine != "" {
		b.WriteString("  " + dimStyle.Render(m.connLine) + "\n")
	}
	b.WriteString("\n")

	if m.partial != "" {
		for _, line := range wrapText(m.partial, wrapWidth) {
			b.WriteString("  " + partialStyle.Render(line) + "\n")
		}
		b.WriteString("\n")
	}

	if m.lastText != "" {
		title := fmt.Sprintf("#%d (%.2f)", m.count, m.lastConf)
		b.WriteString("  " + titleStyle.Render(title) + "\n")
		for _, line := range wrapText(m.lastText, wrapWidth) {
			b.WriteString("  " + textStyle.Render(line) + "\n")
		}
		b.WriteString("\n")
	} else if !m.recording {
		b.WriteString("  " + dimStyle.Render("No transcriptions yet") + "\n\n")
	}

	b.WriteString("  " + faintStyle.Render("ctrl+g devices · ctrl+c quit") + "\n")
	footer := "dikta " + version
	if m.updateVer != "" {
		footer += " — " + m.updateVer + " available, run `dikta update`"
	}
	b.WriteString("  " + faintStyle.Render(footer) + "\n")

	return b.String()
}

func meterCells(v float64) int {
	n := int(v * meterGain * meterWidth)
	if n > meterWidth {
		n = meterWidth
	}
	return n
}

// renderMeter draws the level bar: green into yellow into red as the
// smoothed RMS climbs, with a peak-hold cell for the session maximum.
func renderMeter(level, peak float64) string {
	filled := meterCells(level)
	peakCell := meterCells(peak) - 1
	var b strings.Builder
	for i := 0; i < meterWidth; i++ {
		if i >= filled && i != peakCell {
			b.WriteString(meterOff.Render("▱"))
			continue
		}
		switch {
		case i >= meterWidth*17/20:
			b.WriteString(meterRed.Render("▰"))
		case i >= meterWidth*3/5:
			b.WriteString(meterYellow.Render("▰"))
		default:
			b.WriteString(meterGreen.Render("▰"))
		}
	}
	return b.String()
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		// Find last space within width
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}
