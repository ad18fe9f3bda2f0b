package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"scribe/recorder"
	"scribe/transcriber"
)

// TUI message types
type RecordingUpdateMsg struct{ Update recorder.Update }
type ActionsMsg struct{ Actions Actions }
type TranscriptionMsg struct{ Result transcriber.Result }
type StatusMsg struct {
	Text  string
	IsErr bool
}
type DeviceLineMsg struct{ Text string }
type transcribeDoneMsg struct{}
type tickMsg time.Time

// noVoiceRMS is the peak normalized level under which a recording is
// flagged as silent.
const noVoiceRMS = 0.01

// meterFullRMS is the normalized level that fills the meter; normal speech
// sits around half of it.
const meterFullRMS = 0.2

type tuiModel struct {
	ctrl     *Controller
	hotkey   string
	model    string
	selectCh chan<- struct{}

	frame         int
	width, height int

	state      recorder.State
	progress   float64
	elapsed    time.Duration
	level      float64
	peak       float64
	actions    Actions
	busy       bool
	deviceLine string
	status     string
	statusErr  bool
	lastText   string
	lastInfo   string
	count      int
}

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("255"))
	recStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	idleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	busyStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	infoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	textStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	keyStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	barFull    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	barEmpty   = lipgloss.NewStyle().Foreground(lipgloss.Color("236"))
	meterStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238")).Padding(0, 1)
)

func NewTUIProgram(ctrl *Controller, hotkeyLabel, modelName string, selectCh chan<- struct{}) *tea.Program {
	m := tuiModel{
		ctrl:     ctrl,
		hotkey:   hotkeyLabel,
		model:    modelName,
		selectCh: selectCh,
		actions:  ctrl.Actions(),
	}
	return tea.NewProgram(m, tea.WithAltScreen())
}

func tuiTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

// do runs a controller operation off the event loop; the controller
// reports back through tuiSend, which would block inside Update.
func do(f func()) tea.Cmd {
	return func() tea.Msg {
		f()
		return nil
	}
}

func (m tuiModel) transcribe() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		// result and errors arrive through the sink
		ctrl.OnTranscribeRequested(context.Background())
		return transcribeDoneMsg{}
	}
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r", "enter":
			return m, do(func() { m.ctrl.OnStartRequested(m.ctrl.Duration()) })
		case "s", " ":
			return m, do(func() { m.ctrl.OnStopRequested() })
		case "t":
			if !m.busy {
				m.busy = true
				return m, m.transcribe()
			}
		case "c":
			return m, do(func() { m.ctrl.CopyLast() })
		case "+", "=", "up":
			m.ctrl.AdjustDuration(5)
		case "-", "down":
			m.ctrl.AdjustDuration(-5)
		case "ctrl+g", "d":
			if m.selectCh != nil && m.actions.CanStart {
				select {
				case m.selectCh <- struct{}{}:
				default:
				}
			}
		}

	case tickMsg:
		m.frame++
		return m, tuiTick()

	case RecordingUpdateMsg:
		u := msg.Update
		if u.State == recorder.Recording && m.state != recorder.Recording {
			m.peak, m.level = 0, 0
		}
		m.state = u.State
		if u.State == recorder.Recording || u.State == recorder.Stopping || u.Progress > 0 {
			m.progress = u.Progress
			m.elapsed = u.Elapsed
		}
		if u.State == recorder.Recording && u.Chunks > 0 {
			m.level = m.level*0.6 + u.Level*0.4
			m.peak = max(m.peak, u.Level)
		} else {
			m.level = 0
		}

	case ActionsMsg:
		m.actions = msg.Actions

	case transcribeDoneMsg:
		m.busy = false

	case TranscriptionMsg:
		m.count++
		m.lastText = msg.Result.Text
		m.lastInfo = fmt.Sprintf("%.1fs audio, %v, %s", msg.Result.AudioLength.Seconds(),
			msg.Result.Elapsed.Round(10*time.Millisecond), msg.Result.TranscriptPath)

	case StatusMsg:
		m.status = msg.Text
		m.statusErr = msg.IsErr

	case DeviceLineMsg:
		m.deviceLine = msg.Text
	}
	return m, nil
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}
	width := max(m.width-4, 20)

	var b strings.Builder
	b.WriteString(titleStyle.Render("scribe") + dimStyle.Render(" "+version) + "\n\n")
	b.WriteString(m.statusLine() + "\n")
	b.WriteString(renderBar(m.progress, min(width-8, 50)) + fmt.Sprintf(" %3.0f%%", m.progress) + "\n")

	if m.state == recorder.Recording {
		b.WriteString(renderMeter(m.level, min(width-8, 50)) + "\n")
		if m.noVoice() {
			b.WriteString(warnStyle.Render("  ⚠ no voice detected") + "\n")
		}
	} else {
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(infoStyle.Render(fmt.Sprintf("duration %ds  |  model %s", m.ctrl.Duration(), m.model)) + "\n")
	if m.deviceLine != "" {
		b.WriteString(idleStyle.Render(m.deviceLine) + "\n")
	}
	if m.status != "" {
		style := infoStyle
		if m.statusErr {
			style = errStyle
		}
		for _, line := range wrapText(m.status, width) {
			b.WriteString(style.Render(line) + "\n")
		}
	}
	b.WriteString("\n")

	var panel strings.Builder
	if m.lastText != "" {
		panel.WriteString(infoStyle.Render(fmt.Sprintf("Last transcription (#%d)", m.count)) + "\n\n")
		for _, line := range wrapText(m.lastText, width-4) {
			panel.WriteString(textStyle.Render(line) + "\n")
		}
		panel.WriteString("\n" + dimStyle.Render(m.lastInfo))
	} else {
		panel.WriteString(idleStyle.Render("No transcriptions yet"))
	}
	b.WriteString(panelStyle.Width(width).Render(panel.String()) + "\n\n")

	b.WriteString(m.helpLine())
	return b.String()
}

func (m tuiModel) statusLine() string {
	switch m.state {
	case recorder.Recording:
		dot := "●"
		if m.frame%10 >= 5 {
			dot = " "
		}
		return recStyle.Render(fmt.Sprintf("%s REC %.1fs", dot, m.elapsed.Seconds()))
	case recorder.Stopping:
		return busyStyle.Render("■ STOPPING")
	case recorder.Transcribing:
		spinner := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		return busyStyle.Render(spinner[m.frame%len(spinner)] + " TRANSCRIBING")
	case recorder.Saved:
		return infoStyle.Render("✓ SAVED")
	case recorder.Done:
		return infoStyle.Render("✓ DONE")
	case recorder.Failed:
		return errStyle.Render("✗ FAILED")
	}
	return idleStyle.Render("○ STANDBY")
}

func (m tuiModel) helpLine() string {
	key := func(k, label string, enabled bool) string {
		if !enabled {
			return dimStyle.Render(k + " " + label)
		}
		return keyStyle.Render(k) + infoStyle.Render(" "+label)
	}
	parts := []string{
		key("r", "record", m.actions.CanStart),
		key("s", "stop", m.actions.CanStop),
		key("t", "transcribe", m.actions.CanTranscribe && !m.busy),
		key("c", "copy", m.lastText != ""),
		key("+/-", "duration", true),
		key("d", "mic", m.actions.CanStart && m.selectCh != nil),
		key("q", "quit", true),
	}
	line := strings.Join(parts, dimStyle.Render("  "))
	if m.hotkey != "" {
		line += "\n" + dimStyle.Render(m.hotkey+": tap to start/stop, hold to talk")
	}
	return line
}

func renderBar(pct float64, width int) string {
	width = max(width, 10)
	filled := int(pct / 100 * float64(width))
	filled = min(max(filled, 0), width)
	return barFull.Render(strings.Repeat("█", filled)) + barEmpty.Render(strings.Repeat("░", width-filled))
}

func (m tuiModel) noVoice() bool {
	return m.state == recorder.Recording && m.elapsed > time.Second && m.peak < noVoiceRMS
}

func meterCells(rms float64, width int) int {
	n := int(rms / meterFullRMS * float64(width))
	return min(max(n, 0), width)
}

// renderMeter maps a normalized RMS level to a bar.
func renderMeter(rms float64, width int) string {
	width = max(width, 10)
	n := meterCells(rms, width)
	return meterStyle.Render(strings.Repeat("▮", n)) + barEmpty.Render(strings.Repeat("▯", width-n))
}

func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// tuiSink delivers controller events to the running program.
type tuiSink struct{}

func (tuiSink) RecordingUpdate(u recorder.Update)    { tuiSend(RecordingUpdateMsg{Update: u}) }
func (tuiSink) ActionsChanged(a Actions)             { tuiSend(ActionsMsg{Actions: a}) }
func (tuiSink) Transcription(res transcriber.Result) { tuiSend(TranscriptionMsg{Result: res}) }
func (tuiSink) Message(text string, isErr bool)      { tuiSend(StatusMsg{Text: text, IsErr: isErr}) }

// wrapText breaks text into lines of at most width terminal cells,
// preferring to split at spaces.
func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for runewidth.StringWidth(text) > width {
		cut, cells, lastSpace := 0, 0, -1
		for i, r := range text {
			w := runewidth.RuneWidth(r)
			if cells+w > width {
				cut = i
				break
			}
			if r == ' ' {
				lastSpace = i
			}
			cells += w
		}
		if cut == 0 {
			// a single rune wider than the line
			_, cut = utf8.DecodeRuneInString(text)
		}

		splitAt := cut
		if cut < len(text) && text[cut] != ' ' && lastSpace > 0 {
			splitAt = lastSpace
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if text == "" {
		return lines
	}
	return append(lines, text)
}
