package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/bnema/waypolicy/internal/event"
)

// DefaultWatchHistory is how many events the watch view keeps on screen.
const DefaultWatchHistory = 200

// EventMsg carries one daemon event into the program.
type EventMsg struct {
	Event event.Event
	At    time.Time
}

// StreamClosedMsg reports the end of the event stream.
type StreamClosedMsg struct {
	Err error
}

type watchEntry struct {
	at time.Time
	ev event.Event
}

// WatchModel is the bubbletea model behind the watch command.
type WatchModel struct {
	events  <-chan EventMsg
	closed  <-chan error
	entries []watchEntry
	history int
	paused  bool
	err     error
	ended   bool
	width   int
	height  int
}

// NewWatchModel reads events until the events channel is closed, then
// reports the error received on closed, if any.
func NewWatchModel(events <-chan EventMsg, closed <-chan error) *WatchModel {
	return &WatchModel{
		events:  events,
		closed:  closed,
		history: DefaultWatchHistory,
	}
}

func (m *WatchModel) Init() tea.Cmd {
	return m.waitForEvent()
}

func (m *WatchModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-m.events
		if !ok {
			var err error
			if m.closed != nil {
				err = <-m.closed
			}
			return StreamClosedMsg{Err: err}
		}
		return msg
	}
}

func (m *WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "c":
			m.entries = nil
		case "p":
			m.paused = !m.paused
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case EventMsg:
		if !m.paused {
			m.entries = append(m.entries, watchEntry{at: msg.At, ev: msg.Event})
			if len(m.entries) > m.history {
				m.entries = m.entries[len(m.entries)-m.history:]
			}
		}
		return m, m.waitForEvent()

	case StreamClosedMsg:
		m.ended = true
		m.err = msg.Err
	}

	return m, nil
}

func (m *WatchModel) View() string {
	var b strings.Builder

	header := TitleStyle.Render("Waypolicy events")
	switch {
	case m.ended && m.err != nil:
		header += " " + ErrorStyle.Render(m.err.Error())
	case m.ended:
		header += " " + SubtleStyle.Render("stream closed")
	case m.paused:
		header += " " + WarningStyle.Render("paused")
	}
	b.WriteString(header + "\n\n")

	entries := m.entries
	if visible := m.height - 5; m.height > 0 && visible > 0 && len(entries) > visible {
		entries = entries[len(entries)-visible:]
	}
	if len(entries) == 0 {
		b.WriteString(SubtleStyle.Render("  waiting for events...") + "\n")
	}
	for _, e := range entries {
		b.WriteString(FormatEvent(e.at, e.ev) + "\n")
	}

	b.WriteString("\n" + FormatControl("q", "quit") + "  " + FormatControl("c", "clear") + "  " + FormatControl("p", "pause"))
	return b.String()
}

// Len returns the number of events held by the view.
func (m *WatchModel) Len() int {
	return len(m.entries)
}

// FormatEvent renders one event line.
func FormatEvent(at time.Time, e event.Event) string {
	return fmt.Sprintf("%s %s %s",
		SubtleStyle.Render(at.Format("15:04:05")),
		eventStyle(e.Type).Render(fmt.Sprintf("%-24s", e.Type)),
		strings.TrimSpace(strings.TrimPrefix(e.String(), string(e.Type))))
}

func eventStyle(t event.Type) lipgloss.Style {
	switch t {
	case event.ShortcutGranted, event.VirtualOutputCreated, event.SessionActivated:
		return SuccessStyle
	case event.ShortcutDenied, event.SessionRemoved:
		return ErrorStyle
	case event.ShortcutReleased, event.VirtualOutputDestroyed, event.SessionReplaced:
		return WarningStyle
	default:
		return InfoStyle
	}
}
