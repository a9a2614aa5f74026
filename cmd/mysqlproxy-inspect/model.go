package main

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/efreet/mysqlproxy/highlight"
)

type viewMode int

const (
	viewList viewMode = iota
	viewDetail
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	dimStyle    = lipgloss.NewStyle().Faint(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	alertStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	selStyle    = lipgloss.NewStyle().Reverse(true)
)

// model is the Bubble Tea model for mysqlproxy-inspect: a live,
// scrolling list of log events tailed from a JSON log stream, with a
// detail pane for the currently selected event's query text.
type model struct {
	events chan logEvent
	log    []logEvent

	cursor int
	follow bool
	view   viewMode
	width  int
	height int
}

func newModel(events chan logEvent) model {
	return model{events: events, follow: true}
}

func (m model) Init() tea.Cmd {
	return waitForEvent(m.events)
}

type eventMsg logEvent
type streamClosedMsg struct{}

func waitForEvent(ch chan logEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case eventMsg:
		m.log = append(m.log, logEvent(msg))
		if m.follow {
			m.cursor = len(m.log) - 1
		}
		return m, waitForEvent(m.events)

	case streamClosedMsg:
		return m, nil

	case tea.KeyMsg:
		return m.updateKey(msg)
	}
	return m, nil
}

func (m model) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		if m.view == viewDetail {
			m.view = viewList
			return m, nil
		}
		return m, tea.Quit
	case "enter":
		if len(m.log) > 0 {
			m.view = viewDetail
		}
		return m, nil
	case "esc":
		m.view = viewList
		return m, nil
	case "f":
		m.follow = !m.follow
		if m.follow && len(m.log) > 0 {
			m.cursor = len(m.log) - 1
		}
		return m, nil
	case "j", "down":
		if m.cursor < len(m.log)-1 {
			m.cursor++
		}
		m.follow = false
		return m, nil
	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
		}
		m.follow = false
		return m, nil
	case "G":
		m.cursor = max(len(m.log)-1, 0)
		m.follow = true
		return m, nil
	}
	return m, nil
}

func (m model) View() string {
	if m.width == 0 {
		return "starting…\n"
	}
	switch m.view {
	case viewDetail:
		return m.renderDetail()
	default:
		return m.renderList()
	}
}

func (m model) renderList() string {
	var b strings.Builder
	follow := "off"
	if m.follow {
		follow = "on"
	}
	fmt.Fprintf(&b, headerStyle.Render("mysqlproxy-inspect")+dimStyle.Render(fmt.Sprintf("  events=%d follow=%s", len(m.log), follow))+"\n")
	b.WriteString(dimStyle.Render("↑/↓ select  enter detail  f follow  q quit") + "\n\n")

	visible := max(m.height-4, 1)
	start := 0
	if len(m.log) > visible {
		start = min(m.cursor-visible/2, len(m.log)-visible)
		start = max(start, 0)
	}
	end := min(start+visible, len(m.log))

	for i := start; i < end; i++ {
		line := formatRow(m.log[i])
		if i == m.cursor {
			line = selStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func formatRow(ev logEvent) string {
	ts := ev.Time.Format("15:04:05.000")
	cmd := ev.Cmd
	if cmd == "" {
		cmd = ev.Message
	}
	summary := ev.Query
	if summary == "" {
		summary = ev.Message
	}
	summary = strings.ReplaceAll(summary, "\n", " ")
	summary = ansi.Cut(summary, 0, 80)

	row := fmt.Sprintf("%s  %-7s  %-12s  %s", ts, cmd, ev.ConnID, summary)
	if ev.Err != "" {
		return errStyle.Render(row + "  [" + ev.Err + "]")
	}
	if ev.Message == "repeated query pattern detected" {
		return alertStyle.Render(row)
	}
	return row
}

func (m model) renderDetail() string {
	if m.cursor >= len(m.log) {
		return ""
	}
	ev := m.log[m.cursor]

	var b strings.Builder
	b.WriteString(headerStyle.Render("event detail") + "  " + dimStyle.Render("esc/q back") + "\n\n")
	fmt.Fprintf(&b, "%s  %s\n", dimStyle.Render("time"), ev.Time.Format("2006-01-02 15:04:05.000"))
	fmt.Fprintf(&b, "%s  %s\n", dimStyle.Render("conn"), ev.ConnID)
	fmt.Fprintf(&b, "%s  %s\n", dimStyle.Render("cmd"), ev.Cmd)
	if ev.Duration > 0 {
		fmt.Fprintf(&b, "%s  %s\n", dimStyle.Render("duration"), ev.Duration)
	}
	if ev.Err != "" {
		fmt.Fprintf(&b, "%s  %s\n", dimStyle.Render("error"), errStyle.Render(ev.Err))
	}
	b.WriteString("\n")
	if ev.Query != "" {
		b.WriteString(highlight.SQL(ev.Query) + "\n")
	} else {
		b.WriteString(ev.Message + "\n")
	}
	return b.String()
}
