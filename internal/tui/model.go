// Package tui renders live dispatch progress from the event hub: one row per channel,
// outcome totals, and the overall status once the dispatch finishes.
package tui

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/volley/internal/dispatch"
	"github.com/mattjoyce/volley/internal/events"
)

const maxLogLines = 8

type streamClosedMsg struct{}

type tickMsg time.Time

// channelState is one channel's progress as seen through events.
type channelState struct {
	channel   int
	quota     int
	issued    int
	succeeded int
	failed    int
	last      dispatch.Outcome
	done      bool
	status    dispatch.Status
	stop      string
}

// Model is the bubbletea model for the progress view. Its messages are plain
// events.Event values, so callers may also drive it with Update directly.
type Model struct {
	source <-chan events.Event

	dispatchID string
	started    dispatch.StartedEvent
	startedAt  time.Time
	channels   map[int]*channelState
	outcomes   map[dispatch.Outcome]int
	issued     int
	succeeded  int
	report     *dispatch.Report
	eventLog   []string
	closed     bool

	exitOnFinish bool
	now          func() time.Time

	width   int
	height  int
	spinner spinner.Model
	table   table.Model
	theme   Theme
}

// Option configures a Model.
type Option func(*Model)

// ExitOnFinish quits the program once dispatch.finished arrives.
func ExitOnFinish() Option {
	return func(m *Model) { m.exitOnFinish = true }
}

// WithClock overrides the clock used for elapsed and remaining time.
func WithClock(now func() time.Time) Option {
	return func(m *Model) { m.now = now }
}

// New creates a progress model reading from source until it is closed.
func New(source <-chan events.Event, opts ...Option) Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "CH", Width: 4},
			{Title: "Issued", Width: 9},
			{Title: "OK", Width: 9},
			{Title: "Failed", Width: 9},
			{Title: "Last", Width: 12},
			{Title: "State", Width: 22},
		}),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Cell
	t.SetStyles(s)

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B"))

	m := Model{
		source:   source,
		channels: make(map[int]*channelState),
		outcomes: make(map[dispatch.Outcome]int),
		now:      time.Now,
		spinner:  sp,
		table:    t,
		theme:    NewDefaultTheme(),
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Report returns the final report, or nil while the dispatch is still running.
func (m Model) Report() *dispatch.Report {
	return m.report
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		waitForEvent(m.source),
		m.spinner.Tick,
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if h := msg.Height - 16; h > 3 {
			m.table.SetHeight(h)
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case events.Event:
		m.apply(msg)
		m.table.SetRows(m.rows())
		if m.report != nil && m.exitOnFinish {
			return m, tea.Quit
		}
		return m, waitForEvent(m.source)

	case streamClosedMsg:
		m.closed = true
		if m.exitOnFinish {
			return m, tea.Quit
		}
	}

	return m, nil
}

func waitForEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return ev
	}
}

func (m *Model) apply(ev events.Event) {
	if ev.Type == events.DispatchStarted {
		var started dispatch.StartedEvent
		if err := ev.Decode(&started); err != nil {
			return
		}
		m.reset(ev.DispatchID, ev.At)
		m.started = started
		for ch := 1; ch <= started.Channels; ch++ {
			m.channels[ch] = &channelState{channel: ch, quota: started.Quota}
		}
		m.logLine(ev, fmt.Sprintf("%s/%s on %d channels, quota %d", started.Interface, started.Step, started.Channels, started.Quota))
		return
	}

	// Joining mid-dispatch adopts whichever dispatch the first event belongs to.
	if m.dispatchID == "" {
		m.reset(ev.DispatchID, ev.At)
	}
	if ev.DispatchID != m.dispatchID {
		return
	}

	switch ev.Type {
	case events.AttemptCompleted:
		var a dispatch.AttemptEvent
		if err := ev.Decode(&a); err != nil {
			return
		}
		cs := m.channel(a.Channel)
		cs.issued++
		cs.last = a.Outcome
		m.issued++
		m.outcomes[a.Outcome]++
		if a.Outcome == dispatch.OutcomeSuccess {
			cs.succeeded++
			m.succeeded++
			return
		}
		cs.failed++
		m.logLine(ev, fmt.Sprintf("channel %d %s %s", a.Channel, a.Outcome, a.Detail))

	case events.ChannelFinished:
		var r dispatch.ChannelResult
		if err := ev.Decode(&r); err != nil {
			return
		}
		cs := m.channel(r.Channel)
		cs.done = true
		cs.status = r.Status
		cs.stop = r.StopReason
		cs.quota = r.Quota
		cs.issued = r.Issued
		cs.succeeded = r.Succeeded
		cs.failed = r.Failed

	case events.DispatchFinished:
		var r dispatch.Report
		if err := ev.Decode(&r); err != nil {
			return
		}
		m.report = &r
		m.logLine(ev, fmt.Sprintf("finished %s: %d issued, %d succeeded", r.Status, r.Issued, r.Succeeded))
	}
}

func (m *Model) reset(dispatchID string, at time.Time) {
	m.dispatchID = dispatchID
	m.startedAt = at
	m.started = dispatch.StartedEvent{}
	m.channels = make(map[int]*channelState)
	m.outcomes = make(map[dispatch.Outcome]int)
	m.issued = 0
	m.succeeded = 0
	m.report = nil
}

func (m *Model) channel(ch int) *channelState {
	cs, ok := m.channels[ch]
	if !ok {
		cs = &channelState{channel: ch, quota: m.started.Quota}
		m.channels[ch] = cs
	}
	return cs
}

func (m *Model) logLine(ev events.Event, text string) {
	line := fmt.Sprintf("%s %s", ev.At.Local().Format("15:04:05"), strings.TrimSpace(text))
	m.eventLog = append([]string{line}, m.eventLog...)
	if len(m.eventLog) > maxLogLines {
		m.eventLog = m.eventLog[:maxLogLines]
	}
}

func (m Model) rows() []table.Row {
	keys := make([]int, 0, len(m.channels))
	for ch := range m.channels {
		keys = append(keys, ch)
	}
	sort.Ints(keys)

	rows := make([]table.Row, 0, len(keys))
	for _, ch := range keys {
		cs := m.channels[ch]
		state := "running"
		if cs.done {
			state = fmt.Sprintf("%s (%s)", cs.status, cs.stop)
		}
		last := string(cs.last)
		if last == "" {
			last = "-"
		}
		rows = append(rows, table.Row{
			strconv.Itoa(cs.channel),
			fmt.Sprintf("%d/%d", cs.issued, cs.quota),
			strconv.Itoa(cs.succeeded),
			strconv.Itoa(cs.failed),
			last,
			state,
		})
	}
	return rows
}

func (m Model) View() string {
	width := m.width
	if width == 0 {
		width = 80
	}
	innerWidth := width - 4

	parts := []string{
		m.theme.Border.Width(innerWidth).Render(m.renderHeader()),
		m.table.View(),
		m.renderOutcomes(),
	}
	if len(m.eventLog) > 0 {
		parts = append(parts, m.theme.Border.Width(innerWidth).Render(
			lipgloss.JoinVertical(lipgloss.Left, m.theme.Title.Render("EVENTS"), strings.Join(m.eventLog, "\n"))))
	}
	if m.closed {
		parts = append(parts, m.theme.StatusFailed.Render(" event stream closed"))
	}
	parts = append(parts, m.theme.Dim.Render(" [q] Quit"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func (m Model) renderHeader() string {
	if m.dispatchID == "" {
		return m.theme.Title.Render("VOLLEY") + m.theme.Dim.Render(" waiting for a dispatch...")
	}

	state := m.spinner.View() + " " + m.theme.StatusRunning.Render("RUNNING")
	if m.report != nil {
		state = m.theme.status(m.report.Status).Render(strings.ToUpper(m.report.Status.String()))
	}
	title := fmt.Sprintf("%s %s/%s %s  %s",
		m.theme.Title.Render("VOLLEY"),
		m.started.Interface, m.started.Step,
		m.theme.Dim.Render(shortID(m.dispatchID)),
		state)

	elapsed := m.now().Sub(m.startedAt)
	if m.report != nil {
		elapsed = m.report.Elapsed
	}
	stats := fmt.Sprintf(" Issued %s  OK %s  Elapsed %s",
		m.theme.Highlight.Render(fmt.Sprintf("%d/%d", m.issued, m.started.TotalWork)),
		m.theme.StatusOK.Render(strconv.Itoa(m.succeeded)),
		formatDuration(elapsed))
	if m.report == nil && !m.started.Deadline.IsZero() {
		remaining := m.started.Deadline.Sub(m.now())
		if remaining < 0 {
			remaining = 0
		}
		stats += "  Deadline in " + formatDuration(remaining)
	}

	return lipgloss.JoinVertical(lipgloss.Left, title, stats)
}

func (m Model) renderOutcomes() string {
	order := []dispatch.Outcome{
		dispatch.OutcomeSuccess,
		dispatch.OutcomeFailed,
		dispatch.OutcomeTimeout,
		dispatch.OutcomeTransport,
		dispatch.OutcomeConcurrent,
		dispatch.OutcomeGeneric,
	}
	var parts []string
	for _, o := range order {
		if n := m.outcomes[o]; n > 0 {
			parts = append(parts, m.theme.outcome(o).Render(fmt.Sprintf("%s %d", o, n)))
		}
	}
	if len(parts) == 0 {
		return m.theme.Dim.Render(" no attempts yet")
	}
	return " " + strings.Join(parts, "  ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
