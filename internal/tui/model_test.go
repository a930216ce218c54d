package tui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/volley/internal/dispatch"
	"github.com/mattjoyce/volley/internal/events"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func publishDispatch(hub *events.Hub, id string) {
	hub.Publish(events.DispatchStarted, id, dispatch.StartedEvent{
		Interface: "Orders",
		Step:      "Submit",
		TotalWork: 4,
		Channels:  2,
		Quota:     2,
		Deadline:  testNow.Add(time.Minute),
	})
	hub.Publish(events.AttemptCompleted, id, dispatch.AttemptEvent{Channel: 1, Outcome: dispatch.OutcomeSuccess})
	hub.Publish(events.AttemptCompleted, id, dispatch.AttemptEvent{Channel: 2, Outcome: dispatch.OutcomeSuccess})
	hub.Publish(events.AttemptCompleted, id, dispatch.AttemptEvent{Channel: 1, Outcome: dispatch.OutcomeTimeout, Detail: "call timed out"})
	hub.Publish(events.AttemptCompleted, id, dispatch.AttemptEvent{Channel: 2, Outcome: dispatch.OutcomeSuccess})
	hub.Publish(events.ChannelFinished, id, dispatch.ChannelResult{
		Channel: 1, Quota: 2, Issued: 2, Succeeded: 1, Failed: 1,
		Status: dispatch.StatusPartialError, StopReason: dispatch.StopQuota,
	})
	hub.Publish(events.ChannelFinished, id, dispatch.ChannelResult{
		Channel: 2, Quota: 2, Issued: 2, Succeeded: 2,
		Status: dispatch.StatusSuccess, StopReason: dispatch.StopQuota,
	})
	hub.Publish(events.DispatchFinished, id, dispatch.Report{
		DispatchID: id,
		Status:     dispatch.StatusPartialError,
		Issued:     4,
		Succeeded:  3,
		Elapsed:    1500 * time.Millisecond,
	})
}

func feed(t *testing.T, m Model, evs []events.Event) (Model, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, ev := range evs {
		var next tea.Model
		next, cmd = m.Update(ev)
		m = next.(Model)
	}
	return m, cmd
}

func TestModelTracksDispatch(t *testing.T) {
	hub := events.NewHub(32)
	publishDispatch(hub, "dispatch-1")

	m, _ := feed(t, New(nil, WithClock(func() time.Time { return testNow })), hub.Since(0))

	require.NotNil(t, m.Report())
	assert.Equal(t, dispatch.StatusPartialError, m.Report().Status)
	assert.Equal(t, 4, m.issued)
	assert.Equal(t, 3, m.succeeded)
	assert.Equal(t, 1, m.outcomes[dispatch.OutcomeTimeout])

	rows := m.rows()
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"1", "2/2", "1", "1", "Timeout", "PartialError (quota)"}, []string(rows[0]))
	assert.Equal(t, []string{"2", "2/2", "2", "0", "Success", "Success (quota)"}, []string(rows[1]))

	view := m.View()
	assert.Contains(t, view, "Orders/Submit")
	assert.Contains(t, view, "PARTIALERROR")
	assert.Contains(t, view, "Timeout 1")
	assert.Contains(t, view, "channel 1 Timeout call timed out")
}

func TestModelIgnoresOtherDispatches(t *testing.T) {
	hub := events.NewHub(32)
	hub.Publish(events.DispatchStarted, "mine", dispatch.StartedEvent{Channels: 1, Quota: 5})
	hub.Publish(events.AttemptCompleted, "other", dispatch.AttemptEvent{Channel: 1, Outcome: dispatch.OutcomeGeneric})
	hub.Publish(events.AttemptCompleted, "mine", dispatch.AttemptEvent{Channel: 1, Outcome: dispatch.OutcomeSuccess})

	m, _ := feed(t, New(nil), hub.Since(0))
	assert.Equal(t, "mine", m.dispatchID)
	assert.Equal(t, 1, m.issued)
	assert.Zero(t, m.outcomes[dispatch.OutcomeGeneric])
}

func TestModelJoinsMidDispatch(t *testing.T) {
	hub := events.NewHub(32)
	hub.Publish(events.AttemptCompleted, "late", dispatch.AttemptEvent{Channel: 3, Outcome: dispatch.OutcomeTransport})

	m, _ := feed(t, New(nil), hub.Since(0))
	assert.Equal(t, "late", m.dispatchID)
	rows := m.rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "3", rows[0][0])
	assert.Equal(t, "running", rows[0][5])
}

func TestModelNewDispatchResets(t *testing.T) {
	hub := events.NewHub(64)
	publishDispatch(hub, "first")
	hub.Publish(events.DispatchStarted, "second", dispatch.StartedEvent{Channels: 3, Quota: 1})

	m, _ := feed(t, New(nil), hub.Since(0))
	assert.Equal(t, "second", m.dispatchID)
	assert.Nil(t, m.Report())
	assert.Zero(t, m.issued)
	assert.Len(t, m.rows(), 3)
}

func TestModelExitOnFinish(t *testing.T) {
	hub := events.NewHub(32)
	publishDispatch(hub, "dispatch-1")

	_, cmd := feed(t, New(nil, ExitOnFinish()), hub.Since(0))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestModelWaitsForNextEvent(t *testing.T) {
	ch := make(chan events.Event, 1)
	hub := events.NewHub(4)
	hub.Publish(events.DispatchStarted, "d", dispatch.StartedEvent{Channels: 1, Quota: 1})

	m := New(ch)
	next, cmd := m.Update(hub.Since(0)[0])
	require.NotNil(t, cmd)

	ch <- events.Event{ID: 9, Type: events.DispatchFinished, DispatchID: "d", Data: []byte(`{"status":"Success"}`)}
	msg := cmd()
	require.IsType(t, events.Event{}, msg)
	assert.Equal(t, int64(9), msg.(events.Event).ID)

	close(ch)
	assert.IsType(t, streamClosedMsg{}, waitForEvent(ch)())

	next, _ = next.Update(streamClosedMsg{})
	assert.Contains(t, next.View(), "event stream closed")
}

func TestModelQuitKey(t *testing.T) {
	_, cmd := New(nil).Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestViewBeforeAnyDispatch(t *testing.T) {
	view := New(nil).View()
	assert.Contains(t, view, "waiting for a dispatch")
	assert.Contains(t, view, "no attempts yet")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.5s", formatDuration(1500*time.Millisecond))
	assert.Equal(t, "2m 5s", formatDuration(125*time.Second))
	assert.Equal(t, "1h 1m", formatDuration(61*time.Minute))
}
