package model

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/modoterra/idevlog/pkg/core"
	"github.com/modoterra/idevlog/pkg/transport/uds"
)

func update(t *testing.T, a App, msg tea.Msg) App {
	t.Helper()
	m, _ := a.Update(msg)
	return m.(App)
}

func key(s string) tea.KeyMsg {
	switch s {
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestLogLinesAppendAndPause(t *testing.T) {
	a := New("/nonexistent.sock")
	a = update(t, a, logLineMsg{Line: "com.x one"})
	a = update(t, a, key(" "))
	if !a.logPaused {
		t.Fatal("space on the logs pane should pause")
	}
	a = update(t, a, logLineMsg{Line: "com.x dropped"})
	a = update(t, a, key(" "))
	a = update(t, a, logLineMsg{Line: "com.x two"})

	if len(a.logLines) != 2 || a.logLines[0].Line != "com.x one" || a.logLines[1].Line != "com.x two" {
		t.Errorf("log lines: %+v", a.logLines)
	}
}

func TestLogBufferIsBounded(t *testing.T) {
	a := New("/nonexistent.sock")
	for i := 0; i < maxLogLines+20; i++ {
		a = update(t, a, logLineMsg{Line: "line"})
	}
	if len(a.logLines) != maxLogLines {
		t.Errorf("log lines: got %d, want %d", len(a.logLines), maxLogLines)
	}
}

func TestSearchFiltersLogs(t *testing.T) {
	a := New("/nonexistent.sock")
	a.logLines = []core.LogLine{{Line: "com.x network timeout"}, {Line: "com.x ok"}, {Line: "com.x Timeout"}}

	a = update(t, a, key("/"))
	if a.mode != ModeSearch {
		t.Fatal("expected search mode")
	}
	for _, r := range "timeout" {
		a = update(t, a, key(string(r)))
	}
	a = update(t, a, key("enter"))

	got := a.filteredLogs()
	if len(got) != 1 || got[0].Line != "com.x network timeout" {
		t.Errorf("filtered logs: %+v", got)
	}

	a = update(t, a, key("/"))
	a = update(t, a, key("esc"))
	if len(a.filteredLogs()) != 3 {
		t.Errorf("esc should clear the filter")
	}
}

func TestStatusAndSessionMessages(t *testing.T) {
	a := New("/nonexistent.sock")
	a.selectedIdx = 4
	a = update(t, a, statusMsg{uds.StatusResponse{App: "com.x", State: "streaming", Devices: []string{"A", "B"}}})
	if a.status.App != "com.x" || a.selectedIdx != 1 {
		t.Errorf("status not applied: %+v idx=%d", a.status, a.selectedIdx)
	}

	a = update(t, a, sessionMsg{Session: 2, Status: "partial: stream error"})
	if a.lastSession == nil || !strings.Contains(a.statusMsg, "session 2") {
		t.Errorf("session message not applied: %q", a.statusMsg)
	}

	a = update(t, a, errorMsg{errors.New("boom")})
	if a.statusMsg != "error: boom" {
		t.Errorf("statusMsg: %q", a.statusMsg)
	}
}

func TestEventToMsg(t *testing.T) {
	line, _ := uds.NewEvent(uds.EventLogsLine, core.LogLine{UDID: "A", Line: "com.x hi"})
	if m, ok := eventToMsg(line).(logLineMsg); !ok || m.Line != "com.x hi" {
		t.Errorf("logs.line event: %#v", eventToMsg(line))
	}

	session, _ := uds.NewEvent(uds.EventSessionStatus, uds.SessionEvent{Session: 1, Status: "success"})
	if m, ok := eventToMsg(session).(sessionMsg); !ok || m.Status != "success" {
		t.Errorf("session event: %#v", eventToMsg(session))
	}

	delta, _ := uds.NewEvent(uds.EventDevicesDelta, map[string]any{"detached": []string{"A"}})
	if _, ok := eventToMsg(delta).(devicesChangedMsg); !ok {
		t.Errorf("devices event: %#v", eventToMsg(delta))
	}

	bad := uds.Message{Type: uds.MsgTypeEvt, Method: uds.EventLogsLine}
	if _, ok := eventToMsg(bad).(badEventMsg); !ok {
		t.Errorf("empty logs.line event: %#v", eventToMsg(bad))
	}
}

func TestViewRenders(t *testing.T) {
	a := New("/nonexistent.sock")
	if a.View() != "loading..." {
		t.Error("expected loading view before window size")
	}
	a = update(t, a, tea.WindowSizeMsg{Width: 100, Height: 30})
	a = update(t, a, statusMsg{uds.StatusResponse{App: "com.x", State: "streaming", StartedAt: time.Now().UnixMilli()}})
	a = update(t, a, logLineMsg{Line: "com.x visible line"})

	out := a.View()
	for _, want := range []string{"Devices", "com.x visible line", "streaming"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdefgh", 6); got != "abc..." {
		t.Errorf("truncate: %q", got)
	}
	if got := truncate("abc", 6); got != "abc" {
		t.Errorf("truncate short: %q", got)
	}
}
