package model

import (
	"context"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/modoterra/idevlog/pkg/core"
	"github.com/modoterra/idevlog/pkg/filter"
	"github.com/modoterra/idevlog/pkg/transport/uds"
)

const maxLogLines = 500

// Pane identifies which TUI pane is focused.
type Pane int

const (
	PaneDevices Pane = iota
	PaneSession
	PaneLogs
)

// Mode identifies the current interaction mode.
type Mode int

const (
	ModeNormal Mode = iota
	ModeSearch
)

// App is the root Bubble Tea model of the live viewer.
type App struct {
	// Connection
	client     *uds.Client
	socketPath string
	connected  bool
	events     chan uds.Message

	// State
	status      uds.StatusResponse
	selectedIdx int
	logLines    []core.LogLine
	logPaused   bool
	lastSession *uds.SessionEvent

	// UI
	activePane Pane
	mode       Mode
	search     textinput.Model
	width      int
	height     int

	// Error display
	statusMsg string
}

// New creates a new TUI app model.
func New(socketPath string) App {
	si := textinput.New()
	si.Placeholder = "keyword..."
	si.CharLimit = 64

	return App{
		socketPath: socketPath,
		events:     make(chan uds.Message, 256),
		search:     si,
		activePane: PaneLogs,
		mode:       ModeNormal,
	}
}

// Init connects to the collector.
func (a App) Init() tea.Cmd {
	return tea.Batch(
		connectCmd(a.socketPath),
		tea.SetWindowTitle("idevlog"),
	)
}

// tickMsg triggers periodic refresh.
type tickMsg time.Time

// connectedMsg indicates successful collector connection.
type connectedMsg struct{ client *uds.Client }

// statusMsg carries a status snapshot from the collector.
type statusMsg struct{ status uds.StatusResponse }

// recentMsg carries the backlog of matched lines.
type recentMsg struct{ lines []core.LogLine }

// logLineMsg carries a matched log line.
type logLineMsg core.LogLine

// sessionMsg reports a finished session.
type sessionMsg uds.SessionEvent

// devicesChangedMsg asks for a status refresh after an attach or detach.
type devicesChangedMsg struct{}

// disconnectedMsg reports the collector went away.
type disconnectedMsg struct{}

// errorMsg carries an error to display.
type errorMsg struct{ err error }

// badEventMsg reports an undecodable event without ending the event stream.
type badEventMsg struct{ err error }

func connectCmd(socketPath string) tea.Cmd {
	return func() tea.Msg {
		client, err := uds.Dial(socketPath)
		if err != nil {
			return errorMsg{err}
		}
		return connectedMsg{client}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchStatusCmd(client *uds.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var st uds.StatusResponse
		if err := client.Call(ctx, uds.MethodStatus, nil, &st); err != nil {
			return errorMsg{err}
		}
		return statusMsg{st}
	}
}

func fetchRecentCmd(client *uds.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var lines []core.LogLine
		if err := client.Call(ctx, uds.MethodRecent, uds.RecentRequest{Limit: maxLogLines}, &lines); err != nil {
			return errorMsg{err}
		}
		return recentMsg{lines}
	}
}

// waitEventCmd blocks until the next pushed event and converts it to a message.
func waitEventCmd(events <-chan uds.Message, done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case m := <-events:
			return eventToMsg(m)
		case <-done:
			return disconnectedMsg{}
		}
	}
}

func eventToMsg(m uds.Message) tea.Msg {
	switch m.Method {
	case uds.EventLogsLine:
		var l core.LogLine
		if err := m.UnmarshalData(&l); err != nil {
			return badEventMsg{err}
		}
		return logLineMsg(l)
	case uds.EventSessionStatus:
		var ev uds.SessionEvent
		if err := m.UnmarshalData(&ev); err != nil {
			return badEventMsg{err}
		}
		return sessionMsg(ev)
	default:
		return devicesChangedMsg{}
	}
}

// Update handles messages.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case connectedMsg:
		a.client = msg.client
		a.connected = true
		a.statusMsg = "connected"

		events := a.events
		a.client.OnEvent(func(m uds.Message) {
			select {
			case events <- m:
			default:
			}
		})

		return a, tea.Batch(tickCmd(), fetchStatusCmd(a.client), fetchRecentCmd(a.client), a.nextEvent())

	case tickMsg:
		if a.client != nil && a.connected {
			return a, tea.Batch(tickCmd(), fetchStatusCmd(a.client))
		}
		return a, tickCmd()

	case statusMsg:
		a.status = msg.status
		if a.selectedIdx >= len(a.status.Devices) {
			a.selectedIdx = max(0, len(a.status.Devices)-1)
		}
		return a, nil

	case recentMsg:
		a.logLines = append(msg.lines, a.logLines...)
		a.trimLogs()
		return a, nil

	case logLineMsg:
		if !a.logPaused {
			a.logLines = append(a.logLines, core.LogLine(msg))
			a.trimLogs()
		}
		return a, a.nextEvent()

	case sessionMsg:
		ev := uds.SessionEvent(msg)
		a.lastSession = &ev
		a.statusMsg = "session " + strconv.Itoa(ev.Session) + ": " + ev.Status
		return a, a.nextEvent()

	case devicesChangedMsg:
		if a.client == nil {
			return a, nil
		}
		return a, tea.Batch(fetchStatusCmd(a.client), a.nextEvent())

	case disconnectedMsg:
		a.connected = false
		a.statusMsg = "collector disconnected"
		return a, nil

	case errorMsg:
		a.statusMsg = "error: " + msg.err.Error()
		return a, nil

	case badEventMsg:
		a.statusMsg = "error: " + msg.err.Error()
		return a, a.nextEvent()

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	return a, nil
}

func (a App) nextEvent() tea.Cmd {
	if a.client == nil {
		return nil
	}
	return waitEventCmd(a.events, a.client.Done())
}

func (a *App) trimLogs() {
	if len(a.logLines) > maxLogLines {
		a.logLines = a.logLines[len(a.logLines)-maxLogLines:]
	}
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Search mode
	if a.mode == ModeSearch {
		switch msg.String() {
		case "esc":
			a.mode = ModeNormal
			a.search.SetValue("")
			a.search.Blur()
			return a, nil
		case "enter":
			a.mode = ModeNormal
			a.search.Blur()
			return a, nil
		default:
			var cmd tea.Cmd
			a.search, cmd = a.search.Update(msg)
			return a, cmd
		}
	}

	// Normal mode
	switch msg.String() {
	case "q", "ctrl+c":
		if a.client != nil {
			a.client.Close()
		}
		return a, tea.Quit

	case "j", "down":
		if a.activePane == PaneDevices && len(a.status.Devices) > 0 {
			a.selectedIdx = min(a.selectedIdx+1, len(a.status.Devices)-1)
		}
	case "k", "up":
		if a.activePane == PaneDevices && a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case "tab":
		a.activePane = (a.activePane + 1) % 3

	case "/":
		a.mode = ModeSearch
		a.search.Focus()
		return a, textinput.Blink

	case "l":
		a.activePane = PaneLogs

	case " ":
		if a.activePane == PaneLogs {
			a.logPaused = !a.logPaused
		}

	case "c":
		a.logLines = nil
		a.statusMsg = "cleared"
	}

	return a, nil
}

// filteredLogs applies the search keyword the same way the collector applies
// its output keyword.
func (a App) filteredLogs() []core.LogLine {
	kw := a.search.Value()
	if kw == "" {
		return a.logLines
	}
	var filtered []core.LogLine
	for _, l := range a.logLines {
		if filter.Stage2(l.Line, kw) {
			filtered = append(filtered, l)
		}
	}
	return filtered
}
