package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusStopped = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusWaiting = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	activePaneStyle = paneStyle.
			BorderForeground(lipgloss.Color("205"))

	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// View renders the TUI.
func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "loading..."
	}

	statusBarH := 2
	topH := max(a.height/4, 6)
	logPaneH := a.height - topH - statusBarH - 4
	listW := a.width*2/5 - 2
	detailW := a.width - listW - 4

	devices := a.renderDevices(listW, topH)
	devicePane := a.paneBox(PaneDevices, " Devices ", devices, listW, topH)

	session := a.renderSession()
	sessionPane := a.paneBox(PaneSession, " Session ", session, detailW, topH)

	topRow := lipgloss.JoinHorizontal(lipgloss.Top, devicePane, sessionPane)

	logs := a.renderLogs(a.width-4, logPaneH)
	logPane := a.paneBox(PaneLogs, a.logTitle(), logs, a.width-4, logPaneH)

	statusBar := a.renderStatusBar()

	return lipgloss.JoinVertical(lipgloss.Left, topRow, logPane, statusBar)
}

func (a App) paneBox(pane Pane, title, content string, w, h int) string {
	style := paneStyle
	if a.activePane == pane {
		style = activePaneStyle
	}
	return style.Width(w).Height(h).Render(
		titleStyle.Render(title) + "\n" + content,
	)
}

func (a App) renderDevices(w, h int) string {
	devices := a.status.Devices
	if len(devices) == 0 {
		return dimStyle.Render("no devices attached")
	}

	var b strings.Builder
	maxVisible := h - 2
	start := 0
	if a.selectedIdx >= maxVisible {
		start = a.selectedIdx - maxVisible + 1
	}

	for i := start; i < len(devices) && i-start < maxVisible; i++ {
		udid := devices[i]
		indicator := dimStyle.Render("○")
		if udid == a.status.UDID {
			indicator = statusRunning.Render("●")
		}
		line := fmt.Sprintf(" %s %-*s", indicator, w-6, truncate(udid, w-6))
		if i == a.selectedIdx && a.activePane == PaneDevices {
			line = selectedStyle.Width(w).Render(line)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func (a App) renderSession() string {
	st := a.status
	if !a.connected && st.App == "" {
		return dimStyle.Render("not connected")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "App:      %s\n", st.App)
	fmt.Fprintf(&b, "State:    %s\n", colorState(st.State))
	if st.UDID != "" {
		fmt.Fprintf(&b, "Device:   %s\n", dimStyle.Render(st.UDID))
	}
	fmt.Fprintf(&b, "Session:  %d\n", st.Session)
	fmt.Fprintf(&b, "Written:  %d  Matched: %d\n", st.Written, st.Matched)
	fmt.Fprintf(&b, "Output:   %s\n", dimStyle.Render(st.OutputPath))
	if st.LastStatus != "" {
		last := st.LastStatus
		if st.LastError != "" {
			last += ": " + st.LastError
		}
		fmt.Fprintf(&b, "Last:     %s\n", last)
	}
	if st.StartedAt > 0 {
		fmt.Fprintf(&b, "Uptime:   %s\n", formatDuration(time.Since(time.UnixMilli(st.StartedAt))))
	}
	return b.String()
}

func (a App) renderLogs(w, h int) string {
	lines := a.filteredLogs()
	if len(lines) == 0 {
		return dimStyle.Render("no matching log lines")
	}

	start := 0
	if len(lines) > h-1 {
		start = len(lines) - h + 1
	}

	var b strings.Builder
	for i := start; i < len(lines); i++ {
		b.WriteString(truncate(lines[i].Line, w) + "\n")
	}
	if a.mode == ModeSearch {
		b.WriteString(a.search.View())
	}
	return b.String()
}

func (a App) logTitle() string {
	title := " Logs "
	if kw := a.search.Value(); kw != "" {
		title += dimStyle.Render("["+kw+"]") + " "
	}
	if a.logPaused {
		title += dimStyle.Render("[PAUSED]") + " "
	}
	return title
}

func (a App) renderStatusBar() string {
	left := a.statusMsg
	right := "tab:pane /:filter space:pause c:clear q:quit"
	if a.mode == ModeSearch {
		right = "enter:apply esc:cancel"
	}

	gap := a.width - len(left) - len(right)
	if gap < 1 {
		gap = 1
	}
	return helpStyle.Render(left + strings.Repeat(" ", gap) + right)
}

func colorState(state string) string {
	switch state {
	case "streaming":
		return statusRunning.Render(state)
	case "connecting", "draining":
		return statusWaiting.Render(state)
	case "terminated":
		return statusStopped.Render(state)
	case "":
		return statusFailed.Render("unknown")
	default:
		return dimStyle.Render(state)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:max(maxLen, 0)]
	}
	return s[:maxLen-3] + "..."
}

func formatDuration(d time.Duration) string {
	sec := int64(d / time.Second)
	if sec < 60 {
		return fmt.Sprintf("%ds", sec)
	}
	if sec < 3600 {
		return fmt.Sprintf("%dm%ds", sec/60, sec%60)
	}
	return fmt.Sprintf("%dh%dm", sec/3600, (sec%3600)/60)
}
