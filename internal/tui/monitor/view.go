package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/marcus/vistoria/internal/models"
	"github.com/marcus/vistoria/internal/output"
)

// renderView renders the complete TUI view
func (m Model) renderView() string {
	if m.Width == 0 || m.Height == 0 {
		return "Loading..."
	}

	// Handle small terminal sizes gracefully
	if m.Width < MinWidth || m.Height < MinHeight {
		return m.renderCompact()
	}

	if m.ShowHelp {
		return m.renderHelp()
	}

	header := m.renderHeader()

	// Status panel is fixed height; queue and files share the rest
	statusHeight := 8
	availableHeight := m.Height - statusHeight - 3
	queueHeight := availableHeight * 2 / 3
	filesHeight := availableHeight - queueHeight

	panels := lipgloss.JoinVertical(lipgloss.Left,
		m.renderStatusPanel(statusHeight),
		m.renderQueuePanel(queueHeight),
		m.renderFilesPanel(filesHeight),
	)

	return lipgloss.JoinVertical(lipgloss.Left, header, panels, m.renderFooter())
}

// renderCompact renders a minimal view for small terminals
func (m Model) renderCompact() string {
	var s strings.Builder

	s.WriteString("vistoria monitor (resize for full view)\n\n")
	s.WriteString(m.connectivityLabel() + "\n")
	s.WriteString(fmt.Sprintf("Pending: %d | Failed: %d | Files: %d\n",
		m.Snapshot.Pending+m.Snapshot.Processing,
		m.Snapshot.Failed,
		m.Snapshot.FilesPending))
	s.WriteString("\nq:quit s:sync r:refresh ?:help")

	return s.String()
}

// renderHeader renders the connectivity and run indicator line
func (m Model) renderHeader() string {
	var run string
	if m.Snapshot.Syncing {
		run = m.Spinner.View() + " syncing"
	} else {
		run = "idle, last run " + formatOutcome(m.Snapshot.LastOutcome)
	}
	return fmt.Sprintf(" %s  %s  %s", titleStyle.Render("vistoria"), m.connectivityBadge(), run)
}

func (m Model) connectivityLabel() string {
	if m.online() {
		return "online"
	}
	return "offline"
}

func (m Model) connectivityBadge() string {
	if m.online() {
		return onlineBadge.Render(" ONLINE ")
	}
	return offlineBadge.Render(" OFFLINE ")
}

// renderStatusPanel renders the aggregate counters (Panel 1)
func (m Model) renderStatusPanel(height int) string {
	s := m.Snapshot
	var content strings.Builder

	fmt.Fprintf(&content, "Queue   %d pending  %d processing  %d failed  %d completed\n",
		s.Pending, s.Processing, s.Failed, s.Completed)
	fmt.Fprintf(&content, "Files   %d pending  %d failed\n", s.FilesPending, s.FilesFailed)
	fmt.Fprintf(&content, "Fields  %d waiting to reach the server\n", s.UnsyncedFields)

	if m.LastResult != nil {
		r := m.LastResult
		fmt.Fprintf(&content, "Last    %d ok  %d failed  %d fields  %d files  in %s\n",
			r.ItemsSucceeded, r.ItemsFailed, r.FieldsPushed, r.FilesUploaded, r.Duration.Round(time.Millisecond))
	}
	if m.Notice != "" {
		content.WriteString(errorStyle.Render(m.Notice))
		content.WriteString("\n")
	}
	if m.Err != nil {
		content.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.Err)))
		content.WriteString("\n")
	}

	return m.wrapPanel("STATUS", content.String(), height, PanelStatus)
}

// renderQueuePanel renders the sync queue (Panel 2)
func (m Model) renderQueuePanel(height int) string {
	var content strings.Builder

	if len(m.Queue) == 0 {
		content.WriteString(subtleStyle.Render("Queue is empty"))
		return m.wrapPanel("QUEUE", content.String(), height, PanelQueue)
	}

	offset := m.ScrollOffset[PanelQueue]
	visible := m.visibleItems(len(m.Queue), offset, height-3)
	for i := offset; i < offset+visible; i++ {
		content.WriteString(m.formatQueueRow(&m.Queue[i]))
		content.WriteString("\n")
	}

	return m.wrapPanel(fmt.Sprintf("QUEUE (%d)", len(m.Queue)), content.String(), height, PanelQueue)
}

// renderFilesPanel renders pending uploads (Panel 3)
func (m Model) renderFilesPanel(height int) string {
	var content strings.Builder

	if len(m.Files) == 0 {
		content.WriteString(subtleStyle.Render("No uploads"))
		return m.wrapPanel("FILES", content.String(), height, PanelFiles)
	}

	offset := m.ScrollOffset[PanelFiles]
	visible := m.visibleItems(len(m.Files), offset, height-3)
	for i := offset; i < offset+visible; i++ {
		content.WriteString(m.formatFileRow(&m.Files[i]))
		content.WriteString("\n")
	}

	return m.wrapPanel(fmt.Sprintf("FILES (%d)", len(m.Files)), content.String(), height, PanelFiles)
}

// formatQueueRow formats a queue item in a compact single-line format
func (m Model) formatQueueRow(item *models.SyncQueueItem) string {
	parts := []string{
		subtleStyle.Render(fmt.Sprintf("%4d", item.ID)),
		output.QueueBadge(item.Status),
		titleStyle.Render(string(item.Type)),
		subtleStyle.Render(fmt.Sprintf("p%d %d/%d", item.Priority, item.RetryCount, item.MaxRetries)),
	}
	if item.LastAttempt != nil {
		parts = append(parts, timestampStyle.Render(item.LastAttempt.Format("15:04:05")))
	}
	if item.LastError != "" {
		parts = append(parts, errorStyle.Render(item.LastError))
	}
	return strings.Join(parts, " ")
}

// formatFileRow formats an upload job in a compact single-line format
func (m Model) formatFileRow(f *models.FileQueueItem) string {
	parts := []string{
		subtleStyle.Render(fmt.Sprintf("%4d", f.ID)),
		formatFileStatus(f.Status),
		f.FileName,
		subtleStyle.Render(output.FormatBytes(len(f.Data))),
		subtleStyle.Render(fmt.Sprintf("%d/%d", f.RetryCount, f.MaxRetries)),
	}
	if f.LastError != "" {
		parts = append(parts, errorStyle.Render(f.LastError))
	}
	return strings.Join(parts, " ")
}

// renderFooter renders the footer with key bindings and refresh time
func (m Model) renderFooter() string {
	keys := helpStyle.Render("q:quit  tab:switch  j/k:scroll  s:sync  R:retry  r:refresh  ?:help")
	refresh := timestampStyle.Render(fmt.Sprintf("Last: %s", m.LastRefresh.Format("15:04:05")))

	padding := m.Width - lipgloss.Width(keys) - lipgloss.Width(refresh) - 2
	if padding < 0 {
		padding = 0
	}

	return fmt.Sprintf(" %s%s%s", keys, strings.Repeat(" ", padding), refresh)
}

// renderHelp renders the help overlay
func (m Model) renderHelp() string {
	help := `
SYNC MONITOR - Key Bindings

NAVIGATION:
  Tab / Shift+Tab   Switch between panels
  1 / 2 / 3         Jump to panel
  j / k             Scroll active panel

ACTIONS:
  s                 Sync now
  R                 Retry failed jobs
  r                 Force refresh
  q / Ctrl+C        Quit

Press ? to close help
`
	return helpStyle.Render(help)
}

// wrapPanel wraps content in a panel with title and border
func (m Model) wrapPanel(title, content string, height int, panel Panel) string {
	style := panelStyle
	if m.ActivePanel == panel {
		style = activePanelStyle
	}

	titleStr := panelTitleStyle.Render(title)
	contentWidth := m.Width - 4 // border and padding

	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	contentHeight := height - 3 // title and border
	if contentHeight < 1 {
		contentHeight = 1
	}
	for len(lines) < contentHeight {
		lines = append(lines, "")
	}
	if len(lines) > contentHeight {
		lines = lines[:contentHeight]
	}

	for i, line := range lines {
		lines[i] = truncateString(line, contentWidth)
	}

	inner := lipgloss.JoinVertical(lipgloss.Left, titleStr, strings.Join(lines, "\n"))
	return style.Width(m.Width - 2).Render(inner)
}

// visibleItems calculates how many items can be shown given scroll offset and height
func (m Model) visibleItems(total, offset, height int) int {
	remaining := total - offset
	if remaining < 0 {
		return 0
	}
	if remaining > height {
		return height
	}
	return remaining
}

// truncateString truncates a styled string to maxLen cells with ellipsis
func truncateString(s string, maxLen int) string {
	if maxLen <= 1 || lipgloss.Width(s) <= maxLen {
		return s
	}
	return ansi.Truncate(s, maxLen, "…")
}
