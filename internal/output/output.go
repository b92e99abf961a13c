// Package output provides styled terminal output helpers (success, error,
// warning, checklist and queue formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/marcus/vistoria/internal/models"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	syncStyles   = map[models.SyncStatus]lipgloss.Style{
		models.SyncLocalOnly: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.SyncSyncing:   lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.SyncSynced:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.SyncConflict:  lipgloss.NewStyle().Foreground(lipgloss.Color("141")),
		models.SyncError:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
	queueStyles = map[models.QueueStatus]lipgloss.Style{
		models.QueuePending:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.QueueProcessing: lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.QueueCompleted:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.QueueFailed:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeNotFound        = "not_found"
	ErrCodeInvalidInput    = "invalid_input"
	ErrCodeUnauthenticated = "unauthenticated"
	ErrCodeUnavailable     = "unavailable"
	ErrCodeRejected        = "rejected"
	ErrCodeAlreadyRunning  = "already_running"
	ErrCodeDatabaseError   = "database_error"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	data, _ := json.Marshal(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
	fmt.Println(string(data))
}

// FormatSyncStatus formats a row sync status with color
func FormatSyncStatus(s models.SyncStatus) string {
	style, ok := syncStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(fmt.Sprintf("[%s]", s))
}

// QueueBadge returns a queue status indicator with symbol
// e.g., "○ pending", "▶ processing", "✓ completed", "✗ failed"
func QueueBadge(status models.QueueStatus) string {
	symbols := map[models.QueueStatus]string{
		models.QueuePending:    "○",
		models.QueueProcessing: "▶",
		models.QueueCompleted:  "✓",
		models.QueueFailed:     "✗",
	}
	symbol, ok := symbols[status]
	if !ok {
		symbol = "?"
	}
	if style, ok := queueStyles[status]; ok {
		return style.Render(fmt.Sprintf("%s %s", symbol, status))
	}
	return fmt.Sprintf("%s %s", symbol, status)
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

// FormatBytes formats a byte count, e.g. "2.0 kB"
func FormatBytes(n int) string {
	return humanize.Bytes(uint64(n))
}

// FormatChecklistShort formats a cached checklist on one line
func FormatChecklistShort(c *models.Checklist) string {
	var parts []string
	if c.ServerID != 0 {
		parts = append(parts, titleStyle.Render(fmt.Sprintf("#%d", c.ServerID)))
	} else {
		parts = append(parts, titleStyle.Render(fmt.Sprintf("local:%d", c.ID)))
	}
	parts = append(parts, c.Title)
	parts = append(parts, subtleStyle.Render(fmt.Sprintf("%d fields", len(c.Fields))))
	parts = append(parts, FormatSyncStatus(c.SyncStatus))
	parts = append(parts, subtleStyle.Render(FormatTimeAgo(c.LastModified)))
	return strings.Join(parts, "  ")
}

// FormatQueueItem formats a sync queue item on one line
func FormatQueueItem(item *models.SyncQueueItem) string {
	var parts []string
	parts = append(parts, titleStyle.Render(fmt.Sprintf("%d", item.ID)))
	parts = append(parts, string(item.Type))
	parts = append(parts, subtleStyle.Render(fmt.Sprintf("p%d", item.Priority)))
	parts = append(parts, QueueBadge(item.Status))
	parts = append(parts, subtleStyle.Render(fmt.Sprintf("%d/%d tries", item.RetryCount, item.MaxRetries)))
	if item.LastAttempt != nil {
		parts = append(parts, subtleStyle.Render(FormatTimeAgo(*item.LastAttempt)))
	}
	line := strings.Join(parts, "  ")
	if item.LastError != "" {
		line += "\n    " + errorStyle.Render(item.LastError)
	}
	return line
}

// FormatFileItem formats a file upload job on one line
func FormatFileItem(f *models.FileQueueItem) string {
	return fmt.Sprintf("%s  %s  %s  %s  %d/%d tries",
		titleStyle.Render(fmt.Sprintf("%d", f.ID)), f.FileName,
		subtleStyle.Render(FormatBytes(len(f.Data))), f.Status, f.RetryCount, f.MaxRetries)
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nQUEUE:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// IndentString indents each line in a string by the specified number of spaces
func IndentString(s string, spaces int) string {
	if s == "" {
		return ""
	}
	indent := strings.Repeat(" ", spaces)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = indent + line
	}
	return strings.Join(lines, "\n")
}
