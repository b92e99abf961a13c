package output

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/marcus/vistoria/internal/models"
	"golang.org/x/term"
)

const (
	defaultMarkdownWidth = 80
	minMarkdownWidth     = 20
)

// TerminalWidth returns the current terminal width or a fallback when unavailable.
func TerminalWidth(fallback int) int {
	if fallback <= 0 {
		fallback = defaultMarkdownWidth
	}

	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}

	if cols := os.Getenv("COLUMNS"); cols != "" {
		if parsed, err := strconv.Atoi(cols); err == nil && parsed > 0 {
			return parsed
		}
	}

	return fallback
}

// IsTerminal reports whether stdout is a terminal
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// RenderMarkdown renders markdown using Glamour with terminal-aware wrapping.
func RenderMarkdown(text string) (string, error) {
	return RenderMarkdownWithWidth(text, TerminalWidth(defaultMarkdownWidth))
}

// RenderMarkdownWithWidth renders markdown using Glamour with explicit wrapping.
func RenderMarkdownWithWidth(text string, width int) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	if width < minMarkdownWidth {
		width = minMarkdownWidth
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}

	rendered, err := renderer.Render(text)
	if err != nil {
		return "", err
	}

	return strings.TrimRight(rendered, "\n"), nil
}

// ChecklistDoc is what ChecklistMarkdown renders
type ChecklistDoc struct {
	Title      string
	ID         int64
	ResponseID int64
	FromCache  bool
	Fields     []models.FieldDef
	// Saved holds answers the server already has, keyed by field id
	Saved map[string]any
	// Pending holds local answers not yet synced, keyed by field id
	Pending map[int64]PendingAnswer
}

// PendingAnswer is a local answer and its row status
type PendingAnswer struct {
	Value  models.Value
	Status models.SyncStatus
}

// ChecklistMarkdown lays a checklist out as a markdown table
func ChecklistMarkdown(doc ChecklistDoc) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", escapeCell(doc.Title))
	fmt.Fprintf(&sb, "Checklist **%d**", doc.ID)
	if doc.ResponseID != 0 {
		fmt.Fprintf(&sb, ", response **%d**", doc.ResponseID)
	}
	if doc.FromCache {
		sb.WriteString(" _(offline copy)_")
	}
	sb.WriteString("\n\n")

	if len(doc.Fields) == 0 {
		sb.WriteString("_No fields._\n")
		return sb.String()
	}

	sb.WriteString("| # | Field | Type | Answer | State |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	for _, f := range doc.Fields {
		answer, state := "", ""
		if p, ok := doc.Pending[f.ID]; ok {
			answer = models.FormatValue(p.Value)
			state = string(p.Status)
		} else if v, ok := doc.Saved[strconv.FormatInt(f.ID, 10)]; ok {
			answer = formatSaved(v)
			state = "saved"
		}
		fmt.Fprintf(&sb, "| %d | %s | %s | %s | %s |\n",
			f.ID, escapeCell(f.Label), f.Kind(), escapeCell(answer), state)
	}
	return sb.String()
}

func formatSaved(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return models.FormatValue(models.Text(x))
	case []any:
		parts := make([]string, 0, len(x))
		for _, p := range x {
			parts = append(parts, fmt.Sprint(p))
		}
		sort.Strings(parts)
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(x)
	}
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
