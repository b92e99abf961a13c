package output

import (
	"strings"
	"testing"
	"time"

	"github.com/marcus/vistoria/internal/models"
)

func TestFormatTimeAgo(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{5 * time.Minute, "5 minutes ago"},
		{3 * time.Hour, "3 hours ago"},
		{3 * 24 * time.Hour, "3 days ago"},
	}

	for _, tc := range tests {
		result := FormatTimeAgo(time.Now().Add(-tc.duration))
		if result != tc.expected {
			t.Errorf("FormatTimeAgo(-%v) = %q, want %q", tc.duration, result, tc.expected)
		}
	}
}

func TestFormatTimeAgoZero(t *testing.T) {
	if got := FormatTimeAgo(time.Time{}); got != "never" {
		t.Errorf("FormatTimeAgo(zero) = %q, want 'never'", got)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n        int
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{2048, "2.0 kB"},
	}
	for _, tc := range tests {
		if got := FormatBytes(tc.n); got != tc.expected {
			t.Errorf("FormatBytes(%d) = %q, want %q", tc.n, got, tc.expected)
		}
	}
}

func TestQueueBadge(t *testing.T) {
	tests := []struct {
		status models.QueueStatus
		symbol string
	}{
		{models.QueuePending, "○"},
		{models.QueueProcessing, "▶"},
		{models.QueueCompleted, "✓"},
		{models.QueueFailed, "✗"},
		{models.QueueStatus("weird"), "?"},
	}
	for _, tc := range tests {
		got := QueueBadge(tc.status)
		if !strings.Contains(got, tc.symbol) || !strings.Contains(got, string(tc.status)) {
			t.Errorf("QueueBadge(%q) = %q, want symbol %q", tc.status, got, tc.symbol)
		}
	}
}

func TestFormatSyncStatus(t *testing.T) {
	if got := FormatSyncStatus(models.SyncLocalOnly); !strings.Contains(got, "[local_only]") {
		t.Errorf("FormatSyncStatus(local_only) = %q", got)
	}
	if got := FormatSyncStatus(models.SyncStatus("other")); got != "other" {
		t.Errorf("unknown status should pass through, got %q", got)
	}
}

func TestFormatChecklistShort(t *testing.T) {
	synced := &models.Checklist{ID: 3, ServerID: 42, Title: "Truck 7", Fields: []models.FieldDef{{ID: 1}}, SyncStatus: models.SyncSynced, LastModified: time.Now()}
	got := FormatChecklistShort(synced)
	for _, want := range []string{"#42", "Truck 7", "1 fields", "[synced]"} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatChecklistShort missing %q in %q", want, got)
		}
	}

	offline := &models.Checklist{ID: 9, Title: "Van", SyncStatus: models.SyncLocalOnly}
	got = FormatChecklistShort(offline)
	if !strings.Contains(got, "local:9") {
		t.Errorf("offline checklist should show local id, got %q", got)
	}
	if !strings.Contains(got, "never") {
		t.Errorf("zero modification time should read never, got %q", got)
	}
}

func TestFormatQueueItem(t *testing.T) {
	item := &models.SyncQueueItem{
		ID:         12,
		Type:       models.QueueUpdateField,
		Priority:   5,
		Status:     models.QueueFailed,
		RetryCount: 3,
		MaxRetries: 3,
		LastError:  "422: campo inválido",
	}
	got := FormatQueueItem(item)
	for _, want := range []string{"12", "UPDATE_FIELD", "p5", "failed", "3/3 tries", "422: campo inválido"} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatQueueItem missing %q in %q", want, got)
		}
	}
	if strings.Count(got, "\n") != 1 {
		t.Errorf("error should be on its own line, got %q", got)
	}
}

func TestFormatFileItem(t *testing.T) {
	f := &models.FileQueueItem{ID: 4, FileName: "front.jpg", Data: make([]byte, 2048), Status: models.FilePending, MaxRetries: 3}
	got := FormatFileItem(f)
	for _, want := range []string{"front.jpg", "2.0 kB", "pending", "0/3 tries"} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatFileItem missing %q in %q", want, got)
		}
	}
}

func TestChecklistMarkdown(t *testing.T) {
	doc := ChecklistDoc{
		Title:      "Inspeção | diária",
		ID:         42,
		ResponseID: 42,
		FromCache:  true,
		Fields: []models.FieldDef{
			{ID: 1, Label: "Placa", Type: "texto"},
			{ID: 2, Label: "Itens", Type: "checkbox"},
			{ID: 3, Label: "Foto frontal", Type: "foto"},
			{ID: 4, Label: "Obs", Type: "texto"},
		},
		Saved: map[string]any{
			"1": "ABC1D23",
			"2": []any{"pneus", "faróis"},
		},
		Pending: map[int64]PendingAnswer{
			1: {Value: models.Text("XYZ9K87"), Status: models.SyncLocalOnly},
			3: {Value: models.Photo{URI: "pending-upload:front.jpg"}, Status: models.SyncSyncing},
		},
	}
	md := ChecklistMarkdown(doc)

	checks := []string{
		`# Inspeção \| diária`,
		"Checklist **42**, response **42** _(offline copy)_",
		"| 1 | Placa | text | XYZ9K87 | local_only |",
		"| 2 | Itens | multi_select | faróis, pneus | saved |",
		"| 3 | Foto frontal | photo | pending-upload:front.jpg | syncing |",
		"| 4 | Obs | text |  |  |",
	}
	for _, want := range checks {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
}

func TestChecklistMarkdownNoFields(t *testing.T) {
	md := ChecklistMarkdown(ChecklistDoc{Title: "Empty", ID: 1})
	if !strings.Contains(md, "_No fields._") {
		t.Errorf("expected empty marker, got:\n%s", md)
	}
	if strings.Contains(md, "response") {
		t.Errorf("response id 0 should be omitted, got:\n%s", md)
	}
}

func TestRenderMarkdownEmpty(t *testing.T) {
	got, err := RenderMarkdownWithWidth("   \n", 40)
	if err != nil {
		t.Fatalf("RenderMarkdownWithWidth: %v", err)
	}
	if got != "" {
		t.Errorf("blank input should render empty, got %q", got)
	}
}

func TestTerminalWidthFallback(t *testing.T) {
	t.Setenv("COLUMNS", "")
	if w := TerminalWidth(0); w <= 0 {
		t.Errorf("TerminalWidth(0) = %d, want positive", w)
	}
	t.Setenv("COLUMNS", "132")
	w := TerminalWidth(80)
	if !IsTerminal() && w != 132 {
		t.Errorf("TerminalWidth with COLUMNS=132 = %d", w)
	}
}

func TestIndentString(t *testing.T) {
	if got := IndentString("a\nb", 2); got != "  a\n  b" {
		t.Errorf("IndentString = %q", got)
	}
	if got := IndentString("", 4); got != "" {
		t.Errorf("IndentString(empty) = %q", got)
	}
}
