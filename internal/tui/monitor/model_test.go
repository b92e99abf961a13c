package monitor

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	_ "github.com/mattn/go-sqlite3"

	"github.com/marcus/vistoria/internal/db"
	"github.com/marcus/vistoria/internal/models"
	"github.com/marcus/vistoria/internal/status"
	vsync "github.com/marcus/vistoria/internal/sync"
)

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "shift+tab":
		return tea.KeyMsg{Type: tea.KeyShiftTab}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(m Model, key string) (Model, tea.Cmd) {
	next, cmd := m.Update(keyMsg(key))
	return next.(Model), cmd
}

func TestPanelSwitching(t *testing.T) {
	m := NewModel(nil, nil, Actions{}, time.Second)

	tests := []struct {
		key      string
		expected Panel
	}{
		{"tab", PanelQueue},
		{"tab", PanelFiles},
		{"tab", PanelStatus},
		{"shift+tab", PanelFiles},
		{"2", PanelQueue},
		{"1", PanelStatus},
		{"3", PanelFiles},
	}

	for _, tt := range tests {
		m, _ = press(m, tt.key)
		if m.ActivePanel != tt.expected {
			t.Errorf("after %q: ActivePanel = %d, want %d", tt.key, m.ActivePanel, tt.expected)
		}
	}
}

func TestScrollClamped(t *testing.T) {
	m := NewModel(nil, nil, Actions{}, time.Second)
	m.Queue = make([]models.SyncQueueItem, 2)
	m, _ = press(m, "2")

	for i := 0; i < 5; i++ {
		m, _ = press(m, "j")
	}
	if got := m.ScrollOffset[PanelQueue]; got != 1 {
		t.Errorf("scroll past end: offset = %d, want 1", got)
	}
	for i := 0; i < 5; i++ {
		m, _ = press(m, "k")
	}
	if got := m.ScrollOffset[PanelQueue]; got != 0 {
		t.Errorf("scroll before start: offset = %d, want 0", got)
	}
}

func TestSyncKeyRunsAction(t *testing.T) {
	called := 0
	m := NewModel(nil, nil, Actions{
		Sync: func(context.Context) (vsync.Result, error) {
			called++
			return vsync.Result{ItemsSucceeded: 2, Duration: time.Second}, nil
		},
	}, time.Second)
	m.Notice = "old"

	m, cmd := press(m, "s")
	if cmd == nil {
		t.Fatal("expected a command for s")
	}
	msg, ok := cmd().(SyncDoneMsg)
	if !ok {
		t.Fatalf("expected SyncDoneMsg")
	}
	if called != 1 {
		t.Errorf("sync called %d times", called)
	}

	next, _ := m.Update(msg)
	m = next.(Model)
	if m.LastResult == nil || m.LastResult.ItemsSucceeded != 2 {
		t.Errorf("LastResult = %+v", m.LastResult)
	}
	if m.Notice != "" {
		t.Errorf("Notice should clear on success, got %q", m.Notice)
	}
}

func TestSyncErrorBecomesNotice(t *testing.T) {
	m := NewModel(nil, nil, Actions{}, time.Second)
	next, _ := m.Update(SyncDoneMsg{Err: vsync.ErrAlreadyRunning})
	m = next.(Model)
	if !strings.HasPrefix(m.Notice, "sync: ") {
		t.Errorf("Notice = %q", m.Notice)
	}
	if m.LastResult != nil {
		t.Error("failed sync should not record a result")
	}
}

func TestKeysWithoutActions(t *testing.T) {
	m := NewModel(nil, nil, Actions{}, time.Second)
	if _, cmd := press(m, "s"); cmd != nil {
		t.Error("s without a sync action should do nothing")
	}
	if _, cmd := press(m, "R"); cmd != nil {
		t.Error("R without a retry action should do nothing")
	}
}

func TestRetryNotice(t *testing.T) {
	tests := []struct {
		msg      RetryDoneMsg
		expected string
	}{
		{RetryDoneMsg{Reset: 0}, "nothing to retry"},
		{RetryDoneMsg{Reset: 1}, "1 job reset to pending"},
		{RetryDoneMsg{Reset: 4}, "4 jobs reset to pending"},
		{RetryDoneMsg{Err: errors.New("locked")}, "retry: locked"},
	}
	for _, tt := range tests {
		next, _ := NewModel(nil, nil, Actions{}, time.Second).Update(tt.msg)
		if got := next.(Model).Notice; got != tt.expected {
			t.Errorf("Notice = %q, want %q", got, tt.expected)
		}
	}
}

func TestSpinnerOnlyTicksWhileSyncing(t *testing.T) {
	m := NewModel(nil, nil, Actions{}, time.Second)
	if _, cmd := m.Update(spinner.TickMsg{}); cmd != nil {
		t.Error("idle monitor should drop spinner ticks")
	}

	next, _ := m.Update(SnapshotMsg(status.Snapshot{Syncing: true, Processing: 1}))
	m = next.(Model)
	if !m.Snapshot.Syncing {
		t.Fatal("snapshot not applied")
	}
	if _, cmd := m.Update(m.Spinner.Tick()); cmd == nil {
		t.Error("syncing monitor should keep the spinner going")
	}
}

func TestRefreshDataErrorKeepsRows(t *testing.T) {
	m := NewModel(nil, nil, Actions{}, time.Second)
	m.Queue = []models.SyncQueueItem{{ID: 1}}

	next, _ := m.Update(RefreshDataMsg{Err: errors.New("db gone"), Timestamp: time.Now()})
	m = next.(Model)
	if m.Err == nil || len(m.Queue) != 1 {
		t.Errorf("Err = %v, Queue = %d rows", m.Err, len(m.Queue))
	}
}

func TestViewStates(t *testing.T) {
	m := NewModel(nil, nil, Actions{Online: func() bool { return false }}, time.Second)
	if got := m.View(); got != "Loading..." {
		t.Errorf("unsized view = %q", got)
	}

	m.Width, m.Height = 30, 10
	if got := m.View(); !strings.Contains(got, "resize for full view") || !strings.Contains(got, "offline") {
		t.Errorf("compact view = %q", got)
	}

	m.Width, m.Height = 120, 40
	m.Queue = []models.SyncQueueItem{{ID: 7, Type: models.QueueUpdateField, Status: models.QueueFailed, Priority: 5, RetryCount: 3, MaxRetries: 3}}
	m.Files = []models.FileQueueItem{{ID: 2, FileName: "front.jpg", Status: models.FilePending, Data: make([]byte, 10)}}
	m.Snapshot = status.Snapshot{Failed: 1, Total: 1, FilesPending: 1, LastOutcome: vsync.OutcomePartialFailure}
	view := m.View()
	for _, want := range []string{"OFFLINE", "QUEUE (1)", "UPDATE_FIELD", "FILES (1)", "front.jpg", "partial_failure"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}

	m.ShowHelp = true
	if !strings.Contains(m.View(), "SYNC MONITOR") {
		t.Error("help view not shown")
	}
}

func TestTruncateString(t *testing.T) {
	if got := truncateString("short", 10); got != "short" {
		t.Errorf("truncateString(short) = %q", got)
	}
	got := truncateString("a very long queue error message", 10)
	if !strings.HasSuffix(got, "…") {
		t.Errorf("truncated string should end with ellipsis: %q", got)
	}
	if w := len([]rune(got)); w != 10 {
		t.Errorf("truncated width = %d, want 10", w)
	}
}

func TestFetchData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor.db")
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	database, err := db.New(conn, path)
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	defer database.Close()

	if _, err := database.EnqueueSync(&models.SyncQueueItem{Type: models.QueueSubmitForm, Priority: models.PrioritySubmitForm}); err != nil {
		t.Fatalf("EnqueueSync: %v", err)
	}
	if _, err := database.EnqueueFile(&models.FileQueueItem{FieldResponseID: 1, ResponseID: 1, FieldID: 3, FileName: "sig.png", Data: []byte("x")}); err != nil {
		t.Fatalf("EnqueueFile: %v", err)
	}

	msg := FetchData(database)
	if msg.Err != nil {
		t.Fatalf("FetchData: %v", msg.Err)
	}
	if len(msg.Queue) != 1 || msg.Queue[0].Type != models.QueueSubmitForm {
		t.Errorf("Queue = %+v", msg.Queue)
	}
	if len(msg.Files) != 1 || msg.Files[0].FileName != "sig.png" {
		t.Errorf("Files = %+v", msg.Files)
	}
}
