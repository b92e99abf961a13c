package monitor

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/marcus/vistoria/internal/db"
	"github.com/marcus/vistoria/internal/models"
	"github.com/marcus/vistoria/internal/status"
	vsync "github.com/marcus/vistoria/internal/sync"
)

// Panel represents which panel is active
type Panel int

const (
	PanelStatus Panel = iota
	PanelQueue
	PanelFiles
)

const panelCount = 3

// Actions are the operations the monitor can trigger. Any may be nil.
type Actions struct {
	Sync   func(ctx context.Context) (vsync.Result, error)
	Retry  func(ctx context.Context) (int, error)
	Online func() bool
}

// Model is the main Bubble Tea model for the sync monitor
type Model struct {
	DB       *db.DB
	Observer *status.Observer
	Actions  Actions

	// Window dimensions
	Width  int
	Height int

	// Panel data
	Snapshot status.Snapshot
	Queue    []models.SyncQueueItem
	Files    []models.FileQueueItem

	// UI state
	ActivePanel  Panel
	ScrollOffset map[Panel]int
	ShowHelp     bool
	LastRefresh  time.Time
	LastResult   *vsync.Result
	Notice       string
	Err          error
	Spinner      spinner.Model

	// Configuration
	RefreshInterval time.Duration
}

// MinWidth is the minimum terminal width for proper display
const MinWidth = 40

// MinHeight is the minimum terminal height for proper display
const MinHeight = 15

// TickMsg triggers a data refresh
type TickMsg time.Time

// RefreshDataMsg carries refreshed queue contents
type RefreshDataMsg struct {
	Queue     []models.SyncQueueItem
	Files     []models.FileQueueItem
	Timestamp time.Time
	Err       error
}

// SnapshotMsg carries a status snapshot from the observer
type SnapshotMsg status.Snapshot

// SyncDoneMsg reports a sync started from the monitor
type SyncDoneMsg struct {
	Result vsync.Result
	Err    error
}

// RetryDoneMsg reports a retry started from the monitor
type RetryDoneMsg struct {
	Reset int
	Err   error
}

// NewModel creates a new monitor model
func NewModel(database *db.DB, observer *status.Observer, actions Actions, interval time.Duration) Model {
	return Model{
		DB:              database,
		Observer:        observer,
		Actions:         actions,
		RefreshInterval: interval,
		ScrollOffset:    make(map[Panel]int),
		ActivePanel:     PanelStatus,
		Spinner:         spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(spinnerStyle)),
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetchData(),
		m.scheduleTick(),
		m.waitForSnapshot(),
	)
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case TickMsg:
		return m, tea.Batch(m.fetchData(), m.scheduleTick())

	case RefreshDataMsg:
		m.Err = msg.Err
		if msg.Err == nil {
			m.Queue = msg.Queue
			m.Files = msg.Files
		}
		m.LastRefresh = msg.Timestamp
		return m, nil

	case SnapshotMsg:
		wasSyncing := m.Snapshot.Syncing
		m.Snapshot = status.Snapshot(msg)
		cmds := []tea.Cmd{m.waitForSnapshot(), m.fetchData()}
		if m.Snapshot.Syncing && !wasSyncing {
			cmds = append(cmds, m.Spinner.Tick)
		}
		return m, tea.Batch(cmds...)

	case spinner.TickMsg:
		if !m.Snapshot.Syncing {
			return m, nil
		}
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd

	case SyncDoneMsg:
		if msg.Err != nil {
			m.Notice = "sync: " + msg.Err.Error()
		} else {
			res := msg.Result
			m.LastResult = &res
			m.Notice = ""
		}
		return m, m.fetchData()

	case RetryDoneMsg:
		if msg.Err != nil {
			m.Notice = "retry: " + msg.Err.Error()
		} else {
			m.Notice = retryNotice(msg.Reset)
		}
		return m, m.fetchData()
	}

	return m, nil
}

// handleKey processes key input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "tab":
		m.ActivePanel = (m.ActivePanel + 1) % panelCount
		return m, nil

	case "shift+tab":
		m.ActivePanel = (m.ActivePanel + panelCount - 1) % panelCount
		return m, nil

	case "1":
		m.ActivePanel = PanelStatus
		return m, nil

	case "2":
		m.ActivePanel = PanelQueue
		return m, nil

	case "3":
		m.ActivePanel = PanelFiles
		return m, nil

	case "j", "down":
		if m.ScrollOffset[m.ActivePanel] < m.rowCount(m.ActivePanel)-1 {
			m.ScrollOffset[m.ActivePanel]++
		}
		return m, nil

	case "k", "up":
		if m.ScrollOffset[m.ActivePanel] > 0 {
			m.ScrollOffset[m.ActivePanel]--
		}
		return m, nil

	case "r":
		return m, m.fetchData()

	case "s":
		return m, m.runSync()

	case "R":
		return m, m.runRetry()

	case "?":
		m.ShowHelp = !m.ShowHelp
		return m, nil
	}

	return m, nil
}

// View implements tea.Model
func (m Model) View() string {
	return m.renderView()
}

// rowCount returns the number of scrollable rows in a panel
func (m Model) rowCount(p Panel) int {
	switch p {
	case PanelQueue:
		return len(m.Queue)
	case PanelFiles:
		return len(m.Files)
	}
	return 0
}

func (m Model) online() bool {
	if m.Actions.Online == nil {
		return true
	}
	return m.Actions.Online()
}

// scheduleTick returns a command that sends a TickMsg after the refresh interval
func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.RefreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// fetchData returns a command that reloads the queues
func (m Model) fetchData() tea.Cmd {
	if m.DB == nil {
		return nil
	}
	database := m.DB
	return func() tea.Msg {
		return FetchData(database)
	}
}

// waitForSnapshot blocks until the observer publishes
func (m Model) waitForSnapshot() tea.Cmd {
	if m.Observer == nil {
		return nil
	}
	ch := m.Observer.Updates()
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return nil
		}
		return SnapshotMsg(s)
	}
}

func (m Model) runSync() tea.Cmd {
	if m.Actions.Sync == nil {
		return nil
	}
	sync := m.Actions.Sync
	return func() tea.Msg {
		res, err := sync(context.Background())
		return SyncDoneMsg{Result: res, Err: err}
	}
}

func (m Model) runRetry() tea.Cmd {
	if m.Actions.Retry == nil {
		return nil
	}
	retry := m.Actions.Retry
	return func() tea.Msg {
		n, err := retry(context.Background())
		return RetryDoneMsg{Reset: n, Err: err}
	}
}
