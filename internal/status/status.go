// Package status keeps a read-only, periodically refreshed picture of the
// sync queue for display.
package status

import (
	"context"
	"log/slog"
	"sync"
	"time"

	vsync "github.com/marcus/vistoria/internal/sync"
)

// DefaultInterval is how often the snapshot is recomputed without a nudge
const DefaultInterval = 5 * time.Second

// StatsSource computes the queue aggregate
type StatsSource interface {
	Stats(ctx context.Context) (vsync.Stats, error)
}

// Notifier announces sync runs
type Notifier interface {
	Subscribe(fn func(vsync.Event)) (unsubscribe func())
	Running() bool
	LastOutcome() vsync.Outcome
}

// Snapshot is the observable sync state
type Snapshot struct {
	Pending         int            `json:"pending"`
	Processing      int            `json:"processing"`
	Failed          int            `json:"failed"`
	Completed       int            `json:"completed"`
	Total           int            `json:"total"`
	FilesPending    int            `json:"files_pending"`
	FilesFailed     int            `json:"files_failed"`
	UnsyncedFields  int            `json:"unsynced_fields"`
	Syncing         bool           `json:"syncing"`
	HasPendingItems bool           `json:"has_pending_items"`
	HasErrors       bool           `json:"has_errors"`
	LastOutcome     vsync.Outcome `json:"last_outcome,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Observer recomputes a Snapshot on a timer and whenever the manager
// starts or finishes a run.
type Observer struct {
	source   StatsSource
	notifier Notifier
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	current Snapshot
	updates chan Snapshot
}

// NewObserver creates an observer. notifier may be nil when no manager runs
// in this process.
func NewObserver(source StatsSource, notifier Notifier, interval time.Duration) *Observer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Observer{
		source:   source,
		notifier: notifier,
		interval: interval,
		now:      time.Now,
		updates:  make(chan Snapshot, 1),
	}
}

// Updates delivers snapshots; a slow reader only sees the latest one
func (o *Observer) Updates() <-chan Snapshot {
	return o.updates
}

// Current returns the last computed snapshot
func (o *Observer) Current() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Refresh recomputes the snapshot now
func (o *Observer) Refresh(ctx context.Context) (Snapshot, error) {
	stats, err := o.source.Stats(ctx)
	if err != nil {
		return o.Current(), err
	}
	syncing := false
	var outcome vsync.Outcome
	if o.notifier != nil {
		syncing = o.notifier.Running()
		outcome = o.notifier.LastOutcome()
	}
	s := o.build(stats, syncing, outcome)
	o.publish(s)
	return s, nil
}

func (o *Observer) build(stats vsync.Stats, syncing bool, outcome vsync.Outcome) Snapshot {
	return Snapshot{
		Pending:         stats.Pending,
		Processing:      stats.Processing,
		Failed:          stats.Failed,
		Completed:       stats.Completed,
		Total:           stats.Total,
		FilesPending:    stats.FilesPending,
		FilesFailed:     stats.FilesFailed,
		UnsyncedFields:  stats.UnsyncedFields,
		Syncing:         syncing,
		HasPendingItems: stats.Pending+stats.Processing > 0,
		HasErrors:       stats.Failed+stats.FilesFailed > 0,
		LastOutcome:     outcome,
		UpdatedAt:       o.now(),
	}
}

func (o *Observer) onEvent(ev vsync.Event) {
	outcome := ev.Outcome
	if ev.Running {
		outcome = o.Current().LastOutcome
	}
	o.publish(o.build(ev.Stats, ev.Running, outcome))
}

func (o *Observer) publish(s Snapshot) {
	o.mu.Lock()
	o.current = s
	o.mu.Unlock()

	// Latest wins: replace an unread snapshot
	for {
		select {
		case o.updates <- s:
			return
		default:
		}
		select {
		case <-o.updates:
		default:
		}
	}
}

// Run refreshes every interval and on manager events until ctx is done
func (o *Observer) Run(ctx context.Context) {
	if o.notifier != nil {
		unsubscribe := o.notifier.Subscribe(o.onEvent)
		defer unsubscribe()
	}

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	if _, err := o.Refresh(ctx); err != nil {
		slog.Warn("status refresh", "err", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.Refresh(ctx); err != nil {
				slog.Warn("status refresh", "err", err)
			}
		}
	}
}
