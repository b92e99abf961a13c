package cmd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/marcus/vistoria/internal/status"
	vsync "github.com/marcus/vistoria/internal/sync"
	"github.com/marcus/vistoria/internal/syncconfig"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stay running and sync whenever the connection comes back",
	Long: `Runs in the foreground until interrupted. It:
- polls connectivity and syncs once the device has been back online for a moment
- syncs every interval while anything is pending
- picks up a new token as soon as auth.json changes

Logs go to stderr and to a rotated file next to the database.`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		logFile, _ := cmd.Flags().GetString("log-file")
		if logFile == "" {
			logFile = filepath.Join(filepath.Dir(dbPath()), "watch.log")
		}
		rotator := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		defer rotator.Close()

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(io.MultiWriter(os.Stderr, rotator), &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		interval, _ := cmd.Flags().GetDuration("interval")
		if interval <= 0 {
			interval = syncconfig.GetSyncInterval()
		}
		return newWatcher(a, syncconfig.GetAutoSyncEnabled(), interval).run(cmd.Context())
	},
}

// watcher drives syncs from connectivity, token and timer events
type watcher struct {
	app      *app
	auto     bool
	interval time.Duration
	trigger  chan string
}

func newWatcher(a *app, auto bool, interval time.Duration) *watcher {
	return &watcher{app: a, auto: auto, interval: interval, trigger: make(chan string, 1)}
}

func (w *watcher) run(ctx context.Context) error {
	unsubscribe := w.app.net.OnReconnect(func() { w.kick("reconnect") })
	defer unsubscribe()
	offChange := w.app.net.OnChange(func(online bool) {
		slog.Info("connectivity changed", "online", online)
	})
	defer offChange()

	go w.app.net.Run(ctx)
	go func() {
		err := w.app.tokens.Watch(ctx, func(token string) {
			if token == "" {
				slog.Warn("logged out; syncing paused until a token is saved")
				return
			}
			w.kick("token")
		})
		if err != nil {
			slog.Warn("token watch stopped", "err", err)
		}
	}()

	observer := status.NewObserver(w.app.mgr, w.app.mgr, w.interval)
	go observer.Run(ctx)
	go func() {
		var last status.Snapshot
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-observer.Updates():
				if snap.Pending != last.Pending || snap.Failed != last.Failed || snap.FilesPending != last.FilesPending {
					slog.Info("queue", "pending", snap.Pending, "failed", snap.Failed, "files", snap.FilesPending, "unsynced_fields", snap.UnsyncedFields)
				}
				last = snap
			}
		}
	}()

	slog.Info("watching", "db", w.app.db.Path(), "interval", w.interval, "auto_sync", w.auto)
	if !w.auto {
		slog.Info("auto sync disabled; run 'vistoria sync' to send changes")
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.kick("startup")
	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping")
			return nil
		case reason := <-w.trigger:
			w.syncOnce(ctx, reason)
		case <-ticker.C:
			if w.pending(ctx) {
				w.syncOnce(ctx, "interval")
			}
		}
	}
}

// kick asks the loop for a sync; extra kicks while one is queued are dropped
func (w *watcher) kick(reason string) {
	if !w.auto {
		return
	}
	select {
	case w.trigger <- reason:
	default:
	}
}

func (w *watcher) pending(ctx context.Context) bool {
	if !w.auto || !w.app.net.Online() {
		return false
	}
	stats, err := w.app.mgr.Stats(ctx)
	if err != nil {
		slog.Warn("read queue stats", "err", err)
		return false
	}
	return stats.Pending > 0 || stats.FilesPending > 0 || stats.UnsyncedFields > 0
}

func (w *watcher) syncOnce(ctx context.Context, reason string) {
	if !w.app.net.CurrentStatus(ctx) {
		slog.Debug("skip sync while offline", "reason", reason)
		return
	}
	res, err := w.app.mgr.SyncAll(ctx)
	switch {
	case errors.Is(err, vsync.ErrAlreadyRunning):
		slog.Debug("sync already running", "reason", reason)
	case errors.Is(err, vsync.ErrUnauthenticated):
		slog.Warn("not logged in; waiting for a token", "reason", reason)
	case err != nil:
		slog.Error("sync failed", "reason", reason, "err", err)
	default:
		slog.Info("sync finished", "reason", reason, "outcome", w.app.mgr.LastOutcome(),
			"sent", res.ItemsSucceeded, "failed", res.ItemsFailed, "fields", res.FieldsPushed,
			"files", res.FilesUploaded, "took", res.Duration.Round(time.Millisecond))
	}
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().Duration("interval", 0, "How often to sync while items are pending (default $VISTORIA_SYNC_INTERVAL or 5s)")
	watchCmd.Flags().String("log-file", "", "Rotated log file (default watch.log next to the database)")
}
