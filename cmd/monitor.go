package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/marcus/vistoria/internal/status"
	"github.com/marcus/vistoria/internal/tui/monitor"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live TUI dashboard of the sync queue",
	Long: `Launch a live-updating TUI dashboard showing:
- Status: queue, file and field counters and the last run outcome
- Queue: every sync job with its retries and last error
- Files: pending photo and signature uploads

Key bindings:
  Tab/Shift+Tab  Switch panels
  1/2/3          Jump to panel
  j/k            Scroll active panel
  s              Sync now
  R              Retry failed jobs
  r              Force refresh
  ?              Toggle help
  q              Quit`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Log lines would tear the alt screen
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		interval, _ := cmd.Flags().GetDuration("interval")
		if interval < 500*time.Millisecond {
			interval = 2 * time.Second
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		observer := status.NewObserver(a.mgr, a.mgr, interval)
		go observer.Run(ctx)
		go a.net.Run(ctx)

		model := monitor.NewModel(a.db, observer, monitor.Actions{
			Sync:   a.mgr.SyncAll,
			Retry:  a.mgr.RetryFailed,
			Online: a.net.Online,
		}, interval)

		p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("error running monitor: %w", err)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().Duration("interval", 2*time.Second, "Refresh interval (default 2s)")
}
