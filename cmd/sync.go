package cmd

import (
	"fmt"
	"time"

	"github.com/marcus/vistoria/internal/output"
	vsync "github.com/marcus/vistoria/internal/sync"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Send queued changes to the server",
	Long: `Runs one sync: replays queued operations in priority order, pushes field
answers that are still unsynced, then uploads queued files.

Only one sync runs at a time across processes; a second one exits with an
"already running" error.`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		force, _ := cmd.Flags().GetBool("force")
		if !force && !a.net.CurrentStatus(cmd.Context()) {
			stats, err := a.mgr.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return output.JSON(map[string]any{"offline": true, "stats": stats})
			}
			output.Warning("offline; %d queued item(s) will be sent when the connection returns", stats.Pending+stats.FilesPending)
			return nil
		}

		res, err := a.mgr.SyncAll(cmd.Context())
		if err != nil {
			return err
		}
		outcome := a.mgr.LastOutcome()

		if jsonOut {
			return output.JSON(map[string]any{"result": res, "outcome": outcome})
		}
		printResult(res, outcome)
		return nil
	},
}

// printResult prints a sync run summary
func printResult(res vsync.Result, outcome vsync.Outcome) {
	fmt.Printf("Queue:  %d sent, %d failed, %d gave up\n", res.ItemsSucceeded, res.ItemsFailed, res.ItemsExhausted)
	fmt.Printf("Fields: %d pushed, %d failed\n", res.FieldsPushed, res.FieldsFailed)
	fmt.Printf("Files:  %d uploaded, %d failed\n", res.FilesUploaded, res.FilesFailed)
	if res.Recovered > 0 {
		fmt.Printf("Recovered %d interrupted job(s)\n", res.Recovered)
	}
	fmt.Printf("Took %s\n", res.Duration.Round(time.Millisecond))

	switch outcome {
	case vsync.OutcomeComplete:
		output.Success("Everything is synced")
	case vsync.OutcomePartialFailure:
		output.Warning("some items failed; run 'vistoria status' for details and 'vistoria retry' to try again")
	default:
		output.Info("Some items are still pending")
	}
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().Bool("force", false, "Sync even when the connectivity probe reports offline")
}
