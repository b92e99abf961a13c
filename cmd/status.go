package cmd

import (
	"fmt"

	"github.com/marcus/vistoria/internal/models"
	"github.com/marcus/vistoria/internal/output"
	"github.com/marcus/vistoria/internal/status"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show what is waiting to sync",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		snap, err := status.NewObserver(a.mgr, a.mgr, 0).Refresh(cmd.Context())
		if err != nil {
			return err
		}
		queue, err := a.db.AllSyncItems()
		if err != nil {
			return err
		}
		files, err := a.db.AllFiles()
		if err != nil {
			return err
		}
		checklists, err := a.db.AllChecklists()
		if err != nil {
			return err
		}

		if jsonOut {
			return output.JSON(map[string]any{
				"status":     snap,
				"queue":      queue,
				"files":      files,
				"checklists": checklists,
			})
		}

		fmt.Printf("Queue: %d pending, %d processing, %d failed, %d completed\n",
			snap.Pending, snap.Processing, snap.Failed, snap.Completed)
		fmt.Printf("Files: %d pending, %d failed\n", snap.FilesPending, snap.FilesFailed)
		fmt.Printf("Unsynced answers: %d\n", snap.UnsyncedFields)
		if snap.HasErrors {
			output.Warning("some jobs gave up; 'vistoria retry' puts them back in the queue")
		}

		all, _ := cmd.Flags().GetBool("all")
		if len(queue) > 0 {
			fmt.Print(output.SectionHeader("queue"))
			for i := range queue {
				if !all && queue[i].Status == models.QueueCompleted {
					continue
				}
				fmt.Println(output.IndentString(output.FormatQueueItem(&queue[i]), 2))
			}
		}
		if len(files) > 0 {
			fmt.Print(output.SectionHeader("files"))
			for i := range files {
				if !all && files[i].Status == models.FileUploaded {
					continue
				}
				fmt.Println(output.IndentString(output.FormatFileItem(&files[i]), 2))
			}
		}
		if len(checklists) > 0 {
			fmt.Print(output.SectionHeader("cached checklists"))
			for i := range checklists {
				fmt.Println(output.IndentString(output.FormatChecklistShort(&checklists[i]), 2))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().Bool("all", false, "Include completed jobs still inside the grace period")
}
