package cmd

import (
	"github.com/marcus/vistoria/internal/output"
	"github.com/spf13/cobra"
)

var retryCmd = &cobra.Command{
	Use:     "retry",
	Short:   "Give failed jobs a fresh retry budget",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.mgr.RetryFailed(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOut {
			return output.JSON(map[string]int{"reset": n})
		}
		if n == 0 {
			output.Info("Nothing to retry")
			return nil
		}
		output.Success("%d job(s) back in the queue; run 'vistoria sync' to send them", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(retryCmd)
}
