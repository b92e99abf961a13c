package cmd

import (
	"fmt"

	"github.com/marcus/vistoria/internal/output"
	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:     "submit <checklist-id>",
	Short:   "Mark a checklist complete and send it",
	Args:    cobra.ExactArgs(1),
	GroupID: "inspect",
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := parseChecklistRef(args[0])
		if err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		view, err := a.checklist(cmd.Context(), ref)
		if err != nil {
			return err
		}
		if view.LocalResponseID == 0 {
			return fmt.Errorf("checklist %s has no response to submit: %w", ref, errInvalidInput)
		}

		res, err := a.gw.SubmitForm(cmd.Context(), view.ServerID, 0, view.LocalResponseID)
		if err != nil {
			return err
		}

		if jsonOut {
			return output.JSON(map[string]any{
				"checklist": view.ID,
				"queued":    res.Offline,
				"refused":   errString(res.RemoteErr),
			})
		}
		switch {
		case res.RemoteErr != nil:
			output.Warning("server refused the submission (%v); queued for retry", res.RemoteErr)
		case res.Offline:
			output.Success("Submitted locally, will sync later")
		default:
			output.Success("Submitted checklist %d", view.ID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)
}
