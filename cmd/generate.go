package cmd

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/marcus/vistoria/internal/gateway"
	"github.com/marcus/vistoria/internal/output"
	"github.com/marcus/vistoria/internal/syncconfig"
	"github.com/spf13/cobra"
)

var generateCmd = &cobra.Command{
	Use:   "generate [form-id]",
	Short: "Create a new checklist from a form",
	Long: `Creates a checklist from a form. Without a form id an interactive picker
lists the cached forms.

When the server cannot be reached the checklist is built from the cached form
and created on the server by the next sync.`,
	Args:    cobra.MaximumNArgs(1),
	GroupID: "inspect",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		var formID int64
		if len(args) == 1 {
			if formID, err = parseID("form id", args[0]); err != nil {
				return err
			}
		} else {
			if !output.IsTerminal() {
				return fmt.Errorf("form id required when not on a terminal: %w", errInvalidInput)
			}
			if formID, err = pickForm(cmd.Context(), a.gw); err != nil {
				return err
			}
		}

		userID, _ := cmd.Flags().GetInt64("user")
		if userID == 0 {
			userID = syncconfig.GetUserID()
		}

		gen, err := a.gw.GenerateChecklist(cmd.Context(), formID, userID)
		if err != nil {
			return err
		}

		if jsonOut {
			return output.JSON(gen)
		}
		if gen.Offline {
			output.Warning("server unreachable, created locally; it will be sent on the next sync")
			output.Success("Created checklist %s%d: %s", localPrefix, gen.ChecklistID, gen.Title)
			return nil
		}
		output.Success("Created checklist %d: %s", gen.ServerID, gen.Title)
		return nil
	},
}

// pickForm asks the user to choose one of the known forms
func pickForm(ctx context.Context, gw *gateway.Gateway) (int64, error) {
	forms, err := gw.ListForms(ctx)
	if err != nil {
		return 0, err
	}
	if len(forms) == 0 {
		return 0, fmt.Errorf("no forms available: %w", gateway.ErrUnavailable)
	}

	opts := make([]huh.Option[int64], 0, len(forms))
	for _, f := range forms {
		opts = append(opts, huh.NewOption(fmt.Sprintf("%s (%d fields)", f.Name, len(f.Fields)), f.ServerID))
	}

	var formID int64
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[int64]().
			Title("Which form?").
			Options(opts...).
			Value(&formID),
	))
	if err := form.RunWithContext(ctx); err != nil {
		return 0, err
	}
	return formID, nil
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().Int64("user", 0, "User the checklist is created for (default from auth)")
}
