package cmd

import (
	"fmt"

	"github.com/marcus/vistoria/internal/gateway"
	"github.com/marcus/vistoria/internal/output"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:     "show <checklist-id>",
	Short:   "Show a checklist with its saved and pending answers",
	Long: `Shows a checklist by its server id. Checklists created offline are
addressed by their local id, written local:<id>, until they reach the server.`,
	Example: `  vistoria show 42
  vistoria show local:3`,
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

		if jsonOut {
			return output.JSON(view)
		}

		md := output.ChecklistMarkdown(checklistDoc(view))
		raw, _ := cmd.Flags().GetBool("raw")
		if raw || !output.IsTerminal() {
			fmt.Print(md)
			return nil
		}
		rendered, err := output.RenderMarkdown(md)
		if err != nil {
			fmt.Print(md)
			return nil
		}
		fmt.Println(rendered)
		if n := len(view.Pending); n > 0 {
			fmt.Printf("\n%d answer(s) waiting to sync\n", n)
		}
		return nil
	},
}

// checklistDoc converts a gateway view into the markdown document model
func checklistDoc(view *gateway.ChecklistView) output.ChecklistDoc {
	doc := output.ChecklistDoc{
		Title:      view.Title,
		ID:         view.ID,
		ResponseID: view.ResponseID,
		FromCache:  view.FromCache,
		Fields:     view.Fields,
		Saved:      view.SavedAnswers,
		Pending:    make(map[int64]output.PendingAnswer, len(view.Pending)),
	}
	for _, p := range view.Pending {
		doc.Pending[p.FieldID] = output.PendingAnswer{Value: p.Value, Status: p.SyncStatus}
	}
	return doc
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().Bool("raw", false, "Print markdown without rendering")
}
