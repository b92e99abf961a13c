package cmd

import (
	"fmt"

	"github.com/marcus/vistoria/internal/db"
	"github.com/marcus/vistoria/internal/models"
	"github.com/marcus/vistoria/internal/output"
	"github.com/spf13/cobra"
)

var evictCmd = &cobra.Command{
	Use:   "evict <checklist-id>...",
	Short: "Drop cached checklists from this device",
	Long: `Removes cached checklists with their answers and pending uploads.
Checklists created offline are named local:<id>.

Checklists with answers or files that have not reached the server are kept
unless --force is given.`,
	Args:    cobra.MinimumNArgs(1),
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		refs, err := parseChecklistRefs(args)
		if err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		evicted := 0
		for _, ref := range refs {
			var c *models.Checklist
			if ref.local {
				c, err = a.db.GetChecklist(ref.id)
			} else {
				c, err = a.db.ChecklistByServerID(ref.id)
			}
			if err != nil {
				return fmt.Errorf("checklist %s: %w", ref, err)
			}

			if !force {
				dirty, err := hasUnsyncedWork(a.db, c.ID)
				if err != nil {
					return err
				}
				if dirty {
					output.Warning("checklist %s has unsynced answers; skipping (use --force to drop them)", ref)
					continue
				}
			}
			if err := a.db.EvictChecklist(c.ID); err != nil {
				return err
			}
			evicted++
		}

		if jsonOut {
			return output.JSON(map[string]int{"evicted": evicted})
		}
		output.Success("Evicted %d checklist(s)", evicted)
		return nil
	},
}

// hasUnsyncedWork reports whether any response of a checklist still has
// answers or uploads waiting for the server
func hasUnsyncedWork(database *db.DB, checklistID int64) (bool, error) {
	responses, err := database.FormResponsesByChecklist(checklistID)
	if err != nil {
		return false, err
	}
	for _, r := range responses {
		// A fetched checklist's empty response holds nothing the server lacks
		untouched := r.ServerChecklistID != 0 && r.SyncStatus == models.SyncLocalOnly && !r.IsComplete
		if r.SyncStatus != models.SyncSynced && !untouched {
			return true, nil
		}
		fields, err := database.FieldResponsesByResponse(r.ID)
		if err != nil {
			return false, err
		}
		if len(fields) > 0 {
			return true, nil
		}
		files, err := database.FilesByResponse(r.ID)
		if err != nil {
			return false, err
		}
		for _, f := range files {
			if f.Status != models.FileUploaded {
				return true, nil
			}
		}
	}
	return false, nil
}

func init() {
	rootCmd.AddCommand(evictCmd)
	evictCmd.Flags().Bool("force", false, "Evict even when answers have not been synced")
}
