package cmd

import (
	"fmt"

	"github.com/marcus/vistoria/internal/output"
	"github.com/spf13/cobra"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <checklist-id>...",
	Short: "Download checklists so they can be filled in offline",
	Long: `Downloads checklists and caches them locally.

With a single id the checklist is always refreshed from the server, falling
back to the cached copy when the server cannot be reached. With several ids,
or with --missing, only checklists that are not cached yet are downloaded.`,
	Args:    cobra.MinimumNArgs(1),
	GroupID: "inspect",
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		missing, _ := cmd.Flags().GetBool("missing")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if len(ids) == 1 && !missing {
			view, err := a.gw.FetchChecklist(cmd.Context(), ids[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return output.JSON(view)
			}
			if view.FromCache {
				output.Warning("server unreachable, using cached copy")
			}
			output.Success("Cached checklist %d: %s (%d fields)", view.ID, view.Title, len(view.Fields))
			return nil
		}

		res, err := a.gw.PrefetchForOffline(cmd.Context(), ids)
		if err != nil {
			return err
		}
		if jsonOut {
			return output.JSON(res)
		}
		fmt.Printf("Downloaded %d, already cached %d, failed %d\n", res.Downloaded, res.Skipped, res.Failed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().Bool("missing", false, "Only download checklists that are not cached yet")
}
