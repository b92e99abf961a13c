package cmd

import (
	"fmt"

	"github.com/marcus/vistoria/internal/output"
	"github.com/spf13/cobra"
)

var formsCmd = &cobra.Command{
	Use:     "forms",
	Short:   "List the forms checklists can be generated from",
	GroupID: "inspect",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		forms, err := a.gw.ListForms(cmd.Context())
		if err != nil {
			return err
		}

		if jsonOut {
			return output.JSON(forms)
		}
		if len(forms) == 0 {
			fmt.Println("No forms")
			return nil
		}
		for _, f := range forms {
			fmt.Printf("%6d  %s  (%d fields)\n", f.ServerID, f.Name, len(f.Fields))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(formsCmd)
}
