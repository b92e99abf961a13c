package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/marcus/vistoria/internal/models"
	"github.com/marcus/vistoria/internal/output"
	"github.com/spf13/cobra"
)

var attachCmd = &cobra.Command{
	Use:   "attach <checklist-id> <field-id> <file>",
	Short: "Attach a photo or signature image to a field",
	Long: `Queues an image for upload. The file is copied into the local database,
so the original can be removed once the command returns. Uploads are sent by
the next sync.`,
	Args:    cobra.ExactArgs(3),
	GroupID: "inspect",
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := parseChecklistRef(args[0])
		if err != nil {
			return err
		}
		fieldID, err := parseID("field id", args[1])
		if err != nil {
			return err
		}

		data, err := os.ReadFile(args[2])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[2], err)
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
			return fmt.Errorf("checklist %s has no response to attach to: %w", ref, errInvalidInput)
		}

		kind := models.KindPhoto
		if sig, _ := cmd.Flags().GetBool("signature"); sig {
			kind = models.KindSignature
		} else if field, ok := findField(view.Fields, fieldID); ok && field.Kind() == models.KindSignature {
			kind = models.KindSignature
		}

		item, err := a.gw.AttachFile(cmd.Context(), view.LocalResponseID, fieldID, kind,
			filepath.Base(args[2]), http.DetectContentType(data), data)
		if err != nil {
			return err
		}

		if jsonOut {
			return output.JSON(item)
		}
		output.Success("Queued %s (%s) for field %d", item.FileName, output.FormatBytes(len(item.Data)), fieldID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(attachCmd)
	attachCmd.Flags().Bool("signature", false, "Store the image as a signature")
}
