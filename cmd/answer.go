package cmd

import (
	"fmt"

	"github.com/marcus/vistoria/internal/models"
	"github.com/marcus/vistoria/internal/output"
	"github.com/spf13/cobra"
)

var answerKind kindFlag

var answerCmd = &cobra.Command{
	Use:   "answer <checklist-id> <field-id> <value>...",
	Short: "Answer one field of a checklist",
	Long: `Saves an answer locally and sends it to the server when possible.
Answers that cannot be delivered are queued for the next sync.

The value is read according to the field kind, taken from the checklist
definition unless --kind is given:
  text            the words joined with spaces
  multi_select    one option per argument, or comma-separated
  photo           a single uri
  composite_ocr   a photo uri followed by the recognised text
  signature       a single uri`,
	Example: `  vistoria answer 42 7 ABC1D23
  vistoria answer 42 8 pneus faróis
  vistoria answer local:3 7 ABC1D23
  vistoria answer 42 9 --kind composite_ocr file:///tmp/odo.jpg 123456`,
	Args:    cobra.MinimumNArgs(3),
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

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		view, err := a.checklist(cmd.Context(), ref)
		if err != nil {
			return err
		}

		kind := answerKind.kind
		if kind == "" {
			field, ok := findField(view.Fields, fieldID)
			if !ok {
				return fmt.Errorf("checklist %s has no field %d: %w", ref, fieldID, errInvalidInput)
			}
			kind = field.Kind()
		}

		value, err := models.ParseValue(kind, args[2:])
		if err != nil {
			return fmt.Errorf("%v: %w", err, errInvalidInput)
		}

		res, err := a.gw.SaveField(cmd.Context(), value, fieldID, view.ResponseID, view.LocalResponseID, view.FormServerID)
		if err != nil {
			return err
		}

		if jsonOut {
			return output.JSON(map[string]any{
				"field":   fieldID,
				"value":   value.Wire(),
				"queued":  res.Offline,
				"refused": errString(res.RemoteErr),
			})
		}
		switch {
		case res.RemoteErr != nil:
			output.Warning("server refused the answer (%v); saved locally and queued", res.RemoteErr)
		case res.Offline:
			output.Success("Saved locally, will sync later")
		default:
			output.Success("Saved field %d: %s", fieldID, models.FormatValue(value))
		}
		return nil
	},
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func init() {
	rootCmd.AddCommand(answerCmd)
	answerCmd.Flags().Var(&answerKind, "kind", "Field kind ("+kindNames()+")")
}
