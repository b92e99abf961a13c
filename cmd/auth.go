package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/marcus/vistoria/internal/output"
	"github.com/marcus/vistoria/internal/syncconfig"
	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:     "auth",
	Short:   "Manage the API token",
	GroupID: "system",
}

var authTokenCmd = &cobra.Command{
	Use:   "token [token]",
	Short: "Save the bearer token used for the checklist API",
	Long: `Saves the token to auth.json in the config directory. Without an argument
the token is read from stdin. A running 'vistoria watch' picks it up at once.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var token string
		if len(args) == 1 {
			token = args[0]
		} else {
			fmt.Fprint(os.Stderr, "Token: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read token: %w", err)
			}
			token = line
		}
		token = strings.TrimSpace(token)
		if token == "" {
			return fmt.Errorf("token required: %w", errInvalidInput)
		}

		creds, err := syncconfig.LoadAuth()
		if err != nil {
			return err
		}
		if creds == nil {
			creds = &syncconfig.AuthCredentials{}
		}
		creds.Token = token
		creds.ServerURL = syncconfig.GetAPIURL()
		if userID, _ := cmd.Flags().GetInt64("user"); userID > 0 {
			creds.UserID = userID
		}
		if email, _ := cmd.Flags().GetString("email"); email != "" {
			creds.Email = email
		}

		if err := syncconfig.SaveAuth(creds); err != nil {
			return fmt.Errorf("save credentials: %w", err)
		}
		output.Success("Token saved")
		return nil
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the saved token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := syncconfig.ClearAuth(); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
		fmt.Println("Logged out.")
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication status",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := syncconfig.LoadAuth()
		if err != nil {
			return err
		}

		envToken := os.Getenv("VISTORIA_TOKEN") != ""
		if jsonOut {
			return output.JSON(map[string]any{
				"authenticated": syncconfig.IsAuthenticated(),
				"from_env":      envToken,
				"user_id":       syncconfig.GetUserID(),
				"api_url":       syncconfig.GetAPIURL(),
			})
		}

		if !syncconfig.IsAuthenticated() {
			fmt.Println("Not logged in. Run: vistoria auth token <token>")
			return nil
		}
		if envToken {
			fmt.Println("Token:   from VISTORIA_TOKEN")
		} else {
			fmt.Println("Token:   saved in auth.json")
		}
		if creds != nil && creds.Email != "" {
			fmt.Printf("Email:   %s\n", creds.Email)
		}
		if id := syncconfig.GetUserID(); id != 0 {
			fmt.Printf("User ID: %d\n", id)
		}
		fmt.Printf("API:     %s\n", syncconfig.GetAPIURL())
		return nil
	},
}

func init() {
	authCmd.AddCommand(authTokenCmd, authLogoutCmd, authStatusCmd)
	rootCmd.AddCommand(authCmd)
	authTokenCmd.Flags().Int64("user", 0, "User id checklists are generated for")
	authTokenCmd.Flags().String("email", "", "Account email, for display")
}
