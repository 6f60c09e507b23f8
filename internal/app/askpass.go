package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/resticgx/internal/secrets"
)

// askpassCmd is the password command handed to the engine with
// password_mode: command. It prints the secret behind a one-time URL.
var askpassCmd = &cobra.Command{
	Use:    "askpass <url>",
	Short:  "Print a secret from the local secrets server",
	Hidden: true,
	Args:   cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := secrets.Fetch(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), secret)
		return nil
	},
}

func init() {
	RootCmd.AddCommand(askpassCmd)
}
