package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextstrain/cli/pkg/authn"
)

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami [REMOTE]",
		Short: "Show information about the logged-in user",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			remote, err := originFromArgs(args)
			if err != nil {
				return err
			}

			user := authn.CurrentUser(cmd.Context(), remote)
			if user == nil {
				fmt.Printf("Not logged in to %s\n", remote)
				return nil
			}

			fmt.Printf("username: %s\n", user.Username)
			if user.Email != "" {
				fmt.Printf("email: %s\n", user.Email)
			}
			fmt.Printf("groups: %s\n", strings.Join(user.Groups, ", "))
			return nil
		},
	}
}
