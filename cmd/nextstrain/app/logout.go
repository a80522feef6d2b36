package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextstrain/cli/pkg/authn"
)

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout [REMOTE]",
		Short: "Logout of Nextstrain.org (and other remotes)",
		Long: `Logout of Nextstrain.org (and other remotes).

This removes locally-saved credentials. Any tokens already issued
remain valid until they expire; they are not revoked server-side.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			remote, err := originFromArgs(args)
			if err != nil {
				return err
			}

			removed, err := authn.Logout(cmd.Context(), remote)
			if err != nil {
				return err
			}
			if removed {
				fmt.Printf("Logged out of %s\n", remote)
			} else {
				fmt.Printf("Not logged in to %s, so nothing to do\n", remote)
			}
			return nil
		},
	}
}
