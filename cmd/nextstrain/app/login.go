package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nextstrain/cli/pkg/authn"
	uerrors "github.com/nextstrain/cli/pkg/errors"
)

func newLoginCmd() *cobra.Command {
	var (
		username string
		renew    bool
	)

	cmd := &cobra.Command{
		Use:   "login [REMOTE]",
		Short: "Login to Nextstrain.org (and other remotes)",
		Long: `Login to Nextstrain.org (and other remotes).

By default this opens your web browser to login. Pass --username to
login directly with a username and password instead, where the remote
supports it. Credentials are saved for subsequent commands.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			remote, err := originFromArgs(args)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if renew {
				user, err := authn.Renew(ctx, remote)
				if err != nil {
					return err
				}
				fmt.Printf("Renewed login for %s (%s)\n", user.Username, remote)
				return nil
			}

			if user := authn.CurrentUser(ctx, remote); user != nil {
				fmt.Printf("Already logged in to %s as %s\n", remote, user.Username)
				fmt.Println("Logout first if you want to login as someone else.")
				return nil
			}

			var user *authn.User
			if username != "" {
				password, err := promptPassword(username)
				if err != nil {
					return err
				}
				user, err = authn.LoginWithPassword(ctx, remote, username, password)
				if err != nil {
					return err
				}
			} else {
				user, err = authn.LoginWithBrowser(ctx, remote)
				if err != nil {
					return err
				}
			}

			fmt.Printf("Logged in to %s as %s\n", remote, user.Username)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Login directly with this username and a password prompt")
	cmd.Flags().BoolVar(&renew, "renew", false, "Renew existing tokens instead of logging in again")

	return cmd
}

// promptPassword reads a password without echo, or from piped stdin when
// not on a terminal.
func promptPassword(username string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprintf(os.Stderr, "Password for %s: ", username)
		line, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", uerrors.WrapUserError(err, "Could not read password")
		}
		return string(line), nil
	}

	var line strings.Builder
	buf := make([]byte, 1)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if buf[0] == '\n' {
				break
			}
			line.WriteByte(buf[0])
		}
		if err != nil {
			break
		}
	}
	return strings.TrimSuffix(line.String(), "\r"), nil
}
