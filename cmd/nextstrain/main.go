// Package main is the entry point for the Nextstrain CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/nextstrain/cli/cmd/nextstrain/app"
	uerrors "github.com/nextstrain/cli/pkg/errors"
	"github.com/nextstrain/cli/pkg/logger"
)

func main() {
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		var userErr *uerrors.UserError
		if errors.As(err, &userErr) {
			fmt.Fprintf(os.Stderr, "Error: %s\n", userErr)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
