//
// Copyright (c) 2024-2026 Tenebris Technologies Inc.
// Please see the LICENSE file for details
//

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/UnifyEM/diragent/cli/functions/agent"
	"github.com/UnifyEM/diragent/cli/functions/invoke"
	"github.com/UnifyEM/diragent/cli/functions/job"
	"github.com/UnifyEM/diragent/cli/functions/thumbprint"
	"github.com/UnifyEM/diragent/cli/functions/version"
	"github.com/UnifyEM/diragent/cli/global"
)

func main() {
	// Initialize the root command
	rootCmd := &cobra.Command{
		Use:          filepath.Base(os.Args[0]),
		Short:        global.Description,
		Long:         global.LongDescription,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return errors.New("a subcommand is required")
		},
	}

	// Disable completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Add the functions
	rootCmd.AddCommand(agent.Register())
	rootCmd.AddCommand(invoke.Register())
	rootCmd.AddCommand(job.Register())
	rootCmd.AddCommand(thumbprint.Register())
	rootCmd.AddCommand(version.Register())

	// Interrupt cancels waits and in-flight requests
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Println()
		os.Exit(1)
	}
}
