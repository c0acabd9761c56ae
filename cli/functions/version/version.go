/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/UnifyEM/diragent/cli/global"
	"github.com/UnifyEM/diragent/common"
)

func Register() *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "version, copyright, and legal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if short {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), global.Version)
				return err
			}
			common.Banner(cmd.OutOrStdout(), global.Description)
			return nil
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "print only the version number")
	return cmd
}
