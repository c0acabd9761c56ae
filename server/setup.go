/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/UnifyEM/diragent/server/global"
	"github.com/UnifyEM/diragent/common/install"
	"github.com/UnifyEM/diragent/common/service/privcheck"
)

// setupCommands returns the install, uninstall and upgrade commands
func setupCommands() []*cobra.Command {
	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Install and start " + global.Name + " as a system service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := installer()
			if err != nil {
				return err
			}
			return i.Install()
		},
	}

	return []*cobra.Command{
		installCmd,
		{
			Use:   "uninstall",
			Short: "Stop and remove the " + global.Name + " service",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				i, err := installer()
				if err != nil {
					return err
				}
				return i.Uninstall()
			},
		},
		{
			Use:   "upgrade",
			Short: "Replace the installed service with this binary",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				i, err := installer()
				if err != nil {
					return err
				}
				return i.Upgrade()
			},
		},
	}
}

func installer() (*install.Installer, error) {
	if err := privcheck.Require(); err != nil {
		return nil, err
	}

	args := []string{"serve"}
	if configFile != "" {
		abs, err := filepath.Abs(configFile)
		if err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		args = append(args, "--config", abs)
	}

	return install.New(
		install.WithName(global.Name),
		install.WithDescription(global.Description),
		install.WithArgs(args...))
}
