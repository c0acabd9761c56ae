/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/UnifyEM/diragent/common"
	"github.com/UnifyEM/diragent/common/certstore"
	"github.com/UnifyEM/diragent/common/schema"
	"github.com/UnifyEM/diragent/common/signing"
	"github.com/UnifyEM/diragent/server/api"
	"github.com/UnifyEM/diragent/server/global"
)

// Broker lifecycle event ids
const (
	EventStartFailed   = 1201
	EventComponentInit = 1202
	EventStatus        = 1203
	EventStopping      = 1204
	EventReloadApplied = 1205
)

var configFile string

func main() {
	exit(launch())
}

// rootCommand builds the console command tree
func rootCommand() *cobra.Command {
	progName := filepath.Base(os.Args[0])

	rootCmd := &cobra.Command{
		Use:           progName,
		Short:         global.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return errors.New("a subcommand is required")
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "configuration file")

	var listen string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the broker in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				if _, err := net.ResolveTCPAddr("tcp", listen); err != nil {
					return fmt.Errorf("invalid listen address: %w", err)
				}
				global.ListenOverride = listen
			}
			return startService()
		},
	}
	serveCmd.Flags().StringVarP(&listen, "listen", "l", "", "override the configured listen address")

	var role string
	tokenCmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue an operator access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return issueToken(args[0], role)
		},
	}
	tokenCmd.Flags().StringVarP(&role, "role", "r", schema.RoleName(schema.RoleOperator), "auditor, operator or admin")

	var show bool
	checkCmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and certificates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkConfig(); err != nil {
				return err
			}
			if show {
				return showConfig()
			}
			return nil
		},
	}
	checkCmd.Flags().BoolVar(&show, "show", false, "print the effective configuration with secrets masked")

	rootCmd.AddCommand(
		serveCmd,
		tokenCmd,
		checkCmd,
		&cobra.Command{
			Use:   "version",
			Short: "Display version information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				common.Banner(cmd.OutOrStdout(), global.Description)
			},
		},
	)
	rootCmd.AddCommand(setupCommands()...)
	return rootCmd
}

// console runs a console command and returns the exit code
func console() int {
	fmt.Println("")
	if err := rootCommand().Execute(); err != nil {
		fmt.Printf("Error: %v\n", err)
		return 1
	}
	return 0
}

func exit(code int, delay bool) {
	if //goland:noinspection GoBoolExpressions
	delay && global.ConsoleExitDelay > 0 {
		fmt.Printf("\nExiting with code %d in %d seconds...\n\n", code, global.ConsoleExitDelay)
		time.Sleep(global.ConsoleExitDelay * time.Second)
	} else {
		fmt.Printf("\nExiting with code %d\n\n", code)
	}
	os.Exit(code)
}

// loadSettings loads or creates the configuration file and validates it
func loadSettings() (*global.ServerConfig, *global.Settings, error) {
	conf, err := global.Config(configFile)
	if err != nil {
		return nil, nil, err
	}
	s, err := conf.Settings()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return conf, s, nil
}

func issueToken(subject, roleName string) error {
	role := schema.RoleFromName(roleName)
	if role == schema.RoleNone {
		return fmt.Errorf("unknown role %q", roleName)
	}

	_, s, err := loadSettings()
	if err != nil {
		return err
	}

	tokens, err := api.NewTokens(s.JWTKey, s.AccessTokenLife, nil)
	if err != nil {
		return err
	}
	token, err := tokens.Create(subject, role)
	if err != nil {
		return err
	}

	expires := "never"
	if s.AccessTokenLife > 0 {
		expires = time.Now().Add(s.AccessTokenLife).Format(time.RFC3339)
	}
	fmt.Printf("Subject: %s\nRole:    %s\nExpires: %s\n\n%s\n", subject, schema.RoleName(role), expires, token)
	return nil
}

func checkConfig() error {
	conf, s, err := loadSettings()
	if err != nil {
		return err
	}

	fmt.Printf("Configuration file: %s\n", conf.C.File())
	fmt.Printf("Listen:             %s\n", s.Listen)
	fmt.Printf("Database:           %s\n", s.DBFile)
	fmt.Printf("Allowed agents:     %d\n", s.AgentAllowList.Len())
	fmt.Printf("Prune schedule:     %s\n", s.PruneSchedule)

	id, err := certstore.Load(s.TLSCertFile, s.TLSKeyFile, s.TLSPFXFile, s.TLSPFXPassword)
	if err != nil {
		return fmt.Errorf("server certificate: %w", err)
	}
	if err = signing.CheckCertificate(id.Cert); err != nil {
		return err
	}
	fmt.Printf("Certificate:        %s (expires %s)\n", id.Cert.Subject.String(), id.Cert.NotAfter.Format(time.RFC3339))

	if s.AgentCAFile != "" {
		if _, err = certstore.LoadPool(s.AgentCAFile); err != nil {
			return fmt.Errorf("agent CA: %w", err)
		}
	} else {
		fmt.Println("Warning: no agent CA configured, agents are matched by thumbprint only")
	}
	if s.AgentAllowList.Len() == 0 {
		fmt.Println("Warning: no agent thumbprints are allowed, every agent will be rejected")
	}

	fmt.Println("\nConfiguration is valid")
	return nil
}

// showConfig prints the effective configuration with secrets masked
func showConfig() error {
	conf, _, err := loadSettings()
	if err != nil {
		return err
	}
	out, err := conf.C.Dump(global.ConfigTLSPFXPassword, global.ConfigJWTKey)
	if err != nil {
		return err
	}
	fmt.Printf("\n%s", out)
	return nil
}
