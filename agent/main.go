/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/UnifyEM/diragent/agent/global"
	"github.com/UnifyEM/diragent/common"
	"github.com/UnifyEM/diragent/common/certstore"
	"github.com/UnifyEM/diragent/common/signing"
	"github.com/UnifyEM/diragent/common/thumbprint"
)

// Agent lifecycle event ids
const (
	EventStartFailed   = 1101
	EventComponentInit = 1102
	EventReloadApplied = 1103
	EventStatus        = 1104
	EventMetrics       = 1150 // userver SEid base for the metrics listener
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
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTPS host, and the broker worker when broker_url is set",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return startService(modeServe)
			},
		},
		&cobra.Command{
			Use:   "broker",
			Short: "Run only the broker worker",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return startService(modeBroker)
			},
		},
		checkCmd,
		&cobra.Command{
			Use:   "thumbprint",
			Short: "Print the thumbprints of the agent certificate",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return printThumbprint()
			},
		},
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

// serviceMode applies the flags passed by a service manager and picks the
// mode from the first argument
func serviceMode(args []string) mode {
	_ = rootCommand().ParseFlags(args)
	if len(args) > 0 && args[0] == "broker" {
		return modeBroker
	}
	return modeServe
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

// loadSettings loads the configuration file and validates it
func loadSettings() (*global.AgentConfig, *global.Settings, error) {
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

func loadIdentity(s *global.Settings) (*certstore.Identity, error) {
	id, err := certstore.Load(s.TLSCertFile, s.TLSKeyFile, s.TLSPFXFile, s.TLSPFXPassword)
	if err != nil {
		return nil, fmt.Errorf("agent certificate: %w", err)
	}
	if err = id.Check(); err != nil {
		return nil, fmt.Errorf("agent certificate: %w", err)
	}
	return id, nil
}

func checkConfig() error {
	conf, s, err := loadSettings()
	if err != nil {
		return err
	}

	fmt.Printf("Configuration file:      %s\n", conf.C.File())
	fmt.Printf("Listen:                  %s\n", s.Listen)
	fmt.Printf("Allowed clients:         %d\n", s.AllowList.Len())
	fmt.Printf("Require signed requests: %t\n", s.RequireSignedRequests)
	fmt.Printf("Revocation check:        %t (fail open: %t)\n", s.EnforceRevocationCheck, s.FailOpenOnRevocation)
	fmt.Printf("Directory:               %s\n", s.Directory.URL)
	fmt.Printf("Broker:                  %s\n", s.BrokerURL)

	id, err := loadIdentity(s)
	if err != nil {
		return err
	}
	if err = signing.CheckCertificate(id.Cert); err != nil {
		return err
	}
	fmt.Printf("Certificate:             %s (expires %s)\n", id.Cert.Subject.String(), id.Cert.NotAfter.Format(time.RFC3339))

	if s.ClientCAFile != "" {
		if _, err = certstore.LoadPool(s.ClientCAFile); err != nil {
			return fmt.Errorf("client CA: %w", err)
		}
	}
	if s.BrokerCAFile != "" {
		if _, err = certstore.LoadPool(s.BrokerCAFile); err != nil {
			return fmt.Errorf("broker CA: %w", err)
		}
	}

	var warnings []string
	if s.AllowList.Len() == 0 {
		warnings = append(warnings, "no client thumbprints are allowed, every request will be rejected")
	}
	if !s.RequireSignedRequests {
		warnings = append(warnings, "unsigned requests are accepted")
	}
	if s.EnforceRevocationCheck && s.FailOpenOnRevocation {
		warnings = append(warnings, "revocation failures are ignored (fail_open_on_revocation)")
	}
	for _, w := range warnings {
		fmt.Printf("Warning: %s\n", w)
	}

	fmt.Println("\nConfiguration is valid")
	return nil
}

func printThumbprint() error {
	_, s, err := loadSettings()
	if err != nil {
		return err
	}
	id, err := loadIdentity(s)
	if err != nil {
		return err
	}
	fmt.Printf("Subject: %s\n", id.Cert.Subject.String())
	fmt.Printf("SHA1:    %s\n", thumbprint.SHA1(id.Cert))
	fmt.Printf("SHA256:  %s\n", thumbprint.SHA256(id.Cert))
	return nil
}

// showConfig prints the effective configuration with secrets masked
func showConfig() error {
	conf, _, err := loadSettings()
	if err != nil {
		return err
	}
	out, err := conf.C.Dump(global.ConfigTLSPFXPassword, global.ConfigDirectoryBindPassword)
	if err != nil {
		return err
	}
	fmt.Printf("\n%s", out)
	return nil
}
