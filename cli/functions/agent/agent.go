/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package agent

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/UnifyEM/diragent/cli/communications"
	"github.com/UnifyEM/diragent/cli/credentials"
	"github.com/UnifyEM/diragent/cli/display"
	"github.com/UnifyEM/diragent/common/schema"
)

func Register() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "agent",
		Aliases: []string{"agents"},
		Short:   "agent functions",
		Long:    "query agents known to the broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("a subcommand is required")
			}
			return fmt.Errorf("unknown subcommand: %s", args[0])
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "list agents",
		Long:  "list agents that have connected to the broker and whether they are online",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			creds := credentials.Load()
			if err := creds.RequireBroker(); err != nil {
				return err
			}
			tlsConfig, err := creds.TLSConfig(nil)
			if err != nil {
				return err
			}
			c := communications.New(creds.BrokerURL, tlsConfig, creds.Token)
			return display.AgentList(c.Do(cmd.Context(), http.MethodGet, schema.EndpointAgents, nil))
		},
	})

	return cmd
}
