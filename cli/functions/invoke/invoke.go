/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package invoke

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/UnifyEM/diragent/cli/communications"
	"github.com/UnifyEM/diragent/cli/credentials"
	"github.com/UnifyEM/diragent/cli/display"
	"github.com/UnifyEM/diragent/cli/global"
	"github.com/UnifyEM/diragent/cli/util"
	"github.com/UnifyEM/diragent/common/schema"
	"github.com/UnifyEM/diragent/common/signing"
)

// Options adjust the request built by invoke
type Options struct {
	AgentURL      string
	CorrelationID string
	Unsigned      bool
}

func Register() *cobra.Command {
	var opts Options

	cmd := &cobra.Command{
		Use:   "invoke <action> [name=value] ...",
		Short: "invoke an agent action",
		Long:  "send a signed request to an agent host over mutual TLS and print the response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, req, err := Prepare(credentials.Load(), credentials.TerminalPrompt, opts, args[0], args[1:])
			if err != nil {
				return err
			}
			return display.Response(c.Do(cmd.Context(), http.MethodPost, schema.EndpointExecute, req))
		},
	}

	cmd.Flags().StringVarP(&opts.AgentURL, "agent", "a", "", "agent host URL (default $"+credentials.EnvAgent+")")
	cmd.Flags().StringVar(&opts.CorrelationID, "correlation-id", "", "caller supplied correlation id")
	cmd.Flags().BoolVar(&opts.Unsigned, "unsigned", false, "send without a signature")
	return cmd
}

// Prepare loads the client certificate and builds the request for action
func Prepare(creds credentials.Credentials, prompt credentials.PromptFunc, opts Options, action string, args []string) (global.Comms, schema.Request, error) {
	if opts.AgentURL != "" {
		creds.AgentURL = opts.AgentURL
	}
	if creds.AgentURL == "" {
		return nil, schema.Request{}, errors.New(credentials.EnvAgent + " is not set")
	}

	params, err := util.ParseParameters(args)
	if err != nil {
		return nil, schema.Request{}, err
	}

	id, err := creds.Identity(prompt)
	if err != nil {
		return nil, schema.Request{}, err
	}

	req := NewRequest(action, params, opts.CorrelationID, time.Now())
	if !opts.Unsigned {
		if err = signing.SignRequest(&req, id.Key); err != nil {
			return nil, schema.Request{}, err
		}
	}

	tlsConfig, err := creds.TLSConfig(id)
	if err != nil {
		return nil, schema.Request{}, err
	}
	return communications.New(creds.AgentURL, tlsConfig), req, nil
}

// NewRequest returns an unsigned request with a fresh id and nonce
func NewRequest(action string, params schema.Parameters, correlationID string, now time.Time) schema.Request {
	return schema.Request{
		RequestID:            uuid.NewString(),
		ActionName:           action,
		Parameters:           params,
		TimestampUnixSeconds: now.Unix(),
		Nonce:                uuid.NewString(),
		CorrelationID:        correlationID,
	}
}
