/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/UnifyEM/diragent/cli/communications"
	"github.com/UnifyEM/diragent/cli/credentials"
	"github.com/UnifyEM/diragent/cli/display"
	"github.com/UnifyEM/diragent/cli/global"
	"github.com/UnifyEM/diragent/cli/util"
	"github.com/UnifyEM/diragent/common/schema"
)

// pollInterval is the pause between status checks while waiting
var pollInterval = 5 * time.Second

func Register() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "job",
		Aliases: []string{"jobs"},
		Short:   "broker job functions",
		Long:    "submit, query and cancel jobs routed through the broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("a subcommand is required")
			}
			return fmt.Errorf("unknown subcommand: %s", args[0])
		},
	}

	// Add persistent flags for wait functionality
	cmd.PersistentFlags().BoolP("wait", "w", false, "wait for the job to finish before returning")
	cmd.PersistentFlags().IntP("timeout", "t", 300, "timeout in seconds when waiting")

	var correlationID string
	submitCmd := &cobra.Command{
		Use:   "submit <agent_id> <module> [name=value] ...",
		Short: "submit a job",
		Long:  "submit a job for the specified agent",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := brokerComms(credentials.Load())
			if err != nil {
				return err
			}
			params, err := util.ParseParameters(args[2:])
			if err != nil {
				return err
			}
			wait, timeout := waitFlags(cmd)
			return Submit(cmd.Context(), c, schema.APIJobSubmitRequest{
				AgentID:       args[0],
				ModuleName:    args[1],
				Parameters:    params,
				CorrelationID: correlationID,
			}, wait, timeout)
		},
	}
	submitCmd.Flags().StringVar(&correlationID, "correlation-id", "", "caller supplied correlation id")

	cmd.AddCommand(submitCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "get <job_id>",
		Short: "get job",
		Long:  "get the state and result of the specified job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := brokerComms(credentials.Load())
			if err != nil {
				return err
			}
			wait, timeout := waitFlags(cmd)
			if wait {
				return Wait(cmd.Context(), c, args[0], time.Duration(timeout)*time.Second)
			}
			return display.Job(c.Do(cmd.Context(), http.MethodGet, schema.JobPath(args[0]), nil))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list [agent_id=<agent ID>] [state=<state>] [limit=<n>]",
		Short: "list jobs",
		Long:  "list jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := brokerComms(credentials.Load())
			if err != nil {
				return err
			}
			return display.JobList(c.GetQuery(schema.EndpointJobs, util.NewNVPairs(args)))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <job_id>",
		Short: "cancel job",
		Long:  "fail the specified job if it has not finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := brokerComms(credentials.Load())
			if err != nil {
				return err
			}
			return display.Job(c.Do(cmd.Context(), http.MethodPost, schema.JobCancelPath(args[0]), nil))
		},
	})

	return cmd
}

func waitFlags(cmd *cobra.Command) (bool, int) {
	wait, _ := cmd.Flags().GetBool("wait")
	timeout, _ := cmd.Flags().GetInt("timeout")
	return wait, timeout
}

// brokerComms returns a client for the broker API
func brokerComms(creds credentials.Credentials) (global.Comms, error) {
	if err := creds.RequireBroker(); err != nil {
		return nil, err
	}
	tlsConfig, err := creds.TLSConfig(nil)
	if err != nil {
		return nil, err
	}
	return communications.New(creds.BrokerURL, tlsConfig, creds.Token), nil
}

// Submit posts the job and optionally waits for it to finish
func Submit(ctx context.Context, c global.Comms, req schema.APIJobSubmitRequest, wait bool, timeout int) error {
	code, data, err := c.Do(ctx, http.MethodPost, schema.EndpointJobs, req)
	if !wait || err != nil || code != http.StatusCreated {
		return display.Job(code, data, err)
	}

	var resp schema.APIJobResponse
	if err = json.Unmarshal(data, &resp); err != nil || resp.Job == nil {
		return display.Job(code, data, err)
	}
	fmt.Printf("Job %s submitted\n", resp.Job.JobID)
	return Wait(ctx, c, resp.Job.JobID, time.Duration(timeout)*time.Second)
}

// Wait polls the broker until the job reaches a terminal state, timeout
// passes, or ctx ends. On timeout the last state seen is printed.
func Wait(ctx context.Context, c global.Comms, jobID string, timeout time.Duration) error {
	fmt.Printf("Waiting for job %s (timeout: %s)...\n", jobID, timeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var last []byte
	for {
		code, data, err := c.Do(ctx, http.MethodGet, schema.JobPath(jobID), nil)
		if err == nil && code != http.StatusOK {
			// Not found or not authorized will not change by waiting
			return display.Job(code, data, err)
		}

		if err == nil {
			last = data
			var resp schema.APIJobResponse
			if json.Unmarshal(data, &resp) == nil && resp.Job != nil && resp.Job.State.Terminal() {
				return display.Job(code, data, nil)
			}
		}

		select {
		case <-ctx.Done():
			if last != nil {
				_ = display.Job(http.StatusOK, last, nil)
			}
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("wait timed out after %s", timeout)
			}
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
