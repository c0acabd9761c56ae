/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package display

import (
	"encoding/json"
	"fmt"

	"github.com/UnifyEM/diragent/common/schema"
)

// Job handles schema.APIJobResponse from the broker
func Job(statusCode int, data []byte, err error) error {
	_, err = show[schema.APIJobResponse](statusCode, data, err)
	return err
}

// JobList handles schema.APIJobListResponse from the broker
func JobList(statusCode int, data []byte, err error) error {
	_, err = show[schema.APIJobListResponse](statusCode, data, err)
	return err
}

// AgentList handles schema.APIAgentListResponse from the broker
func AgentList(statusCode int, data []byte, err error) error {
	_, err = show[schema.APIAgentListResponse](statusCode, data, err)
	return err
}

// Response handles a schema.Response from an agent host
func Response(statusCode int, data []byte, err error) error {
	resp, err := show[schema.Response](statusCode, data, err)
	if err != nil {
		return err
	}
	if resp.Status != schema.StatusSuccess {
		return fmt.Errorf("action failed: %s", resp.ErrorCode())
	}
	return nil
}

// show prints the decoded response. Broker failures outside 2xx are
// decoded as schema.APIGenericResponse and returned as errors. Agent hosts
// answer failures with a schema.Response, which the caller inspects.
func show[T any](statusCode int, data []byte, err error) (T, error) {
	var resp T

	// Check for errors
	if err != nil {
		return resp, fmt.Errorf("HTTP request failed: %w", err)
	}

	// Print the response code
	fmt.Printf("Server response: HTTP %d\n", statusCode)

	_, fromAgent := any(resp).(schema.Response)
	if !fromAgent && (statusCode < 200 || statusCode > 299) {
		var generic schema.APIGenericResponse
		if json.Unmarshal(data, &generic) != nil || generic.Status == "" {
			return resp, fmt.Errorf("request failed with HTTP %d: %s", statusCode, string(data))
		}
		pretty(generic)
		if generic.Status == schema.APIStatusExpired {
			return resp, fmt.Errorf("access token expired, request a new one with dirbroker token")
		}
		return resp, fmt.Errorf("request failed with HTTP %d", statusCode)
	}

	err = json.Unmarshal(data, &resp)
	if err != nil {
		return resp, fmt.Errorf("failed to unmarshal response (HTTP %d): %w", statusCode, err)
	}

	pretty(resp)
	return resp, nil
}

func pretty(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("Error marshalling to JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}
