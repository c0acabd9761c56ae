/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package job

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UnifyEM/diragent/cli/communications"
	"github.com/UnifyEM/diragent/cli/credentials"
	"github.com/UnifyEM/diragent/common/schema"
)

// fakeBroker creates one job and reports it finished after polls checks
func fakeBroker(t *testing.T, polls int32) (*httptest.Server, *atomic.Int32) {
	var seen atomic.Int32
	job := schema.NewJob("job-1", "dc01", "GetUsers", nil, "operator1", "", time.Now())

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+schema.EndpointJobs, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var req schema.APIJobSubmitRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Staff", req.Parameters.Value("Filter"))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(schema.APIJobResponse{Status: schema.APIStatusOK, Code: http.StatusCreated, Job: &job})
	})
	mux.HandleFunc("GET "+schema.EndpointJobs+"/job-1", func(w http.ResponseWriter, r *http.Request) {
		j := job
		if seen.Add(1) >= polls {
			require.NoError(t, j.Transition(schema.JobRunning, time.Now()))
			require.NoError(t, j.Transition(schema.JobCompleted, time.Now()))
		}
		_ = json.NewEncoder(w).Encode(schema.APIJobResponse{Status: schema.APIStatusOK, Code: http.StatusOK, Job: &j})
	})
	mux.HandleFunc("GET "+schema.EndpointJobs+"/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(schema.APIGenericResponse{Status: schema.APIStatusError, Code: http.StatusNotFound})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestSubmitAndWait(t *testing.T) {
	pollInterval = 10 * time.Millisecond
	srv, seen := fakeBroker(t, 3)

	c := communications.New(srv.URL, nil, "tok")
	err := Submit(context.Background(), c, schema.APIJobSubmitRequest{
		AgentID: "dc01", ModuleName: "GetUsers", Parameters: schema.Parameters{"Filter": "Staff"},
	}, true, 5)
	require.NoError(t, err)
	assert.Equal(t, int32(3), seen.Load())
}

func TestWaitTimeout(t *testing.T) {
	pollInterval = 10 * time.Millisecond
	srv, _ := fakeBroker(t, 1000)

	c := communications.New(srv.URL, nil, "tok")
	err := Wait(context.Background(), c, "job-1", 50*time.Millisecond)
	assert.ErrorContains(t, err, "timed out")
}

func TestWaitStopsOnMissingJob(t *testing.T) {
	srv, _ := fakeBroker(t, 1)
	c := communications.New(srv.URL, nil, "tok")
	err := Wait(context.Background(), c, "missing", time.Minute)
	assert.ErrorContains(t, err, "404")
}

func TestBrokerComms(t *testing.T) {
	_, err := brokerComms(credentials.Credentials{})
	assert.Error(t, err)

	_, err = brokerComms(credentials.Credentials{BrokerURL: "https://broker:8444"})
	assert.ErrorContains(t, err, credentials.EnvToken)

	c, err := brokerComms(credentials.Credentials{BrokerURL: "https://broker:8444", Token: "tok"})
	require.NoError(t, err)
	assert.NotNil(t, c)
}
