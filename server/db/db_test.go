/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package db

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/UnifyEM/diragent/common/null"
	"github.com/UnifyEM/diragent/common/schema"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openTest(t *testing.T) (*DB, *null.Recorder) {
	t.Helper()
	rec := null.NewRecorder()
	d, err := Open(filepath.Join(t.TempDir(), "test.db"), rec)
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d, rec
}

func newJob(id, agent string, created time.Time) schema.Job {
	return schema.NewJob(id, agent, "ListUsers", schema.Parameters{"Filter": "Staff"}, "alice", "corr-"+id, created)
}

func TestOpenRequiresLogger(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "x.db"), nil)
	assert.Error(t, err)
}

func TestJobLifecycle(t *testing.T) {
	d, _ := openTest(t)

	job := newJob("job-1", "dc01.example.com", epoch)
	require.NoError(t, d.CreateJob(job))
	assert.ErrorIs(t, d.CreateJob(job), ErrExists)

	got, err := d.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, schema.JobCreated, got.State)
	assert.Equal(t, "Staff", got.Parameters.Value("filter"))
	assert.True(t, got.CreatedAt.Equal(epoch))
	assert.Nil(t, got.Result)

	started := epoch.Add(time.Second)
	_, err = d.UpdateJob("job-1", func(j *schema.Job) error {
		return j.Transition(schema.JobRunning, started)
	})
	require.NoError(t, err)

	result := schema.JobResult{Items: []schema.Row{{"Name": "bob"}, {"Name": "carol"}}}
	done, err := d.FinishJob("job-1", func(j *schema.Job) error {
		return j.Transition(schema.JobCompleted, started.Add(1500*time.Millisecond))
	}, result)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), done.DurationMs)

	got, err = d.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, schema.JobCompleted, got.State)
	assert.Equal(t, 100, got.Progress)
	require.NotNil(t, got.Result)
	require.Len(t, got.Result.Items, 2)
	assert.Equal(t, "carol", got.Result.Items[1]["Name"])

	// Terminal states never change and a failed update writes nothing
	_, err = d.UpdateJob("job-1", func(j *schema.Job) error {
		return j.Transition(schema.JobFailed, time.Now())
	})
	var invalid schema.ErrInvalidTransition
	assert.ErrorAs(t, err, &invalid)

	got, err = d.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, schema.JobCompleted, got.State)
}

func TestFailedResultKeepsErrors(t *testing.T) {
	d, _ := openTest(t)
	require.NoError(t, d.CreateJob(newJob("job-2", "dc01", epoch)))

	result := schema.JobResult{Errors: schema.NewErrorList().AppendMessage(schema.CodeCanceled, "operator request")}
	_, err := d.FinishJob("job-2", func(j *schema.Job) error {
		return j.Transition(schema.JobFailed, epoch.Add(time.Minute))
	}, result)
	require.NoError(t, err)

	got, err := d.GetJob("job-2")
	require.NoError(t, err)
	assert.Equal(t, schema.JobFailed, got.State)
	assert.Nil(t, got.StartedAt)
	require.NotNil(t, got.Result)
	assert.Equal(t, schema.CodeCanceled, got.Result.Errors.First())
	assert.Equal(t, "operator request", got.Result.Errors[0].Message)
}

func TestJobValidation(t *testing.T) {
	d, _ := openTest(t)

	assert.Error(t, d.CreateJob(newJob("bad id!", "dc01", epoch)))
	assert.Error(t, d.CreateJob(newJob("job-3", "", epoch)))

	noModule := newJob("job-4", "dc01", epoch)
	noModule.ModuleName = ""
	assert.Error(t, d.CreateJob(noModule))

	_, err := d.GetJob("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = d.UpdateJob("missing", func(*schema.Job) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAndPending(t *testing.T) {
	d, _ := openTest(t)

	for i := 0; i < 5; i++ {
		agent := "dc01"
		if i%2 == 1 {
			agent = "dc02"
		}
		require.NoError(t, d.CreateJob(newJob(fmt.Sprintf("job-%d", i), agent, epoch.Add(time.Duration(i)*time.Minute))))
	}
	_, err := d.UpdateJob("job-2", func(j *schema.Job) error {
		return j.Transition(schema.JobRunning, epoch.Add(time.Hour))
	})
	require.NoError(t, err)

	all, err := d.ListJobs(JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "job-4", all[0].JobID, "newest first")

	dc01, err := d.ListJobs(JobFilter{AgentID: "dc01"})
	require.NoError(t, err)
	assert.Len(t, dc01, 3)

	running, err := d.ListJobs(JobFilter{State: schema.JobRunning})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "job-2", running[0].JobID)

	limited, err := d.ListJobs(JobFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	pending, err := d.PendingJobs("dc01")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "job-0", pending[0].JobID, "oldest first")
	assert.Equal(t, "job-4", pending[1].JobID)
}

func TestRecordsAreDeterministic(t *testing.T) {
	d, _ := openTest(t)

	job := newJob("job-1", "dc01", epoch)
	job.Parameters = schema.Parameters{"b": "2", "a": "1", "c": "3"}

	first, err := d.serialize(job)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := d.serialize(job)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(first, again))
	}
}

func TestResultsAreCompressed(t *testing.T) {
	d, _ := openTest(t)
	require.NoError(t, d.CreateJob(newJob("job-1", "dc01", epoch)))

	rows := make([]schema.Row, 0, 500)
	for i := 0; i < 500; i++ {
		rows = append(rows, schema.Row{"SamAccountName": fmt.Sprintf("user%03d", i), "Department": "Engineering"})
	}
	result := schema.JobResult{Items: rows}

	_, err := d.FinishJob("job-1", func(j *schema.Job) error {
		return j.Transition(schema.JobFailed, epoch)
	}, result)
	require.NoError(t, err)

	raw, err := d.serialize(result)
	require.NoError(t, err)

	var stored []byte
	require.NoError(t, d.db.View(func(tx *bbolt.Tx) error {
		stored = append(stored, tx.Bucket([]byte(BucketResults)).Get([]byte("job-1"))...)
		return nil
	}))
	assert.Less(t, len(stored), len(raw)/4)

	got, err := d.GetJob("job-1")
	require.NoError(t, err)
	assert.Len(t, got.Result.Items, 500)
	assert.Equal(t, "user499", got.Result.Items[499]["SamAccountName"])
}

func TestPruneJobs(t *testing.T) {
	d, rec := openTest(t)

	finish := func(id string, at time.Time) {
		_, err := d.FinishJob(id, func(j *schema.Job) error {
			return j.Transition(schema.JobFailed, at)
		}, schema.JobResult{})
		require.NoError(t, err)
	}

	require.NoError(t, d.CreateJob(newJob("old", "dc01", epoch)))
	finish("old", epoch.Add(time.Hour))
	require.NoError(t, d.CreateJob(newJob("recent", "dc01", epoch)))
	finish("recent", epoch.Add(72*time.Hour))
	require.NoError(t, d.CreateJob(newJob("queued", "dc01", epoch)))

	// Garbage that cannot be decoded is removed too
	require.NoError(t, d.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(BucketJobs)).Put([]byte("junk"), []byte{0xff, 0x00})
	}))

	n, err := d.PruneJobs(epoch.Add(48 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = d.GetJob("old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = d.GetJob("recent")
	assert.NoError(t, err)
	_, err = d.GetJob("queued")
	assert.NoError(t, err, "jobs that never finished are kept")

	assert.Len(t, rec.ByID(EventPrunedJob), 1)
	assert.Len(t, rec.ByID(EventBadRecord), 1)
}

func TestAgents(t *testing.T) {
	d, _ := openTest(t)

	desc := schema.AgentDescriptor{AgentID: "dc01.example.com", Host: "dc01", Version: "1.0.0", Build: 7}
	first := schema.NewAgentMeta(desc, "AB12", "10.0.0.5", epoch)
	_, err := d.AgentConnected(first)
	require.NoError(t, err)

	again := schema.NewAgentMeta(desc, "AB12", "10.0.0.6", epoch.Add(time.Hour))
	meta, err := d.AgentConnected(again)
	require.NoError(t, err)
	assert.True(t, meta.FirstSeen.Equal(epoch), "first seen survives reconnect")
	assert.Equal(t, "10.0.0.6", meta.LastIP)

	require.NoError(t, d.AgentDisconnected("dc01.example.com", epoch.Add(2*time.Hour)))
	meta, err = d.GetAgentMeta("dc01.example.com")
	require.NoError(t, err)
	assert.False(t, meta.Connected)
	assert.True(t, meta.LastSeen.Equal(epoch.Add(2*time.Hour)))

	other := schema.NewAgentMeta(schema.AgentDescriptor{AgentID: "dc02"}, "CD34", "10.0.0.7", epoch)
	_, err = d.AgentConnected(other)
	require.NoError(t, err)

	require.NoError(t, d.ResetConnections())
	list, err := d.ListAgents()
	require.NoError(t, err)
	require.Len(t, list.Agents, 2)
	assert.Equal(t, "dc01.example.com", list.Agents[0].AgentID)
	for _, a := range list.Agents {
		assert.False(t, a.Connected)
	}

	n, err := d.PruneAgents(epoch.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = d.GetAgentMeta("dc02")
	assert.True(t, errors.Is(err, ErrNotFound))
}
