/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package db

import (
	"errors"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/UnifyEM/diragent/common/schema"
)

// JobFilter narrows ListJobs. Zero values match everything.
type JobFilter struct {
	AgentID string
	State   schema.JobState
	Limit   int
}

func (f JobFilter) match(j schema.Job) bool {
	if f.AgentID != "" && f.AgentID != j.AgentID {
		return false
	}
	if f.State != "" && f.State != j.State {
		return false
	}
	return true
}

// CreateJob stores a new job. The job id must not exist yet.
func (d *DB) CreateJob(job schema.Job) error {
	key := validateKey(job.JobID)
	if key == "" || key != job.JobID {
		return fmt.Errorf("invalid job id %q", job.JobID)
	}
	if job.AgentID == "" {
		return errors.New("agent id is required")
	}
	if job.ModuleName == "" {
		return errors.New("module name is required")
	}

	data, err := d.serialize(job)
	if err != nil {
		return fmt.Errorf("failed to serialize job: %w", err)
	}

	return d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketJobs))
		if b.Get([]byte(key)) != nil {
			return fmt.Errorf("job %s: %w", key, ErrExists)
		}
		return b.Put([]byte(key), data)
	})
}

// GetJob returns a job with its result attached when one was stored
func (d *DB) GetJob(jobID string) (schema.Job, error) {
	var job schema.Job
	key := []byte(validateKey(jobID))

	err := d.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(BucketJobs)).Get(key)
		if data == nil {
			return ErrNotFound
		}
		if err := d.deserialize(data, &job); err != nil {
			return fmt.Errorf("failed to deserialize job: %w", err)
		}

		if blob := tx.Bucket([]byte(BucketResults)).Get(key); blob != nil {
			var result schema.JobResult
			if err := d.unpack(blob, &result); err != nil {
				return fmt.Errorf("failed to read job result: %w", err)
			}
			job.Result = &result
		}
		return nil
	})
	return job, err
}

// UpdateJob applies fn to the stored job inside one write transaction. The
// job is only written back when fn returns nil.
func (d *DB) UpdateJob(jobID string, fn func(*schema.Job) error) (schema.Job, error) {
	return d.updateJob(jobID, fn, nil)
}

// FinishJob is UpdateJob that also stores the job result in the same
// transaction, so a terminal job is never visible without its result
func (d *DB) FinishJob(jobID string, fn func(*schema.Job) error, result schema.JobResult) (schema.Job, error) {
	return d.updateJob(jobID, fn, &result)
}

func (d *DB) updateJob(jobID string, fn func(*schema.Job) error, result *schema.JobResult) (schema.Job, error) {
	var job schema.Job
	key := []byte(validateKey(jobID))

	var blob []byte
	if result != nil {
		var err error
		if blob, err = d.pack(result); err != nil {
			return job, fmt.Errorf("failed to serialize job result: %w", err)
		}
	}

	err := d.db.Update(func(tx *bbolt.Tx) error {
		jobs := tx.Bucket([]byte(BucketJobs))
		data := jobs.Get(key)
		if data == nil {
			return ErrNotFound
		}
		if err := d.deserialize(data, &job); err != nil {
			return fmt.Errorf("failed to deserialize job: %w", err)
		}

		if err := fn(&job); err != nil {
			return err
		}

		updated, err := d.serialize(job)
		if err != nil {
			return fmt.Errorf("failed to serialize job: %w", err)
		}
		if err = jobs.Put(key, updated); err != nil {
			return err
		}

		if blob != nil {
			if err = tx.Bucket([]byte(BucketResults)).Put(key, blob); err != nil {
				return err
			}
			job.Result = result
		}
		return nil
	})
	return job, err
}

// ListJobs returns matching jobs, newest first, without results
func (d *DB) ListJobs(filter JobFilter) ([]schema.Job, error) {
	jobs := make([]schema.Job, 0)

	err := d.ForEach(BucketJobs, func(key, value []byte) error {
		var job schema.Job
		if err := d.deserialize(value, &job); err != nil {
			return fmt.Errorf("failed to deserialize job %s: %w", string(key), err)
		}
		if filter.match(job) {
			jobs = append(jobs, job)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	sort.SliceStable(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})

	if filter.Limit > 0 && len(jobs) > filter.Limit {
		jobs = jobs[:filter.Limit]
	}
	return jobs, nil
}

// PendingJobs returns the jobs of an agent that have not started, oldest
// first, which is the order they are dispatched in
func (d *DB) PendingJobs(agentID string) ([]schema.Job, error) {
	jobs, err := d.ListJobs(JobFilter{AgentID: agentID, State: schema.JobCreated})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})
	return jobs, nil
}
