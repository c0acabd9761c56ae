//
// Copyright (c) 2024-2026 Tenebris Technologies Inc.
// Please see the LICENSE file for details
//

package db

import (
	"time"

	"go.etcd.io/bbolt"

	"github.com/UnifyEM/diragent/common/fields"
	"github.com/UnifyEM/diragent/common/schema"
)

// PruneJobs removes terminal jobs, and their results, that completed before
// cutoff. Jobs that are still Created or Running are never pruned.
// Undecodable records are removed as well.
func (d *DB) PruneJobs(cutoff time.Time) (int, error) {
	pruned := 0

	err := d.db.Update(func(tx *bbolt.Tx) error {
		jobs := tx.Bucket([]byte(BucketJobs))
		results := tx.Bucket([]byte(BucketResults))

		// bbolt forbids modifying a bucket while iterating it
		var doomed [][]byte
		err := jobs.ForEach(func(key, value []byte) error {
			var job schema.Job
			if err := d.deserialize(value, &job); err != nil {
				d.logger.Warning(EventBadRecord, "removing undecodable job record",
					fields.NewFields(
						fields.NewField("key", string(key)),
						fields.NewField("error", err.Error())))
				doomed = append(doomed, append([]byte(nil), key...))
				return nil
			}

			if !job.State.Terminal() {
				return nil
			}

			finished := job.CreatedAt
			if job.CompletedAt != nil {
				finished = *job.CompletedAt
			}
			if finished.Before(cutoff) {
				doomed = append(doomed, append([]byte(nil), key...))
				d.logger.Info(EventPrunedJob, "pruned job", fields.NewFields(
					fields.NewField("job_id", job.JobID),
					fields.NewField("agent_id", job.AgentID),
					fields.NewField("state", string(job.State)),
					fields.NewField("completed_at", finished)))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, key := range doomed {
			if err = jobs.Delete(key); err != nil {
				return err
			}
			if err = results.Delete(key); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	if err != nil {
		d.logger.Warning(EventPruneFailed, "job prune failed", fields.NewFields(fields.NewField("error", err.Error())))
		return 0, err
	}
	return pruned, nil
}

// PruneAgents removes disconnected agents that have not been seen since cutoff
func (d *DB) PruneAgents(cutoff time.Time) (int, error) {
	pruned := 0

	err := d.db.Update(func(tx *bbolt.Tx) error {
		agents := tx.Bucket([]byte(BucketAgents))

		var doomed [][]byte
		err := agents.ForEach(func(key, value []byte) error {
			var meta schema.AgentMeta
			if err := d.deserialize(value, &meta); err != nil {
				d.logger.Warning(EventBadRecord, "removing undecodable agent record",
					fields.NewFields(
						fields.NewField("key", string(key)),
						fields.NewField("error", err.Error())))
				doomed = append(doomed, append([]byte(nil), key...))
				return nil
			}

			if !meta.Connected && meta.LastSeen.Before(cutoff) {
				doomed = append(doomed, append([]byte(nil), key...))
				d.logger.Info(EventPrunedAgent, "pruned agent", fields.NewFields(
					fields.NewField("agent_id", meta.AgentID),
					fields.NewField("last_seen", meta.LastSeen)))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, key := range doomed {
			if err = agents.Delete(key); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	if err != nil {
		d.logger.Warning(EventPruneFailed, "agent prune failed", fields.NewFields(fields.NewField("error", err.Error())))
		return 0, err
	}
	return pruned, nil
}
