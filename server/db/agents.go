/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package db

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/UnifyEM/diragent/common/schema"
)

// SetAgentMeta stores agent metadata in the Agents bucket
func (d *DB) SetAgentMeta(meta schema.AgentMeta) error {
	key := validateKey(meta.AgentID)
	if key == "" {
		return errors.New("agent id is required")
	}
	if err := d.SetData(BucketAgents, key, meta); err != nil {
		return fmt.Errorf("failed to store agent metadata: %w", err)
	}
	return nil
}

// GetAgentMeta retrieves agent metadata from the Agents bucket
func (d *DB) GetAgentMeta(agentID string) (schema.AgentMeta, error) {
	var meta schema.AgentMeta
	if err := d.GetData(BucketAgents, validateKey(agentID), &meta); err != nil {
		return meta, fmt.Errorf("failed to retrieve agent metadata: %w", err)
	}
	return meta, nil
}

// DeleteAgentMeta removes agent metadata from the Agents bucket
func (d *DB) DeleteAgentMeta(agentID string) error {
	if err := d.DeleteData(BucketAgents, validateKey(agentID)); err != nil {
		return fmt.Errorf("failed to delete agent metadata: %w", err)
	}
	return nil
}

// AgentConnected records a new connection. FirstSeen survives reconnects.
func (d *DB) AgentConnected(meta schema.AgentMeta) (schema.AgentMeta, error) {
	prev, err := d.GetAgentMeta(meta.AgentID)
	switch {
	case err == nil:
		meta.FirstSeen = prev.FirstSeen
	case !errors.Is(err, ErrNotFound):
		return meta, err
	}
	meta.Connected = true
	return meta, d.SetAgentMeta(meta)
}

// AgentDisconnected clears the connected flag and stamps LastSeen
func (d *DB) AgentDisconnected(agentID string, at time.Time) error {
	meta, err := d.GetAgentMeta(agentID)
	if err != nil {
		return err
	}
	meta.Connected = false
	meta.LastSeen = at
	return d.SetAgentMeta(meta)
}

// ResetConnections marks every agent disconnected. Used at startup, since
// no websocket survives a broker restart.
func (d *DB) ResetConnections() error {
	list, err := d.ListAgents()
	if err != nil {
		return err
	}
	for _, meta := range list.Agents {
		if !meta.Connected {
			continue
		}
		meta.Connected = false
		if err = d.SetAgentMeta(meta); err != nil {
			return err
		}
	}
	return nil
}

// ListAgents retrieves all agent metadata ordered by agent id
func (d *DB) ListAgents() (schema.AgentList, error) {
	list := schema.AgentList{Agents: make([]schema.AgentMeta, 0)}

	err := d.ForEach(BucketAgents, func(key, value []byte) error {
		var meta schema.AgentMeta
		if err := d.deserialize(value, &meta); err != nil {
			return fmt.Errorf("failed to deserialize agent metadata: %w", err)
		}
		list.Agents = append(list.Agents, meta)
		return nil
	})
	if err != nil {
		return schema.AgentList{}, fmt.Errorf("failed to retrieve all agent metadata: %w", err)
	}

	sort.Slice(list.Agents, func(i, k int) bool {
		return list.Agents[i].AgentID < list.Agents[k].AgentID
	})
	return list, nil
}
