//
// Copyright (c) 2024-2026 Tenebris Technologies Inc.
// Please see the LICENSE file for details
//

package schema

import "time"

// AgentDescriptor is advertised once per broker connection
type AgentDescriptor struct {
	AgentID      string   `json:"agent_id"`
	Host         string   `json:"host"`
	Version      string   `json:"version"`
	Build        int      `json:"build"`
	Capabilities []string `json:"capabilities"`
}

// AgentMeta is the broker's record of an agent
type AgentMeta struct {
	AgentID      string    `json:"agent_id" cbor:"1,keyasint"`
	Host         string    `json:"host" cbor:"2,keyasint"`
	Version      string    `json:"version" cbor:"3,keyasint"`
	Build        int       `json:"build" cbor:"4,keyasint"`
	Capabilities []string  `json:"capabilities" cbor:"5,keyasint"`
	Thumbprint   string    `json:"thumbprint" cbor:"6,keyasint"`
	FirstSeen    time.Time `json:"first_seen" cbor:"7,keyasint"`
	LastSeen     time.Time `json:"last_seen" cbor:"8,keyasint"`
	LastIP       string    `json:"last_ip" cbor:"9,keyasint"`
	Connected    bool      `json:"connected" cbor:"10,keyasint"`
}

// NewAgentMeta builds a record from a descriptor
func NewAgentMeta(d AgentDescriptor, thumbprint, ip string, now time.Time) AgentMeta {
	return AgentMeta{
		AgentID:      d.AgentID,
		Host:         d.Host,
		Version:      d.Version,
		Build:        d.Build,
		Capabilities: d.Capabilities,
		Thumbprint:   thumbprint,
		FirstSeen:    now,
		LastSeen:     now,
		LastIP:       ip,
		Connected:    true,
	}
}

type AgentList struct {
	Agents []AgentMeta `json:"agents"`
}
