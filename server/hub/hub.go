/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package hub is the agent side of the broker. Agents hold a websocket
// open to it, receive the jobs queued for them, and report progress and
// results back over the same connection.
package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/UnifyEM/diragent/common/clock"
	"github.com/UnifyEM/diragent/common/fields"
	"github.com/UnifyEM/diragent/common/interfaces"
	"github.com/UnifyEM/diragent/common/schema"
	"github.com/UnifyEM/diragent/common/thumbprint"
	"github.com/UnifyEM/diragent/server/db"
)

// Event ids
const (
	EventNoCertificate = 5201
	EventNotAllowed    = 5202
	EventUpgrade       = 5203
	EventConnected     = 5204
	EventDisconnected  = 5205
	EventHandshake     = 5206
	EventDispatched    = 5207
	EventProgress      = 5208
	EventFinished      = 5209
	EventStaleResult   = 5210
	EventStore         = 5211
	EventBadMessage    = 5212
	EventReplaced      = 5213
	EventQueueFull     = 5214
	EventCanceled      = 5215
	EventSubmitted     = 5216
)

const (
	maxMessageBytes  = 64 << 20
	sendQueueSize    = 256
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = 30 * time.Second
)

var (
	ErrInvalidJob   = errors.New("invalid job")
	ErrUnknownAgent = errors.New("unknown agent")
	ErrJobFinished  = errors.New("job already finished")
)

// Store is the persistence the hub needs. *db.DB implements it.
type Store interface {
	CreateJob(job schema.Job) error
	GetJob(jobID string) (schema.Job, error)
	UpdateJob(jobID string, fn func(*schema.Job) error) (schema.Job, error)
	FinishJob(jobID string, fn func(*schema.Job) error, result schema.JobResult) (schema.Job, error)
	PendingJobs(agentID string) ([]schema.Job, error)
	GetAgentMeta(agentID string) (schema.AgentMeta, error)
	AgentConnected(meta schema.AgentMeta) (schema.AgentMeta, error)
	AgentDisconnected(agentID string, at time.Time) error
}

var _ Store = (*db.DB)(nil)

type Hub struct {
	logger    interfaces.Logger
	store     Store
	clock     clock.Clock
	metrics   *Metrics
	allowList func() *thumbprint.AllowList
	upgrader  websocket.Upgrader
	mu        sync.Mutex
	agents    map[string]*agentConn
	closed    bool
}

// New creates a hub. A logger, a store and an allow-list are required.
func New(options ...func(*Hub) error) (*Hub, error) {
	h := &Hub{
		clock:  clock.Real(),
		agents: make(map[string]*agentConn),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   16 << 10,
			WriteBufferSize:  16 << 10,
		},
	}

	for _, op := range options {
		if err := op(h); err != nil {
			return nil, err
		}
	}

	if h.logger == nil {
		return nil, errors.New("logger is required")
	}
	if h.store == nil {
		return nil, errors.New("store is required")
	}
	if h.allowList == nil {
		return nil, errors.New("agent allow-list is required")
	}
	return h, nil
}

func WithLogger(logger interfaces.Logger) func(*Hub) error {
	return func(h *Hub) error {
		h.logger = logger
		return nil
	}
}

func WithStore(store Store) func(*Hub) error {
	return func(h *Hub) error {
		h.store = store
		return nil
	}
}

func WithClock(c clock.Clock) func(*Hub) error {
	return func(h *Hub) error {
		if c == nil {
			return errors.New("clock must not be nil")
		}
		h.clock = c
		return nil
	}
}

func WithMetrics(m *Metrics) func(*Hub) error {
	return func(h *Hub) error {
		h.metrics = m
		return nil
	}
}

// WithAllowList supplies the agent certificate thumbprints. The function is
// called for every connection so configuration changes apply immediately.
func WithAllowList(f func() *thumbprint.AllowList) func(*Hub) error {
	return func(h *Hub) error {
		h.allowList = f
		return nil
	}
}

// Connected reports whether the agent currently holds a connection
func (h *Hub) Connected(agentID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.agents[agentID]
	return ok
}

// ConnectedCount returns the number of open agent connections
func (h *Hub) ConnectedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.agents)
}

// Close drops every agent connection and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*agentConn, 0, len(h.agents))
	for _, c := range h.agents {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

// register makes c the connection of its agent, replacing an older one.
// The store is updated under the lock so a concurrent unregister of the
// replaced connection cannot mark the agent offline afterwards.
func (h *Hub) register(c *agentConn, meta schema.AgentMeta) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	if _, err := h.store.AgentConnected(meta); err != nil {
		h.logger.Error(EventStore, "unable to record agent connection",
			connFields(c, fields.NewField("error", err.Error())))
	}
	old := h.agents[c.agentID]
	h.agents[c.agentID] = c
	h.mu.Unlock()

	if old != nil {
		h.logger.Warning(EventReplaced, "agent reconnected, closing previous connection", connFields(c))
		old.close()
	} else {
		h.metrics.agentUp(true)
	}
	return true
}

// unregister removes c unless a newer connection replaced it already
func (h *Hub) unregister(c *agentConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.agents[c.agentID] != c {
		return
	}
	delete(h.agents, c.agentID)
	h.metrics.agentUp(false)

	if err := h.store.AgentDisconnected(c.agentID, h.clock.Now().UTC()); err != nil {
		h.logger.Error(EventStore, "unable to record agent disconnect",
			connFields(c, fields.NewField("error", err.Error())))
	}
}

// send queues env for the agent. It reports false when the agent is not
// connected or its queue is full.
func (h *Hub) send(agentID string, env schema.Envelope) bool {
	h.mu.Lock()
	c := h.agents[agentID]
	h.mu.Unlock()
	if c == nil {
		return false
	}
	return c.enqueue(env)
}
