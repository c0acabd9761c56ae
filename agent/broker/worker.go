/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package broker connects the agent to a job broker. Jobs arrive over a
// websocket, run through the same action registry as HTTPS requests, and
// their results are returned on the same connection.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/UnifyEM/diragent/agent/global"
	"github.com/UnifyEM/diragent/agent/metrics"
	"github.com/UnifyEM/diragent/common/audit"
	"github.com/UnifyEM/diragent/common/certstore"
	"github.com/UnifyEM/diragent/common/clock"
	"github.com/UnifyEM/diragent/common/fields"
	"github.com/UnifyEM/diragent/common/interfaces"
	"github.com/UnifyEM/diragent/common/schema"
)

// Event ids
const (
	EventConnected    = 3201
	EventDisconnected = 3202
	EventReconnect    = 3203
	EventDispatch     = 3204
	EventJobDone      = 3205
	EventJobFailed    = 3206
	EventCancel       = 3207
	EventBadMessage   = 3208
	EventOutboxFull   = 3209
	EventDial         = 3210
	EventDuplicateJob = 3211
)

const (
	maxMessageBytes = 8 << 20
	outboxSize      = 1024
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = 30 * time.Second
)

// Dispatcher runs a synthesized request and lists the actions it supports.
// *actions.Registry implements it.
type Dispatcher interface {
	Execute(ctx context.Context, req schema.Request, settings *global.Settings) schema.Response
	Names() []string
}

type Worker struct {
	logger     interfaces.Logger
	dispatcher Dispatcher
	audit      audit.Sink
	metrics    *metrics.Metrics
	clock      clock.Clock
	identity   *certstore.Identity
	settings   func() *global.Settings
	dialer     *websocket.Dialer
	hostname   string
	outbox     *outbox
	slots      *semaphore.Weighted
	jobsWG     sync.WaitGroup
	mu         sync.Mutex
	jobs       map[string]context.CancelCauseFunc
}

//goland:noinspection DuplicatedCode
func New(options ...func(*Worker) error) (*Worker, error) {
	w := &Worker{
		audit:  audit.Discard{},
		clock:  clock.Real(),
		outbox: newOutbox(outboxSize),
		jobs:   make(map[string]context.CancelCauseFunc),
	}

	for _, option := range options {
		err := option(w)
		if err != nil {
			return nil, err
		}
	}

	// Check for mandatory fields
	if w.logger == nil {
		return nil, errors.New("logger is required")
	}
	if w.dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if w.settings == nil {
		return nil, errors.New("settings are required")
	}

	s := w.settings()
	if s.BrokerURL == "" {
		return nil, errors.New("broker_url is not configured")
	}

	if w.dialer == nil {
		tlsConfig, err := TLSConfig(w.identity, s.BrokerCAFile)
		if err != nil {
			return nil, err
		}
		w.dialer = &websocket.Dialer{
			TLSClientConfig:  tlsConfig,
			HandshakeTimeout: 30 * time.Second,
			Proxy:            http.ProxyFromEnvironment,
		}
	}

	slots := s.MaxConcurrentRequests
	if slots < 1 {
		slots = 1
	}
	w.slots = semaphore.NewWeighted(int64(slots))

	if w.hostname == "" {
		w.hostname, _ = os.Hostname()
	}

	_ = w.metrics.GaugeFunc("broker_outbox_messages", "Messages waiting for the broker connection.",
		func() float64 { return float64(w.outbox.Size()) })

	return w, nil
}

func WithLogger(logger interfaces.Logger) func(*Worker) error {
	return func(w *Worker) error {
		if logger == nil {
			return errors.New("logger is nil")
		}
		w.logger = logger
		return nil
	}
}

func WithDispatcher(d Dispatcher) func(*Worker) error {
	return func(w *Worker) error {
		if d == nil {
			return errors.New("dispatcher is nil")
		}
		w.dispatcher = d
		return nil
	}
}

// WithSettings supplies the current settings snapshot. It is called for
// every job so that reloaded settings apply to the next job.
func WithSettings(fn func() *global.Settings) func(*Worker) error {
	return func(w *Worker) error {
		if fn == nil {
			return errors.New("settings function is nil")
		}
		w.settings = fn
		return nil
	}
}

func WithAudit(sink audit.Sink) func(*Worker) error {
	return func(w *Worker) error {
		if sink != nil {
			w.audit = sink
		}
		return nil
	}
}

func WithMetrics(m *metrics.Metrics) func(*Worker) error {
	return func(w *Worker) error {
		w.metrics = m
		return nil
	}
}

func WithClock(c clock.Clock) func(*Worker) error {
	return func(w *Worker) error {
		if c != nil {
			w.clock = c
		}
		return nil
	}
}

// WithIdentity sets the client certificate presented to the broker
func WithIdentity(id *certstore.Identity) func(*Worker) error {
	return func(w *Worker) error {
		w.identity = id
		return nil
	}
}

// WithDialer replaces the websocket dialer built from the identity
func WithDialer(d *websocket.Dialer) func(*Worker) error {
	return func(w *Worker) error {
		w.dialer = d
		return nil
	}
}

func WithHostname(name string) func(*Worker) error {
	return func(w *Worker) error {
		w.hostname = name
		return nil
	}
}

// Run keeps a broker connection open until ctx is canceled, reconnecting with
// exponential backoff. Jobs still running when ctx ends are canceled and
// Run waits for them before returning.
func (w *Worker) Run(ctx context.Context) error {
	defer w.jobsWG.Wait()

	s := w.settings()
	backoff := s.ReconnectMin
	if backoff <= 0 {
		backoff = time.Second
	}

	for {
		connected, err := w.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		s = w.settings()
		if connected {
			backoff = s.ReconnectMin
		}

		f := fields.NewFields(fields.NewField("retry_in", backoff.String()))
		if err != nil {
			f.Append(fields.NewField("error", err.Error()))
		}
		w.logger.Warning(EventReconnect, "broker connection lost", f)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		backoff *= 2
		if backoff > s.ReconnectMax {
			backoff = s.ReconnectMax
		}
		if backoff <= 0 {
			backoff = time.Second
		}
	}
}

// session runs one connection. connected reports whether the handshake
// succeeded so that Run can reset its backoff.
func (w *Worker) session(ctx context.Context) (connected bool, err error) {
	url := w.settings().BrokerURL

	conn, resp, err := w.dialer.DialContext(ctx, url, nil)
	if err != nil {
		f := fields.NewFields(
			fields.NewField("url", url),
			fields.NewField("error", err.Error()))
		if resp != nil {
			f.Append(fields.NewField("status", resp.StatusCode))
		}
		w.logger.Debug(EventDial, "broker dial failed", f)
		return false, fmt.Errorf("dial %s: %w", url, err)
	}
	defer func() { _ = conn.Close() }()
	conn.SetReadLimit(maxMessageBytes)

	descriptor := schema.AgentDescriptor{
		AgentID:      w.settings().AgentID,
		Host:         w.hostname,
		Version:      global.Version,
		Build:        global.Build,
		Capabilities: w.dispatcher.Names(),
	}
	hello, err := schema.NewEnvelope(schema.MsgAgentConnect, "", descriptor)
	if err != nil {
		return false, err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err = conn.WriteJSON(hello); err != nil {
		return false, fmt.Errorf("agent_connect: %w", err)
	}

	w.logger.Info(EventConnected, "connected to broker", fields.NewFields(
		fields.NewField("url", url),
		fields.NewField("agent_id", descriptor.AgentID),
		fields.NewField("queued", w.outbox.Size())))
	w.metrics.BrokerConnected(true)
	defer w.metrics.BrokerConnected(false)

	g, gctx := errgroup.WithContext(ctx)

	// Unblock the reader when either side ends
	g.Go(func() error {
		<-gctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		return conn.Close()
	})

	g.Go(func() error {
		return w.readLoop(ctx, conn)
	})

	g.Go(func() error {
		return w.writeLoop(gctx, conn)
	})

	err = g.Wait()
	w.logger.Info(EventDisconnected, "disconnected from broker", fields.NewFields(
		fields.NewField("url", url)))
	return true, err
}

// readLoop handles inbound messages. Jobs are bound to jobCtx, not to the
// connection, so a dropped connection does not cancel them.
func (w *Worker) readLoop(jobCtx context.Context, conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env schema.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			var syntax *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntax) || errors.As(err, &typeErr) {
				w.logger.Warning(EventBadMessage, "unreadable broker message", fields.NewFields(
					fields.NewField("error", err.Error())))
				continue
			}
			return fmt.Errorf("read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		switch env.Type {
		case schema.MsgDispatchJob:
			w.dispatch(jobCtx, env)
		case schema.MsgCancelJob:
			w.cancelJob(env)
		case schema.MsgPing:
			pong, _ := schema.NewEnvelope(schema.MsgPing, "", nil)
			w.send(pong)
		default:
			w.logger.Warning(EventBadMessage, "unexpected broker message", fields.NewFields(
				fields.NewField("type", env.Type),
				fields.NewField("job_id", env.JobID)))
		}
	}
}

// writeLoop is the only writer on the connection
func (w *Worker) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		case env := <-w.outbox.queue:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				if !w.outbox.ReQueue(env) {
					w.dropped(env)
				}
				return fmt.Errorf("write: %w", err)
			}
		}
	}
}

// send queues a message for the current or next connection
func (w *Worker) send(env schema.Envelope) {
	if !w.outbox.Add(env) {
		w.dropped(env)
	}
}

func (w *Worker) dropped(env schema.Envelope) {
	w.logger.Error(EventOutboxFull, "broker outbox is full, message dropped", fields.NewFields(
		fields.NewField("type", env.Type),
		fields.NewField("job_id", env.JobID)))
}

// Running returns the number of jobs currently tracked
func (w *Worker) Running() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.jobs)
}
