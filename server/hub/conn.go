/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/UnifyEM/diragent/common/fields"
	"github.com/UnifyEM/diragent/common/schema"
	"github.com/UnifyEM/diragent/common/thumbprint"
	"github.com/UnifyEM/diragent/common/userver"
)

const maxAgentIDLength = 255

type agentConn struct {
	hub        *Hub
	agentID    string
	thumb      string
	ip         string
	ws         *websocket.Conn
	queue      chan schema.Envelope
	done       chan struct{}
	writerDone chan struct{}
	once       sync.Once
}

func connFields(c *agentConn, extra ...fields.Field) *fields.Fields {
	f := fields.NewFields(
		fields.NewField("agent_id", c.agentID),
		fields.NewField("thumbprint", c.thumb),
		fields.NewField("src_ip", c.ip))
	f.Append(extra...)
	return f
}

// ServeHTTP admits an agent by its client certificate and upgrades the
// connection. The TLS layer has already verified the chain when an agent
// CA is configured; the thumbprint allow-list is always enforced and an
// empty list admits nobody.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := userver.RemoteIP(r)

	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		h.metrics.reject("certificate")
		h.logger.Warning(EventNoCertificate, "agent connection without client certificate",
			fields.NewFields(fields.NewField("src_ip", ip)))
		http.Error(w, "client certificate required", http.StatusForbidden)
		return
	}

	leaf := r.TLS.PeerCertificates[0]
	thumb := thumbprint.SHA1(leaf)

	allow := h.allowList()
	if allow == nil || !allow.Contains(leaf) {
		h.metrics.reject("thumbprint")
		h.logger.Warning(EventNotAllowed, "agent certificate is not in the allow-list",
			fields.NewFields(
				fields.NewField("src_ip", ip),
				fields.NewField("thumbprint", thumb),
				fields.NewField("subject", leaf.Subject.String())))
		http.Error(w, "certificate not allowed", http.StatusForbidden)
		return
	}

	// Upgrade writes its own error response
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug(EventUpgrade, "websocket upgrade failed", fields.NewFields(
			fields.NewField("src_ip", ip),
			fields.NewField("error", err.Error())))
		return
	}
	h.serve(ws, thumb, ip)
}

func (h *Hub) serve(ws *websocket.Conn, thumb, ip string) {
	defer func() { _ = ws.Close() }()
	ws.SetReadLimit(maxMessageBytes)

	desc, err := handshake(ws)
	if err != nil {
		h.metrics.reject("handshake")
		h.logger.Warning(EventHandshake, "agent handshake failed", fields.NewFields(
			fields.NewField("src_ip", ip),
			fields.NewField("thumbprint", thumb),
			fields.NewField("error", err.Error())))
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "handshake failed"),
			time.Now().Add(time.Second))
		return
	}

	c := &agentConn{
		hub:        h,
		agentID:    desc.AgentID,
		thumb:      thumb,
		ip:         ip,
		ws:         ws,
		queue:      make(chan schema.Envelope, sendQueueSize),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}

	if prev, err := h.store.GetAgentMeta(desc.AgentID); err == nil && prev.Thumbprint != "" && prev.Thumbprint != thumb {
		h.logger.Warning(EventHandshake, "agent presented a different certificate than last time",
			connFields(c, fields.NewField("previous_thumbprint", prev.Thumbprint)))
	}

	if !h.register(c, schema.NewAgentMeta(desc, thumb, ip, h.clock.Now().UTC())) {
		return
	}

	h.logger.Info(EventConnected, "agent connected", connFields(c,
		fields.NewField("version", desc.Version),
		fields.NewField("capabilities", strings.Join(desc.Capabilities, ","))))

	go c.writeLoop()
	h.dispatchPending(desc.AgentID)

	err = c.readLoop()
	c.close()
	<-c.writerDone

	h.unregister(c)

	f := connFields(c)
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		f.AppendKV("error", err.Error())
	}
	h.logger.Info(EventDisconnected, "agent disconnected", f)
}

// handshake reads the agent_connect message that must open every session
func handshake(ws *websocket.Conn) (schema.AgentDescriptor, error) {
	var desc schema.AgentDescriptor

	_ = ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var env schema.Envelope
	if err := ws.ReadJSON(&env); err != nil {
		return desc, fmt.Errorf("read: %w", err)
	}
	if env.Type != schema.MsgAgentConnect {
		return desc, fmt.Errorf("expected %s, got %q", schema.MsgAgentConnect, env.Type)
	}
	if err := env.Decode(&desc); err != nil {
		return desc, err
	}

	desc.AgentID = strings.TrimSpace(desc.AgentID)
	if desc.AgentID == "" {
		return desc, errors.New("agent_id is required")
	}
	if len(desc.AgentID) > maxAgentIDLength {
		return desc, errors.New("agent_id is too long")
	}
	return desc, nil
}

func (c *agentConn) readLoop() error {
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env schema.Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			var syntax *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntax) || errors.As(err, &typeErr) {
				c.hub.logger.Warning(EventBadMessage, "unreadable agent message",
					connFields(c, fields.NewField("error", err.Error())))
				continue
			}
			return err
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.hub.metrics.message("in", env.Type)

		switch env.Type {
		case schema.MsgProgressUpdate:
			c.hub.progress(c, env)
		case schema.MsgSubmitResult:
			c.hub.result(c, env)
		case schema.MsgPing:
			// keepalive only
		default:
			c.hub.logger.Warning(EventBadMessage, "unexpected agent message",
				connFields(c, fields.NewField("type", env.Type), fields.NewField("job_id", env.JobID)))
		}
	}
}

// writeLoop is the only writer on the connection
func (c *agentConn) writeLoop() {
	defer close(c.writerDone)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				return
			}
		case env := <-c.queue:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(env); err != nil {
				c.close()
				return
			}
			c.hub.metrics.message("out", env.Type)
		}
	}
}

// enqueue hands env to the writer. A full queue means the agent stopped
// reading, so the connection is dropped and the agent will reconnect.
func (c *agentConn) enqueue(env schema.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.queue <- env:
		return true
	default:
		c.hub.logger.Error(EventQueueFull, "agent send queue is full, dropping connection",
			connFields(c, fields.NewField("type", env.Type), fields.NewField("job_id", env.JobID)))
		c.close()
		return false
	}
}

// close ends the session. The read loop fails on the closed socket.
func (c *agentConn) close() {
	c.once.Do(func() {
		close(c.done)
		// Give the writer a moment to send the close frame before the
		// socket goes away underneath it
		go func() {
			select {
			case <-c.writerDone:
			case <-time.After(2 * time.Second):
			}
			_ = c.ws.Close()
		}()
	})
}
