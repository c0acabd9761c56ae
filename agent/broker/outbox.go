//
// Copyright (c) 2024-2026 Tenebris Technologies Inc.
// Please see the LICENSE file for details
//

package broker

import (
	"github.com/UnifyEM/diragent/common/schema"
)

// outbox holds messages waiting for a broker connection. Results produced
// while disconnected stay queued and are sent after the next connect.
type outbox struct {
	queue chan schema.Envelope
}

func newOutbox(bufferSize int) *outbox {
	return &outbox{queue: make(chan schema.Envelope, bufferSize)}
}

// Add queues a message without blocking. It returns false if the outbox is full.
func (o *outbox) Add(env schema.Envelope) bool {
	select {
	case o.queue <- env:
		return true
	default:
		return false
	}
}

// Read is a non-blocking function that returns an item from the queue
func (o *outbox) Read() (schema.Envelope, bool) {
	select {
	case env := <-o.queue:
		return env, true
	default:
		return schema.Envelope{}, false
	}
}

// ReQueue puts back a message that could not be written. Progress updates
// are only useful while fresh and are dropped.
func (o *outbox) ReQueue(env schema.Envelope) bool {
	if env.Type == schema.MsgProgressUpdate {
		return true
	}
	return o.Add(env)
}

// Size returns the number of messages currently queued
func (o *outbox) Size() int {
	return len(o.queue)
}

// Pending returns true if there are messages in the queue
func (o *outbox) Pending() bool {
	return len(o.queue) > 0
}
