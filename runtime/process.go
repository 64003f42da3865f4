// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package runtime implements the lightweight process/mailbox model that
// each C2S connection runs on; the Router and the Session Manager are shared
// tables guarded by locks rather than processes. A Process is a goroutine
// with a private, FIFO, bounded mailbox; communication between processes is
// exclusively by Send/Receive, never by shared memory.
package runtime // import "quartzim.dev/xmppd/runtime"

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// QueueLimit is the maximum number of undelivered messages a mailbox may
// hold before Send starts failing. A pending Receive absorbs a Send directly
// and does not count against this limit.
const QueueLimit = 10000

// ErrQueueLimit is returned by Send when the target's mailbox is full.
var ErrQueueLimit = fmt.Errorf("runtime: mailbox exceeds %d undelivered messages", QueueLimit)

// PID is the opaque identity of a process. PIDs are comparable and safe to
// share across goroutines.
type PID struct {
	p *Process
}

// String returns a short, non-unique human-readable label for the PID, handy
// in log lines.
func (id PID) String() string {
	if id.p == nil {
		return "<nil>"
	}
	return id.p.name
}

// Process is a lightweight concurrent unit with its own mailbox. The zero
// Process is not usable; construct one with Spawn.
type Process struct {
	name string

	mu      sync.Mutex
	queue   []interface{}
	waiting chan interface{} // non-nil while a Receive is parked
	closed  bool

	wake chan struct{}

	done   chan struct{}
	doneMu sync.Once
}

// Body is the function a spawned process runs. It receives its own identity
// so that it can hand out its PID to others (e.g. register itself with the
// Router) before blocking on its first Receive.
type Body func(ctx context.Context, self PID)

// Spawn creates a new process with the given diagnostic name, starts body
// running on its own goroutine, and returns the process's identity
// immediately; body runs concurrently with the caller.
func Spawn(ctx context.Context, name string, body Body) PID {
	p := &Process{
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	id := PID{p: p}
	go func() {
		defer close(p.done)
		defer func() {
			if r := recover(); r != nil {
				// Exceptions raised inside a process body are reported and
				// terminate only that process; they must never crash the
				// scheduler (the rest of the server).
				log.Printf("runtime: process %q terminated on panic: %v", name, r)
			}
		}()
		body(ctx, id)
	}()
	return id
}

// Done returns a channel closed when the process's body returns or panics.
func (id PID) Done() <-chan struct{} {
	if id.p == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return id.p.done
}

// Send enqueues msg in the mailbox of id. Sends never block: if a Receive is
// currently parked, msg is handed to it directly without touching the queue;
// otherwise msg is appended to the queue unless the queue already holds
// QueueLimit messages, in which case ErrQueueLimit is returned and msg is
// dropped.
func Send(id PID, msg interface{}) error {
	p := id.p
	if p == nil {
		return fmt.Errorf("runtime: send to nil process")
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("runtime: send to dead process %q", p.name)
	}
	if p.waiting != nil {
		w := p.waiting
		p.waiting = nil
		p.mu.Unlock()
		w <- msg
		return nil
	}
	if len(p.queue) >= QueueLimit {
		p.mu.Unlock()
		return ErrQueueLimit
	}
	p.queue = append(p.queue, msg)
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// Receive removes and returns the oldest message in self's mailbox, blocking
// until one arrives or ctx is cancelled. At most one outstanding Receive per
// process is supported; calling Receive again before a prior call has
// returned is a programming error.
func Receive(ctx context.Context, self PID) (interface{}, error) {
	p := self.p
	p.mu.Lock()
	if len(p.queue) > 0 {
		msg := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()
		return msg, nil
	}
	w := make(chan interface{}, 1)
	p.waiting = w
	p.mu.Unlock()

	select {
	case msg := <-w:
		return msg, nil
	case <-ctx.Done():
		p.mu.Lock()
		if p.waiting == w {
			p.waiting = nil
		}
		p.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Close marks the process's mailbox as dead; further Sends fail. It does not
// terminate the process's goroutine, which is expected to exit on its own
// (typically after observing ctx.Done or a close message).
func Close(id PID) {
	p := id.p
	if p == nil {
		return
	}
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}
