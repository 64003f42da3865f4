// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package sm implements the Session Manager: the per-(user,server,resource)
// session table with indices and priority-weighted routing for bare-JID
// delivery, duplicate-resource and max-session eviction, and offline/bounce
// policy for undeliverable messages.
package sm // import "quartzim.dev/xmppd/sm"

import (
	"sync/atomic"

	"quartzim.dev/xmppd/runtime"
)

// ID is a session id: a strictly monotonic sequence number paired with the
// identity of the owning C2S process. Ordering on IDs is by Seq alone, which
// is sufficient to satisfy the "larger session id wins" tie-break the spec
// requires without depending on wall-clock time.
type ID struct {
	Seq   int64
	Owner runtime.PID
}

var idSeq int64

// NewID allocates a fresh, strictly increasing session id owned by owner.
func NewID(owner runtime.PID) ID {
	return ID{Seq: atomic.AddInt64(&idSeq, 1), Owner: owner}
}

// Less reports whether id orders before other, per the spec's "larger
// session id survives" collision rule.
func (id ID) Less(other ID) bool {
	return id.Seq < other.Seq
}

// Record is a session table entry: the canonicalized (user, server,
// resource) triple the connection bound to, its advertised presence
// priority, and an opaque info blob the C2S state machine may stash
// whatever it likes in (this server stores nothing there; the field exists
// so callers don't have to maintain a parallel side table).
type Record struct {
	ID       ID
	User     string
	Server   string
	Resource string
	Priority int
	Info     interface{}
}

// Replaced is sent to a session's owning process when it has lost a
// duplicate-resource collision or been evicted for exceeding
// max_user_sessions. The receiver is expected to terminate.
type Replaced struct {
	Reason string
}
