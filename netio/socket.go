// Copyright 2017 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

// Package netio implements the full-duplex, buffered, backpressured socket
// wrapper that ties a raw network connection to an owning process. Inbound
// bytes and a peer close are posted to the owner's mailbox as messages;
// outbound writes are coalesced through a dedicated writer goroutine so
// that a slow peer cannot block whoever is calling Send.
package netio // import "quartzim.dev/xmppd/netio"

import (
	"net"
	"sync"
	"time"

	"quartzim.dev/xmppd/runtime"
)

// readBufSize bounds a single inbound read, matching the spec's "up to 4096
// bytes" activation unit.
const readBufSize = 4096

// Data is posted to the owner when bytes arrive from the peer.
type Data struct {
	Socket *Socket
	Bytes  []byte
}

// Closed is posted to the owner when the connection is closed, whether by
// the peer, by an I/O error, or by a local Close/Close_.
type Closed struct {
	Socket *Socket
	Err    error
}

type waiter struct {
	done chan error
}

// Socket wraps a net.Conn with a bounded outbound buffer drained by a
// dedicated writer goroutine, and a one-shot-at-a-time async reader that
// feeds the owning process's mailbox.
type Socket struct {
	conn  net.Conn
	owner runtime.PID

	mu        sync.Mutex
	buf       []byte
	waiters   []*waiter
	closed    bool
	timeout   time.Duration
	bufLimit  int
	wake      chan struct{}
	closeOnce sync.Once
}

// Of wraps conn, ties it to owner, and starts its writer goroutine. timeout
// is the per-Send deadline (0 disables it); bufLimit is the outbound buffer
// threshold past which SendAsync force-closes the socket rather than
// growing the buffer further (0 disables the check).
func Of(conn net.Conn, owner runtime.PID, timeout time.Duration, bufLimit int) *Socket {
	s := &Socket{
		conn:     conn,
		owner:    owner,
		timeout:  timeout,
		bufLimit: bufLimit,
		wake:     make(chan struct{}, 1),
	}
	go s.writer()
	return s
}

// Activate launches a one-shot async read of up to 4096 bytes. On success it
// posts a Data message to the owner and the caller must call Activate again
// to keep receiving; on EOF or error it posts Closed and does not need to be
// called again.
func (s *Socket) Activate() {
	go func() {
		buf := make([]byte, readBufSize)
		n, err := s.conn.Read(buf)
		if n > 0 {
			_ = runtime.Send(s.owner, Data{Socket: s, Bytes: buf[:n]})
		}
		if err != nil {
			s.closeWith(err)
		}
	}()
}

// Send appends data to the outbound buffer and wakes the writer, returning
// once the writer has drained it (or failed to). If the socket has a
// positive timeout, the wait is bounded by a deadline that force-closes the
// socket on expiry.
func (s *Socket) Send(data []byte) error {
	w := &waiter{done: make(chan error, 1)}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return net.ErrClosed
	}
	s.buf = append(s.buf, data...)
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()
	s.kick()

	if s.timeout <= 0 {
		return <-w.done
	}
	t := time.NewTimer(s.timeout)
	defer t.Stop()
	select {
	case err := <-w.done:
		return err
	case <-t.C:
		s.closeWith(errTimeout{})
		return errTimeout{}
	}
}

// SendAsync is like Send but does not wait for the write to complete. If
// bufLimit is positive and the outbound buffer already exceeds it, the
// socket is force-closed before data is appended (a slow reader that never
// drains is disconnected rather than allowed to grow the buffer forever).
func (s *Socket) SendAsync(data []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.bufLimit > 0 && len(s.buf) > s.bufLimit {
		s.mu.Unlock()
		s.closeWith(errBufferFull{})
		return
	}
	s.buf = append(s.buf, data...)
	s.mu.Unlock()
	s.kick()
}

func (s *Socket) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// writer is the dedicated goroutine that owns the outbound buffer: when
// empty it parks on wake; when non-empty it drains it via blocking writes,
// then signals every waiter that was queued at the time the drain started.
func (s *Socket) writer() {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if len(s.buf) == 0 {
			s.mu.Unlock()
			<-s.wake
			continue
		}
		data := s.buf
		ws := s.waiters
		s.buf = nil
		s.waiters = nil
		s.mu.Unlock()

		_, err := s.conn.Write(data)
		for _, w := range ws {
			w.done <- err
		}
		if err != nil {
			s.closeWith(err)
			return
		}
	}
}

// Close performs an orderly close: it lets the writer finish draining
// whatever is already buffered (by waiting for the buffer to empty) and then
// closes the underlying connection.
func (s *Socket) Close() error {
	return s.doClose(nil, true)
}

// Close_ performs a forceful close: it discards any unsent buffered data and
// closes the connection immediately.
func (s *Socket) Close_() error {
	return s.doClose(nil, false)
}

func (s *Socket) closeWith(err error) {
	_ = s.doClose(err, false)
}

func (s *Socket) doClose(err error, orderly bool) error {
	var cerr error
	s.closeOnce.Do(func() {
		if orderly {
			deadline := time.Now().Add(5 * time.Second)
			for {
				s.mu.Lock()
				empty := len(s.buf) == 0
				s.mu.Unlock()
				if empty || time.Now().After(deadline) {
					break
				}
				time.Sleep(10 * time.Millisecond)
			}
		}
		s.mu.Lock()
		s.closed = true
		ws := s.waiters
		s.buf = nil
		s.waiters = nil
		s.mu.Unlock()
		for _, w := range ws {
			w.done <- net.ErrClosed
		}
		cerr = s.conn.Close()
		_ = runtime.Send(s.owner, Closed{Socket: s, Err: err})
		close(s.wake)
	})
	return cerr
}

// RemoteAddr returns the socket's peer address, or nil if unavailable.
func (s *Socket) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

type errTimeout struct{}

func (errTimeout) Error() string   { return "netio: send timed out" }
func (errTimeout) Timeout() bool   { return true }
func (errTimeout) Temporary() bool { return true }

type errBufferFull struct{}

func (errBufferFull) Error() string { return "netio: outbound buffer limit exceeded" }
