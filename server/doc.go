// Copyright 2015 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

// Package server wires the Router, Session Manager, localhandler, and SASL
// registry together into a running C2S listener: accepting TCP connections,
// spawning one process per connection, and driving each connection's
// xmlreader.Reader and c2s.Conn from that process's mailbox loop.
package server // import "quartzim.dev/xmppd/server"
