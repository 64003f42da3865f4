// Copyright 2015 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

package server

import (
	"context"
	"io"
	"net"
	"time"

	"quartzim.dev/xmppd/c2s"
	"quartzim.dev/xmppd/netio"
	"quartzim.dev/xmppd/router"
	"quartzim.dev/xmppd/runtime"
	"quartzim.dev/xmppd/sm"
	"quartzim.dev/xmppd/xmlel"
	"quartzim.dev/xmppd/xmlreader"
)

// driveConnection is the body of the process spawned for one accepted TCP
// connection. It owns the socket, the incremental XML reader, and the C2S
// automaton, and is the only goroutine (besides the reader's own and the
// socket writer's) that ever touches any of the three.
func driveConnection(ctx context.Context, self runtime.PID, conn net.Conn, cfg c2s.Config, timeout time.Duration, bufLimit int) {
	sock := netio.Of(conn, self, timeout, bufLimit)
	defer sock.Close_()

	var pw *io.PipeWriter
	var xr *xmlreader.Reader

	startReader := func() {
		pr, w := io.Pipe()
		pw = w
		if xr == nil {
			xr = xmlreader.New(pr)
		} else {
			xr.Reset(pr)
		}
		go func() {
			_ = xr.Run(ctx, self)
		}()
	}
	startReader()

	terminated := false
	c := c2s.New(cfg, self)
	c.Send = func(el *xmlel.Element) {
		if terminated {
			return
		}
		sock.SendAsync([]byte(el.String()))
	}
	c.SendRaw = func(s string) {
		if terminated {
			return
		}
		sock.SendAsync([]byte(s))
	}
	c.Terminate = func() {
		terminated = true
		_ = pw.Close()
		sock.Close()
	}
	c.RestartStream = func() {
		_ = pw.Close()
		startReader()
	}

	sock.Activate()

	for !terminated {
		msg, err := runtime.Receive(ctx, self)
		if err != nil {
			return
		}
		switch m := msg.(type) {
		case netio.Data:
			if _, werr := pw.Write(m.Bytes); werr != nil {
				return
			}
			sock.Activate()
		case netio.Closed:
			c.HandleTCPClose()
			return
		case xmlreader.StreamStart:
			c.HandleEvent(m)
		case xmlreader.StreamElement:
			c.HandleEvent(m)
		case xmlreader.StreamEnd:
			c.HandleStreamEnd()
			return
		case xmlreader.StreamError:
			c.HandleParseError(m.Err)
			return
		case router.Packet:
			c.Deliver(m.El)
		case sm.RoutedPacket:
			c.Deliver(m.El)
		case sm.Replaced:
			c.HandleReplaced()
			return
		}
	}
}
