// Copyright 2015 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

package server

import (
	"context"
	"crypto/tls"
	"net"

	"quartzim.dev/xmppd/c2s"
	"quartzim.dev/xmppd/localhandler"
	"quartzim.dev/xmppd/router"
	"quartzim.dev/xmppd/runtime"
	"quartzim.dev/xmppd/sasl"
	"quartzim.dev/xmppd/sm"
)

// A Server defines parameters for running an XMPP C2S endpoint: the served
// hosts, the Router and Session Manager backing them, and the connection
// options every accepted connection is driven with.
type Server struct {
	options

	Router       *router.Router
	SM           *sm.SM
	LocalHandler *localhandler.Registry
	SASL         *sasl.Registry
}

// New creates a new XMPP server with the given options, registers every
// configured Host with the Router through a shared localhandler, and
// returns it ready to Serve.
func New(opts ...Option) *Server {
	srv := &Server{
		options:      getOpts(opts...),
		Router:       router.New(),
		SM:           sm.New(),
		SASL:         sasl.DefaultRegistry(),
	}
	srv.SM.MaxUserSessions = srv.options.maxUserSessions
	srv.LocalHandler = localhandler.New(srv.SM)

	for i := range srv.options.hosts {
		host := srv.options.hosts[i]
		srv.Router.RegisterRoute(host, runtime.PID{}, srv.LocalHandler.AsShortcut())
	}
	return srv
}

func (srv *Server) hostSet() map[string]bool {
	out := make(map[string]bool, len(srv.options.hosts))
	for _, h := range srv.options.hosts {
		out[h] = true
	}
	return out
}

func (srv *Server) c2sConfig() c2s.Config {
	hosts := srv.hostSet()
	domain := ""
	if len(srv.options.hosts) > 0 {
		domain = srv.options.hosts[0]
	}
	return c2s.Config{
		Hosts:         hosts,
		Domain:        domain,
		Router:        srv.Router,
		SM:            srv.SM,
		SASL:          srv.SASL,
		CheckPassword: srv.options.checkPassword,
		GetPassword:   srv.options.getPassword,
		AccessCheck:   srv.options.accessCheck,
		RosterSeed:    srv.options.rosterSeed,
		PrivacyCheck:  srv.options.privacyCheck,
	}
}

// ListenAndServe listens on the TCP network address ClientAddr and then
// calls ServeC2S to handle requests on incoming connections. If ClientAddr
// is blank, ":5222" is used. If TLSConfig was set, the listener speaks TLS
// directly (STARTTLS negotiation on a plain listener is out of scope here).
func (srv *Server) ListenAndServe() error {
	clientAddr := srv.options.clientAddr
	if clientAddr == "" {
		clientAddr = ":5222"
	}
	l, err := listen("tcp", clientAddr)
	if err != nil {
		return err
	}
	if srv.options.tlsConfig != nil {
		l = tls.NewListener(l, srv.options.tlsConfig)
	}
	return srv.ServeC2S(l)
}

// ServeC2S accepts incoming connections on the Listener, spawning a new
// connection-driver process for each.
func (srv *Server) ServeC2S(l net.Listener) (err error) {
	defer func() {
		if cerr := l.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	ctx := context.Background()
	for {
		c, e := l.Accept()
		if e != nil {
			return e
		}
		cfg := srv.c2sConfig()
		runtime.Spawn(ctx, "c2s:"+c.RemoteAddr().String(), func(ctx context.Context, self runtime.PID) {
			driveConnection(ctx, self, c, cfg, srv.options.sendTimeout, srv.options.sendBufLimit)
		})
	}
}
