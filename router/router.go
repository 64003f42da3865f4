// Copyright 2015 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

// Package router implements the domain routing table: a mapping from a
// canonicalized server name to a handler, either an in-process shortcut
// function (avoiding a mailbox hop) or a process mailbox. It is the single
// point through which stanzas cross from a C2S connection into the rest of
// the server (the Session Manager for served hosts, an s2s stub for
// anything else).
package router // import "quartzim.dev/xmppd/router"

import (
	"log"
	"sync"

	"quartzim.dev/xmppd/jid"
	"quartzim.dev/xmppd/runtime"
	"quartzim.dev/xmppd/xmlel"
)

// Packet is the message Route delivers to a route's process mailbox when no
// shortcut is registered.
type Packet struct {
	From *jid.JID
	To   *jid.JID
	El   *xmlel.Element
}

// Shortcut is invoked synchronously, in the caller's goroutine, instead of
// taking a mailbox hop. It must not block for long; the local handler
// registered for each served host is routed through a shortcut.
type Shortcut func(from, to *jid.JID, el *xmlel.Element)

type route struct {
	pid      runtime.PID
	shortcut Shortcut
}

// Router is the canonicalized-domain routing table described in §4.6. The
// zero Router is not usable; use New.
type Router struct {
	mu     sync.RWMutex
	routes map[string]route

	// S2S is invoked for a domain with no registered route. The spec scopes
	// federation out to a stub interface; a real server-to-server component
	// would register itself here.
	S2S Shortcut
}

// New constructs an empty Router.
func New() *Router {
	return &Router{routes: make(map[string]route)}
}

// RegisterRoute inserts (or replaces) the route for domain. Single-writer
// discipline is the caller's responsibility: only the component that owns a
// domain should register or unregister it, normally from its own process.
func (r *Router) RegisterRoute(domain string, pid runtime.PID, shortcut Shortcut) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[domain] = route{pid: pid, shortcut: shortcut}
}

// UnregisterRoute removes the route for domain, owned by pid. It is a no-op
// if absent or if a different process currently owns the domain.
func (r *Router) UnregisterRoute(domain string, pid runtime.PID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.routes[domain]; ok && existing.pid == pid {
		delete(r.routes, domain)
	}
}

// Route looks up to's domain: on a hit with a shortcut, the shortcut runs
// synchronously, avoiding a mailbox hop; on a hit without one, the packet is
// delivered as a Packet message to the route's mailbox; on a miss, S2S runs
// (if set). Any panic raised by a handler is recovered, logged, and
// swallowed -- a routing failure must never tear down the router.
func (r *Router) Route(from, to *jid.JID, el *xmlel.Element) {
	r.mu.RLock()
	rt, ok := r.routes[to.CanonicalDomain()]
	r.mu.RUnlock()

	if !ok {
		if r.S2S != nil {
			r.safeCall(func() { r.S2S(from, to, el) })
		}
		return
	}

	if rt.shortcut != nil {
		r.safeCall(func() { rt.shortcut(from, to, el) })
		return
	}

	if err := runtime.Send(rt.pid, Packet{From: from, To: to, El: el}); err != nil {
		log.Printf("router: dropping packet to %q: %v", to.CanonicalDomain(), err)
	}
}

func (r *Router) safeCall(f func()) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("router: handler panicked: %v", rec)
		}
	}()
	f()
}
