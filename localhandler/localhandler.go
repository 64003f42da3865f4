// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package localhandler implements the component described in §4.9: the
// route registered with the Router for each served domain, which splits
// incoming traffic between stanzas addressed to a local user (forwarded to
// the Session Manager) and stanzas addressed to the bare host itself
// (dispatched to a small table of host-level iq handlers, or dropped).
package localhandler // import "quartzim.dev/xmppd/localhandler"

import (
	"sync"

	"quartzim.dev/xmppd/jid"
	"quartzim.dev/xmppd/router"
	"quartzim.dev/xmppd/sm"
	"quartzim.dev/xmppd/stanzaerror"
	"quartzim.dev/xmppd/xmlel"
)

// Handler answers an iq addressed to the bare host itself (no localpart),
// such as a service-discovery or ping request.
type Handler func(from, to *jid.JID, el *xmlel.Element) *xmlel.Element

// Registry is the per-domain route installed with the Router. The zero
// value is not ready for use; construct one with New.
type Registry struct {
	sm *sm.SM

	mu       sync.RWMutex
	handlers map[string]Handler
}

// New constructs a Registry that forwards user-addressed traffic to sm.
func New(sm *sm.SM) *Registry {
	return &Registry{sm: sm, handlers: make(map[string]Handler)}
}

// RegisterHandler installs the handler invoked for a request iq addressed
// to the bare host whose payload xmlns is xmlns.
func (r *Registry) RegisterHandler(xmlns string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[xmlns] = h
}

// Route implements router.Shortcut: it forwards anything with a localpart
// to the Session Manager unchanged, and otherwise dispatches request iqs
// addressed to the bare host through the handler table. Request iqs with an
// unregistered payload and invalid iqs are bounced as service-unavailable;
// messages, presence and iq replies addressed to the host are dropped.
func (r *Registry) Route(from, to *jid.JID, el *xmlel.Element) {
	if to.CanonicalLocal() != "" {
		r.sm.Route(from, to, el)
		return
	}

	if el.Name.Local != "iq" {
		return
	}
	switch xmlel.ClassifyIQ(el) {
	case xmlel.ReplyIQ:
		return
	case xmlel.RequestIQ:
		xmlns := el.PayloadXMLNS()
		r.mu.RLock()
		h, ok := r.handlers[xmlns]
		r.mu.RUnlock()
		if !ok {
			r.bounce(from, to, el)
			return
		}
		if reply := h(from, to, el); reply != nil {
			r.sm.Route(to, from, reply)
		}
	default:
		r.bounce(from, to, el)
	}
}

func (r *Registry) bounce(from, to *jid.JID, el *xmlel.Element) {
	reply := xmlel.MakeErrorReply(el, stanzaerror.New(stanzaerror.ServiceUnavailable, ""))
	r.sm.Route(to, from, reply)
}

// AsShortcut adapts r.Route to the router.Shortcut type.
func (r *Registry) AsShortcut() router.Shortcut {
	return r.Route
}
