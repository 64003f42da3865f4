// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package ns provides namespace constants used throughout the xmppd packages.
package ns // import "quartzim.dev/xmppd/internal/ns"

// List of commonly used namespaces.
const (
	Client   = "jabber:client"
	Server   = "jabber:server"
	Stream   = "http://etherx.jabber.org/streams"
	Streams  = "urn:ietf:params:xml:ns:xmpp-streams"
	Stanza   = "urn:ietf:params:xml:ns:xmpp-stanzas"
	SASL     = "urn:ietf:params:xml:ns:xmpp-sasl"
	Bind     = "urn:ietf:params:xml:ns:xmpp-bind"
	Session  = "urn:ietf:params:xml:ns:xmpp-session"
	StartTLS = "urn:ietf:params:xml:ns:xmpp-tls"
	Auth     = "jabber:iq:auth"
	XML      = "http://www.w3.org/XML/1998/namespace"
)
