// Copyright 2015 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

package c2s

import (
	"encoding/xml"
	"time"

	"quartzim.dev/xmppd/internal/ns"
	"quartzim.dev/xmppd/jid"
	"quartzim.dev/xmppd/router"
	"quartzim.dev/xmppd/runtime"
	"quartzim.dev/xmppd/sasl"
	"quartzim.dev/xmppd/sm"
	"quartzim.dev/xmppd/stanzaerror"
	"quartzim.dev/xmppd/stream"
	"quartzim.dev/xmppd/xmlel"
	"quartzim.dev/xmppd/xmlreader"
)

// MaxLangLen is the length a client-supplied xml:lang is truncated to.
const MaxLangLen = 35

// Config bundles the collaborators a Conn needs to drive the protocol: the
// served-host set, the Router and Session Manager to hand stanzas to, the
// SASL mechanism registry, and the authentication backend hooks described
// as external collaborators in §6.
type Config struct {
	// Hosts is the set of canonicalized (nameprep'd) server names this
	// endpoint serves.
	Hosts map[string]bool
	// Domain is the primary served domain: the server part of every JID
	// this connection authenticates and the FQDN handed to the SASL
	// mechanisms. The stream header's from attribute echoes the host the
	// client addressed instead.
	Domain string

	Router *router.Router
	SM     *sm.SM
	SASL   *sasl.Registry

	// CheckPassword backs both SASL PLAIN and the legacy non-digest
	// jabber:iq:auth path.
	CheckPassword sasl.PasswordChecker
	// GetPassword backs DIGEST-MD5 and the legacy digest jabber:iq:auth
	// path, both of which need the plaintext password to compute an
	// expected response/digest rather than simply checking one.
	GetPassword sasl.PasswordProvider

	// AccessCheck implements the WaitForSession access rule; the spec's
	// stub always allows.
	AccessCheck func(user, server, resource string) bool
	// RosterSeed implements the roster hook used to seed pres_f/pres_t on
	// session establishment; the spec's stub seeds the user's own bare JID
	// into both sets.
	RosterSeed func(user, server string) (presF, presT []string)
	// PrivacyCheck implements the privacy-list hook; the spec's stub always
	// allows.
	PrivacyCheck func(user, server, resource string, to *jid.JID, el *xmlel.Element) bool
	// RosterHook observes outgoing subscription-management presence
	// (subscribe/subscribed/unsubscribe/unsubscribed) directed at a peer, so
	// that a roster persistence layer can record it. Roster storage is out
	// of scope; this defaults to nil, in which case the presence is still
	// routed but nothing observes it.
	RosterHook func(user, server, ptype string, from, to *jid.JID)
	// ResendOffline is invoked when a session's priority transitions from
	// negative to non-negative, the point at which a store-backed
	// implementation would flush queued offline messages. Offline-message
	// persistence is out of scope; this defaults to nil.
	ResendOffline func(user, server string)
}

// Conn is the per-connection C2S state described in §3 and driven by §4.8.
// It holds no network or goroutine state of its own: Send/SendRaw/Terminate/
// RestartStream are callbacks the connection driver (see the server
// package) wires up to the real socket, so that the automaton itself stays
// free of I/O and is easy to exercise in tests.
type Conn struct {
	cfg Config

	State         State
	StreamID      string
	Authenticated bool
	User          string // canonical localpart
	Server        string // canonical domainpart
	Resource      string // canonical resourcepart
	FullJID       *jid.JID

	PresF      map[string]bool
	PresT      map[string]bool
	PresA      map[string]bool
	PresI      map[string]bool
	PresLast   *xmlel.Element
	PresLastAt time.Time
	PresInvis  bool
	priority   int

	Lang       string
	streamLang string

	saslNext sasl.StepFunc

	sessionID   sm.ID
	sessionOpen bool

	// Self is this connection's process identity: the Router delivery
	// target for stanzas addressed to this resource and the Session
	// Manager's session owner for Replaced notifications.
	Self runtime.PID

	Send          func(el *xmlel.Element)
	SendRaw       func(s string)
	Terminate     func()
	RestartStream func()
}

// New constructs a fresh Conn in WaitForStream, the state every connection
// starts in. self is the PID the connection driver spawned for this
// connection, used as the Router delivery target and Session Manager
// session owner.
func New(cfg Config, self runtime.PID) *Conn {
	return &Conn{
		cfg:   cfg,
		Self:  self,
		State: WaitForStream,
		PresF: map[string]bool{}, PresT: map[string]bool{},
		PresA: map[string]bool{}, PresI: map[string]bool{},
	}
}

func (c *Conn) sendStreamError(cond error) {
	el := xmlel.New(xml.Name{Space: ns.Stream, Local: "error"})
	el.Child = append(el.Child, xmlel.New(xml.Name{Space: ns.Streams, Local: cond.Error()}))
	c.Send(el)
	c.SendRaw("</stream:stream>")
	c.Terminate()
}

func (c *Conn) sendTrailerAndStop() {
	c.SendRaw("</stream:stream>")
	c.Terminate()
}

// HandleTCPClose handles the tcp-close input: the connection is gone, no
// reply is possible.
func (c *Conn) HandleTCPClose() {
	c.closeSession()
	c.Terminate()
}

// HandleStreamEnd handles a peer-initiated </stream:stream>.
func (c *Conn) HandleStreamEnd() {
	c.closeSession()
	c.sendTrailerAndStop()
}

// HandleParseError handles a stream-error event from the XML reader (malformed XML).
func (c *Conn) HandleParseError(err error) {
	c.closeSession()
	c.sendStreamError(stream.NotWellFormed)
}

// HandleReplaced handles the Replaced hint the Session Manager sends to the
// losing side of a resource collision or max-session eviction.
func (c *Conn) HandleReplaced() {
	c.sendStreamError(stream.Conflict)
}

func (c *Conn) closeSession() {
	if c.sessionOpen && c.cfg.SM != nil {
		c.cfg.SM.CloseSession(c.sessionID)
		c.sessionOpen = false
	}
}

// HandleEvent is the automaton's single entry point for the two
// substantive input kinds: a completed stream-start and a completed
// depth-1 element. Anything else belongs to the driver, not the automaton
// (tcp-close, parse error, and Replaced are handled by the dedicated
// methods above).
func (c *Conn) HandleEvent(ev interface{}) {
	switch t := ev.(type) {
	case xmlreader.StreamStart:
		c.onStreamStart(t)
	case xmlreader.StreamElement:
		c.onElement(t.El)
	}
}

func (c *Conn) onElement(el *xmlel.Element) {
	switch c.State {
	case WaitForAuth:
		c.waitForAuth(el)
	case WaitForFeatureRequest:
		c.waitForFeatureRequest(el)
	case WaitForSaslResponse:
		c.waitForSaslResponse(el)
	case WaitForBind:
		c.waitForBind(el)
	case WaitForSession:
		c.waitForSession(el)
	case SessionEstablished:
		c.sessionEstablished(el)
	default:
		// A non-stream-start element while still in WaitForStream is
		// malformed: the stream never opened.
		c.closeSession()
		c.sendStreamError(stream.NotWellFormed)
	}
}

// replyServiceUnavailable is the common "we don't know what to do with
// this" response used by several states for non-matching IQs.
func (c *Conn) replyServiceUnavailable(el *xmlel.Element) {
	c.Send(xmlel.MakeErrorReply(el, stanzaerror.New(stanzaerror.ServiceUnavailable, "")))
}
