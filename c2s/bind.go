// Copyright 2015 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

package c2s

import (
	"encoding/xml"
	"errors"

	"quartzim.dev/xmppd/internal/attr"
	"quartzim.dev/xmppd/internal/ns"
	"quartzim.dev/xmppd/jid"
	"quartzim.dev/xmppd/sm"
	"quartzim.dev/xmppd/stanzaerror"
	"quartzim.dev/xmppd/xmlel"
)

// errBindPrep marks a resourceprep failure building the full JID, which
// gets a bad-request reply; errBindDenied marks an access-check denial,
// which gets a conflict reply.
var (
	errBindPrep   = errors.New("c2s: resourceprep failed")
	errBindDenied = errors.New("c2s: resource bind denied")
)

// waitForBind handles the resource-binding iq described by RFC 6120 §7. A
// client may request a specific resource or ask the server to generate one.
func (c *Conn) waitForBind(el *xmlel.Element) {
	if el.Name.Local != "iq" || xmlel.ClassifyIQ(el) != xmlel.RequestIQ || el.PayloadXMLNS() != ns.Bind {
		c.replyServiceUnavailable(el)
		return
	}
	bind := el.ChildElement()
	resource := childText(bind, "resource")
	if resource == "" {
		resource = attr.RandomLen(attr.IDLen)
	}

	if err := c.bindResource(resource); err != nil {
		c.Send(xmlel.MakeErrorReply(el, stanzaerror.New(bindErrorCondition(err), "")))
		return
	}

	reply := xmlel.MakeResultIQReply(el)
	boundEl := xmlel.New(xml.Name{Space: ns.Bind, Local: "bind"})
	jidEl := xmlel.New(xml.Name{Local: "jid"})
	jidEl.Child = append(jidEl.Child, xmlel.CharData(c.FullJID.String()))
	boundEl.Child = append(boundEl.Child, jidEl)
	reply.Child = append(reply.Child, boundEl)
	c.Send(reply)

	c.State = WaitForSession
}

// bindResource constructs c.FullJID for the given raw resource, checks
// access, and opens the session in the Session Manager. It returns
// errBindPrep or errBindDenied (leaving c's authentication state untouched)
// on failure, so that callers in both the SASL/bind path and the legacy
// jabber:iq:auth path can share it and pick the right stanza error.
func (c *Conn) bindResource(resource string) error {
	j, err := jid.New(c.User, c.Server, "")
	if err != nil {
		return errBindPrep
	}
	full, err := j.WithResource(resource)
	if err != nil {
		return errBindPrep
	}
	if c.cfg.AccessCheck != nil && !c.cfg.AccessCheck(c.User, c.Server, full.CanonicalResource()) {
		return errBindDenied
	}

	c.Resource = full.CanonicalResource()
	c.FullJID = full
	c.sessionID = sm.NewID(c.Self)
	if c.cfg.SM != nil {
		c.cfg.SM.OpenSession(c.sessionID, c.User, c.Server, c.Resource, 0, nil)
	}
	c.sessionOpen = true
	return nil
}

// bindErrorCondition maps a bindResource failure to the WaitForBind stanza
// error condition: bad-request for a resourceprep failure, conflict for
// everything else (an access-check denial).
func bindErrorCondition(err error) stanzaerror.Condition {
	if errors.Is(err, errBindPrep) {
		return stanzaerror.BadRequest
	}
	return stanzaerror.Conflict
}

// legacyBindErrorCondition maps a bindResource failure to the distinct
// vocabulary the WaitForAuth (jabber:iq:auth) state uses for the same two
// causes: jid-malformed for a resourceprep failure, not-allowed for a
// forbidden bind. bindResource itself only knows the two causes, not which
// state is asking, so each caller picks its own mapping.
func legacyBindErrorCondition(err error) stanzaerror.Condition {
	if errors.Is(err, errBindPrep) {
		return stanzaerror.JIDMalformed
	}
	return stanzaerror.NotAllowed
}

// waitForSession handles the legacy session establishment iq (namespace
// ns.Session); any other stanza in this state gets service-unavailable.
// Callers that short-circuited bind (the legacy jabber:iq:auth path) never
// enter this state at all.
func (c *Conn) waitForSession(el *xmlel.Element) {
	if el.Name.Local != "iq" || xmlel.ClassifyIQ(el) != xmlel.RequestIQ || el.PayloadXMLNS() != ns.Session {
		c.replyServiceUnavailable(el)
		return
	}
	if c.cfg.AccessCheck != nil && !c.cfg.AccessCheck(c.User, c.Server, c.Resource) {
		c.Send(xmlel.MakeErrorReply(el, stanzaerror.NewWithType(stanzaerror.NotAllowed, stanzaerror.Cancel, "")))
		return
	}
	c.Send(xmlel.MakeResultIQReply(el))
	c.State = SessionEstablished
	c.seedRoster()
}

func (c *Conn) seedRoster() {
	if c.cfg.RosterSeed == nil {
		return
	}
	f, t := c.cfg.RosterSeed(c.User, c.Server)
	for _, s := range f {
		c.PresF[s] = true
	}
	for _, s := range t {
		c.PresT[s] = true
	}
}
