// Copyright 2015 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

package c2s

import (
	"encoding/xml"
	"strconv"
	"time"

	"quartzim.dev/xmppd/jid"
	"quartzim.dev/xmppd/stanzaerror"
	"quartzim.dev/xmppd/stream"
	"quartzim.dev/xmppd/xmlel"
)

// sessionEstablished is the steady-state stanza pump described in §4.8: once
// a session is open, every depth-1 element is one of the three stanza kinds,
// routed outward through the Router, or presence, tracked locally against
// the pres_f/pres_t/pres_a/pres_i sets seeded at session establishment.
func (c *Conn) sessionEstablished(el *xmlel.Element) {
	switch el.Name.Local {
	case "presence":
		c.handlePresence(el)
	case "message", "iq":
		c.routeOutbound(el)
	default:
		c.sendStreamError(stream.UnsupportedStanzaType)
	}
}

// routeOutbound stamps el's from attribute with this connection's full JID
// (a client may never claim a different sender) and hands it to the Router,
// defaulting an absent to attribute to the user's own bare JID.
func (c *Conn) routeOutbound(el *xmlel.Element) {
	to, ok := c.resolveTo(el)
	if !ok {
		c.Send(xmlel.MakeErrorReply(el, stanzaerror.New(stanzaerror.JIDMalformed, "")))
		return
	}
	if c.cfg.PrivacyCheck != nil && !c.cfg.PrivacyCheck(c.User, c.Server, c.Resource, to, el) {
		c.Send(xmlel.MakeErrorReply(el, stanzaerror.New(stanzaerror.ServiceUnavailable, "")))
		return
	}
	el.SetAttribute("from", c.FullJID.String())
	c.cfg.Router.Route(c.FullJID, to, el)
}

func (c *Conn) resolveTo(el *xmlel.Element) (*jid.JID, bool) {
	raw := el.Attribute("to")
	if raw == "" {
		return c.FullJID.Bare(), true
	}
	to, err := jid.Parse(raw)
	if err != nil {
		return nil, false
	}
	return to, true
}

// handlePresence implements the presence dispatch of §4.8: presence
// addressed to the sender's own bare JID (or with no 'to' at all) updates
// this session's own availability and fans it out to its roster sets;
// presence addressed elsewhere is tracked against that one peer.
func (c *Conn) handlePresence(el *xmlel.Element) {
	to, ok := c.resolveTo(el)
	hasTo := el.Attribute("to") != ""
	if hasTo && !ok {
		c.Send(xmlel.MakeErrorReply(el, stanzaerror.New(stanzaerror.JIDMalformed, "")))
		return
	}
	el.SetAttribute("from", c.FullJID.String())

	ptype := el.Attribute("type")
	if !hasTo || to.Bare().String() == c.FullJID.Bare().String() {
		c.presenceUpdate(el, ptype)
		return
	}
	c.presenceTrack(el, ptype, to)
}

// presenceUpdate handles presence directed at the sender's own bare JID,
// the path that mutates pres_a/pres_i/pres_last/pres_invis and drives the
// first-presence broadcast.
func (c *Conn) presenceUpdate(el *xmlel.Element, ptype string) {
	switch ptype {
	case "unavailable":
		c.broadcastTo(el, union(c.PresA, c.PresI))
		c.PresA = map[string]bool{}
		c.PresI = map[string]bool{}
		c.PresLast = nil
		c.PresInvis = false
	case "invisible":
		if !c.PresInvis {
			c.broadcastTo(el, union(c.PresA, c.PresI))
			c.PresA = map[string]bool{}
			c.PresI = map[string]bool{}
			c.PresInvis = true
			c.PresLast = nil
		}
		c.firstPresenceBroadcast(el)
	case "error", "probe", "subscribe", "subscribed", "unsubscribe", "unsubscribed":
		// Outgoing subscription management with no 'to' has nowhere to go;
		// the directed form is handled by presenceTrack.
	default: // "" or "available"
		wasUnavailable := c.PresLast == nil || c.PresInvis
		oldPriority := c.priority
		newPriority := readPriority(el)
		c.PresLast = el
		c.PresLastAt = nowPlaceholder()
		c.PresInvis = false
		c.priority = newPriority
		c.updatePriority(newPriority)
		if wasUnavailable {
			c.firstPresenceBroadcast(el)
		} else {
			c.broadcastTo(el, intersect(c.PresF, c.PresA))
		}
		if oldPriority < 0 && newPriority >= 0 && c.cfg.ResendOffline != nil {
			c.cfg.ResendOffline(c.User, c.Server)
		}
	}
}

// firstPresenceBroadcast probes every peer in pres_t, then, unless the
// session is invisible, delivers the current presence to every
// privacy-passing peer in pres_f and adds it to pres_a.
func (c *Conn) firstPresenceBroadcast(el *xmlel.Element) {
	for s := range c.PresT {
		target, err := jid.Parse(s)
		if err != nil {
			continue
		}
		probe := xmlel.New(xml.Name{Local: "presence"})
		probe.SetAttribute("type", "probe")
		probe.SetAttribute("from", c.FullJID.String())
		probe.SetAttribute("to", target.String())
		c.cfg.Router.Route(c.FullJID, target, probe)
	}
	if c.PresInvis {
		return
	}
	for s := range c.PresF {
		target, err := jid.Parse(s)
		if err != nil {
			continue
		}
		if c.cfg.PrivacyCheck != nil && !c.cfg.PrivacyCheck(c.User, c.Server, c.Resource, target, el) {
			continue
		}
		out := xmlel.New(el.Name, append([]xmlel.Attr(nil), el.Attr...)...)
		out.Child = el.Child
		out.SetAttribute("to", target.String())
		c.cfg.Router.Route(c.FullJID, target, out)
		c.PresA[s] = true
	}
}

// presenceTrack handles presence directed at a specific peer JID: privacy
// gate, then per-type routing and pres_a/pres_i bookkeeping.
func (c *Conn) presenceTrack(el *xmlel.Element, ptype string, to *jid.JID) {
	if c.cfg.PrivacyCheck != nil && !c.cfg.PrivacyCheck(c.User, c.Server, c.Resource, to, el) {
		return
	}
	key := to.Bare().String()
	switch ptype {
	case "unavailable":
		c.cfg.Router.Route(c.FullJID, to, el)
		delete(c.PresI, key)
		delete(c.PresA, key)
	case "invisible":
		c.cfg.Router.Route(c.FullJID, to, el)
		c.PresI[key] = true
		delete(c.PresA, key)
	case "subscribe", "subscribed", "unsubscribe", "unsubscribed":
		bare := c.FullJID.Bare()
		el.SetAttribute("from", bare.String())
		c.cfg.Router.Route(bare, to, el)
		if c.cfg.RosterHook != nil {
			c.cfg.RosterHook(c.User, c.Server, ptype, bare, to)
		}
	case "error", "probe":
		c.cfg.Router.Route(c.FullJID, to, el)
	default: // "" or "available"
		c.cfg.Router.Route(c.FullJID, to, el)
		c.PresA[key] = true
		delete(c.PresI, key)
	}
}

func (c *Conn) broadcastTo(el *xmlel.Element, peers map[string]bool) {
	for s := range peers {
		target, err := jid.Parse(s)
		if err != nil {
			continue
		}
		out := xmlel.New(el.Name, append([]xmlel.Attr(nil), el.Attr...)...)
		out.Child = el.Child
		out.SetAttribute("to", target.String())
		c.cfg.Router.Route(c.FullJID, target, out)
	}
}

func union(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool, len(a)+len(b))
	for s := range a {
		out[s] = true
	}
	for s := range b {
		out[s] = true
	}
	return out
}

func intersect(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for s := range a {
		if b[s] {
			out[s] = true
		}
	}
	return out
}

// readPriority extracts and clamps the <priority/> child's value, defaulting
// non-numeric or absent values to 0, per the int8 range a session record's
// priority is stored in.
func readPriority(el *xmlel.Element) int {
	priority := 0
	for _, ch := range el.Child {
		if !ch.IsText() && ch.Name.Local == "priority" {
			var s string
			for _, t := range ch.Child {
				if t.IsText() {
					s += t.Text
				}
			}
			if n, err := strconv.Atoi(s); err == nil {
				priority = n
			}
		}
	}
	if priority < -128 {
		priority = -128
	}
	if priority > 127 {
		priority = 127
	}
	return priority
}

func (c *Conn) updatePriority(priority int) {
	if c.cfg.SM == nil {
		return
	}
	c.cfg.SM.UpdatePriority(c.sessionID, priority)
}

// Deliver forwards a stanza the Router or Session Manager handed to this
// connection's mailbox straight onto the wire; addressing attributes were
// already stamped by the sender's own connection.
func (c *Conn) Deliver(el *xmlel.Element) {
	c.Send(el)
}

// nowPlaceholder isolates the one wall-clock read sessionEstablished needs
// (last-presence timestamp, used only for diagnostics, never for protocol
// decisions) so it is easy to stub in tests.
var nowPlaceholder = func() time.Time { return time.Now() }
