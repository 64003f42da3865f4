// Copyright 2015 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

package c2s

import (
	"encoding/xml"
	"fmt"
	"strings"

	"golang.org/x/net/idna"

	"quartzim.dev/xmppd/internal/attr"
	"quartzim.dev/xmppd/internal/ns"
	"quartzim.dev/xmppd/sasl"
	"quartzim.dev/xmppd/stream"
	"quartzim.dev/xmppd/xmlel"
	"quartzim.dev/xmppd/xmlreader"
)

// onStreamStart handles the opening <stream:stream> tag, the only input
// HandleEvent accepts in any state: a client that reopens the stream (after
// SASL success, or oddly at any other time) is routed back through here
// rather than treated as a protocol violation, since RFC 6120 §6.4.6
// mandates exactly that restart.
func (c *Conn) onStreamStart(s xmlreader.StreamStart) {
	lang := s.Attribute("lang")
	if len(lang) > MaxLangLen {
		lang = lang[:MaxLangLen]
	}
	if lang != "" {
		c.streamLang = lang
	}
	if c.Lang == "" {
		c.Lang = c.streamLang
	}

	to := s.Attribute("to")
	host, err := idna.ToUnicode(to)
	if err != nil || to == "" || !c.cfg.Hosts[host] {
		c.sendStreamError(stream.HostUnknown)
		return
	}

	c.StreamID = attr.RandomDecimal()
	c.sendStreamHeader(host)

	// Clients that open a pre-XMPP-1.0 stream (no version='1.0', the old
	// jabber:client protocol) never see a stream:features advertisement at
	// all and go straight to the legacy jabber:iq:auth state; only a
	// version='1.0' stream gets the SASL/bind/session dispatch.
	modern := s.Attribute("version") == "1.0"
	switch {
	case modern && !c.Authenticated:
		c.State = WaitForFeatureRequest
		c.sendFeatures(c.saslFeatures())
	case modern && c.Resource == "":
		c.State = WaitForBind
		c.sendFeatures(
			xmlel.New(xml.Name{Space: ns.Bind, Local: "bind"}),
			xmlel.New(xml.Name{Space: ns.Session, Local: "session"}),
		)
	case modern:
		c.State = WaitForSession
		c.sendFeatures()
	default:
		c.State = WaitForAuth
	}
}

func (c *Conn) sendStreamHeader(host string) {
	c.SendRaw(fmt.Sprintf(
		"<?xml version='1.0'?><stream:stream xmlns='%s' xmlns:stream='%s' from='%s' id='%s' version='1.0' xml:lang='%s'>",
		ns.Client, ns.Stream, host, c.StreamID, xmlEscapeAttr(c.Lang),
	))
}

func xmlEscapeAttr(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	return s
}

func (c *Conn) sendFeatures(children ...*xmlel.Element) {
	el := xmlel.New(xml.Name{Space: ns.Stream, Local: "features"})
	el.Child = append(el.Child, children...)
	c.Send(el)
}

func (c *Conn) saslFeatures() *xmlel.Element {
	names := c.cfg.SASL.Mechanisms()
	return sasl.MechanismsElement(names)
}

