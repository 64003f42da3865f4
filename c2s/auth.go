// Copyright 2015 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

package c2s

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/xml"
	"fmt"

	"golang.org/x/text/language"

	"quartzim.dev/xmppd/internal/ns"
	"quartzim.dev/xmppd/sasl"
	"quartzim.dev/xmppd/stanzaerror"
	"quartzim.dev/xmppd/stream"
	"quartzim.dev/xmppd/xmlel"
)

// legacyDigest computes the jabber:iq:auth digest, SHA-1(streamid + password)
// hex-encoded, per the long-obsolete but still-deployed legacy auth scheme.
func legacyDigest(streamID, password string) string {
	sum := sha1.Sum([]byte(streamID + password))
	return fmt.Sprintf("%x", sum)
}

// waitForFeatureRequest handles the element that follows the server's
// stream:features advertisement: either a SASL <auth/> start or, for
// clients too old to speak SASL, a jabber:iq:auth feature-discovery get
// that detours into the legacy WaitForAuth state, or a jabber:iq:auth set
// that is handled as a legacy login straight away.
func (c *Conn) waitForFeatureRequest(el *xmlel.Element) {
	switch {
	case el.Name.Local == "auth" && el.Attribute("xmlns") == ns.SASL:
		c.startSASL(el)
	case el.Name.Local == "iq" && xmlel.ClassifyIQ(el) == xmlel.RequestIQ && el.PayloadXMLNS() == ns.Auth:
		if el.Attribute("type") == "get" {
			c.legacyAuthFields(el)
			return
		}
		c.legacyAuthSet(el)
	default:
		c.sendStreamError(stream.NotAuthorized)
	}
}

func (c *Conn) startSASL(el *xmlel.Element) {
	mech := el.Attribute("mechanism")
	initial, err := decodeSASLText(el)
	if err != nil {
		c.sendSASLFailure(sasl.ErrIncorrectEncoding)
		return
	}
	res := c.cfg.SASL.ServerStart(mech, c.saslParams(), initial)
	c.handleSASLResult(res)
}

func (c *Conn) waitForSaslResponse(el *xmlel.Element) {
	if el.Name.Local == "abort" && el.Attribute("xmlns") == ns.SASL {
		c.sendSASLFailure(sasl.ErrMalformedRequest)
		c.State = WaitForFeatureRequest
		return
	}
	if el.Name.Local != "response" || el.Attribute("xmlns") != ns.SASL {
		c.sendStreamError(stream.NotAuthorized)
		return
	}
	data, err := decodeSASLText(el)
	if err != nil {
		c.sendSASLFailure(sasl.ErrIncorrectEncoding)
		return
	}
	if c.saslNext == nil {
		c.sendSASLFailure(sasl.ErrMalformedRequest)
		return
	}
	c.handleSASLResult(c.saslNext(data))
}

func (c *Conn) handleSASLResult(res sasl.Result) {
	switch res.Kind {
	case sasl.Done:
		c.Authenticated = true
		c.User = res.Props[sasl.PropUsername]
		c.Server = c.cfg.Domain
		c.saslNext = nil
		el := xmlel.New(xml.Name{Local: "success"})
		el.SetAttribute("xmlns", ns.SASL)
		c.Send(el)
		c.State = WaitForStream
		c.RestartStream()
	case sasl.Continue:
		c.saslNext = res.Next
		c.State = WaitForSaslResponse
		el := xmlel.New(xml.Name{Local: "challenge"})
		el.SetAttribute("xmlns", ns.SASL)
		el.Child = append(el.Child, xmlel.CharData(base64.StdEncoding.EncodeToString([]byte(res.Challenge))))
		c.Send(el)
	case sasl.Error:
		c.saslNext = nil
		c.sendSASLFailure(res.Code)
		c.State = WaitForFeatureRequest
	}
}

func (c *Conn) sendSASLFailure(code sasl.ErrCode) {
	c.Send(sasl.FailureElement(code, language.Und))
}

func (c *Conn) saslParams() sasl.Params {
	return sasl.Params{
		ServerFQDN: c.cfg.Domain,
		CheckPass:  c.cfg.CheckPassword,
		GetPass:    c.cfg.GetPassword,
	}
}

func decodeSASLText(el *xmlel.Element) ([]byte, error) {
	var s string
	for _, ch := range el.Child {
		if ch.IsText() {
			s += ch.Text
		}
	}
	if s == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

// legacyAuthFields answers the jabber:iq:auth feature-discovery get with the
// fields a legacy client may fill in (username, password, digest,
// resource); a client sends either <password/> or <digest/>.
func (c *Conn) legacyAuthFields(el *xmlel.Element) {
	reply := xmlel.MakeResultIQReply(el)
	query := xmlel.New(xml.Name{Space: ns.Auth, Local: "query"})
	query.Child = append(query.Child,
		xmlel.New(xml.Name{Local: "username"}),
		xmlel.New(xml.Name{Local: "password"}),
		xmlel.New(xml.Name{Local: "digest"}),
		xmlel.New(xml.Name{Local: "resource"}),
	)
	reply.Child = append(reply.Child, query)
	c.Send(reply)
	c.State = WaitForAuth
}

func (c *Conn) legacyAuthSet(el *xmlel.Element) {
	c.waitForAuth(el)
}

// waitForAuth handles the jabber:iq:auth exchange for clients that never
// negotiated SASL: a get answered with the field list, and a set carrying
// the client's credentials and desired resource.
func (c *Conn) waitForAuth(el *xmlel.Element) {
	if el.Name.Local != "iq" || xmlel.ClassifyIQ(el) != xmlel.RequestIQ || el.PayloadXMLNS() != ns.Auth {
		c.replyServiceUnavailable(el)
		return
	}
	if el.Attribute("type") == "get" {
		c.legacyAuthFields(el)
		return
	}
	query := el.ChildElement()
	user := childText(query, "username")
	resource := childText(query, "resource")
	if user == "" || resource == "" {
		c.Send(xmlel.MakeErrorReply(el, stanzaerror.New(stanzaerror.NotAcceptable, "")))
		return
	}

	ok, module := c.checkLegacyCreds(user, query)
	if !ok {
		c.Send(xmlel.MakeErrorReply(el, stanzaerror.New(stanzaerror.NotAuthorized, "")))
		return
	}
	_ = module

	c.Authenticated = true
	c.User = user
	c.Server = c.cfg.Domain
	if err := c.bindResource(resource); err != nil {
		c.Send(xmlel.MakeErrorReply(el, stanzaerror.New(legacyBindErrorCondition(err), "")))
		c.Authenticated = false
		return
	}
	c.Send(xmlel.MakeResultIQReply(el))
	c.State = SessionEstablished
	c.seedRoster()
}

func (c *Conn) checkLegacyCreds(user string, query *xmlel.Element) (ok bool, module string) {
	if pass := childText(query, "password"); pass != "" {
		module, ok = c.cfg.CheckPassword(user, c.cfg.Domain, pass)
		return ok, module
	}
	if digest := childText(query, "digest"); digest != "" {
		pass, mod, found := c.cfg.GetPassword(user, c.cfg.Domain)
		if !found {
			return false, ""
		}
		if digest == legacyDigest(c.StreamID, pass) {
			return true, mod
		}
		return false, ""
	}
	return false, ""
}

func childText(el *xmlel.Element, name string) string {
	if el == nil {
		return ""
	}
	for _, ch := range el.Child {
		if !ch.IsText() && ch.Name.Local == name {
			var s string
			for _, t := range ch.Child {
				if t.IsText() {
					s += t.Text
				}
			}
			return s
		}
	}
	return ""
}
