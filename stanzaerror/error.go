// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package stanzaerror implements the RFC 6120 §8.3 stanza error vocabulary:
// the fixed table of named conditions, each mapped to a legacy numeric code
// and an error type, and the XML envelope the conditions are wrapped in when
// turned into an <error/> child of a message, presence, or iq stanza.
package stanzaerror // import "quartzim.dev/xmppd/stanzaerror"

import (
	"encoding/xml"

	"quartzim.dev/xmppd/internal/ns"
	"quartzim.dev/xmppd/xmlel"
)

// Type is the error-type attribute on a stanza <error/> element.
type Type string

// The four stanza error types defined by RFC 6120 §8.3.2.
const (
	Auth   Type = "auth"
	Cancel Type = "cancel"
	Modify Type = "modify"
	Wait   Type = "wait"
)

// Condition names one of the fixed stanza error conditions.
type Condition string

// The stanza error conditions defined by RFC 6120 §8.3.3, each carrying the
// legacy numeric code historically sent alongside the condition and the
// error type it is normally paired with.
const (
	BadRequest            Condition = "bad-request"
	Conflict              Condition = "conflict"
	FeatureNotImplemented Condition = "feature-not-implemented"
	Forbidden             Condition = "forbidden"
	Gone                  Condition = "gone"
	InternalServerError   Condition = "internal-server-error"
	ItemNotFound          Condition = "item-not-found"
	JIDMalformed          Condition = "jid-malformed"
	NotAcceptable         Condition = "not-acceptable"
	NotAllowed            Condition = "not-allowed"
	NotAuthorized         Condition = "not-authorized"
	PolicyViolation       Condition = "policy-violation"
	RecipientUnavailable  Condition = "recipient-unavailable"
	Redirect              Condition = "redirect"
	RegistrationRequired  Condition = "registration-required"
	RemoteServerNotFound  Condition = "remote-server-not-found"
	RemoteServerTimeout   Condition = "remote-server-timeout"
	ResourceConstraint    Condition = "resource-constraint"
	ServiceUnavailable    Condition = "service-unavailable"
	SubscriptionRequired  Condition = "subscription-required"
	UndefinedCondition    Condition = "undefined-condition"
	UnexpectedRequest     Condition = "unexpected-request"
)

type entry struct {
	code int
	typ  Type
}

var table = map[Condition]entry{
	BadRequest:            {400, Modify},
	Conflict:              {409, Cancel},
	FeatureNotImplemented: {501, Cancel},
	Forbidden:             {403, Auth},
	Gone:                  {302, Cancel},
	InternalServerError:   {500, Cancel},
	ItemNotFound:          {404, Cancel},
	JIDMalformed:          {400, Modify},
	NotAcceptable:         {406, Modify},
	NotAllowed:            {405, Cancel},
	NotAuthorized:         {401, Auth},
	PolicyViolation:       {400, Modify},
	RecipientUnavailable:  {404, Wait},
	Redirect:              {302, Modify},
	RegistrationRequired:  {407, Auth},
	RemoteServerNotFound:  {404, Cancel},
	RemoteServerTimeout:   {504, Wait},
	ResourceConstraint:    {500, Wait},
	ServiceUnavailable:    {503, Cancel},
	SubscriptionRequired:  {407, Auth},
	UndefinedCondition:    {500, Cancel},
	UnexpectedRequest:     {400, Wait},
}

// Code returns the legacy numeric code associated with c.
func (c Condition) Code() int {
	return table[c].code
}

// Type returns the error type normally paired with c.
func (c Condition) Type() Type {
	return table[c].typ
}

// New builds the <error/> element for condition c, using c's default type and
// code and an optional English-language descriptive text.
func New(c Condition, text string) *xmlel.Element {
	return NewWithType(c, c.Type(), text)
}

// NewWithType is like New but uses typ as the error type instead of the
// condition's default.
func NewWithType(c Condition, typ Type, text string) *xmlel.Element {
	e := table[c]
	el := xmlel.New(xml.Name{Local: "error"},
		xmlel.Attr{Name: xml.Name{Local: "type"}, Value: string(typ)},
	)
	if e.code != 0 {
		el.SetAttribute("code", itoa(e.code))
	}
	el.Child = append(el.Child, xmlel.New(xml.Name{Space: ns.Stanza, Local: string(c)}))
	if text != "" {
		txt := xmlel.New(xml.Name{Space: ns.Stanza, Local: "text"})
		txt.Child = append(txt.Child, xmlel.CharData(text))
		el.Child = append(el.Child, txt)
	}
	return el
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
