// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmlel

import "encoding/xml"

// IQKind classifies a top-level <iq/> element.
type IQKind int

// The four ways an iq element can classify.
const (
	// NotIQ means the element's tag is not "iq".
	NotIQ IQKind = iota
	// InvalidIQ means the element is tagged iq but does not meet the
	// structural requirements of a request or reply.
	InvalidIQ
	// RequestIQ is a well-formed get or set.
	RequestIQ
	// ReplyIQ is a well-formed result or error.
	ReplyIQ
)

// IsStanza reports whether e is a top-level message, presence, or iq
// element.
func (e *Element) IsStanza() bool {
	if e == nil || e.IsText() {
		return false
	}
	switch e.Name.Local {
	case "message", "presence", "iq":
		return true
	}
	return false
}

// ClassifyIQ implements iq_query_info: it classifies e as a request, a
// reply, invalid, or not an iq at all. A get/set is valid only if it has
// exactly one non-cdata child and that child carries a non-empty xmlns. A
// result/error is always a valid reply regardless of its payload.
func ClassifyIQ(e *Element) IQKind {
	if e == nil || e.Name.Local != "iq" {
		return NotIQ
	}
	switch e.Attribute("type") {
	case "get", "set":
		payload := e.ChildElement()
		if payload == nil || payload.Attribute("xmlns") == "" {
			return InvalidIQ
		}
		return RequestIQ
	case "result", "error":
		return ReplyIQ
	default:
		return InvalidIQ
	}
}

// PayloadXMLNS returns the xmlns of an iq request's sole payload child, or ""
// if e is not a valid request.
func (e *Element) PayloadXMLNS() string {
	if ClassifyIQ(e) != RequestIQ {
		return ""
	}
	return e.ChildElement().Attribute("xmlns")
}

// ReplaceFromTo sets e's from and to attributes to the given values; building
// a reply passes from=recipient, to=sender so that it addresses its sender.
func ReplaceFromTo(from, to string, e *Element) {
	e.SetAttribute("from", from)
	e.SetAttribute("to", to)
}

// RemoveAttr deletes every attribute named local from e. It is an alias for
// Element.RemoveAttribute kept to mirror the spec's remove_attr naming.
func RemoveAttr(name string, e *Element) {
	e.RemoveAttribute(name)
}

// MakeResultIQReply implements make_result_iq_reply: it returns a new result
// iq addressed back to the sender of el, preserving el's id and swapping
// from/to, but dropping el's request payload.
func MakeResultIQReply(el *Element) *Element {
	reply := New(xml.Name{Local: "iq"})
	reply.SetAttribute("id", el.Attribute("id"))
	reply.SetAttribute("type", "result")
	ReplaceFromTo(el.Attribute("to"), el.Attribute("from"), reply)
	return reply
}

// MakeErrorReply implements make_error_reply: it returns a copy of el
// addressed back to its sender, with type rewritten to "error" and err
// appended as the error payload. el's original children (the offending
// payload) are preserved, per RFC 6120 §8.3.1.
func MakeErrorReply(el *Element, err *Element) *Element {
	reply := New(el.Name, append([]Attr(nil), el.Attr...)...)
	reply.SetAttribute("type", "error")
	ReplaceFromTo(el.Attribute("to"), el.Attribute("from"), reply)
	reply.Child = append(reply.Child, el.Children()...)
	reply.Child = append(reply.Child, err)
	return reply
}
