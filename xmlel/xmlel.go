// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package xmlel implements a generic, mutable XML element tree used by the
// router, session manager, and C2S state machine to inspect and rewrite
// stanzas without committing to a fixed Go struct per stanza shape.
//
// An Element is either a tagged node carrying an ordered attribute list and a
// sequence of children (themselves elements or character data), or a bare
// character-data leaf. Attribute lookup returns the first match, mirroring
// the order attributes appeared on the wire.
package xmlel // import "quartzim.dev/xmppd/xmlel"

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

// Attr is a single (name, value) attribute pair.
type Attr struct {
	Name  xml.Name
	Value string
}

// Element is a node in the generic XML tree. A character-data leaf has a
// zero Name and a non-empty Text; a tagged element has a non-zero Name and
// is described by Attr and Child.
type Element struct {
	Name  xml.Name
	Attr  []Attr
	Child []*Element
	Text  string
}

// CharData constructs a character-data leaf.
func CharData(s string) *Element {
	return &Element{Text: s}
}

// New constructs a tagged element with the given name.
func New(name xml.Name, attr ...Attr) *Element {
	return &Element{Name: name, Attr: attr}
}

// IsText reports whether e is a character-data leaf.
func (e *Element) IsText() bool {
	return e != nil && e.Name.Local == "" && e.Name.Space == ""
}

// Attribute returns the value of the first attribute named local, regardless
// of namespace, or "" if none matches.
func (e *Element) Attribute(local string) string {
	if e == nil {
		return ""
	}
	for _, a := range e.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// SetAttribute sets (or, if already present, overwrites) the first attribute
// named local.
func (e *Element) SetAttribute(local, value string) {
	for i, a := range e.Attr {
		if a.Name.Local == local {
			e.Attr[i].Value = value
			return
		}
	}
	e.Attr = append(e.Attr, Attr{Name: xml.Name{Local: local}, Value: value})
}

// RemoveAttribute deletes every attribute named local.
func (e *Element) RemoveAttribute(local string) {
	out := e.Attr[:0]
	for _, a := range e.Attr {
		if a.Name.Local != local {
			out = append(out, a)
		}
	}
	e.Attr = out
}

// Children returns the tagged (non-text) children of e.
func (e *Element) Children() []*Element {
	var out []*Element
	for _, c := range e.Child {
		if !c.IsText() {
			out = append(out, c)
		}
	}
	return out
}

// ChildElement returns the sole non-cdata child of e, or nil if there is not
// exactly one.
func (e *Element) ChildElement() *Element {
	kids := e.Children()
	if len(kids) != 1 {
		return nil
	}
	return kids[0]
}

// Decode reads a fully-formed subtree (starting immediately after start has
// been consumed) from d, returning it as an *Element rooted at start. d need
// only satisfy xml.TokenReader; callers that already hold a codec.Decoder or
// another token source can pass it directly without wrapping it in an
// *xml.Decoder.
func Decode(d xml.TokenReader, start xml.StartElement) (*Element, error) {
	el := fromStart(start)
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := Decode(d, t.Copy())
			if err != nil {
				return nil, err
			}
			el.Child = append(el.Child, child)
		case xml.CharData:
			if s := string(t); strings.TrimSpace(s) != "" {
				el.Child = append(el.Child, CharData(s))
			}
		case xml.EndElement:
			return el, nil
		}
	}
}

func fromStart(start xml.StartElement) *Element {
	el := &Element{Name: start.Name}
	for _, a := range start.Attr {
		el.Attr = append(el.Attr, Attr{Name: a.Name, Value: a.Value})
	}
	return el
}

// DecodeElement reads the next complete element from r, which must yield a
// StartElement first.
func DecodeElement(r xml.TokenReader) (*Element, error) {
	tok, err := r.Token()
	if err != nil {
		return nil, err
	}
	start, ok := tok.(xml.StartElement)
	if !ok {
		return nil, errors.New("xmlel: expected start element")
	}
	d := xml.NewTokenDecoder(r)
	return Decode(d, start)
}

// WriteTo serializes e to w using single-quoted attribute values, matching
// the server's own on-the-wire framing style.
func (e *Element) WriteTo(w io.Writer) (int64, error) {
	cw := &countWriter{w: w}
	e.encode(cw)
	return cw.n, cw.err
}

// String renders e using the same single-quote convention as WriteTo.
func (e *Element) String() string {
	var b strings.Builder
	e.encode(&countWriter{w: &b})
	return b.String()
}

type countWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countWriter) writeString(s string) {
	if c.err != nil {
		return
	}
	n, err := io.WriteString(c.w, s)
	c.n += int64(n)
	c.err = err
}

func (e *Element) encode(w *countWriter) {
	if e.IsText() {
		w.writeString(escapeText(e.Text))
		return
	}
	w.writeString("<")
	w.writeString(qname(e.Name))
	if e.Name.Space != "" && e.Attribute("xmlns") == "" {
		w.writeString(" xmlns='")
		w.writeString(escapeAttr(e.Name.Space))
		w.writeString("'")
	}
	for _, a := range e.Attr {
		w.writeString(" ")
		w.writeString(qname(a.Name))
		w.writeString("='")
		w.writeString(escapeAttr(a.Value))
		w.writeString("'")
	}
	if len(e.Child) == 0 {
		w.writeString("/>")
		return
	}
	w.writeString(">")
	for _, c := range e.Child {
		c.encode(w)
	}
	w.writeString("</")
	w.writeString(qname(e.Name))
	w.writeString(">")
}

func qname(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	// Namespaces on the generic tree are carried as xmlns attributes by the
	// caller; the local name alone is written here since prefix bookkeeping
	// for nested streams is out of scope for this tree.
	return n.Local
}

func escapeAttr(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

func escapeText(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
