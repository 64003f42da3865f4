// Copyright 2019 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package xmlreader adapts an XML token stream into the incremental parser
// described for the XMPP C2S endpoint: a parser running at element-depth 1,
// so that the opening <stream:stream> tag yields one event, each top-level
// stanza yields one fully-built event, and the matching </stream:stream>
// yields a third kind of event. Events are delivered as messages to a
// target process rather than returned from a blocking call, so that a C2S
// connection's automaton can select over them alongside TCP and timer
// messages.
package xmlreader // import "quartzim.dev/xmppd/xmlreader"

import (
	"context"
	"encoding/xml"
	"io"

	"quartzim.dev/xmppd/codec"
	"quartzim.dev/xmppd/internal"
	"quartzim.dev/xmppd/internal/decl"
	"quartzim.dev/xmppd/runtime"
	"quartzim.dev/xmppd/xmlel"
)

// StreamStart is delivered when the opening <stream:stream> tag is seen.
type StreamStart struct {
	Name xml.Name
	Attr []xml.Attr
}

// Attribute returns the value of the first attribute named local in the
// opening tag, regardless of namespace.
func (s StreamStart) Attribute(local string) string {
	return internal.GetAttr(s.Attr, local)
}

// StreamElement is delivered for each fully-parsed depth-1 child of the
// stream: a complete stanza or stream-level extension element.
type StreamElement struct {
	El *xmlel.Element
}

// StreamEnd is delivered when the matching </stream:stream> close tag
// arrives.
type StreamEnd struct {
	Name xml.Name
}

// StreamError is delivered when the underlying XML cannot be parsed, or an
// io error (other than a clean EOF after </stream:stream>) occurs. The
// reader does not retry; the owning process is expected to close the
// connection.
type StreamError struct {
	Err error
}

// Reader is an incremental XML parser adapter bound to one connection. It is
// not safe for concurrent use; exactly one goroutine (normally Run's caller)
// drives it at a time.
type Reader struct {
	dec   codec.Decoder
	depth int
}

// New constructs a Reader that consumes tokens from r.
func New(r io.Reader) *Reader {
	return &Reader{dec: xml.NewTokenDecoder(decl.Skip(xml.NewDecoder(r)))}
}

// Reset discards the current parser state and rebuilds the Reader around a
// new underlying source. This is used after SASL success, which per RFC
// 6120 §6.4.6 requires the client and server to restart the XML stream from
// scratch; any state held by the old encoding/xml.Decoder (including its
// namespace stack) must not leak into the new stream.
func (rd *Reader) Reset(r io.Reader) {
	rd.dec = xml.NewTokenDecoder(decl.Skip(xml.NewDecoder(r)))
	rd.depth = 0
}

// Run drives the parser until the stream ends, a parse error occurs, or ctx
// is cancelled, sending one event message to target per iteration. It
// returns the error that ended the loop. A clean </stream:stream> is
// reported as a StreamEnd event and a nil return; io.EOF before it is
// reported as a StreamError event and returned.
func (rd *Reader) Run(ctx context.Context, target runtime.PID) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		tok, err := rd.dec.Token()
		if err != nil {
			_ = runtime.Send(target, StreamError{Err: err})
			return err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if rd.depth == 0 {
				rd.depth = 1
				attr := make([]xml.Attr, len(t.Attr))
				copy(attr, t.Attr)
				_ = runtime.Send(target, StreamStart{Name: t.Name, Attr: attr})
				continue
			}
			el, derr := xmlel.Decode(rd.dec, t.Copy())
			if derr != nil {
				_ = runtime.Send(target, StreamError{Err: derr})
				return derr
			}
			_ = runtime.Send(target, StreamElement{El: el})
		case xml.EndElement:
			_ = runtime.Send(target, StreamEnd{Name: t.Name})
			return nil
		case xml.CharData:
			// Whitespace between stanzas at the stream root is ignored; any
			// other top-level character data is forbidden but we don't
			// police it here -- the state machine only ever sees elements.
		default:
			// Comments, processing instructions, and directives at the
			// stream root are restricted XML; surface them as a parse
			// error so the caller can emit the correct stream error.
			_ = runtime.Send(target, StreamError{Err: errRestrictedXML})
			return errRestrictedXML
		}
	}
}

var errRestrictedXML = restrictedXMLError{}

type restrictedXMLError struct{}

func (restrictedXMLError) Error() string { return "xmlreader: restricted XML token at stream root" }
