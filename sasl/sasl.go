// Copyright 2016 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

// Package sasl implements the server side of the SASL negotiation used to
// authenticate an XMPP client connection: a pluggable mechanism registry and
// the PLAIN and DIGEST-MD5 steppable mechanisms.
//
// mellium.im/sasl (not a dependency of this module) targets
// the client/server negotiation loop for the modern mechanism set
// (PLAIN, SCRAM-*, EXTERNAL) wired into a Conn's TLS/feature negotiation; it
// has no DIGEST-MD5 mechanism and no seam for the bare challenge/response
// Step automaton this package needs to expose to the C2S state machine, so
// the stepping engine below is hand-rolled from RFC 4422/4616/2831 rather
// than adapted from it -- see DESIGN.md.
package sasl // import "quartzim.dev/xmppd/sasl"

import (
	"encoding/xml"

	"golang.org/x/text/language"
	"golang.org/x/text/secure/precis"

	"quartzim.dev/xmppd/internal/ns"
	"quartzim.dev/xmppd/xmlel"
)

// Props are the properties a Done result carries about the now-authenticated
// principal.
type Props map[string]string

// Well-known Props keys.
const (
	PropUsername   = "username"
	PropAuthzID    = "authzid"
	PropAuthModule = "auth-module"
)

// ErrCode names a SASL failure condition, one of the values in RFC 6120
// §6.5.
type ErrCode string

// The SASL failure conditions used by this server.
const (
	ErrNotAuthorized        ErrCode = "not-authorized"
	ErrBadProtocol           ErrCode = "bad-protocol"
	ErrMalformedRequest      ErrCode = "malformed-request"
	ErrIncorrectEncoding     ErrCode = "incorrect-encoding"
	ErrInvalidMechanism      ErrCode = "invalid-mechanism"
	ErrTemporaryAuthFailure  ErrCode = "temporary-auth-failure"
)

// Result is the outcome of a single Step.
type Result struct {
	// Kind discriminates which of the three outcomes this Result holds.
	Kind ResultKind
	// Props is populated when Kind is Done.
	Props Props
	// Challenge is populated when Kind is Continue: data for the server's
	// challenge frame.
	Challenge string
	// Next is populated when Kind is Continue: the step function that
	// consumes the client's next response.
	Next StepFunc
	// Code is populated when Kind is Error.
	Code ErrCode
	// User is populated when Kind is Error and the offending user is known
	// (for logging -- "ErrorUser" in the spec).
	User string
}

// ResultKind discriminates the three outcomes a Step may produce.
type ResultKind int

const (
	// Done means authentication succeeded; Result.Props is populated.
	Done ResultKind = iota
	// Continue means another challenge/response round is needed.
	Continue
	// Error means authentication failed and the exchange must abort.
	Error
)

func doneResult(props Props) Result   { return Result{Kind: Done, Props: props} }
func contResult(out string, next StepFunc) Result {
	return Result{Kind: Continue, Challenge: out, Next: next}
}
func errResult(code ErrCode) Result { return Result{Kind: Error, Code: code} }
func errUserResult(code ErrCode, user string) Result {
	return Result{Kind: Error, Code: code, User: user}
}

// StepFunc consumes one client message (already base64-decoded) and returns
// the next step of the exchange.
type StepFunc func(clientInput []byte) Result

// PasswordChecker verifies a plaintext password for (user, server),
// returning the auth module name on success.
type PasswordChecker func(user, server, pass string) (module string, ok bool)

// PasswordProvider retrieves the plaintext password stored for (user,
// server), needed by DIGEST-MD5 to compute the expected response.
type PasswordProvider func(user, server string) (pass, module string, ok bool)

// DigestChecker verifies a precomputed digest for (user, server), used by
// the legacy non-SASL jabber:iq:auth path, not by the mechanisms in this
// package, but threaded through Params for symmetry with the collaborator
// contracts in §6 of the spec.
type DigestChecker func(user, server, response, digest string, digestGen func(pwd string) string) (module string, ok bool)

// Params bundles the collaborators a mechanism factory needs.
type Params struct {
	ServerFQDN string
	CheckPass  PasswordChecker
	GetPass    PasswordProvider
	CheckDigest DigestChecker
}

// Factory produces the initial step of a mechanism given the negotiation
// parameters and the client's initial response (may be nil if the mechanism
// always challenges first, as DIGEST-MD5 does).
type Factory func(p Params, initial []byte) Result

// Registry is a read-only-after-startup table of mechanism name to Factory.
// A Registry's zero value has no mechanisms; use NewRegistry.
type Registry struct {
	byName map[string]Factory
	names  []string
}

// NewRegistry builds an empty Registry; mechanisms are added with Register.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Factory)}
}

// Register adds a mechanism factory under name, preserving registration
// order for Mechanisms.
func (r *Registry) Register(name string, f Factory) {
	if _, ok := r.byName[name]; !ok {
		r.names = append(r.names, name)
	}
	r.byName[name] = f
}

// Mechanisms returns the registered mechanism names in registration order.
func (r *Registry) Mechanisms() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// ServerStart looks up mechanism by name and starts it. An unknown mechanism
// yields an Error result with ErrInvalidMechanism.
func (r *Registry) ServerStart(mechanism string, p Params, initial []byte) Result {
	f, ok := r.byName[mechanism]
	if !ok {
		return errResult(ErrInvalidMechanism)
	}
	return postValidate(f(p, initial))
}

// postValidate enforces the engine-wide rule that a Done result's username
// must stringprep-nodeprep to a non-empty value; mechanisms themselves
// already nodeprep internally, but a mechanism could in principle report a
// username it never validated, so this is re-checked centrally.
func postValidate(res Result) Result {
	switch res.Kind {
	case Continue:
		if next := res.Next; next != nil {
			res.Next = func(in []byte) Result { return postValidate(next(in)) }
		}
	case Done:
		if u, err := precis.UsernameCaseMapped.String(res.Props[PropUsername]); err != nil || u == "" {
			return errResult(ErrNotAuthorized)
		}
	}
	return res
}

// DefaultRegistry returns a Registry with PLAIN and DIGEST-MD5 registered,
// the mechanism set named in the spec.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("PLAIN", Plain)
	r.Register("DIGEST-MD5", DigestMD5)
	return r
}

// MechanismsElement builds the <mechanisms/> stream feature advertising the
// registry's mechanisms in registration order.
func MechanismsElement(names []string) *xmlel.Element {
	el := xmlel.New(xml.Name{Local: "mechanisms"})
	el.SetAttribute("xmlns", ns.SASL)
	for _, n := range names {
		m := xmlel.New(xml.Name{Local: "mechanism"})
		m.Child = append(m.Child, xmlel.CharData(n))
		el.Child = append(el.Child, m)
	}
	return el
}

// FailureElement builds the <failure/> SASL frame for code. lang is
// currently unused (the condition element carries no text child) but kept
// in the signature for parity with the stanza error builders, which do
// support localized text.
func FailureElement(code ErrCode, lang language.Tag) *xmlel.Element {
	el := xmlel.New(xml.Name{Local: "failure"})
	el.SetAttribute("xmlns", ns.SASL)
	el.Child = append(el.Child, xmlel.New(xml.Name{Local: string(code)}))
	return el
}
