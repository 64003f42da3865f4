// Copyright 2015 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

// Package c2s implements the per-connection client-to-server state machine:
// the seven-state automaton that drives one client connection from stream
// open through SASL authentication, resource binding, and session
// establishment, to steady-state stanza exchange with the Router and
// Session Manager.
package c2s // import "quartzim.dev/xmppd/c2s"

// State names one of the seven states a connection passes through.
type State int

// The C2S automaton's states, in the order a well-behaved SASL connection
// passes through them (the legacy jabber:iq:auth path detours through
// WaitForAuth instead of the SASL states).
const (
	WaitForStream State = iota
	WaitForAuth
	WaitForFeatureRequest
	WaitForSaslResponse
	WaitForBind
	WaitForSession
	SessionEstablished
)

func (s State) String() string {
	switch s {
	case WaitForStream:
		return "WaitForStream"
	case WaitForAuth:
		return "WaitForAuth"
	case WaitForFeatureRequest:
		return "WaitForFeatureRequest"
	case WaitForSaslResponse:
		return "WaitForSaslResponse"
	case WaitForBind:
		return "WaitForBind"
	case WaitForSession:
		return "WaitForSession"
	case SessionEstablished:
		return "SessionEstablished"
	default:
		return "Unknown"
	}
}
