// Copyright 2014 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

// Package jid implements XMPP addresses (historically called "Jabber ID's" or
// "JID's") as described in RFC 7622.
//
// A JID has three parts: a localpart (user), a domainpart (server), and an
// optional resourcepart. Each part is stored in both its original (raw) form
// and its canonicalized (stringprep'd) form so that routing and comparison can
// use the canonical form while display and round-tripping can use the raw
// form.
package jid // import "quartzim.dev/xmppd/jid"
