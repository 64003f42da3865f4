// Copyright 2019 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package stream contains the XMPP stream-level error conditions defined by
// RFC 6120 §4.9.3, the fixed vocabulary this server sends when it has to
// tear the whole stream down instead of replying to a single stanza.
package stream // import "quartzim.dev/xmppd/stream"
