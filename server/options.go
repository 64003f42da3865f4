// Copyright 2015 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

package server

import (
	"crypto/tls"
	"time"

	"quartzim.dev/xmppd/jid"
	"quartzim.dev/xmppd/sasl"
	"quartzim.dev/xmppd/xmlel"
)

// Option configures a Server at construction time.
type Option func(*options)

type options struct {
	clientAddr string // TCP address to listen on, ":5222" if empty.
	tlsConfig  *tls.Config

	hosts []string

	checkPassword sasl.PasswordChecker
	getPassword   sasl.PasswordProvider
	accessCheck   func(user, server, resource string) bool
	rosterSeed    func(user, server string) (presF, presT []string)
	privacyCheck  func(user, server, resource string, to *jid.JID, el *xmlel.Element) bool

	maxUserSessions func(user, server string) int
	sendTimeout     time.Duration
	sendBufLimit    int
}

func getOpts(o ...Option) (res options) {
	res.checkPassword = func(string, string, string) (string, bool) { return "", false }
	res.getPassword = func(string, string) (string, string, bool) { return "", "", false }
	res.accessCheck = func(string, string, string) bool { return true }
	res.rosterSeed = func(user, server string) ([]string, []string) {
		self := user + "@" + server
		return []string{self}, []string{self}
	}
	res.privacyCheck = func(string, string, string, *jid.JID, *xmlel.Element) bool { return true }
	res.maxUserSessions = func(string, string) int { return 5 }
	res.sendTimeout = 30 * time.Second
	res.sendBufLimit = 1 << 20
	for _, f := range o {
		f(&res)
	}
	return
}

// ClientAddr sets the interface and port the server listens on for inbound
// connections from XMPP clients.
func ClientAddr(addr string) Option {
	return func(o *options) { o.clientAddr = addr }
}

// TLSConfig fully configures the server's TLS parameters.
func TLSConfig(config *tls.Config) Option {
	return func(o *options) { o.tlsConfig = config }
}

// Host adds name to the set of domains this server accepts stream:stream
// headers addressed to.
func Host(name string) Option {
	return func(o *options) { o.hosts = append(o.hosts, name) }
}

// AuthBackend installs the password collaborators backing SASL PLAIN,
// DIGEST-MD5, and the legacy jabber:iq:auth path.
func AuthBackend(check sasl.PasswordChecker, get sasl.PasswordProvider) Option {
	return func(o *options) { o.checkPassword = check; o.getPassword = get }
}

// AccessCheck installs the access rule consulted at resource binding and
// legacy session establishment.
func AccessCheck(f func(user, server, resource string) bool) Option {
	return func(o *options) { o.accessCheck = f }
}

// RosterSeed installs the hook that seeds a newly-established session's
// pres_f/pres_t sets.
func RosterSeed(f func(user, server string) (presF, presT []string)) Option {
	return func(o *options) { o.rosterSeed = f }
}

// PrivacyCheck installs the privacy-list hook consulted before an outbound
// message, iq, or presence stanza (directed or broadcast) is routed.
func PrivacyCheck(f func(user, server, resource string, to *jid.JID, el *xmlel.Element) bool) Option {
	return func(o *options) { o.privacyCheck = f }
}

// MaxUserSessions installs the per-(user,server) session cap used by the
// Session Manager's eviction policy.
func MaxUserSessions(f func(user, server string) int) Option {
	return func(o *options) { o.maxUserSessions = f }
}

// SendTimeout bounds how long a blocking Send on a client socket may take
// before the connection is force-closed.
func SendTimeout(d time.Duration) Option {
	return func(o *options) { o.sendTimeout = d }
}

// SendBufLimit caps the outbound buffer a slow client may accumulate before
// being force-closed.
func SendBufLimit(n int) Option {
	return func(o *options) { o.sendBufLimit = n }
}

var (
	// PreferClientCipherSuites prefers the cipher suite order indicated by
	// the client (not recommended; kept for parity with deployments that
	// need it for interoperability with old clients).
	PreferClientCipherSuites = preferClientCipherSuites
)

var preferClientCipherSuites = func(o *options) {
	if o.tlsConfig == nil {
		o.tlsConfig = &tls.Config{}
	}
	o.tlsConfig.PreferServerCipherSuites = true
}
