// Copyright 2015 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

package server

import (
	"bufio"
	"crypto/tls"
	"encoding/xml"
	"net"
	"strings"
	"testing"
	"time"

	"quartzim.dev/xmppd/jid"
	"quartzim.dev/xmppd/sasl"
	"quartzim.dev/xmppd/xmlel"
)

func TestGetOptsDefaults(t *testing.T) {
	o := getOpts()
	if o.sendTimeout != 30*time.Second {
		t.Fatalf("default sendTimeout: got %v, want 30s", o.sendTimeout)
	}
	if o.sendBufLimit != 1<<20 {
		t.Fatalf("default sendBufLimit: got %v, want 1<<20", o.sendBufLimit)
	}
	if o.maxUserSessions("bob", "example.com") != 5 {
		t.Fatalf("default maxUserSessions: got %d, want 5", o.maxUserSessions("bob", "example.com"))
	}
	if !o.accessCheck("bob", "example.com", "phone") {
		t.Fatal("default accessCheck rejected a request, want always-allow")
	}
	if !o.privacyCheck("bob", "example.com", "phone", nil, nil) {
		t.Fatal("default privacyCheck rejected a request, want always-allow")
	}
	f, tSet := o.rosterSeed("bob", "example.com")
	if len(f) != 1 || f[0] != "bob@example.com" || len(tSet) != 1 || tSet[0] != "bob@example.com" {
		t.Fatalf("default rosterSeed: got f=%v t=%v, want self JID in both", f, tSet)
	}
	if _, ok := o.checkPassword("bob", "example.com", "secret"); ok {
		t.Fatal("default checkPassword accepted a password, want always-reject")
	}
}

func TestOptionsApplyOverrides(t *testing.T) {
	checker := func(u, s, p string) (string, bool) { return "mod", true }
	getter := func(u, s string) (string, string, bool) { return "pass", "mod", true }

	o := getOpts(
		ClientAddr(":5223"),
		Host("example.com"),
		Host("example.net"),
		AuthBackend(checker, getter),
		AccessCheck(func(string, string, string) bool { return false }),
		MaxUserSessions(func(string, string) int { return 2 }),
		SendTimeout(5*time.Second),
		SendBufLimit(1024),
		TLSConfig(&tls.Config{ServerName: "example.com"}),
	)

	if o.clientAddr != ":5223" {
		t.Fatalf("clientAddr: got %q, want :5223", o.clientAddr)
	}
	if len(o.hosts) != 2 || o.hosts[0] != "example.com" || o.hosts[1] != "example.net" {
		t.Fatalf("hosts: got %v, want [example.com example.net]", o.hosts)
	}
	if _, ok := o.checkPassword("x", "y", "z"); !ok {
		t.Fatal("AuthBackend checker was not installed")
	}
	if o.accessCheck("x", "y", "z") {
		t.Fatal("AccessCheck override was not installed")
	}
	if o.maxUserSessions("x", "y") != 2 {
		t.Fatal("MaxUserSessions override was not installed")
	}
	if o.sendTimeout != 5*time.Second {
		t.Fatal("SendTimeout override was not installed")
	}
	if o.sendBufLimit != 1024 {
		t.Fatal("SendBufLimit override was not installed")
	}
	if o.tlsConfig == nil || o.tlsConfig.ServerName != "example.com" {
		t.Fatal("TLSConfig override was not installed")
	}
}

func TestPreferClientCipherSuitesSetsFlag(t *testing.T) {
	o := getOpts(PreferClientCipherSuites)
	if o.tlsConfig == nil || !o.tlsConfig.PreferServerCipherSuites {
		t.Fatal("PreferClientCipherSuites did not set PreferServerCipherSuites")
	}
}

func TestNewRegistersEveryHostWithTheRouter(t *testing.T) {
	srv := New(Host("example.com"), Host("example.net"))

	var called []string
	srv.Router.S2S = func(from, to *jid.JID, el *xmlel.Element) {
		called = append(called, to.CanonicalDomain())
	}

	for _, host := range []string{"example.com", "example.net"} {
		to, err := jid.New("user", host, "")
		if err != nil {
			t.Fatalf("jid.New: %v", err)
		}
		el := xmlel.New(xml.Name{Local: "message"})
		srv.Router.Route(to, to, el)
	}

	if len(called) != 0 {
		t.Fatalf("S2S stub was invoked for served hosts %v, want the localhandler route used instead", called)
	}
}

func TestC2SConfigReflectsOptions(t *testing.T) {
	srv := New(Host("example.com"), Host("example.net"))
	cfg := srv.c2sConfig()

	if cfg.Domain != "example.com" {
		t.Fatalf("c2sConfig domain: got %q, want example.com", cfg.Domain)
	}
	if !cfg.Hosts["example.com"] || !cfg.Hosts["example.net"] {
		t.Fatalf("c2sConfig hosts: got %v, want both served hosts set", cfg.Hosts)
	}
	if cfg.Router != srv.Router || cfg.SM != srv.SM || cfg.SASL != srv.SASL {
		t.Fatal("c2sConfig did not wire the server's own Router/SM/SASL collaborators")
	}
}

func TestServeC2SRespondsToStreamOpen(t *testing.T) {
	srv := New(Host("example.com"))
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	go func() { _ = srv.ServeC2S(l) }()
	defer l.Close()

	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("net.Dial: %v", err)
	}
	defer conn.Close()

	_, err = conn.Write([]byte("<?xml version='1.0'?><stream:stream xmlns:stream='http://etherx.jabber.org/streams' to='example.com' version='1.0'>"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	r := bufio.NewReader(conn)
	buf := make([]byte, 4096)
	var collected strings.Builder
	for !strings.Contains(collected.String(), "mechanisms") {
		n, rerr := r.Read(buf)
		if rerr != nil {
			t.Fatalf("Read: %v (got so far: %q)", rerr, collected.String())
		}
		collected.Write(buf[:n])
	}

	if !strings.Contains(collected.String(), "stream:stream") {
		t.Fatalf("response does not contain a stream header: %q", collected.String())
	}
	if !strings.Contains(collected.String(), sasl.DefaultRegistry().Mechanisms()[0]) {
		t.Fatalf("response does not advertise a SASL mechanism: %q", collected.String())
	}
}
