// Copyright 2016 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

package sasl

import (
	"strings"
	"testing"
)

func checkerFor(user, pass, module string) PasswordChecker {
	return func(u, s, p string) (string, bool) {
		if u == user && p == pass {
			return module, true
		}
		return "", false
	}
}

func TestPlainAuthenticates(t *testing.T) {
	p := Params{
		ServerFQDN: "example.com",
		CheckPass:  checkerFor("test", "secret", "none"),
	}
	res := Plain(p, []byte("\x00test\x00secret"))
	if res.Kind != Done {
		t.Fatalf("Plain: got Kind %v, want Done (code %v)", res.Kind, res.Code)
	}
	if res.Props[PropUsername] != "test" {
		t.Fatalf("Plain: got username %q, want test", res.Props[PropUsername])
	}
}

func TestPlainWrongPassword(t *testing.T) {
	p := Params{
		ServerFQDN: "example.com",
		CheckPass:  checkerFor("test", "secret", "none"),
	}
	res := Plain(p, []byte("\x00test\x00wrong"))
	if res.Kind != Error {
		t.Fatalf("Plain: got Kind %v, want Error", res.Kind)
	}
	if res.Code != ErrNotAuthorized {
		t.Fatalf("Plain: got code %v, want not-authorized", res.Code)
	}
	if res.User != "test" {
		t.Fatalf("Plain: got User %q, want test", res.User)
	}
}

func TestPlainMalformed(t *testing.T) {
	p := Params{ServerFQDN: "example.com", CheckPass: checkerFor("x", "y", "z")}
	res := Plain(p, []byte("no-nulls-here"))
	if res.Kind != Error || res.Code != ErrMalformedRequest {
		t.Fatalf("Plain malformed input: got %v/%v, want Error/bad-protocol-class", res.Kind, res.Code)
	}
}

func TestPlainEmptyInitialChallenges(t *testing.T) {
	p := Params{ServerFQDN: "example.com", CheckPass: checkerFor("test", "secret", "none")}
	res := Plain(p, nil)
	if res.Kind != Continue {
		t.Fatalf("Plain with nil initial: got Kind %v, want Continue", res.Kind)
	}
	done := res.Next([]byte("\x00test\x00secret"))
	if done.Kind != Done {
		t.Fatalf("Plain continuation: got Kind %v, want Done", done.Kind)
	}
}

func TestDigestMD5FullExchange(t *testing.T) {
	p := Params{
		ServerFQDN: "example.com",
		GetPass: func(user, server string) (string, string, bool) {
			if user == "test" {
				return "secret", "none", true
			}
			return "", "", false
		},
	}

	first := DigestMD5(p, nil)
	if first.Kind != Continue {
		t.Fatalf("DigestMD5 start: got Kind %v, want Continue", first.Kind)
	}
	kv, err := parseDigestKV(first.Challenge)
	if err != nil {
		t.Fatalf("parsing initial challenge: %v", err)
	}
	nonce := kv["nonce"]
	if nonce == "" {
		t.Fatal("initial challenge carries no nonce")
	}

	cnonce := "clientnonce"
	a1 := computeA1("test", "", "secret", nonce, cnonce, "")
	response := computeResponse(a1, nonce, "00000001", cnonce, "auth", "AUTHENTICATE:xmpp/example.com")

	clientResp := `username="test",realm="",nonce="` + nonce + `",cnonce="` + cnonce +
		`",nc=00000001,qop=auth,digest-uri="xmpp/example.com",response=` + response

	second := first.Next([]byte(clientResp))
	if second.Kind != Continue {
		t.Fatalf("DigestMD5 response step: got Kind %v, want Continue (code %v)", second.Kind, second.Code)
	}
	if !strings.HasPrefix(second.Challenge, "rspauth=") {
		t.Fatalf("DigestMD5 rspauth challenge: got %q", second.Challenge)
	}

	third := second.Next(nil)
	if third.Kind != Done {
		t.Fatalf("DigestMD5 final step: got Kind %v, want Done", third.Kind)
	}
	if third.Props[PropUsername] != "test" {
		t.Fatalf("DigestMD5 Done username: got %q, want test", third.Props[PropUsername])
	}
}

func TestDigestMD5WrongResponseFails(t *testing.T) {
	p := Params{
		ServerFQDN: "example.com",
		GetPass: func(user, server string) (string, string, bool) {
			return "secret", "none", true
		},
	}
	first := DigestMD5(p, nil)
	kv, _ := parseDigestKV(first.Challenge)
	nonce := kv["nonce"]

	clientResp := `username="test",realm="",nonce="` + nonce + `",cnonce="x",nc=00000001,qop=auth,` +
		`digest-uri="xmpp/example.com",response=deadbeef`
	second := first.Next([]byte(clientResp))
	if second.Kind != Error || second.Code != ErrNotAuthorized {
		t.Fatalf("wrong response: got %v/%v, want Error/not-authorized", second.Kind, second.Code)
	}
}

func TestParseDigestKVUnterminatedQuote(t *testing.T) {
	if _, err := parseDigestKV(`username="test`); err == nil {
		t.Fatal("unterminated quote: want error, got nil")
	}
}

func TestRegistryServerStartUnknownMechanism(t *testing.T) {
	r := DefaultRegistry()
	res := r.ServerStart("EXTERNAL", Params{}, nil)
	if res.Kind != Error || res.Code != ErrInvalidMechanism {
		t.Fatalf("unknown mechanism: got %v/%v, want Error/invalid-mechanism", res.Kind, res.Code)
	}
}

func TestDefaultRegistryMechanismOrder(t *testing.T) {
	r := DefaultRegistry()
	got := r.Mechanisms()
	want := []string{"PLAIN", "DIGEST-MD5"}
	if len(got) != len(want) {
		t.Fatalf("Mechanisms: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Mechanisms: got %v, want %v", got, want)
		}
	}
}
