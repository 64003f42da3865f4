// Copyright 2016 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

package sasl

import (
	"crypto/md5"
	"encoding/hex"
	"strings"

	"golang.org/x/text/secure/precis"

	"quartzim.dev/xmppd/internal/attr"
)

// DigestMD5 implements the RFC 2831 subset of DIGEST-MD5 this server
// supports: a three-round exchange (challenge, response+rspauth challenge,
// empty acknowledgement) using qop="auth" and algorithm="md5-sess".
func DigestMD5(p Params, initial []byte) Result {
	nonce := attr.RandomDecimal()
	challenge := "nonce=\"" + nonce + "\",qop=\"auth\",charset=utf-8,algorithm=md5-sess"
	return contResult(challenge, stepThree(p, nonce))
}

func stepThree(p Params, nonce string) StepFunc {
	return func(resp []byte) Result {
		kv, err := parseDigestKV(string(resp))
		if err != nil {
			return errResult(ErrMalformedRequest)
		}

		username := kv["username"]
		if username == "" {
			return errResult(ErrMalformedRequest)
		}
		nodeUser, perr := precis.UsernameCaseMapped.String(username)
		if perr != nil || nodeUser == "" {
			return errUserResult(ErrNotAuthorized, username)
		}

		if kv["nonce"] != nonce {
			return errResult(ErrMalformedRequest)
		}
		digestURI := kv["digest-uri"]
		if !validDigestURI(digestURI, p.ServerFQDN) {
			return errUserResult(ErrNotAuthorized, nodeUser)
		}

		pass, module, ok := p.GetPass(nodeUser, p.ServerFQDN)
		if !ok {
			return errUserResult(ErrNotAuthorized, nodeUser)
		}

		realm := kv["realm"]
		cnonce := kv["cnonce"]
		nc := kv["nc"]
		qop := kv["qop"]
		if qop == "" {
			qop = "auth"
		}
		authzid := kv["authzid"]

		a1 := computeA1(nodeUser, realm, pass, nonce, cnonce, authzid)
		expected := computeResponse(a1, nonce, nc, cnonce, qop, "AUTHENTICATE:"+digestURI)
		if kv["response"] != expected {
			return errUserResult(ErrNotAuthorized, nodeUser)
		}

		rspauth := computeResponse(a1, nonce, nc, cnonce, qop, ":"+digestURI)
		return contResult("rspauth="+rspauth, stepFive(nodeUser, authzid, module))
	}
}

func stepFive(user, authzid, module string) StepFunc {
	return func(resp []byte) Result {
		if len(resp) != 0 {
			return errResult(ErrBadProtocol)
		}
		return doneResult(Props{
			PropUsername:   user,
			PropAuthzID:    authzid,
			PropAuthModule: module,
		})
	}
}

// validDigestURI checks the digest-uri against "xmpp/host" or
// "xmpp/host/servname" where servname matches the server's own FQDN.
func validDigestURI(uri, fqdn string) bool {
	parts := strings.SplitN(uri, "/", 3)
	if len(parts) < 2 || parts[0] != "xmpp" {
		return false
	}
	if parts[1] != fqdn {
		return false
	}
	if len(parts) == 3 && parts[2] != fqdn {
		return false
	}
	return true
}

func md5sum(parts ...string) []byte {
	h := md5.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return h.Sum(nil)
}

func hexMD5(parts ...string) string {
	return hex.EncodeToString(md5sum(parts...))
}

// computeA1 implements A1 = MD5(user:realm:pass) ":" nonce ":" cnonce
// [":" authzid], returning its raw (non-hex) MD5 digest as a string since A1
// itself is never hex-encoded -- only HEX(MD5(A1)) is used downstream.
func computeA1(user, realm, pass, nonce, cnonce, authzid string) string {
	inner := string(md5sum(user + ":" + realm + ":" + pass))
	a1 := inner + ":" + nonce + ":" + cnonce
	if authzid != "" {
		a1 += ":" + authzid
	}
	return a1
}

// computeResponse implements
// HEX(MD5( HEX(MD5(A1)) ":" nonce ":" nc ":" cnonce ":" qop ":" HEX(MD5(A2)) ))
// a2 is the A2 string before the qop-dependent suffix, e.g.
// "AUTHENTICATE:<digest-uri>" for the client's response or
// ":<digest-uri>" for the server's rspauth; per RFC 2831 §2.1.2.1 the
// 32-zero suffix belongs on A2 itself (not on KD) when qop is anything
// other than "auth" -- unreachable here since this server only ever
// advertises qop="auth", but kept faithful to the formula.
func computeResponse(a1, nonce, nc, cnonce, qop, a2 string) string {
	ha1 := hex.EncodeToString([]byte(a1Hashed(a1)))
	if qop != "" && qop != "auth" {
		a2 += ":00000000000000000000000000000000"
	}
	ha2 := hexMD5(a2)
	kd := ha1 + ":" + nonce + ":" + nc + ":" + cnonce + ":" + qop + ":" + ha2
	return hexMD5(kd)
}

// a1Hashed returns MD5(A1) given the already-concatenated A1 string (which
// itself embeds MD5(user:realm:pass) in raw form per RFC 2831).
func a1Hashed(a1 string) string {
	return string(md5sum(a1))
}

// parseDigestKV parses an RFC 2831 §7.1 quoted-string attribute-value pair
// list: comma-separated key=value or key="value" pairs where a quoted value
// may contain escaped characters ("\x" -> "x"). An unterminated quote is
// malformed.
func parseDigestKV(s string) (map[string]string, error) {
	out := make(map[string]string)
	i := 0
	n := len(s)
	for i < n {
		for i < n && (s[i] == ',' || s[i] == ' ') {
			i++
		}
		if i >= n {
			break
		}
		keyStart := i
		for i < n && s[i] != '=' {
			i++
		}
		if i >= n {
			return nil, errMalformedKV
		}
		key := s[keyStart:i]
		i++ // skip '='

		var val strings.Builder
		if i < n && s[i] == '"' {
			i++
			closed := false
			for i < n {
				c := s[i]
				if c == '\\' && i+1 < n {
					val.WriteByte(s[i+1])
					i += 2
					continue
				}
				if c == '"' {
					closed = true
					i++
					break
				}
				val.WriteByte(c)
				i++
			}
			if !closed {
				return nil, errMalformedKV
			}
		} else {
			for i < n && s[i] != ',' {
				val.WriteByte(s[i])
				i++
			}
		}
		out[key] = val.String()
	}
	return out, nil
}

var errMalformedKV = malformedKVError{}

type malformedKVError struct{}

func (malformedKVError) Error() string { return "sasl: malformed DIGEST-MD5 attribute-value list" }
