// Copyright 2016 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

package sasl

import (
	"bytes"

	"golang.org/x/text/secure/precis"
)

// Plain implements the PLAIN mechanism (RFC 4616): the client sends
// "authzid\0user\0pass" (authzid may be empty, and the legacy
// "\0user[@domain]\0pass" form is also accepted) in its initial response, and
// the server either authenticates immediately or fails. If the initial
// response is absent, the server sends one empty challenge and reads the
// credentials from the client's response instead.
func Plain(p Params, initial []byte) Result {
	if initial == nil {
		// Some clients send an empty initial response and wait to be
		// challenged; challenge with an empty string and expect the
		// credentials in the response.
		return contResult("", func(resp []byte) Result {
			return plainAuthenticate(p, resp)
		})
	}
	return plainAuthenticate(p, initial)
}

func plainAuthenticate(p Params, msg []byte) Result {
	parts := bytes.SplitN(msg, []byte{0}, 3)
	if len(parts) != 3 {
		return errResult(ErrMalformedRequest)
	}
	authzid := string(parts[0])
	user := string(parts[1])
	pass := string(parts[2])
	if user == "" {
		return errResult(ErrMalformedRequest)
	}

	// The legacy "\0user@domain\0pass" form folds a domain into the
	// authentication identity; strip it since this server only does C2S
	// authentication against its own served hosts.
	if at := bytes.IndexByte([]byte(user), '@'); at >= 0 {
		user = user[:at]
	}

	nodeUser, err := precis.UsernameCaseMapped.String(user)
	if err != nil || nodeUser == "" {
		return errUserResult(ErrNotAuthorized, user)
	}

	module, ok := p.CheckPass(nodeUser, p.ServerFQDN, pass)
	if !ok {
		return errUserResult(ErrNotAuthorized, nodeUser)
	}

	return doneResult(Props{
		PropUsername:   nodeUser,
		PropAuthzID:    authzid,
		PropAuthModule: module,
	})
}
