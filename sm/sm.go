// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package sm

import (
	"sync"

	"quartzim.dev/xmppd/jid"
	"quartzim.dev/xmppd/router"
	"quartzim.dev/xmppd/runtime"
	"quartzim.dev/xmppd/stanzaerror"
	"quartzim.dev/xmppd/xmlel"
)

// RoutedPacket is what a session's owning process receives when the Session
// Manager delivers a stanza to it.
type RoutedPacket struct {
	From *jid.JID
	To   *jid.JID
	El   *xmlel.Element
}

// IQHandler answers an iq addressed to a bare JID with no specific resource
// selected by priority routing (e.g. every resource is negative priority, or
// there simply is none, and the payload xmlns is something the SM itself
// understands rather than a specific resource). Registration is out of this
// server's scope per §4.7; SM ships with an empty table so every such iq
// bounces service-unavailable, matching the spec's stated default.
type IQHandler func(from, to *jid.JID, el *xmlel.Element) *xmlel.Element

// SM is the Session Manager described in §4.7. The zero value is not ready
// for use; construct one with New.
type SM struct {
	mu       sync.RWMutex
	sessions map[ID]*Record
	usr      map[string]map[string]map[string][]ID // server -> user -> resource -> ids

	// MaxUserSessions returns the session cap for (user, server); the spec
	// leaves the policy unspecified beyond "a configured maximum", so the
	// default below is generous but finite.
	MaxUserSessions func(user, server string) int
	// UserExists reports whether user has any account on server, consulted
	// only to decide between the offline-message hook and a
	// service-unavailable bounce for a message with no live session.
	UserExists func(user, server string) bool
	// OfflineMessage hands a message to the offline-storage collaborator.
	// It returns false if no such collaborator is configured, in which case
	// the caller bounces service-unavailable.
	OfflineMessage func(from, to *jid.JID, el *xmlel.Element) bool

	iqHandlers map[string]IQHandler
}

// New constructs an empty Session Manager.
func New() *SM {
	return &SM{
		sessions:        make(map[ID]*Record),
		usr:             make(map[string]map[string]map[string][]ID),
		MaxUserSessions: func(string, string) int { return 5 },
		UserExists:      func(string, string) bool { return false },
		OfflineMessage:  func(*jid.JID, *jid.JID, *xmlel.Element) bool { return false },
		iqHandlers:      make(map[string]IQHandler),
	}
}

// RegisterIQHandler installs the handler invoked for bare-JID iq requests
// whose payload xmlns is xmlns.
func (s *SM) RegisterIQHandler(xmlns string, h IQHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iqHandlers[xmlns] = h
}

func (s *SM) findByUSR(server, user, resource string) []ID {
	byUser, ok := s.usr[server]
	if !ok {
		return nil
	}
	byRes, ok := byUser[user]
	if !ok {
		return nil
	}
	return byRes[resource]
}

func (s *SM) findByUS(server, user string) []ID {
	byUser, ok := s.usr[server]
	if !ok {
		return nil
	}
	byRes, ok := byUser[user]
	if !ok {
		return nil
	}
	var all []ID
	for _, ids := range byRes {
		all = append(all, ids...)
	}
	return all
}

func (s *SM) indexInsert(server, user, resource string, id ID) {
	byUser, ok := s.usr[server]
	if !ok {
		byUser = make(map[string]map[string][]ID)
		s.usr[server] = byUser
	}
	byRes, ok := byUser[user]
	if !ok {
		byRes = make(map[string][]ID)
		byUser[user] = byRes
	}
	byRes[resource] = append(byRes[resource], id)
}

func (s *SM) indexRemove(server, user, resource string, id ID) {
	byUser, ok := s.usr[server]
	if !ok {
		return
	}
	byRes, ok := byUser[user]
	if !ok {
		return
	}
	ids := byRes[resource]
	for i, existing := range ids {
		if existing == id {
			byRes[resource] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(byRes[resource]) == 0 {
		delete(byRes, resource)
	}
	if len(byRes) == 0 {
		delete(byUser, user)
	}
	if len(byUser) == 0 {
		delete(s.usr, server)
	}
}

// maxID returns the element of ids with the largest session id.
func (s *SM) maxID(ids []ID) ID {
	max := ids[0]
	for _, id := range ids[1:] {
		if max.Less(id) {
			max = id
		}
	}
	return max
}

// OpenSession implements open_session: it evicts any existing session for
// the same (user, server, resource), installs the new record, and then
// evicts the oldest session if the user now exceeds their session cap.
func (s *SM) OpenSession(id ID, user, server, resource string, priority int, info interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.findByUSR(server, user, resource) {
		if existing != id {
			s.evictLocked(existing, "replaced")
		}
	}

	s.sessions[id] = &Record{ID: id, User: user, Server: server, Resource: resource, Priority: priority, Info: info}
	s.indexInsert(server, user, resource, id)

	max := s.MaxUserSessions(user, server)
	for {
		ids := s.findByUS(server, user)
		if max <= 0 || len(ids) <= max {
			return
		}
		min := ids[0]
		for _, cand := range ids[1:] {
			if cand.Less(min) {
				min = cand
			}
		}
		s.evictLocked(min, "max-sessions-exceeded")
	}
}

func (s *SM) evictLocked(id ID, reason string) {
	rec, ok := s.sessions[id]
	if !ok {
		return
	}
	delete(s.sessions, id)
	s.indexRemove(rec.Server, rec.User, rec.Resource, id)
	_ = runtime.Send(id.Owner, Replaced{Reason: reason})
}

// CloseSession implements close_session: removing an id that is not present
// is tolerated.
func (s *SM) CloseSession(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return
	}
	delete(s.sessions, id)
	s.indexRemove(rec.Server, rec.User, rec.Resource, id)
}

// UpdatePriority updates the presence priority recorded for id, used after a
// client sends a new <presence/> with a <priority/> child.
func (s *SM) UpdatePriority(id ID, priority int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.sessions[id]; ok {
		rec.Priority = priority
	}
}

// Sessions returns the live records for (user, server), for callers (such
// as the C2S presence broadcast logic) that need to enumerate resources
// directly rather than route through Route.
func (s *SM) Sessions(user, server string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, id := range s.findByUS(server, user) {
		if rec, ok := s.sessions[id]; ok {
			out = append(out, *rec)
		}
	}
	return out
}

// Route is the stanza entry point for local-user targets described in
// §4.7. The local handler registered with the Router for each served host
// forwards every stanza with a localpart here.
func (s *SM) Route(from, to *jid.JID, el *xmlel.Element) {
	lu, ls, lr := to.CanonicalLocal(), to.CanonicalDomain(), to.CanonicalResource()

	if lr == "" {
		s.routeBare(from, to, lu, ls, el)
		return
	}

	s.mu.RLock()
	ids := s.findByUSR(ls, lu, lr)
	s.mu.RUnlock()
	if len(ids) == 0 {
		s.missPolicy(from, to, el)
		return
	}
	s.mu.RLock()
	target := s.maxID(ids)
	s.mu.RUnlock()
	_ = runtime.Send(target.Owner, RoutedPacket{From: from, To: to, El: el})
}

func (s *SM) routeBare(from, to *jid.JID, lu, ls string, el *xmlel.Element) {
	switch el.Name.Local {
	case "presence":
		s.broadcastToAvailable(to, lu, ls, el)
	case "message":
		s.routeMessageBare(from, to, lu, ls, el)
	case "iq":
		s.routeIQBare(from, to, lu, ls, el)
	case "broadcast":
		for _, rec := range s.Sessions(lu, ls) {
			_ = runtime.Send(rec.ID.Owner, RoutedPacket{From: from, To: to, El: el})
		}
	}
}

func (s *SM) broadcastToAvailable(to *jid.JID, lu, ls string, el *xmlel.Element) {
	for _, rec := range s.Sessions(lu, ls) {
		_ = runtime.Send(rec.ID.Owner, RoutedPacket{From: to, To: to, El: el})
	}
}

func (s *SM) routeMessageBare(from, to *jid.JID, lu, ls string, el *xmlel.Element) {
	recs := s.Sessions(lu, ls)
	max := -1
	for _, rec := range recs {
		if rec.Priority > max {
			max = rec.Priority
		}
	}
	if max >= 0 {
		for _, rec := range recs {
			if rec.Priority == max {
				_ = runtime.Send(rec.ID.Owner, RoutedPacket{From: from, To: to, El: el})
			}
		}
		return
	}
	s.missPolicy(from, to, el)
}

func (s *SM) routeIQBare(from, to *jid.JID, lu, ls string, el *xmlel.Element) {
	switch xmlel.ClassifyIQ(el) {
	case xmlel.ReplyIQ:
		return // replies with no matching session are silently dropped.
	case xmlel.RequestIQ:
		xmlns := el.PayloadXMLNS()
		s.mu.RLock()
		h, ok := s.iqHandlers[xmlns]
		s.mu.RUnlock()
		if !ok {
			s.bounce(from, to, el, stanzaerror.ServiceUnavailable)
			return
		}
		if reply := h(from, to, el); reply != nil {
			s.Route(to, from, reply)
		}
	default:
		s.bounce(from, to, el, stanzaerror.ServiceUnavailable)
	}
}

// missPolicy implements the message-delivery fallback used both when a
// bare-JID user has no session with non-negative priority and when a
// full-JID target resolves to no session at all.
func (s *SM) missPolicy(from, to *jid.JID, el *xmlel.Element) {
	switch el.Name.Local {
	case "message":
		switch el.Attribute("type") {
		case "error":
			return
		case "groupchat", "headline":
			s.bounce(from, to, el, stanzaerror.ServiceUnavailable)
			return
		default:
			if s.UserExists(to.CanonicalLocal(), to.CanonicalDomain()) && s.OfflineMessage(from, to, el) {
				return
			}
			s.bounce(from, to, el, stanzaerror.ServiceUnavailable)
		}
	case "iq":
		if xmlel.ClassifyIQ(el) == xmlel.RequestIQ {
			s.bounce(from, to, el, stanzaerror.ServiceUnavailable)
		}
		// replies are dropped silently.
	}
	// presence stanzas with no session simply have nowhere to go.
}

func (s *SM) bounce(from, to *jid.JID, el *xmlel.Element, cond stanzaerror.Condition) {
	reply := xmlel.MakeErrorReply(el, stanzaerror.New(cond, ""))
	s.Route(to, from, reply)
}

// AsShortcut adapts s.Route to the router.Shortcut type, for registering
// the Session Manager as the route for a served host.
func (s *SM) AsShortcut() router.Shortcut {
	return s.Route
}
