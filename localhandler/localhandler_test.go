// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package localhandler

import (
	"context"
	"encoding/xml"
	"testing"
	"time"

	"quartzim.dev/xmppd/jid"
	"quartzim.dev/xmppd/runtime"
	"quartzim.dev/xmppd/sm"
	"quartzim.dev/xmppd/xmlel"
)

func spawnOwner(t *testing.T) runtime.PID {
	t.Helper()
	return runtime.Spawn(context.Background(), "localhandler-owner", func(_ context.Context, self runtime.PID) {
		<-self.Done()
	})
}

func recvRoutedPacket(t *testing.T, owner runtime.PID) sm.RoutedPacket {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := runtime.Receive(ctx, owner)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	pkt, ok := msg.(sm.RoutedPacket)
	if !ok {
		t.Fatalf("got %T, want sm.RoutedPacket", msg)
	}
	return pkt
}

func mustJID(t *testing.T, s string) *jid.JID {
	t.Helper()
	j, err := jid.Parse(s)
	if err != nil {
		t.Fatalf("jid.Parse(%q): %v", s, err)
	}
	return j
}

func TestRouteForwardsLocalpartTrafficToSM(t *testing.T) {
	s := sm.New()
	owner := spawnOwner(t)
	s.OpenSession(sm.NewID(owner), "juliet", "example.com", "balcony", 0, nil)

	r := New(s)
	from := mustJID(t, "romeo@example.com")
	to := mustJID(t, "juliet@example.com/balcony")
	el := &xmlel.Element{Name: xml.Name{Local: "message"}}
	r.Route(from, to, el)

	pkt := recvRoutedPacket(t, owner)
	if pkt.El != el {
		t.Fatal("localpart-addressed traffic was not forwarded to the session manager unchanged")
	}
}

func TestRouteDispatchesBareHostIQToRegisteredHandler(t *testing.T) {
	s := sm.New()
	r := New(s)

	var gotFrom *jid.JID
	r.RegisterHandler("urn:xmpp:ping", func(from, to *jid.JID, el *xmlel.Element) *xmlel.Element {
		gotFrom = from
		return xmlel.MakeResultIQReply(el)
	})

	owner := spawnOwner(t)
	s.OpenSession(sm.NewID(owner), "romeo", "example.com", "orchard", 0, nil)

	from := mustJID(t, "romeo@example.com/orchard")
	to := mustJID(t, "example.com")
	el := xmlel.New(xml.Name{Local: "iq"})
	el.SetAttribute("type", "get")
	el.SetAttribute("from", from.String())
	el.SetAttribute("to", to.String())
	el.SetAttribute("id", "ping1")
	payload := xmlel.New(xml.Name{Local: "ping"})
	payload.SetAttribute("xmlns", "urn:xmpp:ping")
	el.Child = append(el.Child, payload)

	r.Route(from, to, el)

	if gotFrom == nil || gotFrom.String() != from.String() {
		t.Fatalf("handler invoked with from %v, want %v", gotFrom, from)
	}
	pkt := recvRoutedPacket(t, owner)
	if pkt.El.Attribute("type") != "result" {
		t.Fatalf("got reply type %q, want result", pkt.El.Attribute("type"))
	}
}

func TestRouteBouncesUnregisteredBareHostIQ(t *testing.T) {
	s := sm.New()
	r := New(s)

	owner := spawnOwner(t)
	s.OpenSession(sm.NewID(owner), "romeo", "example.com", "orchard", 0, nil)

	from := mustJID(t, "romeo@example.com/orchard")
	to := mustJID(t, "example.com")
	el := xmlel.New(xml.Name{Local: "iq"})
	el.SetAttribute("type", "get")
	el.SetAttribute("from", from.String())
	el.SetAttribute("to", to.String())
	el.SetAttribute("id", "disco1")
	payload := xmlel.New(xml.Name{Local: "query"})
	payload.SetAttribute("xmlns", "http://jabber.org/protocol/disco#items")
	el.Child = append(el.Child, payload)

	r.Route(from, to, el)

	pkt := recvRoutedPacket(t, owner)
	if pkt.El.Attribute("type") != "error" {
		t.Fatalf("unregistered bare-host iq: got reply type %q, want error", pkt.El.Attribute("type"))
	}
}

func TestRouteDropsNonIQBareHostTraffic(t *testing.T) {
	s := sm.New()
	r := New(s)
	owner := spawnOwner(t)
	s.OpenSession(sm.NewID(owner), "romeo", "example.com", "orchard", 0, nil)

	from := mustJID(t, "romeo@example.com/orchard")
	to := mustJID(t, "example.com")
	el := xmlel.New(xml.Name{Local: "message"})
	r.Route(from, to, el)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := runtime.Receive(ctx, owner); err == nil {
		t.Fatal("non-iq bare-host traffic unexpectedly produced a routed packet")
	}
}

func TestRouteDropsBareHostReplyIQ(t *testing.T) {
	s := sm.New()
	r := New(s)
	owner := spawnOwner(t)
	s.OpenSession(sm.NewID(owner), "romeo", "example.com", "orchard", 0, nil)

	sender := mustJID(t, "romeo@example.com/orchard")
	host := mustJID(t, "example.com")
	el := xmlel.New(xml.Name{Local: "iq"})
	el.SetAttribute("type", "result")
	r.Route(sender, host, el)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := runtime.Receive(ctx, owner); err == nil {
		t.Fatal("a reply iq addressed to the bare host unexpectedly produced a routed packet")
	}
}
