// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmlel

import (
	"encoding/xml"
	"strings"
	"testing"
)

func TestStringEscapesAttributesAndText(t *testing.T) {
	el := New(xml.Name{Local: "message"}, Attr{Name: xml.Name{Local: "to"}, Value: "a&b's<c>"})
	el.Child = append(el.Child, CharData("<&>"))

	got := el.String()
	if !strings.Contains(got, `to='a&amp;b&apos;s&lt;c&gt;'`) {
		t.Fatalf("attribute escaping: got %q", got)
	}
	if !strings.Contains(got, "&lt;&amp;&gt;") {
		t.Fatalf("text escaping: got %q", got)
	}
}

func TestStringEmitsNamespaceWhenSpaceSetWithoutExplicitAttr(t *testing.T) {
	el := New(xml.Name{Space: "urn:ietf:params:xml:ns:xmpp-bind", Local: "bind"})
	got := el.String()
	if !strings.Contains(got, "xmlns='urn:ietf:params:xml:ns:xmpp-bind'") {
		t.Fatalf("expected an injected xmlns attribute, got %q", got)
	}
}

func TestStringDoesNotDuplicateExplicitXMLNSAttr(t *testing.T) {
	el := New(xml.Name{Space: "urn:ietf:params:xml:ns:xmpp-sasl", Local: "success"})
	el.SetAttribute("xmlns", "urn:ietf:params:xml:ns:xmpp-sasl")
	got := el.String()
	if strings.Count(got, "xmlns=") != 1 {
		t.Fatalf("expected exactly one xmlns attribute, got %q", got)
	}
}

func TestAttributeLookupIgnoresNamespace(t *testing.T) {
	el := New(xml.Name{Local: "iq"})
	el.SetAttribute("type", "get")
	if el.Attribute("type") != "get" {
		t.Fatalf("Attribute: got %q, want get", el.Attribute("type"))
	}
	if el.Attribute("missing") != "" {
		t.Fatalf("Attribute for a missing name: got %q, want empty", el.Attribute("missing"))
	}
}

func TestSetAttributeOverwritesExisting(t *testing.T) {
	el := New(xml.Name{Local: "iq"})
	el.SetAttribute("type", "get")
	el.SetAttribute("type", "set")
	if el.Attribute("type") != "set" {
		t.Fatalf("SetAttribute did not overwrite: got %q, want set", el.Attribute("type"))
	}
	if n := len(el.Attr); n != 1 {
		t.Fatalf("SetAttribute duplicated the attribute: got %d attrs, want 1", n)
	}
}

func TestRemoveAttributeDeletesAllMatches(t *testing.T) {
	el := New(xml.Name{Local: "iq"}, Attr{Name: xml.Name{Local: "id"}, Value: "1"})
	el.RemoveAttribute("id")
	if el.Attribute("id") != "" {
		t.Fatal("RemoveAttribute did not remove the attribute")
	}
}

func TestChildrenFiltersOutCharData(t *testing.T) {
	el := New(xml.Name{Local: "message"})
	el.Child = append(el.Child, CharData("  "), New(xml.Name{Local: "body"}))
	kids := el.Children()
	if len(kids) != 1 || kids[0].Name.Local != "body" {
		t.Fatalf("Children: got %v, want only the body element", kids)
	}
}

func TestChildElementRequiresExactlyOneChild(t *testing.T) {
	el := New(xml.Name{Local: "iq"})
	if el.ChildElement() != nil {
		t.Fatal("ChildElement on a childless element: want nil")
	}
	el.Child = append(el.Child, New(xml.Name{Local: "a"}), New(xml.Name{Local: "b"}))
	if el.ChildElement() != nil {
		t.Fatal("ChildElement with two children: want nil")
	}
}

func TestDecodeElementRoundTripsAttributesAndChildren(t *testing.T) {
	d := xml.NewDecoder(strings.NewReader(`<iq type='get' id='x1'><query xmlns='jabber:iq:roster'/></iq>`))
	el, err := DecodeElement(d)
	if err != nil {
		t.Fatalf("DecodeElement: %v", err)
	}
	if el.Name.Local != "iq" || el.Attribute("type") != "get" || el.Attribute("id") != "x1" {
		t.Fatalf("decoded element: got %+v", el)
	}
	query := el.ChildElement()
	if query == nil || query.Name.Local != "query" || query.Attribute("xmlns") != "jabber:iq:roster" {
		t.Fatalf("decoded query child: got %+v", query)
	}
}

func TestClassifyIQRequestRequiresPayloadWithXMLNS(t *testing.T) {
	bare := New(xml.Name{Local: "iq"}, Attr{Name: xml.Name{Local: "type"}, Value: "get"})
	if ClassifyIQ(bare) != InvalidIQ {
		t.Fatalf("get iq with no payload: got %v, want InvalidIQ", ClassifyIQ(bare))
	}

	bare.Child = append(bare.Child, New(xml.Name{Local: "query"}))
	if ClassifyIQ(bare) != InvalidIQ {
		t.Fatalf("get iq with a payload missing xmlns: got %v, want InvalidIQ", ClassifyIQ(bare))
	}

	payload := bare.ChildElement()
	payload.SetAttribute("xmlns", "jabber:iq:roster")
	if ClassifyIQ(bare) != RequestIQ {
		t.Fatalf("well-formed get iq: got %v, want RequestIQ", ClassifyIQ(bare))
	}
}

func TestClassifyIQResultAndErrorAreReplies(t *testing.T) {
	for _, typ := range []string{"result", "error"} {
		el := New(xml.Name{Local: "iq"})
		el.SetAttribute("type", typ)
		if ClassifyIQ(el) != ReplyIQ {
			t.Errorf("iq type=%s: got %v, want ReplyIQ", typ, ClassifyIQ(el))
		}
	}
}

func TestMakeResultIQReplySwapsFromToAndDropsPayload(t *testing.T) {
	req := New(xml.Name{Local: "iq"})
	req.SetAttribute("type", "get")
	req.SetAttribute("id", "r1")
	req.SetAttribute("from", "juliet@example.com/balcony")
	req.SetAttribute("to", "example.com")
	req.Child = append(req.Child, New(xml.Name{Local: "query"}))

	reply := MakeResultIQReply(req)
	if reply.Attribute("type") != "result" || reply.Attribute("id") != "r1" {
		t.Fatalf("reply headers: got %+v", reply)
	}
	if reply.Attribute("from") != "example.com" || reply.Attribute("to") != "juliet@example.com/balcony" {
		t.Fatalf("reply addressing not swapped: got %+v", reply)
	}
	if len(reply.Children()) != 0 {
		t.Fatalf("result reply retained the request payload: got %+v", reply.Children())
	}
}

func TestMakeErrorReplyPreservesPayloadAndAppendsError(t *testing.T) {
	req := New(xml.Name{Local: "iq"})
	req.SetAttribute("type", "set")
	req.SetAttribute("from", "juliet@example.com/balcony")
	req.SetAttribute("to", "example.com")
	payload := New(xml.Name{Local: "query"})
	req.Child = append(req.Child, payload)

	errEl := New(xml.Name{Local: "service-unavailable"})
	reply := MakeErrorReply(req, errEl)

	if reply.Attribute("type") != "error" {
		t.Fatalf("reply type: got %q, want error", reply.Attribute("type"))
	}
	if len(reply.Children()) != 2 || reply.Children()[0] != payload || reply.Children()[1] != errEl {
		t.Fatalf("reply children: got %v, want [payload, errEl]", reply.Children())
	}
}

func TestIsStanzaRecognizesOnlyTheThreeTopLevelKinds(t *testing.T) {
	for _, name := range []string{"message", "presence", "iq"} {
		if !New(xml.Name{Local: name}).IsStanza() {
			t.Errorf("%s: want IsStanza true", name)
		}
	}
	if New(xml.Name{Local: "features"}).IsStanza() {
		t.Fatal("features: want IsStanza false")
	}
	if CharData("text").IsStanza() {
		t.Fatal("character data: want IsStanza false")
	}
}
