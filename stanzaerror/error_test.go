// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanzaerror

import "testing"

func TestNewUsesConditionDefaultTypeAndCode(t *testing.T) {
	el := New(ServiceUnavailable, "")
	if el.Name.Local != "error" {
		t.Fatalf("got element name %q, want error", el.Name.Local)
	}
	if el.Attribute("type") != string(Cancel) {
		t.Fatalf("type: got %q, want cancel", el.Attribute("type"))
	}
	if el.Attribute("code") != "503" {
		t.Fatalf("code: got %q, want 503", el.Attribute("code"))
	}
	cond := el.ChildElement()
	if cond == nil || cond.Name.Local != "service-unavailable" {
		t.Fatalf("condition child: got %v, want service-unavailable", cond)
	}
}

func TestNewWithTypeOverridesDefaultType(t *testing.T) {
	el := NewWithType(NotAllowed, Modify, "")
	if el.Attribute("type") != string(Modify) {
		t.Fatalf("type: got %q, want the overridden modify, not %q", el.Attribute("type"), NotAllowed.Type())
	}
}

func TestNewWithTextAddsDescriptiveChild(t *testing.T) {
	el := New(NotAuthorized, "bad credentials")
	var found bool
	for _, c := range el.Children() {
		if c.Name.Local == "text" {
			found = true
			if len(c.Child) != 1 || c.Child[0].Text != "bad credentials" {
				t.Fatalf("text child: got %v, want cdata 'bad credentials'", c.Child)
			}
		}
	}
	if !found {
		t.Fatal("New with non-empty text did not add a text child")
	}
}

func TestNewWithoutTextOmitsTextChild(t *testing.T) {
	el := New(NotAuthorized, "")
	for _, c := range el.Children() {
		if c.Name.Local == "text" {
			t.Fatal("New with empty text unexpectedly added a text child")
		}
	}
}

func TestConditionCodeAndType(t *testing.T) {
	cases := []struct {
		cond Condition
		code int
		typ  Type
	}{
		{BadRequest, 400, Modify},
		{Conflict, 409, Cancel},
		{RemoteServerTimeout, 504, Wait},
		{Forbidden, 403, Auth},
	}
	for _, c := range cases {
		if got := c.cond.Code(); got != c.code {
			t.Errorf("%s.Code(): got %d, want %d", c.cond, got, c.code)
		}
		if got := c.cond.Type(); got != c.typ {
			t.Errorf("%s.Type(): got %q, want %q", c.cond, got, c.typ)
		}
	}
}
