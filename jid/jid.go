// Copyright 2014 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

package jid

import (
	"bytes"
	"encoding/xml"
	"errors"
	"net"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
	"golang.org/x/text/secure/precis"
)

// JID represents an XMPP address ("Jabber ID") comprising a localpart,
// domainpart, and resourcepart. Each part is kept in both its raw and its
// canonicalized (stringprep'd) form: the canonical form is used for routing
// and comparison, the raw form for display and wire round-tripping.
type JID struct {
	local, domain, resource           string
	localCanon, domainCanon, resCanon string
}

// Parse constructs a new JID from its string representation
// ("[user@]server[/resource]").
//
// Parsing fails if the first character is '@' or '/', if '@' appears with an
// empty localpart or more than once, or if '/' immediately follows '@' with
// nothing in between.
func Parse(s string) (*JID, error) {
	local, domain, resource, err := SplitString(s)
	if err != nil {
		return nil, err
	}
	return New(local, domain, resource)
}

// MustParse is like Parse but panics if the JID cannot be parsed. It
// simplifies safe initialization of JIDs from known-good constant strings.
func MustParse(s string) *JID {
	j, err := Parse(s)
	if err != nil {
		if strconv.CanBackquote(s) {
			s = "`" + s + "`"
		} else {
			s = strconv.Quote(s)
		}
		panic(`jid: Parse(` + s + `): ` + err.Error())
	}
	return j
}

// New constructs a new JID from the given localpart, domainpart, and
// resourcepart, applying nodeprep, nameprep, and resourceprep respectively.
func New(local, domain, resource string) (*JID, error) {
	if !utf8.ValidString(local) || !utf8.ValidString(resource) {
		return nil, errors.New("jid: address contains invalid UTF-8")
	}

	domainRaw := domain
	domainCanon, err := idna.ToUnicode(domain)
	if err != nil {
		return nil, err
	}
	domainCanon = strings.ToLower(domainCanon)
	if !utf8.ValidString(domainCanon) {
		return nil, errors.New("jid: domainpart contains invalid UTF-8")
	}

	var localCanon, resCanon string
	if local != "" {
		b, err := precis.UsernameCaseMapped.String(local)
		if err != nil {
			return nil, err
		}
		localCanon = b
	}
	if resource != "" {
		b, err := precis.OpaqueString.String(resource)
		if err != nil {
			return nil, err
		}
		resCanon = b
	}

	if err := commonChecks(local, domainCanon, resource); err != nil {
		return nil, err
	}

	return &JID{
		local:       local,
		domain:      domainRaw,
		resource:    resource,
		localCanon:  localCanon,
		domainCanon: domainCanon,
		resCanon:    resCanon,
	}, nil
}

// WithResource returns a copy of j with a new resourcepart. The localpart and
// domainpart are not re-validated.
func (j *JID) WithResource(resource string) (*JID, error) {
	n := j.Bare()
	if resource == "" {
		return n, nil
	}
	if !utf8.ValidString(resource) {
		return nil, errors.New("jid: address contains invalid UTF-8")
	}
	resCanon, err := precis.OpaqueString.String(resource)
	if err != nil {
		return nil, err
	}
	n.resource = resource
	n.resCanon = resCanon
	return n, nil
}

// Bare returns a copy of j with the resourcepart removed.
func (j *JID) Bare() *JID {
	if j == nil {
		return nil
	}
	return &JID{
		local:       j.local,
		domain:      j.domain,
		localCanon:  j.localCanon,
		domainCanon: j.domainCanon,
	}
}

// Domain returns a copy of j with the localpart and resourcepart removed.
func (j *JID) Domain() *JID {
	if j == nil {
		return nil
	}
	return &JID{domain: j.domain, domainCanon: j.domainCanon}
}

// IsBare reports whether j has no resourcepart.
func (j *JID) IsBare() bool {
	return j.resource == ""
}

// Localpart returns the raw localpart of the JID (e.g. "user").
func (j *JID) Localpart() string {
	if j == nil {
		return ""
	}
	return j.local
}

// Domainpart returns the raw domainpart of the JID (e.g. "example.net").
func (j *JID) Domainpart() string {
	if j == nil {
		return ""
	}
	return j.domain
}

// Resourcepart returns the raw resourcepart of the JID.
func (j *JID) Resourcepart() string {
	if j == nil {
		return ""
	}
	return j.resource
}

// CanonicalLocal returns the nodeprep'd localpart, used for routing and
// comparison.
func (j *JID) CanonicalLocal() string {
	if j == nil {
		return ""
	}
	return j.localCanon
}

// CanonicalDomain returns the nameprep'd domainpart.
func (j *JID) CanonicalDomain() string {
	if j == nil {
		return ""
	}
	return j.domainCanon
}

// CanonicalResource returns the resourceprep'd resourcepart.
func (j *JID) CanonicalResource() string {
	if j == nil {
		return ""
	}
	return j.resCanon
}

// Copy returns a copy of j.
func (j *JID) Copy() *JID {
	if j == nil {
		return nil
	}
	cp := *j
	return &cp
}

// Network satisfies the net.Addr interface by returning "xmpp".
func (*JID) Network() string {
	return "xmpp"
}

// String returns the wire textual form of the JID ("[user@]server[/resource]")
// built from the raw (non-canonicalized) parts, so that
// Parse(j.String()).String() == j.String() whenever every part passes
// stringprep unchanged.
func (j *JID) String() string {
	if j == nil {
		return ""
	}
	s := j.domain
	if j.local != "" {
		s = j.local + "@" + s
	}
	if j.resource != "" {
		s = s + "/" + j.resource
	}
	return s
}

// Equal reports whether j and j2 have identical canonical forms.
func (j *JID) Equal(j2 *JID) bool {
	if j == nil || j2 == nil {
		return j == j2
	}
	return j.localCanon == j2.localCanon &&
		j.domainCanon == j2.domainCanon &&
		j.resCanon == j2.resCanon
}

// Compare orders JIDs lexicographically on the triple of canonicalized forms
// (localpart, domainpart, resourcepart), returning a negative number, zero, or
// a positive number as j is less than, equal to, or greater than j2.
func (j *JID) Compare(j2 *JID) int {
	if c := strings.Compare(j.localCanon, j2.localCanon); c != 0 {
		return c
	}
	if c := strings.Compare(j.domainCanon, j2.domainCanon); c != 0 {
		return c
	}
	return strings.Compare(j.resCanon, j2.resCanon)
}

// Less reports whether j orders before j2. See Compare.
func (j *JID) Less(j2 *JID) bool {
	return j.Compare(j2) < 0
}

// MarshalXML satisfies xml.Marshaler by encoding the JID as character data.
func (j *JID) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if err := e.EncodeToken(xml.CharData(j.String())); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}

// UnmarshalXML satisfies xml.Unmarshaler by decoding the element's character
// data as a JID.
func (j *JID) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	data := struct {
		CharData string `xml:",chardata"`
	}{}
	if err := d.DecodeElement(&data, &start); err != nil {
		return err
	}
	j2, err := Parse(data.CharData)
	if err != nil {
		return err
	}
	*j = *j2
	return nil
}

// MarshalXMLAttr satisfies xml.MarshalerAttr.
func (j *JID) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	if j == nil {
		return xml.Attr{}, nil
	}
	return xml.Attr{Name: name, Value: j.String()}, nil
}

// UnmarshalXMLAttr satisfies xml.UnmarshalerAttr.
func (j *JID) UnmarshalXMLAttr(attr xml.Attr) error {
	if attr.Value == "" {
		return nil
	}
	j2, err := Parse(attr.Value)
	if err != nil {
		return err
	}
	*j = *j2
	return nil
}

// SplitString splits the localpart, domainpart, and resourcepart out of the
// string representation of a JID. The parts are not guaranteed to be valid.
func SplitString(s string) (local, domain, resource string, err error) {
	if s == "" {
		return "", "", "", errors.New("jid: address is empty")
	}
	switch s[0] {
	case '@':
		return "", "", "", errors.New("jid: address starts with '@'")
	case '/':
		return "", "", "", errors.New("jid: address starts with '/'")
	}

	// RFC 7622 §3.1: match the separators before any transformation algorithm
	// has a chance to turn some other code point into '@' or '/'.
	sep := strings.Index(s, "/")
	if sep == -1 {
		resource = ""
	} else {
		if sep == len(s)-1 {
			return "", "", "", errors.New("jid: resourcepart must not be empty")
		}
		resource = s[sep+1:]
		s = s[:sep]
	}

	sep = strings.Index(s, "@")
	switch sep {
	case -1:
		local = ""
		domain = s
	case 0:
		return "", "", "", errors.New("jid: localpart must not be empty")
	default:
		local = s[:sep]
		domain = s[sep+1:]
		if domain == "" {
			return "", "", "", errors.New("jid: domainpart must not be empty")
		}
		if strings.Contains(domain, "@") {
			return "", "", "", errors.New("jid: address contains more than one '@'")
		}
	}

	domain = strings.TrimSuffix(domain, ".")
	return local, domain, resource, nil
}

func checkIP6String(domain string) error {
	if l := len(domain); l > 2 && strings.HasPrefix(domain, "[") && strings.HasSuffix(domain, "]") {
		if ip := net.ParseIP(domain[1 : l-1]); ip == nil || ip.To4() != nil {
			return errors.New("jid: domainpart is not a valid IPv6 address literal")
		}
	}
	return nil
}

func commonChecks(local, domain, resource string) error {
	if len(local) > 1023 {
		return errors.New("jid: localpart must be smaller than 1024 bytes")
	}
	if bytes.ContainsAny([]byte(local), `"&'/:<>@`) {
		return errors.New("jid: localpart contains forbidden characters")
	}
	if len(resource) > 1023 {
		return errors.New("jid: resourcepart must be smaller than 1024 bytes")
	}
	if l := len(domain); l < 1 || l > 1023 {
		return errors.New("jid: domainpart must be between 1 and 1023 bytes")
	}
	return checkIP6String(domain)
}
