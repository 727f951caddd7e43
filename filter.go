package apyserver

import (
	"fmt"
	"regexp"
)

// Filter is a predicate over a (Client, Message) pair (spec.md §4.3). A
// Handler's filter list is a conjunction: it matches iff every filter in
// the list matches.
type Filter interface {
	Match(c *Client, m *Message) bool
}

// FuncFilter adapts a plain function to the Filter interface.
// SPEC_FULL.md §4.3: the original source's filters were duck-typed
// callables; this is the Go equivalent for ad hoc predicates that don't
// warrant their own named type.
type FuncFilter func(c *Client, m *Message) bool

// Match implements Filter.
func (f FuncFilter) Match(c *Client, m *Message) bool { return f(c, m) }

var ipv4Pattern = regexp.MustCompile(`^\d{1,3}(\.\d{1,3}){3}$`)

// AddressFilter matches clients whose address is a member of a configured
// non-empty set of dotted-quad IPv4 strings (spec.md §4.3).
type AddressFilter struct {
	addrs map[string]struct{}
}

// NewAddressFilter validates every address against the dotted-quad pattern
// and builds an AddressFilter. It fails construction on the first malformed
// entry, matching spec.md §4.3's "malformed input fails construction".
func NewAddressFilter(addrs ...string) (*AddressFilter, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("apyserver: address filter requires at least one address")
	}
	set := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		if !ipv4Pattern.MatchString(a) {
			return nil, fmt.Errorf("apyserver: invalid address in filter: %q", a)
		}
		set[a] = struct{}{}
	}
	return &AddressFilter{addrs: set}, nil
}

// Match implements Filter.
func (f *AddressFilter) Match(c *Client, _ *Message) bool {
	_, ok := f.addrs[c.Address]
	return ok
}

// FieldsFilter is an exact-shape match over the payload: every declared
// name must be present (and match its pattern, if any), and the payload
// must contain no keys beyond those declared (spec.md §4.3).
type FieldsFilter struct {
	fields map[string]*regexp.Regexp
}

// NewFieldsFilter builds a FieldsFilter from a name -> pattern mapping. A
// nil pattern means "present, value unconstrained".
func NewFieldsFilter(fields map[string]*regexp.Regexp) *FieldsFilter {
	cp := make(map[string]*regexp.Regexp, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return &FieldsFilter{fields: cp}
}

// Match implements Filter.
func (f *FieldsFilter) Match(_ *Client, m *Message) bool {
	if len(m.Payload) != len(f.fields) {
		return false
	}
	for name, pattern := range f.fields {
		v, ok := m.Payload[name]
		if !ok {
			return false
		}
		if pattern != nil && !matchesAtStart(pattern, fmt.Sprint(v)) {
			return false
		}
	}
	return true
}

// matchesAtStart reports whether pattern matches s starting at position 0,
// mirroring Python's re.match (left-anchored) rather than Go regexp's
// default unanchored search (spec.md §4.3).
func matchesAtStart(pattern *regexp.Regexp, s string) bool {
	loc := pattern.FindStringIndex(s)
	return loc != nil && loc[0] == 0
}
