package category

import "net/netip"

// radixNode holds the CIDR prefixes registered for one category. It is
// named for the structure it stands in for (a prefix trie); the pack's
// example radix implementations assume a fixed key width, which doesn't
// hold across mixed IPv4/IPv6 input, so this keeps a plain list of distinct
// prefixes in insertion order instead and does a linear containment scan.
type radixNode struct {
	prefixes []netip.Prefix
}

func newRadixNode() *radixNode {
	return &radixNode{}
}

func (r *radixNode) insert(p netip.Prefix) {
	for _, existing := range r.prefixes {
		if existing == p {
			return
		}
	}
	r.prefixes = append(r.prefixes, p)
}

// contains reports whether addr falls within any registered prefix.
func (r *radixNode) contains(addr netip.Addr) bool {
	if r == nil {
		return false
	}
	for _, p := range r.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
