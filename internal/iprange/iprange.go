// Package iprange implements a named set of IPv4/IPv6 CIDR prefixes that
// answers containment queries in O(log n) time.
package iprange

import (
	"net/netip"
	"sort"
)

// Set is a sorted, merged collection of CIDR prefixes.  Families are
// segregated: v4 and v6 prefixes are indexed independently.  The zero value
// is an empty Set ready to use.
//
// Set implements the same Contains(netip.Addr) bool shape as
// [github.com/AdguardTeam/golibs/netutil.SubnetSet], so it composes with
// consumers written against that interface.
type Set struct {
	v4 []netip.Prefix
	v6 []netip.Prefix

	simplified bool
}

// New returns an empty Set.
func New() *Set {
	return &Set{}
}

// Add inserts p into the set.  Add does not merge or sort; call Simplify
// after the last Add and before the first Contains, or rely on Contains to
// simplify lazily.
func (s *Set) Add(p netip.Prefix) {
	p = p.Masked()
	if p.Addr().Is4() {
		s.v4 = append(s.v4, p)
	} else {
		s.v6 = append(s.v6, p)
	}
	s.simplified = false
}

// Simplify coalesces overlapping and subsumed prefixes into a canonical
// minimal set, sorted by address.  It must be called before Contains is used
// after a batch of Add calls; Contains also calls it lazily if needed.
func (s *Set) Simplify() {
	s.v4 = simplifyFamily(s.v4)
	s.v6 = simplifyFamily(s.v6)
	s.simplified = true
}

// Contains reports whether addr falls within any prefix in the set.  It
// performs a binary search over the sorted canonical set built by Simplify,
// so it is O(log n).
func (s *Set) Contains(addr netip.Addr) (ok bool) {
	if !s.simplified {
		s.Simplify()
	}

	if addr.Is4() {
		return containsFamily(s.v4, addr)
	}
	return containsFamily(s.v6, addr)
}

// simplifyFamily sorts ps by (address, bits) and drops any prefix that is
// wholly subsumed by a wider or equal prefix already kept.  The result has
// no overlaps: for any two kept prefixes, neither contains the other's
// network address.
func simplifyFamily(ps []netip.Prefix) []netip.Prefix {
	if len(ps) == 0 {
		return nil
	}

	sorted := make([]netip.Prefix, len(ps))
	copy(sorted, ps)
	sort.Slice(sorted, func(i, j int) bool {
		ai, aj := sorted[i].Addr(), sorted[j].Addr()
		if ai != aj {
			return ai.Less(aj)
		}
		return sorted[i].Bits() < sorted[j].Bits()
	})

	out := make([]netip.Prefix, 0, len(sorted))
	out = append(out, sorted[0])
	for _, p := range sorted[1:] {
		last := out[len(out)-1]
		if last.Bits() <= p.Bits() && last.Contains(p.Addr()) {
			// p is subsumed by (or a duplicate of) last; drop it.
			continue
		}
		out = append(out, p)
	}

	return out
}

// containsFamily binary searches a sorted, simplified, single-family,
// non-overlapping prefix list for one that contains addr.
func containsFamily(ps []netip.Prefix, addr netip.Addr) bool {
	// Find the first prefix whose address is > addr; the only candidate that
	// could contain addr is the one immediately before it, since the set is
	// non-overlapping and sorted by start address.
	i := sort.Search(len(ps), func(i int) bool {
		return ps[i].Addr().Compare(addr) > 0
	})
	if i == 0 {
		return false
	}

	return ps[i-1].Contains(addr)
}
