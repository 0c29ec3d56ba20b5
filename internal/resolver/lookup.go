package resolver

import (
	"net/netip"

	"github.com/miekg/dns"
)

// Lookup is the opaque bag of records a resolve call returns. The rule
// engine and handler only ever read it through Records, FirstAddr, and its
// exported fields; they never know which wire transport produced it.
type Lookup struct {
	Answer    []dns.RR
	Authority []dns.RR
	Rcode     int
}

// Records returns the answer-section records.
func (l *Lookup) Records() []dns.RR {
	if l == nil {
		return nil
	}
	return l.Answer
}

// FirstAddr returns the address payload of the first A or AAAA record in
// the answer section, in wire order. Records of other types are skipped;
// if none is found ok is false.
func (l *Lookup) FirstAddr() (addr netip.Addr, ok bool) {
	for _, rr := range l.Records() {
		switch v := rr.(type) {
		case *dns.A:
			if a, ok2 := netip.AddrFromSlice(v.A.To4()); ok2 {
				return a, true
			}
		case *dns.AAAA:
			if a, ok2 := netip.AddrFromSlice(v.AAAA.To16()); ok2 {
				return a, true
			}
		}
	}
	return netip.Addr{}, false
}

// soaFrom returns the first SOA record in rrs (an authority section), or
// nil if there is none. A negative response (NXDOMAIN/NODATA) carries its
// negative-cache TTL this way.
func soaFrom(rrs []dns.RR) dns.RR {
	for _, rr := range rrs {
		if rr.Header().Rrtype == dns.TypeSOA {
			return rr
		}
	}
	return nil
}

// ResolveError reports a lookup that produced no usable answer: either a
// hard transport failure, timeouts included (Err set, SOA nil), or a
// negative response soft-failure that may still carry a negative-cache SOA
// record for the caller to fall back on.
type ResolveError struct {
	Err   error
	SOA   dns.RR
	Rcode int
}

func (e *ResolveError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "resolver: negative response, rcode=" + dns.RcodeToString[e.Rcode]
}

func (e *ResolveError) Unwrap() error { return e.Err }
