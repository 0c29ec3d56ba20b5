package resolver

import (
	"net"
	"net/netip"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
)

func rr(t *testing.T, s string) dns.RR {
	t.Helper()
	r, err := dns.NewRR(s)
	if err != nil {
		t.Fatalf("parsing rr %q: %v", s, err)
	}
	return r
}

func TestLookup_FirstAddr(t *testing.T) {
	l := &Lookup{Answer: []dns.RR{
		rr(t, "example.com. 60 IN CNAME other.example.com."),
		rr(t, "example.com. 60 IN A 1.2.3.4"),
		rr(t, "example.com. 60 IN A 5.6.7.8"),
	}}

	addr, ok := l.FirstAddr()
	assert.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("1.2.3.4"), addr)
}

func TestLookup_FirstAddr_None(t *testing.T) {
	l := &Lookup{Answer: []dns.RR{
		rr(t, "example.com. 60 IN CNAME other.example.com."),
	}}

	_, ok := l.FirstAddr()
	assert.False(t, ok)
}

func TestSoaFrom(t *testing.T) {
	ns := []dns.RR{
		rr(t, "example.com. 60 IN NS ns1.example.com."),
		rr(t, "example.com. 60 IN SOA ns1.example.com. hostmaster.example.com. 1 2 3 4 5"),
	}

	soa := soaFrom(ns)
	assert.NotNil(t, soa)
	assert.Equal(t, dns.TypeSOA, soa.Header().Rrtype)
}

func TestSoaFrom_None(t *testing.T) {
	ns := []dns.RR{rr(t, "example.com. 60 IN NS ns1.example.com.")}
	assert.Nil(t, soaFrom(ns))
}

func TestResolveError_Unwrap(t *testing.T) {
	base := net.ErrClosed
	e := &ResolveError{Err: base}
	assert.ErrorIs(t, e, base)
}
