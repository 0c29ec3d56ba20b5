package handler

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zh-yjie/ya-dns/internal/resolver"
)

func mustRR(t *testing.T, s string) dns.RR {
	t.Helper()
	rr, err := dns.NewRR(s)
	require.NoError(t, err)
	return rr
}

func TestAssembleAnswer_SplitsByType(t *testing.T) {
	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)

	l := &resolver.Lookup{Answer: []dns.RR{
		mustRR(t, "example.com. 60 IN A 1.2.3.4"),
		mustRR(t, "example.com. 60 IN NS ns1.example.com."),
		mustRR(t, "example.com. 60 IN SOA ns1.example.com. hostmaster.example.com. 1 2 3 4 5"),
	}}

	resp := assembleAnswer(req, l, "u1")

	require.Len(t, resp.Answer, 1)
	assert.Equal(t, dns.TypeA, resp.Answer[0].Header().Rrtype)
	require.Len(t, resp.Ns, 2)
	assert.True(t, resp.RecursionAvailable)
	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
}

func TestNxdomainWithSOA(t *testing.T) {
	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)

	soa := mustRR(t, "example.com. 60 IN SOA ns1.example.com. hostmaster.example.com. 1 2 3 4 5")
	resp := nxdomainWithSOA(req, soa, dns.RcodeNameError)

	assert.Equal(t, dns.RcodeNameError, resp.Rcode)
	require.Len(t, resp.Ns, 1)
	assert.Equal(t, soa, resp.Ns[0])
}

func TestEmptyReply_NoRecords(t *testing.T) {
	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)

	resp := emptyReply(req, dns.RcodeServerFailure)
	assert.Empty(t, resp.Answer)
	assert.Empty(t, resp.Ns)
	assert.Equal(t, dns.RcodeServerFailure, resp.Rcode)
}
