package rules_test

import (
	"net/netip"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zh-yjie/ya-dns/internal/appconfig"
	"github.com/zh-yjie/ya-dns/internal/domainmatch"
	"github.com/zh-yjie/ya-dns/internal/iprange"
	"github.com/zh-yjie/ya-dns/internal/rules"
)

func mustGroup(t *testing.T, lines ...string) *domainmatch.Group {
	t.Helper()
	g, err := domainmatch.Build(lines)
	require.NoError(t, err)
	return g
}

func mustRangeSet(t *testing.T, cidrs ...string) *iprange.Set {
	t.Helper()
	s := iprange.New()
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(c)
		require.NoError(t, err)
		s.Add(p)
	}
	s.Simplify()
	return s
}

func TestSelectUpstreams_DefaultRoute(t *testing.T) {
	cfg := &appconfig.AppConfig{Defaults: []string{"u1"}}

	got := rules.SelectUpstreams(cfg, "dns.google.", dns.TypeA)
	assert.Equal(t, []string{"u1"}, got)
}

func TestSelectUpstreams_RuleRouted(t *testing.T) {
	cfg := &appconfig.AppConfig{
		Defaults: []string{"u1"},
		Domains:  map[string]*domainmatch.Group{"cn": mustGroup(t, "cn")},
		RequestRules: []appconfig.RequestRule{
			{Domains: []string{"cn"}, Types: []uint16{dns.TypeA}, Upstreams: []string{"u2"}},
		},
	}

	assert.Equal(t, []string{"u2"}, rules.SelectUpstreams(cfg, "baidu.cn.", dns.TypeA))
	assert.Equal(t, []string{"u1"}, rules.SelectUpstreams(cfg, "example.com.", dns.TypeA))
}

func TestSelectUpstreams_Deterministic(t *testing.T) {
	cfg := &appconfig.AppConfig{
		Defaults: []string{"u1"},
		Domains:  map[string]*domainmatch.Group{"cn": mustGroup(t, "cn")},
		RequestRules: []appconfig.RequestRule{
			{Domains: []string{"cn"}, Upstreams: []string{"u2"}},
		},
	}

	first := rules.SelectUpstreams(cfg, "baidu.cn.", dns.TypeA)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, rules.SelectUpstreams(cfg, "baidu.cn.", dns.TypeA))
	}
}

func TestAcceptResponse_EmptyLookupAlwaysDrops(t *testing.T) {
	cfg := &appconfig.AppConfig{}
	got := rules.AcceptResponse(cfg, "example.com.", "u1", false, netip.Addr{}, false)
	assert.Equal(t, rules.Drop, got)
}

func TestAcceptResponse_NoMatchingRuleAccepts(t *testing.T) {
	cfg := &appconfig.AppConfig{}
	got := rules.AcceptResponse(cfg, "example.com.", "u1", true, netip.MustParseAddr("1.2.3.4"), true)
	assert.Equal(t, rules.Accept, got)
}

func TestAcceptResponse_DropOnRange(t *testing.T) {
	cfg := &appconfig.AppConfig{
		Ranges: map[string]*iprange.Set{"bogus": mustRangeSet(t, "1.2.3.0/24")},
		ResponseRules: []appconfig.ResponseRule{
			{Upstreams: []string{"u1"}, Ranges: []string{"bogus"}, Action: appconfig.ActionDrop},
		},
	}

	assert.Equal(t, rules.Drop, rules.AcceptResponse(cfg, "x.", "u1", true, netip.MustParseAddr("1.2.3.4"), true))
	assert.Equal(t, rules.Accept, rules.AcceptResponse(cfg, "x.", "u2", true, netip.MustParseAddr("1.2.3.4"), true))
}

func TestAcceptResponse_NegatedRange(t *testing.T) {
	cfg := &appconfig.AppConfig{
		Ranges: map[string]*iprange.Set{"bogus": mustRangeSet(t, "1.2.3.0/24")},
		ResponseRules: []appconfig.ResponseRule{
			{Upstreams: []string{"u1"}, Ranges: []string{"!bogus"}, Action: appconfig.ActionDrop},
		},
	}

	// Address NOT in bogus -> pattern holds (negated) -> drop.
	assert.Equal(t, rules.Drop, rules.AcceptResponse(cfg, "x.", "u1", true, netip.MustParseAddr("9.9.9.9"), true))
	// Address IN bogus -> negated pattern false -> no rule matches -> accept.
	assert.Equal(t, rules.Accept, rules.AcceptResponse(cfg, "x.", "u1", true, netip.MustParseAddr("1.2.3.4"), true))
}

func TestAcceptResponse_NoAddrMakesRangePatternFalse(t *testing.T) {
	cfg := &appconfig.AppConfig{
		Ranges: map[string]*iprange.Set{"bogus": mustRangeSet(t, "1.2.3.0/24")},
		ResponseRules: []appconfig.ResponseRule{
			{Ranges: []string{"bogus"}, Action: appconfig.ActionDrop},
		},
	}

	got := rules.AcceptResponse(cfg, "x.", "u1", true, netip.Addr{}, false)
	assert.Equal(t, rules.Accept, got)
}

func TestNegationParity(t *testing.T) {
	cfg := &appconfig.AppConfig{
		Defaults: []string{"u1"},
		Domains:  map[string]*domainmatch.Group{"cn": mustGroup(t, "cn")},
	}

	plain := appconfig.RequestRule{Domains: []string{"cn"}, Upstreams: []string{"r"}}
	single := appconfig.RequestRule{Domains: []string{"!cn"}, Upstreams: []string{"r"}}
	double := appconfig.RequestRule{Domains: []string{"!!cn"}, Upstreams: []string{"r"}}

	for _, name := range []string{"baidu.cn.", "example.com."} {
		cfg.RequestRules = []appconfig.RequestRule{plain}
		plainHit := len(rules.SelectUpstreams(cfg, name, dns.TypeA)) > 0 && rules.SelectUpstreams(cfg, name, dns.TypeA)[0] == "r"

		cfg.RequestRules = []appconfig.RequestRule{double}
		doubleHit := rules.SelectUpstreams(cfg, name, dns.TypeA)[0] == "r"
		assert.Equal(t, plainHit, doubleHit, "name=%s", name)

		cfg.RequestRules = []appconfig.RequestRule{single}
		singleResult := rules.SelectUpstreams(cfg, name, dns.TypeA)
		singleHit := len(singleResult) > 0 && singleResult[0] == "r"
		assert.Equal(t, !plainHit, singleHit, "name=%s", name)
	}
}
