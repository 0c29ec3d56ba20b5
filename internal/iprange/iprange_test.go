package iprange_test

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zh-yjie/ya-dns/internal/iprange"
)

func mustPrefix(t *testing.T, s string) netip.Prefix {
	t.Helper()
	p, err := netip.ParsePrefix(s)
	require.NoError(t, err)
	return p
}

func TestSet_Contains(t *testing.T) {
	s := iprange.New()
	s.Add(mustPrefix(t, "1.2.3.0/24"))
	s.Add(mustPrefix(t, "10.0.0.0/8"))
	s.Add(mustPrefix(t, "2001:db8::/32"))
	s.Simplify()

	tests := []struct {
		addr string
		want bool
	}{
		{"1.2.3.4", true},
		{"1.2.4.1", false},
		{"10.1.2.3", true},
		{"11.0.0.1", false},
		{"2001:db8::1", true},
		{"2001:db9::1", false},
	}

	for _, tc := range tests {
		addr := netip.MustParseAddr(tc.addr)
		assert.Equalf(t, tc.want, s.Contains(addr), "addr=%s", tc.addr)
	}
}

func TestSet_SimplifySubsumed(t *testing.T) {
	s := iprange.New()
	s.Add(mustPrefix(t, "192.168.0.0/16"))
	s.Add(mustPrefix(t, "192.168.1.0/24"))
	s.Simplify()

	assert.True(t, s.Contains(netip.MustParseAddr("192.168.1.5")))
	assert.True(t, s.Contains(netip.MustParseAddr("192.168.200.5")))
}

func TestSet_ContainsIdempotentAfterSimplify(t *testing.T) {
	addrs := []netip.Addr{
		netip.MustParseAddr("1.2.3.4"),
		netip.MustParseAddr("8.8.8.8"),
		netip.MustParseAddr("172.16.5.1"),
	}

	s := iprange.New()
	s.Add(mustPrefix(t, "1.2.3.0/24"))
	s.Add(mustPrefix(t, "172.16.0.0/12"))

	before := make([]bool, len(addrs))
	for i, a := range addrs {
		before[i] = s.Contains(a)
	}

	s.Simplify()

	for i, a := range addrs {
		assert.Equal(t, before[i], s.Contains(a))
	}
}

func TestSet_EmptySet(t *testing.T) {
	s := iprange.New()
	assert.False(t, s.Contains(netip.MustParseAddr("1.2.3.4")))
}
