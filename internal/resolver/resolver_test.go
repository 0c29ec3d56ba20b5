package resolver

import (
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zh-yjie/ya-dns/internal/appconfig"
)

func TestNew_RequiresAddress(t *testing.T) {
	_, err := New(&appconfig.Upstream{Name: "u1", Network: appconfig.NetworkUDP})
	assert.Error(t, err)
}

func TestNew_DefaultsTimeout(t *testing.T) {
	r, err := New(&appconfig.Upstream{
		Name:      "u1",
		Network:   appconfig.NetworkUDP,
		Addresses: []string{"8.8.8.8:53"},
	})
	require.NoError(t, err)
	assert.Equal(t, appconfig.DefaultResolverOptions().Timeout, r.opts.Timeout)
}

func TestResolver_NextAddr_RoundRobin(t *testing.T) {
	r, err := New(&appconfig.Upstream{
		Name:      "u1",
		Network:   appconfig.NetworkUDP,
		Addresses: []string{"1.1.1.1:53", "2.2.2.2:53"},
	})
	require.NoError(t, err)

	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		seen[r.nextAddr()]++
	}
	assert.Equal(t, 2, seen["1.1.1.1:53"])
	assert.Equal(t, 2, seen["2.2.2.2:53"])
}

func TestCacheKey_DistinctByType(t *testing.T) {
	assert.NotEqual(t, cacheKey("example.com", dns.TypeA), cacheKey("example.com", dns.TypeAAAA))
}

func TestMinTTL(t *testing.T) {
	rrs := []dns.RR{
		rr(t, "example.com. 300 IN A 1.2.3.4"),
		rr(t, "example.com. 60 IN A 5.6.7.8"),
	}
	assert.Equal(t, 60*time.Second, minTTL(rrs))
}
