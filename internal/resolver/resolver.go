// Package resolver wraps the external DNS library (miekg/dns, plus
// quic-go for DoQ/H3) behind the three operations the core needs per
// upstream: construct, lookup_ip, lookup. Every transport is proxy-aware:
// connections are opened through internal/socksproxy so a SOCKS5 or HTTP
// CONNECT proxy configured on the Upstream is transparent to callers.
package resolver

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/rand"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	gocache "github.com/patrickmn/go-cache"
	"github.com/miekg/dns"

	"github.com/zh-yjie/ya-dns/internal/appconfig"
)

// Resolver is a single configured Upstream, eagerly constructed at startup
// and shared by reference across every concurrent Resolve call. Its
// internal cache and connection handling are the only mutable state, and
// both are safe for concurrent use by construction (gocache is
// lock-protected; each exchange opens its own connection).
type Resolver struct {
	name    string
	network appconfig.Network
	addrs   []string
	tlsHost string
	proxy   *appconfig.ProxyConfig
	opts    appconfig.ResolverOptions

	cache *gocache.Cache

	rr atomic.Uint64 // round-robin cursor over addrs
}

// New builds a Resolver from an Upstream description. Construction is
// cheap and does not dial anything; connections are opened lazily on the
// first Resolve call per the chosen transport.
func New(u *appconfig.Upstream) (*Resolver, error) {
	if len(u.Addresses) == 0 {
		return nil, errors.Error("resolver: upstream has no server addresses")
	}

	opts := u.Options
	if opts.Timeout <= 0 {
		opts.Timeout = appconfig.DefaultResolverOptions().Timeout
	}

	var c *gocache.Cache
	if opts.CacheSize > 0 {
		c = gocache.New(5*time.Minute, 10*time.Minute)
	}

	return &Resolver{
		name:    u.Name,
		network: u.Network,
		addrs:   u.Addresses,
		tlsHost: u.TLSHost,
		proxy:   u.Proxy,
		opts:    opts,
		cache:   c,
	}, nil
}

// Name returns the upstream name this Resolver was built from.
func (r *Resolver) Name() string { return r.name }

// nextAddr round-robins over the upstream's configured server addresses so
// that a multi-address upstream spreads load instead of always hammering
// the first entry.
func (r *Resolver) nextAddr() string {
	if len(r.addrs) == 1 {
		return r.addrs[0]
	}
	i := r.rr.Add(1) - 1
	return r.addrs[int(i)%len(r.addrs)]
}

// Resolve issues a single query of record type qtype for domain. When
// qtype is A or AAAA and an IPStrategy is configured, Resolve delegates to
// lookupIP, which may issue more than one underlying query to honor the
// strategy; otherwise it issues exactly one query of the requested type.
func (r *Resolver) Resolve(ctx context.Context, domain string, qtype uint16) (*Lookup, error) {
	if r.opts.IPStrategy != "" && (qtype == dns.TypeA || qtype == dns.TypeAAAA) {
		return r.lookupIP(ctx, domain, qtype)
	}
	return r.lookup(ctx, domain, qtype)
}

func cacheKey(domain string, qtype uint16) string {
	return domain + "/" + strconv.Itoa(int(qtype))
}

func (r *Resolver) lookup(ctx context.Context, domain string, qtype uint16) (*Lookup, error) {
	key := cacheKey(domain, qtype)
	if r.cache != nil {
		if cached, ok := r.cache.Get(key); ok {
			l := cached.(*Lookup)
			return l, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), qtype)
	msg.RecursionDesired = true
	// Vary the query ID so races against the same upstream across
	// concurrently fanned-out requests don't collide on ID reuse.
	msg.Id = uint16(rand.Intn(1 << 16))

	resp, err := r.exchange(ctx, msg)
	if err != nil {
		return nil, &ResolveError{Err: err, Rcode: dns.RcodeServerFailure}
	}

	if len(resp.Answer) == 0 {
		return nil, &ResolveError{SOA: soaFrom(resp.Ns), Rcode: resp.Rcode}
	}

	l := &Lookup{Answer: resp.Answer, Authority: resp.Ns, Rcode: resp.Rcode}
	if r.cache != nil {
		if r.cache.ItemCount() >= r.opts.CacheSize {
			r.cache.DeleteExpired()
		}
		if r.cache.ItemCount() < r.opts.CacheSize {
			r.cache.Set(key, l, minTTL(resp.Answer))
		}
	}
	return l, nil
}

// lookupIP implements the ip_strategy-aware A/AAAA resolution: depending on
// the configured strategy it queries one family, both concurrently, or one
// with a fallback to the other.
func (r *Resolver) lookupIP(ctx context.Context, domain string, qtype uint16) (*Lookup, error) {
	switch r.opts.IPStrategy {
	case appconfig.IPStrategyV4Only:
		return r.lookup(ctx, domain, dns.TypeA)
	case appconfig.IPStrategyV6Only:
		return r.lookup(ctx, domain, dns.TypeAAAA)
	case appconfig.IPStrategyV4AndV6:
		return r.lookupBoth(ctx, domain)
	case appconfig.IPStrategyV6ThenV4:
		return r.lookupFallback(ctx, domain, dns.TypeAAAA, dns.TypeA)
	case appconfig.IPStrategyV4ThenV6:
		return r.lookupFallback(ctx, domain, dns.TypeA, dns.TypeAAAA)
	default:
		return r.lookup(ctx, domain, qtype)
	}
}

func (r *Resolver) lookupBoth(ctx context.Context, domain string) (*Lookup, error) {
	type result struct {
		l   *Lookup
		err error
	}
	ch4 := make(chan result, 1)
	ch6 := make(chan result, 1)

	go func() { l, err := r.lookup(ctx, domain, dns.TypeA); ch4 <- result{l, err} }()
	go func() { l, err := r.lookup(ctx, domain, dns.TypeAAAA); ch6 <- result{l, err} }()

	res4, res6 := <-ch4, <-ch6

	merged := &Lookup{}
	if res4.l != nil {
		merged.Answer = append(merged.Answer, res4.l.Answer...)
		merged.Authority = append(merged.Authority, res4.l.Authority...)
	}
	if res6.l != nil {
		merged.Answer = append(merged.Answer, res6.l.Answer...)
		merged.Authority = append(merged.Authority, res6.l.Authority...)
	}

	if len(merged.Answer) == 0 {
		if res4.err != nil {
			return nil, res4.err
		}
		return nil, res6.err
	}
	return merged, nil
}

func (r *Resolver) lookupFallback(ctx context.Context, domain string, first, second uint16) (*Lookup, error) {
	l, err := r.lookup(ctx, domain, first)
	if err == nil && len(l.Answer) > 0 {
		return l, nil
	}
	return r.lookup(ctx, domain, second)
}

// minTTL returns the shortest TTL across rrs, used as the local cache entry
// lifetime; callers must not pass an empty slice.
func minTTL(rrs []dns.RR) time.Duration {
	min := rrs[0].Header().Ttl
	for _, rr := range rrs[1:] {
		if t := rr.Header().Ttl; t < min {
			min = t
		}
	}
	return time.Duration(min) * time.Second
}

// exchange dispatches msg over the transport named by r.network, dialing
// through r.proxy when configured.
func (r *Resolver) exchange(ctx context.Context, msg *dns.Msg) (*dns.Msg, error) {
	switch r.network {
	case appconfig.NetworkUDP:
		return r.exchangeUDP(ctx, msg)
	case appconfig.NetworkTCP:
		return r.exchangeStream(ctx, msg, "tcp", nil)
	case appconfig.NetworkTLS:
		return r.exchangeStream(ctx, msg, "tcp-tls", r.tlsConfig())
	case appconfig.NetworkHTTPS:
		return r.exchangeDoH(ctx, msg)
	case appconfig.NetworkQUIC:
		return r.exchangeDoQ(ctx, msg)
	case appconfig.NetworkH3:
		return r.exchangeH3(ctx, msg)
	default:
		return nil, fmt.Errorf("resolver: unsupported network %q", r.network)
	}
}

func (r *Resolver) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName: r.tlsHost,
		MinVersion: tls.VersionTLS12,
	}
}
