// Package appconfig holds the immutable, process-wide configuration model
// that the resolver core is built around: upstream descriptions, resolver
// tuning knobs, proxy settings, and the ordered request/response rule lists.
//
// Everything in this package is a plain value built once at startup by
// internal/config and then shared by reference across every in-flight
// request; nothing here is mutated after construction.
package appconfig

import (
	"fmt"
	"time"

	"github.com/miekg/dns"

	"github.com/zh-yjie/ya-dns/internal/domainmatch"
	"github.com/zh-yjie/ya-dns/internal/iprange"
)

// Network identifies the wire transport an Upstream speaks.
type Network string

// The closed set of upstream transports. There is deliberately no DNSCrypt
// variant: it has no home in this enum.
const (
	NetworkUDP   Network = "udp"
	NetworkTCP   Network = "tcp"
	NetworkTLS   Network = "tls"
	NetworkHTTPS Network = "https"
	NetworkQUIC  Network = "quic"
	NetworkH3    Network = "h3"
)

// DefaultPort returns the conventional port for n when a server address
// omits one.
func (n Network) DefaultPort() int {
	switch n {
	case NetworkTLS, NetworkQUIC:
		return 853
	case NetworkHTTPS, NetworkH3:
		return 443
	default:
		return 53
	}
}

// ProxyProtocol identifies the proxy scheme an Upstream tunnels through.
type ProxyProtocol string

const (
	ProxySocks5 ProxyProtocol = "socks5"
	ProxyHTTP   ProxyProtocol = "http"
)

// defaultSocks5Port is used when a socks5:// proxy URL omits a port.
const defaultSocks5Port = 1080

// ProxyConfig describes an optional forward proxy an Upstream tunnels its
// connections through. It round-trips through String/ParseProxyConfig:
// parse(format(cfg)) == cfg for any well-formed value.
type ProxyConfig struct {
	Protocol ProxyProtocol
	Server   string // host:port
	Username string
	Password string
}

// String renders cfg back into scheme://[user[:pass]@]host:port form.
func (c ProxyConfig) String() string {
	auth := ""
	if c.Username != "" {
		auth = c.Username
		if c.Password != "" {
			auth += ":" + c.Password
		}
		auth += "@"
	}
	return fmt.Sprintf("%s://%s%s", c.Protocol, auth, c.Server)
}

// Upstream is an immutable description of one configured resolver target:
// a transport, one or more server addresses, and the options needed to
// reach it (proxy, TLS server name, resolver tuning).
type Upstream struct {
	Name      string
	Network   Network
	Addresses []string // host:port, at least one
	TLSHost   string   // SNI; only meaningful for Tls, Https, Quic, H3
	Proxy     *ProxyConfig
	Options   ResolverOptions
}

// IPStrategy mirrors the resolver library's IP-family preference knob used
// by lookup_ip for A/AAAA queries.
type IPStrategy string

const (
	IPStrategyV4Only   IPStrategy = "ipv4_only"
	IPStrategyV6Only   IPStrategy = "ipv6_only"
	IPStrategyV4AndV6  IPStrategy = "ipv4_and_ipv6"
	IPStrategyV6ThenV4 IPStrategy = "ipv6_then_ipv4"
	IPStrategyV4ThenV6 IPStrategy = "ipv4_then_ipv6"
)

// ResolverOptions tunes a single Upstream's resolver instance.
type ResolverOptions struct {
	Timeout    time.Duration
	IPStrategy IPStrategy // empty means "unset": plain lookup(type) is used
	CacheSize  int
}

// DefaultResolverOptions returns the spec defaults: a 5s timeout, no forced
// IP strategy, and a 32-entry answer cache.
func DefaultResolverOptions() ResolverOptions {
	return ResolverOptions{
		Timeout:   5 * time.Second,
		CacheSize: 32,
	}
}

// RuleAction is the verdict a ResponseRule assigns to a candidate answer.
type RuleAction string

const (
	ActionAccept RuleAction = "accept"
	ActionDrop   RuleAction = "drop"
)

// RequestRule picks which upstreams answer a query based on its name and
// type. An absent Domains or Types list matches everything.
type RequestRule struct {
	Domains   []string // DomainGroup names, each optionally "!"-negated
	Types     []uint16 // dns.Type* values; empty means "any type"
	Upstreams []string // non-empty: upstream names to fan out to
}

// ResponseRule filters a candidate answer coming back from a given
// upstream. All listed predicates must hold for the rule to match; the
// first matching rule in the ordered list wins.
type ResponseRule struct {
	Upstreams []string // producing-upstream names; absent means "any"
	Ranges    []string // IpRangeSet names, each optionally "!"-negated
	Domains   []string // DomainGroup names, each optionally "!"-negated
	Action    RuleAction
}

// AppConfig is the fully resolved, immutable configuration the whole
// resolver core operates against. It is built once by internal/config and
// shared by reference; nothing mutates it after construction.
type AppConfig struct {
	Defaults  []string // default upstream names, used when no request rule matches
	Upstreams map[string]*Upstream
	Domains   map[string]*domainmatch.Group
	Ranges    map[string]*iprange.Set

	RequestRules  []RequestRule
	ResponseRules []ResponseRule
}

// RecordTypeFromString maps a DNS record type name ("A", "AAAA", "NS", ...)
// to its miekg/dns numeric constant, the same lookup the config loader uses
// when compiling RequestRule.Types from raw configuration strings.
func RecordTypeFromString(name string) (uint16, error) {
	t, ok := dns.StringToType[name]
	if !ok {
		return 0, fmt.Errorf("appconfig: unknown record type %q", name)
	}
	return t, nil
}
