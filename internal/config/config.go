// Package config loads the on-disk YAML configuration file and compiles it
// into an immutable appconfig.AppConfig: upstreams, domain groups, IP range
// sets, and the ordered request/response rule lists.
package config

import (
	"bufio"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"gopkg.in/yaml.v3"

	"github.com/zh-yjie/ya-dns/internal/appconfig"
	"github.com/zh-yjie/ya-dns/internal/domainmatch"
	"github.com/zh-yjie/ya-dns/internal/iprange"
	"github.com/zh-yjie/ya-dns/utils"
)

func msToDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

// parsePrefix parses raw as a CIDR prefix; a bare IP address (no "/bits")
// is treated as a host route (/32 for v4, /128 for v6).
func parsePrefix(raw string) (netip.Prefix, error) {
	if p, err := netip.ParsePrefix(raw); err == nil {
		return p, nil
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid cidr or address %q", raw)
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// File is the raw, YAML-deserialized shape of the configuration file. Its
// field names are deliberately close to the wire format; Build compiles it
// into the runtime appconfig.AppConfig.
type File struct {
	Bind          string                  `yaml:"bind"`
	LogLevel      string                  `yaml:"log_level"`
	LogOutput     string                  `yaml:"log_output"`
	StatsAddr     string                  `yaml:"stats_addr"`
	MaxGoroutines int                     `yaml:"max_goroutines"`
	Upstreams     map[string]UpstreamFile `yaml:"upstreams"`
	Domains       map[string]DomainsFile  `yaml:"domains"`
	Ranges        map[string]RangesFile   `yaml:"ranges"`
	RequestRules  []RequestRuleFile       `yaml:"request_rules"`
	ResponseRules []ResponseRuleFile      `yaml:"response_rules"`
}

// UpstreamFile is one entry of the "upstreams" map.
type UpstreamFile struct {
	Network    string   `yaml:"network"` // udp, tcp, tls, https, quic, h3
	Addresses  []string `yaml:"addresses"`
	TLSHost    string   `yaml:"tls_host"`
	Proxy      string   `yaml:"proxy"`
	Default    *bool    `yaml:"default"`
	TimeoutMs  int      `yaml:"timeout_ms"`
	IPStrategy string   `yaml:"ip_strategy"`
	CacheSize  *int     `yaml:"cache_size"`
}

// DomainsFile is one entry of the "domains" map: a named domain group.
type DomainsFile struct {
	Files []string `yaml:"files"`
	List  []string `yaml:"list"`
}

// RangesFile is one entry of the "ranges" map: a named CIDR set.
type RangesFile struct {
	Files []string `yaml:"files"`
	List  []string `yaml:"list"`
}

// RequestRuleFile mirrors appconfig.RequestRule with string type names.
type RequestRuleFile struct {
	Domains   []string `yaml:"domains"`
	Types     []string `yaml:"types"`
	Upstreams []string `yaml:"upstreams"`
}

// ResponseRuleFile mirrors appconfig.ResponseRule with a string action.
type ResponseRuleFile struct {
	Upstreams []string `yaml:"upstreams"`
	Ranges    []string `yaml:"ranges"`
	Domains   []string `yaml:"domains"`
	Action    string   `yaml:"action"`
}

// Load reads and parses the YAML file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotate(err, "config: reading %q: %w", path)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Annotate(err, "config: parsing %q: %w", path)
	}
	return &f, nil
}

// Build compiles f into a ready-to-use AppConfig, failing fast on any
// configuration error (unknown record type, unparsable CIDR, missing
// defaults, and so on).
func (f *File) Build() (*appconfig.AppConfig, error) {
	cfg := &appconfig.AppConfig{
		Upstreams: map[string]*appconfig.Upstream{},
		Domains:   map[string]*domainmatch.Group{},
		Ranges:    map[string]*iprange.Set{},
	}

	for name, uf := range f.Upstreams {
		up, isDefault, err := uf.compile(name)
		if err != nil {
			return nil, errors.Annotate(err, "config: upstream %q: %w", name)
		}
		cfg.Upstreams[name] = up
		if isDefault {
			cfg.Defaults = append(cfg.Defaults, name)
		}
	}
	if len(cfg.Defaults) == 0 {
		return nil, errors.Error("config: no default upstream configured")
	}

	for name, df := range f.Domains {
		lines, err := df.lines()
		if err != nil {
			return nil, errors.Annotate(err, "config: domains %q: %w", name)
		}
		group, err := domainmatch.Build(lines)
		if err != nil {
			return nil, errors.Annotate(err, "config: domains %q: %w", name)
		}
		cfg.Domains[name] = group
	}

	for name, rf := range f.Ranges {
		set, err := rf.compile()
		if err != nil {
			return nil, errors.Annotate(err, "config: ranges %q: %w", name)
		}
		cfg.Ranges[name] = set
	}

	for i, rr := range f.RequestRules {
		rule, err := rr.compile()
		if err != nil {
			return nil, errors.Annotate(err, "config: request_rules[%d]: %w", i)
		}
		cfg.RequestRules = append(cfg.RequestRules, rule)
	}

	for i, rr := range f.ResponseRules {
		rule, err := rr.compile()
		if err != nil {
			return nil, errors.Annotate(err, "config: response_rules[%d]: %w", i)
		}
		cfg.ResponseRules = append(cfg.ResponseRules, rule)
	}

	return cfg, nil
}

func (uf UpstreamFile) compile(name string) (*appconfig.Upstream, bool, error) {
	if len(uf.Addresses) == 0 {
		return nil, false, errors.Error("no addresses configured")
	}

	network := appconfig.Network(strings.ToLower(uf.Network))
	switch network {
	case appconfig.NetworkUDP, appconfig.NetworkTCP:
	case appconfig.NetworkTLS, appconfig.NetworkHTTPS, appconfig.NetworkQUIC, appconfig.NetworkH3:
		if uf.TLSHost == "" {
			return nil, false, fmt.Errorf("network %q requires tls_host", uf.Network)
		}
	default:
		return nil, false, fmt.Errorf("unknown network %q", uf.Network)
	}

	opts := appconfig.DefaultResolverOptions()
	if uf.TimeoutMs > 0 {
		opts.Timeout = msToDuration(uf.TimeoutMs)
	}
	if uf.CacheSize != nil {
		opts.CacheSize = *uf.CacheSize
	}
	if uf.IPStrategy != "" {
		opts.IPStrategy = appconfig.IPStrategy(uf.IPStrategy)
	}

	var proxy *appconfig.ProxyConfig
	if uf.Proxy != "" {
		p, err := appconfig.ParseProxyConfig(uf.Proxy)
		if err != nil {
			return nil, false, err
		}
		proxy = &p
	}

	up := &appconfig.Upstream{
		Name:      name,
		Network:   network,
		Addresses: uf.Addresses,
		TLSHost:   uf.TLSHost,
		Proxy:     proxy,
		Options:   opts,
	}

	isDefault := uf.Default == nil || *uf.Default
	return up, isDefault, nil
}

// lines collects a DomainsFile's inline list plus every line of every
// referenced file, in order, for domainmatch.Build to parse.
func (df DomainsFile) lines() ([]string, error) {
	lines := append([]string{}, df.List...)
	for _, path := range df.Files {
		fileLines, err := readLines(path)
		if err != nil {
			return nil, err
		}
		lines = append(lines, fileLines...)
	}
	return lines, nil
}

func (rf RangesFile) compile() (*iprange.Set, error) {
	set := iprange.New()

	add := func(raw string) error {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			return nil
		}
		p, err := parsePrefix(raw)
		if err != nil {
			return err
		}
		set.Add(p)
		return nil
	}

	for _, raw := range rf.List {
		if err := add(raw); err != nil {
			return nil, err
		}
	}
	for _, path := range rf.Files {
		lines, err := readLines(path)
		if err != nil {
			return nil, err
		}
		for _, raw := range lines {
			if err := add(raw); err != nil {
				return nil, err
			}
		}
	}

	set.Simplify()
	return set, nil
}

func (rr RequestRuleFile) compile() (appconfig.RequestRule, error) {
	types, err := compileTypes(rr.Types)
	if err != nil {
		return appconfig.RequestRule{}, err
	}
	if len(rr.Upstreams) == 0 {
		return appconfig.RequestRule{}, errors.Error("request rule has no upstreams")
	}
	return appconfig.RequestRule{Domains: rr.Domains, Types: types, Upstreams: rr.Upstreams}, nil
}

func (rr ResponseRuleFile) compile() (appconfig.ResponseRule, error) {
	var action appconfig.RuleAction
	switch strings.ToLower(rr.Action) {
	case "accept", "":
		action = appconfig.ActionAccept
	case "drop":
		action = appconfig.ActionDrop
	default:
		return appconfig.ResponseRule{}, fmt.Errorf("unknown action %q", rr.Action)
	}

	return appconfig.ResponseRule{
		Upstreams: rr.Upstreams,
		Ranges:    rr.Ranges,
		Domains:   rr.Domains,
		Action:    action,
	}, nil
}

func compileTypes(names []string) ([]uint16, error) {
	if len(names) == 0 {
		return nil, nil
	}
	out := make([]uint16, 0, len(names))
	for _, name := range names {
		t, err := appconfig.RecordTypeFromString(strings.ToUpper(name))
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// readLines reads path line by line. It first checks the path with
// utils.FileExists so callers get a clear "missing file" error before the
// os-level one.
func readLines(path string) ([]string, error) {
	exists, err := utils.FileExists(path)
	if err != nil {
		return nil, errors.Annotate(err, "checking %q: %w", path)
	}
	if !exists {
		return nil, fmt.Errorf("file %q does not exist", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Annotate(err, "opening %q: %w", path)
	}
	defer func() { _ = f.Close() }()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Annotate(err, "reading %q: %w", path)
	}
	return lines, nil
}
