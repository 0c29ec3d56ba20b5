// Package rules implements the pure, synchronous rule engine: selecting
// which upstreams a query fans out to, and deciding whether a candidate
// answer from a given upstream is accepted or dropped.
package rules

import (
	"net/netip"

	"github.com/zh-yjie/ya-dns/internal/appconfig"
	"github.com/zh-yjie/ya-dns/internal/domainmatch"
)

// Action is the verdict AcceptResponse returns for a candidate lookup.
type Action int

const (
	Accept Action = iota
	Drop
)

// SelectUpstreams returns the ordered list of upstream names that should
// answer a query for name/qtype under cfg: the first request rule whose
// domains and types predicates both hold, or cfg.Defaults if none match.
// It is a pure function of (cfg, name, qtype): the same inputs always
// produce the same output.
func SelectUpstreams(cfg *appconfig.AppConfig, name string, qtype uint16) []string {
	for _, rule := range cfg.RequestRules {
		if matchesDomains(cfg, rule.Domains, name) && matchesTypes(rule.Types, qtype) {
			return rule.Upstreams
		}
	}
	return cfg.Defaults
}

func matchesTypes(types []uint16, qtype uint16) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if t == qtype {
			return true
		}
	}
	return false
}

// matchesDomains evaluates a request/response rule's domains predicate: an
// absent list matches everything; otherwise the rule matches if ANY
// pattern evaluates true after negation folding. A name not found in
// cfg.Domains makes that one pattern false (no group to test against).
func matchesDomains(cfg *appconfig.AppConfig, patterns []string, name string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		groupName, negate := foldNegation(p)
		group, ok := cfg.Domains[groupName]
		if !ok {
			continue
		}
		if domainmatch.Matches(group, name) != negate {
			return true
		}
	}
	return false
}

// foldNegation strips leading '!' characters from p and returns the bare
// name plus whether an odd number of '!' were present: "!!x" == "x",
// "!x" == negation of "x".
func foldNegation(p string) (name string, negate bool) {
	for len(p) > 0 && p[0] == '!' {
		negate = !negate
		p = p[1:]
	}
	return p, negate
}

// AcceptResponse decides whether a candidate lookup from upstream
// upstreamName, for the query domain, should be accepted or dropped. It is
// pure and reads cfg only: an empty lookup is always dropped; absent a
// matching response rule the default action is Accept.
//
// firstAddr/hasFirstAddr carry the lookup's first A/AAAA address, per the
// component contract that only the first such record is consulted by
// range predicates (records after it, and of other types, are ignored).
func AcceptResponse(
	cfg *appconfig.AppConfig,
	domain string,
	upstreamName string,
	hasRecords bool,
	firstAddr netip.Addr,
	hasFirstAddr bool,
) Action {
	if !hasRecords {
		return Drop
	}

	for _, rule := range cfg.ResponseRules {
		if !matchesUpstreams(rule.Upstreams, upstreamName) {
			continue
		}
		if !matchesRanges(cfg, rule.Ranges, firstAddr, hasFirstAddr) {
			continue
		}
		if !matchesDomains(cfg, rule.Domains, domain) {
			continue
		}

		if rule.Action == appconfig.ActionDrop {
			return Drop
		}
		return Accept
	}

	return Accept
}

func matchesUpstreams(names []string, upstreamName string) bool {
	if len(names) == 0 {
		return true
	}
	for _, n := range names {
		if n == upstreamName {
			return true
		}
	}
	return false
}

// matchesRanges evaluates a response rule's ranges predicate against the
// candidate's first A/AAAA address: absent ⇒ true; otherwise true iff ANY
// pattern's range.Contains(addr) XOR its negation holds. A response with
// no A/AAAA record at all makes every pattern false. A missing range name
// also makes its pattern false.
func matchesRanges(cfg *appconfig.AppConfig, patterns []string, addr netip.Addr, hasAddr bool) bool {
	if len(patterns) == 0 {
		return true
	}
	if !hasAddr {
		return false
	}

	for _, p := range patterns {
		rangeName, negate := foldNegation(p)
		set, ok := cfg.Ranges[rangeName]
		if !ok {
			continue
		}
		if set.Contains(addr) != negate {
			return true
		}
	}
	return false
}
