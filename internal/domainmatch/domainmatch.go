// Package domainmatch implements a named domain-group matcher combining a
// compiled regular-expression set with a label-tree (suffix) matcher.
package domainmatch

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

// Group is a compiled domain group: a set of regular expressions plus a
// suffix label tree.  A name matches the group if any regex matches, or if
// the name is a descendant of (or equal to) any suffix registered in the
// tree.  Group is immutable once built and safe for concurrent use.
type Group struct {
	regexes []*regexp.Regexp
	suffix  *suffixNode
}

// suffixNode is one level of the reversed-label suffix tree.  A node with
// terminal == true means any name whose labels, read right to left, pass
// through this node belongs to the group.
type suffixNode struct {
	children map[string]*suffixNode
	terminal bool
}

func newSuffixNode() *suffixNode {
	return &suffixNode{children: map[string]*suffixNode{}}
}

// Build compiles a domain Group from raw configuration lines.  Each line is
// one of:
//
//   - empty or starting with "#": ignored.
//   - "regexp:<pattern>": compiled into the regex set.
//   - "full:<suffix>" or "<suffix>": a bare domain suffix; "full:" and any
//     leading "." are stripped.
//
// Build fails fast (returns an error) the first time a regexp fails to
// compile, mirroring the fail-fast configuration semantics of
// [regexp.MustCompile]-style validation done at load time rather than at
// match time.
func Build(lines []string) (*Group, error) {
	g := &Group{suffix: newSuffixNode()}

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		switch {
		case strings.HasPrefix(line, "regexp:"):
			pattern := strings.TrimPrefix(line, "regexp:")
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("domainmatch: compiling regexp %q: %w", pattern, err)
			}
			g.regexes = append(g.regexes, re)

		default:
			suffix := strings.TrimPrefix(line, "full:")
			suffix = strings.TrimPrefix(suffix, ".")
			g.addSuffix(suffix)
		}
	}

	return g, nil
}

// BuildFromReader is a convenience wrapper around Build that reads
// configuration lines from r.
func BuildFromReader(r io.Reader) (*Group, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("domainmatch: reading lines: %w", err)
	}

	return Build(lines)
}

func (g *Group) addSuffix(suffix string) {
	suffix = normalizeName(suffix)
	if suffix == "" {
		return
	}

	labels := splitReversed(suffix)
	node := g.suffix
	for _, label := range labels {
		child, ok := node.children[label]
		if !ok {
			child = newSuffixNode()
			node.children[label] = child
		}
		node = child
	}
	node.terminal = true
}

// Matches reports whether name belongs to g: any regex matches the trimmed
// name, or the name is a descendant of (or equal to) a registered suffix.
func Matches(g *Group, name string) bool {
	trimmed := normalizeName(name)

	for _, re := range g.regexes {
		if re.MatchString(trimmed) {
			return true
		}
	}

	return g.containsSuffix(trimmed)
}

func (g *Group) containsSuffix(name string) bool {
	labels := splitReversed(name)
	node := g.suffix
	for _, label := range labels {
		child, ok := node.children[label]
		if !ok {
			return node.terminal
		}
		if child.terminal {
			return true
		}
		node = child
	}
	return node.terminal
}

// normalizeName trims exactly one trailing dot (the DNS root label
// separator) and lower-cases the result; non-ASCII labels are converted via
// IDNA ToASCII so that suffix-tree lookups compare apples to apples
// regardless of whether the query arrived as Unicode or punycode.
func normalizeName(name string) string {
	name = strings.TrimSuffix(name, ".")
	if ascii, err := idna.Lookup.ToASCII(name); err == nil {
		name = ascii
	}
	return strings.ToLower(name)
}

// splitReversed splits name on "." and returns the labels in reverse
// (TLD-first) order, e.g. "www.example.com" -> ["com", "example", "www"].
func splitReversed(name string) []string {
	if name == "" {
		return nil
	}
	parts := strings.Split(name, ".")
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return parts
}
