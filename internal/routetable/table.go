package routetable

import (
	"net"
	"sort"
	"strings"

	"github.com/angeloszaimis/prefix-proxy/internal/proxyerr"
)

// Entry is one configured routing rule: requests whose path starts with
// Prefix are forwarded to Addr, with the prefix optionally stripped first.
type Entry struct {
	Prefix      string
	Addr        string
	StripPrefix bool
}

// Table is a compiled, immutable set of routing rules. It is safe for
// concurrent use by any number of goroutines.
type Table struct {
	entries []Entry
}

// Build compiles a table from a prefix-keyed mapping of target descriptors.
func Build(targets map[string]Target) (*Table, error) {
	entries := make([]Entry, 0, len(targets))
	for prefix, t := range targets {
		entries = append(entries, Entry{
			Prefix:      prefix,
			Addr:        t.Addr,
			StripPrefix: t.StripPrefix,
		})
	}
	return BuildEntries(entries)
}

// Target is the configuration-facing descriptor for one backend.
type Target struct {
	Addr        string
	StripPrefix bool
}

// BuildEntries compiles a table from a slice of rules. It fails with a
// ConfigError on an empty prefix, a duplicate prefix, or a target address
// that is not a valid host:port pair. Entries are stored sorted by
// descending prefix length so that lookup is a deterministic
// longest-prefix-first scan.
func BuildEntries(entries []Entry) (*Table, error) {
	seen := make(map[string]struct{}, len(entries))

	compiled := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Prefix == "" {
			return nil, &proxyerr.ConfigError{Field: "prefix", Reason: "must not be empty"}
		}
		if _, dup := seen[e.Prefix]; dup {
			return nil, &proxyerr.ConfigError{Field: "prefix", Reason: "duplicate prefix " + e.Prefix}
		}
		seen[e.Prefix] = struct{}{}

		host, port, err := net.SplitHostPort(e.Addr)
		if err != nil || host == "" || port == "" {
			return nil, &proxyerr.ConfigError{Field: "addr", Reason: "invalid target address " + e.Addr}
		}

		compiled = append(compiled, e)
	}

	sort.Slice(compiled, func(i, j int) bool {
		if len(compiled[i].Prefix) != len(compiled[j].Prefix) {
			return len(compiled[i].Prefix) > len(compiled[j].Prefix)
		}
		return compiled[i].Prefix < compiled[j].Prefix
	})

	return &Table{entries: compiled}, nil
}

// Resolve returns the rule matching path, together with the effective path
// to send upstream. A rule matches when path starts with its prefix; among
// matching rules the longest prefix wins. The third return value is false
// when no rule matches, which is a normal outcome, not an error.
//
// When the matched rule strips its prefix, the effective path is the
// remainder, normalized so it is either empty or starts with a path
// separator. Otherwise the effective path is the original path unchanged.
func (t *Table) Resolve(path string) (Entry, string, bool) {
	// entries are sorted longest-first, so the first match is the winner.
	for _, e := range t.entries {
		if !strings.HasPrefix(path, e.Prefix) {
			continue
		}

		if !e.StripPrefix {
			return e, path, true
		}

		rest := path[len(e.Prefix):]
		if rest != "" && rest[0] != '/' {
			rest = "/" + rest
		}
		return e, rest, true
	}

	return Entry{}, "", false
}

// Len returns the number of compiled rules.
func (t *Table) Len() int {
	return len(t.entries)
}
