package cache

import (
	"fmt"
	"sort"
	"strings"
)

// searchPathRow is one row of the search-path table, spec section 3:
// "(mount-prefix, template-URL) pairs... mount prefixes may contain
// `{var}` placeholders; at lookup time, the longest matching prefix
// whose placeholders bind to the incoming path wins."
type searchPathRow struct {
	match   []string // match split on "/", "{var}" segments kept literal
	handler string
	target  string
	options map[string]string
	// specificity is the number of literal (non-{var}) segments, used
	// to break ties among prefixes of equal matched length in favor of
	// the more specific row.
	specificity int
}

// SearchPathTable resolves incoming project paths to a handler id and
// a handler-specific target URI, per the longest-prefix binding rule.
// Invariant (spec section 3): identical across all children of a pool
// at all times after a reconfiguration completes — callers must build
// a fresh table from the same config and swap it in atomically.
type SearchPathTable struct {
	rows []searchPathRow
}

// NewSearchPathTable compiles config rows (match, handler, target,
// options) into a table ready for Resolve. Rows are later tried
// longest-match first.
func NewSearchPathTable(rows []SearchPathRow) *SearchPathTable {
	compiled := make([]searchPathRow, 0, len(rows))
	for _, r := range rows {
		segs := strings.Split(strings.Trim(r.Match, "/"), "/")
		specificity := 0
		for _, s := range segs {
			if !isVar(s) {
				specificity++
			}
		}
		compiled = append(compiled, searchPathRow{
			match:       segs,
			handler:     r.Handler,
			target:      r.Target,
			options:     r.Options,
			specificity: specificity,
		})
	}

	// Longest (most segments) first, then most specific (fewest {var}s) first.
	sort.SliceStable(compiled, func(i, j int) bool {
		if len(compiled[i].match) != len(compiled[j].match) {
			return len(compiled[i].match) > len(compiled[j].match)
		}
		return compiled[i].specificity > compiled[j].specificity
	})

	return &SearchPathTable{rows: compiled}
}

// SearchPathRow is the plain-data input to NewSearchPathTable (kept
// separate from the internal compiled form so config.SearchPath can be
// adapted into it without this package depending on pkg/config).
type SearchPathRow struct {
	Match   string
	Handler string
	Target  string
	Options map[string]string
}

func isVar(seg string) bool {
	return strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}")
}

// Resolve finds the longest matching row for path and instantiates its
// target template with the captured {var} bindings, returning the
// handler id and the handler-specific URI.
func (t *SearchPathTable) Resolve(path string) (handlerID, target string, ok bool) {
	pathSegs := strings.Split(strings.Trim(path, "/"), "/")

	for _, row := range t.rows {
		if len(row.match) > len(pathSegs) {
			continue
		}
		bindings := make(map[string]string)
		matched := true
		for i, seg := range row.match {
			if isVar(seg) {
				name := seg[1 : len(seg)-1]
				bindings[name] = pathSegs[i]
				continue
			}
			if seg != pathSegs[i] {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}

		// Unmatched trailing path segments bind to a synthetic "rest" capture.
		if len(pathSegs) > len(row.match) {
			bindings["rest"] = strings.Join(pathSegs[len(row.match):], "/")
		}

		return row.handler, instantiate(row.target, bindings), true
	}
	return "", "", false
}

func instantiate(template string, bindings map[string]string) string {
	result := template
	for k, v := range bindings {
		result = strings.ReplaceAll(result, fmt.Sprintf("{%s}", k), v)
	}
	return result
}
