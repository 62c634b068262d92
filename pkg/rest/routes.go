package rest

import (
	"regexp"
	"sort"
)

type route struct {
	pattern string
	regex   *regexp.Regexp // nil for literal-only patterns
	handler Handler
}

// routeTable holds the routes of one method. Exact pattern matches are
// looked up in literal; patterns that need regex evaluation are also kept in
// ordered, sorted by pattern string, and tried in that order.
type routeTable struct {
	literal map[string]*route
	ordered []*route
}

func newRouteTable() *routeTable {
	return &routeTable{literal: make(map[string]*route)}
}

func (t *routeTable) bind(pattern string, regex *regexp.Regexp, handler Handler) {
	if existing, ok := t.literal[pattern]; ok {
		existing.handler = handler
		return
	}

	r := &route{pattern: pattern, regex: regex, handler: handler}
	t.literal[pattern] = r
	if regex == nil {
		return
	}

	i := sort.Search(len(t.ordered), func(i int) bool {
		return t.ordered[i].pattern >= pattern
	})
	t.ordered = append(t.ordered, nil)
	copy(t.ordered[i+1:], t.ordered[i:])
	t.ordered[i] = r
}

func (t *routeTable) match(path string) (Handler, bool) {
	if r, ok := t.literal[path]; ok {
		return r.handler, true
	}
	for _, r := range t.ordered {
		if r.regex.MatchString(path) {
			return r.handler, true
		}
	}
	return nil, false
}

func (t *routeTable) patterns() []string {
	out := make([]string, 0, len(t.literal))
	for pattern := range t.literal {
		out = append(out, pattern)
	}
	sort.Strings(out)
	return out
}

// compilePattern compiles pattern as a full-path match. Patterns without
// regex metacharacters return nil: a literal comparison is equivalent.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	if regexp.QuoteMeta(pattern) == pattern {
		return nil, nil
	}
	return regexp.Compile("^(?:" + pattern + ")$")
}
