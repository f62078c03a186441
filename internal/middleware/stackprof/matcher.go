package stackprof

import (
	"regexp"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/wudi/stackprof/internal/errors"
)

// PathMatcher decides whether a request path is eligible for profiling.
type PathMatcher interface {
	Match(path string) bool
}

type matchAll struct{}

func (matchAll) Match(string) bool { return true }

// regexpMatcher uses unanchored MatchString semantics; anchors belong in
// the pattern itself.
type regexpMatcher struct {
	re *regexp.Regexp
}

func (m regexpMatcher) Match(path string) bool { return m.re.MatchString(path) }

type globMatcher struct {
	pattern string
}

func (m globMatcher) Match(path string) bool {
	ok, _ := doublestar.Match(m.pattern, path)
	return ok
}

type allOf []PathMatcher

func (a allOf) Match(path string) bool {
	for _, m := range a {
		if !m.Match(path) {
			return false
		}
	}
	return true
}

// NewPathMatcher builds the matcher once at construction. A precompiled
// pattern wins over the expression string; a glob, when set, must match too.
// With nothing configured every path matches.
func NewPathMatcher(expr string, compiled *regexp.Regexp, glob string) (PathMatcher, error) {
	var ms allOf

	switch {
	case compiled != nil:
		ms = append(ms, regexpMatcher{re: compiled})
	case expr != "":
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, errors.InvalidPattern(expr, err)
		}
		ms = append(ms, regexpMatcher{re: re})
	}

	if glob != "" {
		if !doublestar.ValidatePattern(glob) {
			return nil, errors.InvalidPattern(glob, doublestar.ErrBadPattern)
		}
		ms = append(ms, globMatcher{pattern: glob})
	}

	switch len(ms) {
	case 0:
		return matchAll{}, nil
	case 1:
		return ms[0], nil
	}
	return ms, nil
}
