package utils

import (
	"path"
	"regexp"
	"strings"
)

// PatternMatcher decides whether a slash-separated relative path is kept.
// Each pattern is tried both as a glob against the base name and as a
// regular expression against the whole path.
type PatternMatcher struct {
	includeGlobs []string
	includeRegex []*regexp.Regexp
	excludeGlobs []string
	excludeRegex []*regexp.Regexp
	invalid      []string
}

func NewPatternMatcher(includePatterns, excludePatterns []string) *PatternMatcher {
	m := &PatternMatcher{
		includeGlobs: nonEmpty(includePatterns),
		excludeGlobs: nonEmpty(excludePatterns),
	}
	m.includeRegex = m.compileRegex(m.includeGlobs)
	m.excludeRegex = m.compileRegex(m.excludeGlobs)
	return m
}

func (m *PatternMatcher) ShouldInclude(p string) bool {
	if m == nil {
		return true
	}
	if (len(m.includeGlobs) > 0 || len(m.includeRegex) > 0) && !m.matches(p, m.includeGlobs, m.includeRegex) {
		return false
	}
	if (len(m.excludeGlobs) > 0 || len(m.excludeRegex) > 0) && m.matches(p, m.excludeGlobs, m.excludeRegex) {
		return false
	}
	return true
}

// Invalid lists patterns that did not compile as regular expressions. They
// still apply as globs.
func (m *PatternMatcher) Invalid() []string {
	if m == nil {
		return nil
	}
	return m.invalid
}

func (m *PatternMatcher) matches(p string, globs []string, regexes []*regexp.Regexp) bool {
	base := path.Base(p)
	for _, pattern := range globs {
		if matched, _ := path.Match(pattern, base); matched {
			return true
		}
	}
	for _, re := range regexes {
		if re.MatchString(p) {
			return true
		}
	}
	return false
}

func (m *PatternMatcher) compileRegex(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			m.invalid = append(m.invalid, pattern)
			continue
		}
		compiled = append(compiled, re)
	}
	return compiled
}

func nonEmpty(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
