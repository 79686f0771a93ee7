package utils

import "testing"

func TestShouldInclude(t *testing.T) {
	matcher := NewPatternMatcher(nil, nil)
	if !matcher.ShouldInclude("file.txt") {
		t.Fatal("expected include by default")
	}
	matcher = NewPatternMatcher([]string{"*.php"}, nil)
	if matcher.ShouldInclude("readme.txt") {
		t.Fatal("should not include unmatched include pattern")
	}
	if !matcher.ShouldInclude("wp-content/index.php") {
		t.Fatal("should include matching include pattern")
	}
	matcher = NewPatternMatcher(nil, []string{"cache"})
	if matcher.ShouldInclude("wp-content/cache") {
		t.Fatal("should exclude matching exclude pattern")
	}
	if !matcher.ShouldInclude("wp-content/plugins") {
		t.Fatal("should include when exclude does not match")
	}
	matcher = NewPatternMatcher(nil, []string{`(^|/)\.git(/|$)`})
	if matcher.ShouldInclude("plugins/akismet/.git") {
		t.Fatal("should match regex exclude pattern")
	}
	var nilMatcher *PatternMatcher
	if !nilMatcher.ShouldInclude("anything") {
		t.Fatal("nil matcher includes everything")
	}
}

func TestInvalidPatternsReported(t *testing.T) {
	matcher := NewPatternMatcher(nil, []string{"[", " ", "*.log"})
	invalid := matcher.Invalid()
	// "*.log" is a glob, not a valid regular expression.
	if len(invalid) != 2 || invalid[0] != "[" || invalid[1] != "*.log" {
		t.Fatalf("unexpected invalid patterns: %v", invalid)
	}
	if matcher.ShouldInclude("debug.log") {
		t.Fatal("glob should still exclude debug.log")
	}
}
