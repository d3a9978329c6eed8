package condition

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

var patternCache sync.Map // string -> *regexp.Regexp

// compilePattern turns an item name pattern into a case-insensitive matcher.
//
// A pattern carrying regex markers (^ $ .* [ () is compiled as written and
// must match the whole name. Anything else is a literal substring match;
// "|" separates alternatives.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	if v, ok := patternCache.Load(pattern); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile("(?i)" + patternExpr(pattern))
	if err != nil {
		return nil, fmt.Errorf("item pattern %q: %w", pattern, err)
	}
	patternCache.Store(pattern, re)
	return re, nil
}

func isRegexPattern(p string) bool {
	return strings.ContainsAny(p, "^$[(") || strings.Contains(p, ".*")
}

func patternExpr(pattern string) string {
	p := strings.TrimSpace(pattern)
	if isRegexPattern(p) {
		return "^(?:" + p + ")$"
	}
	parts := strings.Split(p, "|")
	alts := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		alts = append(alts, regexp.QuoteMeta(part))
	}
	if len(alts) == 0 {
		return "^$"
	}
	return strings.Join(alts, "|")
}

// MatchItem reports whether an item name matches pattern.
func MatchItem(pattern, name string) (bool, error) {
	re, err := compilePattern(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(name), nil
}
