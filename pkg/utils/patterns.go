// Package utils provides small helpers shared across Stagehand packages
package utils

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// ExclusionMatcher decides which filesystem paths watch mode ignores.
// Patterns apply to individual path segments: a literal name such as
// "__pycache__" excludes any file or directory with that name anywhere
// in a watched tree, and a glob such as "*.pyc" excludes every segment
// it matches. Whole-path patterns are deliberately not supported; watch
// exclusions are names, not locations.
type ExclusionMatcher struct {
	names map[string]bool
	globs []*regexp.Regexp
}

// NewExclusionMatcher compiles a set of exclusion patterns. Literal
// names are kept in a set; patterns containing glob metacharacters are
// compiled to anchored regular expressions.
func NewExclusionMatcher(patterns []string) (*ExclusionMatcher, error) {
	m := &ExclusionMatcher{names: make(map[string]bool)}

	for _, pattern := range patterns {
		pattern = strings.TrimSuffix(strings.TrimSpace(pattern), "/")
		if pattern == "" {
			continue
		}
		if strings.ContainsRune(pattern, '/') {
			return nil, fmt.Errorf("exclusion pattern %q contains a path separator; exclusions match names, not paths", pattern)
		}
		if !strings.ContainsAny(pattern, "*?[") {
			m.names[pattern] = true
			continue
		}
		re, err := globRegexp(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid exclusion pattern %q: %w", pattern, err)
		}
		m.globs = append(m.globs, re)
	}

	return m, nil
}

// IsExcluded reports whether any segment of path matches an exclusion
func (m *ExclusionMatcher) IsExcluded(path string) bool {
	for _, segment := range strings.Split(filepath.ToSlash(path), "/") {
		if segment == "" {
			continue
		}
		if m.names[segment] {
			return true
		}
		for _, re := range m.globs {
			if re.MatchString(segment) {
				return true
			}
		}
	}
	return false
}

// FilterPaths returns the paths that are not excluded
func (m *ExclusionMatcher) FilterPaths(paths []string) []string {
	var kept []string
	for _, path := range paths {
		if !m.IsExcluded(path) {
			kept = append(kept, path)
		}
	}
	return kept
}

// DefaultExclusions returns the names watch mode ignores unless the
// configuration turns them off. The list covers VCS bookkeeping,
// Python bytecode and tool caches, editor temp files, and Stagehand's
// own state directory, none of which are provisioning inputs.
func DefaultExclusions() []string {
	return []string{
		".git", ".svn", ".hg",
		".stagehand",
		"node_modules",
		"__pycache__", "*.pyc", "*.pyo",
		"*.egg-info", ".eggs",
		".pytest_cache", ".tox", ".mypy_cache",
		".idea", ".vscode",
		"*.swp", "*.swo", "*~",
		".DS_Store",
		"*.tmp", "*.log",
	}
}

// globRegexp converts a single-segment glob to an anchored regexp.
// Supported metacharacters are *, ? and [...] classes; since segments
// never contain separators, * simply matches any run of characters.
func globRegexp(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("^")

	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		case '[':
			end := strings.IndexByte(pattern[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("unclosed character class")
			}
			class := pattern[i : i+end+1]
			if strings.HasPrefix(class, "[!") {
				class = "[^" + class[2:]
			}
			sb.WriteString(class)
			i += end
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}

	sb.WriteString("$")
	return regexp.Compile(sb.String())
}
