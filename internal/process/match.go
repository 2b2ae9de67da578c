package process

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// NameMatcher filters records by executable name using a shell-style glob
// such as "svc*.exe". Matching is case-insensitive, as file names are on
// Windows.
type NameMatcher struct {
	g glob.Glob
}

// NewNameMatcher compiles pattern. An empty pattern matches every name.
func NewNameMatcher(pattern string) (*NameMatcher, error) {
	if pattern == "" {
		return &NameMatcher{}, nil
	}
	g, err := glob.Compile(strings.ToLower(pattern))
	if err != nil {
		return nil, fmt.Errorf("compile name pattern %q: %w", pattern, err)
	}
	return &NameMatcher{g: g}, nil
}

func (m *NameMatcher) Match(exe string) bool {
	if m == nil || m.g == nil {
		return true
	}
	return m.g.Match(strings.ToLower(exe))
}
