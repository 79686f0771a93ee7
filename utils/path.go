package utils

import (
	"path/filepath"
	"strings"
)

// IsPathWithin reports whether p, after resolving symlinks, lies inside any
// of roots. A root counts as within itself.
func IsPathWithin(p string, roots []string) bool {
	absPath, err := resolve(p)
	if err != nil {
		return false
	}
	for _, root := range roots {
		absRoot, err := resolve(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(absRoot, absPath)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func resolve(p string) (string, error) {
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		resolved = p
	}
	return filepath.Abs(resolved)
}
