package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"mythicwp/logger"
	"mythicwp/utils"
)

type candidate struct {
	full string
	rel  string
}

type dirItem struct {
	path string
	rel  string
}

// collect enumerates the non-directory entries below root. Directories are
// descended into only when recursive is set. Symlinked directories are
// followed when their target stays inside root and has not been visited.
func (s *Scanner) collect(ctx context.Context, root string, recursive bool) ([]candidate, error) {
	visited := make(map[string]struct{})
	markVisited(visited, root)

	var out []candidate
	stack := []dirItem{{path: root}}
	for len(stack) > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(current.path)
		if err != nil {
			if current.rel == "" {
				return nil, err
			}
			logger.Warnf("Failed to read directory %s: %v", current.path, err)
			continue
		}

		for _, entry := range entries {
			full := filepath.Join(current.path, entry.Name())
			rel := entry.Name()
			if current.rel != "" {
				rel = filepath.Join(current.rel, entry.Name())
			}

			isDir := entry.IsDir()
			if entry.Type()&fs.ModeSymlink != 0 {
				if info, statErr := os.Stat(full); statErr == nil && info.IsDir() {
					isDir = true
				}
			}

			if !s.opts.Exclude.ShouldInclude(filepath.ToSlash(rel)) {
				continue
			}

			if !isDir {
				out = append(out, candidate{full: full, rel: rel})
				continue
			}
			if !recursive {
				continue
			}
			if entry.Type()&fs.ModeSymlink != 0 && !utils.IsPathWithin(full, []string{root}) {
				logger.Debugf("Not following symlinked directory outside scan root: %s", full)
				continue
			}
			if !markVisited(visited, full) {
				logger.Debugf("Skipping already visited directory: %s", full)
				continue
			}
			stack = append(stack, dirItem{path: full, rel: rel})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].rel < out[j].rel })
	return out, nil
}

// markVisited records the resolved location of dir and reports whether it was
// new.
func markVisited(visited map[string]struct{}, dir string) bool {
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		resolved = dir
	}
	if _, seen := visited[resolved]; seen {
		return false
	}
	visited[resolved] = struct{}{}
	return true
}
