// Package scanner finds files below a directory whose path matches a pattern
// and hashes each of them.
//
// Results are sorted by relative path, so an unchanged tree always yields the
// same result regardless of filesystem enumeration order.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"

	"mythicwp/hasher"
	"mythicwp/logger"
	"mythicwp/utils"

	"golang.org/x/time/rate"
)

// ErrNotADirectory is returned when the scan root is missing or is not a
// directory. It is distinct from a scan that matched nothing.
var ErrNotADirectory = errors.New("not a directory")

// UnreadableMarker replaces the hash of a file that could not be read.
const UnreadableMarker = "_unreadable"

type Options struct {
	// Algorithm defaults to hasher.Default.
	Algorithm string
	// Exclude drops matching relative paths before pattern filtering.
	Exclude *utils.PatternMatcher
	// Limiter, when set, throttles file hashing.
	Limiter *rate.Limiter
	// Progress is called after each file is hashed.
	Progress func(rel string)
}

type Scanner struct {
	opts   Options
	hashed atomic.Int64
	active atomic.Int32
}

func New(opts Options) *Scanner {
	if opts.Algorithm == "" {
		opts.Algorithm = hasher.Default
	}
	return &Scanner{opts: opts}
}

// Hashed returns the number of files hashed by s so far.
func (s *Scanner) Hashed() int64 {
	return s.hashed.Load()
}

// Active reports whether a Scan is in progress.
func (s *Scanner) Active() bool {
	return s.active.Load() > 0
}

// Scan hashes every file below root whose full path matches pattern. Files
// that cannot be read stay in the result with UnreadableMarker as their hash.
func (s *Scanner) Scan(ctx context.Context, root string, pattern *regexp.Regexp, recursive bool) (*Result, error) {
	s.active.Add(1)
	defer s.active.Add(-1)

	matches, err := s.match(ctx, root, pattern, recursive)
	if err != nil {
		return nil, err
	}

	result := &Result{Root: filepath.Clean(root), Entries: make([]FileEntry, 0, len(matches))}
	for _, m := range matches {
		if s.opts.Limiter != nil {
			if err := s.opts.Limiter.Wait(ctx); err != nil {
				return nil, err
			}
		} else if err := ctx.Err(); err != nil {
			return nil, err
		}

		rel := filepath.ToSlash(m.rel)
		sum, err := hasher.HashFile(m.full, s.opts.Algorithm)
		if err != nil {
			logger.Warnf("Failed to hash %s: %v", m.full, err)
			sum = UnreadableMarker
			result.Unreadable++
		}
		result.Entries = append(result.Entries, FileEntry{Path: rel, Hash: sum})
		s.hashed.Add(1)
		if s.opts.Progress != nil {
			s.opts.Progress(rel)
		}
	}
	return result, nil
}

func (s *Scanner) match(ctx context.Context, root string, pattern *regexp.Regexp, recursive bool) ([]candidate, error) {
	root = filepath.Clean(root)
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", root, ErrNotADirectory)
	}

	candidates, err := s.collect(ctx, root, recursive)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("enumerate %s: %w", root, err)
	}

	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	matched := candidates[:0]
	for _, c := range candidates {
		full := prefix + c.rel
		if pattern != nil && !pattern.MatchString(full) {
			continue
		}
		c.rel = strings.TrimPrefix(full, prefix)
		matched = append(matched, c)
	}
	return matched, nil
}

// Scan runs a one-off scan with default options.
func Scan(ctx context.Context, root string, pattern *regexp.Regexp, recursive bool) (*Result, error) {
	return New(Options{}).Scan(ctx, root, pattern, recursive)
}
