// Package producer provides the data sources of a package: directory trees,
// single files, links, literal directories and existing archives.
//
// Every producer emits deb.Entry values into a deb.Receiver. Entries are
// owned by root:root with mode 0644 (files) or 0755 (directories) unless a
// mapper says otherwise.
package producer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/moby/patternmatcher"

	"github.com/etnz/debmaker/deb"
	"github.com/etnz/debmaker/internal/logger"
)

// Default modes of produced entries.
const (
	DefaultFileMode int64 = 0644
	DefaultDirMode  int64 = 0755
)

// MissingPolicy selects what a producer does when its source does not exist.
type MissingPolicy int

const (
	// FailOnMissing returns a *NotFoundError.
	FailOnMissing MissingPolicy = iota
	// IgnoreMissing logs the missing source and produces nothing.
	IgnoreMissing
)

// ParseMissingPolicy accepts "fail" (default) and "ignore".
func ParseMissingPolicy(s string) (MissingPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail":
		return FailOnMissing, nil
	case "ignore":
		return IgnoreMissing, nil
	}
	return FailOnMissing, fmt.Errorf("unknown missing source policy %q", s)
}

// NotFoundError reports a producer source that does not exist.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("data source %s not found", e.Path)
}

// Unwrap makes errors.Is(err, fs.ErrNotExist) hold.
func (e *NotFoundError) Unwrap() error {
	return fs.ErrNotExist
}

// stat returns the file info of path. A missing path yields (nil, nil) under
// IgnoreMissing and a *NotFoundError otherwise.
func stat(ctx context.Context, path string, policy MissingPolicy) (fs.FileInfo, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		if policy == IgnoreMissing {
			logger.Infof(ctx, "Skipping missing data source %s", path)
			return nil, nil
		}
		return nil, &NotFoundError{Path: path}
	}
	if err != nil {
		return nil, err
	}
	return info, nil
}

// Filter selects entries by slash separated relative path.
//
// Patterns follow the .dockerignore syntax ("**" spans directories). A path
// matches when it or one of its parents matches a pattern. An empty Includes
// list includes everything.
type Filter struct {
	Includes []string
	Excludes []string
	// KeepDefaultExcludes disables deb.DefaultExcludes (VCS metadata,
	// editor backups).
	KeepDefaultExcludes bool
}

type matcher struct {
	includes *patternmatcher.PatternMatcher
	excludes *patternmatcher.PatternMatcher
	defaults bool
}

func (f Filter) compile() (*matcher, error) {
	m := &matcher{defaults: !f.KeepDefaultExcludes}
	var err error
	if len(f.Includes) > 0 {
		if m.includes, err = patternmatcher.New(f.Includes); err != nil {
			return nil, fmt.Errorf("invalid include pattern: %w", err)
		}
	}
	if len(f.Excludes) > 0 {
		if m.excludes, err = patternmatcher.New(f.Excludes); err != nil {
			return nil, fmt.Errorf("invalid exclude pattern: %w", err)
		}
	}
	return m, nil
}

// excluded reports whether rel is removed by the default or explicit excludes.
func (m *matcher) excluded(rel string) (bool, error) {
	if m.defaults && deb.IsDefaultExcluded(rel) {
		return true, nil
	}
	if m.excludes == nil {
		return false, nil
	}
	return m.excludes.MatchesOrParentMatches(filepath.FromSlash(rel))
}

func (m *matcher) included(rel string) (bool, error) {
	if m.includes == nil {
		return true, nil
	}
	return m.includes.MatchesOrParentMatches(filepath.FromSlash(rel))
}

// selected combines included and excluded.
func (m *matcher) selected(rel string) (bool, error) {
	ex, err := m.excluded(rel)
	if err != nil || ex {
		return false, err
	}
	return m.included(rel)
}

// receiver applies mapper on top of r.
func receiver(r deb.Receiver, mapper deb.Mapper) deb.Receiver {
	return deb.MappingReceiver(r, mapper)
}

func rootEntry(kind deb.EntryKind, path string, mode int64) deb.Entry {
	return deb.Entry{
		Kind:  kind,
		Path:  path,
		User:  deb.Root,
		Group: deb.Root,
		Mode:  mode,
	}
}
