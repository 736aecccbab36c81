package deb

import (
	"path/filepath"

	"github.com/moby/patternmatcher"
)

// DefaultExcludes are the editor backups and version control files skipped
// by directory walks unless explicitly disabled.
var DefaultExcludes = []string{
	"**/*~",
	"**/#*#",
	"**/.#*",
	"**/%*%",
	"**/._*",
	"**/CVS",
	"**/.cvsignore",
	"**/SCCS",
	"**/vssver.scc",
	"**/.svn",
	"**/.DS_Store",
	"**/.git",
	"**/.gitattributes",
	"**/.gitignore",
	"**/.gitmodules",
	"**/.hg",
	"**/.hgignore",
	"**/.hgsub",
	"**/.hgsubstate",
	"**/.hgtags",
	"**/.bzr",
	"**/.bzrignore",
}

var defaultExcludeMatcher = mustMatcher(DefaultExcludes)

func mustMatcher(patterns []string) *patternmatcher.PatternMatcher {
	pm, err := patternmatcher.New(patterns)
	if err != nil {
		panic(err)
	}
	return pm
}

// IsDefaultExcluded reports whether the slash separated relative path p, or
// one of its parents, matches DefaultExcludes.
func IsDefaultExcluded(p string) bool {
	ok, err := defaultExcludeMatcher.MatchesOrParentMatches(filepath.FromSlash(ManifestPath(p)))
	return err == nil && ok
}
