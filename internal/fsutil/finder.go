// Package fsutil provides file system utility functions.
package fsutil

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/gobwas/glob"
)

// FindFiles recursively searches rootPath for files whose base name matches
// any of the given glob patterns (e.g. "*.hcl", "*.{yaml,yml}"). The result
// is sorted so that merge order is stable across runs.
func FindFiles(rootPath string, patterns ...string) ([]string, error) {
	if len(patterns) == 0 {
		panic("at least one pattern is required")
	}

	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}

	var files []string
	err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		for _, g := range globs {
			if g.Match(d.Name()) {
				files = append(files, path)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}
