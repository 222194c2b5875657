package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bmatcuk/doublestar/v4"
)

type pathExpander struct {
	logger       log.Logger
	pathModifier pathutil.PathModifier
	pathChecker  pathutil.PathChecker
}

func newPathExpander(logger log.Logger) pathExpander {
	return pathExpander{
		logger:       logger,
		pathModifier: pathutil.NewPathModifier(),
		pathChecker:  pathutil.NewPathChecker(),
	}
}

// expand resolves glob patterns to regular files. Directories and duplicates are dropped.
func (e pathExpander) expand(patterns []string) ([]string, error) {
	var expanded []string
	for _, pattern := range patterns {
		if !strings.ContainsAny(pattern, "*?[{") {
			expanded = append(expanded, pattern)
			continue
		}

		base, rest := doublestar.SplitPattern(pattern)
		absBase, err := e.pathModifier.AbsPath(base)
		if err != nil {
			return nil, err
		}
		matches, err := doublestar.Glob(os.DirFS(absBase), rest, doublestar.WithNoFollow())
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			e.logger.Warnf("No match for pattern: %s", pattern)
			continue
		}
		for _, match := range matches {
			expanded = append(expanded, filepath.Join(absBase, match))
		}
	}

	seen := map[string]bool{}
	var files []string
	for _, path := range expanded {
		absPath, err := e.pathModifier.AbsPath(path)
		if err != nil {
			return nil, err
		}
		if seen[absPath] {
			continue
		}
		seen[absPath] = true

		exists, err := e.pathChecker.IsPathExists(absPath)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("file doesn't exist: %s", path)
		}
		isDir, err := e.pathChecker.IsDirExists(absPath)
		if err != nil {
			return nil, err
		}
		if isDir {
			e.logger.Debugf("Skipping directory: %s", path)
			continue
		}

		files = append(files, absPath)
	}

	sort.Strings(files)
	return files, nil
}
