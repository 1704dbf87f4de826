// Package fileutil locates work-breakdown-structure documents on disk.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// markdownExts are the extensions treated as WBS documents.
var markdownExts = map[string]bool{
	".md":       true,
	".markdown": true,
}

// ExpandPaths resolves a mix of files and directories into a flat list of
// document paths. Files are passed through untouched; directories contribute
// their markdown files, sorted, without recursing. A directory containing no
// documents is an error.
func ExpandPaths(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to access path: %w", err)
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}

		found, err := markdownFiles(path)
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			return nil, fmt.Errorf("no markdown documents in %s", path)
		}
		files = append(files, found...)
	}
	return files, nil
}

// markdownFiles lists the markdown documents directly inside dir, sorted by
// name. Hidden files are skipped.
func markdownFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if markdownExts[strings.ToLower(filepath.Ext(entry.Name()))] {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
