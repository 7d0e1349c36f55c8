package config

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// IsTaskFile returns true if the file has a recognized task file extension
func IsTaskFile(path string) bool {
	_, err := FormatFromPath(path)
	return err == nil
}

// DiscoverFiles finds all task files below dir in lexical order.
// Hidden files and directories (names starting with ".") are skipped.
func DiscoverFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		// Skip hidden files and directories (e.g. .git, .swp files)
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.IsDir() && IsTaskFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// LoadAll loads a single task file, or every task file below a directory,
// and concatenates their tasks in order.
func LoadAll(path string) (*Config, []string, error) {
	path = ExpandPath(path)

	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat task source: %w", err)
	}

	files := []string{path}
	if info.IsDir() {
		files, err = DiscoverFiles(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to discover task files: %w", err)
		}
		if len(files) == 0 {
			return nil, nil, fmt.Errorf("no task files found in %s", path)
		}
	}

	merged := &Config{}
	for _, f := range files {
		cfg, err := Load(f)
		if err != nil {
			return nil, nil, err
		}
		merged.Tasks = append(merged.Tasks, cfg.Tasks...)
	}

	return merged, files, nil
}
