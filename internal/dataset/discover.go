package dataset

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
)

// DiscoverShards returns the split's shard TAR files beneath root, sorted.
// Shards are named <split>-NNNNNN.tar, e.g. train-000000.tar.
func DiscoverShards(root, split string) ([]string, error) {
	pattern, err := regexp.Compile(`^` + regexp.QuoteMeta(split) + `-[0-9]{6,}\.tar$`)
	if err != nil {
		return nil, fmt.Errorf("discover shards: %w", err)
	}
	entries := make([]string, 0)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if pattern.MatchString(d.Name()) {
			entries = append(entries, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: discover shards under %s: %v", ErrDataUnavailable, root, err)
	}
	sort.Strings(entries)
	return entries, nil
}

// DiscoverByRoot scans each root independently.
func DiscoverByRoot(roots []string, split string) (map[string][]string, error) {
	result := make(map[string][]string, len(roots))
	for _, root := range roots {
		shards, err := DiscoverShards(root, split)
		if err != nil {
			return nil, err
		}
		result[root] = shards
	}
	return result, nil
}
