package chainstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Set is a group of open chain stores, one per chain.
type Set []*Reader

// Discover lists the stores in dir matching pattern, sorted by path.
func Discover(dir, pattern string) ([]string, error) {
	info, statErr := os.Stat(dir)
	if statErr != nil {
		return nil, fmt.Errorf("discover: %w", statErr)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("discover: %s is not a directory", dir)
	}

	paths, globErr := filepath.Glob(filepath.Join(dir, pattern))
	if globErr != nil {
		return nil, fmt.Errorf("discover %q: %w", pattern, globErr)
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: %s in %s", ErrNoStores, pattern, dir)
	}

	sort.Strings(paths)

	return paths, nil
}

// OpenAll opens every path. On failure the stores already opened are closed.
func OpenAll(paths []string) (Set, error) {
	set := make(Set, 0, len(paths))

	for _, path := range paths {
		r, err := Open(path)
		if err != nil {
			return nil, errors.Join(err, set.Close())
		}

		set = append(set, r)
	}

	return set, nil
}

// Close closes every store and joins their errors.
func (s Set) Close() error {
	var errs []error

	for _, r := range s {
		errs = append(errs, r.Close())
	}

	return errors.Join(errs...)
}
