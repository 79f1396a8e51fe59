package variables

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/jobflow/jobflow/pkg/models"
)

// ScanFileRegex enumerates a file-regex variable's base values by
// matching filenames in dir, or directory paths relative to dir when
// the variable sets match_dirs. The captured group is cast through the
// variable's type and the optional subset filter applied. Matches are
// sorted so repeated scans of the same directory are stable.
//
// A missing directory is not an error: at submit time the directory may
// be produced by an upstream group, so the variable is simply deferred.
func ScanFileRegex(fr *models.FileRegex, dir string) ([]string, error) {
	re, err := regexp.Compile(fr.Pattern)
	if err != nil {
		return nil, fmt.Errorf("unreadable file-regex pattern %q: %w", fr.Pattern, err)
	}

	var candidates []string

	if fr.MatchDirs {
		candidates, err = relativeDirs(dir)
	} else {
		candidates, err = fileNames(dir)
	}

	if err != nil {
		return nil, err
	}

	values := make([]string, 0)

	for _, candidate := range candidates {
		m := re.FindStringSubmatch(candidate)
		if m == nil {
			continue
		}

		if fr.Group+1 >= len(m) {
			return nil, fmt.Errorf("file-regex group %d out of range for pattern %q", fr.Group, fr.Pattern)
		}

		// Group 0 would be the whole match; captured groups start at 1.
		raw := m[fr.Group+1]

		cast, err := fr.Type.Cast(raw)
		if err != nil {
			return nil, err
		}

		values = append(values, cast)
	}

	if len(fr.Subset) > 0 {
		keep := make(map[string]struct{}, len(fr.Subset))
		for _, s := range fr.Subset {
			keep[s] = struct{}{}
		}

		filtered := values[:0]

		for _, v := range values {
			if _, ok := keep[v]; ok {
				filtered = append(filtered, v)
			}
		}

		values = filtered
	}

	sort.Strings(values)

	return values, nil
}

func fileNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan directory %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}

	return names, nil
}

// relativeDirs walks dir and returns every subdirectory path relative
// to it, slash separated.
func relativeDirs(dir string) ([]string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}

	paths := make([]string, 0)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() || path == dir {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		paths = append(paths, filepath.ToSlash(rel))

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory %s: %w", dir, err)
	}

	return paths, nil
}
