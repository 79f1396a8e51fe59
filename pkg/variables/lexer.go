package variables

import "regexp"

// Variable references are embedded in command and value templates as
// <<name>>. Names are any run of non-space characters, matched as few as
// possible, so adjacent references never overlap.
var refPattern = regexp.MustCompile(`<<([^<>\s]+?)>>`)

// ExtractNames returns every <<name>> reference in source, in order of
// appearance, duplicates included.
func ExtractNames(source string) []string {
	matches := refPattern.FindAllStringSubmatch(source, -1)
	names := make([]string, 0, len(matches))

	for _, m := range matches {
		names = append(names, m[1])
	}

	return names
}

// UniqueNames returns the distinct references in source in order of
// first appearance.
func UniqueNames(source string) []string {
	return dedupe(ExtractNames(source))
}

// CommandNames collects the distinct references across a command group's
// command templates and its directory template, in first-appearance
// order. This is the column order of the group's value matrix.
func CommandNames(commands []string, directory string) []string {
	names := make([]string, 0)

	for _, cmd := range commands {
		names = append(names, ExtractNames(cmd)...)
	}

	if directory != "" {
		names = append(names, ExtractNames(directory)...)
	}

	return dedupe(names)
}

// Substitute replaces each <<name>> in source with values[name]. Names
// missing from values are left in place.
func Substitute(source string, values map[string]string) string {
	return refPattern.ReplaceAllStringFunc(source, func(ref string) string {
		name := ref[2 : len(ref)-2]
		if v, ok := values[name]; ok {
			return v
		}

		return ref
	})
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))

	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}

		seen[n] = struct{}{}
		out = append(out, n)
	}

	return out
}
