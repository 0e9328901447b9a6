package vfat

import "strings"

// splitPath splits a slash separated path into its components.
// Empty and "." components are dropped, ".." is kept and resolved through the
// on-disk entries.
func splitPath(path string) []string {
	var parts []string
	for _, part := range strings.Split(path, "/") {
		if part == "" || part == "." {
			continue
		}
		parts = append(parts, part)
	}
	return parts
}

// findEntry searches entries for name.
// An exact match of the long name wins. Otherwise FAT semantics apply: names
// are compared case-insensitively against the long and the short name.
func findEntry(entries []DirEntry, name string) (DirEntry, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e, true
		}
	}

	for _, e := range entries {
		if strings.EqualFold(e.Name, name) || strings.EqualFold(e.ShortName, name) {
			return e, true
		}
	}

	return DirEntry{}, false
}
