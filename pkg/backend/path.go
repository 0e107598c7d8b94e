package backend

import (
	"fmt"
	"path"
	"strings"
)

// Clean normalizes a remote path to an absolute, slash-separated form.
// Relative paths are rooted at "/" and ".." never climbs above the root.
func Clean(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("%q: %w", p, ErrInvalidPath)
	}
	if strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("%q: %w", p, ErrInvalidPath)
	}
	return path.Clean("/" + p), nil
}

// Split returns the parent directory and the last element of a cleaned path.
// The root splits into ("/", "").
func Split(p string) (dir, name string) {
	if p == "/" {
		return "/", ""
	}
	dir, name = path.Split(p)
	return path.Clean(dir), name
}

// Components returns the path elements of a cleaned path, root excluded.
func Components(p string) []string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// Base returns the name reported for the entry at a cleaned path.
func Base(p string) string {
	if p == "/" {
		return "/"
	}
	return path.Base(p)
}
