package v7

import (
	"fmt"
	"strings"

	"github.com/dargueta/v7fs"
)

// Paths are slash-separated. A leading slash starts from the user's home
// directory rather than the current one, and a trailing slash means the path
// names a directory.

// IsDirectoryPath returns true if `path` ends with a slash.
func IsDirectoryPath(path string) bool {
	return strings.HasSuffix(path, "/")
}

// IsAbsolutePath returns true if `path` starts at the home directory.
func IsAbsolutePath(path string) bool {
	return strings.HasPrefix(path, "/")
}

// ToDirectoryPath appends a trailing slash if `path` doesn't have one.
func ToDirectoryPath(path string) string {
	if IsDirectoryPath(path) {
		return path
	}
	return path + "/"
}

// ToFilePath strips all trailing slashes from `path`.
func ToFilePath(path string) string {
	return strings.TrimRight(path, "/")
}

// SplitPath returns the non-empty components of `path`.
func SplitPath(path string) []string {
	parts := strings.Split(path, "/")
	components := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			components = append(components, part)
		}
	}
	return components
}

// BaseName returns the last component of `path`, or an empty string if there
// is none.
func BaseName(path string) string {
	components := SplitPath(path)
	if len(components) == 0 {
		return ""
	}
	return components[len(components)-1]
}

// validateName checks that a single path component can be used for a new file
// or directory. The stored name includes the trailing slash for directories,
// and that has to fit too.
func validateName(name string, isDirectory bool) (string, error) {
	if name == "" {
		return "", v7fs.ErrInvalidArgument.WithMessage("empty file name")
	}
	if name == "." || name == ".." {
		return "", v7fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("%q is a reserved name", name))
	}

	stored := name
	if isDirectory {
		stored = ToDirectoryPath(name)
	}
	if len(stored) > MaxNameLength {
		return "", v7fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("name %q is %d bytes, maximum is %d", stored, len(stored), MaxNameLength))
	}
	return stored, nil
}
