package store

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/amonhq/amon/internal/errs"
)

// ValidateRelativePath rejects path values that could escape a containing
// directory or smuggle control bytes: empty strings, NUL bytes, absolute
// paths, backslashes, and "." or ".." segments.
func ValidateRelativePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return errs.New(errs.KindInvalidArguments, "path is empty")
	}
	if strings.ContainsRune(path, 0) {
		return errs.New(errs.KindInvalidArguments, "path contains NUL byte")
	}
	if strings.Contains(path, "\\") {
		return errs.New(errs.KindInvalidArguments, "path contains backslash")
	}
	if filepath.IsAbs(path) {
		return errs.New(errs.KindInvalidArguments, "path is absolute")
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "." || seg == ".." {
			return errs.New(errs.KindWorkspaceViolation, "path contains %q segment", seg)
		}
	}
	return nil
}

// Canonicalize resolves path under one of the allowed roots and returns the
// absolute result. It rejects traversal outside every root and any path
// whose root-relative form matches a deny glob.
func Canonicalize(path string, allowedRoots []string, denyGlobs []string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errs.New(errs.KindInvalidArguments, "path is empty")
	}
	if len(allowedRoots) == 0 {
		return "", errs.New(errs.KindInvalidArguments, "no allowed roots")
	}

	for _, root := range allowedRoots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		var target string
		if filepath.IsAbs(path) {
			target = filepath.Clean(path)
		} else {
			target = filepath.Join(rootAbs, path)
		}
		rel, err := filepath.Rel(rootAbs, target)
		if err != nil {
			continue
		}
		if rel == ".." || strings.HasPrefix(rel, "../") {
			continue
		}
		if hit, pattern := matchDeny(rel, denyGlobs); hit {
			return "", errs.New(errs.KindWorkspaceViolation, "path %q matches deny pattern %q", path, pattern)
		}
		return target, nil
	}
	return "", errs.New(errs.KindWorkspaceViolation, "path %q escapes allowed roots", path)
}

// matchDeny checks the root-relative path and each of its segments against
// the deny globs.
func matchDeny(rel string, denyGlobs []string) (bool, string) {
	rel = filepath.ToSlash(rel)
	segments := strings.Split(rel, "/")
	for _, pattern := range denyGlobs {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true, pattern
		}
		for _, seg := range segments {
			if ok, err := doublestar.Match(pattern, seg); err == nil && ok {
				return true, pattern
			}
		}
	}
	return false, ""
}

// EnsureDir creates dir and parents if missing.
func EnsureDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return errs.New(errs.KindInvalidArguments, "dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.KindStoreError, err, "create dir %s", dir)
	}
	return nil
}
