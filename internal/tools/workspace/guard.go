// Package workspace confines tool path arguments to a workspace root.
// Filesystem tools have their path arguments resolved under the root;
// process and terminal tools have their working directory checked. A
// built-in deny-list keeps credentials and VCS internals unreachable
// regardless of policy.
package workspace

import (
	"strings"

	"github.com/amonhq/amon/internal/errs"
	"github.com/amonhq/amon/internal/store"
)

// DenySegments are always-blocked path patterns, matched against the
// workspace-relative path and each of its segments.
var DenySegments = []string{
	".env*",
	".git/**",
	".ssh/**",
	"*id_rsa*",
	"*.pem",
	"*.key",
	"secrets/**",
	"*secret*",
	"*token*",
}

// Guard confines paths to a single workspace root.
type Guard struct {
	root string
}

// NewGuard creates a guard rooted at root.
func NewGuard(root string) *Guard {
	return &Guard{root: root}
}

// Root returns the workspace root.
func (g *Guard) Root() string {
	return g.root
}

// Resolve canonicalizes path under the workspace root. It rejects
// traversal outside the root and deny-list hits, and never returns a path
// outside the root.
func (g *Guard) Resolve(path string) (string, error) {
	resolved, err := store.Canonicalize(path, []string{g.root}, DenySegments)
	if err != nil {
		return "", err
	}
	return resolved, nil
}

// pathKeys lists the argument names the guard rewrites per tool family.
func pathKeys(tool string) []string {
	switch {
	case strings.HasPrefix(tool, "filesystem."):
		return []string{"path", "root"}
	case strings.HasPrefix(tool, "process.") || strings.HasPrefix(tool, "terminal."):
		return []string{"cwd"}
	default:
		return nil
	}
}

// Apply validates and rewrites the path arguments of a call in place,
// replacing each with its resolved absolute form. Tools outside the
// guarded families pass through untouched.
func (g *Guard) Apply(tool string, args map[string]any) error {
	if args == nil {
		return nil
	}
	for _, key := range pathKeys(tool) {
		raw, ok := args[key]
		if !ok {
			continue
		}
		path, ok := raw.(string)
		if !ok {
			return errs.New(errs.KindInvalidArguments, "%s must be a string", key)
		}
		resolved, err := g.Resolve(path)
		if err != nil {
			return err
		}
		args[key] = resolved
	}
	return nil
}
