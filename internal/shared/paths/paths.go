package paths

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/utils"
)

// Root is the root entry of every mounted file system
const Root = "/"

// Normalize validates an entry path and returns its clean absolute form.
// Entry paths inside a mount are always slash separated and absolute.
func Normalize(p string) (string, error) {
	if err := utils.ValidateString(p, "path", 1, utils.MaxPathLength, true); err != nil {
		return "", err
	}
	if !strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("path %q must be absolute", p)
	}
	return path.Clean(p), nil
}

// MustNormalize is Normalize for trusted literals.
func MustNormalize(p string) string {
	clean, err := Normalize(p)
	if err != nil {
		panic(err)
	}
	return clean
}

// Parent returns the parent entry of p. The root is its own parent.
func Parent(p string) string {
	return path.Dir(p)
}

// Base returns the last element of p.
func Base(p string) string {
	if p == Root {
		return ""
	}
	return path.Base(p)
}

// IsAncestor reports whether dir is a strict ancestor of p.
func IsAncestor(dir, p string) bool {
	if dir == p {
		return false
	}
	if dir == Root {
		return strings.HasPrefix(p, "/")
	}
	return strings.HasPrefix(p, dir+"/")
}

// Covers reports whether a watch on watchPath observes entry p. A
// non-recursive watch covers the entry itself and its direct children.
func Covers(watchPath string, recursive bool, p string) bool {
	if watchPath == p {
		return true
	}
	if recursive {
		return IsAncestor(watchPath, p)
	}
	return Parent(p) == watchPath
}

// ValidatePattern checks a doublestar pattern such as "/docs/**".
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return nil
	}
	if !doublestar.ValidatePattern(pattern) {
		return fmt.Errorf("invalid path pattern %q", pattern)
	}
	return nil
}

// Match reports whether p matches a doublestar pattern. An empty pattern
// matches everything.
func Match(pattern, p string) bool {
	if pattern == "" {
		return true
	}
	ok, err := doublestar.Match(pattern, p)
	return err == nil && ok
}
