// Package jcrpath implements the path arithmetic of the content tree.
//
// Paths are absolute, "/"-separated and never end with a separator except for
// the root "/". Subtrees are selected by segment-aware prefix matching since
// the underlying document stores have no native tree primitive.
package jcrpath

import (
	"regexp"
	"strings"

	"github.com/maruel/jcrdb/internal/errors"
)

const (
	// Root is the path of the root node of every workspace.
	Root = "/"
	// Separator separates path segments.
	Separator = "/"
	// NoParent is stored as the parent path of the root document.
	NoParent = "-1"
)

// validChars matches the characters allowed anywhere in a path.
var validChars = regexp.MustCompile(`^[\p{L}\p{N}_{}/#%&;:^+~*\[\]. -]*$`)

// Validate reports whether p is a well-formed path.
//
// A path is rejected when it contains a doubled separator, a parent traversal
// segment or a character outside the allowed set.
func Validate(p string) error {
	if strings.Contains(p, "//") || strings.Contains(p, "/../") || !validChars.MatchString(p) {
		return errors.InvalidPath(p)
	}
	return nil
}

// Parent returns all but the last segment of p. The parent of the root and of
// any single-segment path is the root.
func Parent(p string) string {
	i := strings.LastIndex(p, Separator)
	if i <= 0 {
		return Root
	}
	return p[:i]
}

// ParentOrSentinel returns the value stored as the parent of the document at
// p: NoParent for the root, Parent(p) otherwise.
func ParentOrSentinel(p string) string {
	if p == Root {
		return NoParent
	}
	return Parent(p)
}

// Name returns the last segment of p, empty for the root.
func Name(p string) string {
	if p == Root {
		return ""
	}
	return p[strings.LastIndex(p, Separator)+1:]
}

// Join appends name to parent.
func Join(parent, name string) string {
	if parent == Root {
		return Root + name
	}
	return parent + Separator + name
}

// Split returns the segments of p. The root has no segments.
func Split(p string) []string {
	p = strings.Trim(p, Separator)
	if p == "" {
		return nil
	}
	return strings.Split(p, Separator)
}

// Depth returns the number of segments in p.
func Depth(p string) int {
	return len(Split(p))
}

// IsUnderSubtree reports whether candidate is root or one of its descendants.
//
// The match is done on whole segments: "/ab" is not under "/a".
func IsUnderSubtree(candidate, root string) bool {
	if candidate == root {
		return true
	}
	if root == Root {
		return strings.HasPrefix(candidate, Root)
	}
	return strings.HasPrefix(candidate, root) && strings.HasPrefix(candidate[len(root):], Separator)
}

// Rebase substitutes the src prefix of p with dst. p must be under src.
func Rebase(p, src, dst string) string {
	if p == src {
		return dst
	}
	rest := p[len(src):]
	if src == Root {
		rest = p
	}
	if dst == Root {
		return rest
	}
	return dst + rest
}

// HasIndexSuffix reports whether p ends with a same-name-sibling index such
// as "/a/b[2]". Such paths are not accepted as copy or move destinations.
func HasIndexSuffix(p string) bool {
	return strings.HasSuffix(p, "]")
}
