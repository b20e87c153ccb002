package dbus

import (
	"fmt"
	"regexp"
	"strings"
)

// ObjectPath is the name of a DBus object, for example
// "/org/freedesktop/DBus".
type ObjectPath string

var objectPathRe = regexp.MustCompile(`^/([A-Za-z0-9_]+(/[A-Za-z0-9_]+)*)?$`)

// Validate reports whether p is a syntactically valid DBus object
// path: an ASCII string starting with '/', with path elements
// restricted to [A-Za-z0-9_] and separated by single '/'
// characters, and no trailing slash (except for the root path "/"
// itself).
func (p ObjectPath) Validate() error {
	if !objectPathRe.MatchString(string(p)) {
		return fmt.Errorf("invalid object path %q", string(p))
	}
	return nil
}

// Clean returns p unchanged. DBus object paths have a single
// canonical form, so unlike filesystem paths there is nothing to
// normalize; callers that want to know whether p is well formed
// should use [ObjectPath.Validate] instead.
func (p ObjectPath) Clean() ObjectPath {
	return p
}

// String returns p as a string.
func (p ObjectPath) String() string {
	return string(p)
}

// Compare returns -1, 0 or 1 depending on whether p sorts before,
// equal to, or after other.
func (p ObjectPath) Compare(other ObjectPath) int {
	return strings.Compare(string(p), string(other))
}

// IsChildOf reports whether p is a child of, or equal to, parent.
func (p ObjectPath) IsChildOf(parent ObjectPath) bool {
	ps, pp := string(p), string(parent)
	if pp == "/" {
		return strings.HasPrefix(ps, "/")
	}
	if ps == pp {
		return true
	}
	return strings.HasPrefix(ps, pp+"/")
}
