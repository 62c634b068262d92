package auth

import "sort"

// User is a directory entry as seen by the authorizer. Key is both the
// login password and the HMAC secret for the user's tokens.
type User struct {
	Name   string   `json:"name" yaml:"name"`
	Key    []byte   `json:"-" yaml:"-"`
	Locked bool     `json:"locked" yaml:"locked"`
	Email  string   `json:"email,omitempty" yaml:"email,omitempty"`
	Group  string   `json:"group,omitempty" yaml:"group,omitempty"`
	Roles  []string `json:"roles,omitempty" yaml:"roles,omitempty"`
}

// PermissionSet is the set of permission names granted to a user
type PermissionSet map[string]struct{}

// NewPermissionSet creates a set containing perms
func NewPermissionSet(perms ...string) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set.Add(p)
	}
	return set
}

// Add grants perm. Empty names are ignored.
func (s PermissionSet) Add(perm string) {
	if perm == "" {
		return
	}
	s[perm] = struct{}{}
}

// Has reports whether perm is granted
func (s PermissionSet) Has(perm string) bool {
	_, ok := s[perm]
	return ok
}

// List returns the permissions in sorted order
func (s PermissionSet) List() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
