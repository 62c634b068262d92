package auth

import (
	"context"

	"github.com/platinummonkey/appmesh/pkg/apperr"
)

// Directory is the read-only user store consulted for every request.
// Implementations must be safe for concurrent use.
type Directory interface {
	// Lookup returns the named user or an apperr.KindUnknownUser error
	Lookup(ctx context.Context, name string) (*User, error)

	// PermissionsOf returns the permissions granted to the named user
	PermissionsOf(ctx context.Context, name string) (PermissionSet, error)

	// JWTEnabled reports whether requests must carry a valid token
	JWTEnabled() bool
}

// UnknownUser returns the error directories report for a missing user
func UnknownUser(name string) error {
	return apperr.New(apperr.KindUnknownUser, "User <%s> not exist", name)
}

// DirectoryFuncs adapts plain functions to Directory. A nil LookupFunc knows
// no users, a nil PermissionsFunc grants nothing and a nil JWTEnabledFunc
// enables JWT.
type DirectoryFuncs struct {
	LookupFunc      func(ctx context.Context, name string) (*User, error)
	PermissionsFunc func(ctx context.Context, name string) (PermissionSet, error)
	JWTEnabledFunc  func() bool
}

// Lookup calls LookupFunc
func (f DirectoryFuncs) Lookup(ctx context.Context, name string) (*User, error) {
	if f.LookupFunc == nil {
		return nil, UnknownUser(name)
	}
	return f.LookupFunc(ctx, name)
}

// PermissionsOf calls PermissionsFunc
func (f DirectoryFuncs) PermissionsOf(ctx context.Context, name string) (PermissionSet, error) {
	if f.PermissionsFunc == nil {
		return PermissionSet{}, nil
	}
	return f.PermissionsFunc(ctx, name)
}

// JWTEnabled calls JWTEnabledFunc
func (f DirectoryFuncs) JWTEnabled() bool {
	if f.JWTEnabledFunc == nil {
		return true
	}
	return f.JWTEnabledFunc()
}
