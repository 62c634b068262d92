package users

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/platinummonkey/appmesh/pkg/auth"
)

// CachedDirectory keeps recent Lookup and PermissionsOf results of another
// Directory for ttl. A rotated key or a lock takes effect once the entry
// expires or Invalidate is called.
type CachedDirectory struct {
	inner auth.Directory
	users *lru.LRU[string, *auth.User]
	perms *lru.LRU[string, auth.PermissionSet]
}

// NewCachedDirectory wraps inner with a cache of at most size users
func NewCachedDirectory(inner auth.Directory, size int, ttl time.Duration) *CachedDirectory {
	if size < 1 {
		size = 1
	}
	return &CachedDirectory{
		inner: inner,
		users: lru.NewLRU[string, *auth.User](size, nil, ttl),
		perms: lru.NewLRU[string, auth.PermissionSet](size, nil, ttl),
	}
}

// Lookup returns the cached user or reads it from the inner directory.
// Errors are not cached.
func (c *CachedDirectory) Lookup(ctx context.Context, name string) (*auth.User, error) {
	if user, ok := c.users.Get(name); ok {
		u := *user
		return &u, nil
	}

	user, err := c.inner.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	c.users.Add(name, user)
	u := *user
	return &u, nil
}

// PermissionsOf returns the cached permissions or reads them
func (c *CachedDirectory) PermissionsOf(ctx context.Context, name string) (auth.PermissionSet, error) {
	if perms, ok := c.perms.Get(name); ok {
		return auth.NewPermissionSet(perms.List()...), nil
	}

	perms, err := c.inner.PermissionsOf(ctx, name)
	if err != nil {
		return nil, err
	}
	c.perms.Add(name, perms)
	return perms, nil
}

// JWTEnabled is not cached
func (c *CachedDirectory) JWTEnabled() bool {
	return c.inner.JWTEnabled()
}

// Invalidate drops the cached entries of name
func (c *CachedDirectory) Invalidate(name string) {
	c.users.Remove(name)
	c.perms.Remove(name)
}

// Purge drops every cached entry
func (c *CachedDirectory) Purge() {
	c.users.Purge()
	c.perms.Purge()
}

// Stats passes through to the inner directory when it can count users
func (c *CachedDirectory) Stats(ctx context.Context) (Stats, error) {
	if sp, ok := c.inner.(StatsProvider); ok {
		return sp.Stats(ctx)
	}
	return Stats{}, nil
}
