// Package users provides the auth.Directory implementations used by the
// REST service.
//
// FileDirectory reads a YAML file and can reload it when it changes:
//
//	jwt_enabled: true
//	roles:
//	  admin: [app-view, app-control, app-delete]
//	  viewer: [app-view]
//	users:
//	  mesh:
//	    key: mesh-secret
//	    group: admin
//	    roles: [admin]
//	  guest:
//	    key: guest-secret
//	    locked: true
//	    roles: [viewer]
//
// SQLDirectory reads the same model from PostgreSQL tables created by
// RunMigrations. CachedDirectory keeps recent lookups in memory for a short
// TTL in front of either.
package users

import "context"

// Stats summarizes the directory population
type Stats struct {
	Total  int
	Locked int
}

// StatsProvider is implemented by directories that can count their users
type StatsProvider interface {
	Stats(ctx context.Context) (Stats, error)
}
