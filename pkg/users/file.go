package users

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/platinummonkey/appmesh/pkg/auth"
	"github.com/platinummonkey/appmesh/pkg/observability"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type fileFormat struct {
	JWTEnabled *bool               `yaml:"jwt_enabled"`
	Roles      map[string][]string `yaml:"roles"`
	Users      map[string]fileUser `yaml:"users"`
}

type fileUser struct {
	Key    string   `yaml:"key"`
	Locked bool     `yaml:"locked"`
	Email  string   `yaml:"email"`
	Group  string   `yaml:"group"`
	Roles  []string `yaml:"roles"`
}

// snapshot is an immutable view of one version of the file
type snapshot struct {
	jwtEnabled bool
	users      map[string]*auth.User
	perms      map[string]auth.PermissionSet
}

func parseSnapshot(data []byte) (*snapshot, error) {
	// a truncated file seen mid-write must not wipe the directory
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("user directory is empty")
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse user directory: %w", err)
	}

	snap := &snapshot{
		jwtEnabled: true,
		users:      make(map[string]*auth.User, len(f.Users)),
		perms:      make(map[string]auth.PermissionSet, len(f.Users)),
	}
	if f.JWTEnabled != nil {
		snap.jwtEnabled = *f.JWTEnabled
	}

	for name, u := range f.Users {
		if name == "" {
			return nil, fmt.Errorf("user directory contains a user without name")
		}
		if u.Key == "" {
			return nil, fmt.Errorf("user %q has no key", name)
		}

		perms := auth.NewPermissionSet()
		for _, role := range u.Roles {
			rolePerms, ok := f.Roles[role]
			if !ok {
				return nil, fmt.Errorf("user %q references undefined role %q", name, role)
			}
			for _, p := range rolePerms {
				perms.Add(p)
			}
		}

		snap.users[name] = &auth.User{
			Name:   name,
			Key:    []byte(u.Key),
			Locked: u.Locked,
			Email:  u.Email,
			Group:  u.Group,
			Roles:  append([]string(nil), u.Roles...),
		}
		snap.perms[name] = perms
	}

	return snap, nil
}

// FileDirectory is a Directory backed by a YAML file. Reads see a
// consistent snapshot; Reload swaps in a new one.
type FileDirectory struct {
	path   string
	logger logrus.FieldLogger

	mu   sync.RWMutex
	snap *snapshot
}

// FileOption configures a FileDirectory
type FileOption func(*FileDirectory)

// WithFileLogger sets the logger used for reloads
func WithFileLogger(logger logrus.FieldLogger) FileOption {
	return func(d *FileDirectory) {
		d.logger = logger
	}
}

// LoadFile reads the directory at path
func LoadFile(path string, opts ...FileOption) (*FileDirectory, error) {
	d := &FileDirectory{path: filepath.Clean(path)}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = observability.OrDiscard(d.logger).WithField("directory", d.path)

	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Path returns the file the directory reads
func (d *FileDirectory) Path() string {
	return d.path
}

// Reload re-reads the file. On error the previous snapshot stays in place.
func (d *FileDirectory) Reload() error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("failed to read user directory: %w", err)
	}

	snap, err := parseSnapshot(data)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.snap = snap
	d.mu.Unlock()

	d.logger.WithField("users", len(snap.users)).Info("user directory loaded")
	return nil
}

func (d *FileDirectory) current() *snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snap
}

// Lookup returns a copy of the named user
func (d *FileDirectory) Lookup(ctx context.Context, name string) (*auth.User, error) {
	user, ok := d.current().users[name]
	if !ok {
		return nil, auth.UnknownUser(name)
	}
	u := *user
	return &u, nil
}

// PermissionsOf returns the union of the permissions of the user's roles
func (d *FileDirectory) PermissionsOf(ctx context.Context, name string) (auth.PermissionSet, error) {
	snap := d.current()
	if _, ok := snap.users[name]; !ok {
		return nil, auth.UnknownUser(name)
	}
	return auth.NewPermissionSet(snap.perms[name].List()...), nil
}

// JWTEnabled reports the jwt_enabled setting, true when absent
func (d *FileDirectory) JWTEnabled() bool {
	return d.current().jwtEnabled
}

// Stats counts the users in the current snapshot
func (d *FileDirectory) Stats(ctx context.Context) (Stats, error) {
	snap := d.current()
	stats := Stats{Total: len(snap.users)}
	for _, u := range snap.users {
		if u.Locked {
			stats.Locked++
		}
	}
	return stats, nil
}

// Watch reloads the directory whenever the file is written or replaced,
// until ctx is done. The parent directory is watched so editors that
// rename a new file into place are seen.
func (d *FileDirectory) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(d.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(d.path), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != d.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := d.Reload(); err != nil {
				d.logger.WithError(err).Warn("failed to reload user directory, keeping previous version")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.logger.WithError(err).Warn("user directory watcher error")
		}
	}
}
