package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/appmesh/pkg/auth"
)

// SQLDirectory is a Directory backed by the appmesh_* tables
type SQLDirectory struct {
	db         *sql.DB
	jwtEnabled bool
}

// NewSQLDirectory creates a directory reading from db
func NewSQLDirectory(db *sql.DB, jwtEnabled bool) *SQLDirectory {
	return &SQLDirectory{db: db, jwtEnabled: jwtEnabled}
}

// DB returns the underlying database
func (d *SQLDirectory) DB() *sql.DB {
	return d.db
}

// Lookup loads the named user and its roles
func (d *SQLDirectory) Lookup(ctx context.Context, name string) (*auth.User, error) {
	var (
		user auth.User
		key  string
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT name, user_key, locked, COALESCE(email, ''), COALESCE(user_group, '')
		FROM appmesh_users
		WHERE name = $1
	`, name).Scan(&user.Name, &key, &user.Locked, &user.Email, &user.Group)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.UnknownUser(name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	user.Key = []byte(key)

	rows, err := d.db.QueryContext(ctx, `
		SELECT role FROM appmesh_user_roles WHERE user_name = $1 ORDER BY role
	`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query user roles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("failed to scan user role: %w", err)
		}
		user.Roles = append(user.Roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read user roles: %w", err)
	}

	return &user, nil
}

// PermissionsOf returns the permissions of all roles granted to the user
func (d *SQLDirectory) PermissionsOf(ctx context.Context, name string) (auth.PermissionSet, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT DISTINCT rp.permission
		FROM appmesh_user_roles ur
		JOIN appmesh_role_permissions rp ON rp.role = ur.role
		WHERE ur.user_name = $1
	`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query permissions: %w", err)
	}
	defer rows.Close()

	perms := auth.NewPermissionSet()
	for rows.Next() {
		var perm string
		if err := rows.Scan(&perm); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms.Add(perm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read permissions: %w", err)
	}

	return perms, nil
}

// JWTEnabled returns the setting the directory was created with
func (d *SQLDirectory) JWTEnabled() bool {
	return d.jwtEnabled
}

// Stats counts users and locked users
func (d *SQLDirectory) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN locked THEN 1 ELSE 0 END), 0)
		FROM appmesh_users
	`).Scan(&stats.Total, &stats.Locked)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count users: %w", err)
	}
	return stats, nil
}

// Ping checks the database connection
func (d *SQLDirectory) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}
