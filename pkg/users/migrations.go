package users

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/appmesh/pkg/observability"
	"github.com/sirupsen/logrus"
)

// Migration is one schema change of the SQL directory
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the SQL directory migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create appmesh_users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS appmesh_users (
					name VARCHAR(255) PRIMARY KEY,
					user_key TEXT NOT NULL,
					locked BOOLEAN NOT NULL DEFAULT FALSE,
					email VARCHAR(255),
					user_group VARCHAR(255),
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
		{
			Version:     2,
			Description: "Create appmesh_user_roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS appmesh_user_roles (
					user_name VARCHAR(255) NOT NULL REFERENCES appmesh_users(name) ON DELETE CASCADE,
					role VARCHAR(255) NOT NULL,
					PRIMARY KEY (user_name, role)
				);

				CREATE INDEX IF NOT EXISTS idx_appmesh_user_roles_role ON appmesh_user_roles(role);
			`,
		},
		{
			Version:     3,
			Description: "Create appmesh_role_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS appmesh_role_permissions (
					role VARCHAR(255) NOT NULL,
					permission VARCHAR(255) NOT NULL,
					PRIMARY KEY (role, permission)
				);
			`,
		},
	}
}

// RunMigrations applies pending migrations, each in its own transaction
func RunMigrations(ctx context.Context, db *sql.DB, logger logrus.FieldLogger) error {
	logger = observability.OrDiscard(logger)

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS appmesh_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM appmesh_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		logger.WithField("version", migration.Version).Infof("running migration: %s", migration.Description)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO appmesh_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
