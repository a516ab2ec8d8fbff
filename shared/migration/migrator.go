package migration

import (
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

// Migrator handles database migrations
type Migrator struct {
	db         *sql.DB
	migrations embed.FS
	service    string
	schemaName string
}

// Config holds migration configuration
type Config struct {
	DatabaseURL string
	Service     string
	SchemaName  string
	Migrations  embed.FS
}

// NewMigrator creates a new migrator
func NewMigrator(config *Config) (*Migrator, error) {
	db, err := sql.Open("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Migrator{
		db:         db,
		migrations: config.Migrations,
		service:    config.Service,
		schemaName: config.SchemaName,
	}, nil
}

// Migrate runs all pending migrations
func (m *Migrator) Migrate() error {
	if err := m.createSchema(); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	if err := m.setSearchPath(); err != nil {
		return fmt.Errorf("failed to set search path: %w", err)
	}

	migration, err := m.createMigration()
	if err != nil {
		return fmt.Errorf("failed to create migration: %w", err)
	}

	if err := migration.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Version returns the current migration version
func (m *Migrator) Version() (uint, bool, error) {
	migration, err := m.createMigration()
	if err != nil {
		return 0, false, err
	}

	return migration.Version()
}

// createSchema creates the schema if it doesn't exist
func (m *Migrator) createSchema() error {
	_, err := m.db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", m.schemaName))
	return err
}

// setSearchPath sets the search path to the schema
func (m *Migrator) setSearchPath() error {
	_, err := m.db.Exec(fmt.Sprintf("SET search_path TO %s", m.schemaName))
	return err
}

// createMigration creates a migration instance over the embedded SQL files
func (m *Migrator) createMigration() (*migrate.Migrate, error) {
	sourceDriver, err := iofs.New(m.migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}

	dbDriver, err := postgres.WithInstance(m.db, &postgres.Config{
		SchemaName:      m.schemaName,
		MigrationsTable: fmt.Sprintf("%s_migrations", strings.ReplaceAll(m.service, "-", "_")),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	migration, err := migrate.NewWithInstance("iofs", sourceDriver, m.schemaName, dbDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}

	return migration, nil
}

// Close closes the database connection
func (m *Migrator) Close() error {
	return m.db.Close()
}
