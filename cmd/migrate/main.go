package main

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"

	"distribution-backend/internal/logger"
	"distribution-backend/internal/tenant"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
)

// main applies the migrations to one tenant schema. The schema is created if
// it does not exist, and goose tracks its version table inside that schema so
// tenants migrate independently.
func main() {
	_ = godotenv.Load()

	tenantID := flag.String("tenant", "", "tenant schema to migrate")
	dir := flag.String("dir", "migrations", "directory with migration files")
	flag.Parse()

	log := logger.New(os.Getenv("APP_ENV"))

	if err := run(*tenantID, *dir); err != nil {
		log.Error("migration failed", "tenant", *tenantID, "error", err)
		os.Exit(1)
	}
	log.Info("migrations applied", "tenant", *tenantID)
}

func run(tenantID, dir string) error {
	if err := tenant.ValidateID(tenantID); err != nil {
		return err
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	// Create the schema on a connection without a search_path override.
	admin, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := admin.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %q", tenantID)); err != nil {
		_ = admin.Close()
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if err := admin.Close(); err != nil {
		return err
	}

	scoped, err := withSearchPath(dsn, tenantID)
	if err != nil {
		return err
	}
	db, err := goose.OpenDBWithDriver("pgx", scoped)
	if err != nil {
		return fmt.Errorf("failed to open tenant connection: %w", err)
	}
	defer func() { _ = db.Close() }()

	return goose.Up(db, dir)
}

// withSearchPath pins the connection's search_path to the tenant schema so
// both the migrations and goose's version table land there.
func withSearchPath(dsn, schema string) (string, error) {
	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("search_path", schema)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}
	return dsn + " search_path=" + schema, nil
}
