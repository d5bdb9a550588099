package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	migrationsDir := os.Getenv("MIGRATIONS_DIR")
	if migrationsDir == "" {
		migrationsDir = "/migrations"
	}

	ctx := context.Background()

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		log.Fatalf("parse DATABASE_URL: %v", err)
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol // allow multi-statement migrations
	cfg.ConnConfig.RuntimeParams["application_name"] = "warden-migrator"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS schema_migrations (
            name TEXT PRIMARY KEY,
            applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
    `); err != nil {
		log.Fatalf("ensure schema_migrations: %v", err)
	}

	names, err := pendingMigrations(ctx, pool, migrationsDir)
	if err != nil {
		log.Fatalf("scan migrations: %v", err)
	}

	for _, name := range names {
		if err := runMigration(ctx, pool, migrationsDir, name); err != nil {
			log.Fatalf("apply %s: %v", name, err)
		}
	}

	log.Printf("migrations complete (applied=%d)", len(names))
}

// pendingMigrations lists *.up.sql files not yet recorded in
// schema_migrations, in lexical order.
func pendingMigrations(ctx context.Context, pool *pgxpool.Pool, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}

		var exists bool
		err := pool.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)",
			entry.Name()).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", entry.Name(), err)
		}
		if exists {
			log.Printf("skip %s (already applied)", entry.Name())
			continue
		}

		names = append(names, entry.Name())
	}

	sort.Strings(names)
	return names, nil
}

func runMigration(ctx context.Context, pool *pgxpool.Pool, dir, name string) error {
	contents, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return err
	}

	log.Printf("applying %s", name)
	start := time.Now()

	if _, err := pool.Exec(ctx, string(contents)); err != nil {
		return err
	}

	if _, err := pool.Exec(ctx,
		"INSERT INTO schema_migrations(name) VALUES($1) ON CONFLICT DO NOTHING", name); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}

	log.Printf("applied %s in %s", name, time.Since(start).Round(time.Millisecond))
	return nil
}
