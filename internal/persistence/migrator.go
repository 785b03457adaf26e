package persistence

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"blockshield/internal/observability"
)

// Migrator applies SQL migrations in filename order. Files follow
// {version}_{name}.up.sql / {version}_{name}.down.sql.
type Migrator struct {
	db            *sql.DB
	migrationsDir string
}

func NewMigrator(db *sql.DB, migrationsDir string) *Migrator {
	return &Migrator{db: db, migrationsDir: migrationsDir}
}

func (m *Migrator) ensureMigrationsTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version BIGINT PRIMARY KEY,
			filename TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	return err
}

func (m *Migrator) appliedVersions() (map[int64]bool, error) {
	rows, err := m.db.Query(`SELECT version FROM public.schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int64]bool)
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func extractVersion(filename string) (int64, error) {
	parts := strings.SplitN(filepath.Base(filename), "_", 2)
	if len(parts) < 2 {
		return 0, fmt.Errorf("malformed migration filename: %s", filename)
	}
	return strconv.ParseInt(parts[0], 10, 64)
}

// Up applies all pending .up.sql migrations in version order.
func (m *Migrator) Up() error {
	log := observability.NewLogger("migrator")

	if err := m.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := m.appliedVersions()
	if err != nil {
		return fmt.Errorf("load applied versions: %w", err)
	}

	entries, err := os.ReadDir(m.migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".up.sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		version, err := extractVersion(file)
		if err != nil {
			return err
		}
		if applied[version] {
			continue
		}

		contents, err := os.ReadFile(filepath.Join(m.migrationsDir, file))
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}

		tx, err := m.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(contents)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply %s: %w", file, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO public.schema_migrations (version, filename) VALUES ($1, $2)`,
			version, file,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", file, err)
		}

		log.Info().Str("migration", file).Msg("applied")
	}

	return nil
}

// Down rolls back the most recently applied migration.
func (m *Migrator) Down() error {
	log := observability.NewLogger("migrator")

	if err := m.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	var version int64
	var filename string
	err := m.db.QueryRow(`
		SELECT version, filename FROM public.schema_migrations
		ORDER BY version DESC LIMIT 1`,
	).Scan(&version, &filename)
	if err == sql.ErrNoRows {
		log.Info().Msg("nothing to roll back")
		return nil
	}
	if err != nil {
		return err
	}

	downFile := strings.Replace(filename, ".up.sql", ".down.sql", 1)
	contents, err := os.ReadFile(filepath.Join(m.migrationsDir, downFile))
	if err != nil {
		return fmt.Errorf("read %s: %w", downFile, err)
	}

	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(string(contents)); err != nil {
		tx.Rollback()
		return fmt.Errorf("apply %s: %w", downFile, err)
	}
	if _, err := tx.Exec(`DELETE FROM public.schema_migrations WHERE version = $1`, version); err != nil {
		tx.Rollback()
		return fmt.Errorf("unrecord %d: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", downFile, err)
	}

	log.Info().Str("migration", downFile).Msg("rolled back")
	return nil
}
