package testutil

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
)

// Integration tests are gated on environment variables so the unit
// suite runs without infrastructure.

// PostgresDSN returns the test database DSN or skips the test.
func PostgresDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("SHIELD_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("SHIELD_TEST_POSTGRES_URL not set, skipping integration test")
	}
	return dsn
}

// NATSURL returns the test NATS URL or skips the test.
func NATSURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("SHIELD_TEST_NATS_URL")
	if url == "" {
		t.Skip("SHIELD_TEST_NATS_URL not set, skipping integration test")
	}
	return url
}

// OpenPostgres connects to the test database and registers cleanup.
func OpenPostgres(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("postgres", PostgresDSN(t))
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("postgres unreachable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
