package testutil

import (
	"database/sql"
	"os"
	"strconv"
	"testing"

	"github.com/xxxsen/casememo/internal/config"
	"github.com/xxxsen/casememo/internal/db"
)

// OpenTestDB connects to the postgres instance named by TEST_DB_HOST and
// applies migrations with the given embedding dimension. The test is skipped
// when TEST_DB_HOST is unset.
func OpenTestDB(t *testing.T, dimension int) (*sql.DB, func()) {
	t.Helper()
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set, skipping postgres test")
	}
	port := 5432
	if v, err := strconv.Atoi(os.Getenv("TEST_DB_PORT")); err == nil && v > 0 {
		port = v
	}
	conn, err := db.Open(config.DatabaseConfig{
		Host:     host,
		Port:     port,
		User:     envOr("TEST_DB_USER", "casememo"),
		Password: envOr("TEST_DB_PASSWORD", "casememo_pass"),
		DBName:   envOr("TEST_DB_NAME", "casememo_test"),
		SSLMode:  "disable",
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if _, err := conn.Exec(`DROP TABLE IF EXISTS case_records`); err != nil {
		t.Fatalf("reset case_records: %v", err)
	}
	if err := db.ApplyMigrations(conn, dimension); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return conn, func() {
		_ = conn.Close()
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
