package sqlitemigrate

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "migrate.db")
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return sqlDB
}

func TestApplyMigrationsRunsOnce(t *testing.T) {
	sqlDB := openTestDB(t)
	migrationFS := fstest.MapFS{
		"0001_init.sql": &fstest.MapFile{Data: []byte(`
CREATE TABLE widgets (id TEXT PRIMARY KEY);
`)},
	}

	if err := ApplyMigrations(sqlDB, migrationFS); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := ApplyMigrations(sqlDB, migrationFS); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	var count int
	if err := sqlDB.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 1 {
		t.Fatalf("applied migrations = %d, want 1", count)
	}
}

func TestApplyMigrationsOrdersFiles(t *testing.T) {
	sqlDB := openTestDB(t)
	migrationFS := fstest.MapFS{
		"0002_add_column.sql": &fstest.MapFile{Data: []byte(`
ALTER TABLE widgets ADD COLUMN name TEXT NOT NULL DEFAULT '';
`)},
		"0001_init.sql": &fstest.MapFile{Data: []byte(`
CREATE TABLE widgets (id TEXT PRIMARY KEY);
`)},
	}

	if err := ApplyMigrations(sqlDB, migrationFS); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if _, err := sqlDB.Exec("INSERT INTO widgets (id, name) VALUES ('w1', 'first')"); err != nil {
		t.Fatalf("insert into migrated table: %v", err)
	}
}

func TestExtractUpMigration(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "no markers",
			content: "CREATE TABLE a (id TEXT);",
			want:    "CREATE TABLE a (id TEXT);",
		},
		{
			name:    "up and down",
			content: "-- +migrate Up\nCREATE TABLE a (id TEXT);\n-- +migrate Down\nDROP TABLE a;",
			want:    "\nCREATE TABLE a (id TEXT);\n",
		},
		{
			name:    "up only",
			content: "-- +migrate Up\nCREATE TABLE a (id TEXT);",
			want:    "\nCREATE TABLE a (id TEXT);",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractUpMigration(tt.content); got != tt.want {
				t.Errorf("ExtractUpMigration() = %q, want %q", got, tt.want)
			}
		})
	}
}
