package database

import (
	"context"
	"embed"
	"testing"
	"testing/fstest"
	"time"
)

//go:embed testdata/*
var testMigrationsFS embed.FS

const testMigrationsDir = "testdata"

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx, testMigrationsFS, testMigrationsDir); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	var name string
	err := db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='index' AND name='idx_test_samples_asset'",
	).Scan(&name)
	if err != nil {
		t.Fatalf("index not created: %v", err)
	}

	applied, pending, err := db.MigrationStatus(ctx, testMigrationsFS, testMigrationsDir)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 {
		t.Errorf("applied = %d, want 2", len(applied))
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}

	if err := db.Migrate(ctx, testMigrationsFS, testMigrationsDir); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrate_FailureRollsBack(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fsys := fstest.MapFS{
		"0001_ok.up.sql":     {Data: []byte("CREATE TABLE ok (id INTEGER);")},
		"0002_broken.up.sql": {Data: []byte("CREATE TABLE broken (;")},
		"0003_later.up.sql":  {Data: []byte("CREATE TABLE later (id INTEGER);")},
	}

	if err := db.Migrate(ctx, fsys, "."); err == nil {
		t.Fatal("Migrate() should fail on broken SQL")
	}

	applied, pending, err := db.MigrationStatus(ctx, fsys, ".")
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 1 {
		t.Errorf("applied = %d, want 1", len(applied))
	}
	if len(pending) != 2 {
		t.Errorf("pending = %d, want 2", len(pending))
	}
}

func TestLoadMigrations(t *testing.T) {
	t.Run("sorted and paired", func(t *testing.T) {
		migrations, err := LoadMigrations(testMigrationsFS, testMigrationsDir)
		if err != nil {
			t.Fatalf("LoadMigrations() error = %v", err)
		}
		if len(migrations) != 2 {
			t.Fatalf("len = %d, want 2 (README ignored)", len(migrations))
		}
		if migrations[0].Name != "create_samples" || migrations[0].DownSQL == "" {
			t.Errorf("first migration = %+v", migrations[0])
		}
		if migrations[1].Version != 2 {
			t.Errorf("second version = %d, want 2", migrations[1].Version)
		}
	})

	t.Run("orphan down file", func(t *testing.T) {
		fsys := fstest.MapFS{
			"0001_orphan.down.sql": {Data: []byte("DROP TABLE x;")},
		}
		if _, err := LoadMigrations(fsys, "."); err == nil {
			t.Error("LoadMigrations() should reject a down file with no up file")
		}
	})

	t.Run("missing directory", func(t *testing.T) {
		if _, err := LoadMigrations(fstest.MapFS{}, "nope"); err == nil {
			t.Error("LoadMigrations() should fail for a missing directory")
		}
	})
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion int
		wantName    string
		wantIsUp    bool
		wantOk      bool
	}{
		{"0001_create_readings.up.sql", 1, "create_readings", true, true},
		{"0012_add_index.down.sql", 12, "add_index", false, true},
		{"readme.txt", 0, "", false, false},
		{"0001_create_readings.sql", 0, "", false, false},
		{"invalid.up.sql", 0, "", false, false},
		{"abcd_name.up.sql", 0, "", false, false},
		{"0000_zero.up.sql", 0, "", false, false},
		{"0003_.up.sql", 0, "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion || name != tt.wantName || isUp != tt.wantIsUp {
				t.Errorf("got (%d, %q, %v), want (%d, %q, %v)",
					version, name, isUp, tt.wantVersion, tt.wantName, tt.wantIsUp)
			}
		})
	}
}
