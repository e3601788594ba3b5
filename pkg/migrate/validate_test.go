package migrate

import (
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	if err := ValidateFS(Migrations()); err != nil {
		t.Fatalf("embedded migrations invalid: %v", err)
	}
	if err := ValidateDir("migrations"); err != nil {
		t.Fatalf("on-disk migrations invalid: %v", err)
	}
}

func TestValidateFSRejects(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"bad name": {
			"payments.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		},
		"missing down": {
			"20260101000000_x.sql": {Data: []byte("-- +goose Up\n")},
		},
		"down before up": {
			"20260101000000_x.sql": {Data: []byte("-- +goose Down\n-- +goose Up\n")},
		},
		"duplicate version": {
			"20260101000000_a.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
			"20260101000000_b.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		},
	}
	for name, fsys := range cases {
		t.Run(name, func(t *testing.T) {
			if err := ValidateFS(fsys); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestValidateFSIgnoresNonSQL(t *testing.T) {
	fsys := fstest.MapFS{
		"README.md":                  {Data: []byte("notes")},
		"20260101000000_refunds.sql": {Data: []byte("-- +goose Up\nSELECT 1;\n-- +goose Down\nSELECT 1;\n")},
	}
	if err := ValidateFS(fsys); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateMigrationSlugsName(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)

	path, err := createAt(dir, "Add Refund  Index!", at)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if filepath.Base(path) != "20260302103000_add_refund_index.sql" {
		t.Fatalf("unexpected file %s", filepath.Base(path))
	}
	if err := ValidateDir(dir); err != nil {
		t.Fatalf("created migration should validate: %v", err)
	}

	if _, err := createAt(dir, "add refund index", at); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected collision error, got %v", err)
	}
	if _, err := createAt(dir, "!!!", at); err == nil {
		t.Fatalf("expected empty slug error")
	}
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("20260301090400")
	if err != nil || v != 20260301090400 {
		t.Fatalf("ParseVersion = %d, %v", v, err)
	}
	for _, raw := range []string{"", "2026", "2026030109040x", "-0260301090400"} {
		if _, err := ParseVersion(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}
