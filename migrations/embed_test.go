package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(FS, ".")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	if len(ups) == 0 {
		t.Fatalf("expected embedded migrations")
	}
	for version := range ups {
		if !downs[version] {
			t.Errorf("migration %s has no down file", version)
		}
	}
}

func TestSchemaCoversPipelineTables(t *testing.T) {
	var schema strings.Builder
	err := fs.WalkDir(FS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".up.sql") {
			return err
		}
		raw, err := fs.ReadFile(FS, path)
		if err != nil {
			return err
		}
		schema.Write(raw)
		return nil
	})
	if err != nil {
		t.Fatalf("walk migrations: %v", err)
	}
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS appointments",
		"CREATE TABLE IF NOT EXISTS patient_files",
		"consultation_id    UUID NOT NULL UNIQUE",
		"PRIMARY KEY (stage, request_id)",
		"CREATE TABLE IF NOT EXISTS pipeline_audit_events",
	} {
		if !strings.Contains(schema.String(), want) {
			t.Errorf("schema missing %q", want)
		}
	}
}
