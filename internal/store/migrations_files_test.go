package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"
)

var migrationsDir = filepath.Join("..", "..", "db", "migrations")

var migrationName = regexp.MustCompile(`^(\d{4})_([a-z0-9_]+)\.(up|down)\.sql$`)

type migrationFile struct {
	version   string
	direction string
	path      string
}

// readMigrationFiles lists db/migrations ordered by version, failing on any
// file that does not follow NNNN_name.(up|down).sql.
func readMigrationFiles(t *testing.T) []migrationFile {
	t.Helper()
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}
	var files []migrationFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationName.FindStringSubmatch(entry.Name())
		if match == nil {
			t.Fatalf("unexpected file in migrations dir: %s", entry.Name())
		}
		files = append(files, migrationFile{version: match[1], direction: match[3], path: filepath.Join(migrationsDir, entry.Name())})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files
}

func TestMigrationsArePairedAndContiguous(t *testing.T) {
	files := readMigrationFiles(t)
	if len(files) == 0 {
		t.Fatal("no migrations discovered")
	}

	pairs := map[string]map[string]bool{}
	for _, f := range files {
		if pairs[f.version] == nil {
			pairs[f.version] = map[string]bool{}
		}
		pairs[f.version][f.direction] = true
	}

	versions := make([]string, 0, len(pairs))
	for version, dirs := range pairs {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
		versions = append(versions, version)
	}
	sort.Strings(versions)
	for i, version := range versions {
		if want := fmt.Sprintf("%04d", i+1); version != want {
			t.Fatalf("migration versions must be contiguous from 0001, got %v", versions)
		}
	}
}

func TestDownMigrationsDropWhatUpCreates(t *testing.T) {
	createTable := regexp.MustCompile(`(?i)CREATE TABLE\s+(\w+)`)
	for _, f := range readMigrationFiles(t) {
		if f.direction != "up" {
			continue
		}
		up, err := os.ReadFile(f.path)
		if err != nil {
			t.Fatalf("read %s: %v", f.path, err)
		}
		down, err := os.ReadFile(strings.TrimSuffix(f.path, ".up.sql") + ".down.sql")
		if err != nil {
			t.Fatalf("read down for %s: %v", f.path, err)
		}
		for _, match := range createTable.FindAllStringSubmatch(string(up), -1) {
			if !strings.Contains(string(down), "DROP TABLE IF EXISTS "+match[1]+";") {
				t.Errorf("%s creates %s but its down file does not drop it", filepath.Base(f.path), match[1])
			}
		}
	}
}
