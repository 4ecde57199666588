package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAppendOnlyMigrationUsesBlockingTriggers(t *testing.T) {
	migrationPath := filepath.Join("..", "..", "db", "migrations", "0004_append_only_logs.up.sql")
	sqlBytes, err := os.ReadFile(migrationPath)
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sqlText := string(sqlBytes)

	expectedSnippets := []string{
		"append_only_guard",
		"RAISE EXCEPTION",
		"CREATE TRIGGER trg_quote_views_block_update",
		"CREATE TRIGGER trg_quote_views_block_delete",
		"CREATE TRIGGER trg_email_logs_block_update",
		"CREATE TRIGGER trg_booking_submissions_block_update",
	}
	for _, snippet := range expectedSnippets {
		if !strings.Contains(sqlText, snippet) {
			t.Fatalf("expected migration to contain %q", snippet)
		}
	}
	if strings.Contains(sqlText, "DO INSTEAD NOTHING") {
		t.Fatalf("expected hard-fail guard, found silent DO INSTEAD NOTHING rule")
	}
}

func TestJobNumbersComeFromSequence(t *testing.T) {
	sqlBytes, err := os.ReadFile(filepath.Join("..", "..", "db", "migrations", "0002_booking_intake.up.sql"))
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sqlText := string(sqlBytes)
	for _, snippet := range []string{"CREATE SEQUENCE job_number_seq", "generate_job_number()", "job_number TEXT NOT NULL UNIQUE"} {
		if !strings.Contains(sqlText, snippet) {
			t.Fatalf("expected migration to contain %q", snippet)
		}
	}
}
