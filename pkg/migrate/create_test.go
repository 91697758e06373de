package migrate

import (
	"testing"
	"testing/fstest"
	"time"
)

func TestNextVersionStaysAheadOfExisting(t *testing.T) {
	existing := fstest.MapFS{
		"20260301090400_create_outbox_events.sql": {},
		"20260301090000_create_catalog_tables.sql": {},
		"README.md": {},
	}

	skewed := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	got, err := nextVersion(existing, skewed)
	if err != nil {
		t.Fatalf("next version: %v", err)
	}
	if got != "20260301090401" {
		t.Fatalf("expected bump past latest, got %s", got)
	}

	later := time.Date(2026, 10, 15, 8, 30, 0, 0, time.UTC)
	if got, _ := nextVersion(existing, later); got != "20261015083000" {
		t.Fatalf("expected wall clock version, got %s", got)
	}
	if got, _ := nextVersion(fstest.MapFS{}, later); got != "20261015083000" {
		t.Fatalf("expected wall clock version for empty dir, got %s", got)
	}
}
