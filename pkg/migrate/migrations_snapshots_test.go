package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSnapshotMigrationContainsConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_ad_snapshots.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no ad_snapshots migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS ad_snapshots",
		"CONSTRAINT uq_ad_snapshots_round UNIQUE (advertiser_account_id, ad_id, execution_time)",
		"CHECK (conversions >= 0)",
		"CHECK (spend >= 0)",
		"CREATE INDEX IF NOT EXISTS idx_ad_snapshots_advertiser_time",
		"CREATE INDEX IF NOT EXISTS idx_ad_snapshots_ad_time",
		"DROP TABLE IF EXISTS ad_snapshots",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestAdvertiserMigrationContainsConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_advertisers.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no advertisers migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS advertisers",
		"account_id TEXT NOT NULL UNIQUE",
		"FOREIGN KEY (advertiser_id) REFERENCES advertisers(id) ON DELETE CASCADE",
		"CHECK (allowable_cpa >= target_cpa)",
		"DROP TABLE IF EXISTS advertisers",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}
