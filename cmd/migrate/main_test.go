package main

import (
	"strings"
	"testing"
)

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations(migrationsFS)
	if err != nil {
		t.Fatalf("unexpected error loading embedded migrations: %v", err)
	}
	if len(migrations) != 4 {
		t.Fatalf("expected 4 migrations, got %d", len(migrations))
	}
	for i, m := range migrations {
		if m.Version != int64(i+1) {
			t.Fatalf("expected migration %d at position %d, got %d", i+1, i, m.Version)
		}
		if m.UpSQL == "" || m.DownSQL == "" {
			t.Fatalf("migration %d missing up or down sql", m.Version)
		}
	}
}

func TestMigrationsCoverCoreTables(t *testing.T) {
	migrations, err := loadMigrations(migrationsFS)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var all strings.Builder
	for _, m := range migrations {
		all.WriteString(m.UpSQL)
	}
	for _, table := range []string{
		"signals", "trades", "signal_observations",
		"layer_performance", "weight_adjustment_events",
		"candles", "backtest_runs", "ml_models",
	} {
		if !strings.Contains(all.String(), "CREATE TABLE IF NOT EXISTS "+table) {
			t.Fatalf("no migration creates table %s", table)
		}
	}
}
