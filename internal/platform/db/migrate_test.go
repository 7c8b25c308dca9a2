package db

import (
	"testing"
	"testing/fstest"
	"time"

	"github.com/rs/zerolog"
)

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"002_history.sql":   {Data: []byte("CREATE TABLE encounter_status_history (id UUID);")},
		"001_core.sql":      {Data: []byte("CREATE TABLE encounter (id UUID);")},
		"010_indexes.sql":   {Data: []byte("CREATE INDEX x ON encounter (id);")},
		"README.md":         {Data: []byte("docs")},
		"seed.sql":          {Data: []byte("INSERT 1;")},
		"abc_invalid.sql":   {Data: []byte("SELECT 1;")},
		"archive/003_x.sql": {Data: []byte("SELECT 1;")},
	}
	migrations, err := NewMigrator(nil, fsys, zerolog.Nop()).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	want := []int{1, 2, 10}
	for i, v := range want {
		if migrations[i].Version != v {
			t.Errorf("[%d] expected version %d, got %d", i, v, migrations[i].Version)
		}
	}
	if migrations[0].Name != "001_core.sql" || migrations[0].SQL != "CREATE TABLE encounter (id UUID);" {
		t.Errorf("unexpected first migration %+v", migrations[0])
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"001_core.sql":  {Data: []byte("SELECT 1;")},
		"001_other.sql": {Data: []byte("SELECT 2;")},
	}
	if _, err := NewMigrator(nil, fsys, zerolog.Nop()).LoadMigrations(); err == nil {
		t.Error("expected error for duplicate version")
	}
}

func TestLoadMigrations_Empty(t *testing.T) {
	migrations, err := NewMigrator(nil, fstest.MapFS{}, zerolog.Nop()).LoadMigrations()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(migrations) != 0 {
		t.Errorf("expected 0 migrations, got %d", len(migrations))
	}
}

func TestPendingAndStatus(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Name: "001_core.sql"},
		{Version: 2, Name: "002_history.sql"},
		{Version: 3, Name: "003_indexes.sql"},
	}
	at := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	applied := map[int]time.Time{1: at}

	pending := Pending(migrations, applied)
	if len(pending) != 2 || pending[0].Version != 2 || pending[1].Version != 3 {
		t.Errorf("unexpected pending %+v", pending)
	}

	statuses := StatusOf(migrations, applied)
	if len(statuses) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(statuses))
	}
	if !statuses[0].Applied || statuses[0].AppliedAt == nil || !statuses[0].AppliedAt.Equal(at) {
		t.Errorf("expected 001 applied at %v, got %+v", at, statuses[0])
	}
	if statuses[1].Applied || statuses[1].AppliedAt != nil {
		t.Error("expected 002 pending")
	}
}
