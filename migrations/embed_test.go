package migrations

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/ehr/patientflow/internal/platform/db"
)

func TestEmbeddedMigrationsLoad(t *testing.T) {
	migrations, err := db.NewMigrator(nil, FS, zerolog.Nop()).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) == 0 || migrations[0].Version != 1 {
		t.Fatalf("expected migration 001 first, got %+v", migrations)
	}
}
