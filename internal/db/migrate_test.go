package db

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrateURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@localhost:5432/presale?sslmode=disable", MigrateURL("postgres://u:p@localhost:5432/presale?sslmode=disable"))
	require.Equal(t, "pgx5://localhost/presale", MigrateURL("postgresql://localhost/presale"))
	require.Equal(t, "pgx5://localhost/presale", MigrateURL("pgx5://localhost/presale"))
}

func TestMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)

	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	require.NotEmpty(t, ups)
	require.Equal(t, ups, downs)
}

func TestSchemaGuardsActiveCarUniqueness(t *testing.T) {
	raw, err := fs.ReadFile(migrationsFS, "migrations/000001_presale_schema.up.sql")
	require.NoError(t, err)
	require.Contains(t, string(raw), "ON presale_items (store_id, car_id) WHERE status <> 'cancelled'")
	require.Contains(t, string(raw), "payment_plans_delivery_uq")
}
