package catalog

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrateURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@localhost:5432/promo?sslmode=disable", migrateURL("postgres://u:p@localhost:5432/promo?sslmode=disable"))
	require.Equal(t, "pgx5://localhost/promo", migrateURL("postgresql://localhost/promo"))
	require.Equal(t, "pgx5://localhost/promo", migrateURL("pgx5://localhost/promo"))
}

func TestMigrationFilesArePaired(t *testing.T) {
	ups, err := fs.Glob(migrationFiles, "migrations/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrationFiles, "migrations/*.down.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)
	require.Len(t, downs, len(ups))
}
