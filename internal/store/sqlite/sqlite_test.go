package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/austindbirch/tml_hook/internal/db"
	"github.com/austindbirch/tml_hook/internal/outbox"
	"github.com/austindbirch/tml_hook/internal/store/storetest"
	"github.com/austindbirch/tml_hook/internal/tenant"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "tml.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, db.MigrateSQLite(conn))
	return conn
}

func TestOutboxStore(t *testing.T) {
	storetest.RunOutbox(t, func(t *testing.T) outbox.Store {
		return NewOutboxStore(testDB(t))
	})
}

func TestTenantStore(t *testing.T) {
	storetest.RunTenant(t, func(t *testing.T) tenant.Store {
		return NewTenantStore(testDB(t))
	})
}
