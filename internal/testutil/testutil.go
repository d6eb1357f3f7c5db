// Helpers to run tests against real Postgres with the ledger schema applied
package testutil

import (
	"context"
	"net"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/nkiryanov/affiliate/internal/db"
)

const (
	postgresImage = "postgres:17-alpine"
	database      = "affiliate-test"
	username      = "affiliate"
	password      = "pwd"
)

// Free port on 127.0.0.1 to start a server on
func RandomPort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:")
	if err != nil {
		return 0, err
	}
	defer ln.Close() // nolint:errcheck

	return ln.Addr().(*net.TCPAddr).Port, nil
}

type PostgresContainer struct {
	DSN  string
	Pool *pgxpool.Pool

	// Close the pool. The container itself is removed on test cleanup
	Terminate func()
}

// Start Postgres in docker and apply migrations
// The test is skipped if docker is not available
func StartPostgresContainer(t *testing.T) PostgresContainer {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	container, err := postgres.Run(t.Context(), postgresImage,
		postgres.WithDatabase(database),
		postgres.WithUsername(username),
		postgres.WithPassword(password),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err, "postgres container not started")

	dsn, err := container.ConnectionString(t.Context(), "sslmode=disable")
	require.NoError(t, err)
	t.Logf("Container with pg started, DSN=%v", dsn)

	pool, err := db.ConnectAndMigrate(t.Context(), dsn)
	require.NoError(t, err, "ledger schema not migrated")

	return PostgresContainer{
		DSN:       dsn,
		Pool:      pool,
		Terminate: pool.Close,
	}
}

// Satisfied by *pgxpool.Pool and pgx.Tx
type beginner interface {
	Begin(context.Context) (pgx.Tx, error)
}

// Run testFunc in transaction rolled back at the end, so every test sees the same empty ledger
// Called with pgx.Tx it runs in a savepoint
func WithTx(conn beginner, t *testing.T, testFunc func(tx pgx.Tx)) {
	tx, err := conn.Begin(t.Context())
	require.NoError(t, err)

	defer func() {
		require.NoError(t, tx.Rollback(t.Context()))
	}()

	testFunc(tx)
}
