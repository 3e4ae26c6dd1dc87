//go:build itest && test_db_postgres

package itest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aurawallet/walletcore/wstore"
)

var (
	// Shared container instance, reused across tests for performance.
	// This is safe to share because each test gets its own database
	// inside the container.
	pgContainer *postgres.PostgresContainer

	// Ensure the container is created only once.
	pgContainerOnce sync.Once

	// Error returned by the container creation operation.
	pgContainerErr error

	// Timeout for waiting for the postgres container to start. Needs
	// to consider container image download time.
	pgInitTimeout = 2 * time.Minute

	// Timeout for terminating the postgres container after the suite.
	pgTerminateTimeout = 1 * time.Minute
)

// TestMain terminates the shared postgres container after the suite
// completes to avoid leaking docker resources.
func TestMain(m *testing.M) {
	code := m.Run()

	if pgContainer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), pgTerminateTimeout,
		)
		defer cancel()

		err := pgContainer.Terminate(ctx)
		if err != nil {
			fmt.Printf("failed to terminate postgres "+
				"container: %v\n", err)
		}
	}

	os.Exit(code)
}

// getPostgresContainer returns the shared postgres container instance.
func getPostgresContainer(ctx context.Context) (*postgres.PostgresContainer,
	error) {

	pgContainerOnce.Do(func() {
		pgContainer, pgContainerErr = postgres.RunContainer(ctx,
			testcontainers.WithImage("postgres:18-alpine"),
			postgres.WithDatabase("postgres"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategyAndDeadline(
				pgInitTimeout,
				wait.ForListeningPort("5432/tcp"),
			),
		)
	})

	return pgContainer, pgContainerErr
}

// sanitizedPgDBName converts a test name to a valid postgres database
// name.
func sanitizedPgDBName(t *testing.T) string {
	dbName := strings.ToLower(t.Name())

	reg := regexp.MustCompile(`[^a-z0-9_]`)
	dbName = reg.ReplaceAllString(dbName, "_")

	// Postgres database names are limited to 63 characters.
	if len(dbName) > 63 {
		dbName = dbName[:63]
	}

	return dbName
}

// NewTestStore creates a migrated postgres-backed store. Each test gets
// its own database inside the shared container.
func NewTestStore(t *testing.T) *wstore.Store {
	t.Helper()
	ctx := t.Context()

	container, err := getPostgresContainer(ctx)
	require.NoError(t, err, "failed to get postgres container")

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	// Connect to the default database to create the test database.
	adminDB, err := sql.Open("pgx", connStr)
	require.NoError(t, err, "failed to open admin connection")

	t.Cleanup(func() {
		_ = adminDB.Close()
	})

	dbName := sanitizedPgDBName(t)

	_, err = adminDB.ExecContext(
		ctx, fmt.Sprintf("CREATE DATABASE %s", dbName),
	)
	require.NoError(t, err, "failed to create test database")

	testConnStr := strings.Replace(connStr, "/postgres?", "/"+dbName+"?", 1)

	dbConn, err := sql.Open("pgx", testConnStr)
	require.NoError(t, err, "failed to open test database connection")

	t.Cleanup(func() {
		_ = dbConn.Close()
	})

	err = wstore.ApplyPostgresMigrations(dbConn)
	require.NoError(t, err, "failed to apply migrations")

	store, err := wstore.NewPostgresStore(dbConn)
	require.NoError(t, err, "failed to create store")

	return store
}
