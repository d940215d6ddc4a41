package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// newTestClient starts an ephemeral Postgres container, applies the
// embedded migrations, and returns a ready client.
//
// This package cannot use test/util.SetupTestDatabase: that helper
// imports pkg/database (to call ApplyMigrations), so an internal
// (package database) test file importing it back would form an import
// cycle the Go toolchain rejects. test/util stays available to
// packages that sit above pkg/database in the dependency graph, which
// is every other package's test suite.
func newTestClient(t *testing.T) *Client {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	require.NoError(t, runMigrations(db, "test"))
	require.NoError(t, CreateFullTextIndexes(ctx, db))

	client := NewClientFromDB(db, true)
	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

func TestDatabaseClient_ConnectionPool(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	err := client.DB().PingContext(ctx)
	require.NoError(t, err)

	health, err := Health(ctx, client.DB())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Greater(t, health.MaxOpenConns, 0)
}

func TestFullTextSearch(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.DB().ExecContext(ctx,
		`INSERT INTO events (
			execution_id, correlation_id, trace_id, span_id, application_id,
			originating_system, target_system, process_name, step_sequence,
			event_type, event_status, identifiers, summary, result, event_timestamp
		) VALUES
		('exec-1','corr-1','trace-1','span-1','app','sys-a','sys-b','proc',0,
		 'PROCESS_START','SUCCESS','{}','Critical error in production cluster','pod failures detected', now()),
		('exec-2','corr-2','trace-2','span-2','app','sys-a','sys-b','proc',0,
		 'PROCESS_START','SUCCESS','{}','Warning: high memory usage detected','nominal', now())`,
	)
	require.NoError(t, err)

	rows, err := client.DB().QueryContext(ctx,
		`SELECT execution_id FROM events
		WHERE to_tsvector('english', summary || ' ' || COALESCE(result, '')) @@ to_tsquery('english', $1)`,
		"error & production",
	)
	require.NoError(t, err)
	defer rows.Close()

	var results []string
	for rows.Next() {
		var executionID string
		require.NoError(t, rows.Scan(&executionID))
		results = append(results, executionID)
	}
	assert.Equal(t, []string{"exec-1"}, results)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				Host: "localhost", Port: 5432, User: "test", Password: "test",
				Database: "test", SSLMode: "disable", PoolMax: 10, PoolMin: 5,
			},
			wantErr: false,
		},
		{
			name: "missing password",
			cfg: Config{
				Host: "localhost", Port: 5432, User: "test", Password: "",
				Database: "test", PoolMax: 10, PoolMin: 5,
			},
			wantErr: true,
		},
		{
			name: "pool min exceeds pool max",
			cfg: Config{
				Host: "localhost", Port: 5432, User: "test", Password: "test",
				Database: "test", PoolMax: 5, PoolMin: 10,
			},
			wantErr: true,
		},
		{
			name: "zero pool max",
			cfg: Config{
				Host: "localhost", Port: 5432, User: "test", Password: "test",
				Database: "test", PoolMax: 0, PoolMin: 0,
			},
			wantErr: true,
		},
		{
			name: "negative pool min",
			cfg: Config{
				Host: "localhost", Port: 5432, User: "test", Password: "test",
				Database: "test", PoolMax: 10, PoolMin: -1,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
