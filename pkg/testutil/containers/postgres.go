//go:build integration

package containers

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	_ "github.com/lib/pq"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// PostgresContainer wraps a testcontainers Postgres instance with the
// project schema applied.
type PostgresContainer struct {
	Container *tcpostgres.PostgresContainer
	DSN       string
	DB        *sql.DB
}

// NewPostgresContainer starts a Postgres container and applies migrations.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("dosegate"),
		tcpostgres.WithUsername("dosegate"),
		tcpostgres.WithPassword("dosegate"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to open postgres connection: %v", err)
	}

	schema, err := os.ReadFile(migrationPath())
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to read schema: %v", err)
	}
	if _, err := db.ExecContext(ctx, string(schema)); err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to apply schema: %v", err)
	}

	return &PostgresContainer{Container: container, DSN: dsn, DB: db}
}

// Truncate clears the given tables between tests.
func (p *PostgresContainer) Truncate(ctx context.Context, tables ...string) error {
	for _, table := range tables {
		if _, err := p.DB.ExecContext(ctx, "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
			return err
		}
	}
	return nil
}

func migrationPath() string {
	_, thisFile, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(thisFile), "..", "..", "..", "migrations", "0001_init.sql")
}
