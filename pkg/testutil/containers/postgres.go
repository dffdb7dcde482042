//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Cooperation-org/claim-lexicon/internal/platform/database"
)

const postgresImage = "postgres:18-alpine"

// indexerTables lists every table the migrations create, children first.
var indexerTables = []string{
	"claim_sources",
	"claim_edges",
	"pending_tombstones",
	"ingest_cursors",
	"claims",
}

// PostgresContainer is a migrated database opened through the indexer's pool.
type PostgresContainer struct {
	container *postgres.PostgresContainer
	pool      *database.Pool
	DSN       string
	DB        *sql.DB
}

// NewPostgresContainer starts Postgres and applies the embedded migrations.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()
	ctx := context.Background()

	c, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase("claims_test"),
		postgres.WithUsername("claims"),
		postgres.WithPassword("claims_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	fail := func(format string, args ...any) {
		_ = c.Terminate(ctx)
		t.Fatalf(format, args...)
	}

	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fail("postgres connection string: %v", err)
	}
	pool, err := database.New(ctx, database.Config{URL: dsn, MaxOpenConns: 10})
	if err != nil {
		fail("open postgres: %v", err)
	}
	if _, err := database.Migrate(ctx, pool.DB()); err != nil {
		_ = pool.Close()
		fail("migrate postgres: %v", err)
	}

	return &PostgresContainer{container: c, pool: pool, DSN: dsn, DB: pool.DB()}
}

// TruncateModuleTables empties every indexer table.
func (p *PostgresContainer) TruncateModuleTables(ctx context.Context) error {
	stmt := "TRUNCATE TABLE " + strings.Join(indexerTables, ", ") + " CASCADE"
	if _, err := p.DB.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("truncate indexer tables: %w", err)
	}
	return nil
}
