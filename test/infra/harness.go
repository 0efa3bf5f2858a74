package infra

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"verity/db"
)

// DSNEnv names the variable that points the harness at an existing database
// instead of starting a container.
const DSNEnv = "VERITY_TEST_PG_DSN"

// Harness owns the Postgres instance, when it started one, and a migrated
// pgx pool.
type Harness struct {
	container *postgres.PostgresContainer
	pool      *pgxpool.Pool
	dsn       string
}

// NewHarness connects to dsn, or to $VERITY_TEST_PG_DSN, or boots a
// Postgres 16 container, then applies the embedded migrations.
func NewHarness(ctx context.Context, dsn string) (*Harness, error) {
	h := &Harness{dsn: dsn}
	if h.dsn == "" {
		h.dsn = os.Getenv(DSNEnv)
	}
	if h.dsn == "" {
		c, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("verity"),
			postgres.WithUsername("verity"),
			postgres.WithPassword("verity"),
			postgres.BasicWaitStrategies(),
		)
		if err != nil {
			return nil, fmt.Errorf("start postgres container: %w", err)
		}
		h.container = c
		if h.dsn, err = c.ConnectionString(ctx, "sslmode=disable"); err != nil {
			h.Close(ctx)
			return nil, fmt.Errorf("resolve connection string: %w", err)
		}
	}

	pool, err := db.NewPool(ctx, h.dsn, db.PoolConfig{
		MaxConns:        64,
		MaxConnIdleTime: 30 * time.Second,
		MaxConnLifetime: 5 * time.Minute,
	})
	if err != nil {
		h.Close(ctx)
		return nil, err
	}
	h.pool = pool

	if err := db.Migrate(ctx, pool); err != nil {
		h.Close(ctx)
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return h, nil
}

func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

// DSN returns the connection string for direct connections.
func (h *Harness) DSN() string {
	return h.dsn
}

// Close tears down resources.
func (h *Harness) Close(ctx context.Context) {
	if h.pool != nil {
		h.pool.Close()
	}
	if h.container != nil {
		_ = h.container.Terminate(ctx)
	}
}

// Reset empties the mutable tables and rewinds the claim id sequence.
func (h *Harness) Reset(ctx context.Context) error {
	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reset begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, tbl := range []string{"outbox", "bond_movements", "claims"} {
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+tbl+" CASCADE"); err != nil {
			return fmt.Errorf("truncate %s: %w", tbl, err)
		}
	}
	if _, err := tx.Exec(ctx, "ALTER SEQUENCE claim_id_seq RESTART WITH 1"); err != nil {
		return fmt.Errorf("restart claim sequence: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reset commit: %w", err)
	}
	return nil
}
