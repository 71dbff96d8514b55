// Package pgindex provides an optional Postgres-backed secondary index
// over a pile's witnesses, for operators who want SQL-queryable witness
// status history alongside the pile's own durable KV truth. It never
// stands in for the pile; it is a read-optimized mirror fed by the same
// events the pile's Pile.AddWitness/UpdateWitnessStatus already see.
// Adapted from the teacher's pkg/database/client.go (connection pooling,
// embed.FS migrations, health check).
package pgindex

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/RGB-WG/rgb-std-sub001/pkg/codec"
	"github.com/RGB-WG/rgb-std-sub001/pkg/witness"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Index is a Postgres-backed secondary index of witness status history.
type Index struct {
	db     *sql.DB
	logger *log.Logger
}

// Option configures an Index.
type Option func(*Index)

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(i *Index) { i.logger = logger }
}

// Open connects to Postgres at dsn and configures the pool.
func Open(dsn string, opts ...Option) (*Index, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pgindex: dsn cannot be empty")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgindex: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	idx := &Index{db: db, logger: log.New(log.Writer(), "[pgindex] ", log.LstdFlags)}
	for _, opt := range opts {
		opt(idx)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgindex: ping: %w", err)
	}
	return idx, nil
}

// Close closes the connection pool.
func (i *Index) Close() error {
	return i.db.Close()
}

// Migrate applies the embedded schema migrations.
func (i *Index) Migrate(ctx context.Context) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("pgindex: read migrations: %w", err)
	}
	for _, e := range entries {
		sqlBytes, err := migrationsFS.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("pgindex: read migration %s: %w", e.Name(), err)
		}
		i.logger.Printf("applying migration %s", e.Name())
		if _, err := i.db.ExecContext(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("pgindex: apply migration %s: %w", e.Name(), err)
		}
	}
	return nil
}

// RecordWitness upserts a witness's current status, mirroring a
// Pile.AddWitness / Pile.UpdateWitnessStatus call.
func (i *Index) RecordWitness(ctx context.Context, contractID codec.ContractId, wid codec.WitnessId, status witness.Status) error {
	_, err := i.db.ExecContext(ctx, `
		INSERT INTO witness_status (contract_id, witness_id, status_kind, status_height, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (contract_id, witness_id)
		DO UPDATE SET status_kind = EXCLUDED.status_kind,
		              status_height = EXCLUDED.status_height,
		              updated_at = now()`,
		contractID.String(), wid.String(), int(status.Kind), status.Height)
	if err != nil {
		return fmt.Errorf("pgindex: record witness: %w", err)
	}
	return nil
}

// WitnessesByStatus returns witness ids for a contract currently at the
// given status kind, e.g. for an operator dashboard listing everything
// still Tentative.
func (i *Index) WitnessesByStatus(ctx context.Context, contractID codec.ContractId, kind witness.StatusKind) ([]string, error) {
	rows, err := i.db.QueryContext(ctx, `
		SELECT witness_id FROM witness_status
		WHERE contract_id = $1 AND status_kind = $2
		ORDER BY updated_at DESC`,
		contractID.String(), int(kind))
	if err != nil {
		return nil, fmt.Errorf("pgindex: query witnesses by status: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var wid string
		if err := rows.Scan(&wid); err != nil {
			return nil, fmt.Errorf("pgindex: scan witness id: %w", err)
		}
		out = append(out, wid)
	}
	return out, rows.Err()
}
