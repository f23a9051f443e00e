package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/fabric-depot/internal/platform/db"
	"github.com/odyssey-erp/fabric-depot/internal/shared"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS depot_collections (
	namespace  TEXT        NOT NULL,
	name       TEXT        NOT NULL,
	payload    JSONB       NOT NULL DEFAULT '[]'::jsonb,
	version    BIGINT      NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (namespace, name)
)`

// Postgres keeps each collection in one row and serialises updates with
// row locks inside a repeatable-read transaction.
type Postgres struct {
	pool      *pgxpool.Pool
	namespace string
}

// NewPostgres constructs a Postgres-backed Store.
func NewPostgres(pool *pgxpool.Pool, namespace string) *Postgres {
	if namespace == "" {
		namespace = "depot"
	}
	return &Postgres{pool: pool, namespace: namespace}
}

// EnsureSchema creates the collections table when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("kvstore: ensure schema: %w", err)
	}
	return nil
}

// Get implements Store.
func (p *Postgres) Get(ctx context.Context, collection string) ([]byte, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx,
		`SELECT payload FROM depot_collections WHERE namespace = $1 AND name = $2`,
		p.namespace, collection,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kvstore: postgres get %s: %w", collection, err)
	}
	return raw, nil
}

// Update implements Store. A transaction that loses a serialisation race is
// re-run from the read, so fn sees the winner's write.
func (p *Postgres) Update(ctx context.Context, collections []string, fn MutateFunc) error {
	var err error
	for attempt := 0; attempt < defaultMaxRetries; attempt++ {
		err = p.update(ctx, collections, fn)
		if !errors.Is(err, shared.ErrConflict) {
			return err
		}
	}
	return err
}

func (p *Postgres) update(ctx context.Context, collections []string, fn MutateFunc) error {
	return db.WithTx(ctx, p.pool, func(tx pgx.Tx) error {
		for _, name := range collections {
			if _, err := tx.Exec(ctx,
				`INSERT INTO depot_collections (namespace, name) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				p.namespace, name,
			); err != nil {
				return fmt.Errorf("kvstore: postgres ensure %s: %w", name, err)
			}
		}

		rows, err := tx.Query(ctx,
			`SELECT name, payload FROM depot_collections
			 WHERE namespace = $1 AND name = ANY($2)
			 ORDER BY name
			 FOR UPDATE`,
			p.namespace, collections,
		)
		if err != nil {
			return fmt.Errorf("kvstore: postgres lock %v: %w", collections, err)
		}
		current := make(map[string][]byte, len(collections))
		for rows.Next() {
			var name string
			var raw []byte
			if err := rows.Scan(&name, &raw); err != nil {
				rows.Close()
				return fmt.Errorf("kvstore: postgres scan: %w", err)
			}
			current[name] = raw
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("kvstore: postgres rows: %w", err)
		}

		next, err := fn(current)
		if err != nil {
			return err
		}
		for _, name := range collections {
			raw, ok := next[name]
			if !ok {
				continue
			}
			if _, err := tx.Exec(ctx,
				`UPDATE depot_collections
				 SET payload = $3, version = version + 1, updated_at = NOW()
				 WHERE namespace = $1 AND name = $2`,
				p.namespace, name, raw,
			); err != nil {
				return fmt.Errorf("kvstore: postgres write %s: %w", name, err)
			}
		}
		return nil
	})
}
