package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Postgres resolves entities from the inventory database. The core holds a
// single read query against the collaborator's table; writes stay with the
// inventory service.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a postgres-backed inventory lookup.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Lookup resolves an entity by id.
func (p *Postgres) Lookup(ctx context.Context, entityID string) (Entity, error) {
	var e Entity
	err := p.db.QueryRowContext(ctx,
		`SELECT id, display_name FROM inventory_items WHERE id = $1`,
		entityID,
	).Scan(&e.ID, &e.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return Entity{}, fmt.Errorf("%w: %s", ErrUnknownEntity, entityID)
	}
	if err != nil {
		return Entity{}, fmt.Errorf("lookup entity %s: %w", entityID, err)
	}
	return e, nil
}
