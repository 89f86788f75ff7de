package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cloudjade-ide/internal/domain"
	"cloudjade-ide/internal/repository"
)

const createPluginsTable = `
CREATE TABLE IF NOT EXISTS plugins (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	installed INTEGER NOT NULL DEFAULT 0
);
`

type PluginRepository struct {
	db *sql.DB
}

func NewPluginRepository(db *sql.DB) repository.PluginRepository {
	return &PluginRepository{db: db}
}

func (r *PluginRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createPluginsTable); err != nil {
		return fmt.Errorf("create plugins table: %w", err)
	}
	return nil
}

// Seed inserts catalog entries that are not present yet. Existing rows keep
// their installed flag.
func (r *PluginRepository) Seed(ctx context.Context, plugins []domain.Plugin) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // safe no-op on commit

	for _, p := range plugins {
		if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO plugins (id, name, description, installed)
VALUES (?, ?, ?, ?)`,
			p.ID,
			p.Name,
			p.Description,
			p.Installed,
		); err != nil {
			return fmt.Errorf("seed plugin %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *PluginRepository) List(ctx context.Context) ([]domain.Plugin, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, name, description, installed
FROM plugins
ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("query plugins: %w", err)
	}
	defer rows.Close()

	var plugins []domain.Plugin
	for rows.Next() {
		var p domain.Plugin
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Installed); err != nil {
			return nil, fmt.Errorf("scan plugin: %w", err)
		}
		plugins = append(plugins, p)
	}

	return plugins, rows.Err()
}

func (r *PluginRepository) Toggle(ctx context.Context, id string) (*domain.Plugin, error) {
	var p domain.Plugin
	err := r.db.QueryRowContext(ctx, `
UPDATE plugins
SET installed = NOT installed
WHERE id = ?
RETURNING id, name, description, installed`, id).Scan(&p.ID, &p.Name, &p.Description, &p.Installed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("toggle plugin: %w", err)
	}
	return &p, nil
}
