package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cloudjade-ide/internal/domain"
	"cloudjade-ide/internal/repository"
)

const createFilesTable = `
CREATE TABLE IF NOT EXISTS files (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	name TEXT NOT NULL,
	size INTEGER NOT NULL,
	object_key TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_owner_id ON files(owner_id);
`

type FileRepository struct {
	db *sql.DB
}

func NewFileRepository(db *sql.DB) repository.FileRepository {
	return &FileRepository{db: db}
}

func (r *FileRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createFilesTable); err != nil {
		return fmt.Errorf("create files table: %w", err)
	}
	return nil
}

func (r *FileRepository) Create(ctx context.Context, file *domain.File) error {
	file.CreatedAt = time.Now().UTC()

	if _, err := r.db.ExecContext(ctx, `
INSERT INTO files (id, owner_id, name, size, object_key, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		file.ID,
		file.OwnerID,
		file.Name,
		file.Size,
		file.ObjectKey,
		file.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

func (r *FileRepository) Get(ctx context.Context, id string) (*domain.File, error) {
	var f domain.File
	err := r.db.QueryRowContext(ctx, `
SELECT id, owner_id, name, size, object_key, created_at
FROM files
WHERE id = ?`, id).Scan(&f.ID, &f.OwnerID, &f.Name, &f.Size, &f.ObjectKey, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan file: %w", err)
	}
	return &f, nil
}

func (r *FileRepository) ListByOwner(ctx context.Context, ownerID string) ([]domain.File, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, owner_id, name, size, object_key, created_at
FROM files
WHERE owner_id = ?
ORDER BY created_at ASC, id ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	var files []domain.File
	for rows.Next() {
		var f domain.File
		if err := rows.Scan(&f.ID, &f.OwnerID, &f.Name, &f.Size, &f.ObjectKey, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}

	return files, rows.Err()
}
