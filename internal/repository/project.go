package repository

import (
	"context"

	"cloudjade-ide/internal/domain"
)

// ProjectRepository persists saved projects.
type ProjectRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, project *domain.Project) error
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Project, error)
}

// FileRepository manages metadata of uploaded files.
type FileRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, file *domain.File) error
	Get(ctx context.Context, id string) (*domain.File, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.File, error)
}

// PluginRepository manages the plugin catalog.
type PluginRepository interface {
	Init(ctx context.Context) error
	Seed(ctx context.Context, plugins []domain.Plugin) error
	List(ctx context.Context) ([]domain.Plugin, error)
	Toggle(ctx context.Context, id string) (*domain.Plugin, error)
}
