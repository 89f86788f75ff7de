package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloudjade-ide/internal/domain"
	"cloudjade-ide/internal/repository"
)

// DefaultPlugins is the catalog seeded on startup.
var DefaultPlugins = []domain.Plugin{
	{ID: "prettier", Name: "Prettier", Description: "Opinionated code formatter"},
	{ID: "eslint", Name: "ESLint", Description: "Pluggable JavaScript linter"},
	{ID: "gitlens", Name: "GitLens", Description: "Inline blame and history"},
	{ID: "live-share", Name: "Live Share", Description: "Real-time collaborative editing"},
	{ID: "python", Name: "Python", Description: "Python language support"},
}

// PluginService lists catalog plugins and toggles their installed flag.
type PluginService interface {
	Seed(ctx context.Context, plugins []domain.Plugin) error
	List(ctx context.Context) ([]domain.Plugin, error)
	Toggle(ctx context.Context, id string) (*domain.Plugin, error)
}

type pluginService struct {
	plugins repository.PluginRepository
	timeout time.Duration
}

func NewPluginService(plugins repository.PluginRepository, timeout time.Duration) PluginService {
	return &pluginService{plugins: plugins, timeout: timeout}
}

func (s *pluginService) Seed(ctx context.Context, plugins []domain.Plugin) error {
	storeCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.plugins.Seed(storeCtx, plugins); err != nil {
		return collaboratorError(ErrStorage, "seed plugins", err)
	}
	return nil
}

func (s *pluginService) List(ctx context.Context) ([]domain.Plugin, error) {
	storeCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	plugins, err := s.plugins.List(storeCtx)
	if err != nil {
		return nil, collaboratorError(ErrStorage, "list plugins", err)
	}
	return plugins, nil
}

func (s *pluginService) Toggle(ctx context.Context, id string) (*domain.Plugin, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, invalid("id", "must not be empty")
	}

	storeCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	plugin, err := s.plugins.Toggle(storeCtx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, collaboratorError(ErrStorage, "toggle plugin", err)
	}
	return plugin, nil
}
