package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"cloudjade-ide/internal/domain"
	"cloudjade-ide/internal/repository"
)

const maxNameLength = 128

// ProjectService stores source projects per account.
type ProjectService interface {
	Create(ctx context.Context, ownerID, name, code string) (*domain.Project, error)
	List(ctx context.Context, ownerID string) ([]domain.Project, error)
}

type projectService struct {
	projects repository.ProjectRepository
	timeout  time.Duration
}

func NewProjectService(projects repository.ProjectRepository, timeout time.Duration) ProjectService {
	return &projectService{projects: projects, timeout: timeout}
}

func (s *projectService) Create(ctx context.Context, ownerID, name, code string) (*domain.Project, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, invalid("code", "must not be empty")
	}

	project := &domain.Project{
		ID:      uuid.NewString(),
		OwnerID: ownerID,
		Name:    name,
		Code:    code,
	}

	storeCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.projects.Create(storeCtx, project); err != nil {
		return nil, collaboratorError(ErrStorage, "create project", err)
	}
	return project, nil
}

func (s *projectService) List(ctx context.Context, ownerID string) ([]domain.Project, error) {
	storeCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	projects, err := s.projects.ListByOwner(storeCtx, ownerID)
	if err != nil {
		return nil, collaboratorError(ErrStorage, "list projects", err)
	}
	return projects, nil
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", invalid("name", "must not be empty")
	case len(name) > maxNameLength:
		return "", invalid("name", "must be at most 128 characters")
	case strings.ContainsAny(name, "/\\\x00"):
		return "", invalid("name", "must not contain path separators")
	}
	return name, nil
}
