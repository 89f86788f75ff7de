package repository

import (
	"context"

	"cloudjade-ide/internal/domain"
)

// AccountRepository is the credential store. Username uniqueness is enforced
// by the store itself: Create returns ErrConflict when it is violated.
type AccountRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, account *domain.Account) error
	GetByUsername(ctx context.Context, username string) (*domain.Account, error)
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	SetTOTPEnabled(ctx context.Context, id string, enabled bool) error
}
