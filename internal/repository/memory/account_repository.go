// Package memory holds a process-local credential store used by tests and
// local development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloudjade-ide/internal/domain"
	"cloudjade-ide/internal/repository"
)

type AccountRepository struct {
	mu         sync.RWMutex
	byID       map[string]*domain.Account
	byUsername map[string]string
}

func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		byID:       make(map[string]*domain.Account),
		byUsername: make(map[string]string),
	}
}

func (r *AccountRepository) Init(context.Context) error { return nil }

func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byUsername[account.Username]; exists {
		return fmt.Errorf("insert account %q: %w", account.Username, repository.ErrConflict)
	}
	if _, exists := r.byID[account.ID]; exists {
		return fmt.Errorf("insert account id %q: %w", account.ID, repository.ErrConflict)
	}

	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	stored := *account
	r.byID[account.ID] = &stored
	r.byUsername[account.Username] = account.ID
	return nil
}

func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byUsername[username]
	if !ok {
		return nil, repository.ErrNotFound
	}
	acc := *r.byID[id]
	return &acc, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	acc := *stored
	return &acc, nil
}

func (r *AccountRepository) SetTOTPEnabled(ctx context.Context, id string, enabled bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	stored.TOTPEnabled = enabled
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

// Count reports how many accounts are stored under username.
func (r *AccountRepository) Count(username string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, acc := range r.byID {
		if acc.Username == username {
			n++
		}
	}
	return n
}

var _ repository.AccountRepository = (*AccountRepository)(nil)
