package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"cloudjade-ide/internal/auth"
	"cloudjade-ide/internal/domain"
	"cloudjade-ide/internal/repository"
)

const (
	minUsernameLength = 5
	maxUsernameLength = 64
	minPasswordLength = 8
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._@-]+$`)

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
}

// OTPEngine generates TOTP secrets and verifies codes.
type OTPEngine interface {
	Generate(accountName string) (string, domain.ProvisioningArtifact, error)
	Verify(secret, code string) bool
}

// TokenIssuer mints session tokens.
type TokenIssuer interface {
	Issue(claims auth.Claims, expiresAt time.Time) (string, error)
}

// AccountService registers and authenticates accounts.
type AccountService interface {
	Register(ctx context.Context, username, password string) (*domain.ProvisioningArtifact, error)
	Login(ctx context.Context, username, password, totpCode string) (*domain.Session, error)
	EnableTwoFactor(ctx context.Context, accountID, totpCode string) error
	GetByID(ctx context.Context, accountID string) (*domain.Account, error)
}

// AccountConfig tunes the account service.
type AccountConfig struct {
	TokenTTL     time.Duration
	StoreTimeout time.Duration
	// RequireTOTPConfirmation makes EnableTwoFactor demand a valid code for
	// the stored secret before the flag is set.
	RequireTOTPConfirmation bool
	Logger                  logrus.FieldLogger
	Now                     func() time.Time
}

type accountService struct {
	accounts repository.AccountRepository
	hasher   PasswordHasher
	otp      OTPEngine
	tokens   TokenIssuer
	cfg      AccountConfig

	dummyOnce sync.Once
	dummyHash string
}

func NewAccountService(accounts repository.AccountRepository, hasher PasswordHasher, otp OTPEngine, tokens TokenIssuer, cfg AccountConfig) AccountService {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &accountService{
		accounts: accounts,
		hasher:   hasher,
		otp:      otp,
		tokens:   tokens,
		cfg:      cfg,
	}
}

func (s *accountService) Register(ctx context.Context, username, password string) (*domain.ProvisioningArtifact, error) {
	username = strings.TrimSpace(username)
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	// Fast path only: the store's uniqueness constraint decides races below.
	if _, err := s.lookupByUsername(ctx, username); err == nil {
		return nil, ErrAccountExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, s.storeFailure("lookup account", err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	secret, artifact, err := s.otp.Generate(username)
	if err != nil {
		return nil, err
	}

	account := &domain.Account{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		TOTPSecret:   secret,
		TOTPEnabled:  false,
	}

	storeCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	if err := s.accounts.Create(storeCtx, account); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrAccountExists
		}
		return nil, s.storeFailure("create account", err)
	}

	s.cfg.Logger.WithFields(logrus.Fields{
		"account_id": account.ID,
		"username":   account.Username,
	}).Info("account registered")

	return &artifact, nil
}

func (s *accountService) Login(ctx context.Context, username, password, totpCode string) (*domain.Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	account, err := s.lookupByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// keep response time close to the wrong-password path
			s.hasher.Verify(s.placeholderHash(), password)
			s.rejectLogin(username, ErrInvalidCredentials)
			return nil, ErrInvalidCredentials
		}
		return nil, s.storeFailure("lookup account", err)
	}

	if !s.hasher.Verify(account.PasswordHash, password) {
		s.rejectLogin(username, ErrInvalidCredentials)
		return nil, ErrInvalidCredentials
	}

	if account.TOTPEnabled {
		totpCode = strings.TrimSpace(totpCode)
		if totpCode == "" {
			s.rejectLogin(username, ErrTwoFactorRequired)
			return nil, ErrTwoFactorRequired
		}
		if !s.otp.Verify(account.TOTPSecret, totpCode) {
			s.rejectLogin(username, ErrInvalidTwoFactorCode)
			return nil, ErrInvalidTwoFactorCode
		}
	}

	expiresAt := s.cfg.Now().Add(s.cfg.TokenTTL)
	token, err := s.tokens.Issue(auth.Claims{
		AccountID: account.ID,
		Username:  account.Username,
	}, expiresAt)
	if err != nil {
		return nil, err
	}

	return &domain.Session{
		Token:     token,
		ExpiresAt: expiresAt,
		Account:   sanitizeAccount(account),
	}, nil
}

func (s *accountService) EnableTwoFactor(ctx context.Context, accountID, totpCode string) error {
	account, err := s.lookupByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return s.storeFailure("lookup account", err)
	}

	if s.cfg.RequireTOTPConfirmation {
		totpCode = strings.TrimSpace(totpCode)
		if totpCode == "" {
			return ErrTwoFactorRequired
		}
		if !s.otp.Verify(account.TOTPSecret, totpCode) {
			return ErrInvalidTwoFactorCode
		}
	}

	if account.TOTPEnabled {
		return nil
	}

	storeCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	if err := s.accounts.SetTOTPEnabled(storeCtx, account.ID, true); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return s.storeFailure("enable two-factor", err)
	}

	s.cfg.Logger.WithField("account_id", account.ID).Info("two-factor authentication enabled")
	return nil
}

func (s *accountService) GetByID(ctx context.Context, accountID string) (*domain.Account, error) {
	account, err := s.lookupByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, s.storeFailure("lookup account", err)
	}
	return sanitizeAccount(account), nil
}

func (s *accountService) lookupByUsername(ctx context.Context, username string) (*domain.Account, error) {
	storeCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.accounts.GetByUsername(storeCtx, username)
}

func (s *accountService) lookupByID(ctx context.Context, id string) (*domain.Account, error) {
	storeCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.accounts.GetByID(storeCtx, id)
}

func (s *accountService) storeFailure(op string, err error) error {
	wrapped := collaboratorError(ErrStorage, op, err)
	s.cfg.Logger.WithError(err).WithField("op", op).Error("credential store failure")
	return wrapped
}

func (s *accountService) rejectLogin(username string, reason error) {
	s.cfg.Logger.WithFields(logrus.Fields{
		"username": username,
		"reason":   reason.Error(),
	}).Info("login rejected")
}

func (s *accountService) placeholderHash() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash(uuid.NewString())
	})
	return s.dummyHash
}

func validateUsername(username string) error {
	switch {
	case len(username) < minUsernameLength:
		return invalid("username", "must be at least 5 characters")
	case len(username) > maxUsernameLength:
		return invalid("username", "must be at most 64 characters")
	case !usernamePattern.MatchString(username):
		return invalid("username", "may only contain letters, digits and . _ @ -")
	}
	return nil
}

func validatePassword(password string) error {
	switch {
	case len(password) < minPasswordLength:
		return invalid("password", "must be at least 8 characters")
	case len(password) > auth.MaxPasswordBytes:
		return invalid("password", "must be at most 72 bytes")
	}
	return nil
}

func sanitizeAccount(account *domain.Account) *domain.Account {
	if account == nil {
		return nil
	}
	return &domain.Account{
		ID:          account.ID,
		Username:    account.Username,
		TOTPEnabled: account.TOTPEnabled,
		CreatedAt:   account.CreatedAt,
		UpdatedAt:   account.UpdatedAt,
	}
}
