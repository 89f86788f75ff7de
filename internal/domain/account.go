package domain

import "time"

// Account represents a registered user of the IDE backend.
type Account struct {
	ID           string
	Username     string
	PasswordHash string
	TOTPSecret   string
	TOTPEnabled  bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ProvisioningArtifact lets an authenticator app import the TOTP secret.
type ProvisioningArtifact struct {
	OTPAuthURL string
	QRCode     string
}

// Session is the outcome of a successful login.
type Session struct {
	Token     string
	ExpiresAt time.Time
	Account   *Account
}
