package auth

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"cloudjade-ide/internal/domain"
)

const (
	totpSecretSize = 32
	totpPeriod     = 30
	qrCodeSize     = 256
)

// TOTPConfig configures a TOTP engine.
type TOTPConfig struct {
	Issuer string
	// Skew is the number of adjacent 30 second steps accepted on each side.
	Skew uint
	Now  func() time.Time
}

// TOTP generates shared secrets and verifies RFC 6238 codes.
type TOTP struct {
	issuer string
	now    func() time.Time
	opts   totp.ValidateOpts
}

func NewTOTP(cfg TOTPConfig) *TOTP {
	if cfg.Issuer == "" {
		cfg.Issuer = "CloudJade IDE"
	}
	if cfg.Skew == 0 {
		cfg.Skew = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &TOTP{
		issuer: cfg.Issuer,
		now:    cfg.Now,
		opts: totp.ValidateOpts{
			Period:    totpPeriod,
			Skew:      cfg.Skew,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		},
	}
}

// Generate creates a fresh secret for accountName and its provisioning artifact.
func (e *TOTP) Generate(accountName string) (string, domain.ProvisioningArtifact, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: accountName,
		Period:      totpPeriod,
		SecretSize:  totpSecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", domain.ProvisioningArtifact{}, fmt.Errorf("generate totp key: %w", err)
	}

	img, err := key.Image(qrCodeSize, qrCodeSize)
	if err != nil {
		return "", domain.ProvisioningArtifact{}, fmt.Errorf("render qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", domain.ProvisioningArtifact{}, fmt.Errorf("encode qr code: %w", err)
	}

	return key.Secret(), domain.ProvisioningArtifact{
		OTPAuthURL: key.URL(),
		QRCode:     "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// Verify checks code against secret at the current time.
func (e *TOTP) Verify(secret, code string) bool {
	return e.VerifyAt(secret, code, e.now())
}

func (e *TOTP) VerifyAt(secret, code string, t time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != int(otp.DigitsSix) {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, t.UTC(), e.opts)
	return err == nil && ok
}

// CodeAt returns the code for secret at t.
func (e *TOTP) CodeAt(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t.UTC(), e.opts)
}
