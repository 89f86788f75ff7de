package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"cloudjade-ide/internal/auth"
	"cloudjade-ide/internal/domain"
	"cloudjade-ide/internal/service"
)

const (
	codeValidation       = "validation_failed"
	codeAccountExists    = "account_exists"
	codeInvalidCreds     = "invalid_credentials"
	codeTwoFactorNeeded  = "two_factor_required"
	codeInvalidTwoFactor = "invalid_two_factor_code"
	codeMissingToken     = "missing_token"
	codeInvalidToken     = "invalid_token"
	codeExpiredToken     = "expired_token"
	codeNotFound         = "not_found"
	codeRateLimited      = "rate_limited"
	codeTooLarge         = "payload_too_large"
	codeTimeout          = "timeout"
	codeInternal         = "internal_error"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// respondError maps service errors to a status and a client-safe body.
// Collaborator failures are logged in full and answered generically.
func (h *Handler) respondError(c *gin.Context, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		}).Error("request failed")
	}
	c.AbortWithStatusJSON(status, body)
}

func classify(err error) (int, errorResponse) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, errorResponse{codeValidation, validationErr.Error()}
	case errors.Is(err, service.ErrAccountExists):
		return http.StatusConflict, errorResponse{codeAccountExists, "username is already taken"}
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusBadRequest, errorResponse{codeInvalidCreds, "invalid username or password"}
	case errors.Is(err, service.ErrTwoFactorRequired):
		return http.StatusBadRequest, errorResponse{codeTwoFactorNeeded, "two-factor authentication code required"}
	case errors.Is(err, service.ErrInvalidTwoFactorCode):
		return http.StatusBadRequest, errorResponse{codeInvalidTwoFactor, "invalid two-factor authentication code"}
	case errors.Is(err, auth.ErrExpiredToken):
		return http.StatusForbidden, errorResponse{codeExpiredToken, "token expired"}
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusForbidden, errorResponse{codeInvalidToken, "invalid token"}
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, errorResponse{codeNotFound, "resource not found"}
	case errors.Is(err, service.ErrTimeout):
		return http.StatusGatewayTimeout, errorResponse{codeTimeout, "upstream service timed out"}
	default:
		return http.StatusInternalServerError, errorResponse{codeInternal, "internal server error"}
	}
}

// respondBindError answers a request whose body could not be decoded.
func (h *Handler) respondBindError(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, errorResponse{
			Error:   codeTooLarge,
			Message: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
		})
		return
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		msgs := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			rule := fe.Tag()
			if fe.Param() != "" {
				rule += "=" + fe.Param()
			}
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Field(), rule))
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{codeValidation, strings.Join(msgs, "; ")})
		return
	}

	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{codeValidation, "malformed JSON body"})
}

type registerResponse struct {
	Message    string `json:"message"`
	OTPAuthURL string `json:"otpauth_url"`
	QRCode     string `json:"qr_code"`
}

type accountResponse struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	TOTPEnabled bool   `json:"totp_enabled"`
	CreatedAt   string `json:"created_at"`
}

type loginResponse struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
	ExpiresAt   string          `json:"expires_at"`
	User        accountResponse `json:"user"`
}

type projectResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Code      string `json:"code"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type fileResponse struct {
	ID        string  `json:"id"`
	UserID    string  `json:"user_id"`
	Name      string  `json:"name"`
	Size      int64   `json:"size"`
	CreatedAt string  `json:"created_at"`
	Content   *string `json:"content,omitempty"`
}

type pluginResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Installed   bool   `json:"installed"`
}

func accountToResponse(a *domain.Account) accountResponse {
	return accountResponse{
		ID:          a.ID,
		Username:    a.Username,
		TOTPEnabled: a.TOTPEnabled,
		CreatedAt:   formatTime(a.CreatedAt),
	}
}

func projectToResponse(p domain.Project) projectResponse {
	return projectResponse{
		ID:        p.ID,
		UserID:    p.OwnerID,
		Name:      p.Name,
		Code:      p.Code,
		CreatedAt: formatTime(p.CreatedAt),
		UpdatedAt: formatTime(p.UpdatedAt),
	}
}

func fileToResponse(f domain.File) fileResponse {
	return fileResponse{
		ID:        f.ID,
		UserID:    f.OwnerID,
		Name:      f.Name,
		Size:      f.Size,
		CreatedAt: formatTime(f.CreatedAt),
	}
}

func pluginToResponse(p domain.Plugin) pluginResponse {
	return pluginResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Installed:   p.Installed,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
