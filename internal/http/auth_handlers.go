package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

type registerRequest struct {
	Username string `json:"username" binding:"required,min=5,max=64"`
	Password string `json:"password" binding:"required,min=8,max=72"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	TOTPCode string `json:"totp_code" binding:"omitempty,len=6,numeric"`
	// Token is the field name older clients send the TOTP code in.
	Token string `json:"token" binding:"omitempty,len=6,numeric"`
}

type enableTwoFactorRequest struct {
	TOTPCode string `json:"totp_code" binding:"omitempty,len=6,numeric"`
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBindError(c, err)
		return
	}

	artifact, err := h.accounts.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, registerResponse{
		Message:    "User registered successfully",
		OTPAuthURL: artifact.OTPAuthURL,
		QRCode:     artifact.QRCode,
	})
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBindError(c, err)
		return
	}

	code := req.TOTPCode
	if code == "" {
		code = req.Token
	}

	session, err := h.accounts.Login(c.Request.Context(), req.Username, req.Password, code)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, loginResponse{
		AccessToken: session.Token,
		TokenType:   "Bearer",
		ExpiresAt:   formatTime(session.ExpiresAt),
		User:        accountToResponse(session.Account),
	})
}

func (h *Handler) enableTwoFactor(c *gin.Context) {
	var req enableTwoFactorRequest
	// the body is optional
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.respondBindError(c, err)
		return
	}

	if err := h.accounts.EnableTwoFactor(c.Request.Context(), claimsFrom(c).AccountID, req.TOTPCode); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "Two-factor authentication enabled"})
}

func (h *Handler) me(c *gin.Context) {
	account, err := h.accounts.GetByID(c.Request.Context(), claimsFrom(c).AccountID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, accountToResponse(account))
}
