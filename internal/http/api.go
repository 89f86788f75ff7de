package http

import (
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"cloudjade-ide/internal/auth"
	"cloudjade-ide/internal/ratelimit"
	"cloudjade-ide/internal/service"
)

// TokenVerifier resolves a bearer token into identity claims.
type TokenVerifier interface {
	Verify(token string) (auth.Claims, error)
}

// Dependencies are the collaborators the gateway routes to.
type Dependencies struct {
	Accounts   service.AccountService
	Executions service.ExecutionService
	Projects   service.ProjectService
	Files      service.FileService
	Plugins    service.PluginService
	Tokens     TokenVerifier
	Limiter    *ratelimit.FixedWindow
	Logger     logrus.FieldLogger

	MaxBodyBytes   int64
	AllowedOrigins []string
	// TrustedProxies lists the proxy addresses or CIDRs whose forwarding
	// headers are believed. Empty means the client is the socket peer.
	TrustedProxies []string
}

// Handler wires HTTP routes to domain services.
type Handler struct {
	accounts   service.AccountService
	executions service.ExecutionService
	projects   service.ProjectService
	files      service.FileService
	plugins    service.PluginService
	tokens     TokenVerifier
	limiter    *ratelimit.FixedWindow
	logger     logrus.FieldLogger

	maxBodyBytes   int64
	allowedOrigins []string
	trustedProxies []string
}

func NewHandler(deps Dependencies) *Handler {
	registerJSONFieldNames()

	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.NewFixedWindow(0, 0)
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = 1 << 20
	}
	if len(deps.AllowedOrigins) == 0 {
		deps.AllowedOrigins = []string{"*"}
	}
	return &Handler{
		accounts:       deps.Accounts,
		executions:     deps.Executions,
		projects:       deps.Projects,
		files:          deps.Files,
		plugins:        deps.Plugins,
		tokens:         deps.Tokens,
		limiter:        deps.Limiter,
		logger:         deps.Logger,
		maxBodyBytes:   deps.MaxBodyBytes,
		allowedOrigins: deps.AllowedOrigins,
		trustedProxies: deps.TrustedProxies,
	}
}

// Pipeline returns the request interceptors in execution order. Each one
// either calls c.Next or aborts the request with a response.
func (h *Handler) Pipeline() []gin.HandlerFunc {
	return []gin.HandlerFunc{
		recoveryMiddleware(h.logger),
		corsMiddleware(h.allowedOrigins),
		bodyLimitMiddleware(h.maxBodyBytes),
		securityHeadersMiddleware(),
		rateLimitMiddleware(h.limiter),
		accessLogMiddleware(h.logger),
	}
}

// RegisterRoutes installs the pipeline and routes on router. The rate limiter
// keys on ClientIP, so forwarding headers are only honoured from the
// configured proxies.
func (h *Handler) RegisterRoutes(router *gin.Engine) error {
	if err := router.SetTrustedProxies(h.trustedProxies); err != nil {
		return fmt.Errorf("set trusted proxies: %w", err)
	}

	router.Use(h.Pipeline()...)
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorResponse{Error: codeNotFound, Message: "route not found"})
	})

	api := router.Group("/api")
	{
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})
		api.POST("/register", h.register)
		api.POST("/login", h.login)
	}

	authed := api.Group("", h.requireAuth())
	{
		authed.POST("/enable-2fa", h.enableTwoFactor)
		authed.GET("/me", h.me)
		authed.POST("/execute", h.execute)
		authed.GET("/languages", h.languages)

		authed.POST("/projects", h.createProject)
		authed.GET("/projects", h.listProjects)

		authed.POST("/files", h.uploadFile)
		authed.GET("/files", h.listFiles)
		authed.GET("/files/usage", h.fileUsage)
		authed.GET("/files/:id", h.getFile)
		authed.GET("/files/:id/url", h.fileURL)

		authed.GET("/plugins", h.listPlugins)
		authed.POST("/plugins/:id/toggle", h.togglePlugin)
	}
	return nil
}

var jsonNamesOnce sync.Once

// registerJSONFieldNames makes binding errors report json field names.
func registerJSONFieldNames() {
	jsonNamesOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
}
