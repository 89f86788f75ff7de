package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"cloudjade-ide/internal/auth"
	"cloudjade-ide/internal/domain"
	"cloudjade-ide/internal/ratelimit"
	"cloudjade-ide/internal/repository/memory"
	"cloudjade-ide/internal/service"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type recordingOrchestrator struct {
	mu    sync.Mutex
	specs []domain.JobSpec
	err   error
}

func (o *recordingOrchestrator) Submit(_ context.Context, spec domain.JobSpec) (domain.JobHandle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.specs = append(o.specs, spec)
	if o.err != nil {
		return "", o.err
	}
	return "task-1", nil
}

func (o *recordingOrchestrator) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.specs)
}

type stubPlugins struct {
	err error
}

func (s stubPlugins) Seed(context.Context, []domain.Plugin) error { return s.err }

func (s stubPlugins) List(context.Context) ([]domain.Plugin, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []domain.Plugin{{ID: "eslint", Name: "ESLint"}}, nil
}

func (s stubPlugins) Toggle(_ context.Context, id string) (*domain.Plugin, error) {
	if id != "eslint" {
		return nil, service.ErrNotFound
	}
	return &domain.Plugin{ID: id, Name: "ESLint", Installed: true}, nil
}

type testServer struct {
	router  *gin.Engine
	limiter *ratelimit.FixedWindow
	repo    *memory.AccountRepository
	orch    *recordingOrchestrator
	otp     *auth.TOTP
	issuer  *auth.Issuer
}

type serverOptions struct {
	limit          int
	limiter        *ratelimit.FixedWindow
	plugins        service.PluginService
	maxBodyBytes   int64
	trustedProxies []string
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	repo := memory.NewAccountRepository()
	otp := auth.NewTOTP(auth.TOTPConfig{})
	issuer := auth.NewIssuer([]byte(testSecret), "cloudjade-ide")
	orch := &recordingOrchestrator{}

	if opts.limit == 0 {
		opts.limit = 1000
	}
	if opts.limiter == nil {
		opts.limiter = ratelimit.NewFixedWindow(opts.limit, time.Minute)
	}
	if opts.plugins == nil {
		opts.plugins = stubPlugins{}
	}

	h := NewHandler(Dependencies{
		Accounts: service.NewAccountService(repo, auth.NewHasher(bcrypt.MinCost), otp, issuer, service.AccountConfig{
			TokenTTL: time.Hour,
			Logger:   logger,
		}),
		Executions:   service.NewExecutionService(orch, service.ExecutionConfig{Logger: logger}),
		Plugins:      opts.plugins,
		Tokens:       issuer,
		Limiter:        opts.limiter,
		Logger:         logger,
		MaxBodyBytes:   opts.maxBodyBytes,
		TrustedProxies: opts.trustedProxies,
	})

	router := gin.New()
	require.NoError(t, h.RegisterRoutes(router))
	router.GET("/api/boom", func(*gin.Context) { panic("kaboom") })

	return &testServer{router: router, limiter: opts.limiter, repo: repo, orch: orch, otp: otp, issuer: issuer}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) registerAndLogin(t *testing.T, username string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/register", "", gin.H{"username": username, "password": "password1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/login", "", gin.H{"username": username, "password": "password1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.AccessToken
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec := s.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "1000", rec.Header().Get("X-RateLimit-Limit"))
}

func TestRegister(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec := s.do(t, http.MethodPost, "/api/register", "", gin.H{"username": "alice", "password": "password1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp registerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.OTPAuthURL, "otpauth://totp/"))
	assert.True(t, strings.HasPrefix(resp.QRCode, "data:image/png;base64,"))

	rec = s.do(t, http.MethodPost, "/api/register", "", gin.H{"username": "alice", "password": "password2"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, codeAccountExists, decodeError(t, rec).Error)
	assert.Equal(t, 1, s.repo.Count("alice"))
}

func TestRegister_BadInput(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec := s.do(t, http.MethodPost, "/api/register", "", gin.H{"username": "bob", "password": "password1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, codeValidation, resp.Error)
	assert.Contains(t, resp.Message, "username")

	rec = s.do(t, http.MethodPost, "/api/register", "", `{"username":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "malformed JSON body", decodeError(t, rec).Message)
}

func TestRequestBodyLimit(t *testing.T) {
	s := newTestServer(t, serverOptions{maxBodyBytes: 64})

	rec := s.do(t, http.MethodPost, "/api/register", "", gin.H{"username": "alice", "password": strings.Repeat("p", 100)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, codeTooLarge, decodeError(t, rec).Error)
}

func TestLogin(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	token := s.registerAndLogin(t, "alice")

	claims, err := s.issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)

	rec := s.do(t, http.MethodPost, "/api/login", "", gin.H{"username": "alice", "password": "wrong-pass"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	wrongPassword := decodeError(t, rec)

	rec = s.do(t, http.MethodPost, "/api/login", "", gin.H{"username": "nobody", "password": "password1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, wrongPassword, decodeError(t, rec))
}

func TestLogin_TwoFactorFlow(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	token := s.registerAndLogin(t, "alice")

	rec := s.do(t, http.MethodPost, "/api/enable-2fa", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/login", "", gin.H{"username": "alice", "password": "password1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, codeTwoFactorNeeded, decodeError(t, rec).Error)

	rec = s.do(t, http.MethodPost, "/api/login", "", gin.H{"username": "alice", "password": "password1", "totp_code": "abcdef"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, codeValidation, decodeError(t, rec).Error)

	acc, err := s.repo.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	code, err := s.otp.CodeAt(acc.TOTPSecret, time.Now())
	require.NoError(t, err)

	rec = s.do(t, http.MethodPost, "/api/login", "", gin.H{"username": "alice", "password": "password1", "token": code})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.True(t, resp.User.TOTPEnabled)
	assert.NotContains(t, rec.Body.String(), acc.TOTPSecret)
	assert.NotContains(t, rec.Body.String(), acc.PasswordHash)
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec := s.do(t, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, codeMissingToken, decodeError(t, rec).Error)

	rec = s.do(t, http.MethodGet, "/api/me", "not-a-jwt", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, codeInvalidToken, decodeError(t, rec).Error)

	expired, err := s.issuer.Issue(auth.Claims{AccountID: "id", Username: "alice"}, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	rec = s.do(t, http.MethodGet, "/api/me", expired, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, codeExpiredToken, decodeError(t, rec).Error)

	foreign, err := auth.NewIssuer([]byte("another-secret-another-secret-xx"), "cloudjade-ide").
		Issue(auth.Claims{AccountID: "id", Username: "alice"}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	rec = s.do(t, http.MethodGet, "/api/me", foreign, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	token := s.registerAndLogin(t, "alice")
	rec = s.do(t, http.MethodGet, "/api/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me accountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "alice", me.Username)
	assert.False(t, me.TOTPEnabled)
}

func TestExecute(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	token := s.registerAndLogin(t, "alice")

	rec := s.do(t, http.MethodPost, "/api/execute", "", gin.H{"code": "print(1)", "language": "python"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/execute", token, gin.H{"code": "print(1)", "language": "cobol"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, codeValidation, decodeError(t, rec).Error)
	assert.Zero(t, s.orch.count())

	rec = s.do(t, http.MethodPost, "/api/execute", token, gin.H{"code": "print(1)", "language": "python"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"job_handle":"task-1"}`, rec.Body.String())
	assert.Equal(t, 1, s.orch.count())

	rec = s.do(t, http.MethodGet, "/api/languages", token, nil)
	assert.JSONEq(t, `{"languages":["java","python","javascript"]}`, rec.Body.String())
}

func TestExecute_DispatchFailureIsOpaque(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	token := s.registerAndLogin(t, "alice")
	s.orch.err = errors.New("AccessDeniedException: arn:aws:iam::123456789012:role/exec")

	rec := s.do(t, http.MethodPost, "/api/execute", token, gin.H{"code": "print(1)", "language": "python"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, errorResponse{Error: codeInternal, Message: "internal server error"}, decodeError(t, rec))
	assert.NotContains(t, rec.Body.String(), "arn:aws")
}

func TestPlugins(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	token := s.registerAndLogin(t, "alice")

	rec := s.do(t, http.MethodGet, "/api/plugins", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var plugins []pluginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plugins))
	require.Len(t, plugins, 1)

	rec = s.do(t, http.MethodPost, "/api/plugins/eslint/toggle", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/plugins/nope/toggle", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	failing := newTestServer(t, serverOptions{plugins: stubPlugins{err: errors.New("disk I/O error at /var/lib/cloudjade.db")}})
	token = failing.registerAndLogin(t, "alice")
	rec = failing.do(t, http.MethodGet, "/api/plugins", token, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "/var/lib")
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, serverOptions{limit: 3})

	for i := 0; i < 3; i++ {
		rec := s.do(t, http.MethodGet, "/api/health", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := s.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, codeRateLimited, decodeError(t, rec).Error)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimit_IgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	s := newTestServer(t, serverOptions{limit: 3})

	limited := 0
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.RemoteAddr = "203.0.113.7:40000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("10.1.0.%d", i))
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Equal(t, 17, limited)
	assert.Equal(t, 1, s.limiter.Len())
}

func TestRateLimit_TrustedProxyForwardsClientIP(t *testing.T) {
	s := newTestServer(t, serverOptions{limit: 1, trustedProxies: []string{"192.0.2.0/24"}})

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.RemoteAddr = "192.0.2.10:40000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 3, s.limiter.Len())
}

func TestRateLimit_RetryAfterFollowsLimiterClock(t *testing.T) {
	start := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := ratelimit.NewFixedWindow(1, 90*time.Second).WithClock(func() time.Time { return start })
	s := newTestServer(t, serverOptions{limiter: limiter})

	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/health", "", nil).Code)
	rec := s.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "90", rec.Header().Get("Retry-After"))
}

func TestPanicRecovery(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec := s.do(t, http.MethodGet, "/api/boom", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Something broke!", decodeError(t, rec).Message)
	assert.NotContains(t, rec.Body.String(), "kaboom")

	rec = s.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec := s.do(t, http.MethodGet, "/api/nothing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, codeNotFound, decodeError(t, rec).Error)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, serverOptions{limit: 1})

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodOptions, "/api/login", nil)
		req.Header.Set("Origin", "https://ide.example")
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}
