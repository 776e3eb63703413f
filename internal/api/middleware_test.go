package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skylog-io/skylog/internal/config"
	"github.com/skylog-io/skylog/internal/models"
	"github.com/skylog-io/skylog/internal/oauth"
	"github.com/skylog-io/skylog/internal/session"
	"github.com/skylog-io/skylog/internal/store/storetest"
	"github.com/skylog-io/skylog/internal/token"
)

const testAppSecret = "app-shared-secret-for-tests-0123456"

func testConfig() *config.Config {
	return &config.Config{
		Port:        8080,
		Environment: "development",
		PublicURL:   "http://api.test",
		FrontendURL: "http://front.test",
		CORSOrigins: []string{"http://front.test"},
		AppSecret:   testAppSecret,
		Tokens: config.TokenConfig{
			AccessSecret:  "access-secret-for-tests-0123456789ab",
			RefreshSecret: "refresh-secret-for-tests-0123456789a",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    720 * time.Hour,
		},
		RateLimits: config.RateLimitConfig{
			GlobalPerSec: 1000, GlobalBurst: 1000,
			DataPerSec: 1000, DataBurst: 1000,
			AuthPerSec: 1000, AuthBurst: 1000,
		},
	}
}

type testEnv struct {
	cfg     *config.Config
	fake    *storetest.Fake
	tokens  *token.Service
	handler http.Handler
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	fake := storetest.New()
	log := zap.NewNop()
	tokens := token.NewService(fake, cfg.Tokens, log)
	bridge := session.NewBridge(fake, cfg.Tokens, log)
	handler := NewRouter(cfg, fake, tokens, bridge, map[string]*oauth.Client{}, log)
	return &testEnv{cfg: cfg, fake: fake, tokens: tokens, handler: handler}
}

func (e *testEnv) login(t *testing.T, email string) (*models.Account, *token.Pair) {
	t.Helper()
	account := &models.Account{Email: email, Status: models.StatusActive}
	require.NoError(t, e.fake.CreateAccount(context.Background(), account))
	pair, err := e.tokens.Issue(context.Background(), account)
	require.NoError(t, err)
	return account, pair
}

func (e *testEnv) do(t *testing.T, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Error.Code
}

func TestGateMissingSecretFailsBeforeTokenCheck(t *testing.T) {
	env := newTestEnv(t, testConfig())

	// No API key at all: the chain must fail at the shared-secret stage,
	// even though the token is also missing.
	rec := env.do(t, http.MethodGet, "/api/records", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeMissingAPIKey, errorCode(t, rec))
}

func TestGateWrongSecret(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(t, http.MethodGet, "/api/records", "", map[string]string{
		"X-API-Key": "wrong",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, CodeInvalidAPIKey, errorCode(t, rec))
}

func TestGateMissingTokenAfterValidSecret(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := env.do(t, http.MethodGet, "/api/records", "", map[string]string{
		"X-API-Key": testAppSecret,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeMissingToken, errorCode(t, rec))
}

func TestGateExpiredTokenDistinguishedFromMissingSecret(t *testing.T) {
	cfg := testConfig()
	env := newTestEnv(t, cfg)
	account, _ := env.login(t, "a@x.com")

	// Craft an access token whose expiry is already in the past but whose
	// signature is valid.
	expiredCfg := cfg.Tokens
	expiredCfg.AccessTTL = -time.Minute
	expired, err := token.NewService(env.fake, expiredCfg, zap.NewNop()).Issue(context.Background(), account)
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/records", "", map[string]string{
		"X-API-Key":     testAppSecret,
		"Authorization": "Bearer " + expired.AccessToken,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeTokenExpired, errorCode(t, rec))
}

func TestGateInactiveAccount(t *testing.T) {
	env := newTestEnv(t, testConfig())
	account, pair := env.login(t, "a@x.com")

	account.Status = models.StatusSuspended
	require.NoError(t, env.fake.UpdateAccount(context.Background(), account))

	rec := env.do(t, http.MethodGet, "/api/records", "", map[string]string{
		"X-API-Key":     testAppSecret,
		"Authorization": "Bearer " + pair.AccessToken,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, CodeAccountInactive, errorCode(t, rec))
}

func TestGatePassesWithFullCredentials(t *testing.T) {
	env := newTestEnv(t, testConfig())
	_, pair := env.login(t, "a@x.com")

	rec := env.do(t, http.MethodGet, "/api/records", "", map[string]string{
		"X-API-Key":     testAppSecret,
		"Authorization": "Bearer " + pair.AccessToken,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRateLimitBudgetOfTen(t *testing.T) {
	cfg := testConfig()
	// Ten attempts in the window, effectively no refill during the test.
	cfg.RateLimits.AuthPerSec = 0.0001
	cfg.RateLimits.AuthBurst = 10
	env := newTestEnv(t, cfg)

	body := `{"refresh_token":"junk"}`
	for i := 0; i < 10; i++ {
		rec := env.do(t, http.MethodPost, "/api/auth/refresh", body, nil)
		// Budget not exhausted yet: the credential check runs and fails.
		assert.Equal(t, CodeInvalidRefreshToken, errorCode(t, rec), "attempt %d", i+1)
	}

	// The 11th attempt dies at the rate limiter, before any credential
	// check.
	rec := env.do(t, http.MethodPost, "/api/auth/refresh", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, CodeRateLimited, errorCode(t, rec))
}

func TestRateLimitKeyedByClientIP(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimits.AuthPerSec = 0.0001
	cfg.RateLimits.AuthBurst = 1
	env := newTestEnv(t, cfg)

	send := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", strings.NewReader(`{"refresh_token":"junk"}`))
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		return rec
	}

	rec := send("203.0.113.7:4000")
	assert.Equal(t, CodeInvalidRefreshToken, errorCode(t, rec))

	// Same host on a new port shares the exhausted budget.
	rec = send("203.0.113.7:4001")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// A different client IP has its own budget.
	rec = send("203.0.113.8:4000")
	assert.Equal(t, CodeInvalidRefreshToken, errorCode(t, rec))
}
