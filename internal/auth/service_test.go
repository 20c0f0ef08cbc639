package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/automata-backoffice/backoffice/internal/lockout"
	"github.com/automata-backoffice/backoffice/internal/platform/httpx"
	"github.com/automata-backoffice/backoffice/internal/rbac"
	"github.com/automata-backoffice/backoffice/internal/shared"
	"github.com/automata-backoffice/backoffice/internal/users"
)

type fakeDirectory struct {
	mu     sync.Mutex
	users  map[string]users.User
	logins map[string]int
}

func (d *fakeDirectory) GetUser(ctx context.Context, username string) (users.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[strings.ToLower(username)]
	if !ok {
		return users.User{}, shared.ErrProfileNotFound
	}
	return u, nil
}

func (d *fakeDirectory) RecordLogin(ctx context.Context, username string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logins[username]++
	return nil
}

type fakeRoles map[string]bool

func (f fakeRoles) CheckRoleActive(ctx context.Context, name string) error {
	if !f[name] {
		return shared.InvalidRole(name)
	}
	return nil
}

type clockStub struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clockStub) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clockStub) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type authFixture struct {
	svc     *Service
	tokens  *Tokens
	dir     *fakeDirectory
	machine *lockout.Machine
	clock   *clockStub
	secret  string
}

func newAuthFixture(t *testing.T) authFixture {
	t.Helper()
	clock := &clockStub{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "backoffice", AccountName: "otp"})
	require.NoError(t, err)

	dir := &fakeDirectory{logins: map[string]int{}, users: map[string]users.User{
		"jane": {
			Username: "jane", PasswordHash: string(hash), AssignedRole: "support", Status: users.StatusActive,
			Permissions: []rbac.Permission{{Name: shared.PermViewRoles}},
		},
		"otp": {
			Username: "otp", PasswordHash: string(hash), AssignedRole: "support", Status: users.StatusActive,
			TwoFactorEnabled: true, TOTPSecret: key.Secret(),
		},
		"idle": {Username: "idle", PasswordHash: string(hash), AssignedRole: "support", Status: users.StatusInactive},
		"orphan": {
			Username: "orphan", PasswordHash: string(hash), AssignedRole: "retired", Status: users.StatusActive,
		},
	}}
	tokens, err := NewTokens(TokenConfig{Secret: "test-secret", Issuer: "backoffice", TTL: time.Hour, Clock: clock})
	require.NoError(t, err)
	machine := lockout.NewMachine(lockout.NewMemoryRepository(), lockout.Config{MaxAttempts: 3, UnlockAfter: 30 * time.Minute, Clock: clock})
	svc := NewService(dir, fakeRoles{"support": true}, machine, tokens, nil, clock, nil)
	return authFixture{svc: svc, tokens: tokens, dir: dir, machine: machine, clock: clock, secret: key.Secret()}
}

func TestLoginIssuesAccessToken(t *testing.T) {
	f := newAuthFixture(t)
	result, err := f.svc.Login(context.Background(), "Jane", "correct-horse")
	require.NoError(t, err)
	require.NotNil(t, result.AccessToken)
	require.False(t, result.TwoFactorRequired)
	require.Equal(t, 1, f.dir.logins["jane"])

	principal, err := f.tokens.Principal(result.AccessToken.Value)
	require.NoError(t, err)
	require.Equal(t, "jane", principal.Username)
	require.Equal(t, "support", principal.Role)
	require.Equal(t, []string{shared.PermViewRoles}, principal.Permissions)

	f.clock.Advance(2 * time.Hour)
	_, err = f.tokens.Principal(result.AccessToken.Value)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestLoginRejectsUnknownInactiveAndBadPassword(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.svc.Login(ctx, "ghost", "correct-horse")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, "idle", "correct-horse")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, "orphan", "correct-horse")
	require.ErrorIs(t, err, shared.ErrInvalidRole)
	_, err = f.svc.Login(ctx, "orphan", "wrong")
	require.ErrorIs(t, err, shared.ErrInvalidRole)
	_, err = f.svc.Login(ctx, "jane", "wrong")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	attempt, err := f.machine.Status(ctx, "jane")
	require.NoError(t, err)
	require.Equal(t, 1, attempt.FailedAttemptCount)
	ghost, err := f.machine.Status(ctx, "ghost")
	require.NoError(t, err)
	require.Zero(t, ghost.FailedAttemptCount)
	orphan, err := f.machine.Status(ctx, "orphan")
	require.NoError(t, err)
	require.Zero(t, orphan.FailedAttemptCount)
}

func TestLoginLockoutWinsOverCredentials(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.svc.Login(ctx, "jane", "wrong")
		require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	}
	// Third failure reaches the limit; the mismatch itself is still reported as bad credentials.
	_, err := f.svc.Login(ctx, "jane", "wrong")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, "jane", "correct-horse")
	require.ErrorIs(t, err, shared.ErrLoginAccessDenied)
	require.Zero(t, f.dir.logins["jane"])

	f.clock.Advance(30 * time.Minute)
	_, err = f.svc.Login(ctx, "jane", "correct-horse")
	require.NoError(t, err)
}

func TestLoginWithTwoFactor(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	result, err := f.svc.Login(ctx, "otp", "correct-horse")
	require.NoError(t, err)
	require.True(t, result.TwoFactorRequired)
	require.Nil(t, result.AccessToken)
	require.NotNil(t, result.PendingToken)

	_, err = f.tokens.Principal(result.PendingToken.Value)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = f.svc.VerifyTOTP(ctx, result.PendingToken.Value, "000000")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	code, err := totp.GenerateCode(f.secret, f.clock.Now())
	require.NoError(t, err)
	_, err = f.svc.VerifyTOTP(ctx, result.PendingToken.Value, code)
	require.ErrorIs(t, err, ErrInvalidToken)

	result, err = f.svc.Login(ctx, "otp", "correct-horse")
	require.NoError(t, err)
	verified, err := f.svc.VerifyTOTP(ctx, result.PendingToken.Value, code)
	require.NoError(t, err)
	require.NotNil(t, verified.AccessToken)
	require.Equal(t, 1, f.dir.logins["otp"])

	attempt, err := f.machine.Status(ctx, "otp")
	require.NoError(t, err)
	require.Zero(t, attempt.FailedAttemptCount)
}

func TestWrongTOTPCodesLockTheAccount(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		result, err := f.svc.Login(ctx, "otp", "correct-horse")
		require.NoError(t, err, "round %d", i)
		_, err = f.svc.VerifyTOTP(ctx, result.PendingToken.Value, "000000")
		require.ErrorIs(t, err, shared.ErrInvalidCredentials)

		attempt, err := f.machine.Status(ctx, "otp")
		require.NoError(t, err)
		require.Equal(t, i, attempt.FailedAttemptCount, "a correct password must not reset the counter")
	}

	_, err := f.svc.Login(ctx, "otp", "correct-horse")
	require.ErrorIs(t, err, shared.ErrLoginAccessDenied)

	f.clock.Advance(30 * time.Minute)
	result, err := f.svc.Login(ctx, "otp", "correct-horse")
	require.NoError(t, err)
	code, err := totp.GenerateCode(f.secret, f.clock.Now())
	require.NoError(t, err)
	_, err = f.svc.VerifyTOTP(ctx, result.PendingToken.Value, code)
	require.NoError(t, err)
	attempt, err := f.machine.Status(ctx, "otp")
	require.NoError(t, err)
	require.Zero(t, attempt.FailedAttemptCount)
	require.False(t, attempt.LoginAccessDenied)
}

func TestRedisReplayGuardSpendsTokenOnce(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	guard := NewRedisReplayGuard(client, shared.ClockFunc(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, guard.Consume(ctx, "jti-1", now.Add(5*time.Minute)))
	require.ErrorIs(t, guard.Consume(ctx, "jti-1", now.Add(5*time.Minute)), ErrInvalidToken)
	require.NoError(t, guard.Consume(ctx, "jti-2", now.Add(5*time.Minute)))
	require.ErrorIs(t, guard.Consume(ctx, "jti-3", now), ErrInvalidToken)
	require.Equal(t, 5*time.Minute, srv.TTL(shared.PendingTokenKey("jti-1")))
}

func TestMemoryReplayGuardPrunesExpired(t *testing.T) {
	clock := &clockStub{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	guard := NewMemoryReplayGuard(clock)
	ctx := context.Background()

	require.NoError(t, guard.Consume(ctx, "jti-1", clock.Now().Add(time.Minute)))
	require.ErrorIs(t, guard.Consume(ctx, "jti-1", clock.Now().Add(time.Minute)), ErrInvalidToken)
	clock.Advance(time.Minute)
	require.NoError(t, guard.Consume(ctx, "jti-2", clock.Now().Add(time.Minute)))
	require.NotContains(t, guard.used, "jti-1")
}

func TestVerifyTOTPRejectsAccessToken(t *testing.T) {
	f := newAuthFixture(t)
	result, err := f.svc.Login(context.Background(), "jane", "correct-horse")
	require.NoError(t, err)
	_, err = f.svc.VerifyTOTP(context.Background(), result.AccessToken.Value, "123456")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokensRejectForeignSignature(t *testing.T) {
	f := newAuthFixture(t)
	other, err := NewTokens(TokenConfig{Secret: "other-secret", Issuer: "backoffice", Clock: f.clock})
	require.NoError(t, err)
	token, err := other.IssueAccess(shared.Principal{Username: "jane"})
	require.NoError(t, err)
	_, err = f.tokens.Principal(token.Value)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewTokens(TokenConfig{})
	require.Error(t, err)
}

func newAuthRouter(f authFixture, rateLimit int) http.Handler {
	r := chi.NewRouter()
	r.Use(Bearer(f.tokens, nil))
	r.Route("/auth", NewHandler(nil, f.svc, httpx.NewErrorRenderer(nil, nil), rateLimit).MountRoutes)
	r.With(rbac.Middleware{}.RequireAny(shared.PermViewRoles)).Get("/roles", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func post(router http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.10:4242"
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHandlerLoginAndBearer(t *testing.T) {
	f := newAuthFixture(t)
	router := newAuthRouter(f, 0)

	rr := post(router, "/auth/login", `{"username":"jane","password":"correct-horse"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), `"access_token"`)

	result, err := f.svc.Login(context.Background(), "jane", "correct-horse")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/roles", nil)
	req.Header.Set("Authorization", "Bearer "+result.AccessToken.Value)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)

	req = httptest.NewRequest(http.MethodGet, "/roles", nil)
	req.Header.Set("Authorization", "Bearer nonsense")
	res = httptest.NewRecorder()
	router.ServeHTTP(res, req)
	require.Equal(t, http.StatusUnauthorized, res.Code)

	rr = post(router, "/auth/login", `{"username":"jane","password":"nope"}`)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Contains(t, rr.Body.String(), `"code":"LOG_002"`)
}

func TestHandlerLockoutResponse(t *testing.T) {
	f := newAuthFixture(t)
	router := newAuthRouter(f, 0)
	for i := 0; i < 3; i++ {
		post(router, "/auth/login", `{"username":"jane","password":"nope"}`)
	}
	rr := post(router, "/auth/login", `{"username":"jane","password":"correct-horse"}`)
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Equal(t, "1800", rr.Header().Get("Retry-After"))
	require.Contains(t, rr.Body.String(), `"code":"LA_001"`)
}

func TestHandlerRateLimitsLogin(t *testing.T) {
	f := newAuthFixture(t)
	router := newAuthRouter(f, 2)
	for i := 0; i < 2; i++ {
		rr := post(router, "/auth/login", `{"username":"ghost","password":"x"}`)
		require.Equal(t, http.StatusUnauthorized, rr.Code)
	}
	rr := post(router, "/auth/login", `{"username":"ghost","password":"x"}`)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
}
