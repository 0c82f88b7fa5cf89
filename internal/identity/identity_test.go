package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/promptpot/promptpot/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "identity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestMiddlewareIssuesCookieAndCreatesUser(t *testing.T) {
	repo := newRepo(t)

	var gotUser, gotSession, gotWallet string
	h := Middleware(repo, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotSession = SessionIDFromContext(r.Context())
		gotWallet = WalletFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set(SessionHeaderName, "tab-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, isValidAnonID(gotUser))
	assert.Equal(t, "tab-1", gotSession)
	assert.Empty(t, gotWallet)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, AnonCookieName, cookies[0].Name)
	assert.Equal(t, gotUser, cookies[0].Value)

	user, err := repo.GetUser(context.Background(), gotUser)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, deriveUsername(gotUser), user.Username)
}

func TestMiddlewareReusesCookieAndLoadsWallet(t *testing.T) {
	repo := newRepo(t)
	id := "anon_0123456789abcdef0123456789abcdef"
	wallet := "0x00000000000000000000000000000000000000aA"

	_, err := ensureUser(context.Background(), repo, id)
	require.NoError(t, err)
	require.NoError(t, repo.BindWallet(context.Background(), id, wallet))

	var gotUser, gotWallet string
	h := Middleware(repo, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotWallet = WalletFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: id})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, id, gotUser)
	assert.Equal(t, wallet, gotWallet)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.True(t, cookies[0].Secure)
}

func TestSanitizeSessionID(t *testing.T) {
	assert.Equal(t, DefaultSessionIDValue, sanitizeSessionID(""))
	assert.Equal(t, DefaultSessionIDValue, sanitizeSessionID("bad id with spaces"))
	assert.Equal(t, "tab:1", sanitizeSessionID(" tab:1 "))
}

func TestContextDefaults(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, UserIDFromContext(ctx))
	assert.Empty(t, WalletFromContext(ctx))
	assert.Equal(t, DefaultSessionIDValue, SessionIDFromContext(ctx))

	ctx = WithUser(ctx, "anon_x", "0xabc")
	assert.Equal(t, "anon_x", UserIDFromContext(ctx))
	assert.Equal(t, "0xabc", WalletFromContext(ctx))
	assert.Equal(t, "anon-user", UsernameFromContext(ctx))
}
