package middleware_test

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/leighmacdonald/gbans-sub003/internal/server/middleware"
	"github.com/leighmacdonald/gbans-sub003/pkg/state"
)

const testSecret = "test-secret"

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func signToken(t *testing.T, claims middleware.QueueClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

// runAuth pushes a request through metadata+auth and captures the resolved
// identity.
func runAuth(t *testing.T, tokenQuery string) state.Identity {
	t.Helper()

	var got state.Identity
	handler := middleware.Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta, ok := middleware.ReqMetadataFrom(r.Context())
			require.True(t, ok)
			got = reqMeta.Identity
		}),
		middleware.RequestMetadataMiddleware(),
		middleware.NewTokenAuth(newTestLogger(), testSecret),
	)

	req := httptest.NewRequest(http.MethodGet, "/ws"+tokenQuery, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	return got
}

func TestAuthValidToken(t *testing.T) {
	token := signToken(t, middleware.QueueClaims{
		Name:            "alice",
		Avatar:          "fef49e7fa7e1997310d705b2a6158ff8dc1cdfeb",
		PermissionLevel: int(state.PModerator),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "76561198000000001",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	ident := runAuth(t, "?token="+token)
	require.Equal(t, "76561198000000001", ident.SteamID)
	require.Equal(t, "alice", ident.Name)
	require.Equal(t, state.PModerator, ident.Privilege)
	require.False(t, ident.Guest)
}

func TestAuthMissingTokenAdmitsGuest(t *testing.T) {
	ident := runAuth(t, "")
	require.True(t, ident.Guest)
	require.True(t, strings.HasPrefix(ident.SteamID, "guest-"))
	require.Equal(t, state.PGuest, ident.Privilege)
	require.False(t, ident.Privilege.CanSend())
}

func TestAuthInvalidTokenAdmitsGuest(t *testing.T) {
	ident := runAuth(t, "?token=not-a-jwt")
	require.True(t, ident.Guest)
}

func TestAuthWrongSecretAdmitsGuest(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "76561198000000001"})
	signed, err := token.SignedString([]byte("some-other-secret"))
	require.NoError(t, err)

	ident := runAuth(t, "?token="+signed)
	require.True(t, ident.Guest)
}

func TestAuthMissingSubjectAdmitsGuest(t *testing.T) {
	token := signToken(t, middleware.QueueClaims{Name: "subless"})
	ident := runAuth(t, "?token="+token)
	require.True(t, ident.Guest)
}

func TestGuestIdentitiesAreUnique(t *testing.T) {
	first := runAuth(t, "")
	second := runAuth(t, "")
	require.NotEqual(t, first.SteamID, second.SteamID)
}
