package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leighmacdonald/gbans-sub003/internal/server/middleware"
	"github.com/leighmacdonald/gbans-sub003/pkg/config"
	"github.com/leighmacdonald/gbans-sub003/pkg/state"
)

type limiterFixture struct {
	count   int
	cycled  []string
	reached bool
}

func (f *limiterFixture) run(t *testing.T, ident state.Identity, cfg config.ConnectionLimitConfig) *httptest.ResponseRecorder {
	t.Helper()

	handler := middleware.Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			f.reached = true
		}),
		middleware.RequestMetadataMiddleware(),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
				reqMeta.Identity = ident
				next.ServeHTTP(w, r)
			})
		},
		middleware.NewConnectionLimiter(
			newTestLogger(),
			func(string) (int, error) { return f.count, nil },
			func(steamID string) { f.cycled = append(f.cycled, steamID) },
			cfg,
		),
	)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestLimiterAllowsUnderLimit(t *testing.T) {
	f := &limiterFixture{count: 1}
	rec := f.run(t, state.Identity{SteamID: "76561198000000001"}, config.ConnectionLimitConfig{MaxPerUser: 3, Mode: "reject"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, f.reached)
}

func TestLimiterRejectMode(t *testing.T) {
	f := &limiterFixture{count: 3}
	rec := f.run(t, state.Identity{SteamID: "76561198000000001"}, config.ConnectionLimitConfig{MaxPerUser: 3, Mode: "reject"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.False(t, f.reached)
}

func TestLimiterCycleMode(t *testing.T) {
	f := &limiterFixture{count: 3}
	rec := f.run(t, state.Identity{SteamID: "76561198000000001"}, config.ConnectionLimitConfig{MaxPerUser: 3, Mode: "cycle"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, f.reached)
	require.Equal(t, []string{"76561198000000001"}, f.cycled)
}

func TestLimiterExemptsGuests(t *testing.T) {
	f := &limiterFixture{count: 99}
	rec := f.run(t, state.Identity{SteamID: "guest-x", Guest: true}, config.ConnectionLimitConfig{MaxPerUser: 1, Mode: "reject"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, f.reached)
}
