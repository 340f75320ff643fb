package middleware

import (
	"log/slog"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/leighmacdonald/gbans-sub003/pkg/state"
)

// QueueClaims is the token payload issued by the identity provider.
type QueueClaims struct {
	Name            string `json:"name,omitempty"`
	Avatar          string `json:"avatarhash,omitempty"`
	PermissionLevel int    `json:"permission_level,omitempty"`
	jwt.RegisteredClaims
}

// NewTokenAuth resolves the "token" connection parameter into an Identity.
// An absent or invalid token does not reject the upgrade: the connection is
// admitted as a unique guest identity with no send rights.
func NewTokenAuth(logger *slog.Logger, tokenSecret string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			tokenString := r.URL.Query().Get("token")
			if tokenString == "" {
				reqMeta.Identity = guestIdentity()
				next.ServeHTTP(w, r)
				return
			}

			token, err := jwt.ParseWithClaims(tokenString, &QueueClaims{}, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(tokenSecret), nil
			})
			if err != nil || !token.Valid {
				logger.Warn("Invalid token presented, degrading to guest",
					slog.String("ip", reqMeta.IP),
					slog.Any("error", err),
				)
				reqMeta.Identity = guestIdentity()
				next.ServeHTTP(w, r)
				return
			}

			claims, ok := token.Claims.(*QueueClaims)
			if !ok || claims.Subject == "" {
				logger.Warn("Valid token missing 'sub' claim, degrading to guest", slog.String("ip", reqMeta.IP))
				reqMeta.Identity = guestIdentity()
				next.ServeHTTP(w, r)
				return
			}

			reqMeta.Identity = state.Identity{
				SteamID:   claims.Subject,
				Name:      claims.Name,
				Avatar:    claims.Avatar,
				Privilege: state.Privilege(claims.PermissionLevel),
			}
			if reqMeta.Identity.Name == "" {
				reqMeta.Identity.Name = claims.Subject
			}
			next.ServeHTTP(w, r)
		})
	}
}

func guestIdentity() state.Identity {
	return state.Identity{
		SteamID:   "guest-" + uuid.NewString(),
		Name:      "Guest",
		Privilege: state.PGuest,
		Guest:     true,
	}
}
