package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/cmoscardi/textbook-tts/config"
	"github.com/cmoscardi/textbook-tts/models/models"
	responsex "github.com/cmoscardi/textbook-tts/pkg/response"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

var UserIDContextKey = contextKey("userID")
var AccessTokenContextKey = contextKey("accessToken")

var secretKey = []byte(config.Cfg.Supabase.Jwt)

// GetAccessToken validates the caller's JWT and puts the subject user id in
// the request context.
func GetAccessToken() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			access_token := r.Header.Get("access_token")
			if access_token == "" {
				responsex.RespondWithJSON(w, http.StatusUnauthorized, models.Response{
					Code: http.StatusUnauthorized,
					Msg:  "Missing access token",
					Data: map[string]interface{}{},
				})
				return
			}

			token, err := jwt.Parse(access_token, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return secretKey, nil
			})
			if err != nil {
				responsex.RespondWithJSON(w, http.StatusUnauthorized, models.Response{
					Code: http.StatusUnauthorized,
					Msg:  err.Error(),
					Data: map[string]interface{}{},
				})
				return
			}

			var userid string
			if claims, ok := token.Claims.(jwt.MapClaims); ok {
				userid, _ = claims["sub"].(string)
			}
			if userid == "" {
				responsex.RespondWithJSON(w, http.StatusUnauthorized, models.Response{
					Code: http.StatusUnauthorized,
					Msg:  "Token has no subject",
					Data: map[string]interface{}{},
				})
				return
			}

			ctx := context.WithValue(r.Context(), AccessTokenContextKey, access_token)
			ctx = context.WithValue(ctx, UserIDContextKey, userid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WorkerToken guards the internal callback routes. Only the compute pool
// holds the shared token.
func WorkerToken() func(http.Handler) http.Handler {
	return requireHeader("X-Worker-Token", func() string { return config.Cfg.MLPool.CallbackToken })
}

// WebhookSecret guards the billing webhook route.
func WebhookSecret() func(http.Handler) http.Handler {
	return requireHeader("X-Webhook-Secret", func() string { return config.Cfg.Billing.WebhookSecret })
}

func requireHeader(header string, secret func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, want := r.Header.Get(header), secret()
			if want == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				responsex.RespondWithJSON(w, http.StatusUnauthorized, models.Response{
					Code: http.StatusUnauthorized,
					Msg:  "Unauthorized",
					Data: map[string]interface{}{},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetUserIDFromContext reads the authenticated user id set by GetAccessToken.
func GetUserIDFromContext(r *http.Request) string {
	userID, ok := r.Context().Value(UserIDContextKey).(string)
	if !ok {
		return ""
	}
	return userID
}

func GetAccessTokenFromContext(r *http.Request) string {
	access_token, ok := r.Context().Value(AccessTokenContextKey).(string)
	if !ok {
		return ""
	}
	return access_token
}
