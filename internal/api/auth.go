package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/your-username/agent-observability/backend/internal/config"
)

// Claims is the payload accepted in bearer tokens.
type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator checks the static API key or an HS256 bearer token.
type Authenticator struct {
	apiKey    []byte
	jwtSecret []byte
}

func NewAuthenticator(cfg config.AuthConfig) *Authenticator {
	return &Authenticator{
		apiKey:    []byte(cfg.APIKey),
		jwtSecret: []byte(cfg.JWTSecret),
	}
}

// Middleware rejects requests that carry no valid credential. The key is
// read from the X-API-Key header, the api_key query parameter (browsers
// cannot set headers on a websocket upgrade) or an Authorization bearer
// token, which may also be a signed JWT.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.apiKey) == 0 && len(a.jwtSecret) == 0 {
			log.Error().Msg("Authentication enabled without API_KEY or JWT_SECRET")
			writeError(w, http.StatusInternalServerError, "authentication not configured")
			return
		}

		if a.authorized(r) {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, http.StatusUnauthorized, "missing or invalid credentials")
	})
}

func (a *Authenticator) authorized(r *http.Request) bool {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return a.validKey(key)
	}
	if key := r.URL.Query().Get("api_key"); key != "" {
		return a.validKey(key)
	}

	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return false
	}
	if a.validKey(token) {
		return true
	}
	_, err := a.ParseToken(token)
	return err == nil
}

func (a *Authenticator) validKey(key string) bool {
	if len(a.apiKey) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), a.apiKey) == 1
}

// ParseToken validates an HS256 token signed with the configured secret.
func (a *Authenticator) ParseToken(token string) (*Claims, error) {
	if len(a.jwtSecret) == 0 {
		return nil, jwt.ErrTokenUnverifiable
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
