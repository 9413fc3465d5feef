// Package auth validates the bearer tokens presented on the first inbound
// frame of a connection and turns them into an AuthenticatedUser.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/avalonrtc/signalmesh/internal/v1/logging"
	"github.com/golang-jwt/jwt/v5"
)

// AuthenticatedUser is the identity of the caller for the duration of a
// stream. Created at authentication, destroyed at stream close. Immutable.
type AuthenticatedUser struct {
	UserID   uint32
	Username string
}

// Claims is the JWT payload this service expects. The user-id claim is
// encoded as a JSON number, not a string: two source variants disagreed on
// this, and this service normalizes on numeric sub.
type Claims struct {
	Sub      uint32 `json:"sub"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Validator validates HS256-signed bearer tokens against a single shared
// symmetric secret. There is no JWKS, no issuer, no audience: the token
// issuer is an external identity service out of scope for this package.
type Validator struct {
	secret []byte
}

// NewValidator builds a Validator around a shared HS256 signing secret.
func NewValidator(secret string) *Validator {
	return &Validator{secret: []byte(secret)}
}

// ValidateToken parses and validates tokenString, returning an
// AuthenticatedUser on success. Any failure (bad signature, expired,
// malformed, wrong algorithm) yields a descriptive error; the caller treats
// every error uniformly as "Authentication failed".
func (v *Validator) ValidateToken(tokenString string) (*AuthenticatedUser, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil {
		return nil, fmt.Errorf("malformed or invalid token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("token is invalid")
	}
	if claims.Sub == 0 {
		return nil, errors.New("token missing numeric sub claim")
	}
	if claims.Username == "" {
		return nil, errors.New("token missing username claim")
	}

	return &AuthenticatedUser{UserID: claims.Sub, Username: claims.Username}, nil
}

// GetAllowedOriginsFromEnv reads a comma-separated list of CORS origins from
// the named environment variable, falling back to defaultEnvs when unset.
func GetAllowedOriginsFromEnv(envVarName string, defaultEnvs []string) []string {
	originsStr := os.Getenv(envVarName)
	if originsStr == "" {
		logging.Warn(context.Background(), fmt.Sprintf("%s environment variable not set. Using default development origins:\n%s", envVarName, defaultEnvs))
		return defaultEnvs
	}
	return strings.Split(originsStr, ",")
}

// ValidateOrigin checks the request's Origin header against allowedOrigins
// by scheme+host match. An absent Origin header is allowed (non-browser
// clients, e.g. server-to-server tests).
func ValidateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin URL: %w", err)
	}

	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}
