// Package authn resolves the authenticated principal for an inbound
// request from one of two accepted schemes: a static API-key header or a
// JWT bearer token. It knows nothing about HTTP beyond reading headers —
// wiring into middleware happens in internal/api.
package authn

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned when neither scheme yields a principal.
var ErrUnauthenticated = errors.New("missing or invalid authentication")

// Authenticator validates API keys and JWTs and resolves a principal id.
type Authenticator struct {
	apiKeys   map[string]struct{}
	keyHeader string
	secret    []byte
	algorithm string
}

// Options configures an Authenticator.
type Options struct {
	APIKeys      []string
	APIKeyHeader string
	JWTSecret    string
	JWTAlgorithm string
}

// New builds an Authenticator from configuration.
func New(opts Options) *Authenticator {
	keys := make(map[string]struct{}, len(opts.APIKeys))
	for _, k := range opts.APIKeys {
		k = strings.TrimSpace(k)
		if k != "" {
			keys[k] = struct{}{}
		}
	}
	header := opts.APIKeyHeader
	if header == "" {
		header = "X-API-Key"
	}
	return &Authenticator{
		apiKeys:   keys,
		keyHeader: header,
		secret:    []byte(opts.JWTSecret),
		algorithm: opts.JWTAlgorithm,
	}
}

// HeaderName is the configured API-key header name, for middleware to read.
func (a *Authenticator) HeaderName() string {
	return a.keyHeader
}

// AuthenticateAPIKey returns a principal id for a valid API key, comparing
// in constant time, or "" if apiKey is empty or not recognized.
func (a *Authenticator) AuthenticateAPIKey(apiKey string) string {
	if apiKey == "" || len(a.apiKeys) == 0 {
		return ""
	}
	for known := range a.apiKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(known)) == 1 {
			prefix := known
			if len(prefix) > 8 {
				prefix = prefix[:8]
			}
			return "api:" + prefix
		}
	}
	return ""
}

// AuthenticateBearer returns the principal id encoded in a JWT bearer
// token's sub, user_id, or uid claim (in that order), or "" if the header
// isn't a well-formed bearer token, the signature doesn't verify, or no
// recognized claim carries an identity.
func (a *Authenticator) AuthenticateBearer(authorizationHeader string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(authorizationHeader, prefix) {
		return ""
	}
	tokenStr := strings.TrimPrefix(authorizationHeader, prefix)
	if tokenStr == "" {
		return ""
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != a.algorithm {
			return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
		}
		return a.secret, nil
	})
	if err != nil {
		return ""
	}

	for _, claim := range []string{"sub", "user_id", "uid"} {
		if v, ok := claims[claim]; ok {
			if s := fmt.Sprintf("%v", v); s != "" {
				return s
			}
		}
	}
	return ""
}

// Authenticate resolves a principal from either scheme, preferring the
// API key when both are present. Returns ErrUnauthenticated if neither
// yields an identity.
func (a *Authenticator) Authenticate(apiKey, authorizationHeader string) (string, error) {
	if principal := a.AuthenticateAPIKey(apiKey); principal != "" {
		return principal, nil
	}
	if principal := a.AuthenticateBearer(authorizationHeader); principal != "" {
		return principal, nil
	}
	return "", ErrUnauthenticated
}
